package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/koustreak/conduit/internal/errs"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// mapError translates go-sqlite3 native errors into *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return errs.Wrap(errs.ErrKindState, msg, err)
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return errs.Wrap(classifyCode(sqliteErr.Code), msg, err)
	}

	// Anything unrecognised came back from the store during execution.
	return errs.Wrap(errs.ErrKindQuery, msg, err)
}

// classifyCode maps SQLite primary result codes to ErrKind.
func classifyCode(code sqlite3.ErrNo) errs.ErrKind {
	switch code {
	case sqlite3.ErrCantOpen, sqlite3.ErrNotADB, sqlite3.ErrPerm, sqlite3.ErrAuth:
		return errs.ErrKindConnection
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		// Lock contention surfaces at transaction boundaries.
		return errs.ErrKindTransaction
	default:
		// Syntax errors, constraint violations, type mismatches.
		return errs.ErrKindQuery
	}
}
