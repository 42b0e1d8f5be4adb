package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/koustreak/conduit/internal/errs"
)

// mapError translates pgx / pgconn native errors into *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, pgx.ErrTxClosed) {
		return errs.Wrap(errs.ErrKindState, msg, err)
	}

	// Server-side errors carry a SQLSTATE code.
	// https://www.postgresql.org/docs/current/errcodes-appendix.html
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return errs.Wrap(
			classifyState(pgErr.Code),
			fmt.Sprintf("%s: %s", msg, pgErr.Message),
			err,
		)
	}

	// Fallthrough: connection-level errors (TLS, network, auth handshake).
	return errs.Wrap(errs.ErrKindConnection, msg, err)
}

// classifyState maps a SQLSTATE class to ErrKind.
func classifyState(code string) errs.ErrKind {
	if len(code) < 2 {
		return errs.ErrKindQuery
	}
	switch code[:2] {
	case "08": // connection exception
		return errs.ErrKindConnection
	case "28": // invalid authorization specification
		return errs.ErrKindConnection
	case "25", // invalid transaction state
		"2D", // invalid transaction termination
		"40": // transaction rollback (serialization failure, deadlock)
		return errs.ErrKindTransaction
	default:
		// 42 syntax/access, 23 integrity constraint, 22 data exception, …
		return errs.ErrKindQuery
	}
}
