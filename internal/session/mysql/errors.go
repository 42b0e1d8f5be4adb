package mysql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/koustreak/conduit/internal/errs"
)

// mapError translates go-sql-driver/mysql native errors into *errs.Error.
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

	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, mysql.ErrBusyBuffer) {
		return errs.Wrap(errs.ErrKindConnection, msg, err)
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return errs.Wrap(classifyCode(mysqlErr.Number), msg, err)
	}

	// Driver-level network errors (dial failures, dropped sockets).
	return errs.Wrap(errs.ErrKindConnection, msg, err)
}

// classifyCode maps MySQL server error numbers to ErrKind.
func classifyCode(code uint16) errs.ErrKind {
	switch code {
	case 1040, // too many connections
		1044, // access denied for user to database
		1045, // access denied for user (password)
		1046, // no database selected
		1049, // unknown database
		1203: // user already has more than max_user_connections
		return errs.ErrKindConnection
	case 1205, // lock wait timeout
		1213, // deadlock found when trying to get lock
		1180, // got error during COMMIT
		1181: // got error during ROLLBACK
		return errs.ErrKindTransaction
	default:
		// 1054 unknown column, 1064 syntax, 1146 unknown table,
		// 1062/1451/1452 constraint violations, and the rest.
		return errs.ErrKindQuery
	}
}
