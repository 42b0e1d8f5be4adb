package mysql

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/koustreak/conduit/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errs.ErrKind
	}{
		{"nil deadline", context.DeadlineExceeded, errs.ErrKindTimeout},
		{"canceled", context.Canceled, errs.ErrKindTimeout},
		{"access denied", &mysql.MySQLError{Number: 1045, Message: "access denied"}, errs.ErrKindConnection},
		{"unknown database", &mysql.MySQLError{Number: 1049, Message: "unknown database"}, errs.ErrKindConnection},
		{"syntax error", &mysql.MySQLError{Number: 1064, Message: "syntax"}, errs.ErrKindQuery},
		{"unknown table", &mysql.MySQLError{Number: 1146, Message: "no such table"}, errs.ErrKindQuery},
		{"duplicate key", &mysql.MySQLError{Number: 1062, Message: "duplicate"}, errs.ErrKindQuery},
		{"deadlock", &mysql.MySQLError{Number: 1213, Message: "deadlock"}, errs.ErrKindTransaction},
		{"lock wait timeout", &mysql.MySQLError{Number: 1205, Message: "lock wait"}, errs.ErrKindTransaction},
		{"invalid conn", mysql.ErrInvalidConn, errs.ErrKindConnection},
		{"plain network error", errors.New("dial tcp: connection refused"), errs.ErrKindConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := mapError(tt.err, "op failed")
			require.NotNil(t, mapped)
			assert.Equal(t, tt.want, mapped.Kind)
			assert.ErrorIs(t, mapped, tt.err)
		})
	}
}

func TestMapErrorNil(t *testing.T) {
	var got *errs.Error = mapError(nil, "ignored")
	assert.Nil(t, got)
}

func TestMapErrorSeesThroughWrapping(t *testing.T) {
	inner := &mysql.MySQLError{Number: 1064, Message: "syntax"}
	wrapped := fmt.Errorf("while executing: %w", inner)

	mapped := mapError(wrapped, "execute failed")
	assert.Equal(t, errs.ErrKindQuery, mapped.Kind)
}
