package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
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
		{"deadline", context.DeadlineExceeded, errs.ErrKindTimeout},
		{"canceled", context.Canceled, errs.ErrKindTimeout},
		{"tx closed", pgx.ErrTxClosed, errs.ErrKindState},
		{"connection failure", &pgconn.PgError{Code: "08006", Message: "gone"}, errs.ErrKindConnection},
		{"bad password", &pgconn.PgError{Code: "28P01", Message: "auth"}, errs.ErrKindConnection},
		{"syntax error", &pgconn.PgError{Code: "42601", Message: "syntax"}, errs.ErrKindQuery},
		{"undefined table", &pgconn.PgError{Code: "42P01", Message: "no table"}, errs.ErrKindQuery},
		{"unique violation", &pgconn.PgError{Code: "23505", Message: "dup"}, errs.ErrKindQuery},
		{"serialization failure", &pgconn.PgError{Code: "40001", Message: "retry"}, errs.ErrKindTransaction},
		{"deadlock", &pgconn.PgError{Code: "40P01", Message: "deadlock"}, errs.ErrKindTransaction},
		{"invalid tx state", &pgconn.PgError{Code: "25P02", Message: "aborted"}, errs.ErrKindTransaction},
		{"plain network error", errors.New("dial tcp: refused"), errs.ErrKindConnection},
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
	assert.Nil(t, mapError(nil, "ignored"))
}

func TestClassifyStateShortCode(t *testing.T) {
	assert.Equal(t, errs.ErrKindQuery, classifyState(""))
	assert.Equal(t, errs.ErrKindQuery, classifyState("4"))
}
