package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReturnsRows(t *testing.T) {
	tests := []struct {
		stmt string
		want bool
	}{
		{"SELECT 1", true},
		{"select * from people", true},
		{"  \n\tSELECT 1", true},
		{"-- leading comment\nSELECT 1", true},
		{"/* leading */ SELECT 1", true},
		{"WITH x AS (SELECT 1) SELECT * FROM x", true},
		{"VALUES (1), (2)", true},
		{"EXPLAIN SELECT 1", true},
		{"PRAGMA table_info(people)", true},
		{"SHOW TABLES", true},
		{"INSERT INTO t VALUES (1)", false},
		{"UPDATE t SET a = 1", false},
		{"DELETE FROM t", false},
		{"CREATE TABLE t (id INTEGER)", false},
		{"DROP TABLE t", false},
		{"ALTER TABLE t ADD COLUMN b TEXT", false},
		{"-- only a comment", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.stmt, func(t *testing.T) {
			assert.Equal(t, tt.want, ReturnsRows(tt.stmt))
		})
	}
}

func TestCursorStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "executing", StateExecuting.String())
	assert.Equal(t, "results_available", StateResults.String())
	assert.Equal(t, "drained", StateDrained.String())
	assert.Equal(t, "invalid", CursorState(99).String())
}

func TestDialect(t *testing.T) {
	assert.Equal(t, StyleDollar, DialectPostgres.Placeholder())
	assert.Equal(t, StyleQuestion, DialectSQLite.Placeholder())
	assert.Equal(t, StyleQuestion, DialectMySQL.Placeholder())

	assert.True(t, DialectSQLite.Valid())
	assert.False(t, Dialect("oracle").Valid())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig(DialectSQLite, "test.db")
	assert.Equal(t, DialectSQLite, cfg.Dialect)
	assert.Equal(t, "test.db", cfg.Target)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout)
}
