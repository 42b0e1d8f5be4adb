// Package session defines the dialect-agnostic contract for Conduit's
// database access layer: a lifecycle-scoped connection with explicit
// transaction boundaries, and cursors that execute parameterized statements
// and iterate results.
//
// All layers above this package talk only to these interfaces — they never
// import the sqlite, mysql or postgres packages directly.
package session

import (
	"context"
	"strings"
	"time"
	"unicode"
)

// Dialect identifies the database engine.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
)

// Placeholder returns the bind placeholder style used by the dialect.
func (d Dialect) Placeholder() PlaceholderStyle {
	if d == DialectPostgres {
		return StyleDollar
	}
	return StyleQuestion
}

// Valid reports whether d names a supported engine.
func (d Dialect) Valid() bool {
	switch d {
	case DialectSQLite, DialectMySQL, DialectPostgres:
		return true
	}
	return false
}

// Config holds all settings needed to open a session to a database.
type Config struct {
	// Dialect is the database engine (e.g. DialectSQLite).
	Dialect Dialect

	// Target is the opaque store identifier: a file path for SQLite,
	// a DSN for MySQL, a connection string for Postgres. It is validated
	// only by the store, never by this layer.
	Target string

	// ConnectTimeout is the time limit for establishing the session.
	ConnectTimeout time.Duration

	// QueryTimeout is the default per-statement deadline, applied by
	// callers that have no more specific context.
	QueryTimeout time.Duration
}

// DefaultConfig returns sensible settings for the given dialect and target.
func DefaultConfig(dialect Dialect, target string) *Config {
	return &Config{
		Dialect:        dialect,
		Target:         target,
		ConnectTimeout: 10 * time.Second,
		QueryTimeout:   30 * time.Second,
	}
}

// Conn is a single open session to a relational store.
//
// A Conn and the Cursors created from it are a single-goroutine resource:
// concurrent statement execution on the same Conn must be serialized by the
// caller (one Conn per worker, or wrap it with Serialize). Distinct Conns are
// fully independent.
//
// The first Execute on any of the Conn's cursors implicitly begins a
// transaction; Commit and Rollback end it. Closing a Conn with a pending
// transaction rolls it back.
type Conn interface {
	// Cursor creates a new execution context bound to this connection.
	// Fails with a state error when the connection is closed.
	Cursor() (Cursor, error)

	// Commit makes all statements executed since the last Commit/Rollback
	// durable. Fails with a transaction error when no transaction is active
	// or the store rejects the commit.
	Commit(ctx context.Context) error

	// Rollback discards all statements executed since the last
	// Commit/Rollback. Succeeds (as a no-op) when no transaction is active;
	// fails with a state error when the connection is closed.
	Rollback(ctx context.Context) error

	// Close releases the connection, rolling back any pending transaction
	// and closing any open cursors. Closing twice is a no-op.
	Close() error

	// Ping verifies the store is reachable over this connection.
	Ping(ctx context.Context) error

	// InTransaction reports whether a transaction is pending.
	InTransaction() bool

	// Target returns the store identifier this connection was opened with.
	Target() string

	// ID returns the unique identifier assigned to this connection,
	// used for log correlation.
	ID() string

	// ListTables returns all user-defined table names, sorted.
	ListTables(ctx context.Context) ([]string, error)

	// TableExists reports whether a table with the given name exists.
	TableExists(ctx context.Context, table string) (bool, error)
}

// Cursor executes one statement at a time and exposes its results as a
// finite, forward-only, non-restartable sequence.
type Cursor interface {
	// Execute binds args positionally into stmt and submits it to the store.
	// The bind values never touch the statement text — they travel to the
	// store out of band, which is what makes the layer injection-safe.
	//
	// Fails with a binding-mismatch error, before any transaction is
	// started, when the placeholder count differs from len(args). Fails
	// with a state error when the cursor or its connection is closed, and
	// with a query error for any store-reported failure. On failure the
	// cursor returns to idle without exposing partial results.
	Execute(ctx context.Context, stmt string, args ...any) error

	// FetchOne returns the next unconsumed row. The second return value is
	// false once the result set is exhausted; repeated calls after
	// exhaustion keep returning false without error.
	FetchOne() (Row, bool, error)

	// FetchAll consumes and returns all remaining rows, draining the
	// cursor. The returned slice is non-nil even when empty, and is safe
	// to hand off to other goroutines once returned.
	FetchAll() ([]Row, error)

	// Columns returns the column names of the current result set,
	// or nil when the last statement returned no rows.
	Columns() []string

	// RowsAffected returns the number of rows changed by the last
	// non-select statement.
	RowsAffected() int64

	// State returns the cursor's position in its lifecycle.
	State() CursorState

	// Close releases the cursor's result buffer. Idempotent.
	Close() error
}

// CursorState tracks a cursor through its lifecycle.
type CursorState int

const (
	// StateIdle means no result set is pending. Execute is legal.
	StateIdle CursorState = iota

	// StateExecuting means a statement is in flight.
	StateExecuting

	// StateResults means a select-type statement succeeded and rows
	// remain to be fetched.
	StateResults

	// StateDrained means the result set has been fully consumed.
	StateDrained
)

func (s CursorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExecuting:
		return "executing"
	case StateResults:
		return "results_available"
	case StateDrained:
		return "drained"
	default:
		return "invalid"
	}
}

// rowKeywords are the leading keywords of statements that produce a result
// set. Everything else goes through the store's exec path.
var rowKeywords = map[string]bool{
	"SELECT":  true,
	"WITH":    true,
	"VALUES":  true,
	"EXPLAIN": true,
	"PRAGMA":  true,
	"SHOW":    true,
}

// ReturnsRows reports whether stmt is a select-type statement.
// Classification is by leading keyword; leading whitespace and SQL comments
// are skipped first.
func ReturnsRows(stmt string) bool {
	rest := skipLeadingTrivia(stmt)

	var kw strings.Builder
	for _, r := range rest {
		if !unicode.IsLetter(r) {
			break
		}
		kw.WriteRune(unicode.ToUpper(r))
	}
	return rowKeywords[kw.String()]
}

// skipLeadingTrivia strips leading whitespace, line comments and block
// comments from a statement.
func skipLeadingTrivia(stmt string) string {
	s := stmt
	for {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		switch {
		case strings.HasPrefix(s, "--"):
			if i := strings.IndexByte(s, '\n'); i >= 0 {
				s = s[i+1:]
			} else {
				return ""
			}
		case strings.HasPrefix(s, "/*"):
			if i := strings.Index(s, "*/"); i >= 0 {
				s = s[i+2:]
			} else {
				return ""
			}
		default:
			return s
		}
	}
}
