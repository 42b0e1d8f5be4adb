// Package sqlite provides a SQLite implementation of session.Conn backed by
// database/sql and mattn/go-sqlite3.
//
// The target is a file path (e.g. "test.db") or ":memory:". Each Conn pins
// exactly one underlying connection, so transaction state is never smeared
// across pooled connections.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/koustreak/conduit/internal/errs"
	"github.com/koustreak/conduit/internal/logger"
	"github.com/koustreak/conduit/internal/session"

	_ "github.com/mattn/go-sqlite3" // register "sqlite3" driver
)

// Conn is a single open SQLite session. It is NOT safe for concurrent use;
// wrap it with session.Serialize to share it across goroutines.
type Conn struct {
	id     string
	target string
	log    *logger.Logger

	mu      sync.Mutex
	db      *sql.DB
	conn    *sql.Conn
	tx      *sql.Tx
	closed  bool
	cursors map[*Cursor]struct{}
}

var _ session.Conn = (*Conn)(nil)

// Connect opens a session to the SQLite database at cfg.Target and verifies
// it with a ping before returning.
func Connect(ctx context.Context, cfg *session.Config, log *logger.Logger) (*Conn, error) {
	if log == nil {
		log = logger.Nop()
	}

	db, err := sql.Open("sqlite3", cfg.Target)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnection, "invalid target", err)
	}
	db.SetMaxOpenConns(1)

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, errs.Wrap(errs.ErrKindConnection, "failed to open session", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, errs.Wrap(errs.ErrKindConnection, "store unreachable", err)
	}

	c := &Conn{
		id:      uuid.NewString(),
		target:  cfg.Target,
		db:      db,
		conn:    conn,
		cursors: make(map[*Cursor]struct{}),
	}
	c.log = log.Named("sqlite").Str("conn_id", c.id)
	c.log.Debug("session opened")
	return c, nil
}

// --- session.Conn implementation ---

// Cursor creates a new execution context bound to this connection.
func (c *Conn) Cursor() (session.Cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errs.New(errs.ErrKindState, "connection is closed")
	}
	cur := &Cursor{conn: c, state: session.StateIdle}
	c.cursors[cur] = struct{}{}
	return cur, nil
}

// Commit makes all statements executed since the last Commit/Rollback durable.
func (c *Conn) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errs.New(errs.ErrKindState, "connection is closed")
	}
	if c.tx == nil {
		return errs.New(errs.ErrKindTransaction, "no active transaction")
	}

	c.invalidateResultsLocked()
	err := c.tx.Commit()
	c.tx = nil
	if err != nil {
		return errs.Wrap(errs.ErrKindTransaction, "commit failed", err)
	}
	c.log.Debug("transaction committed")
	return nil
}

// Rollback discards all statements executed since the last Commit/Rollback.
// With no transaction pending it is a no-op.
func (c *Conn) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errs.New(errs.ErrKindState, "connection is closed")
	}
	if c.tx == nil {
		return nil
	}

	c.invalidateResultsLocked()
	err := c.tx.Rollback()
	c.tx = nil
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return errs.Wrap(errs.ErrKindTransaction, "rollback failed", err)
	}
	c.log.Debug("transaction rolled back")
	return nil
}

// Close releases the session. A pending transaction is rolled back first so
// no write is silently half-applied. Closing twice is a no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}

	for cur := range c.cursors {
		cur.discardLocked()
		cur.closed = true
	}
	c.cursors = nil

	if c.tx != nil {
		if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			c.log.Warnf("rollback on close failed: %v", err)
		} else {
			c.log.Debug("pending transaction rolled back on close")
		}
		c.tx = nil
	}

	if err := c.conn.Close(); err != nil {
		c.log.Warnf("closing connection failed: %v", err)
	}
	if err := c.db.Close(); err != nil {
		c.log.Warnf("closing database handle failed: %v", err)
	}
	c.closed = true
	c.log.Debug("session closed")
	return nil
}

// Ping verifies the store is reachable over this connection.
func (c *Conn) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errs.New(errs.ErrKindState, "connection is closed")
	}
	if err := c.conn.PingContext(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// InTransaction reports whether a transaction is pending.
func (c *Conn) InTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx != nil
}

// Target returns the file path or ":memory:" this session was opened with.
func (c *Conn) Target() string { return c.target }

// ID returns the unique identifier assigned to this connection.
func (c *Conn) ID() string { return c.id }

// ListTables returns all user-defined table names, sorted.
func (c *Conn) ListTables(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errs.New(errs.ErrKindState, "connection is closed")
	}

	const q = `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table'
		  AND name NOT LIKE 'sqlite_%'
		ORDER BY name`

	rows, err := c.querierLocked().QueryContext(ctx, q)
	if err != nil {
		return nil, mapError(err, "failed to list tables")
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, mapError(err, "failed to scan table name")
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "error iterating tables")
	}
	return tables, nil
}

// TableExists reports whether a table with the given name exists.
func (c *Conn) TableExists(ctx context.Context, table string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, errs.New(errs.ErrKindState, "connection is closed")
	}

	const q = `SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?`

	var exists int
	err := c.querierLocked().QueryRowContext(ctx, q, table).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, mapError(err, "failed to check table existence")
	}
	return true, nil
}

// --- internals ---

// querier is the subset of *sql.Conn / *sql.Tx the introspection queries need.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// querierLocked routes reads through the active transaction when one is
// pending, so introspection sees uncommitted DDL.
func (c *Conn) querierLocked() querier {
	if c.tx != nil {
		return c.tx
	}
	return c.conn
}

// beginLocked lazily starts the transaction the next statements run in.
func (c *Conn) beginLocked(ctx context.Context) (*sql.Tx, error) {
	if c.tx != nil {
		return c.tx, nil
	}
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapError(err, "failed to begin transaction")
	}
	c.tx = tx
	c.log.Debug("transaction started")
	return tx, nil
}

// invalidateResultsLocked drops every cursor's open result set. Called
// before Commit/Rollback — database/sql invalidates rows belonging to an
// ended transaction anyway, this just makes the teardown deterministic.
func (c *Conn) invalidateResultsLocked() {
	for cur := range c.cursors {
		cur.discardLocked()
	}
}

// Cursor executes one statement at a time against its owning Conn.
type Cursor struct {
	conn     *Conn
	state    session.CursorState
	rows     *sql.Rows
	columns  []string
	affected int64
	closed   bool
}

var _ session.Cursor = (*Cursor)(nil)

// Execute binds args positionally into stmt and submits it to SQLite.
func (cur *Cursor) Execute(ctx context.Context, stmt string, args ...any) error {
	c := cur.conn
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur.closed {
		return errs.New(errs.ErrKindState, "cursor is closed")
	}
	if c.closed {
		return errs.New(errs.ErrKindState, "connection is closed")
	}
	// Enforced before the transaction starts, so a mismatch leaves the
	// connection's transaction state untouched.
	if err := session.CheckBinding(stmt, session.StyleQuestion, args); err != nil {
		return err
	}

	cur.discardLocked()
	cur.state = session.StateExecuting

	tx, err := c.beginLocked(ctx)
	if err != nil {
		cur.state = session.StateIdle
		return err
	}

	if session.ReturnsRows(stmt) {
		rows, err := tx.QueryContext(ctx, stmt, args...)
		if err != nil {
			cur.state = session.StateIdle
			return mapError(err, "query failed")
		}
		cols, err := rows.Columns()
		if err != nil {
			_ = rows.Close()
			cur.state = session.StateIdle
			return mapError(err, "failed to read result columns")
		}
		cur.rows = rows
		cur.columns = cols
		cur.affected = 0
		cur.state = session.StateResults
		return nil
	}

	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		cur.state = session.StateIdle
		return mapError(err, "execute failed")
	}
	if n, err := res.RowsAffected(); err == nil {
		cur.affected = n
	}
	cur.columns = nil
	cur.state = session.StateIdle
	return nil
}

// FetchOne returns the next unconsumed row; ok is false at end of results.
func (cur *Cursor) FetchOne() (session.Row, bool, error) {
	c := cur.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	return cur.fetchOneLocked()
}

// FetchAll consumes and returns all remaining rows.
func (cur *Cursor) FetchAll() ([]session.Row, error) {
	c := cur.conn
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]session.Row, 0)
	for {
		row, ok, err := cur.fetchOneLocked()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, row)
	}
}

// Columns returns the column names of the current result set.
func (cur *Cursor) Columns() []string {
	cur.conn.mu.Lock()
	defer cur.conn.mu.Unlock()
	return cur.columns
}

// RowsAffected returns the row count of the last non-select statement.
func (cur *Cursor) RowsAffected() int64 {
	cur.conn.mu.Lock()
	defer cur.conn.mu.Unlock()
	return cur.affected
}

// State returns the cursor's position in its lifecycle.
func (cur *Cursor) State() session.CursorState {
	cur.conn.mu.Lock()
	defer cur.conn.mu.Unlock()
	return cur.state
}

// Close releases the cursor's result buffer. Idempotent.
func (cur *Cursor) Close() error {
	c := cur.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur.closed {
		return nil
	}
	cur.discardLocked()
	cur.closed = true
	if c.cursors != nil {
		delete(c.cursors, cur)
	}
	return nil
}

func (cur *Cursor) fetchOneLocked() (session.Row, bool, error) {
	if cur.closed {
		return session.Row{}, false, errs.New(errs.ErrKindState, "cursor is closed")
	}
	if cur.conn.closed {
		return session.Row{}, false, errs.New(errs.ErrKindState, "connection is closed")
	}

	switch cur.state {
	case session.StateDrained:
		// End of results is a normal termination signal, not an error,
		// no matter how often the caller asks again.
		return session.Row{}, false, nil

	case session.StateResults:
		if cur.rows.Next() {
			values, err := scanValues(cur.rows, len(cur.columns))
			if err != nil {
				cur.discardLocked()
				return session.Row{}, false, mapError(err, "failed to scan row")
			}
			return session.NewRow(cur.columns, values), true, nil
		}
		err := cur.rows.Err()
		_ = cur.rows.Close()
		cur.rows = nil
		cur.state = session.StateDrained
		if err != nil {
			return session.Row{}, false, mapError(err, "row iteration failed")
		}
		return session.Row{}, false, nil

	default:
		return session.Row{}, false, errs.New(errs.ErrKindState, "no result set to fetch from")
	}
}

// discardLocked drops the pending result set, if any, and parks the cursor.
func (cur *Cursor) discardLocked() {
	if cur.rows != nil {
		_ = cur.rows.Close()
		cur.rows = nil
		cur.state = session.StateDrained
	}
}

// scanValues reads the current row into a []any, one slot per column.
func scanValues(rows *sql.Rows, n int) ([]any, error) {
	values := make([]any, n)
	ptrs := make([]any, n)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return values, nil
}
