// Package mysql provides a MySQL implementation of session.Conn backed by
// database/sql and go-sql-driver/mysql.
//
// The target is a full DSN, e.g. "user:pass@tcp(host:3306)/dbname?parseTime=true".
// Each Conn pins exactly one underlying connection, so transaction state is
// never smeared across pooled connections.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/koustreak/conduit/internal/errs"
	"github.com/koustreak/conduit/internal/logger"
	"github.com/koustreak/conduit/internal/session"

	_ "github.com/go-sql-driver/mysql" // register "mysql" driver
)

// Conn is a single open MySQL session. It is NOT safe for concurrent use;
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

// Connect opens a session to the MySQL server at cfg.Target and verifies it
// with a ping before returning.
func Connect(ctx context.Context, cfg *session.Config, log *logger.Logger) (*Conn, error) {
	if log == nil {
		log = logger.Nop()
	}

	db, err := sql.Open("mysql", cfg.Target)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnection, "invalid DSN", err)
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
		return nil, mapError(err, "failed to open session")
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, mapError(err, "store unreachable")
	}

	c := &Conn{
		id:      uuid.NewString(),
		target:  cfg.Target,
		db:      db,
		conn:    conn,
		cursors: make(map[*Cursor]struct{}),
	}
	c.log = log.Named("mysql").Str("conn_id", c.id)
	c.log.Debug("session opened")
	return c, nil
}

// --- session.Conn implementation ---

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

func (c *Conn) InTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx != nil
}

func (c *Conn) Target() string { return c.target }
func (c *Conn) ID() string     { return c.id }

func (c *Conn) ListTables(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errs.New(errs.ErrKindState, "connection is closed")
	}

	const q = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
		  AND table_type   = 'BASE TABLE'
		ORDER BY table_name`

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

func (c *Conn) TableExists(ctx context.Context, table string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, errs.New(errs.ErrKindState, "connection is closed")
	}

	const q = `
		SELECT 1
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
		  AND table_type   = 'BASE TABLE'
		  AND table_name   = ?`

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

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (c *Conn) querierLocked() querier {
	if c.tx != nil {
		return c.tx
	}
	return c.conn
}

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

func (c *Conn) invalidateResultsLocked() {
	for cur := range c.cursors {
		cur.discardLocked()
	}
}

// Cursor executes one statement at a time against its owning Conn.
//
// Note: MySQL auto-commits DDL regardless of the surrounding transaction.
// This layer forwards statements verbatim and does not mask that behavior.
type Cursor struct {
	conn     *Conn
	state    session.CursorState
	rows     *sql.Rows
	columns  []string
	affected int64
	closed   bool
}

var _ session.Cursor = (*Cursor)(nil)

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

func (cur *Cursor) FetchOne() (session.Row, bool, error) {
	cur.conn.mu.Lock()
	defer cur.conn.mu.Unlock()
	return cur.fetchOneLocked()
}

func (cur *Cursor) FetchAll() ([]session.Row, error) {
	cur.conn.mu.Lock()
	defer cur.conn.mu.Unlock()

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

func (cur *Cursor) Columns() []string {
	cur.conn.mu.Lock()
	defer cur.conn.mu.Unlock()
	return cur.columns
}

func (cur *Cursor) RowsAffected() int64 {
	cur.conn.mu.Lock()
	defer cur.conn.mu.Unlock()
	return cur.affected
}

func (cur *Cursor) State() session.CursorState {
	cur.conn.mu.Lock()
	defer cur.conn.mu.Unlock()
	return cur.state
}

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

func (cur *Cursor) discardLocked() {
	if cur.rows != nil {
		_ = cur.rows.Close()
		cur.rows = nil
		cur.state = session.StateDrained
	}
}

// scanValues reads the current row into a []any. The MySQL driver hands
// text columns back as []byte; normalize those to string so rows compare
// and encode the same across drivers.
func scanValues(rows *sql.Rows, n int) ([]any, error) {
	values := make([]any, n)
	ptrs := make([]any, n)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	for i, v := range values {
		if b, ok := v.([]byte); ok {
			values[i] = string(b)
		}
	}
	return values, nil
}
