package session

import (
	"context"
	"sync"
)

// Serialize wraps a Conn with a mutex so that multiple goroutines can share
// a single connection. Every connection and cursor operation takes the same
// lock, which serializes statement execution exactly as the concurrency
// contract requires. Callers that can afford one Conn per worker should
// prefer that instead — this wrapper trades throughput for safety.
func Serialize(c Conn) Conn {
	return &serialConn{inner: c}
}

type serialConn struct {
	mu    sync.Mutex
	inner Conn
}

func (s *serialConn) Cursor() (Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.inner.Cursor()
	if err != nil {
		return nil, err
	}
	return &serialCursor{mu: &s.mu, inner: cur}, nil
}

func (s *serialConn) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Commit(ctx)
}

func (s *serialConn) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Rollback(ctx)
}

func (s *serialConn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Close()
}

func (s *serialConn) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Ping(ctx)
}

func (s *serialConn) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.InTransaction()
}

func (s *serialConn) Target() string { return s.inner.Target() }
func (s *serialConn) ID() string     { return s.inner.ID() }

func (s *serialConn) ListTables(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.ListTables(ctx)
}

func (s *serialConn) TableExists(ctx context.Context, table string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.TableExists(ctx, table)
}

// serialCursor shares its connection's lock, so a fetch on one cursor and an
// execute on another never interleave on the wire.
type serialCursor struct {
	mu    *sync.Mutex
	inner Cursor
}

func (s *serialCursor) Execute(ctx context.Context, stmt string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Execute(ctx, stmt, args...)
}

func (s *serialCursor) FetchOne() (Row, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.FetchOne()
}

func (s *serialCursor) FetchAll() ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.FetchAll()
}

func (s *serialCursor) Columns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Columns()
}

func (s *serialCursor) RowsAffected() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.RowsAffected()
}

func (s *serialCursor) State() CursorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.State()
}

func (s *serialCursor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Close()
}
