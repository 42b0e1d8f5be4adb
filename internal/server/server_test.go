package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/koustreak/conduit/internal/server"
	"github.com/koustreak/conduit/internal/session"
	"github.com/koustreak/conduit/internal/session/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	return newTestServerCfg(t, nil)
}

func newTestServerCfg(t *testing.T, cfg *server.Config) *httptest.Server {
	t.Helper()

	conn, err := sqlite.Connect(context.Background(), session.DefaultConfig(session.DialectSQLite, ":memory:"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ts := httptest.NewServer(server.New(session.Serialize(conn), nil, cfg, nil).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode(t, resp)["status"])
}

func TestQueryWriteThenRead(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/query", map[string]any{
		"sql":    "CREATE TABLE people (first_name TEXT, has_pet BOOLEAN)",
		"commit": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/query", map[string]any{
		"sql":    "INSERT INTO people(first_name, has_pet) VALUES (?, ?)",
		"args":   []any{"Dan", true},
		"commit": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, float64(1), body["rows_affected"])
	assert.Equal(t, true, body["committed"])

	resp = postJSON(t, ts.URL+"/query", map[string]any{
		"sql":  "SELECT first_name FROM people WHERE has_pet = ?",
		"args": []any{true},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decode(t, resp)
	assert.Equal(t, []any{"first_name"}, body["columns"])
	assert.Equal(t, []any{[]any{"Dan"}}, body["rows"])
}

func TestQueryWithoutCommitRollsBack(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/query", map[string]any{
		"sql":    "CREATE TABLE t (a INTEGER)",
		"commit": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// No commit flag: the write is rolled back at the end of the request.
	resp = postJSON(t, ts.URL+"/query", map[string]any{
		"sql":  "INSERT INTO t VALUES (?)",
		"args": []any{1},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/query", map[string]any{
		"sql": "SELECT count(*) FROM t",
	})
	body := decode(t, resp)
	assert.Equal(t, []any{[]any{float64(0)}}, body["rows"])
}

func TestConcurrentQueryTransactionIsolation(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/query", map[string]any{
		"sql":    "CREATE TABLE entries (n INTEGER)",
		"commit": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Half the writers commit, half rely on the end-of-request rollback.
	// Each request's execute→commit/rollback window must be isolated: a
	// concurrent commit must never make a rollback-bound insert durable.
	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			raw, err := json.Marshal(map[string]any{
				"sql":    "INSERT INTO entries VALUES (?)",
				"args":   []any{n},
				"commit": n%2 == 0,
			})
			if !assert.NoError(t, err) {
				return
			}
			resp, err := http.Post(ts.URL+"/query", "application/json", bytes.NewReader(raw))
			if !assert.NoError(t, err) {
				return
			}
			defer resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		}(i)
	}
	wg.Wait()

	resp = postJSON(t, ts.URL+"/query", map[string]any{"sql": "SELECT count(*) FROM entries"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{[]any{float64(writers / 2)}}, decode(t, resp)["rows"])
}

// recordingConn logs the order of transaction-window operations so tests can
// assert that two requests never interleave inside the window. Execute stalls
// long enough for an unserialized second request to slip in.
type recordingConn struct {
	mu     sync.Mutex
	events []string
}

func (c *recordingConn) record(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, op)
}

func (c *recordingConn) Cursor() (session.Cursor, error) { return &recordingCursor{conn: c}, nil }
func (c *recordingConn) Commit(context.Context) error    { c.record("end"); return nil }
func (c *recordingConn) Rollback(context.Context) error  { c.record("end"); return nil }
func (c *recordingConn) Close() error                    { return nil }
func (c *recordingConn) Ping(context.Context) error      { return nil }
func (c *recordingConn) InTransaction() bool             { return false }
func (c *recordingConn) Target() string                  { return "recording" }
func (c *recordingConn) ID() string                      { return "recording" }
func (c *recordingConn) ListTables(context.Context) ([]string, error) {
	return nil, nil
}
func (c *recordingConn) TableExists(context.Context, string) (bool, error) {
	return false, nil
}

type recordingCursor struct {
	conn *recordingConn
}

func (cur *recordingCursor) Execute(context.Context, string, ...any) error {
	cur.conn.record("execute")
	time.Sleep(30 * time.Millisecond)
	return nil
}
func (cur *recordingCursor) FetchOne() (session.Row, bool, error) { return session.Row{}, false, nil }
func (cur *recordingCursor) FetchAll() ([]session.Row, error)     { return nil, nil }
func (cur *recordingCursor) Columns() []string                    { return nil }
func (cur *recordingCursor) RowsAffected() int64                  { return 0 }
func (cur *recordingCursor) State() session.CursorState           { return session.StateIdle }
func (cur *recordingCursor) Close() error                         { return nil }

func TestQueryWindowNotInterleaved(t *testing.T) {
	conn := &recordingConn{}
	ts := httptest.NewServer(server.New(conn, nil, nil, nil).Handler())
	t.Cleanup(ts.Close)

	// Two overlapping requests; one commits, one rolls back. Each window
	// must appear in the log as execute immediately followed by its own
	// commit/rollback, never execute, execute.
	var wg sync.WaitGroup
	for _, commit := range []bool{true, false} {
		wg.Add(1)
		go func(commit bool) {
			defer wg.Done()
			raw, err := json.Marshal(map[string]any{"sql": "INSERT INTO t VALUES (1)", "commit": commit})
			if !assert.NoError(t, err) {
				return
			}
			resp, err := http.Post(ts.URL+"/query", "application/json", bytes.NewReader(raw))
			if !assert.NoError(t, err) {
				return
			}
			defer resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		}(commit)
	}
	wg.Wait()

	require.Equal(t, []string{"execute", "end", "execute", "end"}, conn.events)
}

func TestQueryTimeout(t *testing.T) {
	ts := newTestServerCfg(t, &server.Config{QueryTimeout: 50 * time.Millisecond})

	// A statement that cannot finish inside the deadline.
	resp := postJSON(t, ts.URL+"/query", map[string]any{
		"sql": "WITH RECURSIVE c(x) AS (SELECT 1 UNION ALL SELECT x+1 FROM c WHERE x < 1000000000) SELECT count(*) FROM c",
	})
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.Equal(t, "timeout", decode(t, resp)["kind"])
}

func TestTables(t *testing.T) {
	ts := newTestServer(t)

	postJSON(t, ts.URL+"/query", map[string]any{"sql": "CREATE TABLE apple (a INTEGER)", "commit": true})
	postJSON(t, ts.URL+"/query", map[string]any{"sql": "CREATE TABLE zebra (a INTEGER)", "commit": true})

	resp, err := http.Get(ts.URL + "/tables")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"apple", "zebra"}, decode(t, resp)["tables"])
}

func TestQueryErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
		wantKind   string
	}{
		{
			name:       "binding mismatch",
			body:       map[string]any{"sql": "SELECT ?", "args": []any{1, 2}},
			wantStatus: http.StatusBadRequest,
			wantKind:   "binding_mismatch",
		},
		{
			name:       "syntax error",
			body:       map[string]any{"sql": "SELEKT 1"},
			wantStatus: http.StatusBadRequest,
			wantKind:   "query",
		},
		{
			name:       "missing sql",
			body:       map[string]any{"args": []any{1}},
			wantStatus: http.StatusBadRequest,
			wantKind:   "invalid_input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/query", tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantKind, decode(t, resp)["kind"])
		})
	}
}

func TestExportWithoutSink(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/export", map[string]any{"sql": "SELECT 1", "format": "csv"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
