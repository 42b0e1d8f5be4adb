package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRowAccess(t *testing.T) {
	row := NewRow([]string{"id", "first_name", "has_pet"}, []any{int64(1), "Dan", true})

	assert.Equal(t, 3, row.Len())
	assert.Equal(t, []string{"id", "first_name", "has_pet"}, row.Columns())
	assert.Equal(t, "Dan", row.Value(1))
	assert.Equal(t, []any{int64(1), "Dan", true}, row.Values())

	v, ok := row.Get("first_name")
	assert.True(t, ok)
	assert.Equal(t, "Dan", v)

	_, ok = row.Get("last_name")
	assert.False(t, ok)
}

func TestRowGetDuplicateColumnFirstWins(t *testing.T) {
	row := NewRow([]string{"n", "n"}, []any{1, 2})

	v, ok := row.Get("n")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestRowMap(t *testing.T) {
	row := NewRow([]string{"a", "b"}, []any{"x", int64(2)})
	assert.Equal(t, map[string]any{"a": "x", "b": int64(2)}, row.Map())
}

func TestZeroRow(t *testing.T) {
	var row Row
	assert.Zero(t, row.Len())
	assert.Nil(t, row.Columns())
	_, ok := row.Get("anything")
	assert.False(t, ok)
}
