package session

// Row is one result row: an ordered sequence of values paired with the
// column names of the result set. It decouples callers from positional
// fragility — values can be read by index or by column name.
//
// A Row is immutable once built and safe to share across goroutines.
type Row struct {
	columns []string
	values  []any
}

// NewRow pairs column names with values. The two slices must be the same
// length; they are retained, not copied, so callers must not mutate them
// after handing them over.
func NewRow(columns []string, values []any) Row {
	return Row{columns: columns, values: values}
}

// Len returns the number of columns in the row.
func (r Row) Len() int {
	return len(r.values)
}

// Columns returns the column names, in result-set order.
func (r Row) Columns() []string {
	return r.columns
}

// Value returns the value at position i.
func (r Row) Value(i int) any {
	return r.values[i]
}

// Values returns all values in result-set order.
func (r Row) Values() []any {
	return r.values
}

// Get looks a value up by column name. The second return value is false
// when the result set has no such column. When a statement selects the
// same name twice, the first occurrence wins.
func (r Row) Get(name string) (any, bool) {
	for i, c := range r.columns {
		if c == name {
			return r.values[i], true
		}
	}
	return nil, false
}

// Map returns the row as a column-name → value map, in the shape most
// encoders (JSON, templates) want. Duplicate column names collapse to the
// last occurrence.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.columns))
	for i, c := range r.columns {
		m[c] = r.values[i]
	}
	return m
}
