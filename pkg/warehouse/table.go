package warehouse

import (
	"fmt"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Table is the tabular result of one report query. Row order is the order
// the warehouse returned.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Row is a read-only view of one table row.
type Row struct {
	table  *Table
	values []any
}

// NewTable creates a table with the given columns and rows.
func NewTable(columns []string, rows ...[]any) *Table {
	if rows == nil {
		rows = make([][]any, 0, 16)
	}

	return &Table{
		Columns: columns,
		Rows:    rows,
	}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// ColumnIndex returns the position of the named column or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}

	return -1
}

// Row returns a view of row i.
func (t *Table) Row(i int) Row {
	return Row{table: t, values: t.Rows[i]}
}

// Get returns the value of the named column, or nil when absent.
func (r Row) Get(column string) any {
	idx := r.table.ColumnIndex(column)
	if idx < 0 || idx >= len(r.values) {
		return nil
	}

	return r.values[idx]
}

// String returns the formatted value of the named column.
func (r Row) String(column string) string {
	return FormatValue(r.Get(column))
}

// Strings returns every cell of the row formatted for display, in column
// order.
func (r Row) Strings() []string {
	out := make([]string, len(r.table.Columns))

	for i := range out {
		if i < len(r.values) {
			out[i] = FormatValue(r.values[i])
		}
	}

	return out
}

// AddColumn appends a derived column computed from each row. An existing
// column with the same name is overwritten.
func (t *Table) AddColumn(name string, fn func(Row) any) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		t.Columns = append(t.Columns, name)
		idx = len(t.Columns) - 1
	}

	for i := range t.Rows {
		for len(t.Rows[i]) <= idx {
			t.Rows[i] = append(t.Rows[i], nil)
		}

		t.Rows[i][idx] = fn(t.Row(i))
	}
}

// Filter returns a new table holding the rows for which keep returns true.
func (t *Table) Filter(keep func(Row) bool) *Table {
	out := NewTable(append([]string(nil), t.Columns...))

	for i := range t.Rows {
		if keep(t.Row(i)) {
			out.Rows = append(out.Rows, t.Rows[i])
		}
	}

	return out
}

// Records returns every row as a column-name keyed map.
func (t *Table) Records() []map[string]any {
	records := make([]map[string]any, 0, len(t.Rows))

	for _, row := range t.Rows {
		rec := make(map[string]any, len(t.Columns))

		for i, c := range t.Columns {
			if i < len(row) {
				rec[c] = row[i]
			}
		}

		records = append(records, rec)
	}

	return records
}

// Decode decodes every row into out, which must be a pointer to a slice of
// structs tagged with `col:"column_name"`. Decoding is weakly typed because
// NUMERIC columns arrive as strings from the postgres driver.
func (t *Table) Decode(out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		TagName:          "col",
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("creating decoder: %w", err)
	}

	if err := decoder.Decode(t.Records()); err != nil {
		return fmt.Errorf("decoding rows: %w", err)
	}

	return nil
}

// FormatValue renders a cell value for display.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 &&
			val.Nanosecond() == 0 {
			return val.Format(time.DateOnly)
		}

		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}

// normalizeValue converts driver values into JSON and template friendly types.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}

	return v
}
