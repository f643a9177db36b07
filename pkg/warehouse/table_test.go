package warehouse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func madTable() *Table {
	return NewTable(
		[]string{"collection_set", "carrier", "test_type_id", "acc", "n_grp"},
		[]any{"MKT-2025-1H", "Verizon", int64(19), "12.50", int64(24)},
		[]any{"MKT-2025-2H", "T-Mobile", int64(20), 3.5, int64(31)},
		[]any{"MKT-LEGACY", "AT&T", int64(19), nil, nil},
	)
}

func TestTable_ColumnIndex(t *testing.T) {
	table := madTable()

	assert.Equal(t, 0, table.ColumnIndex("collection_set"))
	assert.Equal(t, 3, table.ColumnIndex("acc"))
	assert.Equal(t, -1, table.ColumnIndex("task"))
}

func TestTable_AddColumn(t *testing.T) {
	table := madTable()

	table.AddColumn("upper", func(r Row) any {
		return r.String("carrier") + "!"
	})

	require.Equal(t, 6, len(table.Columns))
	assert.Equal(t, "Verizon!", table.Row(0).Get("upper"))
	assert.Equal(t, "AT&T!", table.Row(2).Get("upper"))

	// Re-adding overwrites in place.
	table.AddColumn("upper", func(_ Row) any { return "x" })
	assert.Equal(t, 6, len(table.Columns))
	assert.Equal(t, "x", table.Row(1).Get("upper"))
}

func TestTable_Filter(t *testing.T) {
	table := madTable()

	only19 := table.Filter(func(r Row) bool {
		return r.Get("test_type_id") == int64(19)
	})

	require.Equal(t, 2, only19.Len())
	assert.Equal(t, "Verizon", only19.Row(0).Get("carrier"))
	assert.Equal(t, 3, table.Len(), "source table is not modified")

	none := table.Filter(func(_ Row) bool { return false })
	assert.Equal(t, 0, none.Len())
	assert.Equal(t, table.Columns, none.Columns)
}

func TestTable_Decode(t *testing.T) {
	type madRow struct {
		CollectionSet string  `col:"collection_set"`
		Carrier       string  `col:"carrier"`
		TestTypeID    int     `col:"test_type_id"`
		Acc           float64 `col:"acc"`
		NGrp          int     `col:"n_grp"`
	}

	var rows []madRow
	require.NoError(t, madTable().Decode(&rows))
	require.Len(t, rows, 3)

	assert.Equal(t, madRow{
		CollectionSet: "MKT-2025-1H", Carrier: "Verizon", TestTypeID: 19, Acc: 12.5, NGrp: 24,
	}, rows[0])
	assert.Equal(t, 3.5, rows[1].Acc)
	assert.Equal(t, 0.0, rows[2].Acc, "NULL decodes to zero")
}

func TestTable_DecodeRejectsGarbage(t *testing.T) {
	type row struct {
		Acc float64 `col:"acc"`
	}

	table := NewTable([]string{"acc"}, []any{"not-a-number"})

	var rows []row
	require.Error(t, table.Decode(&rows))
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{name: "nil", value: nil, want: ""},
		{name: "string", value: "0605", want: "0605"},
		{name: "bytes", value: []byte("5.00"), want: "5.00"},
		{name: "int", value: int64(190), want: "190"},
		{name: "float", value: 5.0, want: "5"},
		{name: "fraction", value: -2.75, want: "-2.75"},
		{name: "bool", value: true, want: "true"},
		{name: "date", value: time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC), want: "2025-06-05"},
		{name: "timestamp", value: time.Date(2025, 6, 5, 13, 4, 5, 0, time.UTC), want: "2025-06-05T13:04:05Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.value))
		})
	}
}

func TestRow_Strings(t *testing.T) {
	table := madTable()

	assert.Equal(t,
		[]string{"MKT-LEGACY", "AT&T", "19", "", ""},
		table.Row(2).Strings())

	short := NewTable([]string{"a", "b"}, []any{int64(1)})
	assert.Equal(t, []string{"1", ""}, short.Row(0).Strings())
}
