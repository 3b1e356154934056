package decoder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leapstack-labs/datalens/internal/adapter"
	"github.com/leapstack-labs/datalens/internal/dataset"
	"github.com/leapstack-labs/datalens/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestDetectFileKind(t *testing.T) {
	tests := []struct {
		filename string
		want     dataset.FileKind
		wantErr  bool
	}{
		{"sales.csv", dataset.FileCSV, false},
		{"SALES.CSV", dataset.FileCSV, false},
		{"data.tsv", dataset.FileTSV, false},
		{"book.xlsx", dataset.FileExcel, false},
		{"rows.json", dataset.FileJSON, false},
		{"part.parquet", dataset.FileParquet, false},
		{"old.xls", "", true},
		{"notes.txt", "", true},
		{"noext", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got, err := DetectFileKind(tt.filename)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedFileType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func newDecoder(t *testing.T) *Decoder {
	t.Helper()
	d, err := New(context.Background(), adapter.Config{}, testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDecode_CSV(t *testing.T) {
	d := newDecoder(t)
	path := writeFile(t, "sales.csv", "region,revenue\nNorth,100\nSouth,\n")

	ds, err := d.Decode(context.Background(), path, dataset.FileCSV)
	require.NoError(t, err)
	assert.Equal(t, []string{"region", "revenue"}, ds.ColumnNames())
	revenue, _ := ds.Column("revenue")
	assert.Equal(t, dataset.Int64, revenue.Type)
	assert.Equal(t, []any{int64(100), nil}, revenue.Values)
}

func TestDecode_TSV(t *testing.T) {
	d := newDecoder(t)
	path := writeFile(t, "sales.tsv", "region\tunits\nNorth\t1.5\n")

	ds, err := d.Decode(context.Background(), path, dataset.FileTSV)
	require.NoError(t, err)
	units, _ := ds.Column("units")
	assert.Equal(t, []any{1.5}, units.Values)
}

func TestDecode_Errors(t *testing.T) {
	d := newDecoder(t)

	_, err := d.Decode(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), dataset.FileCSV)
	assert.Error(t, err)

	_, err = d.Decode(context.Background(), "x.bin", dataset.FileKind("binary"))
	assert.ErrorIs(t, err, ErrUnsupportedFileType)
}

func TestDecode_Excel(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"region", "revenue", "", "region", "active", "price"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"North", 100, "x", "N", true, 1.5}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]any{"South", nil, "y", "S", false, 2}))
	path := filepath.Join(t.TempDir(), "book.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	d := newDecoder(t)
	ds, err := d.Decode(context.Background(), path, dataset.FileExcel)
	require.NoError(t, err)

	assert.Equal(t, []string{"region", "revenue", "Unnamed: 2", "region.1", "active", "price"}, ds.ColumnNames())
	assert.Equal(t, 2, ds.NumRows())

	revenue, _ := ds.Column("revenue")
	assert.Equal(t, dataset.Int64, revenue.Type)
	assert.Equal(t, []any{int64(100), nil}, revenue.Values)

	active, _ := ds.Column("active")
	assert.Equal(t, dataset.Bool, active.Type)
	assert.Equal(t, []any{true, false}, active.Values)

	price, _ := ds.Column("price")
	assert.Equal(t, dataset.Float64, price.Type)
	assert.Equal(t, []any{1.5, 2.0}, price.Values)
}

func TestFromRows(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		ds, err := fromRows(nil)
		require.NoError(t, err)
		assert.Equal(t, 0, ds.NumCols())
	})

	t.Run("ragged rows are padded", func(t *testing.T) {
		ds, err := fromRows([][]string{
			{"a", "b"},
			{"1"},
			{"2", "x", "extra"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "Unnamed: 2"}, ds.ColumnNames())
		b, _ := ds.Column("b")
		assert.Equal(t, []any{nil, "x"}, b.Values)
		extra, _ := ds.Column("Unnamed: 2")
		assert.Equal(t, []any{nil, "extra"}, extra.Values)
	})

	t.Run("dates", func(t *testing.T) {
		ds, err := fromRows([][]string{{"when"}, {"2024-01-15"}, {""}})
		require.NoError(t, err)
		when, _ := ds.Column("when")
		assert.Equal(t, dataset.Datetime, when.Type)
		assert.Equal(t, []any{time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), nil}, when.Values)
	})

	t.Run("header only", func(t *testing.T) {
		ds, err := fromRows([][]string{{"a", "b"}})
		require.NoError(t, err)
		assert.Equal(t, 0, ds.NumRows())
		assert.Equal(t, 2, ds.NumCols())
	})
}

func TestInferColumn(t *testing.T) {
	tests := []struct {
		name  string
		cells []string
		want  dataset.DType
	}{
		{"ints", []string{"1", "-2", ""}, dataset.Int64},
		{"floats", []string{"1", "2.5"}, dataset.Float64},
		{"bools", []string{"TRUE", "false"}, dataset.Bool},
		{"mixed", []string{"1", "a"}, dataset.String},
		{"blank", []string{"", " "}, dataset.Float64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, values := inferColumn(tt.cells)
			assert.Equal(t, tt.want, got)
			assert.Len(t, values, len(tt.cells))
		})
	}
}
