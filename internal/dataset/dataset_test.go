package dataset

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *Dataset {
	return MustNew(
		&Column{Name: "region", Type: String, Values: []any{"N", "S", "N", nil}},
		&Column{Name: "revenue", Type: Float64, Values: []any{10.0, 20.0, 30.0, math.NaN()}},
		&Column{Name: "units", Type: Int64, Values: []any{int64(1), int64(2), int64(3), int64(4)}},
	)
}

func TestNew(t *testing.T) {
	t.Run("length mismatch", func(t *testing.T) {
		_, err := New(
			&Column{Name: "a", Values: []any{1}},
			&Column{Name: "b", Values: []any{1, 2}},
		)
		require.ErrorIs(t, err, ErrColumnLength)
	})

	t.Run("duplicate name", func(t *testing.T) {
		_, err := New(
			&Column{Name: "a", Values: []any{1}},
			&Column{Name: "a", Values: []any{2}},
		)
		require.ErrorIs(t, err, ErrDuplicateColumn)
	})

	t.Run("empty", func(t *testing.T) {
		ds, err := New()
		require.NoError(t, err)
		assert.Equal(t, 0, ds.NumRows())
		assert.Equal(t, 0, ds.Size())
	})
}

func TestDatasetShape(t *testing.T) {
	ds := sample()

	assert.Equal(t, 4, ds.NumRows())
	assert.Equal(t, 3, ds.NumCols())
	assert.Equal(t, 12, ds.Size())
	assert.Equal(t, 2, ds.NullCount(), "nil and NaN are both missing")
	assert.Equal(t, []string{"region", "revenue", "units"}, ds.ColumnNames())

	col, ok := ds.Column("units")
	require.True(t, ok)
	assert.Equal(t, Int64, col.Type)

	_, ok = ds.Column("missing")
	assert.False(t, ok)
}

func TestDatasetRecords(t *testing.T) {
	ds := sample()
	recs := ds.Records()
	require.Len(t, recs, 4)

	assert.Equal(t, Record{
		{Key: "region", Value: "N"}, {Key: "revenue", Value: 10.0}, {Key: "units", Value: int64(1)},
	}, recs[0])
	region, ok := recs[3].Get("region")
	assert.True(t, ok)
	assert.Nil(t, region)
	revenue, _ := recs[3].Get("revenue")
	assert.Nil(t, revenue, "NaN renders as nil")
}

func TestDatasetHead(t *testing.T) {
	ds := sample()

	assert.Equal(t, 2, ds.Head(2).NumRows())
	assert.Equal(t, 4, ds.Head(10).NumRows())
	assert.Equal(t, 0, ds.Head(-1).NumRows())
	assert.Equal(t, 3, ds.Head(2).NumCols())
}

func TestDatasetClone(t *testing.T) {
	ds := sample()
	clone := ds.Clone()

	clone.Columns[0].Values[0] = "changed"
	clone.Columns[1].Name = "renamed"
	clone.Columns = append(clone.Columns, &Column{Name: "extra", Values: make([]any, 4)})

	assert.Equal(t, "N", ds.Columns[0].Values[0])
	assert.Equal(t, "revenue", ds.Columns[1].Name)
	assert.Equal(t, 3, ds.NumCols())
}

func TestMemoryUsage(t *testing.T) {
	ds := sample()
	small := ds.MemoryUsage()
	assert.Positive(t, small)

	bigger := MustNew(&Column{Name: "s", Type: String, Values: []any{"a long string value", "x", "y", "z"}})
	assert.Greater(t, bigger.MemoryUsage(), int64(128))
}

func TestInferType(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		values []any
		want   DType
	}{
		{"ints", []any{int64(1), nil, int64(3)}, Int64},
		{"mixed numbers", []any{int64(1), 2.5}, Float64},
		{"bools", []any{true, false, nil}, Bool},
		{"times", []any{ts, nil}, Datetime},
		{"strings", []any{"a", "b"}, String},
		{"mixed kinds", []any{"a", int64(1)}, String},
		{"numbers and bools", []any{int64(1), true}, String},
		{"all missing", []any{nil, nil}, Float64},
		{"empty", nil, Float64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferType(tt.values))
		})
	}
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "North", FormatValue("North"))
	assert.Equal(t, "42", FormatValue(int64(42)))
	assert.Equal(t, "2.0", FormatValue(2.0))
	assert.Equal(t, "2.5", FormatValue(2.5))
	assert.Equal(t, "True", FormatValue(true))
	assert.Equal(t, "2024-03-01", FormatValue(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-03-01 10:30:00", FormatValue(time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)))
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, Compare(int64(1), 2.5))
	assert.Equal(t, 0, Compare(int64(2), 2.0))
	assert.Equal(t, 1, Compare("b", "a"))
	assert.Equal(t, -1, Compare(false, true))
	assert.Equal(t, -1, Compare(int64(9), "a"), "numbers order before strings")
}

func TestNormalize(t *testing.T) {
	assert.Nil(t, Normalize(math.NaN()))
	assert.Equal(t, int64(3), Normalize(int32(3)))
	assert.Equal(t, 1.5, Normalize(float32(1.5)))
	assert.Equal(t, "x", Normalize("x"))
}
