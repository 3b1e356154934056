package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChartDescription(t *testing.T) {
	chart, err := NewChartDescription(map[string]any{
		"type":   " Bar ",
		"title":  "Revenue by region",
		"x_key":  "region",
		"y_keys": []any{"revenue"},
		"data":   []any{map[string]any{"region": "North", "revenue": int64(300)}},
	})
	require.NoError(t, err)

	assert.Equal(t, ChartBar, chart.Type)
	assert.Equal(t, "Revenue by region", chart.Title)
	require.NotNil(t, chart.XKey)
	assert.Equal(t, "region", *chart.XKey)
	assert.Equal(t, []string{"revenue"}, chart.YKeys)
	assert.Equal(t, []map[string]any{{"region": "North", "revenue": int64(300)}}, chart.Data)
	assert.Equal(t, map[string]any{}, chart.Config)
}

func TestNewChartDescription_Defaults(t *testing.T) {
	chart, err := NewChartDescription(map[string]any{"type": "pie"})
	require.NoError(t, err)

	assert.Equal(t, ChartPie, chart.Type)
	assert.Empty(t, chart.Title)
	assert.Nil(t, chart.XKey)
	assert.NotNil(t, chart.Data)
	assert.NotNil(t, chart.YKeys)
}

func TestNewChartDescription_FailsClosed(t *testing.T) {
	tests := []struct {
		name      string
		candidate map[string]any
	}{
		{"missing type", map[string]any{"title": "t"}},
		{"unknown type", map[string]any{"type": "donut"}},
		{"non-text type", map[string]any{"type": int64(1)}},
		{"data not a list", map[string]any{"type": "bar", "data": "x"}},
		{"data row not an object", map[string]any{"type": "bar", "data": []any{int64(1)}}},
		{"y_keys not text", map[string]any{"type": "line", "y_keys": []any{int64(1)}}},
		{"config not an object", map[string]any{"type": "line", "config": []any{}}},
		{"title not text", map[string]any{"type": "line", "title": int64(3)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChartDescription(tt.candidate)
			assert.ErrorIs(t, err, ErrInvalidChart)
		})
	}
}

func TestParseChartKind(t *testing.T) {
	for _, k := range chartKinds {
		got, err := ParseChartKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseChartKind("")
	assert.ErrorIs(t, err, ErrInvalidChart)
}
