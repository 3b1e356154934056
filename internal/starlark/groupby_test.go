package starlark

import (
	"context"
	"testing"

	"github.com/leapstack-labs/datalens/internal/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupBy_SingleColumnSeries(t *testing.T) {
	got := run(t, `result = df.groupby("region")["units"].sum()`)
	assert.Equal(t, map[string]any{"East": 4.0, "North": 4.5, "South": 2.0}, got)
}

func TestGroupBy_SortedResult(t *testing.T) {
	got := run(t, `
totals = df.groupby("region")["units"].sum().sort_values(ascending=False)
result = totals.index.tolist()
`)
	assert.Equal(t, []any{"North", "East", "South"}, got)
}

func TestGroupBy_ResetIndex(t *testing.T) {
	got := run(t, `result = df.groupby("region")["units"].mean().reset_index()`)
	assert.Equal(t, []any{
		map[string]any{"region": "East", "units": 4.0},
		map[string]any{"region": "North", "units": 2.25},
		map[string]any{"region": "South", "units": 2.0},
	}, got)
}

func TestGroupBy_FrameAggregation(t *testing.T) {
	got := run(t, `result = df.groupby("region").sum()`)
	assert.Equal(t, []any{
		map[string]any{"region": "East", "revenue": int64(0), "units": 4.0},
		map[string]any{"region": "North", "revenue": int64(300), "units": 4.5},
		map[string]any{"region": "South", "revenue": int64(150), "units": 2.0},
	}, got)
}

func TestGroupBy_Size(t *testing.T) {
	got := run(t, `result = df.groupby("region").size()`)
	assert.Equal(t, map[string]any{"East": int64(1), "North": int64(2), "South": int64(1)}, got)

	got = run(t, `result = df.groupby("region").size().reset_index(name="n").columns.tolist()`)
	assert.Equal(t, []any{"region", "n"}, got)
}

func TestGroupBy_Agg(t *testing.T) {
	got := run(t, `result = df.groupby("region").agg(total=("units", "sum"), orders=("revenue", "count"))`)
	assert.Equal(t, []any{
		map[string]any{"region": "East", "total": 4.0, "orders": int64(0)},
		map[string]any{"region": "North", "total": 4.5, "orders": int64(2)},
		map[string]any{"region": "South", "total": 2.0, "orders": int64(1)},
	}, got)

	got = run(t, `result = df.groupby("region")["units"].agg(["min", "max"]).columns.tolist()`)
	assert.Equal(t, []any{"min", "max"}, got)

	got = run(t, `result = df.groupby("region").agg({"units": "max", "revenue": ["sum", "mean"]}).columns.tolist()`)
	assert.Equal(t, []any{"units", "revenue_sum", "revenue_mean"}, got)
}

func TestGroupBy_MultipleKeys(t *testing.T) {
	ds := dataset.MustNew(
		dataset.NewColumn("region", []any{"N", "N", "S", "N"}),
		dataset.NewColumn("year", []any{int64(2024), int64(2023), int64(2024), int64(2024)}),
		dataset.NewColumn("sales", []any{1.0, 2.0, 3.0, 4.0}),
	)
	globals, err := NewContext(ds).Exec(context.Background(), `result = df.groupby(["region", "year"])["sales"].sum()`)
	require.NoError(t, err)
	got, err := ToGo(globals["result"])
	require.NoError(t, err)

	assert.Equal(t, []any{
		map[string]any{"region": "N", "year": int64(2023), "sales": 2.0},
		map[string]any{"region": "N", "year": int64(2024), "sales": 5.0},
		map[string]any{"region": "S", "year": int64(2024), "sales": 3.0},
	}, dataset.Unorder(got))
}

func TestGroupBy_DropsMissingKeys(t *testing.T) {
	ds := dataset.MustNew(
		dataset.NewColumn("k", []any{"a", nil, "a"}),
		dataset.NewColumn("v", []any{int64(1), int64(2), int64(3)}),
	)
	globals, err := NewContext(ds).Exec(context.Background(), `result = df.groupby("k")["v"].sum()`)
	require.NoError(t, err)
	got, err := ToGo(globals["result"])
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int64(4)}, dataset.Unorder(got))
}

func TestGroupBy_Iterate(t *testing.T) {
	got := run(t, `result = [(key, len(rows)) for key, rows in df.groupby("region")]`)
	assert.Equal(t, []any{
		[]any{"East", int64(1)},
		[]any{"North", int64(2)},
		[]any{"South", int64(1)},
	}, got)
}

func TestGroupBy_Transform(t *testing.T) {
	got := run(t, `result = df.groupby("region")["units"].transform("sum").tolist()`)
	assert.Equal(t, []any{4.5, 2.0, 4.5, 4.0}, got)
}

func TestPivotTable(t *testing.T) {
	got := run(t, `result = df.pivot_table(values="units", index="region", aggfunc="sum")`)
	assert.Equal(t, []any{
		map[string]any{"region": "East", "units": 4.0},
		map[string]any{"region": "North", "units": 4.5},
		map[string]any{"region": "South", "units": 2.0},
	}, got)

	ds := dataset.MustNew(
		dataset.NewColumn("region", []any{"N", "N", "S"}),
		dataset.NewColumn("quarter", []any{"Q1", "Q2", "Q1"}),
		dataset.NewColumn("sales", []any{int64(10), int64(20), int64(30)}),
	)
	globals, err := NewContext(ds).Exec(context.Background(),
		`result = df.pivot_table(values="sales", index="region", columns="quarter", aggfunc="sum", fill_value=0)`)
	require.NoError(t, err)
	out, err := ToGo(globals["result"])
	require.NoError(t, err)
	assert.Equal(t, []any{
		map[string]any{"region": "N", "Q1": int64(10), "Q2": int64(20)},
		map[string]any{"region": "S", "Q1": int64(30), "Q2": int64(0)},
	}, dataset.Unorder(out))
}
