package starlark

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/leapstack-labs/datalens/internal/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_Selection(t *testing.T) {
	tests := []struct {
		name string
		code string
		want any
	}{
		{
			name: "column sum",
			code: `result = df["revenue"].sum()`,
			want: int64(450),
		},
		{
			name: "attribute access",
			code: `result = df.units.max()`,
			want: 4.0,
		},
		{
			name: "mask length",
			code: `result = len(df[df["region"].eq("North")])`,
			want: int64(2),
		},
		{
			name: "combined masks",
			code: `result = df[df["units"].gt(1.5) & df["region"].ne("East")]["region"].tolist()`,
			want: []any{"South", "North"},
		},
		{
			name: "inverted mask",
			code: `result = df[~df["revenue"].isna()].shape`,
			want: []any{int64(3), int64(3)},
		},
		{
			name: "column subset",
			code: `result = df[["units", "region"]].columns.tolist()`,
			want: []any{"units", "region"},
		},
		{
			name: "column membership",
			code: `result = ["region" in df.columns, "missing" in df.columns]`,
			want: []any{true, false},
		},
		{
			name: "sort and head",
			code: `result = df.sort_values("units", ascending=False).head(2)["region"].tolist()`,
			want: []any{"East", "North"},
		},
		{
			name: "sort by several keys",
			code: `result = df.sort_values(["region", "units"], ascending=[True, False])["units"].tolist()`,
			want: []any{4.0, 3.0, 1.5, 2.0},
		},
		{
			name: "missing sorts last",
			code: `result = df.sort_values("revenue")["revenue"].tolist()`,
			want: []any{int64(100), int64(150), int64(200), nil},
		},
		{
			name: "query",
			code: `result = df.query("units > 2 and region == 'North'")["units"].tolist()`,
			want: []any{3.0},
		},
		{
			name: "nlargest",
			code: `result = df.nlargest(2, "revenue")["revenue"].tolist()`,
			want: []any{int64(200), int64(150)},
		},
		{
			name: "iloc row",
			code: `result = df.iloc[1]["region"]`,
			want: "South",
		},
		{
			name: "iloc slice",
			code: `result = len(df.iloc[1:3])`,
			want: int64(2),
		},
		{
			name: "loc mask and column",
			code: `result = df.loc[df["units"].ge(3), "region"].tolist()`,
			want: []any{"North", "East"},
		},
		{
			name: "shape",
			code: `result = df.shape`,
			want: []any{int64(4), int64(3)},
		},
		{
			name: "dropna",
			code: `result = len(df.dropna())`,
			want: int64(3),
		},
		{
			name: "fillna",
			code: `result = df.fillna({"revenue": 0})["revenue"].tolist()`,
			want: []any{int64(100), int64(150), int64(200), int64(0)},
		},
		{
			name: "drop duplicates",
			code: `result = df.drop_duplicates(subset=["region"])["units"].tolist()`,
			want: []any{1.5, 2.0, 4.0},
		},
		{
			name: "drop columns",
			code: `result = df.drop(columns=["revenue"]).columns.tolist()`,
			want: []any{"region", "units"},
		},
		{
			name: "rename",
			code: `result = df.rename(columns={"units": "qty"}).columns.tolist()`,
			want: []any{"region", "revenue", "qty"},
		},
		{
			name: "frame mean skips text columns",
			code: `result = df.mean()`,
			want: map[string]any{"revenue": 150.0, "units": 2.625},
		},
		{
			name: "row sum",
			code: `result = df[["units"]].sum(axis=1).tolist()`,
			want: []any{1.5, 2.0, 3.0, 4.0},
		},
		{
			name: "apply over rows",
			code: `result = df.apply(lambda row: row["region"][0], axis=1).tolist()`,
			want: []any{"N", "S", "N", "E"},
		},
		{
			name: "assign",
			code: `result = df.assign(half=lambda d: d["units"] / 2)["half"].tolist()`,
			want: []any{0.75, 1.0, 1.5, 2.0},
		},
		{
			name: "select dtypes",
			code: `result = df.select_dtypes(include="number").columns.tolist()`,
			want: []any{"revenue", "units"},
		},
		{
			name: "iterrows",
			code: `result = [idx for idx, row in df.iterrows() if row["region"] == "North"]`,
			want: []any{int64(0), int64(2)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, run(t, tt.code))
		})
	}
}

func TestFrame_ColumnAssignment(t *testing.T) {
	got := run(t, `
df["price"] = df["revenue"] / df["units"]
df.loc[df["region"].eq("East"), "price"] = 0
result = df["price"].round(2).tolist()
`)
	assert.Equal(t, []any{66.67, 75.0, 66.67, int64(0)}, got)
}

func TestFrame_Describe(t *testing.T) {
	got := run(t, `result = df.describe()`)
	records, ok := got.([]any)
	require.True(t, ok)
	require.Len(t, records, 8)

	first := records[0].(map[string]any)
	assert.Equal(t, "count", first["index"])
	assert.Equal(t, 3.0, first["revenue"])
	assert.Equal(t, 4.0, first["units"])
	assert.NotContains(t, first, "region")
}

func TestFrame_Corr(t *testing.T) {
	got := run(t, `result = df.corr()`)
	records := got.([]any)
	require.Len(t, records, 2)
	first := records[0].(map[string]any)
	assert.Equal(t, "revenue", first["index"])
	assert.InDelta(t, 1.0, first["revenue"], 1e-9)
}

func TestFrame_ResetIndex(t *testing.T) {
	got := run(t, `result = df[df["units"].gt(2)].reset_index(drop=True).to_dict()`)
	assert.Equal(t, map[string]any{
		"region":  map[string]any{"0": "North", "1": "East"},
		"revenue": map[string]any{"0": int64(200), "1": nil},
		"units":   map[string]any{"0": 3.0, "1": 4.0},
	}, got)

	got = run(t, `result = df.set_index("region")["units"].to_dict()`)
	assert.Equal(t, map[string]any{"North": 3.0, "South": 2.0, "East": 4.0}, got)

	got = run(t, `result = df.set_index("region").reset_index().columns.tolist()`)
	assert.Equal(t, []any{"region", "revenue", "units"}, got)
}

func TestFrame_Merge(t *testing.T) {
	got := run(t, `
targets = pd.DataFrame({"region": ["North", "South"], "target": [250, 100]})
merged = df.merge(targets, on="region", how="left")
result = merged["target"].tolist()
`)
	assert.Equal(t, []any{int64(250), int64(100), int64(250), nil}, got)
}

func TestFrame_MaskErrors(t *testing.T) {
	_, err := NewContext(salesData()).Exec(context.Background(), `result = df[True]`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s.eq(x)")

	_, err = NewContext(salesData()).Exec(context.Background(), `result = df.dropna(inplace=True)`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inplace")
}

func TestFrame_Dataset(t *testing.T) {
	f := NewFrame(salesData())
	ds := f.Dataset()
	assert.Equal(t, []string{"region", "revenue", "units"}, ds.ColumnNames())
	assert.Equal(t, 4, ds.NumRows())

	labeled := &Frame{
		cols:      []*dataset.Column{dataset.NewColumn("n", []any{int64(1)})},
		index:     []any{"a"},
		labeled:   true,
		indexName: "key",
	}
	assert.Equal(t, []dataset.Record{{{Key: "key", Value: "a"}, {Key: "n", Value: int64(1)}}}, labeled.Records())
}

func TestFrame_String(t *testing.T) {
	out := NewFrame(salesData()).String()
	assert.Contains(t, out, "region")
	assert.Contains(t, out, "North")
	assert.Contains(t, out, "[4 rows x 3 columns]")
}

func TestFrame_RecordsKeepColumnOrder(t *testing.T) {
	got := runOrdered(t, `result = df[["units", "region"]].head(1)`)

	raw, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Equal(t, `[{"units":1.5,"region":"North"}]`, string(raw))
}
