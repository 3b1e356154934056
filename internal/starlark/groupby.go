package starlark

import (
	"fmt"
	"slices"
	"sort"

	"github.com/leapstack-labs/datalens/internal/dataset"
	"go.starlark.net/starlark"
)

// GroupBy is the result of df.groupby(keys), optionally narrowed to some
// columns with g["col"] or g[["a", "b"]].
//
// Groups are ordered by key and rows with a missing key are dropped. With a
// single key the key becomes the row labels of the result; with several keys
// the keys are leading columns.
type GroupBy struct {
	f         *Frame
	keys      []string
	selection []string // nil selects every non-key column
	seriesSel bool     // selected with a single column name
	asIndex   bool
}

var (
	_ starlark.HasAttrs = (*GroupBy)(nil)
	_ starlark.Mapping  = (*GroupBy)(nil)
	_ starlark.Iterable = (*GroupBy)(nil)
)

func (g *GroupBy) String() string        { return fmt.Sprintf("<DataFrameGroupBy by %v>", g.keys) }
func (g *GroupBy) Type() string          { return "DataFrameGroupBy" }
func (g *GroupBy) Freeze()               {}
func (g *GroupBy) Truth() starlark.Bool  { return true }
func (g *GroupBy) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: DataFrameGroupBy") }

type group struct {
	key  []any
	rows []int
}

func (g *GroupBy) groups() ([]group, error) {
	keyFrame, err := g.f.selectColumns(g.keys)
	if err != nil {
		return nil, err
	}
	keyCols := keyFrame.cols
	byKey := make(map[string]int)
	var out []group
rows:
	for i := range g.f.NumRows() {
		for _, c := range keyCols {
			if c.IsMissing(i) {
				continue rows
			}
		}
		k := rowKey(keyCols, i)
		gi, ok := byKey[k]
		if !ok {
			gi = len(out)
			byKey[k] = gi
			key := make([]any, len(keyCols))
			for j, c := range keyCols {
				key[j] = c.Values[i]
			}
			out = append(out, group{key: key})
		}
		out[gi].rows = append(out[gi].rows, i)
	}
	slices.SortStableFunc(out, func(a, b group) int {
		for i := range a.key {
			if c := dataset.Compare(a.key[i], b.key[i]); c != 0 {
				return c
			}
		}
		return 0
	})
	return out, nil
}

// keyColumns returns one column per key holding each group's key value.
func (g *GroupBy) keyColumns(groups []group) []*dataset.Column {
	cols := make([]*dataset.Column, len(g.keys))
	for j, name := range g.keys {
		values := make([]any, len(groups))
		for i, grp := range groups {
			values[i] = grp.key[j]
		}
		cols[j] = dataset.NewColumn(name, values)
	}
	return cols
}

// selected returns the columns aggregated by this groupby.
func (g *GroupBy) selected() ([]*dataset.Column, error) {
	if g.selection != nil {
		sub, err := g.f.selectColumns(g.selection)
		if err != nil {
			return nil, err
		}
		return sub.cols, nil
	}
	var cols []*dataset.Column
	for _, c := range g.f.cols {
		if !slices.Contains(g.keys, c.Name) {
			cols = append(cols, c)
		}
	}
	return cols, nil
}

// reduceColumn aggregates one column per group.
func reduceColumn(c *dataset.Column, groups []group, fn, outName string) (*dataset.Column, error) {
	out := make([]any, len(groups))
	cells := make([]any, 0)
	for i, grp := range groups {
		cells = cells[:0]
		for _, p := range grp.rows {
			cells = append(cells, c.Values[p])
		}
		v, err := reduce(fn, cells, c.Type)
		if err != nil {
			return nil, fmt.Errorf("%s: column %q: %w", fn, c.Name, err)
		}
		out[i] = v
	}
	return dataset.NewColumn(outName, out), nil
}

// result shapes aggregated columns: a Series for a single-key, single-column
// selection, otherwise a frame.
func (g *GroupBy) result(groups []group, cols []*dataset.Column, allowSeries bool) starlark.Value {
	single := len(g.keys) == 1 && g.asIndex
	if single && allowSeries && g.seriesSel && len(cols) == 1 {
		return &Series{
			name:      cols[0].Name,
			dtype:     cols[0].Type,
			values:    cols[0].Values,
			index:     g.keyColumns(groups)[0].Values,
			indexName: g.keys[0],
		}
	}
	if single {
		return &Frame{cols: cols, index: g.keyColumns(groups)[0].Values, labeled: true, indexName: g.keys[0]}
	}
	return &Frame{cols: append(g.keyColumns(groups), cols...)}
}

// aggregate applies one named reduction to every selected column. Columns
// picked implicitly are skipped when a numeric reduction cannot apply.
func (g *GroupBy) aggregate(fn string) (starlark.Value, error) {
	if _, ok := reducers[fn]; !ok {
		return nil, fmt.Errorf("unknown aggregation %q", fn)
	}
	groups, err := g.groups()
	if err != nil {
		return nil, err
	}
	src, err := g.selected()
	if err != nil {
		return nil, err
	}
	var cols []*dataset.Column
	for _, c := range src {
		if g.selection == nil && numericReducers[fn] && !c.Type.IsNumeric() {
			continue
		}
		out, err := reduceColumn(c, groups, fn, c.Name)
		if err != nil {
			return nil, err
		}
		cols = append(cols, out)
	}
	return g.result(groups, cols, true), nil
}

// Get narrows the selection: g["col"] or g[["a", "b"]].
func (g *GroupBy) Get(k starlark.Value) (starlark.Value, bool, error) {
	names, err := stringsArg(k)
	if err != nil {
		return nil, false, err
	}
	if _, err := g.f.selectColumns(names); err != nil {
		return nil, false, err
	}
	_, single := k.(starlark.String)
	return &GroupBy{f: g.f, keys: g.keys, selection: names, seriesSel: single, asIndex: g.asIndex}, true, nil
}

// Iterate yields (key, frame) pairs in key order.
func (g *GroupBy) Iterate() starlark.Iterator {
	groups, err := g.groups()
	if err != nil {
		return starlark.NewList(nil).Iterate()
	}
	items := make([]starlark.Value, len(groups))
	for i, grp := range groups {
		var key starlark.Value
		if len(grp.key) == 1 {
			key = CellToStarlark(grp.key[0])
		} else {
			t := make(starlark.Tuple, len(grp.key))
			for j, v := range grp.key {
				t[j] = CellToStarlark(v)
			}
			key = t
		}
		items[i] = starlark.Tuple{key, g.f.take(grp.rows)}
	}
	return starlark.NewList(items).Iterate()
}

var groupByMethods map[string]*starlark.Builtin

func init() {
	groupByMethods = map[string]*starlark.Builtin{
		"agg":       starlark.NewBuiltin("agg", groupByAgg),
		"aggregate": starlark.NewBuiltin("aggregate", groupByAgg),
		"size":      starlark.NewBuiltin("size", groupBySize),
		"transform": starlark.NewBuiltin("transform", groupByTransform),
	}
	for name := range reducers {
		groupByMethods[name] = starlark.NewBuiltin(name, groupByReduce)
	}
}

// Attr returns a method, or narrows the selection to a column by name.
func (g *GroupBy) Attr(name string) (starlark.Value, error) {
	if m, ok := groupByMethods[name]; ok {
		return m.BindReceiver(g), nil
	}
	if _, err := g.f.column(name); err == nil {
		v, _, err := g.Get(starlark.String(name))
		return v, err
	}
	return nil, nil
}

func (g *GroupBy) AttrNames() []string {
	names := make([]string, 0, len(groupByMethods))
	for name := range groupByMethods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func receiverGroupBy(b *starlark.Builtin) *GroupBy {
	return b.Receiver().(*GroupBy)
}

func groupByReduce(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kwargs, err := dropIgnored(kwargs)
	if err != nil {
		return nil, err
	}
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	return receiverGroupBy(b).aggregate(b.Name())
}

func groupBySize(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	g := receiverGroupBy(b)
	groups, err := g.groups()
	if err != nil {
		return nil, err
	}
	sizes := make([]any, len(groups))
	for i, grp := range groups {
		sizes[i] = int64(len(grp.rows))
	}
	if len(g.keys) == 1 && g.asIndex {
		return &Series{dtype: dataset.Int64, values: sizes, index: g.keyColumns(groups)[0].Values, indexName: g.keys[0]}, nil
	}
	cols := append(g.keyColumns(groups), &dataset.Column{Name: "size", Type: dataset.Int64, Values: sizes})
	return &Frame{cols: cols}, nil
}

// groupByTransform broadcasts a per-group reduction back onto the rows.
func groupByTransform(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &fn); err != nil {
		return nil, err
	}
	g := receiverGroupBy(b)
	if !g.seriesSel {
		return nil, fmt.Errorf("transform: select a single column first, e.g. df.groupby(key)[col].transform(%q)", fn)
	}
	groups, err := g.groups()
	if err != nil {
		return nil, err
	}
	c, err := g.f.column(g.selection[0])
	if err != nil {
		return nil, err
	}
	agg, err := reduceColumn(c, groups, fn, c.Name)
	if err != nil {
		return nil, err
	}
	out := make([]any, g.f.NumRows())
	for i, grp := range groups {
		for _, p := range grp.rows {
			out[p] = agg.Values[i]
		}
	}
	return g.f.series(c).derive(out), nil
}

// groupByAgg implements agg with a function name, a list of names, a dict of
// column to name(s), or named aggregations: agg(total=("revenue", "sum")).
func groupByAgg(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	g := receiverGroupBy(b)
	if len(args) == 0 && len(kwargs) > 0 {
		return g.namedAgg(kwargs)
	}
	var spec starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &spec); err != nil {
		return nil, err
	}
	if fn, ok := starlark.AsString(spec); ok {
		return g.aggregate(fn)
	}

	groups, err := g.groups()
	if err != nil {
		return nil, err
	}
	var cols []*dataset.Column
	switch spec := spec.(type) {
	case *starlark.Dict:
		for _, item := range spec.Items() {
			name, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("agg: column names must be strings")
			}
			c, err := g.f.column(name)
			if err != nil {
				return nil, err
			}
			if fn, ok := starlark.AsString(item[1]); ok {
				out, err := reduceColumn(c, groups, fn, name)
				if err != nil {
					return nil, err
				}
				cols = append(cols, out)
				continue
			}
			fns, err := stringsArg(item[1])
			if err != nil {
				return nil, err
			}
			for _, fn := range fns {
				out, err := reduceColumn(c, groups, fn, name+"_"+fn)
				if err != nil {
					return nil, err
				}
				cols = append(cols, out)
			}
		}
	case *starlark.List, starlark.Tuple:
		fns, err := stringsArg(spec)
		if err != nil {
			return nil, err
		}
		src, err := g.selected()
		if err != nil {
			return nil, err
		}
		for _, c := range src {
			for _, fn := range fns {
				if g.selection == nil && numericReducers[fn] && !c.Type.IsNumeric() {
					continue
				}
				name := c.Name + "_" + fn
				if g.seriesSel {
					name = fn
				}
				out, err := reduceColumn(c, groups, fn, name)
				if err != nil {
					return nil, err
				}
				cols = append(cols, out)
			}
		}
	default:
		return nil, fmt.Errorf("agg: expected a function name, list or dict, got %s", spec.Type())
	}
	return g.result(groups, cols, false), nil
}

func (g *GroupBy) namedAgg(kwargs []starlark.Tuple) (starlark.Value, error) {
	groups, err := g.groups()
	if err != nil {
		return nil, err
	}
	cols := make([]*dataset.Column, 0, len(kwargs))
	for _, kv := range kwargs {
		outName, _ := starlark.AsString(kv[0])
		spec, ok := kv[1].(starlark.Tuple)
		if !ok || len(spec) != 2 {
			return nil, fmt.Errorf("agg: %s must be a (column, function) tuple", outName)
		}
		name, ok1 := starlark.AsString(spec[0])
		fn, ok2 := starlark.AsString(spec[1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("agg: %s must be a (column, function) tuple of strings", outName)
		}
		c, err := g.f.column(name)
		if err != nil {
			return nil, err
		}
		out, err := reduceColumn(c, groups, fn, outName)
		if err != nil {
			return nil, err
		}
		cols = append(cols, out)
	}
	return g.result(groups, cols, false), nil
}
