package starlark

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/leapstack-labs/datalens/internal/dataset"
	"go.starlark.net/starlark"
)

// Frame is a two-dimensional table of named columns exposed to snippets as df.
//
// Frames share column storage with the frames they were derived from, so a
// column is never modified in place: assignment replaces the column pointer in
// the receiver's own column slice.
type Frame struct {
	cols  []*dataset.Column
	index []any // nil means positional labels 0..n-1

	// labeled frames carry meaningful row labels (describe, corr) that are
	// emitted as a leading column when the frame is converted to records.
	labeled   bool
	indexName string

	frozen bool
}

var (
	_ starlark.HasAttrs  = (*Frame)(nil)
	_ starlark.HasSetKey = (*Frame)(nil)
	_ starlark.Sequence  = (*Frame)(nil)
)

// NewFrame wraps a dataset. The frame takes ownership of the dataset's
// columns; pass a clone when the original must stay untouched.
func NewFrame(ds *dataset.Dataset) *Frame {
	return &Frame{cols: slices.Clone(ds.Columns)}
}

// Dataset returns the frame's columns as a dataset. Labels of a labeled
// frame become a leading column.
func (f *Frame) Dataset() *dataset.Dataset {
	cols := slices.Clone(f.cols)
	if f.labeled {
		name := f.indexName
		if name == "" {
			name = "index"
		}
		cols = append([]*dataset.Column{dataset.NewColumn(name, f.labels())}, cols...)
	}
	return &dataset.Dataset{Columns: cols}
}

// Records returns the rows as records.
func (f *Frame) Records() []dataset.Record {
	return f.Dataset().Records()
}

// ColumnNames returns the column names in order.
func (f *Frame) ColumnNames() []string {
	names := make([]string, len(f.cols))
	for i, c := range f.cols {
		names[i] = c.Name
	}
	return names
}

// NumRows returns the number of rows.
func (f *Frame) NumRows() int {
	if len(f.cols) == 0 {
		return len(f.index)
	}
	return f.cols[0].Len()
}

func (f *Frame) label(i int) any {
	if f.index == nil {
		return int64(i)
	}
	return f.index[i]
}

func (f *Frame) labels() []any {
	out := make([]any, f.NumRows())
	for i := range out {
		out[i] = f.label(i)
	}
	return out
}

func (f *Frame) column(name string) (*dataset.Column, error) {
	for _, c := range f.cols {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("KeyError: column %q not found; available columns: %s",
		name, strings.Join(f.ColumnNames(), ", "))
}

func (f *Frame) series(c *dataset.Column) *Series {
	return &Series{name: c.Name, dtype: c.Type, values: c.Values, index: f.index, indexName: f.indexName}
}

// derive creates a frame with the receiver's labels and the given columns.
func (f *Frame) derive(cols []*dataset.Column) *Frame {
	return &Frame{cols: cols, index: f.index, labeled: f.labeled, indexName: f.indexName}
}

// take returns the rows at the given positions, keeping their labels.
func (f *Frame) take(positions []int) *Frame {
	cols := make([]*dataset.Column, len(f.cols))
	for i, c := range f.cols {
		values := make([]any, len(positions))
		for j, p := range positions {
			values[j] = c.Values[p]
		}
		cols[i] = &dataset.Column{Name: c.Name, Type: c.Type, Values: values}
	}
	labels := make([]any, len(positions))
	for j, p := range positions {
		labels[j] = f.label(p)
	}
	return &Frame{cols: cols, index: labels, labeled: f.labeled, indexName: f.indexName}
}

func (f *Frame) String() string {
	const maxRows = 20
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault

	header := table.Row{""}
	for _, name := range f.ColumnNames() {
		header = append(header, name)
	}
	t.AppendHeader(header)

	n := min(f.NumRows(), maxRows)
	for i := range n {
		row := table.Row{dataset.FormatValue(f.label(i))}
		for _, c := range f.cols {
			row = append(row, dataset.FormatValue(c.Values[i]))
		}
		t.AppendRow(row)
	}
	out := t.Render()
	if f.NumRows() > maxRows {
		out += fmt.Sprintf("\n... (%d more rows)", f.NumRows()-maxRows)
	}
	return out + fmt.Sprintf("\n[%d rows x %d columns]", f.NumRows(), len(f.cols))
}

// Type returns "DataFrame".
func (f *Frame) Type() string { return "DataFrame" }

// Freeze marks the frame frozen; frozen frames reject column assignment.
func (f *Frame) Freeze() { f.frozen = true }

// Truth reports whether the frame has rows.
func (f *Frame) Truth() starlark.Bool { return f.NumRows() > 0 }

// Hash fails: frames are unhashable.
func (f *Frame) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: DataFrame") }

// Len returns the number of rows.
func (f *Frame) Len() int { return f.NumRows() }

// Iterate yields the column names.
func (f *Frame) Iterate() starlark.Iterator {
	names := make([]any, len(f.cols))
	for i, c := range f.cols {
		names[i] = c.Name
	}
	return &cellIterator{values: names}
}

// Get implements df["col"], df[["a", "b"]] and df[mask].
func (f *Frame) Get(k starlark.Value) (starlark.Value, bool, error) {
	switch key := k.(type) {
	case starlark.String:
		c, err := f.column(string(key))
		if err != nil {
			return nil, false, err
		}
		return f.series(c), true, nil
	case *Series:
		mask, err := maskPositions(key.values, f.NumRows())
		if err != nil {
			return nil, false, err
		}
		return f.take(mask), true, nil
	case *starlark.List, starlark.Tuple:
		cells, err := iterableToCells(key)
		if err != nil {
			return nil, false, err
		}
		if len(cells) > 0 {
			if _, ok := cells[0].(bool); ok {
				mask, err := maskPositions(cells, f.NumRows())
				if err != nil {
					return nil, false, err
				}
				return f.take(mask), true, nil
			}
		}
		names, err := stringsArg(key)
		if err != nil {
			return nil, false, err
		}
		sub, err := f.selectColumns(names)
		if err != nil {
			return nil, false, err
		}
		return sub, true, nil
	case starlark.Bool:
		return nil, false, fmt.Errorf("boolean mask expected, got a single bool: comparisons such as s == x are not elementwise, use s.eq(x), s.gt(x) and friends")
	}
	return nil, false, fmt.Errorf("DataFrame indices must be a column name, list of names or boolean Series, not %s", k.Type())
}

// maskPositions returns the positions whose mask value is true.
func maskPositions(mask []any, n int) ([]int, error) {
	if len(mask) != n {
		return nil, fmt.Errorf("boolean mask has length %d, expected %d", len(mask), n)
	}
	var out []int
	for i, v := range mask {
		switch val := v.(type) {
		case bool:
			if val {
				out = append(out, i)
			}
		case nil:
		default:
			return nil, fmt.Errorf("boolean mask expected, found %s values", kindOf(v))
		}
	}
	return out, nil
}

func (f *Frame) selectColumns(names []string) (*Frame, error) {
	cols := make([]*dataset.Column, len(names))
	for i, name := range names {
		c, err := f.column(name)
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	return f.derive(cols), nil
}

// SetKey implements df["col"] = value.
func (f *Frame) SetKey(k, v starlark.Value) error {
	if f.frozen {
		return fmt.Errorf("cannot assign to a frozen DataFrame")
	}
	name, ok := starlark.AsString(k)
	if !ok {
		return fmt.Errorf("column name must be a string, got %s", k.Type())
	}
	values, err := operand(v, f.NumRows())
	if err != nil {
		return err
	}
	f.setColumn(dataset.NewColumn(name, slices.Clone(values)))
	return nil
}

func (f *Frame) setColumn(col *dataset.Column) {
	for i, c := range f.cols {
		if c.Name == col.Name {
			f.cols[i] = col
			return
		}
	}
	f.cols = append(f.cols, col)
}

// Attr returns a property, bound method or column.
func (f *Frame) Attr(name string) (starlark.Value, error) {
	switch name {
	case "columns":
		names := stringCells(f.ColumnNames())
		return &Series{dtype: dataset.String, values: names, index: names}, nil
	case "shape":
		return starlark.Tuple{starlark.MakeInt(f.NumRows()), starlark.MakeInt(len(f.cols))}, nil
	case "size":
		return starlark.MakeInt(f.NumRows() * len(f.cols)), nil
	case "empty":
		return starlark.Bool(f.NumRows() == 0 || len(f.cols) == 0), nil
	case "index":
		return NewSeries(f.indexName, f.labels()), nil
	case "dtypes":
		types := make([]any, len(f.cols))
		for i, c := range f.cols {
			types[i] = string(c.Type)
		}
		return &Series{dtype: dataset.String, values: types, index: stringCells(f.ColumnNames())}, nil
	case "iloc":
		return &ilocIndexer{f: f}, nil
	case "loc":
		return &locIndexer{f: f}, nil
	}
	if m, ok := frameMethods[name]; ok {
		return m.BindReceiver(f), nil
	}
	if c, err := f.column(name); err == nil {
		return f.series(c), nil
	}
	return nil, nil
}

// AttrNames lists properties and methods.
func (f *Frame) AttrNames() []string {
	names := []string{"columns", "dtypes", "empty", "iloc", "index", "loc", "shape", "size"}
	for name := range frameMethods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func stringCells(names []string) []any {
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}

// rowDict returns row i as a dict keyed by column name.
func (f *Frame) rowDict(i int) *starlark.Dict {
	d := starlark.NewDict(len(f.cols))
	for _, c := range f.cols {
		_ = d.SetKey(starlark.String(c.Name), CellToStarlark(c.Values[i]))
	}
	return d
}

// ilocIndexer implements positional row access: df.iloc[0], df.iloc[2:5].
type ilocIndexer struct {
	f *Frame
}

var _ starlark.Sliceable = (*ilocIndexer)(nil)

func (x *ilocIndexer) String() string        { return "<iloc indexer>" }
func (x *ilocIndexer) Type() string          { return "iloc" }
func (x *ilocIndexer) Freeze()               {}
func (x *ilocIndexer) Truth() starlark.Bool  { return true }
func (x *ilocIndexer) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: iloc") }
func (x *ilocIndexer) Len() int              { return x.f.NumRows() }

// Index returns row i as a dict.
func (x *ilocIndexer) Index(i int) starlark.Value { return x.f.rowDict(i) }

// Slice returns the rows in [start:end:step] as a frame.
func (x *ilocIndexer) Slice(start, end, step int) starlark.Value {
	var pos []int
	if step > 0 {
		for i := start; i < end; i += step {
			pos = append(pos, i)
		}
	} else {
		for i := start; i > end; i += step {
			pos = append(pos, i)
		}
	}
	return x.f.take(pos)
}

// locIndexer implements label and mask access with an optional column
// selector: df.loc[mask], df.loc[mask, "col"], df.loc[mask, "col"] = v.
type locIndexer struct {
	f *Frame
}

var _ starlark.HasSetKey = (*locIndexer)(nil)

func (x *locIndexer) String() string        { return "<loc indexer>" }
func (x *locIndexer) Type() string          { return "loc" }
func (x *locIndexer) Freeze()               {}
func (x *locIndexer) Truth() starlark.Bool  { return true }
func (x *locIndexer) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: loc") }

// split separates a loc key into its row and column selectors.
func (x *locIndexer) split(k starlark.Value) (rows starlark.Value, cols starlark.Value) {
	if t, ok := k.(starlark.Tuple); ok && len(t) == 2 {
		return t[0], t[1]
	}
	return k, nil
}

// rowPositions resolves a row selector: a boolean mask or a single label.
func (x *locIndexer) rowPositions(sel starlark.Value) ([]int, bool, error) {
	switch key := sel.(type) {
	case *Series:
		pos, err := maskPositions(key.values, x.f.NumRows())
		return pos, false, err
	case *starlark.List, starlark.Tuple:
		cells, err := iterableToCells(key)
		if err != nil {
			return nil, false, err
		}
		pos, err := maskPositions(cells, x.f.NumRows())
		return pos, false, err
	}
	label, err := StarlarkToCell(sel)
	if err != nil {
		return nil, false, err
	}
	for i := range x.f.NumRows() {
		l := x.f.label(i)
		if dataset.Key(l) == dataset.Key(label) {
			return []int{i}, true, nil
		}
	}
	return nil, false, fmt.Errorf("KeyError: label %s not found", dataset.FormatValue(label))
}

func (x *locIndexer) Get(k starlark.Value) (starlark.Value, bool, error) {
	rowSel, colSel := x.split(k)
	pos, single, err := x.rowPositions(rowSel)
	if err != nil {
		return nil, false, err
	}
	sub := x.f.take(pos)
	if colSel == nil {
		if single {
			return x.f.rowDict(pos[0]), true, nil
		}
		return sub, true, nil
	}
	if name, ok := starlark.AsString(colSel); ok {
		c, err := sub.column(name)
		if err != nil {
			return nil, false, err
		}
		if single {
			return CellToStarlark(c.Values[0]), true, nil
		}
		return sub.series(c), true, nil
	}
	names, err := stringsArg(colSel)
	if err != nil {
		return nil, false, err
	}
	out, err := sub.selectColumns(names)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (x *locIndexer) SetKey(k, v starlark.Value) error {
	if x.f.frozen {
		return fmt.Errorf("cannot assign to a frozen DataFrame")
	}
	rowSel, colSel := x.split(k)
	name, ok := starlark.AsString(colSel)
	if !ok {
		return fmt.Errorf("loc assignment requires a single column name")
	}
	pos, _, err := x.rowPositions(rowSel)
	if err != nil {
		return err
	}
	rhs, err := operand(v, len(pos))
	if err != nil {
		return err
	}

	values := make([]any, x.f.NumRows())
	if c, err := x.f.column(name); err == nil {
		copy(values, c.Values)
	}
	for j, p := range pos {
		values[p] = rhs[j]
	}
	x.f.setColumn(dataset.NewColumn(name, values))
	return nil
}
