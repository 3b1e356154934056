package starlark

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/leapstack-labs/datalens/internal/dataset"
	"github.com/leapstack-labs/datalens/internal/stats"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

var frameMethods map[string]*starlark.Builtin

// frameReducers are the column reductions available on a whole frame.
var frameReducers = []string{"sum", "mean", "median", "std", "var", "min", "max", "count", "nunique"}

func init() {
	frameMethods = map[string]*starlark.Builtin{
		"apply":           starlark.NewBuiltin("apply", frameApply),
		"assign":          starlark.NewBuiltin("assign", frameAssign),
		"copy":            starlark.NewBuiltin("copy", frameCopy),
		"corr":            starlark.NewBuiltin("corr", frameCorr),
		"describe":        starlark.NewBuiltin("describe", frameDescribe),
		"drop":            starlark.NewBuiltin("drop", frameDrop),
		"drop_duplicates": starlark.NewBuiltin("drop_duplicates", frameDropDuplicates),
		"dropna":          starlark.NewBuiltin("dropna", frameDropna),
		"fillna":          starlark.NewBuiltin("fillna", frameFillna),
		"groupby":         starlark.NewBuiltin("groupby", frameGroupBy),
		"head":            starlark.NewBuiltin("head", frameHead),
		"isna":            starlark.NewBuiltin("isna", frameIsna),
		"isnull":          starlark.NewBuiltin("isnull", frameIsna),
		"iterrows":        starlark.NewBuiltin("iterrows", frameIterrows),
		"merge":           starlark.NewBuiltin("merge", frameMerge),
		"nlargest":        starlark.NewBuiltin("nlargest", frameNExtreme),
		"notna":           starlark.NewBuiltin("notna", frameIsna),
		"notnull":         starlark.NewBuiltin("notnull", frameIsna),
		"nsmallest":       starlark.NewBuiltin("nsmallest", frameNExtreme),
		"pivot_table":     starlark.NewBuiltin("pivot_table", framePivotTable),
		"query":           starlark.NewBuiltin("query", frameQuery),
		"rename":          starlark.NewBuiltin("rename", frameRename),
		"reset_index":     starlark.NewBuiltin("reset_index", frameResetIndex),
		"round":           starlark.NewBuiltin("round", frameRound),
		"select_dtypes":   starlark.NewBuiltin("select_dtypes", frameSelectDtypes),
		"set_index":       starlark.NewBuiltin("set_index", frameSetIndex),
		"sort_values":     starlark.NewBuiltin("sort_values", frameSortValues),
		"tail":            starlark.NewBuiltin("tail", frameTail),
		"to_dict":         starlark.NewBuiltin("to_dict", frameToDict),
	}
	for _, name := range frameReducers {
		frameMethods[name] = starlark.NewBuiltin(name, frameReduce)
	}
}

func receiverFrame(b *starlark.Builtin) *Frame {
	return b.Receiver().(*Frame)
}

func frameHead(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	n := 5
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n?", &n); err != nil {
		return nil, err
	}
	f := receiverFrame(b)
	return f.take(headPositions(f.NumRows(), n)), nil
}

func frameTail(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	n := 5
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n?", &n); err != nil {
		return nil, err
	}
	f := receiverFrame(b)
	return f.take(tailPositions(f.NumRows(), n)), nil
}

// boolsArg accepts a single bool or one bool per key.
func boolsArg(v starlark.Value, n int) ([]bool, error) {
	out := make([]bool, n)
	if v == nil || v == starlark.None {
		for i := range out {
			out[i] = true
		}
		return out, nil
	}
	if b, ok := v.(starlark.Bool); ok {
		for i := range out {
			out[i] = bool(b)
		}
		return out, nil
	}
	cells, err := iterableToCells(v)
	if err != nil {
		return nil, err
	}
	if len(cells) != n {
		return nil, fmt.Errorf("length of ascending (%d) != length of by (%d)", len(cells), n)
	}
	for i, c := range cells {
		out[i] = truthy(c)
	}
	return out, nil
}

// sortPositions orders rows by several columns; missing values sort last.
func sortPositions(cols []*dataset.Column, ascending []bool, n int) []int {
	pos := make([]int, n)
	for i := range pos {
		pos[i] = i
	}
	slices.SortStableFunc(pos, func(a, b int) int {
		for k, c := range cols {
			va, vb := c.Values[a], c.Values[b]
			ma, mb := dataset.IsMissing(va), dataset.IsMissing(vb)
			switch {
			case ma && mb:
				continue
			case ma:
				return 1
			case mb:
				return -1
			}
			cmp := dataset.Compare(va, vb)
			if !ascending[k] {
				cmp = -cmp
			}
			if cmp != 0 {
				return cmp
			}
		}
		return 0
	})
	return pos
}

func frameSortValues(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kwargs, err := dropIgnored(kwargs)
	if err != nil {
		return nil, err
	}
	var by, ascending starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "by", &by, "ascending?", &ascending); err != nil {
		return nil, err
	}
	f := receiverFrame(b)
	names, err := stringsArg(by)
	if err != nil {
		return nil, err
	}
	cols := make([]*dataset.Column, len(names))
	for i, name := range names {
		if cols[i], err = f.column(name); err != nil {
			return nil, err
		}
	}
	asc, err := boolsArg(ascending, len(names))
	if err != nil {
		return nil, err
	}
	return f.take(sortPositions(cols, asc, f.NumRows())), nil
}

func frameNExtreme(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var n int
	var columns starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n", &n, "columns", &columns); err != nil {
		return nil, err
	}
	f := receiverFrame(b)
	names, err := stringsArg(columns)
	if err != nil {
		return nil, err
	}
	cols := make([]*dataset.Column, len(names))
	asc := make([]bool, len(names))
	for i, name := range names {
		if cols[i], err = f.column(name); err != nil {
			return nil, err
		}
		asc[i] = b.Name() == "nsmallest"
	}
	var keep []int
	for _, p := range sortPositions(cols, asc, f.NumRows()) {
		if len(keep) == n {
			break
		}
		if !dataset.IsMissing(cols[0].Values[p]) {
			keep = append(keep, p)
		}
	}
	return f.take(keep), nil
}

func frameGroupBy(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kwargs, err := dropIgnored(kwargs)
	if err != nil {
		return nil, err
	}
	var by starlark.Value
	asIndex := true
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "by", &by, "as_index?", &asIndex); err != nil {
		return nil, err
	}
	keys, err := stringsArg(by)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("groupby: no keys given")
	}
	f := receiverFrame(b)
	for _, k := range keys {
		if _, err := f.column(k); err != nil {
			return nil, err
		}
	}
	return &GroupBy{f: f, keys: keys, asIndex: asIndex}, nil
}

func frameDrop(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kwargs, err := dropIgnored(kwargs)
	if err != nil {
		return nil, err
	}
	var labels, columns starlark.Value
	axis := 0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "labels?", &labels, "axis?", &axis, "columns?", &columns); err != nil {
		return nil, err
	}
	f := receiverFrame(b)
	if columns == nil && labels != nil && axis == 0 {
		drop, err := iterableOrScalar(labels)
		if err != nil {
			return nil, err
		}
		set := cellSet(drop)
		var keep []int
		for i := range f.NumRows() {
			if _, ok := set[dataset.Key(f.label(i))]; !ok {
				keep = append(keep, i)
			}
		}
		return f.take(keep), nil
	}
	if columns == nil {
		columns = labels
	}
	if columns == nil {
		return nil, fmt.Errorf("drop: pass columns= or labels= with axis=1")
	}
	names, err := stringsArg(columns)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if _, err := f.column(name); err != nil {
			return nil, err
		}
	}
	var cols []*dataset.Column
	for _, c := range f.cols {
		if !slices.Contains(names, c.Name) {
			cols = append(cols, c)
		}
	}
	return f.derive(cols), nil
}

// iterableOrScalar accepts a single cell or an iterable of cells.
func iterableOrScalar(v starlark.Value) ([]any, error) {
	switch v.(type) {
	case *Series, *starlark.List, starlark.Tuple:
		return iterableToCells(v)
	}
	cell, err := StarlarkToCell(v)
	if err != nil {
		return nil, err
	}
	return []any{cell}, nil
}

func cellSet(cells []any) map[any]struct{} {
	set := make(map[any]struct{}, len(cells))
	for _, c := range cells {
		set[dataset.Key(c)] = struct{}{}
	}
	return set
}

func frameRename(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kwargs, err := dropIgnored(kwargs)
	if err != nil {
		return nil, err
	}
	var columns *starlark.Dict
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "columns", &columns); err != nil {
		return nil, err
	}
	f := receiverFrame(b)
	cols := make([]*dataset.Column, len(f.cols))
	for i, c := range f.cols {
		cols[i] = c
		v, found, err := columns.Get(starlark.String(c.Name))
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		name, ok := starlark.AsString(v)
		if !ok {
			return nil, fmt.Errorf("rename: new name for %q must be a string", c.Name)
		}
		cols[i] = &dataset.Column{Name: name, Type: c.Type, Values: c.Values}
	}
	return f.derive(cols), nil
}

func frameDropna(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kwargs, err := dropIgnored(kwargs)
	if err != nil {
		return nil, err
	}
	var subset starlark.Value
	how := "any"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "subset?", &subset, "how?", &how); err != nil {
		return nil, err
	}
	if how != "any" && how != "all" {
		return nil, fmt.Errorf("dropna: how must be 'any' or 'all'")
	}
	f := receiverFrame(b)
	cols := f.cols
	if subset != nil && subset != starlark.None {
		names, err := stringsArg(subset)
		if err != nil {
			return nil, err
		}
		sub, err := f.selectColumns(names)
		if err != nil {
			return nil, err
		}
		cols = sub.cols
	}
	var keep []int
	for i := range f.NumRows() {
		missing := 0
		for _, c := range cols {
			if c.IsMissing(i) {
				missing++
			}
		}
		drop := missing > 0
		if how == "all" {
			drop = len(cols) > 0 && missing == len(cols)
		}
		if !drop {
			keep = append(keep, i)
		}
	}
	return f.take(keep), nil
}

func frameFillna(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kwargs, err := dropIgnored(kwargs)
	if err != nil {
		return nil, err
	}
	var value starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "value", &value); err != nil {
		return nil, err
	}
	f := receiverFrame(b)
	fills := make(map[string]any, len(f.cols))
	if dict, ok := value.(*starlark.Dict); ok {
		for _, item := range dict.Items() {
			name, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("fillna: column names must be strings")
			}
			if fills[name], err = StarlarkToCell(item[1]); err != nil {
				return nil, err
			}
		}
	} else {
		fill, err := StarlarkToCell(value)
		if err != nil {
			return nil, err
		}
		for _, c := range f.cols {
			fills[c.Name] = fill
		}
	}

	cols := make([]*dataset.Column, len(f.cols))
	for i, c := range f.cols {
		fill, ok := fills[c.Name]
		if !ok || c.NullCount() == 0 {
			cols[i] = c
			continue
		}
		values := slices.Clone(c.Values)
		for j := range values {
			if dataset.IsMissing(values[j]) {
				values[j] = fill
			}
		}
		cols[i] = dataset.NewColumn(c.Name, values)
	}
	return f.derive(cols), nil
}

func frameDropDuplicates(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kwargs, err := dropIgnored(kwargs)
	if err != nil {
		return nil, err
	}
	var subset starlark.Value
	var keep starlark.Value = starlark.String("first")
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "subset?", &subset, "keep?", &keep); err != nil {
		return nil, err
	}
	f := receiverFrame(b)
	cols := f.cols
	if subset != nil && subset != starlark.None {
		names, err := stringsArg(subset)
		if err != nil {
			return nil, err
		}
		sub, err := f.selectColumns(names)
		if err != nil {
			return nil, err
		}
		cols = sub.cols
	}

	counts := make(map[string]int)
	rowKeys := make([]string, f.NumRows())
	for i := range rowKeys {
		rowKeys[i] = rowKey(cols, i)
		counts[rowKeys[i]]++
	}

	mode, _ := starlark.AsString(keep)
	if keep == starlark.False {
		mode = "none"
	}
	seen := make(map[string]int)
	var positions []int
	for i, k := range rowKeys {
		seen[k]++
		switch mode {
		case "first":
			if seen[k] == 1 {
				positions = append(positions, i)
			}
		case "last":
			if seen[k] == counts[k] {
				positions = append(positions, i)
			}
		case "none":
			if counts[k] == 1 {
				positions = append(positions, i)
			}
		default:
			return nil, fmt.Errorf("drop_duplicates: keep must be 'first', 'last' or False")
		}
	}
	return f.take(positions), nil
}

// rowKey renders the given columns of row i as a comparable key.
func rowKey(cols []*dataset.Column, i int) string {
	var sb strings.Builder
	for _, c := range cols {
		v := c.Values[i]
		if dataset.IsMissing(v) {
			sb.WriteString("\x00nil")
		} else {
			fmt.Fprintf(&sb, "\x00%T:%v", dataset.Key(v), dataset.Key(v))
		}
	}
	return sb.String()
}

func frameReduce(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kwargs, err := dropIgnored(kwargs)
	if err != nil {
		return nil, err
	}
	var axis starlark.Value = starlark.MakeInt(0)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "axis?", &axis); err != nil {
		return nil, err
	}
	f := receiverFrame(b)
	if isColumnsAxis(axis) {
		return f.reduceRows(b.Name())
	}
	var labels, values []any
	for _, c := range f.cols {
		if numericReducers[b.Name()] && !c.Type.IsNumeric() {
			continue
		}
		v, err := reduce(b.Name(), c.Values, c.Type)
		if err != nil {
			return nil, fmt.Errorf("%s: column %q: %w", b.Name(), c.Name, err)
		}
		labels = append(labels, c.Name)
		values = append(values, v)
	}
	return &Series{dtype: dataset.InferType(values), values: values, index: labels}, nil
}

func isColumnsAxis(axis starlark.Value) bool {
	switch a := axis.(type) {
	case starlark.String:
		return a == "columns"
	case starlark.Int:
		i, _ := a.Int64()
		return i == 1
	}
	return false
}

// reduceRows reduces the numeric cells of every row.
func (f *Frame) reduceRows(name string) (*Series, error) {
	var numeric []*dataset.Column
	for _, c := range f.cols {
		if c.Type.IsNumeric() {
			numeric = append(numeric, c)
		}
	}
	dtype := dataset.Int64
	for _, c := range numeric {
		if c.Type == dataset.Float64 {
			dtype = dataset.Float64
		}
	}
	out := make([]any, f.NumRows())
	row := make([]any, len(numeric))
	for i := range out {
		for j, c := range numeric {
			row[j] = c.Values[i]
		}
		v, err := reduce(name, row, dtype)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[i] = v
	}
	return &Series{dtype: dataset.InferType(out), values: out, index: f.index, indexName: f.indexName}, nil
}

func frameDescribe(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	f := receiverFrame(b)
	var targets []*dataset.Column
	for _, c := range f.cols {
		if c.Type.IsNumeric() {
			targets = append(targets, c)
		}
	}
	if len(targets) == 0 {
		targets = f.cols
	}
	var labels []any
	cols := make([]*dataset.Column, len(targets))
	for i, c := range targets {
		l, values, err := describeValues(c.Values, c.Type)
		if err != nil {
			return nil, fmt.Errorf("describe: column %q: %w", c.Name, err)
		}
		labels = l
		cols[i] = dataset.NewColumn(c.Name, values)
	}
	return &Frame{cols: cols, index: labels, labeled: true}, nil
}

func frameCorr(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kwargs, err := dropIgnored(kwargs)
	if err != nil {
		return nil, err
	}
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	f := receiverFrame(b)
	var numeric []*dataset.Column
	for _, c := range f.cols {
		if c.Type.IsNumeric() {
			numeric = append(numeric, c)
		}
	}
	labels := make([]any, len(numeric))
	cols := make([]*dataset.Column, len(numeric))
	for i, c := range numeric {
		labels[i] = c.Name
		values := make([]any, len(numeric))
		for j, other := range numeric {
			values[j] = pairwiseCorr(other.Values, c.Values)
		}
		cols[i] = &dataset.Column{Name: c.Name, Type: dataset.Float64, Values: values}
	}
	return &Frame{cols: cols, index: labels, labeled: true}, nil
}

func frameCopy(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	f := receiverFrame(b)
	cols := make([]*dataset.Column, len(f.cols))
	for i, c := range f.cols {
		cols[i] = c.Clone()
	}
	return f.derive(cols), nil
}

func frameResetIndex(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kwargs, err := dropIgnored(kwargs)
	if err != nil {
		return nil, err
	}
	drop := false
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "drop?", &drop); err != nil {
		return nil, err
	}
	f := receiverFrame(b)
	if drop || !f.labeled {
		return &Frame{cols: slices.Clone(f.cols)}, nil
	}
	return &Frame{cols: f.Dataset().Columns}, nil
}

func frameSetIndex(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kwargs, err := dropIgnored(kwargs)
	if err != nil {
		return nil, err
	}
	var key string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "keys", &key); err != nil {
		return nil, err
	}
	f := receiverFrame(b)
	idx, err := f.column(key)
	if err != nil {
		return nil, err
	}
	var cols []*dataset.Column
	for _, c := range f.cols {
		if c != idx {
			cols = append(cols, c)
		}
	}
	return &Frame{cols: cols, index: idx.Values, labeled: true, indexName: key}, nil
}

func frameToDict(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	orient := "dict"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "orient?", &orient); err != nil {
		return nil, err
	}
	f := receiverFrame(b)
	switch orient {
	case "records":
		rows := make([]starlark.Value, f.NumRows())
		for i := range rows {
			rows[i] = f.rowDict(i)
		}
		return starlark.NewList(rows), nil
	case "list", "dict":
		out := starlark.NewDict(len(f.cols))
		for _, c := range f.cols {
			var v starlark.Value
			if orient == "list" {
				v = valuesToStarlark(c.Values)
			} else {
				d := starlark.NewDict(len(c.Values))
				for i, cell := range c.Values {
					if err := d.SetKey(CellToStarlark(f.label(i)), CellToStarlark(cell)); err != nil {
						return nil, err
					}
				}
				v = d
			}
			if err := out.SetKey(starlark.String(c.Name), v); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("to_dict: unsupported orient %q", orient)
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reservedWords cannot name a query parameter.
var reservedWords = map[string]bool{
	"and": true, "as": true, "assert": true, "break": true, "class": true, "continue": true,
	"def": true, "del": true, "elif": true, "else": true, "except": true, "finally": true,
	"for": true, "from": true, "global": true, "if": true, "import": true, "in": true,
	"is": true, "lambda": true, "load": true, "nonlocal": true, "not": true, "or": true,
	"pass": true, "raise": true, "return": true, "try": true, "while": true, "with": true,
	"yield": true, "None": true, "True": true, "False": true,
}

// frameQuery filters rows with a boolean expression over column names,
// e.g. df.query("revenue > 100 and region == 'North'").
func frameQuery(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var expr string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "expr", &expr); err != nil {
		return nil, err
	}
	f := receiverFrame(b)
	var params []*dataset.Column
	for _, c := range f.cols {
		if identifierPattern.MatchString(c.Name) && !reservedWords[c.Name] {
			params = append(params, c)
		}
	}
	names := make([]string, len(params))
	for i, c := range params {
		names[i] = c.Name
	}
	src := fmt.Sprintf("lambda %s: (%s)", strings.Join(names, ", "), expr)
	fn, err := starlark.EvalOptions(&syntax.FileOptions{}, thread, "<query>", src, nil)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	var keep []int
	callArgs := make(starlark.Tuple, len(params))
	for i := range f.NumRows() {
		for j, c := range params {
			callArgs[j] = CellToStarlark(c.Values[i])
		}
		r, err := starlark.Call(thread, fn, callArgs, nil)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		if r.Truth() {
			keep = append(keep, i)
		}
	}
	return f.take(keep), nil
}

func frameApply(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Callable
	var axis starlark.Value = starlark.MakeInt(0)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "func", &fn, "axis?", &axis); err != nil {
		return nil, err
	}
	f := receiverFrame(b)
	if isColumnsAxis(axis) {
		out := make([]any, f.NumRows())
		for i := range out {
			r, err := starlark.Call(thread, fn, starlark.Tuple{f.rowDict(i)}, nil)
			if err != nil {
				return nil, err
			}
			if out[i], err = StarlarkToCell(r); err != nil {
				return nil, fmt.Errorf("apply: %w", err)
			}
		}
		return &Series{dtype: dataset.InferType(out), values: out, index: f.index, indexName: f.indexName}, nil
	}
	labels := make([]any, len(f.cols))
	out := make([]any, len(f.cols))
	for i, c := range f.cols {
		r, err := starlark.Call(thread, fn, starlark.Tuple{f.series(c)}, nil)
		if err != nil {
			return nil, err
		}
		labels[i] = c.Name
		if out[i], err = StarlarkToCell(r); err != nil {
			return nil, fmt.Errorf("apply: %w", err)
		}
	}
	return &Series{dtype: dataset.InferType(out), values: out, index: labels}, nil
}

func frameAssign(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("assign: only keyword arguments are accepted")
	}
	f := receiverFrame(b)
	out := f.derive(slices.Clone(f.cols))
	for _, kv := range kwargs {
		name, _ := starlark.AsString(kv[0])
		v := kv[1]
		if fn, ok := v.(starlark.Callable); ok {
			r, err := starlark.Call(thread, fn, starlark.Tuple{out}, nil)
			if err != nil {
				return nil, err
			}
			v = r
		}
		values, err := operand(v, out.NumRows())
		if err != nil {
			return nil, fmt.Errorf("assign %s: %w", name, err)
		}
		out.setColumn(dataset.NewColumn(name, slices.Clone(values)))
	}
	return out, nil
}

// dtypeGroups maps select_dtypes selectors to the types they include.
var dtypeGroups = map[string][]dataset.DType{
	"number":     {dataset.Int64, dataset.Float64},
	"numeric":    {dataset.Int64, dataset.Float64},
	"int":        {dataset.Int64},
	"int64":      {dataset.Int64},
	"float":      {dataset.Float64},
	"float64":    {dataset.Float64},
	"bool":       {dataset.Bool},
	"object":     {dataset.String},
	"string":     {dataset.String},
	"str":        {dataset.String},
	"category":   {dataset.String},
	"datetime":   {dataset.Datetime},
	"datetime64": {dataset.Datetime},
}

func frameSelectDtypes(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var include, exclude starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "include?", &include, "exclude?", &exclude); err != nil {
		return nil, err
	}
	resolve := func(v starlark.Value) (map[dataset.DType]bool, error) {
		if v == nil || v == starlark.None {
			return nil, nil
		}
		names, err := stringsArg(v)
		if err != nil {
			return nil, err
		}
		out := make(map[dataset.DType]bool)
		for _, n := range names {
			types, ok := dtypeGroups[n]
			if !ok {
				return nil, fmt.Errorf("select_dtypes: unknown dtype %q", n)
			}
			for _, t := range types {
				out[t] = true
			}
		}
		return out, nil
	}
	inc, err := resolve(include)
	if err != nil {
		return nil, err
	}
	exc, err := resolve(exclude)
	if err != nil {
		return nil, err
	}
	f := receiverFrame(b)
	var cols []*dataset.Column
	for _, c := range f.cols {
		if (inc == nil || inc[c.Type]) && !exc[c.Type] {
			cols = append(cols, c)
		}
	}
	return f.derive(cols), nil
}

func frameIsna(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	want := b.Name() == "isna" || b.Name() == "isnull"
	f := receiverFrame(b)
	cols := make([]*dataset.Column, len(f.cols))
	for i, c := range f.cols {
		values := make([]any, c.Len())
		for j := range values {
			values[j] = c.IsMissing(j) == want
		}
		cols[i] = &dataset.Column{Name: c.Name, Type: dataset.Bool, Values: values}
	}
	return f.derive(cols), nil
}

func frameRound(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	decimals := 0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "decimals?", &decimals); err != nil {
		return nil, err
	}
	f := receiverFrame(b)
	cols := make([]*dataset.Column, len(f.cols))
	for i, c := range f.cols {
		if c.Type != dataset.Float64 {
			cols[i] = c
			continue
		}
		values := make([]any, c.Len())
		for j, v := range c.Values {
			if x, ok := v.(float64); ok {
				values[j] = stats.Round(x, decimals)
			}
		}
		cols[i] = &dataset.Column{Name: c.Name, Type: c.Type, Values: values}
	}
	return f.derive(cols), nil
}

func frameIterrows(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	f := receiverFrame(b)
	rows := make([]starlark.Value, f.NumRows())
	for i := range rows {
		rows[i] = starlark.Tuple{CellToStarlark(f.label(i)), f.rowDict(i)}
	}
	return starlark.NewList(rows), nil
}

func frameMerge(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var right *Frame
	var on starlark.Value
	how := "inner"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "right", &right, "on", &on, "how?", &how); err != nil {
		return nil, err
	}
	keys, err := stringsArg(on)
	if err != nil {
		return nil, err
	}
	return mergeFrames(receiverFrame(b), right, keys, how)
}

// mergeFrames joins two frames on equal key columns. Overlapping non-key
// columns get _x and _y suffixes.
func mergeFrames(left, right *Frame, keys []string, how string) (*Frame, error) {
	if how != "inner" && how != "left" {
		return nil, fmt.Errorf("merge: how must be 'inner' or 'left'")
	}
	leftKeys, err := left.selectColumns(keys)
	if err != nil {
		return nil, err
	}
	rightKeys, err := right.selectColumns(keys)
	if err != nil {
		return nil, err
	}

	matches := make(map[string][]int)
	for j := range right.NumRows() {
		k := rowKey(rightKeys.cols, j)
		matches[k] = append(matches[k], j)
	}

	var leftPos, rightPos []int
	for i := range left.NumRows() {
		ms := matches[rowKey(leftKeys.cols, i)]
		if len(ms) == 0 && how == "left" {
			leftPos = append(leftPos, i)
			rightPos = append(rightPos, -1)
		}
		for _, j := range ms {
			leftPos = append(leftPos, i)
			rightPos = append(rightPos, j)
		}
	}

	overlap := make(map[string]bool)
	for _, c := range right.cols {
		if _, err := left.column(c.Name); err == nil && !slices.Contains(keys, c.Name) {
			overlap[c.Name] = true
		}
	}

	var cols []*dataset.Column
	for _, c := range left.cols {
		name := c.Name
		if overlap[name] {
			name += "_x"
		}
		values := make([]any, len(leftPos))
		for r, p := range leftPos {
			values[r] = c.Values[p]
		}
		cols = append(cols, &dataset.Column{Name: name, Type: c.Type, Values: values})
	}
	for _, c := range right.cols {
		if slices.Contains(keys, c.Name) {
			continue
		}
		name := c.Name
		if overlap[name] {
			name += "_y"
		}
		values := make([]any, len(rightPos))
		for r, p := range rightPos {
			if p >= 0 {
				values[r] = c.Values[p]
			}
		}
		cols = append(cols, dataset.NewColumn(name, values))
	}
	return &Frame{cols: cols}, nil
}

func framePivotTable(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kwargs, err := dropIgnored(kwargs)
	if err != nil {
		return nil, err
	}
	var values, index, columns, fillValue starlark.Value
	aggfunc := "mean"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"values", &values, "index", &index, "columns?", &columns, "aggfunc?", &aggfunc, "fill_value?", &fillValue); err != nil {
		return nil, err
	}
	f := receiverFrame(b)
	valueNames, err := stringsArg(values)
	if err != nil {
		return nil, err
	}
	indexNames, err := stringsArg(index)
	if err != nil {
		return nil, err
	}
	var fill any
	if fillValue != nil {
		if fill, err = StarlarkToCell(fillValue); err != nil {
			return nil, err
		}
	}

	g := &GroupBy{f: f, keys: indexNames, selection: valueNames, asIndex: false}
	if columns == nil || columns == starlark.None {
		return g.aggregate(aggfunc)
	}
	pivotName, ok := starlark.AsString(columns)
	if !ok {
		return nil, fmt.Errorf("pivot_table: columns must be a single column name")
	}
	if len(valueNames) != 1 {
		return nil, fmt.Errorf("pivot_table: exactly one values column is supported with columns=")
	}
	pivotCol, err := f.column(pivotName)
	if err != nil {
		return nil, err
	}
	valueCol, err := f.column(valueNames[0])
	if err != nil {
		return nil, err
	}

	groups, err := g.groups()
	if err != nil {
		return nil, err
	}
	pivots := distinctSorted(pivotCol.Values)
	cols := g.keyColumns(groups)
	for _, pv := range pivots {
		out := make([]any, len(groups))
		for gi, grp := range groups {
			var cells []any
			for _, p := range grp.rows {
				if !dataset.IsMissing(pivotCol.Values[p]) && dataset.Key(pivotCol.Values[p]) == dataset.Key(pv) {
					cells = append(cells, valueCol.Values[p])
				}
			}
			if len(cells) == 0 {
				out[gi] = fill
				continue
			}
			v, err := reduce(aggfunc, cells, valueCol.Type)
			if err != nil {
				return nil, fmt.Errorf("pivot_table: %w", err)
			}
			out[gi] = v
		}
		cols = append(cols, dataset.NewColumn(dataset.FormatValue(pv), out))
	}
	return &Frame{cols: cols}, nil
}

// distinctSorted returns the present distinct values in ascending order.
func distinctSorted(values []any) []any {
	seen := make(map[any]struct{})
	var out []any
	for _, v := range values {
		if dataset.IsMissing(v) {
			continue
		}
		if _, ok := seen[dataset.Key(v)]; ok {
			continue
		}
		seen[dataset.Key(v)] = struct{}{}
		out = append(out, v)
	}
	slices.SortFunc(out, dataset.Compare)
	return out
}
