package starlark

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/datalens/internal/dataset"
	"github.com/leapstack-labs/datalens/internal/stats"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Series is a labeled one-dimensional column of cells.
// Series values are never mutated in place; every method returns a new value.
type Series struct {
	name      string
	dtype     dataset.DType
	values    []any
	index     []any // nil means positional labels 0..n-1
	indexName string
	frozen    bool
}

var (
	_ starlark.HasAttrs  = (*Series)(nil)
	_ starlark.HasBinary = (*Series)(nil)
	_ starlark.HasUnary  = (*Series)(nil)
	_ starlark.Indexable = (*Series)(nil)
	_ starlark.Mapping   = (*Series)(nil)
	_ starlark.Sequence  = (*Series)(nil)
)

// NewSeries creates a positional series, inferring its type from the values.
func NewSeries(name string, values []any) *Series {
	return &Series{name: name, dtype: dataset.InferType(values), values: values}
}

// derive creates a series sharing the receiver's labels and name.
func (s *Series) derive(values []any) *Series {
	return &Series{
		name:      s.name,
		dtype:     dataset.InferType(values),
		values:    values,
		index:     s.index,
		indexName: s.indexName,
	}
}

// subset creates a series holding the given positions of the receiver.
func (s *Series) subset(positions []int) *Series {
	values := make([]any, len(positions))
	labels := make([]any, len(positions))
	for i, p := range positions {
		values[i] = s.values[p]
		labels[i] = s.label(p)
	}
	return &Series{name: s.name, dtype: s.dtype, values: values, index: labels, indexName: s.indexName}
}

// Name returns the series name.
func (s *Series) Name() string { return s.name }

// Values returns the underlying cells.
func (s *Series) Values() []any { return s.values }

// DType returns the element type.
func (s *Series) DType() dataset.DType { return s.dtype }

func (s *Series) label(i int) any {
	if s.index == nil {
		return int64(i)
	}
	return s.index[i]
}

// Labels returns the index labels.
func (s *Series) Labels() []any {
	labels := make([]any, len(s.values))
	for i := range labels {
		labels[i] = s.label(i)
	}
	return labels
}

// ToRecord returns the series as label text → value, in series order.
func (s *Series) ToRecord() dataset.Record {
	keys := make([]string, len(s.values))
	values := make([]any, len(s.values))
	for i, v := range s.values {
		keys[i] = dataset.FormatValue(s.label(i))
		values[i] = dataset.Normalize(v)
	}
	return dataset.RecordOf(keys, values)
}

func (s *Series) String() string {
	const maxRows = 20
	var sb strings.Builder
	width := 0
	n := min(len(s.values), maxRows)
	for i := range n {
		width = max(width, len(dataset.FormatValue(s.label(i))))
	}
	for i := range n {
		label := dataset.FormatValue(s.label(i))
		fmt.Fprintf(&sb, "%-*s    %s\n", width, label, dataset.FormatValue(s.values[i]))
	}
	if len(s.values) > maxRows {
		fmt.Fprintf(&sb, "... (%d more)\n", len(s.values)-maxRows)
	}
	if s.name != "" {
		fmt.Fprintf(&sb, "Name: %s, ", s.name)
	}
	fmt.Fprintf(&sb, "dtype: %s", s.dtype)
	return sb.String()
}

// Type returns "Series".
func (s *Series) Type() string { return "Series" }

// Freeze marks the series frozen.
func (s *Series) Freeze() { s.frozen = true }

// Truth reports whether the series is non-empty.
func (s *Series) Truth() starlark.Bool { return len(s.values) > 0 }

// Hash fails: series are unhashable.
func (s *Series) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: Series") }

// Len returns the number of elements.
func (s *Series) Len() int { return len(s.values) }

// Index returns the element at position i.
func (s *Series) Index(i int) starlark.Value { return CellToStarlark(s.values[i]) }

// Get implements s[label], s[mask] and s[[labels]]. An integer that is not
// a label selects by position.
func (s *Series) Get(k starlark.Value) (starlark.Value, bool, error) {
	switch key := k.(type) {
	case *Series:
		pos, err := maskPositions(key.values, len(s.values))
		if err != nil {
			return nil, false, err
		}
		return s.subset(pos), true, nil
	case *starlark.List, starlark.Tuple:
		cells, err := iterableToCells(key)
		if err != nil {
			return nil, false, err
		}
		if len(cells) > 0 {
			if _, ok := cells[0].(bool); ok {
				pos, err := maskPositions(cells, len(s.values))
				if err != nil {
					return nil, false, err
				}
				return s.subset(pos), true, nil
			}
		}
		pos := make([]int, 0, len(cells))
		for _, c := range cells {
			i, ok := s.find(c)
			if !ok {
				return nil, false, fmt.Errorf("KeyError: label %s not found", dataset.FormatValue(c))
			}
			pos = append(pos, i)
		}
		return s.subset(pos), true, nil
	}
	label, err := StarlarkToCell(k)
	if err != nil {
		return nil, false, err
	}
	if i, ok := s.find(label); ok {
		return CellToStarlark(s.values[i]), true, nil
	}
	if i, ok := label.(int64); ok {
		if i < 0 {
			i += int64(len(s.values))
		}
		if i >= 0 && i < int64(len(s.values)) {
			return CellToStarlark(s.values[i]), true, nil
		}
	}
	return nil, false, nil
}

// find returns the position of the first element labeled l.
func (s *Series) find(l any) (int, bool) {
	if dataset.IsMissing(l) {
		return 0, false
	}
	for i := range s.values {
		if dataset.Key(s.label(i)) == dataset.Key(l) {
			return i, true
		}
	}
	return 0, false
}

// Iterate iterates over the values.
func (s *Series) Iterate() starlark.Iterator { return &cellIterator{values: s.values} }

type cellIterator struct {
	values []any
	i      int
}

func (it *cellIterator) Next(p *starlark.Value) bool {
	if it.i >= len(it.values) {
		return false
	}
	*p = CellToStarlark(it.values[it.i])
	it.i++
	return true
}

func (it *cellIterator) Done() {}

// Attr returns a property or bound method.
func (s *Series) Attr(name string) (starlark.Value, error) {
	switch name {
	case "name":
		if s.name == "" {
			return starlark.None, nil
		}
		return starlark.String(s.name), nil
	case "dtype":
		return starlark.String(s.dtype), nil
	case "values":
		return valuesToStarlark(s.values), nil
	case "index":
		return valuesToStarlark(s.Labels()), nil
	case "size":
		return starlark.MakeInt(len(s.values)), nil
	case "shape":
		return starlark.Tuple{starlark.MakeInt(len(s.values))}, nil
	case "empty":
		return starlark.Bool(len(s.values) == 0), nil
	case "str":
		return &strAccessor{s: s}, nil
	case "dt":
		return &dtAccessor{s: s}, nil
	}
	if m, ok := seriesMethods[name]; ok {
		return m.BindReceiver(s), nil
	}
	return nil, nil
}

// AttrNames lists properties and methods.
func (s *Series) AttrNames() []string {
	names := []string{"dt", "dtype", "empty", "index", "name", "shape", "size", "str", "values"}
	for name := range seriesMethods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Binary implements elementwise arithmetic and logical operators.
func (s *Series) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	switch op {
	case syntax.PLUS, syntax.MINUS, syntax.STAR, syntax.SLASH, syntax.SLASHSLASH, syntax.PERCENT,
		syntax.AMP, syntax.PIPE, syntax.CIRCUMFLEX:
	default:
		return nil, nil
	}
	other, err := operand(y, len(s.values))
	if err != nil {
		return nil, err
	}
	out := make([]any, len(s.values))
	for i := range out {
		a, b := s.values[i], other[i]
		if side == starlark.Right {
			a, b = b, a
		}
		switch op {
		case syntax.AMP, syntax.PIPE, syntax.CIRCUMFLEX:
			out[i], err = logical(op, a, b)
		default:
			out[i], err = arith(op, a, b)
		}
		if err != nil {
			return nil, err
		}
	}
	return s.derive(out), nil
}

// Unary implements -s, +s and ~s.
func (s *Series) Unary(op syntax.Token) (starlark.Value, error) {
	out := make([]any, len(s.values))
	for i, v := range s.values {
		switch op {
		case syntax.MINUS:
			r, err := arith(syntax.MINUS, int64(0), v)
			if err != nil {
				return nil, err
			}
			out[i] = r
		case syntax.PLUS:
			out[i] = v
		case syntax.TILDE:
			if dataset.IsMissing(v) {
				out[i] = true
				continue
			}
			out[i] = !truthy(v)
		default:
			return nil, nil
		}
	}
	return s.derive(out), nil
}

// operand expands the right-hand side of an elementwise operation to n cells.
func operand(y starlark.Value, n int) ([]any, error) {
	switch other := y.(type) {
	case *Series:
		if other.Len() != n {
			return nil, fmt.Errorf("series lengths differ: %d and %d", n, other.Len())
		}
		return other.values, nil
	case *starlark.List, starlark.Tuple:
		cells, err := iterableToCells(other)
		if err != nil {
			return nil, err
		}
		if len(cells) != n {
			return nil, fmt.Errorf("operand length %d does not match series length %d", len(cells), n)
		}
		return cells, nil
	}
	cell, err := StarlarkToCell(y)
	if err != nil {
		return nil, err
	}
	out := make([]any, n)
	for i := range out {
		out[i] = cell
	}
	return out, nil
}

var seriesMethods map[string]*starlark.Builtin

func init() {
	seriesMethods = map[string]*starlark.Builtin{
		"abs":          starlark.NewBuiltin("abs", seriesAbs),
		"apply":        starlark.NewBuiltin("apply", seriesApply),
		"astype":       starlark.NewBuiltin("astype", seriesAstype),
		"between":      starlark.NewBuiltin("between", seriesBetween),
		"copy":         starlark.NewBuiltin("copy", seriesCopy),
		"corr":         starlark.NewBuiltin("corr", seriesCorr),
		"cumsum":       starlark.NewBuiltin("cumsum", seriesCumsum),
		"describe":     starlark.NewBuiltin("describe", seriesDescribe),
		"diff":         starlark.NewBuiltin("diff", seriesDiff),
		"dropna":       starlark.NewBuiltin("dropna", seriesDropna),
		"fillna":       starlark.NewBuiltin("fillna", seriesFillna),
		"head":         starlark.NewBuiltin("head", seriesHead),
		"idxmax":       starlark.NewBuiltin("idxmax", seriesIdxExtreme),
		"idxmin":       starlark.NewBuiltin("idxmin", seriesIdxExtreme),
		"isin":         starlark.NewBuiltin("isin", seriesIsin),
		"isna":         starlark.NewBuiltin("isna", seriesIsna),
		"isnull":       starlark.NewBuiltin("isnull", seriesIsna),
		"map":          starlark.NewBuiltin("map", seriesMap),
		"nlargest":     starlark.NewBuiltin("nlargest", seriesNExtreme),
		"notna":        starlark.NewBuiltin("notna", seriesIsna),
		"notnull":      starlark.NewBuiltin("notnull", seriesIsna),
		"nsmallest":    starlark.NewBuiltin("nsmallest", seriesNExtreme),
		"pct_change":   starlark.NewBuiltin("pct_change", seriesDiff),
		"quantile":     starlark.NewBuiltin("quantile", seriesQuantile),
		"rename":       starlark.NewBuiltin("rename", seriesRename),
		"reset_index":  starlark.NewBuiltin("reset_index", seriesResetIndex),
		"round":        starlark.NewBuiltin("round", seriesRound),
		"shift":        starlark.NewBuiltin("shift", seriesShift),
		"sort_index":   starlark.NewBuiltin("sort_index", seriesSortIndex),
		"sort_values":  starlark.NewBuiltin("sort_values", seriesSortValues),
		"tail":         starlark.NewBuiltin("tail", seriesTail),
		"to_dict":      starlark.NewBuiltin("to_dict", seriesToDict),
		"to_frame":     starlark.NewBuiltin("to_frame", seriesToFrame),
		"to_list":      starlark.NewBuiltin("to_list", seriesToList),
		"tolist":       starlark.NewBuiltin("tolist", seriesToList),
		"unique":       starlark.NewBuiltin("unique", seriesUnique),
		"value_counts": starlark.NewBuiltin("value_counts", seriesValueCounts),
	}
	for name := range reducers {
		seriesMethods[name] = starlark.NewBuiltin(name, seriesReduce)
	}
	for _, name := range []string{"eq", "ne", "lt", "le", "gt", "ge"} {
		seriesMethods[name] = starlark.NewBuiltin(name, seriesCompare)
	}
}

// comparisonOps maps comparison method names to operators.
var comparisonOps = map[string]syntax.Token{
	"eq": syntax.EQL,
	"ne": syntax.NEQ,
	"lt": syntax.LT,
	"le": syntax.LE,
	"gt": syntax.GT,
	"ge": syntax.GE,
}

func receiverSeries(b *starlark.Builtin) *Series {
	return b.Receiver().(*Series)
}

// ignoredKwargs are pandas keyword arguments accepted and ignored because the
// behavior they select is the only one available here.
var ignoredKwargs = map[string]bool{
	"skipna":       true,
	"numeric_only": true,
	"dropna":       true,
	"sort":         true,
}

func dropIgnored(kwargs []starlark.Tuple) ([]starlark.Tuple, error) {
	out := kwargs[:0:0]
	for _, kv := range kwargs {
		name, _ := starlark.AsString(kv[0])
		if name == "inplace" {
			return nil, fmt.Errorf("inplace is not supported; assign the result instead")
		}
		if ignoredKwargs[name] {
			continue
		}
		out = append(out, kv)
	}
	return out, nil
}

func seriesReduce(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kwargs, err := dropIgnored(kwargs)
	if err != nil {
		return nil, err
	}
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	v, err := reduce(b.Name(), s.values, s.dtype)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return CellToStarlark(v), nil
}

func seriesCompare(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var other starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &other); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	return s.compareWith(comparisonOps[b.Name()], other)
}

func (s *Series) compareWith(op syntax.Token, other starlark.Value) (*Series, error) {
	rhs, err := operand(other, len(s.values))
	if err != nil {
		return nil, err
	}
	out := make([]any, len(s.values))
	for i, v := range s.values {
		r, err := compareCells(op, v, rhs[i])
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return s.derive(out), nil
}

func seriesIsin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var values starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &values); err != nil {
		return nil, err
	}
	cells, err := iterableToCells(values)
	if err != nil {
		return nil, err
	}
	set := make(map[any]struct{}, len(cells))
	for _, c := range cells {
		set[dataset.Key(c)] = struct{}{}
	}
	s := receiverSeries(b)
	out := make([]any, len(s.values))
	for i, v := range s.values {
		_, ok := set[dataset.Key(v)]
		out[i] = ok && !dataset.IsMissing(v)
	}
	return s.derive(out), nil
}

func seriesBetween(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var left, right starlark.Value
	inclusive := "both"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "left", &left, "right", &right, "inclusive?", &inclusive); err != nil {
		return nil, err
	}
	lo, hi := syntax.GE, syntax.LE
	switch inclusive {
	case "both":
	case "neither":
		lo, hi = syntax.GT, syntax.LT
	case "left":
		hi = syntax.LT
	case "right":
		lo = syntax.GT
	default:
		return nil, fmt.Errorf("between: inclusive must be one of both, neither, left, right")
	}
	s := receiverSeries(b)
	ge, err := s.compareWith(lo, left)
	if err != nil {
		return nil, err
	}
	le, err := s.compareWith(hi, right)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(s.values))
	for i := range out {
		out[i] = ge.values[i].(bool) && le.values[i].(bool)
	}
	return s.derive(out), nil
}

func seriesIsna(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	want := b.Name() == "isna" || b.Name() == "isnull"
	s := receiverSeries(b)
	out := make([]any, len(s.values))
	for i, v := range s.values {
		out[i] = dataset.IsMissing(v) == want
	}
	return s.derive(out), nil
}

func seriesFillna(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "value", &value); err != nil {
		return nil, err
	}
	fill, err := StarlarkToCell(value)
	if err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	out := make([]any, len(s.values))
	for i, v := range s.values {
		if dataset.IsMissing(v) {
			out[i] = fill
		} else {
			out[i] = v
		}
	}
	return s.derive(out), nil
}

func seriesDropna(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	var keep []int
	for i, v := range s.values {
		if !dataset.IsMissing(v) {
			keep = append(keep, i)
		}
	}
	return s.subset(keep), nil
}

func seriesHead(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	n := 5
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n?", &n); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	return s.subset(headPositions(len(s.values), n)), nil
}

func seriesTail(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	n := 5
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n?", &n); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	return s.subset(tailPositions(len(s.values), n)), nil
}

func headPositions(length, n int) []int {
	if n < 0 {
		n = max(length+n, 0)
	}
	n = min(n, length)
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func tailPositions(length, n int) []int {
	if n < 0 {
		n = max(length+n, 0)
	}
	n = min(n, length)
	out := make([]int, n)
	for i := range out {
		out[i] = length - n + i
	}
	return out
}

// sortedPositions orders positions by value; missing values always sort last.
func sortedPositions(values []any, ascending bool) []int {
	pos := make([]int, len(values))
	for i := range pos {
		pos[i] = i
	}
	slices.SortStableFunc(pos, func(a, b int) int {
		va, vb := values[a], values[b]
		ma, mb := dataset.IsMissing(va), dataset.IsMissing(vb)
		switch {
		case ma && mb:
			return 0
		case ma:
			return 1
		case mb:
			return -1
		}
		c := dataset.Compare(va, vb)
		if !ascending {
			c = -c
		}
		return c
	})
	return pos
}

func seriesSortValues(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	ascending := true
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "ascending?", &ascending); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	return s.subset(sortedPositions(s.values, ascending)), nil
}

func seriesSortIndex(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	ascending := true
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "ascending?", &ascending); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	return s.subset(sortedPositions(s.Labels(), ascending)), nil
}

func seriesNExtreme(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	n := 5
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n?", &n); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	pos := sortedPositions(s.values, b.Name() == "nsmallest")
	var keep []int
	for _, p := range pos {
		if len(keep) == n {
			break
		}
		if !dataset.IsMissing(s.values[p]) {
			keep = append(keep, p)
		}
	}
	return s.subset(keep), nil
}

func seriesIdxExtreme(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kwargs, err := dropIgnored(kwargs)
	if err != nil {
		return nil, err
	}
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	sign := 1
	if b.Name() == "idxmin" {
		sign = -1
	}
	best := -1
	for i, v := range s.values {
		if dataset.IsMissing(v) {
			continue
		}
		if best < 0 || dataset.Compare(v, s.values[best])*sign > 0 {
			best = i
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("%s: series has no values", b.Name())
	}
	return CellToStarlark(s.label(best)), nil
}

func seriesUnique(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	seen := make(map[any]struct{})
	var out []any
	for _, v := range s.values {
		k := dataset.Key(v)
		if dataset.IsMissing(v) {
			k = nil
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return valuesToStarlark(out), nil
}

// valueCounts returns distinct present values ordered by count descending,
// ties in first-seen order.
func valueCounts(values []any) (distinct []any, counts []int) {
	index := make(map[any]int)
	for _, v := range values {
		if dataset.IsMissing(v) {
			continue
		}
		k := dataset.Key(v)
		i, ok := index[k]
		if !ok {
			i = len(distinct)
			index[k] = i
			distinct = append(distinct, v)
			counts = append(counts, 0)
		}
		counts[i]++
	}
	order := make([]int, len(distinct))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int { return counts[b] - counts[a] })

	sortedValues := make([]any, len(order))
	sortedCounts := make([]int, len(order))
	for i, o := range order {
		sortedValues[i] = distinct[o]
		sortedCounts[i] = counts[o]
	}
	return sortedValues, sortedCounts
}

func seriesValueCounts(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kwargs, err := dropIgnored(kwargs)
	if err != nil {
		return nil, err
	}
	normalize, ascending := false, false
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "normalize?", &normalize, "ascending?", &ascending); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	distinct, counts := valueCounts(s.values)
	if ascending {
		slices.Reverse(distinct)
		slices.Reverse(counts)
	}

	total := 0
	for _, c := range counts {
		total += c
	}
	out := make([]any, len(counts))
	name := "count"
	for i, c := range counts {
		if normalize {
			out[i] = float64(c) / float64(total)
			name = "proportion"
		} else {
			out[i] = int64(c)
		}
	}
	indexName := s.name
	if indexName == "" {
		indexName = "index"
	}
	return &Series{name: name, dtype: dataset.InferType(out), values: out, index: distinct, indexName: indexName}, nil
}

func seriesRound(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	decimals := 0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "decimals?", &decimals); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	out := make([]any, len(s.values))
	for i, v := range s.values {
		if f, ok := v.(float64); ok {
			out[i] = stats.Round(f, decimals)
		} else {
			out[i] = v
		}
	}
	return s.derive(out), nil
}

func seriesAbs(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	out := make([]any, len(s.values))
	for i, v := range s.values {
		switch val := v.(type) {
		case int64:
			if val < 0 {
				val = -val
			}
			out[i] = val
		case float64:
			out[i] = math.Abs(val)
		case nil:
		default:
			return nil, fmt.Errorf("abs: bad operand type %s", kindOf(v))
		}
	}
	return s.derive(out), nil
}

func seriesCumsum(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	out := make([]any, len(s.values))
	var acc any = int64(0)
	for i, v := range s.values {
		if dataset.IsMissing(v) {
			continue
		}
		r, err := arith(syntax.PLUS, acc, v)
		if err != nil {
			return nil, fmt.Errorf("cumsum: %w", err)
		}
		acc = r
		out[i] = r
	}
	return s.derive(out), nil
}

func seriesShift(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	periods := 1
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "periods?", &periods); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	return s.derive(shifted(s.values, periods)), nil
}

func shifted(values []any, periods int) []any {
	out := make([]any, len(values))
	for i := range out {
		j := i - periods
		if j >= 0 && j < len(values) {
			out[i] = values[j]
		}
	}
	return out
}

// seriesDiff implements diff and pct_change.
func seriesDiff(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	periods := 1
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "periods?", &periods); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	prev := shifted(s.values, periods)
	out := make([]any, len(s.values))
	for i, v := range s.values {
		d, err := arith(syntax.MINUS, v, prev[i])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		if b.Name() == "pct_change" && d != nil {
			d, err = arith(syntax.SLASH, d, prev[i])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			if n, ok := d.(int64); ok {
				d = float64(n)
			}
		}
		out[i] = d
	}
	return s.derive(out), nil
}

func seriesQuantile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var q starlark.Value = starlark.Float(0.5)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "q?", &q); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	xs, err := presentFloats(s.values)
	if err != nil {
		return nil, fmt.Errorf("quantile: %w", err)
	}
	if f, ok := starlark.AsFloat(q); ok {
		return CellToStarlark(stats.Quantile(xs, f)), nil
	}
	qs, err := iterableToCells(q)
	if err != nil {
		return nil, fmt.Errorf("quantile: %w", err)
	}
	out := make([]any, len(qs))
	for i, qv := range qs {
		f, ok := dataset.ToFloat(qv)
		if !ok {
			return nil, fmt.Errorf("quantile: q must be numeric")
		}
		out[i] = dataset.Normalize(stats.Quantile(xs, f))
	}
	return &Series{name: s.name, dtype: dataset.Float64, values: out, index: qs}, nil
}

func seriesDescribe(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	labels, values, err := describeValues(s.values, s.dtype)
	if err != nil {
		return nil, err
	}
	return &Series{name: s.name, dtype: dataset.InferType(values), values: values, index: labels}, nil
}

// describeValues summarizes a column: numeric columns get count, mean, std,
// min, quartiles and max; other columns get count, unique, top and freq.
func describeValues(values []any, dtype dataset.DType) ([]any, []any, error) {
	if dtype.IsNumeric() {
		xs, err := presentFloats(values)
		if err != nil {
			return nil, nil, err
		}
		q := stats.Quantiles(xs, 0.25, 0.5, 0.75)
		labels := []any{"count", "mean", "std", "min", "25%", "50%", "75%", "max"}
		out := []any{float64(len(xs)), stats.Mean(xs), stats.StdDev(xs), stats.Min(xs), q[0], q[1], q[2], stats.Max(xs)}
		for i := range out {
			out[i] = dataset.Normalize(out[i])
		}
		return labels, out, nil
	}
	distinct, counts := valueCounts(values)
	count, _ := reduceCount(values, dtype)
	labels := []any{"count", "unique", "top", "freq"}
	out := []any{count, int64(len(distinct)), nil, nil}
	if len(distinct) > 0 {
		out[2] = distinct[0]
		out[3] = int64(counts[0])
	}
	return labels, out, nil
}

func seriesCorr(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var other *Series
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &other); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	if other.Len() != s.Len() {
		return nil, fmt.Errorf("corr: series lengths differ: %d and %d", s.Len(), other.Len())
	}
	return CellToStarlark(pairwiseCorr(s.values, other.values)), nil
}

// pairwiseCorr is the Pearson correlation over rows where both cells are present.
func pairwiseCorr(a, b []any) any {
	var xs, ys []float64
	for i := range a {
		if dataset.IsMissing(a[i]) || dataset.IsMissing(b[i]) {
			continue
		}
		x, okX := dataset.ToFloat(a[i])
		y, okY := dataset.ToFloat(b[i])
		if okX && okY {
			xs = append(xs, x)
			ys = append(ys, y)
		}
	}
	return dataset.Normalize(stats.Correlation(xs, ys))
}

func seriesAstype(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var target string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &target); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	out := make([]any, len(s.values))
	for i, v := range s.values {
		c, err := convertCell(v, target)
		if err != nil {
			return nil, fmt.Errorf("astype: %w", err)
		}
		out[i] = c
	}
	return s.derive(out), nil
}

func seriesApply(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Callable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &fn); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	out := make([]any, len(s.values))
	for i, v := range s.values {
		r, err := starlark.Call(thread, fn, starlark.Tuple{CellToStarlark(v)}, nil)
		if err != nil {
			return nil, err
		}
		if out[i], err = StarlarkToCell(r); err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
	}
	return s.derive(out), nil
}

func seriesMap(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var mapping starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &mapping); err != nil {
		return nil, err
	}
	dict, ok := mapping.(*starlark.Dict)
	if !ok {
		return seriesApply(thread, b, args, kwargs)
	}
	s := receiverSeries(b)
	out := make([]any, len(s.values))
	for i, v := range s.values {
		r, found, err := dict.Get(CellToStarlark(v))
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		if out[i], err = StarlarkToCell(r); err != nil {
			return nil, fmt.Errorf("map: %w", err)
		}
	}
	return s.derive(out), nil
}

func seriesRename(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	out := s.derive(s.values)
	out.dtype = s.dtype
	out.name = name
	return out, nil
}

func seriesCopy(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	out := s.derive(slices.Clone(s.values))
	out.dtype = s.dtype
	return out, nil
}

func seriesResetIndex(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	drop := false
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "drop?", &drop, "name?", &name); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	if drop {
		return &Series{name: s.name, dtype: s.dtype, values: s.values}, nil
	}
	if name == "" {
		name = s.name
	}
	if name == "" {
		name = "0"
	}
	return s.toFrame(name, true)
}

func seriesToFrame(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name?", &name); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	if name == "" {
		name = s.name
	}
	if name == "" {
		name = "0"
	}
	return s.toFrame(name, false)
}

// toFrame builds a frame holding the series; withIndex adds the labels as a
// leading column.
func (s *Series) toFrame(name string, withIndex bool) (*Frame, error) {
	values := &dataset.Column{Name: name, Type: s.dtype, Values: slices.Clone(s.values)}
	if !withIndex {
		return &Frame{cols: []*dataset.Column{values}, index: s.index}, nil
	}
	indexName := s.indexName
	if indexName == "" {
		indexName = "index"
	}
	if indexName == name {
		return nil, fmt.Errorf("cannot insert %s, already exists", name)
	}
	return &Frame{cols: []*dataset.Column{dataset.NewColumn(indexName, s.Labels()), values}}, nil
}

func seriesToList(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	return valuesToStarlark(receiverSeries(b).values), nil
}

func seriesToDict(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	s := receiverSeries(b)
	dict := starlark.NewDict(len(s.values))
	for i, v := range s.values {
		if err := dict.SetKey(CellToStarlark(s.label(i)), CellToStarlark(v)); err != nil {
			return nil, err
		}
	}
	return dict, nil
}

// convertCell casts a cell to the named type.
func convertCell(v any, target string) (any, error) {
	if dataset.IsMissing(v) {
		return nil, nil
	}
	switch target {
	case "int", "int64", "int32":
		switch val := v.(type) {
		case int64:
			return val, nil
		case float64:
			return int64(val), nil
		case bool:
			if val {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid literal for int: %q", val)
			}
			return i, nil
		}
	case "float", "float64", "float32":
		if f, ok := dataset.ToFloat(v); ok {
			return f, nil
		}
		if s, ok := v.(string); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, fmt.Errorf("could not convert string to float: %q", s)
			}
			return dataset.Normalize(f), nil
		}
	case "str", "string", "object":
		return dataset.FormatValue(v), nil
	case "bool":
		return truthy(v), nil
	case "datetime", "datetime64", "datetime64[ns]":
		if s, ok := v.(string); ok {
			t, ok := parseDate(s)
			if !ok {
				return nil, fmt.Errorf("cannot parse %q as datetime", s)
			}
			return t, nil
		}
		if t, ok := v.(time.Time); ok {
			return t, nil
		}
	default:
		return nil, fmt.Errorf("unsupported type %q", target)
	}
	return nil, fmt.Errorf("cannot convert %s to %s", kindOf(v), target)
}
