package starlark

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/leapstack-labs/datalens/internal/dataset"
	"github.com/leapstack-labs/datalens/internal/stats"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Pandas is the pd module available to snippets.
var Pandas = &starlarkstruct.Module{
	Name: "pd",
	Members: starlark.StringDict{
		"DataFrame":   starlark.NewBuiltin("DataFrame", pdDataFrame),
		"Series":      starlark.NewBuiltin("Series", pdSeries),
		"concat":      starlark.NewBuiltin("concat", pdConcat),
		"isna":        starlark.NewBuiltin("isna", pdIsna),
		"isnull":      starlark.NewBuiltin("isnull", pdIsna),
		"merge":       starlark.NewBuiltin("merge", pdMerge),
		"notna":       starlark.NewBuiltin("notna", pdIsna),
		"notnull":     starlark.NewBuiltin("notnull", pdIsna),
		"to_datetime": starlark.NewBuiltin("to_datetime", pdToDatetime),
		"to_numeric":  starlark.NewBuiltin("to_numeric", pdToNumeric),
		"NA":          starlark.None,
		"NaT":         starlark.None,
	},
}

// Numpy is the np module available to snippets.
var Numpy = &starlarkstruct.Module{
	Name: "np",
	Members: starlark.StringDict{
		"abs":        starlark.NewBuiltin("abs", npUnary(math.Abs)),
		"arange":     starlark.NewBuiltin("arange", npArange),
		"array":      starlark.NewBuiltin("array", npArray),
		"exp":        starlark.NewBuiltin("exp", npUnary(math.Exp)),
		"isnan":      starlark.NewBuiltin("isnan", npIsnan),
		"log":        starlark.NewBuiltin("log", npUnary(math.Log)),
		"log10":      starlark.NewBuiltin("log10", npUnary(math.Log10)),
		"max":        starlark.NewBuiltin("max", npReduce),
		"mean":       starlark.NewBuiltin("mean", npReduce),
		"median":     starlark.NewBuiltin("median", npReduce),
		"min":        starlark.NewBuiltin("min", npReduce),
		"percentile": starlark.NewBuiltin("percentile", npPercentile),
		"round":      starlark.NewBuiltin("round", npRound),
		"sqrt":       starlark.NewBuiltin("sqrt", npUnary(math.Sqrt)),
		"std":        starlark.NewBuiltin("std", npReduce),
		"sum":        starlark.NewBuiltin("sum", npReduce),
		"unique":     starlark.NewBuiltin("unique", npUnique),
		"var":        starlark.NewBuiltin("var", npReduce),
		"where":      starlark.NewBuiltin("where", npWhere),
		"inf":        starlark.Float(math.Inf(1)),
		"nan":        starlark.Float(math.NaN()),
	},
}

// Predeclared returns the globals of a snippet run against ds: a private
// copy of the data as df and the pd and np modules. Nothing else is bound.
func Predeclared(ds *dataset.Dataset) starlark.StringDict {
	return starlark.StringDict{
		"df": NewFrame(ds.Clone()),
		"pd": Pandas,
		"np": Numpy,
	}
}

func pdDataFrame(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var data, columns starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "data?", &data, "columns?", &columns); err != nil {
		return nil, err
	}
	var cols []*dataset.Column
	switch d := data.(type) {
	case nil, starlark.NoneType:
	case *Frame:
		cols = slices.Clone(d.cols)
	case *starlark.Dict:
		n := -1
		for _, item := range d.Items() {
			if _, iterable := item[1].(starlark.Iterable); !iterable {
				continue
			}
			cells, err := iterableToCells(item[1])
			if err != nil {
				return nil, err
			}
			n = len(cells)
			break
		}
		if n < 0 {
			n = 1
		}
		for _, item := range d.Items() {
			name, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("DataFrame: column names must be strings")
			}
			values, err := operand(item[1], n)
			if err != nil {
				return nil, fmt.Errorf("DataFrame: column %q: %w", name, err)
			}
			cols = append(cols, dataset.NewColumn(name, slices.Clone(values)))
		}
	case *starlark.List, starlark.Tuple:
		records, err := recordsArg(d.(starlark.Iterable))
		if err != nil {
			return nil, err
		}
		cols = recordColumns(records)
	default:
		return nil, fmt.Errorf("DataFrame: unsupported data of type %s", data.Type())
	}

	if columns != nil && columns != starlark.None {
		names, err := stringsArg(columns)
		if err != nil {
			return nil, err
		}
		f := &Frame{cols: cols}
		if len(cols) == 0 {
			for _, name := range names {
				f.cols = append(f.cols, &dataset.Column{Name: name, Type: dataset.Float64})
			}
			return f, nil
		}
		return f.selectColumns(names)
	}
	if _, err := dataset.New(cols...); err != nil {
		return nil, fmt.Errorf("DataFrame: %w", err)
	}
	return &Frame{cols: cols}, nil
}

// recordsArg converts a list of dicts to ordered records.
func recordsArg(v starlark.Iterable) ([]*starlark.Dict, error) {
	iter := v.Iterate()
	defer iter.Done()
	var out []*starlark.Dict
	var x starlark.Value
	for iter.Next(&x) {
		d, ok := x.(*starlark.Dict)
		if !ok {
			return nil, fmt.Errorf("DataFrame: expected a list of dicts, found %s", x.Type())
		}
		out = append(out, d)
	}
	return out, nil
}

// recordColumns builds columns from records in first-seen key order; keys
// absent from a record are missing.
func recordColumns(records []*starlark.Dict) []*dataset.Column {
	var names []string
	values := make(map[string][]any)
	for i, rec := range records {
		for _, item := range rec.Items() {
			name, err := dictKey(item[0])
			if err != nil {
				continue
			}
			if _, ok := values[name]; !ok {
				names = append(names, name)
				values[name] = make([]any, len(records))
			}
			cell, err := StarlarkToCell(item[1])
			if err != nil {
				cell = item[1].String()
			}
			values[name][i] = cell
		}
	}
	cols := make([]*dataset.Column, len(names))
	for i, name := range names {
		cols[i] = dataset.NewColumn(name, values[name])
	}
	return cols
}

func pdSeries(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var data, index starlark.Value
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "data?", &data, "index?", &index, "name?", &name); err != nil {
		return nil, err
	}
	var values []any
	var labels []any
	switch d := data.(type) {
	case nil, starlark.NoneType:
	case *starlark.Dict:
		for _, item := range d.Items() {
			l, err := StarlarkToCell(item[0])
			if err != nil {
				return nil, err
			}
			v, err := StarlarkToCell(item[1])
			if err != nil {
				return nil, err
			}
			labels = append(labels, l)
			values = append(values, v)
		}
	default:
		cells, err := iterableToCells(d)
		if err != nil {
			return nil, err
		}
		values = cells
	}
	if index != nil && index != starlark.None {
		cells, err := iterableToCells(index)
		if err != nil {
			return nil, err
		}
		if len(cells) != len(values) {
			return nil, fmt.Errorf("Series: index has length %d, data has length %d", len(cells), len(values))
		}
		labels = cells
	}
	s := NewSeries(name, values)
	s.index = labels
	return s, nil
}

func pdIsna(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	want := b.Name() == "isna" || b.Name() == "isnull"
	return elementwise(x, func(v any) (any, error) {
		return dataset.IsMissing(v) == want, nil
	})
}

func pdToDatetime(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	errorsMode := "raise"
	var format string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "arg", &x, "errors?", &errorsMode, "format?", &format); err != nil {
		return nil, err
	}
	return elementwise(x, func(v any) (any, error) {
		switch val := v.(type) {
		case nil, time.Time:
			return val, nil
		case string:
			var t time.Time
			var err error
			ok := true
			if format != "" {
				t, err = time.Parse(strftimeLayout(format), val)
				ok = err == nil
			} else {
				t, ok = parseDate(val)
			}
			if ok {
				return t, nil
			}
		case int64:
			return time.Unix(0, val).UTC(), nil
		}
		if errorsMode == "coerce" {
			return nil, nil
		}
		if errorsMode == "ignore" {
			return v, nil
		}
		return nil, fmt.Errorf("to_datetime: cannot parse %s as datetime", dataset.FormatValue(v))
	})
}

// strftimeLayout translates the common strftime directives to a Go layout.
func strftimeLayout(format string) string {
	replacer := map[byte]string{
		'Y': "2006", 'y': "06", 'm': "01", 'd': "02", 'H': "15", 'M': "04", 'S': "05",
		'b': "Jan", 'B': "January", 'p': "PM", 'f': "000000",
	}
	var out []byte
	for i := 0; i < len(format); i++ {
		if format[i] == '%' && i+1 < len(format) {
			if r, ok := replacer[format[i+1]]; ok {
				out = append(out, r...)
				i++
				continue
			}
		}
		out = append(out, format[i])
	}
	return string(out)
}

func pdToNumeric(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	errorsMode := "raise"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "arg", &x, "errors?", &errorsMode); err != nil {
		return nil, err
	}
	return elementwise(x, func(v any) (any, error) {
		switch val := v.(type) {
		case nil, int64, float64:
			return val, nil
		case bool:
			if val {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			if i, err := convertCell(val, "int"); err == nil {
				return i, nil
			}
			if f, err := convertCell(val, "float"); err == nil {
				return f, nil
			}
		}
		switch errorsMode {
		case "coerce":
			return nil, nil
		case "ignore":
			return v, nil
		}
		return nil, fmt.Errorf("to_numeric: unable to parse %s", dataset.FormatValue(v))
	})
}

func pdConcat(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kwargs, err := dropIgnored(kwargs)
	if err != nil {
		return nil, err
	}
	var objs starlark.Iterable
	ignoreIndex := false
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "objs", &objs, "ignore_index?", &ignoreIndex); err != nil {
		return nil, err
	}
	var frames []*Frame
	var series []*Series
	iter := objs.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		switch v := x.(type) {
		case *Frame:
			frames = append(frames, v)
		case *Series:
			series = append(series, v)
		default:
			return nil, fmt.Errorf("concat: cannot concatenate %s", x.Type())
		}
	}
	if len(frames) > 0 && len(series) > 0 {
		return nil, fmt.Errorf("concat: cannot mix DataFrame and Series")
	}
	if len(series) > 0 {
		var values, labels []any
		for _, s := range series {
			values = append(values, s.values...)
			labels = append(labels, s.Labels()...)
		}
		out := NewSeries(series[0].name, values)
		if !ignoreIndex {
			out.index = labels
		}
		return out, nil
	}
	return concatFrames(frames), nil
}

// concatFrames stacks frames vertically over the union of their columns.
func concatFrames(frames []*Frame) *Frame {
	var names []string
	for _, f := range frames {
		for _, name := range f.ColumnNames() {
			if !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
	}
	cols := make([]*dataset.Column, len(names))
	for i, name := range names {
		var values []any
		for _, f := range frames {
			c, err := f.column(name)
			if err != nil {
				values = append(values, make([]any, f.NumRows())...)
				continue
			}
			values = append(values, c.Values...)
		}
		cols[i] = dataset.NewColumn(name, values)
	}
	return &Frame{cols: cols}
}

func pdMerge(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var left, right *Frame
	var on starlark.Value
	how := "inner"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "left", &left, "right", &right, "on", &on, "how?", &how); err != nil {
		return nil, err
	}
	keys, err := stringsArg(on)
	if err != nil {
		return nil, err
	}
	return mergeFrames(left, right, keys, how)
}

// elementwise maps fn over a Series, list or tuple, or applies it to a scalar.
func elementwise(x starlark.Value, fn func(any) (any, error)) (starlark.Value, error) {
	switch v := x.(type) {
	case *Series:
		out := make([]any, len(v.values))
		for i, cell := range v.values {
			r, err := fn(cell)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return v.derive(out), nil
	case *starlark.List, starlark.Tuple:
		cells, err := iterableToCells(v)
		if err != nil {
			return nil, err
		}
		for i, cell := range cells {
			if cells[i], err = fn(cell); err != nil {
				return nil, err
			}
		}
		return valuesToStarlark(cells), nil
	}
	cell, err := StarlarkToCell(x)
	if err != nil {
		return nil, err
	}
	r, err := fn(cell)
	if err != nil {
		return nil, err
	}
	return CellToStarlark(r), nil
}

func npUnary(fn func(float64) float64) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var x starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
			return nil, err
		}
		return elementwise(x, func(v any) (any, error) {
			if dataset.IsMissing(v) {
				return nil, nil
			}
			if i, ok := v.(int64); ok && b.Name() == "abs" {
				if i < 0 {
					i = -i
				}
				return i, nil
			}
			f, ok := dataset.ToFloat(v)
			if !ok {
				return nil, fmt.Errorf("%s: numeric values required, found %s", b.Name(), kindOf(v))
			}
			return dataset.Normalize(fn(f)), nil
		})
	}
}

func npIsnan(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	return elementwise(x, func(v any) (any, error) { return dataset.IsMissing(v), nil })
}

func npRound(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	decimals := 0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "a", &x, "decimals?", &decimals); err != nil {
		return nil, err
	}
	return elementwise(x, func(v any) (any, error) {
		if f, ok := v.(float64); ok {
			return stats.Round(f, decimals), nil
		}
		return v, nil
	})
}

// npReduce implements the numpy reductions. std and var default to the
// population formula (ddof=0), as numpy does.
func npReduce(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	ddof := 0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "a", &x, "ddof?", &ddof); err != nil {
		return nil, err
	}
	cells, err := iterableOrScalar(x)
	if err != nil {
		return nil, err
	}
	switch b.Name() {
	case "std", "var":
		xs, err := presentFloats(cells)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		v := varianceDDOF(xs, ddof)
		if b.Name() == "std" {
			v = math.Sqrt(v)
		}
		return CellToStarlark(v), nil
	}
	v, err := reduce(b.Name(), cells, dataset.InferType(cells))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return CellToStarlark(v), nil
}

func varianceDDOF(xs []float64, ddof int) float64 {
	n := len(xs)
	if n-ddof <= 0 {
		return math.NaN()
	}
	m := stats.Mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return ss / float64(n-ddof)
}

func npPercentile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	var q float64
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "a", &x, "q", &q); err != nil {
		return nil, err
	}
	cells, err := iterableToCells(x)
	if err != nil {
		return nil, err
	}
	xs, err := presentFloats(cells)
	if err != nil {
		return nil, fmt.Errorf("percentile: %w", err)
	}
	return CellToStarlark(stats.Quantile(xs, q/100)), nil
}

func npArange(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var start, stop int
	step := 1
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &start, &stop, &step); err != nil {
		return nil, err
	}
	if len(args) == 1 {
		start, stop = 0, start
	}
	if step == 0 {
		return nil, fmt.Errorf("arange: step must not be zero")
	}
	var out []starlark.Value
	for i := start; (step > 0 && i < stop) || (step < 0 && i > stop); i += step {
		out = append(out, starlark.MakeInt(i))
	}
	return starlark.NewList(out), nil
}

func npArray(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	cells, err := iterableToCells(x)
	if err != nil {
		return nil, err
	}
	return valuesToStarlark(cells), nil
}

func npUnique(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	cells, err := iterableToCells(x)
	if err != nil {
		return nil, err
	}
	return valuesToStarlark(distinctSorted(cells)), nil
}

// npWhere picks from a where the condition holds and from b elsewhere.
func npWhere(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var cond, x, y starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 3, &cond, &x, &y); err != nil {
		return nil, err
	}
	mask, err := iterableToCells(cond)
	if err != nil {
		return nil, err
	}
	xs, err := operand(x, len(mask))
	if err != nil {
		return nil, err
	}
	ys, err := operand(y, len(mask))
	if err != nil {
		return nil, err
	}
	out := make([]any, len(mask))
	for i, m := range mask {
		if truthy(m) {
			out[i] = xs[i]
		} else {
			out[i] = ys[i]
		}
	}
	if s, ok := cond.(*Series); ok {
		r := s.derive(out)
		r.name = ""
		return r, nil
	}
	return valuesToStarlark(out), nil
}
