package starlark

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/leapstack-labs/datalens/internal/dataset"
	"github.com/leapstack-labs/datalens/internal/stats"
	"go.starlark.net/syntax"
)

// dateLayouts are tried, in order, when a string is compared against a datetime cell.
var dateLayouts = []string{
	time.RFC3339,
	time.DateTime,
	"2006-01-02T15:04:05",
	time.DateOnly,
	"2006/01/02",
	"2006-01",
	"2006",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// arith applies a binary arithmetic operator to two cells.
// Missing operands and invalid results (division by zero) produce nil.
func arith(op syntax.Token, a, b any) (any, error) {
	if dataset.IsMissing(a) || dataset.IsMissing(b) {
		return nil, nil
	}

	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok && op == syntax.PLUS {
			return sa + sb, nil
		}
		return nil, fmt.Errorf("unsupported operand types for %s: %s and %s", op, kindOf(a), kindOf(b))
	}

	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok && op == syntax.MINUS {
			return ta.Sub(tb).Hours() / 24, nil
		}
		return nil, fmt.Errorf("unsupported operand types for %s: %s and %s", op, kindOf(a), kindOf(b))
	}

	ia, aInt := asInt(a)
	ib, bInt := asInt(b)
	if aInt && bInt {
		switch op {
		case syntax.PLUS:
			return ia + ib, nil
		case syntax.MINUS:
			return ia - ib, nil
		case syntax.STAR:
			return ia * ib, nil
		case syntax.SLASHSLASH:
			if ib == 0 {
				return nil, nil
			}
			q := ia / ib
			if (ia%ib != 0) && ((ia < 0) != (ib < 0)) {
				q--
			}
			return q, nil
		case syntax.PERCENT:
			if ib == 0 {
				return nil, nil
			}
			m := ia % ib
			if m != 0 && ((m < 0) != (ib < 0)) {
				m += ib
			}
			return m, nil
		}
	}

	fa, okA := dataset.ToFloat(a)
	fb, okB := dataset.ToFloat(b)
	if !okA || !okB {
		return nil, fmt.Errorf("unsupported operand types for %s: %s and %s", op, kindOf(a), kindOf(b))
	}
	var r float64
	switch op {
	case syntax.PLUS:
		r = fa + fb
	case syntax.MINUS:
		r = fa - fb
	case syntax.STAR:
		r = fa * fb
	case syntax.SLASH:
		if fb == 0 {
			return nil, nil
		}
		r = fa / fb
	case syntax.SLASHSLASH:
		if fb == 0 {
			return nil, nil
		}
		r = math.Floor(fa / fb)
	case syntax.PERCENT:
		if fb == 0 {
			return nil, nil
		}
		r = math.Mod(fa, fb)
		if r != 0 && (r < 0) != (fb < 0) {
			r += fb
		}
	default:
		return nil, fmt.Errorf("unsupported operator %s", op)
	}
	return dataset.Normalize(r), nil
}

// logical applies &, | or ^ to two cells treated as booleans.
func logical(op syntax.Token, a, b any) (any, error) {
	ba, bb := truthy(a), truthy(b)
	switch op {
	case syntax.AMP:
		return ba && bb, nil
	case syntax.PIPE:
		return ba || bb, nil
	case syntax.CIRCUMFLEX:
		return ba != bb, nil
	}
	return nil, fmt.Errorf("unsupported operator %s", op)
}

// compareCells evaluates a comparison between two cells.
// A comparison involving a missing value is false, except for inequality.
func compareCells(op syntax.Token, a, b any) (bool, error) {
	if dataset.IsMissing(a) || dataset.IsMissing(b) {
		return op == syntax.NEQ, nil
	}

	// Strings compared against datetimes are parsed as dates
	if _, ok := a.(time.Time); ok {
		if sb, ok := b.(string); ok {
			tb, ok := parseDate(sb)
			if !ok {
				return false, fmt.Errorf("cannot compare datetime with %q", sb)
			}
			b = tb
		}
	}

	if !comparableKinds(a, b) {
		switch op {
		case syntax.EQL:
			return false, nil
		case syntax.NEQ:
			return true, nil
		}
		return false, fmt.Errorf("'%s' not supported between %s and %s", op, kindOf(a), kindOf(b))
	}

	c := dataset.Compare(a, b)
	switch op {
	case syntax.EQL:
		return c == 0, nil
	case syntax.NEQ:
		return c != 0, nil
	case syntax.LT:
		return c < 0, nil
	case syntax.LE:
		return c <= 0, nil
	case syntax.GT:
		return c > 0, nil
	case syntax.GE:
		return c >= 0, nil
	}
	return false, fmt.Errorf("unsupported comparison %s", op)
}

func comparableKinds(a, b any) bool {
	_, aNum := asNumber(a)
	_, bNum := asNumber(b)
	if aNum && bNum {
		return true
	}
	switch a.(type) {
	case string:
		_, ok := b.(string)
		return ok
	case bool:
		_, ok := b.(bool)
		return ok
	case time.Time:
		_, ok := b.(time.Time)
		return ok
	}
	return false
}

func asNumber(v any) (float64, bool) {
	switch v.(type) {
	case int64, int, float64:
		return dataset.ToFloat(v)
	}
	return 0, false
}

func asInt(v any) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	}
	return 0, false
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case int64:
		return val != 0
	case float64:
		return val != 0 && !math.IsNaN(val)
	case string:
		return val != ""
	}
	return true
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "None"
	case int64, int:
		return "int"
	case float64:
		return "float"
	case bool:
		return "bool"
	case string:
		return "str"
	case time.Time:
		return "datetime"
	}
	return fmt.Sprintf("%T", v)
}

// reducers are the aggregations shared by Series methods and GroupBy.
var reducers = map[string]func(values []any, dtype dataset.DType) (any, error){
	"sum":     reduceSum,
	"mean":    floatReducer(stats.Mean),
	"median":  floatReducer(stats.Median),
	"std":     floatReducer(stats.StdDev),
	"var":     floatReducer(stats.Variance),
	"min":     extremeReducer(-1),
	"max":     extremeReducer(1),
	"count":   reduceCount,
	"nunique": reduceNunique,
	"first":   reduceFirst,
	"last":    reduceLast,
}

// numericReducers only apply to numeric columns when aggregating a whole frame.
var numericReducers = map[string]bool{
	"sum": true, "mean": true, "median": true, "std": true, "var": true,
}

func reduce(name string, values []any, dtype dataset.DType) (any, error) {
	fn, ok := reducers[name]
	if !ok {
		return nil, fmt.Errorf("unknown aggregation %q", name)
	}
	return fn(values, dtype)
}

func reduceSum(values []any, dtype dataset.DType) (any, error) {
	switch dtype {
	case dataset.Int64, dataset.Bool:
		var s int64
		for _, v := range values {
			switch val := v.(type) {
			case int64:
				s += val
			case bool:
				if val {
					s++
				}
			}
		}
		return s, nil
	case dataset.Float64:
		var s float64
		for _, v := range values {
			if f, ok := dataset.ToFloat(v); ok && !dataset.IsMissing(v) {
				s += f
			}
		}
		return s, nil
	case dataset.String:
		var sb strings.Builder
		for _, v := range values {
			s, ok := v.(string)
			if !ok && v != nil {
				return nil, fmt.Errorf("sum requires numeric values, found %s", kindOf(v))
			}
			sb.WriteString(s)
		}
		return sb.String(), nil
	}
	return nil, fmt.Errorf("sum is not supported for %s values", dtype)
}

func presentFloats(values []any) ([]float64, error) {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if dataset.IsMissing(v) {
			continue
		}
		f, ok := dataset.ToFloat(v)
		if !ok {
			return nil, fmt.Errorf("numeric values required, found %s", kindOf(v))
		}
		out = append(out, f)
	}
	return out, nil
}

func floatReducer(fn func([]float64) float64) func([]any, dataset.DType) (any, error) {
	return func(values []any, _ dataset.DType) (any, error) {
		xs, err := presentFloats(values)
		if err != nil {
			return nil, err
		}
		return dataset.Normalize(fn(xs)), nil
	}
}

func extremeReducer(sign int) func([]any, dataset.DType) (any, error) {
	return func(values []any, _ dataset.DType) (any, error) {
		var best any
		for _, v := range values {
			if dataset.IsMissing(v) {
				continue
			}
			if best == nil || dataset.Compare(v, best)*sign > 0 {
				best = v
			}
		}
		return best, nil
	}
}

func reduceCount(values []any, _ dataset.DType) (any, error) {
	var n int64
	for _, v := range values {
		if !dataset.IsMissing(v) {
			n++
		}
	}
	return n, nil
}

func reduceNunique(values []any, _ dataset.DType) (any, error) {
	seen := make(map[any]struct{})
	for _, v := range values {
		if !dataset.IsMissing(v) {
			seen[dataset.Key(v)] = struct{}{}
		}
	}
	return int64(len(seen)), nil
}

func reduceFirst(values []any, _ dataset.DType) (any, error) {
	for _, v := range values {
		if !dataset.IsMissing(v) {
			return v, nil
		}
	}
	return nil, nil
}

func reduceLast(values []any, _ dataset.DType) (any, error) {
	for i := len(values) - 1; i >= 0; i-- {
		if !dataset.IsMissing(values[i]) {
			return values[i], nil
		}
	}
	return nil, nil
}
