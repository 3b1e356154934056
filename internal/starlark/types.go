// Package starlark provides the pandas-like DataFrame, Series and GroupBy
// values that analysis snippets operate on, the pd and np helper modules, and
// the conversions between Go cells and Starlark values.
package starlark

import (
	"fmt"
	"math"
	"time"

	"github.com/leapstack-labs/datalens/internal/dataset"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
)

// CellToStarlark converts a dataset cell to a Starlark value.
// Missing cells become None and datetimes become time values.
func CellToStarlark(v any) starlark.Value {
	switch val := dataset.Normalize(v).(type) {
	case nil:
		return starlark.None
	case string:
		return starlark.String(val)
	case int64:
		return starlark.MakeInt64(val)
	case float64:
		return starlark.Float(val)
	case bool:
		return starlark.Bool(val)
	case time.Time:
		return starlarktime.Time(val)
	default:
		return starlark.String(fmt.Sprint(val))
	}
}

// StarlarkToCell converts a scalar Starlark value to a dataset cell.
func StarlarkToCell(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.String:
		return string(val), nil
	case starlark.Int:
		if i64, ok := val.Int64(); ok {
			return i64, nil
		}
		f, _ := starlark.AsFloat(val)
		return f, nil
	case starlark.Float:
		return dataset.Normalize(float64(val)), nil
	case starlark.Bool:
		return bool(val), nil
	case starlarktime.Time:
		return time.Time(val), nil
	default:
		return nil, fmt.Errorf("unsupported cell value of type %s", v.Type())
	}
}

// GoToStarlark converts a Go value to a Starlark value.
// Supported types: string, int, int64, float64, bool, time.Time, []string, []any,
// map[string]any, []map[string]any, dataset.Record, []dataset.Record
func GoToStarlark(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case string, int64, float64, bool, time.Time:
		return CellToStarlark(val), nil

	case int:
		return starlark.MakeInt(val), nil

	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil

	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := GoToStarlark(item)
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil

	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			sv, err := GoToStarlark(v)
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", k, err)
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, fmt.Errorf("dict setkey %q: %w", k, err)
			}
		}
		return dict, nil

	case dataset.Record:
		dict := starlark.NewDict(len(val))
		for _, f := range val {
			sv, err := GoToStarlark(f.Value)
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", f.Key, err)
			}
			if err := dict.SetKey(starlark.String(f.Key), sv); err != nil {
				return nil, fmt.Errorf("dict setkey %q: %w", f.Key, err)
			}
		}
		return dict, nil

	case []dataset.Record:
		list := make([]starlark.Value, len(val))
		for i, rec := range val {
			sv, err := GoToStarlark(rec)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil

	case []map[string]any:
		list := make([]starlark.Value, len(val))
		for i, rec := range val {
			sv, err := GoToStarlark(rec)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil

	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// ToGo converts a Starlark value back to a Go value.
// Returns: string, int64, float64, bool, time.Time, []any, dataset.Record, or nil.
// Frames become row records, and series and dicts become records that keep
// their label or insertion order.
func ToGo(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil

	case starlark.String:
		return string(val), nil

	case starlark.Int:
		i64, ok := val.Int64()
		if !ok {
			// Integers beyond int64 are rendered as text
			return val.String(), nil
		}
		return i64, nil

	case starlark.Float:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, nil
		}
		return f, nil

	case starlark.Bool:
		return bool(val), nil

	case starlarktime.Time:
		return time.Time(val), nil

	case *Frame:
		recs := val.Records()
		out := make([]any, len(recs))
		for i, r := range recs {
			out[i] = r
		}
		return out, nil

	case *Series:
		return val.ToRecord(), nil

	case *starlark.List:
		result := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			gv, err := ToGo(val.Index(i))
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			result[i] = gv
		}
		return result, nil

	case *starlark.Dict:
		items := val.Items()
		keys := make([]string, len(items))
		values := make([]any, len(items))
		for i, item := range items {
			key, err := dictKey(item[0])
			if err != nil {
				return nil, err
			}
			gv, err := ToGo(item[1])
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", key, err)
			}
			keys[i], values[i] = key, gv
		}
		return dataset.RecordOf(keys, values), nil

	case starlark.Tuple:
		result := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			gv, err := ToGo(val.Index(i))
			if err != nil {
				return nil, fmt.Errorf("tuple index %d: %w", i, err)
			}
			result[i] = gv
		}
		return result, nil

	default:
		// Try to get a string representation
		return val.String(), nil
	}
}

// dictKey renders a dict key as a string; non-string keys use their cell text.
func dictKey(k starlark.Value) (string, error) {
	if s, ok := k.(starlark.String); ok {
		return string(s), nil
	}
	cell, err := StarlarkToCell(k)
	if err != nil {
		return k.String(), nil //nolint:nilerr // composite keys fall back to their repr
	}
	return dataset.FormatValue(cell), nil
}

// valuesToStarlark converts a slice of cells to a Starlark list.
func valuesToStarlark(values []any) *starlark.List {
	elems := make([]starlark.Value, len(values))
	for i, v := range values {
		elems[i] = CellToStarlark(v)
	}
	return starlark.NewList(elems)
}

// iterableToCells converts a Starlark iterable (list, tuple, Series) to cells.
func iterableToCells(v starlark.Value) ([]any, error) {
	if s, ok := v.(*Series); ok {
		return append([]any(nil), s.values...), nil
	}
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("expected a list, tuple or Series, got %s", v.Type())
	}
	iter := iterable.Iterate()
	defer iter.Done()

	var out []any
	var x starlark.Value
	for iter.Next(&x) {
		cell, err := StarlarkToCell(x)
		if err != nil {
			return nil, err
		}
		out = append(out, cell)
	}
	return out, nil
}

// stringsArg accepts a string or an iterable of strings.
func stringsArg(v starlark.Value) ([]string, error) {
	if s, ok := v.(starlark.String); ok {
		return []string{string(s)}, nil
	}
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("expected a column name or list of names, got %s", v.Type())
	}
	iter := iterable.Iterate()
	defer iter.Done()

	var out []string
	var x starlark.Value
	for iter.Next(&x) {
		s, ok := starlark.AsString(x)
		if !ok {
			return nil, fmt.Errorf("column names must be strings, got %s", x.Type())
		}
		out = append(out, s)
	}
	return out, nil
}
