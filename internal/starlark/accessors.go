package starlark

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/leapstack-labs/datalens/internal/dataset"
	"go.starlark.net/starlark"
)

// strAccessor implements the vectorized string methods reached through s.str.
type strAccessor struct {
	s *Series
}

var _ starlark.HasAttrs = (*strAccessor)(nil)

func (a *strAccessor) String() string        { return "<str accessor>" }
func (a *strAccessor) Type() string          { return "StringMethods" }
func (a *strAccessor) Freeze()               {}
func (a *strAccessor) Truth() starlark.Bool  { return true }
func (a *strAccessor) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: StringMethods") }

var strMethods = map[string]*starlark.Builtin{
	"contains":   starlark.NewBuiltin("contains", strMatch),
	"startswith": starlark.NewBuiltin("startswith", strMatch),
	"endswith":   starlark.NewBuiltin("endswith", strMatch),
	"lower":      starlark.NewBuiltin("lower", strTransform),
	"upper":      starlark.NewBuiltin("upper", strTransform),
	"strip":      starlark.NewBuiltin("strip", strTransform),
	"title":      starlark.NewBuiltin("title", strTransform),
	"len":        starlark.NewBuiltin("len", strLen),
	"replace":    starlark.NewBuiltin("replace", strReplace),
	"split":      starlark.NewBuiltin("split", strSplit),
}

func (a *strAccessor) Attr(name string) (starlark.Value, error) {
	if m, ok := strMethods[name]; ok {
		return m.BindReceiver(a), nil
	}
	return nil, nil
}

func (a *strAccessor) AttrNames() []string {
	names := make([]string, 0, len(strMethods))
	for name := range strMethods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// mapStrings applies fn to every string cell; missing cells stay missing and
// non-string cells are an error.
func mapStrings(s *Series, fn func(string) any) (*Series, error) {
	out := make([]any, len(s.values))
	for i, v := range s.values {
		switch val := v.(type) {
		case nil:
		case string:
			out[i] = fn(val)
		default:
			return nil, fmt.Errorf("str accessor requires string values, found %s", kindOf(v))
		}
	}
	return s.derive(out), nil
}

func strMatch(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pat string
	caseSensitive := true
	var na starlark.Value = starlark.False
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pat", &pat, "case?", &caseSensitive, "na?", &na); err != nil {
		return nil, err
	}
	if !caseSensitive {
		pat = strings.ToLower(pat)
	}
	s := b.Receiver().(*strAccessor).s
	out, err := mapStrings(s, func(v string) any {
		if !caseSensitive {
			v = strings.ToLower(v)
		}
		switch b.Name() {
		case "startswith":
			return strings.HasPrefix(v, pat)
		case "endswith":
			return strings.HasSuffix(v, pat)
		}
		return strings.Contains(v, pat)
	})
	if err != nil {
		return nil, err
	}
	// Masks built from missing cells use the na value
	fill := bool(na.Truth())
	for i, v := range out.values {
		if v == nil {
			out.values[i] = fill
		}
	}
	out.dtype = dataset.InferType(out.values)
	return out, nil
}

func strTransform(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	s := b.Receiver().(*strAccessor).s
	return mapStrings(s, func(v string) any {
		switch b.Name() {
		case "lower":
			return strings.ToLower(v)
		case "upper":
			return strings.ToUpper(v)
		case "title":
			words := strings.Fields(v)
			for i, w := range words {
				r := []rune(strings.ToLower(w))
				r[0] = unicode.ToUpper(r[0])
				words[i] = string(r)
			}
			return strings.Join(words, " ")
		}
		return strings.TrimSpace(v)
	})
}

func strLen(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	s := b.Receiver().(*strAccessor).s
	return mapStrings(s, func(v string) any { return int64(len([]rune(v))) })
}

func strReplace(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pat, repl string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pat", &pat, "repl", &repl); err != nil {
		return nil, err
	}
	s := b.Receiver().(*strAccessor).s
	return mapStrings(s, func(v string) any { return strings.ReplaceAll(v, pat, repl) })
}

func strSplit(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	sep := " "
	index := -1
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pat?", &sep, "index?", &index); err != nil {
		return nil, err
	}
	if index < 0 {
		return nil, fmt.Errorf("split: pass index=N to select one part of each value")
	}
	s := b.Receiver().(*strAccessor).s
	return mapStrings(s, func(v string) any {
		parts := strings.Split(v, sep)
		if index >= len(parts) {
			return nil
		}
		return parts[index]
	})
}

// dtAccessor exposes datetime components through s.dt.
type dtAccessor struct {
	s *Series
}

var _ starlark.HasAttrs = (*dtAccessor)(nil)

func (a *dtAccessor) String() string        { return "<dt accessor>" }
func (a *dtAccessor) Type() string          { return "DatetimeProperties" }
func (a *dtAccessor) Freeze()               {}
func (a *dtAccessor) Truth() starlark.Bool  { return true }
func (a *dtAccessor) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: DatetimeProperties") }

var dtFields = map[string]func(time.Time) any{
	"year":       func(t time.Time) any { return int64(t.Year()) },
	"month":      func(t time.Time) any { return int64(t.Month()) },
	"day":        func(t time.Time) any { return int64(t.Day()) },
	"hour":       func(t time.Time) any { return int64(t.Hour()) },
	"minute":     func(t time.Time) any { return int64(t.Minute()) },
	"quarter":    func(t time.Time) any { return int64((int(t.Month())-1)/3 + 1) },
	"dayofweek":  func(t time.Time) any { return int64((int(t.Weekday()) + 6) % 7) },
	"weekday":    func(t time.Time) any { return int64((int(t.Weekday()) + 6) % 7) },
	"dayofyear":  func(t time.Time) any { return int64(t.YearDay()) },
	"date":       func(t time.Time) any { return t.Format(time.DateOnly) },
	"month_name": func(t time.Time) any { return t.Month().String() },
	"day_name":   func(t time.Time) any { return t.Weekday().String() },
}

func (a *dtAccessor) Attr(name string) (starlark.Value, error) {
	fn, ok := dtFields[name]
	if !ok {
		return nil, nil
	}
	out := make([]any, len(a.s.values))
	for i, v := range a.s.values {
		switch val := v.(type) {
		case nil:
		case time.Time:
			out[i] = fn(val)
		case string:
			t, ok := parseDate(val)
			if !ok {
				return nil, fmt.Errorf("dt accessor: cannot parse %q as datetime", val)
			}
			out[i] = fn(t)
		default:
			return nil, fmt.Errorf("dt accessor requires datetime values, found %s", kindOf(v))
		}
	}
	return a.s.derive(out), nil
}

func (a *dtAccessor) AttrNames() []string {
	names := make([]string, 0, len(dtFields))
	for name := range dtFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
