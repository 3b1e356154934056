package dataset

import (
	"cmp"
	"math"
	"strconv"
	"time"
)

// DType is the declared element type of a column.
type DType string

// Column types. String is the generic textual kind and also holds columns of
// mixed values.
const (
	Int64    DType = "int64"
	Float64  DType = "float64"
	Bool     DType = "bool"
	Datetime DType = "datetime"
	String   DType = "string"
)

// IsNumeric reports whether the type carries numeric statistics. Bool is not numeric.
func (t DType) IsNumeric() bool {
	return t == Int64 || t == Float64
}

// IsMissing reports whether a cell value counts as missing.
func IsMissing(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(val)
	}
	return false
}

// Normalize maps NaN to nil and widens Go numeric kinds to int64/float64.
func Normalize(v any) any {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
		return val
	case float32:
		return Normalize(float64(val))
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		if val > math.MaxInt64 {
			return float64(val)
		}
		return int64(val)
	case uint:
		return Normalize(uint64(val))
	}
	return v
}

// InferType returns the narrowest type that holds every present value.
// A column with no present values is float64.
func InferType(values []any) DType {
	var ints, floats, bools, times, others int
	for _, v := range values {
		switch v.(type) {
		case nil:
		case int64, int:
			ints++
		case float64:
			if !IsMissing(v) {
				floats++
			}
		case bool:
			bools++
		case time.Time:
			times++
		default:
			others++
		}
	}
	switch {
	case others > 0:
		return String
	case ints+floats+bools+times == 0:
		return Float64
	case floats == 0 && bools == 0 && times == 0:
		return Int64
	case bools == 0 && times == 0:
		return Float64
	case ints+floats == 0 && times == 0:
		return Bool
	case ints+floats+bools == 0:
		return Datetime
	}
	return String
}

// ToFloat converts numeric and boolean cells to float64.
func ToFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case int64:
		return float64(val), true
	case int:
		return float64(val), true
	case float64:
		return val, true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// FormatValue renders a cell as text.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "None"
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		if math.IsNaN(val) {
			return "NaN"
		}
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatFloat(val, 'f', 1, 64)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		if val {
			return "True"
		}
		return "False"
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return val.Format(time.DateOnly)
		}
		return val.Format(time.DateTime)
	}
	return ""
}

// Key returns a comparable representation of a cell used for distinct counting
// and grouping. Integral floats and ints share a key, like 1 and 1.0 do in a
// numeric column.
func Key(v any) any {
	switch val := v.(type) {
	case int64:
		return float64(val)
	case int:
		return float64(val)
	case time.Time:
		return val.UnixNano()
	}
	return v
}

// rank orders values of different kinds: numbers, bools, times, strings.
func rank(v any) int {
	switch v.(type) {
	case int64, int, float64:
		return 0
	case bool:
		return 1
	case time.Time:
		return 2
	case string:
		return 3
	}
	return 4
}

// Compare orders two present cells. Values of different kinds order by kind.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch ra {
	case 0:
		fa, _ := ToFloat(a)
		fb, _ := ToFloat(b)
		return cmp.Compare(fa, fb)
	case 1:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case 2:
		return a.(time.Time).Compare(b.(time.Time))
	case 3:
		return cmp.Compare(a.(string), b.(string))
	}
	return cmp.Compare(FormatValue(a), FormatValue(b))
}
