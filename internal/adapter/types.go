package adapter

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/leapstack-labs/datalens/internal/dataset"
)

// ColumnType maps a DuckDB type name onto a dataset type.
func ColumnType(duckType string) dataset.DType {
	t := strings.ToUpper(strings.TrimSpace(duckType))
	switch {
	case t == "BIGINT" || t == "INTEGER" || t == "SMALLINT" || t == "TINYINT" ||
		t == "UINTEGER" || t == "USMALLINT" || t == "UTINYINT":
		return dataset.Int64
	case t == "DOUBLE" || t == "FLOAT" || t == "REAL" || t == "HUGEINT" ||
		t == "UBIGINT" || t == "UHUGEINT" || strings.HasPrefix(t, "DECIMAL"):
		return dataset.Float64
	case t == "BOOLEAN":
		return dataset.Bool
	case t == "DATE" || strings.HasPrefix(t, "TIMESTAMP"):
		return dataset.Datetime
	}
	return dataset.String
}

// selectExpr casts columns whose driver representation has no dataset
// counterpart: wide integers and decimals to DOUBLE, everything else that is
// not a plain scalar to VARCHAR.
func selectExpr(c Column) string {
	name := quoteIdent(c.Name)
	t := strings.ToUpper(c.Type)
	switch {
	case t == "HUGEINT" || t == "UBIGINT" || t == "UHUGEINT" || strings.HasPrefix(t, "DECIMAL"):
		return fmt.Sprintf("CAST(%s AS DOUBLE) AS %s", name, name)
	case ColumnType(t) == dataset.String && t != "VARCHAR":
		return fmt.Sprintf("CAST(%s AS VARCHAR) AS %s", name, name)
	}
	return name
}

// convertValue normalizes a scanned driver value to a dataset cell.
func convertValue(v any, t dataset.DType) any {
	if v == nil {
		return nil
	}
	switch t {
	case dataset.Int64:
		if i, ok := toInt64(v); ok {
			return i
		}
	case dataset.Float64:
		switch val := v.(type) {
		case float64:
			if math.IsNaN(val) {
				return nil
			}
			return val
		case float32:
			return float64(val)
		}
		if i, ok := toInt64(v); ok {
			return float64(i)
		}
	case dataset.Bool:
		if b, ok := v.(bool); ok {
			return b
		}
	case dataset.Datetime:
		if tm, ok := v.(time.Time); ok {
			return tm.UTC()
		}
	}

	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	}
	return fmt.Sprint(v)
}

func toInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int32:
		return int64(val), true
	case int16:
		return int64(val), true
	case int8:
		return int64(val), true
	case int:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint8:
		return int64(val), true
	}
	return 0, false
}
