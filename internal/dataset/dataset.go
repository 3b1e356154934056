// Package dataset defines the in-memory tabular model shared by the registry,
// the profiler, the sandbox and the file decoders.
//
// A Dataset is an ordered set of named columns of equal length. Cell values are
// restricted to int64, float64, bool, time.Time, string or nil (missing), which
// keeps every value immutable and lets Clone duplicate a dataset by copying
// the value slices.
package dataset

import (
	"errors"
	"fmt"
	"time"
)

// ErrColumnLength is returned when columns of a dataset differ in length.
var ErrColumnLength = errors.New("columns must have equal length")

// ErrDuplicateColumn is returned when two columns share a name.
var ErrDuplicateColumn = errors.New("duplicate column name")

// Column is a named, typed sequence of cell values.
type Column struct {
	Name   string
	Type   DType
	Values []any
}

// NewColumn builds a column, inferring its type from the values.
func NewColumn(name string, values []any) *Column {
	return &Column{Name: name, Type: InferType(values), Values: values}
}

// Len returns the number of cells in the column.
func (c *Column) Len() int {
	return len(c.Values)
}

// IsMissing reports whether cell i is missing.
func (c *Column) IsMissing(i int) bool {
	return IsMissing(c.Values[i])
}

// NullCount returns the number of missing cells.
func (c *Column) NullCount() int {
	n := 0
	for _, v := range c.Values {
		if IsMissing(v) {
			n++
		}
	}
	return n
}

// Present returns the non-missing values in order.
func (c *Column) Present() []any {
	out := make([]any, 0, len(c.Values))
	for _, v := range c.Values {
		if !IsMissing(v) {
			out = append(out, v)
		}
	}
	return out
}

// Floats returns the present values of a numeric column as float64.
func (c *Column) Floats() []float64 {
	out := make([]float64, 0, len(c.Values))
	for _, v := range c.Values {
		if f, ok := ToFloat(v); ok && !IsMissing(v) {
			out = append(out, f)
		}
	}
	return out
}

// Clone returns a copy of the column with its own value slice.
func (c *Column) Clone() *Column {
	values := make([]any, len(c.Values))
	copy(values, c.Values)
	return &Column{Name: c.Name, Type: c.Type, Values: values}
}

// Dataset is an ordered collection of equal-length columns.
type Dataset struct {
	Columns []*Column
}

// New creates a dataset after checking column lengths and names.
func New(cols ...*Column) (*Dataset, error) {
	seen := make(map[string]struct{}, len(cols))
	for i, c := range cols {
		if i > 0 && c.Len() != cols[0].Len() {
			return nil, fmt.Errorf("%w: column %q has %d values, expected %d",
				ErrColumnLength, c.Name, c.Len(), cols[0].Len())
		}
		if _, ok := seen[c.Name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return &Dataset{Columns: cols}, nil
}

// MustNew is like New but panics on invalid input. Intended for tests and literals.
func MustNew(cols ...*Column) *Dataset {
	ds, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return ds
}

// NumRows returns the number of rows.
func (d *Dataset) NumRows() int {
	if len(d.Columns) == 0 {
		return 0
	}
	return d.Columns[0].Len()
}

// NumCols returns the number of columns.
func (d *Dataset) NumCols() int {
	return len(d.Columns)
}

// Size returns the number of cells (rows × columns).
func (d *Dataset) Size() int {
	return d.NumRows() * d.NumCols()
}

// NullCount returns the number of missing cells across all columns.
func (d *Dataset) NullCount() int {
	n := 0
	for _, c := range d.Columns {
		n += c.NullCount()
	}
	return n
}

// Column looks up a column by name.
func (d *Dataset) Column(name string) (*Column, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// ColumnNames returns the column names in order.
func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// Row returns row i as a record in column order. Missing cells are nil.
func (d *Dataset) Row(i int) Record {
	rec := make(Record, len(d.Columns))
	for j, c := range d.Columns {
		rec[j] = Field{Key: c.Name, Value: Normalize(c.Values[i])}
	}
	return rec
}

// Records returns every row as a record.
func (d *Dataset) Records() []Record {
	out := make([]Record, d.NumRows())
	for i := range out {
		out[i] = d.Row(i)
	}
	return out
}

// Head returns a dataset holding the first n rows.
func (d *Dataset) Head(n int) *Dataset {
	if n > d.NumRows() {
		n = d.NumRows()
	}
	if n < 0 {
		n = 0
	}
	cols := make([]*Column, len(d.Columns))
	for i, c := range d.Columns {
		values := make([]any, n)
		copy(values, c.Values[:n])
		cols[i] = &Column{Name: c.Name, Type: c.Type, Values: values}
	}
	return &Dataset{Columns: cols}
}

// Clone returns a full duplicate. Mutating the clone's columns or value slices
// never affects the receiver.
func (d *Dataset) Clone() *Dataset {
	cols := make([]*Column, len(d.Columns))
	for i, c := range d.Columns {
		cols[i] = c.Clone()
	}
	return &Dataset{Columns: cols}
}

// MemoryUsage estimates the in-memory footprint in bytes, counting string
// payloads the way a boxed-object column would.
func (d *Dataset) MemoryUsage() int64 {
	const (
		indexBytes  = 128
		objectBytes = 49
		slotBytes   = 8
	)
	total := int64(indexBytes)
	for _, c := range d.Columns {
		switch c.Type {
		case Bool:
			total += int64(c.Len())
		case Int64, Float64, Datetime:
			total += int64(c.Len()) * slotBytes
		default:
			for _, v := range c.Values {
				total += slotBytes
				switch val := v.(type) {
				case string:
					total += objectBytes + int64(len(val))
				case nil:
				default:
					total += 24
				}
			}
		}
	}
	return total
}

// Metadata describes where a dataset came from.
type Metadata struct {
	Filename  string
	FileKind  FileKind
	CreatedAt time.Time
}

// FileKind identifies the source format of an ingested file.
type FileKind string

// Supported file kinds.
const (
	FileCSV     FileKind = "csv"
	FileTSV     FileKind = "tsv"
	FileExcel   FileKind = "excel"
	FileJSON    FileKind = "json"
	FileParquet FileKind = "parquet"
)
