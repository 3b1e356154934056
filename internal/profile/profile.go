// Package profile computes per-column statistics and whole-dataset quality
// metrics for uploaded datasets.
package profile

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/leapstack-labs/datalens/internal/dataset"
	"github.com/leapstack-labs/datalens/internal/stats"
)

// TopValue is one entry of a column's most frequent values.
type TopValue struct {
	Value      string  `json:"value"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// ColumnProfile summarizes a single column. Numeric statistics are nil when
// the column is not numeric or has no present values.
type ColumnProfile struct {
	Name           string     `json:"name"`
	DType          string     `json:"dtype"`
	NonNullCount   int        `json:"non_null_count"`
	NullCount      int        `json:"null_count"`
	NullPercentage float64    `json:"null_percentage"`
	UniqueCount    int        `json:"unique_count"`
	Mean           *float64   `json:"mean,omitempty"`
	Std            *float64   `json:"std,omitempty"`
	Min            *float64   `json:"min,omitempty"`
	Max            *float64   `json:"max,omitempty"`
	Median         *float64   `json:"median,omitempty"`
	Q25            *float64   `json:"q25,omitempty"`
	Q75            *float64   `json:"q75,omitempty"`
	TopValues      []TopValue `json:"top_values,omitempty"`
}

// DataProfile summarizes a whole dataset.
type DataProfile struct {
	SessionID     string           `json:"session_id"`
	Filename      string           `json:"filename"`
	FileType      dataset.FileKind `json:"file_type"`
	RowCount      int              `json:"row_count"`
	ColumnCount   int              `json:"column_count"`
	MemoryUsageMB float64          `json:"memory_usage_mb"`
	Columns       []ColumnProfile  `json:"columns"`
	SampleData    []dataset.Record `json:"sample_data"`
	QualityScore  float64          `json:"quality_score"`
	Warnings      []string         `json:"warnings"`
}

// Options holds the profiling heuristics.
type Options struct {
	// TopValues is the number of most frequent values reported per column.
	TopValues int
	// LowCardinality is the distinct-count bound under which numeric columns
	// also get top values.
	LowCardinality int
	// MissingWarningPercent triggers a warning when a column's missing share exceeds it.
	MissingWarningPercent float64
	// SampleRows is the number of leading rows included in a dataset profile.
	SampleRows int
	// StatsPrecision is the number of decimals kept on numeric statistics.
	StatsPrecision int
	// IdentifierTypes are the column types eligible for the identifier warning.
	IdentifierTypes []dataset.DType
}

// DefaultOptions returns the standard heuristics.
func DefaultOptions() Options {
	return Options{
		TopValues:             10,
		LowCardinality:        20,
		MissingWarningPercent: 50,
		SampleRows:            5,
		StatsPrecision:        4,
		IdentifierTypes:       []dataset.DType{dataset.String},
	}
}

// Profiler computes column and dataset profiles. It holds no state besides
// its options and is safe for concurrent use.
type Profiler struct {
	opts Options
}

// New creates a profiler. Zero-valued options fall back to the defaults.
func New(opts Options) *Profiler {
	def := DefaultOptions()
	if opts.TopValues <= 0 {
		opts.TopValues = def.TopValues
	}
	if opts.LowCardinality <= 0 {
		opts.LowCardinality = def.LowCardinality
	}
	if opts.MissingWarningPercent <= 0 {
		opts.MissingWarningPercent = def.MissingWarningPercent
	}
	if opts.SampleRows <= 0 {
		opts.SampleRows = def.SampleRows
	}
	if opts.StatsPrecision <= 0 {
		opts.StatsPrecision = def.StatsPrecision
	}
	if opts.IdentifierTypes == nil {
		opts.IdentifierTypes = def.IdentifierTypes
	}
	return &Profiler{opts: opts}
}

// Options returns the profiler's effective options.
func (p *Profiler) Options() Options {
	return p.opts
}

// ProfileColumn computes the profile of one column.
func (p *Profiler) ProfileColumn(col *dataset.Column) ColumnProfile {
	total := col.Len()
	nulls := col.NullCount()

	prof := ColumnProfile{
		Name:         col.Name,
		DType:        string(col.Type),
		NonNullCount: total - nulls,
		NullCount:    nulls,
	}
	if total > 0 {
		prof.NullPercentage = stats.Round(float64(nulls)/float64(total)*100, 2)
	}

	// Distinct values in first-seen order, with their counts
	counts := make(map[any]int)
	var order []any
	for _, v := range col.Values {
		if dataset.IsMissing(v) {
			continue
		}
		k := dataset.Key(v)
		if _, ok := counts[k]; !ok {
			order = append(order, v)
		}
		counts[k]++
	}
	prof.UniqueCount = len(order)

	numeric := col.Type.IsNumeric()
	if numeric {
		p.numericStats(&prof, col.Floats())
	}

	if !numeric || prof.UniqueCount < p.opts.LowCardinality {
		prof.TopValues = p.topValues(order, counts, total)
	}
	return prof
}

func (p *Profiler) numericStats(prof *ColumnProfile, xs []float64) {
	if len(xs) == 0 {
		return
	}
	// Infinite cells make some statistics non-finite; those stay unset.
	round := func(x float64) *float64 {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		r := stats.Round(x, p.opts.StatsPrecision)
		return &r
	}
	q := stats.Quantiles(xs, 0.25, 0.5, 0.75)
	prof.Mean = round(stats.Mean(xs))
	prof.Min = round(stats.Min(xs))
	prof.Max = round(stats.Max(xs))
	prof.Q25 = round(q[0])
	prof.Median = round(q[1])
	prof.Q75 = round(q[2])
	if len(xs) > 1 {
		prof.Std = round(stats.StdDev(xs))
	}
}

func (p *Profiler) topValues(order []any, counts map[any]int, total int) []TopValue {
	if len(order) == 0 {
		return nil
	}
	ranked := slices.Clone(order)
	slices.SortStableFunc(ranked, func(a, b any) int {
		return counts[dataset.Key(b)] - counts[dataset.Key(a)]
	})
	if len(ranked) > p.opts.TopValues {
		ranked = ranked[:p.opts.TopValues]
	}

	out := make([]TopValue, len(ranked))
	for i, v := range ranked {
		n := counts[dataset.Key(v)]
		out[i] = TopValue{
			Value:      dataset.FormatValue(v),
			Count:      n,
			Percentage: stats.Round(float64(n)/float64(total)*100, 2),
		}
	}
	return out
}

// ProfileDataset computes the full profile of a dataset.
func (p *Profiler) ProfileDataset(ds *dataset.Dataset, sessionID, filename string, kind dataset.FileKind) *DataProfile {
	prof := &DataProfile{
		SessionID:     sessionID,
		Filename:      filename,
		FileType:      kind,
		RowCount:      ds.NumRows(),
		ColumnCount:   ds.NumCols(),
		MemoryUsageMB: stats.Round(float64(ds.MemoryUsage())/1024/1024, 6),
		Columns:       make([]ColumnProfile, 0, ds.NumCols()),
		Warnings:      []string{},
	}

	for _, col := range ds.Columns {
		prof.Columns = append(prof.Columns, p.ProfileColumn(col))
	}

	prof.QualityScore = QualityScore(ds)
	prof.Warnings = p.warnings(prof.Columns, ds)
	prof.SampleData = ds.Head(p.opts.SampleRows).Records()
	return prof
}

// QualityScore is the percentage of present cells, rounded to one decimal.
// A dataset without cells scores 100.
func QualityScore(ds *dataset.Dataset) float64 {
	total := ds.Size()
	if total == 0 {
		return 100
	}
	missing := ds.NullCount()
	return stats.Round((1-float64(missing)/float64(total))*100, 1)
}

func (p *Profiler) warnings(cols []ColumnProfile, ds *dataset.Dataset) []string {
	warnings := []string{}
	rows := ds.NumRows()
	for i, c := range cols {
		if c.NullPercentage > p.opts.MissingWarningPercent {
			warnings = append(warnings, fmt.Sprintf("Column '%s' has %s%% missing values",
				c.Name, formatPercent(c.NullPercentage)))
		}
		if c.UniqueCount == 1 {
			warnings = append(warnings, fmt.Sprintf("Column '%s' has only one unique value", c.Name))
		}
		if rows > 0 && c.UniqueCount == rows && slices.Contains(p.opts.IdentifierTypes, ds.Columns[i].Type) {
			warnings = append(warnings, fmt.Sprintf("Column '%s' might be an ID column (all unique values)", c.Name))
		}
	}
	return warnings
}

// formatPercent always keeps a decimal point, so 60 reads "60.0".
func formatPercent(x float64) string {
	s := strconv.FormatFloat(x, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
