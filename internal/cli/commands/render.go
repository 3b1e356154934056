package commands

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/leapstack-labs/datalens/internal/cli/output"
	"github.com/leapstack-labs/datalens/internal/dataset"
	"github.com/leapstack-labs/datalens/internal/journal"
	"github.com/leapstack-labs/datalens/internal/profile"
	"github.com/leapstack-labs/datalens/internal/query"
)

// maxResultRows caps the rows printed for a result in text mode.
const maxResultRows = 20

func renderProfile(r *output.Renderer, prof *profile.DataProfile) error {
	if r.IsJSON() {
		return r.JSON(prof)
	}

	r.KeyValue([][2]string{
		{"File", fmt.Sprintf("%s (%s)", prof.Filename, prof.FileType)},
		{"Session", prof.SessionID},
		{"Rows", strconv.Itoa(prof.RowCount)},
		{"Columns", strconv.Itoa(prof.ColumnCount)},
		{"Memory", fmt.Sprintf("%.2f MB", prof.MemoryUsageMB)},
		{"Quality", fmt.Sprintf("%.1f / 100", prof.QualityScore)},
	})
	r.Println()
	renderColumns(r, prof.Columns)

	for _, w := range prof.Warnings {
		r.Warn(w)
	}
	return nil
}

func renderColumns(r *output.Renderer, columns []profile.ColumnProfile) {
	rows := make([][]any, len(columns))
	for i, c := range columns {
		rows[i] = []any{
			c.Name,
			c.DType,
			c.NonNullCount,
			fmt.Sprintf("%.2f%%", c.NullPercentage),
			c.UniqueCount,
			optional(c.Mean),
			optional(c.Min),
			optional(c.Max),
			topValue(c.TopValues),
		}
	}
	r.Table([]string{"column", "type", "non-null", "missing", "unique", "mean", "min", "max", "top value"}, rows)
}

func optional(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func topValue(values []profile.TopValue) string {
	if len(values) == 0 {
		return ""
	}
	return fmt.Sprintf("%s (%.1f%%)", values[0].Value, values[0].Percentage)
}

func renderResult(r *output.Renderer, res *query.QueryResult) error {
	if r.IsJSON() {
		return r.JSON(res)
	}

	r.Println(res.Answer)

	if len(res.Data) > 0 {
		r.Println()
		renderData(r, res.Data)
	}
	if res.Chart != nil {
		r.Println()
		r.Printf("Chart: %s %q\n", res.Chart.Type, res.Chart.Title)
	}
	if res.Code != nil {
		r.Println()
		r.Header("Code")
		r.Println(*res.Code)
	}
	r.Println()
	r.Printf("(%.2f ms)\n", res.ExecutionTimeMS)
	return nil
}

// renderData prints row records as a table and anything else as JSON lines.
func renderData(r *output.Renderer, data []any) {
	header := recordColumns(data)
	if header == nil {
		for _, v := range data {
			b, err := json.Marshal(v)
			if err != nil {
				r.Println(fmt.Sprint(v))
				continue
			}
			r.Println(string(b))
		}
		return
	}

	shown := data
	if len(shown) > maxResultRows {
		shown = shown[:maxResultRows]
	}
	rows := make([][]any, len(shown))
	for i, v := range shown {
		rec := v.(dataset.Record)
		row := make([]any, len(header))
		for j, col := range header {
			row[j], _ = rec.Get(col)
		}
		rows[i] = row
	}
	r.Table(header, rows)
	if len(data) > len(shown) {
		r.Printf("showing %d of %d rows\n", len(shown), len(data))
	}
}

// recordColumns returns the union of keys in first-seen order when every
// element is a record, nil otherwise or when no record has keys.
func recordColumns(data []any) []string {
	var cols []string
	seen := map[string]bool{}
	for _, v := range data {
		rec, ok := v.(dataset.Record)
		if !ok {
			return nil
		}
		for _, k := range rec.Keys() {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	return cols
}

func renderHistory(r *output.Renderer, entries []*journal.Entry) error {
	if r.IsJSON() {
		return r.JSON(entries)
	}
	rows := make([][]any, len(entries))
	for i, e := range entries {
		status := "ok"
		if !e.Success {
			status = "failed"
		}
		rows[i] = []any{
			e.CreatedAt.Local().Format("15:04:05"),
			e.Question,
			status,
			e.RowCount,
			fmt.Sprintf("%.0f ms", e.ExecutionMS),
		}
	}
	r.Table([]string{"time", "question", "status", "rows", "elapsed"}, rows)
	return nil
}
