package decoder

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/datalens/internal/dataset"
	"github.com/xuri/excelize/v2"
)

// DecodeExcel reads the first sheet of a workbook. The first row holds the
// column names; blank names become "Unnamed: i" and repeated names get a
// ".n" suffix.
func DecodeExcel(path string) (*dataset.Dataset, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return dataset.New()
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	return fromRows(rows)
}

// fromRows builds a dataset from text rows whose first row is the header.
func fromRows(rows [][]string) (*dataset.Dataset, error) {
	if len(rows) == 0 {
		return dataset.New()
	}

	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	names := headerNames(rows[0], width)

	body := rows[1:]
	cols := make([]*dataset.Column, width)
	for c := range width {
		cells := make([]string, len(body))
		for i, r := range body {
			if c < len(r) {
				cells[i] = r[c]
			}
		}
		typ, values := inferColumn(cells)
		cols[c] = &dataset.Column{Name: names[c], Type: typ, Values: values}
	}
	return dataset.New(cols...)
}

func headerNames(header []string, width int) []string {
	names := make([]string, width)
	seen := make(map[string]int, width)
	for i := range width {
		name := ""
		if i < len(header) {
			name = strings.TrimSpace(header[i])
		}
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		if n, dup := seen[name]; dup {
			seen[name] = n + 1
			name = fmt.Sprintf("%s.%d", name, n+1)
		} else {
			seen[name] = 0
		}
		names[i] = name
	}
	return names
}

var dateLayouts = []string{
	time.DateOnly,
	time.DateTime,
	time.RFC3339,
	"01-02-06",
	"1/2/06 15:04",
}

// inferColumn picks the narrowest type every non-blank cell parses as:
// int64, then float64, bool, datetime and finally string.
func inferColumn(cells []string) (dataset.DType, []any) {
	parsers := []struct {
		typ   dataset.DType
		parse func(string) (any, bool)
	}{
		{dataset.Int64, parseInt},
		{dataset.Float64, parseFloat},
		{dataset.Bool, parseBool},
		{dataset.Datetime, parseDate},
	}

	present := 0
	for _, s := range cells {
		if strings.TrimSpace(s) != "" {
			present++
		}
	}
	if present == 0 {
		return dataset.Float64, make([]any, len(cells))
	}

	for _, p := range parsers {
		if values, ok := parseAll(cells, p.parse); ok {
			return p.typ, values
		}
	}
	values := make([]any, len(cells))
	for i, s := range cells {
		if strings.TrimSpace(s) != "" {
			values[i] = s
		}
	}
	return dataset.String, values
}

func parseAll(cells []string, parse func(string) (any, bool)) ([]any, bool) {
	values := make([]any, len(cells))
	for i, s := range cells {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		v, ok := parse(s)
		if !ok {
			return nil, false
		}
		values[i] = v
	}
	return values, true
}

func parseInt(s string) (any, bool) {
	i, err := strconv.ParseInt(s, 10, 64)
	return i, err == nil
}

func parseFloat(s string) (any, bool) {
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

func parseBool(s string) (any, bool) {
	switch strings.ToUpper(s) {
	case "TRUE":
		return true, true
	case "FALSE":
		return false, true
	}
	return nil, false
}

func parseDate(s string) (any, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return nil, false
}
