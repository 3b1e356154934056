package query

import (
	"errors"
	"fmt"
	"strings"
)

// QueryResult is the answer to one natural-language question.
type QueryResult struct {
	Success bool   `json:"success"`
	Answer  string `json:"answer"`
	// Data is a list of row records, or the snippet's keyed sequence or
	// collection wrapped in a list. Nil when no data was produced.
	Data            []any             `json:"data"`
	Chart           *ChartDescription `json:"chart"`
	Code            *string           `json:"code"`
	ExecutionTimeMS float64           `json:"execution_time_ms"`
}

// ChartKind is the closed set of chart types a client can render.
type ChartKind string

const (
	ChartLine      ChartKind = "line"
	ChartBar       ChartKind = "bar"
	ChartArea      ChartKind = "area"
	ChartScatter   ChartKind = "scatter"
	ChartPie       ChartKind = "pie"
	ChartHistogram ChartKind = "histogram"
	ChartHeatmap   ChartKind = "heatmap"
)

var chartKinds = []ChartKind{ChartLine, ChartBar, ChartArea, ChartScatter, ChartPie, ChartHistogram, ChartHeatmap}

// ParseChartKind maps text onto a ChartKind. Unknown values are rejected.
func ParseChartKind(s string) (ChartKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range chartKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidChart, s)
}

// ChartDescription tells a client how to render a result.
type ChartDescription struct {
	Type   ChartKind        `json:"type"`
	Title  string           `json:"title"`
	Data   []map[string]any `json:"data"`
	XKey   *string          `json:"x_key"`
	YKeys  []string         `json:"y_keys"`
	Config map[string]any   `json:"config"`
}

// ErrInvalidChart is returned for chart candidates that cannot be rendered.
var ErrInvalidChart = errors.New("invalid chart")

// NewChartDescription validates a chart candidate decoded from a model reply.
// A missing or unknown type, or a field of the wrong shape, rejects the whole
// candidate.
func NewChartDescription(candidate map[string]any) (*ChartDescription, error) {
	typ, ok := candidate["type"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidChart)
	}
	kind, err := ParseChartKind(typ)
	if err != nil {
		return nil, err
	}

	chart := &ChartDescription{
		Type:   kind,
		Data:   []map[string]any{},
		YKeys:  []string{},
		Config: map[string]any{},
	}

	if v, ok := candidate["title"]; ok && v != nil {
		title, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: title must be text", ErrInvalidChart)
		}
		chart.Title = title
	}

	if v, ok := candidate["data"]; ok && v != nil {
		rows, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: data must be a list", ErrInvalidChart)
		}
		for i, r := range rows {
			rec, ok := r.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: data[%d] must be an object", ErrInvalidChart, i)
			}
			chart.Data = append(chart.Data, rec)
		}
	}

	if v, ok := candidate["x_key"]; ok && v != nil {
		x, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: x_key must be text", ErrInvalidChart)
		}
		chart.XKey = &x
	}

	if v, ok := candidate["y_keys"]; ok && v != nil {
		keys, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: y_keys must be a list", ErrInvalidChart)
		}
		for i, k := range keys {
			s, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%w: y_keys[%d] must be text", ErrInvalidChart, i)
			}
			chart.YKeys = append(chart.YKeys, s)
		}
	}

	if v, ok := candidate["config"]; ok && v != nil {
		cfg, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: config must be an object", ErrInvalidChart)
		}
		chart.Config = cfg
	}

	return chart, nil
}
