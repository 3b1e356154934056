package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/leapstack-labs/datalens/internal/dataset"
	"github.com/leapstack-labs/datalens/internal/profile"
)

const systemPromptTemplate = `You are DataLens AI, an expert data analyst assistant. You help users analyze their data using natural language.

## Your Capabilities
- Answer questions about data with pandas-style analysis code
- Suggest appropriate visualizations
- Explain insights clearly

## Current Dataset Context
%s

## Available Columns
%s

## Response Format
Always respond with valid JSON in this exact structure:
{
    "answer": "Your natural language explanation of the results",
    "code": "result = df['column'].mean()",
    "chart": {
        "type": "bar|line|area|scatter|pie|histogram|heatmap",
        "title": "Chart title",
        "x_key": "column_name_for_x_axis",
        "y_keys": ["column_name_for_y_axis"],
        "data": [{"x_value": "A", "y_value": 100}]
    }
}

## Code Rules
1. The code field is Starlark, a Python dialect, operating on a DataFrame named df
2. pd and np are already defined; do not import anything
3. Store the final result in a variable called result
4. Build filters with comparison methods: df["x"].gt(5), df["x"].eq("a"), df["x"].isin([...]), df["x"].between(1, 9), df["x"].str.contains("a"); combine them with &, | and ~
5. Classes, try/except, f-strings, lambdas with statements and file or network access are not available
6. Use df.groupby("col")["value"].sum(), df.sort_values("col", ascending=False), df.head(n), df["col"].value_counts() and similar pandas operations

## Rules
1. Include chart only when visualization is appropriate
2. Keep answers concise but informative
3. Reply in the same language as the user's question; if unsure, use English
4. For chart data, always provide actual computed values, not placeholders
5. If you cannot answer the question, explain why clearly

## Chart Type Guidelines
- Time series: line or area
- Comparisons: bar
- Distributions: histogram
- Correlations: scatter or heatmap
- Proportions: pie (only for fewer than 7 categories)
`

const userPromptTemplate = `## Sample Data (first %d rows)
%s

## User Question
%s

Analyze the data and respond with JSON only. No markdown formatting around the JSON.`

// BuildSystemPrompt describes the dataset and the reply contract.
func BuildSystemPrompt(ds *dataset.Dataset, columns []profile.ColumnProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Shape: %d rows × %d columns\nTypes:\n", ds.NumRows(), ds.NumCols())

	t := newTable()
	t.AppendHeader(table.Row{"column", "dtype", "missing"})
	for _, c := range columns {
		t.AppendRow(table.Row{c.Name, c.DType, strconv.FormatFloat(c.NullPercentage, 'f', -1, 64) + "%"})
	}
	b.WriteString(t.Render())

	return fmt.Sprintf(systemPromptTemplate, b.String(), strings.Join(ds.ColumnNames(), ", "))
}

// BuildUserPrompt renders the first rows of the dataset and the question.
func BuildUserPrompt(ds *dataset.Dataset, question string, sampleRows int) string {
	head := ds.Head(sampleRows)
	return fmt.Sprintf(userPromptTemplate, sampleRows, renderRows(head), question)
}

// renderRows renders a dataset as a text table with a leading row number.
func renderRows(ds *dataset.Dataset) string {
	t := newTable()
	header := table.Row{""}
	for _, name := range ds.ColumnNames() {
		header = append(header, name)
	}
	t.AppendHeader(header)

	for i := range ds.NumRows() {
		row := table.Row{i}
		for _, c := range ds.Columns {
			row = append(row, dataset.FormatValue(c.Values[i]))
		}
		t.AppendRow(row)
	}
	return t.Render()
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleDefault)
	t.Style().Format.Header = text.FormatDefault
	return t
}
