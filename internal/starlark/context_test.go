package starlark

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leapstack-labs/datalens/internal/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func salesData() *dataset.Dataset {
	return dataset.MustNew(
		dataset.NewColumn("region", []any{"North", "South", "North", "East"}),
		dataset.NewColumn("revenue", []any{int64(100), int64(150), int64(200), nil}),
		dataset.NewColumn("units", []any{1.5, 2.0, 3.0, 4.0}),
	)
}

// run executes code against the sales data and returns the result global,
// with records turned into maps for order-insensitive comparison.
func run(t *testing.T, code string) any {
	t.Helper()
	return dataset.Unorder(runOrdered(t, code))
}

// runOrdered is like run but keeps records as they are.
func runOrdered(t *testing.T, code string) any {
	t.Helper()
	globals, err := NewContext(salesData()).Exec(context.Background(), code)
	require.NoError(t, err)
	v, ok := globals["result"]
	require.True(t, ok, "snippet did not set result")
	out, err := ToGo(v)
	require.NoError(t, err)
	return out
}

func TestNewContext_Globals(t *testing.T) {
	ctx := NewContext(salesData())
	globals := ctx.Globals()

	for _, key := range []string{"df", "pd", "np"} {
		_, ok := globals[key]
		assert.True(t, ok, "global %q not found", key)
	}
	_, isFrame := globals["df"].(*Frame)
	assert.True(t, isFrame)
}

func TestExec_TopLevelControlFlow(t *testing.T) {
	got := run(t, `
total = 0
for r in df["revenue"].dropna().tolist():
    if r > 100:
        total += r
n = 0
while n < 3:
    n += 1
result = total + n
`)
	assert.Equal(t, int64(353), got)
}

func TestExec_DoesNotMutateSource(t *testing.T) {
	ds := salesData()
	_, err := NewContext(ds).Exec(context.Background(), `
df["double"] = df["units"] * 2
df["units"] = 0
`)
	require.NoError(t, err)

	assert.Equal(t, 3, ds.NumCols())
	units, _ := ds.Column("units")
	assert.Equal(t, []any{1.5, 2.0, 3.0, 4.0}, units.Values)
}

func TestExec_SyntaxErrorReportsLine(t *testing.T) {
	_, err := NewContext(salesData()).Exec(context.Background(), "x = 1\ny = (\n")

	var evalErr *EvalError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, DefaultFilename, evalErr.File)
	assert.Positive(t, evalErr.Line)
}

func TestExec_RuntimeErrorReportsLine(t *testing.T) {
	_, err := NewContext(salesData(), WithFilename("snippet.star")).Exec(context.Background(), "x = 1\ny = df[\"missing\"]\n")

	var evalErr *EvalError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, "snippet.star", evalErr.File)
	assert.Equal(t, 2, evalErr.Line)
	assert.Contains(t, evalErr.Message, "KeyError")
	assert.Contains(t, evalErr.Message, "region, revenue, units")
}

func TestExec_UndefinedName(t *testing.T) {
	_, err := NewContext(salesData()).Exec(context.Background(), "result = undefined_thing")

	var evalErr *EvalError
	require.ErrorAs(t, err, &evalErr)
	assert.Contains(t, evalErr.Message, "undefined_thing")
}

func TestExec_StepLimit(t *testing.T) {
	_, err := NewContext(salesData(), WithMaxSteps(10_000)).Exec(context.Background(), `
x = 0
while True:
    x += 1
`)
	assert.ErrorIs(t, err, ErrStepLimit)
}

func TestExec_ContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewContext(salesData()).Exec(ctx, `
x = 0
while True:
    x += 1
`)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExec_PrintIsSilent(t *testing.T) {
	globals, err := NewContext(salesData()).Exec(context.Background(), `print("hello")
result = 1`)
	require.NoError(t, err)
	assert.Equal(t, starlark.MakeInt(1), globals["result"])
}

func TestEvalError_Error(t *testing.T) {
	assert.Equal(t, "a.star:3: boom", (&EvalError{File: "a.star", Line: 3, Message: "boom"}).Error())
	assert.Equal(t, "a.star: boom", (&EvalError{File: "a.star", Message: "boom"}).Error())
}
