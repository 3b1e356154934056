package starlark

import (
	"context"
	"errors"
	"fmt"

	"github.com/leapstack-labs/datalens/internal/dataset"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// DefaultFilename names snippet source in error positions.
const DefaultFilename = "<analysis>"

// ErrStepLimit is returned when a snippet exceeds its execution step budget.
var ErrStepLimit = errors.New("execution step limit exceeded")

// fileOptions enables the Python-like constructs analysis snippets rely on:
// top-level for/if, global reassignment, while loops and sets.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// ExecutionContext holds the globals for running snippets against one dataset.
type ExecutionContext struct {
	globals  starlark.StringDict
	maxSteps uint64
	filename string
}

// ContextOption is a functional option for configuring ExecutionContext.
type ContextOption func(*ExecutionContext)

// WithMaxSteps bounds the number of execution steps; 0 means unbounded.
func WithMaxSteps(n uint64) ContextOption {
	return func(ctx *ExecutionContext) {
		ctx.maxSteps = n
	}
}

// WithFilename sets the filename reported in error positions.
func WithFilename(name string) ContextOption {
	return func(ctx *ExecutionContext) {
		if name != "" {
			ctx.filename = name
		}
	}
}

// NewContext creates an execution context whose df global is a private copy
// of ds.
func NewContext(ds *dataset.Dataset, opts ...ContextOption) *ExecutionContext {
	ctx := &ExecutionContext{
		globals:  Predeclared(ds),
		filename: DefaultFilename,
	}
	for _, opt := range opts {
		opt(ctx)
	}
	return ctx
}

// Globals returns the predeclared globals.
func (c *ExecutionContext) Globals() starlark.StringDict {
	return c.globals
}

// Exec runs src and returns the globals it defined. Execution stops when ctx
// is done or the step budget runs out.
func (c *ExecutionContext) Exec(ctx context.Context, src string) (globals starlark.StringDict, err error) {
	thread := c.newThread()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			globals, err = nil, &EvalError{File: c.filename, Message: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	globals, err = starlark.ExecFileOptions(fileOptions, thread, c.filename, src, c.globals)
	if err == nil {
		return globals, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if c.maxSteps > 0 && thread.ExecutionSteps() >= c.maxSteps {
		return nil, fmt.Errorf("%w (%d steps)", ErrStepLimit, c.maxSteps)
	}
	return nil, c.wrapError(err)
}

func (c *ExecutionContext) newThread() *starlark.Thread {
	thread := &starlark.Thread{
		Name: c.filename,
		Print: func(_ *starlark.Thread, _ string) {
			// Snippets report through the result variable, not output
		},
	}
	if c.maxSteps > 0 {
		thread.SetMaxExecutionSteps(c.maxSteps)
	}
	return thread
}

// wrapError converts Starlark syntax, resolution and runtime errors to an
// EvalError carrying the failing line.
func (c *ExecutionContext) wrapError(err error) error {
	out := &EvalError{File: c.filename, Message: err.Error()}

	var syntaxErr syntax.Error
	var resolveErrs resolve.ErrorList
	var evalErr *starlark.EvalError
	switch {
	case errors.As(err, &syntaxErr):
		out.Line = int(syntaxErr.Pos.Line)
		out.Message = syntaxErr.Msg
	case errors.As(err, &resolveErrs):
		out.Line = int(resolveErrs[0].Pos.Line)
		out.Message = resolveErrs[0].Msg
	case errors.As(err, &evalErr):
		out.Message = evalErr.Msg
		for i := range evalErr.CallStack {
			frame := evalErr.CallStack.At(i)
			if frame.Pos.Filename() == c.filename {
				out.Line = int(frame.Pos.Line)
				break
			}
		}
	}
	return out
}

// EvalError represents a failure while running a snippet.
type EvalError struct {
	File    string
	Line    int
	Message string
}

func (e *EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}
