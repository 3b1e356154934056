// Package sandbox runs analysis snippets against a private copy of a session
// dataset and classifies whatever the snippet leaves in its result variable.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/leapstack-labs/datalens/internal/dataset"
	"github.com/leapstack-labs/datalens/internal/registry"
	dlstarlark "github.com/leapstack-labs/datalens/internal/starlark"
	"go.starlark.net/starlark"
)

// Defaults for bounded execution.
const (
	DefaultTimeout  = 10 * time.Second
	DefaultMaxSteps = 50_000_000
)

// ResultVariable is the global a snippet assigns its answer to.
const ResultVariable = "result"

// DatasetSource resolves session ids to datasets.
type DatasetSource interface {
	Get(id string) (*dataset.Dataset, bool)
}

// Sandbox executes snippets with a wall-clock timeout and a step budget.
type Sandbox struct {
	source   DatasetSource
	timeout  time.Duration
	maxSteps uint64
	logger   *slog.Logger
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithTimeout bounds the wall-clock time of one execution.
func WithTimeout(d time.Duration) Option {
	return func(s *Sandbox) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMaxSteps bounds the number of Starlark steps of one execution.
func WithMaxSteps(n uint64) Option {
	return func(s *Sandbox) {
		if n > 0 {
			s.maxSteps = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sandbox) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a sandbox reading datasets from source.
func New(source DatasetSource, opts ...Option) *Sandbox {
	s := &Sandbox{
		source:   source,
		timeout:  DefaultTimeout,
		maxSteps: DefaultMaxSteps,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute runs code against the dataset of a session. The registered dataset
// is never modified; the snippet sees a clone bound to df.
func (s *Sandbox) Execute(ctx context.Context, sessionID, code string) (*Result, error) {
	ds, ok := s.source.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrSessionNotFound, sessionID)
	}
	s.logger.Debug("executing snippet", "session", sessionID, "lines", strings.Count(code, "\n")+1)
	return s.Run(ctx, ds, code)
}

// Run executes code against ds directly.
func (s *Sandbox) Run(ctx context.Context, ds *dataset.Dataset, code string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	execCtx := dlstarlark.NewContext(ds, dlstarlark.WithMaxSteps(s.maxSteps))
	globals, err := execCtx.Exec(ctx, StripImports(code))
	if err != nil {
		s.logger.Debug("snippet failed", "error", err, "elapsed", time.Since(start))
		return nil, s.executionError(err)
	}
	s.logger.Debug("snippet finished", "elapsed", time.Since(start))

	return Classify(globals[ResultVariable])
}

func (s *Sandbox) executionError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &ExecutionError{
			Kind:    ErrExecutionTimeout,
			Message: fmt.Sprintf("execution exceeded the %s time limit", s.timeout),
			Cause:   err,
		}
	case errors.Is(err, context.Canceled):
		return &ExecutionError{Kind: ErrCodeExecution, Message: "execution cancelled", Cause: err}
	}

	out := &ExecutionError{Kind: ErrCodeExecution, Message: err.Error(), Cause: err}
	var evalErr *dlstarlark.EvalError
	if errors.As(err, &evalErr) {
		out.Line = evalErr.Line
		out.Message = evalErr.Message
		if evalErr.Line > 0 {
			out.Message = fmt.Sprintf("line %d: %s", evalErr.Line, evalErr.Message)
		}
	}
	return out
}

// importLine matches the Python module imports whose names are already bound.
var importLine = regexp.MustCompile(`^\s*import\s+(pandas|numpy)(?:\s+as\s+([A-Za-z_][A-Za-z0-9_]*))?\s*$`)

// boundModules maps an importable module to its predeclared name.
var boundModules = map[string]string{
	"pandas": "pd",
	"numpy":  "np",
}

// StripImports blanks import lines for modules that are predeclared, keeping
// line numbers stable. An import under a different alias becomes an
// assignment to that alias. Other imports are left alone and fail to parse.
func StripImports(code string) string {
	lines := strings.Split(code, "\n")
	for i, line := range lines {
		m := importLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		bound := boundModules[m[1]]
		alias := m[2]
		if alias == "" {
			alias = m[1]
		}
		if alias == bound {
			lines[i] = ""
			continue
		}
		lines[i] = alias + " = " + bound
	}
	return strings.Join(lines, "\n")
}

// Classify converts a result value to a Result.
func Classify(v starlark.Value) (*Result, error) {
	switch val := v.(type) {
	case nil, starlark.NoneType:
		return &Result{Kind: KindUnknown}, nil

	case *dlstarlark.Frame:
		return &Result{Kind: KindDataFrame, Data: val.Records()}, nil

	case *dlstarlark.Series:
		return &Result{Kind: KindSeries, Data: val.ToRecord()}, nil

	case starlark.String, starlark.Int, starlark.Float, starlark.Bool:
		data, err := dlstarlark.ToGo(val)
		if err != nil {
			return nil, convertError(err)
		}
		return &Result{Kind: KindScalar, Data: data}, nil

	case *starlark.List, starlark.Tuple, *starlark.Dict:
		data, err := dlstarlark.ToGo(val)
		if err != nil {
			return nil, convertError(err)
		}
		return &Result{Kind: KindCollection, Data: data}, nil

	default:
		return &Result{Kind: KindUnknown, Data: val.String()}, nil
	}
}

func convertError(err error) error {
	return &ExecutionError{
		Kind:    ErrCodeExecution,
		Message: fmt.Sprintf("cannot convert result: %v", err),
		Cause:   err,
	}
}
