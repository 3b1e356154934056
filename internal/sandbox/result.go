package sandbox

import "errors"

// Kind classifies a snippet result.
type Kind string

const (
	KindDataFrame  Kind = "dataframe"
	KindSeries     Kind = "series"
	KindScalar     Kind = "scalar"
	KindCollection Kind = "collection"
	KindUnknown    Kind = "unknown"
)

// Result is the classified value of a snippet's result variable.
//
// Data holds []dataset.Record for data frames, a dataset.Record for series,
// a plain Go scalar for scalars, []any or dataset.Record for collections,
// and nil or the value's text for unknown results. Records keep column,
// label and insertion order.
type Result struct {
	Kind Kind `json:"type"`
	Data any  `json:"data"`
}

var (
	// ErrCodeExecution matches every snippet failure.
	ErrCodeExecution = errors.New("code execution failed")

	// ErrExecutionTimeout matches snippets stopped by the wall-clock limit.
	ErrExecutionTimeout = errors.New("code execution timed out")
)

// ExecutionError describes a failed snippet.
type ExecutionError struct {
	// Kind is ErrCodeExecution or ErrExecutionTimeout.
	Kind    error
	Message string
	// Line is the failing snippet line, 0 when unknown.
	Line  int
	Cause error
}

func (e *ExecutionError) Error() string {
	return e.Message
}

// Unwrap exposes both the failure kind and the underlying cause.
func (e *ExecutionError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// Is lets a timeout also match ErrCodeExecution.
func (e *ExecutionError) Is(target error) bool {
	return target == ErrCodeExecution
}
