// Package query answers natural-language questions about session datasets by
// prompting a language model for an analysis snippet, running the snippet in
// the sandbox and assembling the reply.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/leapstack-labs/datalens/internal/dataset"
	"github.com/leapstack-labs/datalens/internal/llm"
	"github.com/leapstack-labs/datalens/internal/profile"
	"github.com/leapstack-labs/datalens/internal/sandbox"
)

// ExecutionNotePrefix precedes sandbox failures appended to an answer.
const ExecutionNotePrefix = "\n\n⚠️ Code execution note: "

// DatasetSource resolves session ids to datasets.
type DatasetSource interface {
	Get(id string) (*dataset.Dataset, bool)
}

// Executor runs a snippet against a session dataset.
type Executor interface {
	Execute(ctx context.Context, sessionID, code string) (*sandbox.Result, error)
}

// Options configures an Orchestrator.
type Options struct {
	// ModelTimeout bounds one model call. Zero means no extra bound.
	ModelTimeout time.Duration
	// SampleRows is the number of leading rows shown to the model.
	SampleRows int
}

// DefaultOptions returns the standard orchestrator options.
func DefaultOptions() Options {
	return Options{
		ModelTimeout: 60 * time.Second,
		SampleRows:   3,
	}
}

// Orchestrator answers questions about session datasets.
type Orchestrator struct {
	source   DatasetSource
	executor Executor
	model    llm.Client
	profiler *profile.Profiler
	opts     Options
	logger   *slog.Logger
}

// Config holds the collaborators of an Orchestrator.
type Config struct {
	Source   DatasetSource
	Executor Executor
	Model    llm.Client
	Profiler *profile.Profiler
	Options  Options
	Logger   *slog.Logger
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	profiler := cfg.Profiler
	if profiler == nil {
		profiler = profile.New(profile.DefaultOptions())
	}
	opts := cfg.Options
	if opts.SampleRows <= 0 {
		opts.SampleRows = DefaultOptions().SampleRows
	}
	return &Orchestrator{
		source:   cfg.Source,
		executor: cfg.Executor,
		model:    cfg.Model,
		profiler: profiler,
		opts:     opts,
		logger:   logger,
	}
}

// Answer answers a question about a session dataset. It never returns an
// error: every failure is reported through a result with Success false.
func (o *Orchestrator) Answer(ctx context.Context, sessionID, question string, includeCode bool) (res *QueryResult) {
	ds, ok := o.source.Get(sessionID)
	if !ok {
		return &QueryResult{
			Answer: fmt.Sprintf("Session not found: %s. Please upload a file first.", sessionID),
		}
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("query panicked", "session", sessionID, "panic", r)
			res = &QueryResult{
				Answer:          fmt.Sprintf("Unexpected error: %v", r),
				ExecutionTimeMS: elapsedMS(start),
			}
		}
	}()

	columns := make([]profile.ColumnProfile, len(ds.Columns))
	for i, c := range ds.Columns {
		columns[i] = o.profiler.ProfileColumn(c)
	}
	system := BuildSystemPrompt(ds, columns)
	user := BuildUserPrompt(ds, question, o.opts.SampleRows)

	text, err := o.complete(ctx, system, user)
	if err != nil {
		o.logger.Warn("model call failed", "session", sessionID, "error", err)
		return &QueryResult{
			Answer:          o.modelFailure(err),
			ExecutionTimeMS: elapsedMS(start),
		}
	}

	reply, strategy := parseReply(text)
	o.logger.Debug("model reply parsed", "session", sessionID, "strategy", strategy,
		"has_code", reply.Code != "", "has_chart", reply.Chart != nil)

	result := &QueryResult{Success: true, Answer: reply.Answer}

	if reply.Code != "" {
		data, err := o.execute(ctx, sessionID, reply.Code)
		if err != nil {
			o.logger.Info("snippet failed", "session", sessionID, "error", err)
			result.Answer += ExecutionNotePrefix + err.Error()
		} else {
			result.Data = data
		}
		if includeCode {
			code := reply.Code
			result.Code = &code
		}
	}

	if reply.Chart != nil {
		chart, err := NewChartDescription(reply.Chart)
		if err != nil {
			o.logger.Debug("chart dropped", "session", sessionID, "error", err)
		} else {
			result.Chart = chart
		}
	}

	result.ExecutionTimeMS = elapsedMS(start)
	return result
}

func (o *Orchestrator) complete(ctx context.Context, system, user string) (string, error) {
	if o.opts.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.ModelTimeout)
		defer cancel()
	}
	return o.model.Complete(ctx, system, user)
}

func (o *Orchestrator) modelFailure(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("AI service timed out after %s", o.opts.ModelTimeout)
	}
	return fmt.Sprintf("AI service error: %v", err)
}

// execute runs a snippet and shapes its result as response data.
func (o *Orchestrator) execute(ctx context.Context, sessionID, code string) ([]any, error) {
	out, err := o.executor.Execute(ctx, sessionID, code)
	if err != nil {
		return nil, err
	}

	switch out.Kind {
	case sandbox.KindDataFrame:
		records, _ := out.Data.([]dataset.Record)
		data := make([]any, len(records))
		for i, r := range records {
			data[i] = r
		}
		return data, nil
	case sandbox.KindSeries, sandbox.KindCollection:
		if list, ok := out.Data.([]any); ok {
			return list, nil
		}
		return []any{out.Data}, nil
	}
	return nil, nil
}

func elapsedMS(start time.Time) float64 {
	ms := float64(time.Since(start).Microseconds()) / 1000
	return math.Round(ms*100) / 100
}
