// Package service is the core facade over the session registry: it ingests
// datasets, serves their profiles, answers questions about them and deletes
// them. Every caller-facing surface (HTTP API, CLI) goes through it.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/leapstack-labs/datalens/internal/adapter"
	"github.com/leapstack-labs/datalens/internal/dataset"
	"github.com/leapstack-labs/datalens/internal/decoder"
	"github.com/leapstack-labs/datalens/internal/journal"
	"github.com/leapstack-labs/datalens/internal/llm"
	"github.com/leapstack-labs/datalens/internal/profile"
	"github.com/leapstack-labs/datalens/internal/query"
	"github.com/leapstack-labs/datalens/internal/registry"
	"github.com/leapstack-labs/datalens/internal/sandbox"
)

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = registry.ErrSessionNotFound

// Config wires a Service.
type Config struct {
	// Model answers prompts. Required.
	Model llm.Client

	Profile profile.Options
	Query   query.Options

	SandboxTimeout  time.Duration
	SandboxMaxSteps uint64

	// IdleTTL expires sessions not touched for this long. Zero disables expiry.
	IdleTTL time.Duration

	// JournalPath is the SQLite journal file; journal.MemoryPath keeps it in
	// memory and an empty path disables journaling.
	JournalPath string

	// DuckDB configures the connection used to decode uploads.
	DuckDB adapter.Config

	Logger *slog.Logger
}

// Service is the session facade.
type Service struct {
	registry     *registry.Registry
	profiler     *profile.Profiler
	decoder      *decoder.Decoder
	orchestrator *query.Orchestrator
	journal      *journal.Store
	metrics      *Metrics
	locks        *keyedMutex
	logger       *slog.Logger

	sessions      *ttlcache.Cache[string, struct{}]
	stopEvictions func()
	expiryRunning bool
}

// New builds a service and opens its decoder and journal.
func New(ctx context.Context, cfg Config) (*Service, error) {
	if cfg.Model == nil {
		return nil, errors.New("service requires a model client")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	reg := registry.New()
	profiler := profile.New(cfg.Profile)
	sb := sandbox.New(reg,
		sandbox.WithTimeout(cfg.SandboxTimeout),
		sandbox.WithMaxSteps(cfg.SandboxMaxSteps),
		sandbox.WithLogger(logger.With("component", "sandbox")),
	)

	dec, err := decoder.New(ctx, cfg.DuckDB, logger.With("component", "decoder"))
	if err != nil {
		return nil, fmt.Errorf("failed to start decoder: %w", err)
	}

	var store *journal.Store
	if cfg.JournalPath != "" {
		store, err = journal.Open(ctx, cfg.JournalPath, logger.With("component", "journal"))
		if err != nil {
			_ = dec.Close()
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
	}

	s := &Service{
		registry: reg,
		profiler: profiler,
		decoder:  dec,
		orchestrator: query.New(query.Config{
			Source:   reg,
			Executor: sb,
			Model:    cfg.Model,
			Profiler: profiler,
			Options:  cfg.Query,
			Logger:   logger.With("component", "query"),
		}),
		journal: store,
		locks:   newKeyedMutex(),
		logger:  logger,
	}
	s.metrics = newMetrics(func() float64 { return float64(s.ActiveSessionCount()) })
	s.startExpiry(cfg.IdleTTL)
	return s, nil
}

// startExpiry tracks session activity in a TTL cache whose expirations
// delete the session.
func (s *Service) startExpiry(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s.sessions = ttlcache.New[string, struct{}](ttlcache.WithTTL[string, struct{}](ttl))
	s.stopEvictions = s.sessions.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, struct{}]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		id := item.Key()
		if s.drop(context.Background(), id) {
			s.metrics.expirations.Inc()
			s.logger.Info("session expired", "session", id, "idle_ttl", ttl)
		}
	})
	s.expiryRunning = true
	go s.sessions.Start()
}

// touch marks a session as active.
func (s *Service) touch(id string) {
	if s.sessions != nil {
		s.sessions.Get(id)
	}
}

// Ingest registers ds as a new session and returns its id and profile.
func (s *Service) Ingest(ds *dataset.Dataset, filename string, kind dataset.FileKind) (string, *profile.DataProfile, error) {
	if ds == nil {
		return "", nil, errors.New("cannot ingest a nil dataset")
	}

	id := uuid.New().String()
	s.registry.Store(id, ds, dataset.Metadata{
		Filename:  filename,
		FileKind:  kind,
		CreatedAt: time.Now().UTC(),
	})
	if s.sessions != nil {
		s.sessions.Set(id, struct{}{}, ttlcache.DefaultTTL)
	}
	s.metrics.uploads.WithLabelValues(string(kind)).Inc()

	prof := s.profiler.ProfileDataset(ds, id, filename, kind)
	s.logger.Info("dataset ingested",
		"session", id,
		"filename", filename,
		"file_type", kind,
		"rows", prof.RowCount,
		"columns", prof.ColumnCount)
	return id, prof, nil
}

// IngestFile decodes the file at path, naming it filename, and ingests it.
// The file kind is derived from filename's extension.
func (s *Service) IngestFile(ctx context.Context, path, filename string) (string, *profile.DataProfile, error) {
	kind, err := decoder.DetectFileKind(filename)
	if err != nil {
		return "", nil, err
	}
	ds, err := s.decoder.Decode(ctx, path, kind)
	if err != nil {
		return "", nil, err
	}
	return s.Ingest(ds, filename, kind)
}

// Profile recomputes the profile of a session.
func (s *Service) Profile(id string) (*profile.DataProfile, error) {
	entry, ok := s.registry.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.touch(id)
	return s.profiler.ProfileDataset(entry.Dataset, id, entry.Metadata.Filename, entry.Metadata.FileKind), nil
}

// Answer answers a question about a session. Questions about the same
// session run one at a time; the result is journaled when the session exists.
func (s *Service) Answer(ctx context.Context, id, question string, includeCode bool) *query.QueryResult {
	start := time.Now()
	_, exists := s.registry.Get(id)
	if exists {
		s.touch(id)
		unlock := s.locks.Lock(id)
		defer unlock()
	}

	res := s.orchestrator.Answer(ctx, id, question, includeCode)

	outcome := "success"
	if !res.Success {
		outcome = "failure"
	}
	s.metrics.queries.WithLabelValues(outcome).Inc()
	s.metrics.queryDuration.Observe(time.Since(start).Seconds())

	if exists {
		s.record(ctx, id, question, res)
	}
	return res
}

func (s *Service) record(ctx context.Context, id, question string, res *query.QueryResult) {
	if s.journal == nil {
		return
	}
	e := &journal.Entry{
		SessionID:   id,
		Question:    question,
		Answer:      res.Answer,
		Success:     res.Success,
		RowCount:    len(res.Data),
		ExecutionMS: res.ExecutionTimeMS,
	}
	if res.Code != nil {
		e.Code = *res.Code
	}
	if res.Chart != nil {
		e.ChartType = string(res.Chart.Type)
	}
	// A cancelled request still gets its entry.
	if err := s.journal.Record(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Warn("failed to journal query", "session", id, "error", err)
	}
}

// History lists the journaled questions of a session, newest first.
func (s *Service) History(ctx context.Context, id string, limit int) ([]*journal.Entry, error) {
	if _, ok := s.registry.Get(id); !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if s.journal == nil {
		return []*journal.Entry{}, nil
	}
	return s.journal.History(ctx, id, limit)
}

// Delete removes a session and its journal. It reports whether the session existed.
func (s *Service) Delete(id string) bool {
	if s.sessions != nil {
		s.sessions.Delete(id)
	}
	existed := s.drop(context.Background(), id)
	if existed {
		s.logger.Info("session deleted", "session", id)
	}
	return existed
}

func (s *Service) drop(ctx context.Context, id string) bool {
	existed := s.registry.Delete(id)
	if existed && s.journal != nil {
		if _, err := s.journal.DeleteSession(ctx, id); err != nil {
			s.logger.Warn("failed to delete journal entries", "session", id, "error", err)
		}
	}
	return existed
}

// Exists reports whether a session is live.
func (s *Service) Exists(id string) bool {
	_, ok := s.registry.Get(id)
	return ok
}

// ActiveSessionCount returns the number of live sessions.
func (s *Service) ActiveSessionCount() int {
	return s.registry.Count()
}

// Metrics returns the service's collectors.
func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// Close stops session expiry and releases the journal and decoder.
func (s *Service) Close() error {
	if s.expiryRunning {
		s.sessions.Stop()
		s.stopEvictions()
		s.expiryRunning = false
	}

	var errs []error
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close journal: %w", err))
		}
	}
	if err := s.decoder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close decoder: %w", err))
	}
	return errors.Join(errs...)
}
