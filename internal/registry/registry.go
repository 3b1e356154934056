// Package registry provides the session-keyed dataset registry.
// Each session id maps to one uploaded dataset together with its source
// metadata; both halves are stored in a single entry so that readers never
// observe one without the other.
package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/leapstack-labs/datalens/internal/dataset"
)

// ErrSessionNotFound is returned when a session id has no registered dataset.
var ErrSessionNotFound = errors.New("session not found")

// Entry is a registered dataset and its metadata.
type Entry struct {
	Dataset  *dataset.Dataset
	Metadata dataset.Metadata
}

// Registry maps session ids to datasets.
// Stored datasets are treated as immutable; callers that need to modify data
// work on dataset.Clone.
type Registry struct {
	mu sync.RWMutex

	// sessions maps a session id to its entry: "2f1c…" → {dataset, metadata}
	sessions map[string]Entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]Entry),
	}
}

// Store inserts or replaces the dataset and metadata for a session.
func (r *Registry) Store(id string, ds *dataset.Dataset, meta dataset.Metadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = Entry{Dataset: ds, Metadata: meta}
}

// Get returns the dataset registered for a session.
func (r *Registry) Get(id string) (*dataset.Dataset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	return e.Dataset, ok
}

// GetMetadata returns the metadata registered for a session.
func (r *Registry) GetMetadata(id string) (dataset.Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	return e.Metadata, ok
}

// Lookup returns the dataset and metadata of a session in one read.
func (r *Registry) Lookup(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	return e, ok
}

// Delete removes a session. It reports whether the session existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IDs returns the registered session ids in lexical order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
