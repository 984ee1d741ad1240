// Package results stores build results keyed by an opaque id so a caller can
// retrieve a just-created result shortly after creation.
package results

import (
	"context"
	"errors"
	"sync"
)

// ResultTypeSlides is the discriminator for Google Slides build results.
const ResultTypeSlides = "google-slides"

// ErrResultNotFound is returned when no record exists for an id. This is also
// the expected answer for any id after a process restart when the in-memory
// store is in use.
var ErrResultNotFound = errors.New("result not found")

// PresentationResult records one successful build. Written exactly once,
// never mutated.
type PresentationResult struct {
	ID              string `json:"id" firestore:"id"`
	Title           string `json:"title" firestore:"title"`
	PresentationID  string `json:"presentation_id" firestore:"presentation_id"`
	PresentationURL string `json:"presentation_url" firestore:"presentation_url"`
	Timestamp       string `json:"timestamp" firestore:"timestamp"` // ISO-8601
	Type            string `json:"type" firestore:"type"`
}

// Store is the key-value contract the builder and the retrieval endpoint
// depend on.
type Store interface {
	Put(ctx context.Context, result *PresentationResult) error
	Get(ctx context.Context, id string) (*PresentationResult, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps results for the process lifetime only: no eviction, no
// persistence. The default for dev and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[string]*PresentationResult
}

// NewMemoryStore creates an empty in-memory result store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results: make(map[string]*PresentationResult),
	}
}

// Put stores a result record.
func (s *MemoryStore) Put(_ context.Context, result *PresentationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.ID] = result
	return nil
}

// Get returns the record for id, or ErrResultNotFound.
func (s *MemoryStore) Get(_ context.Context, id string) (*PresentationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.results[id]
	if !ok {
		return nil, ErrResultNotFound
	}
	return result, nil
}

// Delete removes the record for id. Deleting an unknown id is not an error.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results, id)
	return nil
}

// Len returns the number of stored results.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
