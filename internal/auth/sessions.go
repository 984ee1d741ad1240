package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
)

// ErrSessionNotFound is returned when an API key has no stored session.
var ErrSessionNotFound = errors.New("session not found")

// SessionRecord binds an API key to the refresh token captured at consent.
type SessionRecord struct {
	APIKey       string    `firestore:"api_key"`
	RefreshToken string    `firestore:"refresh_token"`
	UserEmail    string    `firestore:"user_email,omitempty"`
	CreatedAt    time.Time `firestore:"created_at"`
	LastUsed     time.Time `firestore:"last_used"`
}

// SessionStore is the contract the middleware and consent callback depend on.
type SessionStore interface {
	Put(ctx context.Context, record *SessionRecord) error
	Get(ctx context.Context, apiKey string) (*SessionRecord, error)
	TouchLastUsed(ctx context.Context, apiKey string) error
	Delete(ctx context.Context, apiKey string) error
	Close() error
}

// FirestoreSessionStore persists sessions in a Firestore collection. The
// document id is the API key itself for fast lookups.
type FirestoreSessionStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreSessionStore creates a Firestore-backed session store.
func NewFirestoreSessionStore(ctx context.Context, projectID, collection string) (*FirestoreSessionStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	return &FirestoreSessionStore{
		client:     client,
		collection: collection,
	}, nil
}

// NewFirestoreSessionStoreWithClient creates a store with an existing client.
// Useful for testing and dependency injection.
func NewFirestoreSessionStoreWithClient(client *firestore.Client, collection string) *FirestoreSessionStore {
	return &FirestoreSessionStore{
		client:     client,
		collection: collection,
	}
}

// Close closes the Firestore client.
func (s *FirestoreSessionStore) Close() error {
	return s.client.Close()
}

// Put stores a session record.
func (s *FirestoreSessionStore) Put(ctx context.Context, record *SessionRecord) error {
	_, err := s.client.Collection(s.collection).Doc(record.APIKey).Set(ctx, record)
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Get returns the session for apiKey, or ErrSessionNotFound.
func (s *FirestoreSessionStore) Get(ctx context.Context, apiKey string) (*SessionRecord, error) {
	doc, err := s.client.Collection(s.collection).Doc(apiKey).Get(ctx)
	if err != nil {
		if isNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var record SessionRecord
	if err := doc.DataTo(&record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	return &record, nil
}

// TouchLastUsed updates the last_used timestamp for a session.
func (s *FirestoreSessionStore) TouchLastUsed(ctx context.Context, apiKey string) error {
	_, err := s.client.Collection(s.collection).Doc(apiKey).Update(ctx, []firestore.Update{
		{Path: "last_used", Value: time.Now()},
	})
	if err != nil {
		return fmt.Errorf("failed to update last_used: %w", err)
	}
	return nil
}

// Delete removes the session for apiKey.
func (s *FirestoreSessionStore) Delete(ctx context.Context, apiKey string) error {
	_, err := s.client.Collection(s.collection).Doc(apiKey).Delete(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// isNotFoundError checks if the error is a Firestore "not found" error.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "notfound") || strings.Contains(errStr, "not found")
}

// MemorySessionStore keeps sessions in memory. For dev and tests only.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*SessionRecord
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*SessionRecord),
	}
}

func (s *MemorySessionStore) Put(_ context.Context, record *SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *record
	s.sessions[record.APIKey] = &copied
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, apiKey string) (*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.sessions[apiKey]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := *record
	return &copied, nil
}

func (s *MemorySessionStore) TouchLastUsed(_ context.Context, apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.sessions[apiKey]
	if !ok {
		return ErrSessionNotFound
	}
	record.LastUsed = time.Now()
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, apiKey)
	return nil
}

func (s *MemorySessionStore) Close() error { return nil }

var (
	_ SessionStore = (*FirestoreSessionStore)(nil)
	_ SessionStore = (*MemorySessionStore)(nil)
)
