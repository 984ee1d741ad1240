package results

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
)

// FirestoreStore persists results in a Firestore collection, surviving
// process restarts. Opt-in; the memory store remains the default.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore creates a Firestore-backed result store.
func NewFirestoreStore(ctx context.Context, projectID, collection string) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	return &FirestoreStore{
		client:     client,
		collection: collection,
	}, nil
}

// NewFirestoreStoreWithClient creates a store with an existing client.
// Useful for testing and dependency injection.
func NewFirestoreStoreWithClient(client *firestore.Client, collection string) *FirestoreStore {
	return &FirestoreStore{
		client:     client,
		collection: collection,
	}
}

// Close closes the Firestore client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

// Put stores a result record. The document id is the result id for fast lookups.
func (s *FirestoreStore) Put(ctx context.Context, result *PresentationResult) error {
	_, err := s.client.Collection(s.collection).Doc(result.ID).Set(ctx, result)
	if err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}
	return nil
}

// Get returns the record for id, or ErrResultNotFound.
func (s *FirestoreStore) Get(ctx context.Context, id string) (*PresentationResult, error) {
	doc, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if err != nil {
		if isFirestoreNotFound(err) {
			return nil, ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	var result PresentationResult
	if err := doc.DataTo(&result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &result, nil
}

// Delete removes the record for id.
func (s *FirestoreStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.Collection(s.collection).Doc(id).Delete(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete result: %w", err)
	}
	return nil
}

// isFirestoreNotFound checks if the error is a Firestore "not found" error.
func isFirestoreNotFound(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "notfound") || strings.Contains(errStr, "not found")
}

// Ensure FirestoreStore implements Store.
var _ Store = (*FirestoreStore)(nil)
