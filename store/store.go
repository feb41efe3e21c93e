// Package store persists fetched documents in a per-user collection and
// streams the collection as live snapshots.
//
// Three backends satisfy Store: Firestore (the production backend), SQLite
// (local single-process use) and an in-memory store used by tests.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when deleting a document that does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrStopped is returned by Snapshots.Next once the subscription ended.
	ErrStopped = errors.New("subscription stopped")
	// ErrNoUser is returned when an operation is not scoped to a user.
	ErrNoUser = errors.New("missing user id")
)

// Document is a saved copy of a Drive file.
// Documents are created once and never updated.
type Document struct {
	ID          string    `json:"id" firestore:"-"`
	FileName    string    `json:"fileName" firestore:"fileName"`
	Content     string    `json:"content" firestore:"content"`
	OriginalURL string    `json:"originalUrl" firestore:"originalUrl"`
	CreatedAt   time.Time `json:"createdAt" firestore:"createdAt,serverTimestamp"`
}

// Store is a per-user document collection.
type Store interface {
	// Create adds doc to the user's collection. The store assigns the ID and
	// the creation time; the ones in doc are ignored.
	Create(ctx context.Context, userID string, doc Document) (string, error)
	// Delete removes a document from the user's collection.
	Delete(ctx context.Context, userID, id string) error
	// Watch opens a live query over the user's collection.
	Watch(ctx context.Context, userID string) (Snapshots, error)
	// Close releases the backend.
	Close() error
}

// Snapshots is a live query. Each call to Next returns the full current
// content of the collection, in no particular order. The first call returns
// immediately, later calls block until the collection changes.
type Snapshots interface {
	Next() ([]Document, error)
	Stop()
}

// CollectionPath is the path of a user's documents collection.
func CollectionPath(userID string) string {
	return fmt.Sprintf("users/%s/documents", userID)
}
