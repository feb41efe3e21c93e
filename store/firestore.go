package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore is a Store backed by Cloud Firestore. Documents live under
// users/{uid}/documents.
type Firestore struct {
	client *firestore.Client
}

// OpenFirestore creates a Firestore client for projectID. When
// credentialsFile is empty the application default credentials are used;
// FIRESTORE_EMULATOR_HOST is honored by the client library.
func OpenFirestore(ctx context.Context, projectID, credentialsFile string) (*Firestore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create firestore client: %w", err)
	}
	return &Firestore{client: client}, nil
}

func (f *Firestore) collection(userID string) *firestore.CollectionRef {
	return f.client.Collection(CollectionPath(userID))
}

func (f *Firestore) Create(ctx context.Context, userID string, doc Document) (string, error) {
	if userID == "" {
		return "", ErrNoUser
	}
	// A zero CreatedAt makes the serverTimestamp tag ask for the commit time.
	doc.ID = ""
	doc.CreatedAt = time.Time{}
	ref, _, err := f.collection(userID).Add(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("failed to add document: %w", err)
	}
	return ref.ID, nil
}

func (f *Firestore) Delete(ctx context.Context, userID, id string) error {
	if userID == "" {
		return ErrNoUser
	}
	_, err := f.collection(userID).Doc(id).Delete(ctx, firestore.Exists)
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

func (f *Firestore) Watch(ctx context.Context, userID string) (Snapshots, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	return &firestoreSnapshots{it: f.collection(userID).Snapshots(ctx)}, nil
}

func (f *Firestore) Close() error { return f.client.Close() }

type firestoreSnapshots struct {
	it *firestore.QuerySnapshotIterator
}

func (s *firestoreSnapshots) Next() ([]Document, error) {
	snap, err := s.it.Next()
	if err != nil {
		if errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled || errors.Is(err, context.Canceled) {
			return nil, ErrStopped
		}
		return nil, fmt.Errorf("live query failed: %w", err)
	}
	refs, err := snap.Documents.GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	docs := make([]Document, 0, len(refs))
	for _, r := range refs {
		var d Document
		if err := r.DataTo(&d); err != nil {
			return nil, fmt.Errorf("failed to decode document %s: %w", r.Ref.ID, err)
		}
		d.ID = r.Ref.ID
		docs = append(docs, d)
	}
	return docs, nil
}

func (s *firestoreSnapshots) Stop() { s.it.Stop() }
