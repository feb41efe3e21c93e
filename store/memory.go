package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store.
type Memory struct {
	mu    sync.Mutex
	users map[string]map[string]Document
	n     *notifier

	// Now is the clock used for creation times.
	Now func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users: make(map[string]map[string]Document),
		n:     newNotifier(),
		Now:   time.Now,
	}
}

func (m *Memory) Create(ctx context.Context, userID string, doc Document) (string, error) {
	if userID == "" {
		return "", ErrNoUser
	}
	doc.ID = uuid.NewString()
	doc.CreatedAt = m.Now().UTC()

	m.mu.Lock()
	docs, ok := m.users[userID]
	if !ok {
		docs = make(map[string]Document)
		m.users[userID] = docs
	}
	docs[doc.ID] = doc
	m.mu.Unlock()

	m.n.notify(userID)
	return doc.ID, nil
}

func (m *Memory) Delete(ctx context.Context, userID, id string) error {
	if userID == "" {
		return ErrNoUser
	}
	m.mu.Lock()
	docs := m.users[userID]
	if _, ok := docs[id]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(docs, id)
	m.mu.Unlock()

	m.n.notify(userID)
	return nil
}

func (m *Memory) Watch(ctx context.Context, userID string) (Snapshots, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	return newLocalSnapshots(ctx, m.n, userID, func(context.Context) ([]Document, error) {
		return m.list(userID), nil
	}), nil
}

// Put stores doc as is, keeping its ID and CreatedAt. It lets tests seed
// documents with arbitrary or missing timestamps.
func (m *Memory) Put(userID string, doc Document) {
	m.mu.Lock()
	docs, ok := m.users[userID]
	if !ok {
		docs = make(map[string]Document)
		m.users[userID] = docs
	}
	docs[doc.ID] = doc
	m.mu.Unlock()
	m.n.notify(userID)
}

func (m *Memory) list(userID string) []Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := make([]Document, 0, len(m.users[userID]))
	for _, d := range m.users[userID] {
		docs = append(docs, d)
	}
	return docs
}

func (m *Memory) Close() error { return nil }
