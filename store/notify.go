package store

import (
	"context"
	"sync"
)

// notifier wakes up the live queries of a user after each write.
type notifier struct {
	mu    sync.Mutex
	chans map[string]chan struct{}
}

func newNotifier() *notifier {
	return &notifier{chans: make(map[string]chan struct{})}
}

// changed returns a channel closed at the next change of userID's collection.
func (n *notifier) changed(userID string) <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch, ok := n.chans[userID]
	if !ok {
		ch = make(chan struct{})
		n.chans[userID] = ch
	}
	return ch
}

func (n *notifier) notify(userID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ch, ok := n.chans[userID]; ok {
		close(ch)
		delete(n.chans, userID)
	}
}

// localSnapshots implements Snapshots for backends living in this process.
type localSnapshots struct {
	ctx    context.Context
	cancel context.CancelFunc
	userID string
	n      *notifier
	load   func(ctx context.Context) ([]Document, error)

	changed <-chan struct{}
}

func newLocalSnapshots(ctx context.Context, n *notifier, userID string, load func(ctx context.Context) ([]Document, error)) *localSnapshots {
	ctx, cancel := context.WithCancel(ctx)
	return &localSnapshots{ctx: ctx, cancel: cancel, userID: userID, n: n, load: load}
}

func (s *localSnapshots) Next() ([]Document, error) {
	if s.changed != nil {
		select {
		case <-s.changed:
		case <-s.ctx.Done():
			return nil, ErrStopped
		}
	}
	if s.ctx.Err() != nil {
		return nil, ErrStopped
	}
	// Subscribe before loading so a write racing with the load is not missed.
	s.changed = s.n.changed(s.userID)
	return s.load(s.ctx)
}

func (s *localSnapshots) Stop() { s.cancel() }
