package docketapp

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/etnz/docket/logger"
	"github.com/etnz/docket/store"
)

// View keeps a live, sorted copy of one user's documents and the document
// currently opened in the detail view.
type View struct {
	st     store.Store
	report func(string)

	mu       sync.Mutex
	userID   string
	docs     []store.Document
	selected *store.Document
	stop     func()
	err      error
	subs     map[int]chan []store.Document
	nextSub  int
}

// NewView returns a stopped view over st. report receives the status
// messages the view produces; it may be nil.
func NewView(st store.Store, report func(string)) *View {
	if report == nil {
		report = func(string) {}
	}
	return &View{st: st, report: report, subs: make(map[int]chan []store.Document)}
}

// Start subscribes to the user's collection. Starting again with another
// user, or after the subscription failed, stops the previous subscription
// first; starting with the same user is otherwise a no-op.
func (v *View) Start(ctx context.Context, userID string) error {
	if userID == "" {
		return store.ErrNoUser
	}
	v.mu.Lock()
	if v.stop != nil && v.userID == userID && v.err == nil {
		v.mu.Unlock()
		return nil
	}
	v.mu.Unlock()
	v.Stop()

	ctx, cancel := context.WithCancel(ctx)
	snaps, err := v.st.Watch(ctx, userID)
	if err != nil {
		cancel()
		logger.Sugar.Errorw("could not watch documents", "user", userID, "error", err)
		err = fmt.Errorf("failed to watch documents: %w", err)
		v.fail(err)
		return err
	}

	done := make(chan struct{})
	v.mu.Lock()
	v.userID = userID
	v.docs = nil
	v.selected = nil
	v.err = nil
	v.stop = func() {
		cancel()
		snaps.Stop()
		<-done
	}
	v.mu.Unlock()

	go func() {
		defer close(done)
		for {
			docs, err := snaps.Next()
			if err != nil {
				if !errors.Is(err, store.ErrStopped) && ctx.Err() == nil {
					logger.Sugar.Errorw("document subscription failed", "user", userID, "error", err)
					v.fail(fmt.Errorf("document subscription failed: %w", err))
				}
				return
			}
			SortDocuments(docs)
			v.publish(docs)
		}
	}()
	return nil
}

// Stop ends the subscription and clears the list. It is safe to call on a
// stopped view.
func (v *View) Stop() {
	v.mu.Lock()
	stop := v.stop
	v.stop = nil
	v.mu.Unlock()
	if stop == nil {
		return
	}
	stop()

	v.mu.Lock()
	v.userID = ""
	v.docs = nil
	v.selected = nil
	v.err = nil
	v.mu.Unlock()
}

// fail records the terminal error of the subscription and closes every
// subscriber channel.
func (v *View) fail(err error) {
	v.mu.Lock()
	v.err = err
	for id, ch := range v.subs {
		close(ch)
		delete(v.subs, id)
	}
	v.mu.Unlock()
	v.report(msgWatchFailed)
}

// Err returns the error that ended the subscription, if any.
func (v *View) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

func (v *View) publish(docs []store.Document) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.docs = docs
	for _, ch := range v.subs {
		// Keep only the latest snapshot for slow subscribers.
		select {
		case <-ch:
		default:
		}
		ch <- slices.Clone(docs)
	}
}

// Documents returns the current list, newest first.
func (v *View) Documents() []store.Document {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.docs)
}

// Subscribe returns a channel receiving every new list, starting with the
// current one. The channel is closed when the subscription fails, see Err.
// Call the returned function to unsubscribe.
func (v *View) Subscribe() (<-chan []store.Document, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	ch := make(chan []store.Document, 1)
	if v.err != nil {
		close(ch)
		return ch, func() {}
	}
	if v.docs != nil {
		ch <- slices.Clone(v.docs)
	}
	id := v.nextSub
	v.nextSub++
	v.subs[id] = ch
	return ch, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.subs, id)
	}
}

// Select opens the detail view on a listed document.
func (v *View) Select(id string) (store.Document, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, d := range v.docs {
		if d.ID == id {
			v.selected = &d
			return d, nil
		}
	}
	return store.Document{}, store.ErrNotFound
}

// CloseSelected closes the detail view.
func (v *View) CloseSelected() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.selected = nil
}

// Selected returns the document shown in the detail view, if any.
func (v *View) Selected() (store.Document, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.selected == nil {
		return store.Document{}, false
	}
	return *v.selected, true
}

// Delete removes a document of the current user. The detail view closes
// when it showed that document. The list itself is updated by the next
// snapshot.
func (v *View) Delete(ctx context.Context, id string) error {
	v.mu.Lock()
	userID := v.userID
	v.mu.Unlock()

	if userID == "" {
		v.report(msgDeleteFailed)
		return store.ErrNoUser
	}
	if err := v.st.Delete(ctx, userID, id); err != nil {
		logger.Sugar.Errorw("error deleting document", "user", userID, "id", id, "error", err)
		v.report(msgDeleteFailed)
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}

	v.mu.Lock()
	if v.selected != nil && v.selected.ID == id {
		v.selected = nil
	}
	v.mu.Unlock()
	v.report(msgDeleted)
	return nil
}

// SortDocuments orders docs newest first. Documents without a creation
// time come last, ties are broken by ID.
func SortDocuments(docs []store.Document) {
	slices.SortFunc(docs, func(a, b store.Document) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
