package docketapp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/etnz/docket/logger"
	"golang.org/x/sync/errgroup"
)

// Resource is a service loaded asynchronously. Callers must not use its
// value before Ready is closed and Loaded reports true.
type Resource[T any] struct {
	name  string
	ready chan struct{}

	mu     sync.Mutex
	val    T
	err    error
	loaded bool
}

func newResource[T any](name string) *Resource[T] {
	return &Resource[T]{name: name, ready: make(chan struct{})}
}

// Name of the resource, for logs.
func (r *Resource[T]) Name() string { return r.name }

// Ready is closed once loading finished, successfully or not.
func (r *Resource[T]) Ready() <-chan struct{} { return r.ready }

// Loaded reports whether the resource loaded and was not released since.
func (r *Resource[T]) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

// Failed reports whether loading finished with an error.
func (r *Resource[T]) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err != nil
}

// Get returns the value without blocking, or ErrNotReady.
func (r *Resource[T]) Get() (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		var zero T
		if r.err != nil {
			return zero, r.err
		}
		return zero, ErrNotReady
	}
	return r.val, nil
}

// Wait blocks until the resource finished loading or ctx is done.
func (r *Resource[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-r.ready:
		return r.Get()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (r *Resource[T]) resolve(v T, err error) {
	r.set(v, err)
	close(r.ready)
}

func (r *Resource[T]) set(v T, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.val, r.err, r.loaded = v, err, err == nil
}

func (r *Resource[T]) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	r.val, r.loaded = zero, false
}

// Loader loads resources concurrently, each bounded by a timeout, and
// releases them all on Close.
type Loader struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	g       errgroup.Group

	mu       sync.Mutex
	releases []func()
	closed   bool
	once     sync.Once
}

// NewLoader returns a Loader whose loads are bound to ctx.
func NewLoader(ctx context.Context, timeout time.Duration) *Loader {
	ctx, cancel := context.WithCancel(ctx)
	return &Loader{ctx: ctx, cancel: cancel, timeout: timeout}
}

// Load starts loading a resource in the background. onDone runs with the
// outcome before Ready is closed; it may be nil.
func Load[T any](l *Loader, name string, fn func(ctx context.Context) (T, error), onDone func(T, error)) *Resource[T] {
	r := newResource[T](name)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		var zero T
		r.resolve(zero, fmt.Errorf("loading %s: loader closed", name))
		return r
	}
	l.releases = append(l.releases, r.release)
	l.mu.Unlock()

	l.g.Go(func() error {
		ctx := l.ctx
		if l.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, l.timeout)
			defer cancel()
		}

		type result struct {
			v   T
			err error
		}
		ch := make(chan result, 1)
		go func() {
			v, err := fn(ctx)
			ch <- result{v, err}
		}()

		var res result
		select {
		case res = <-ch:
		case <-ctx.Done():
			res.err = ctx.Err()
		}
		if res.err != nil {
			res.err = fmt.Errorf("loading %s: %w", name, res.err)
			logger.Sugar.Errorw("resource failed to load", "resource", name, "error", res.err)
		} else {
			logger.Sugar.Debugw("resource loaded", "resource", name)
		}
		r.set(res.v, res.err)
		if onDone != nil {
			onDone(res.v, res.err)
		}
		close(r.ready)
		return res.err
	})
	return r
}

// Wait blocks until every started load finished and returns the first error.
func (l *Loader) Wait() error { return l.g.Wait() }

// Close cancels pending loads and releases every resource. It is safe to
// call more than once.
func (l *Loader) Close() {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		releases := l.releases
		l.mu.Unlock()

		l.cancel()
		_ = l.g.Wait()
		for _, release := range releases {
			release()
		}
	})
}
