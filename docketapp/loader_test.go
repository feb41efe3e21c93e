package docketapp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_LoadsIndependently(t *testing.T) {
	l := NewLoader(context.Background(), time.Second)
	defer l.Close()

	release := make(chan struct{})
	slow := Load(l, "slow", func(ctx context.Context) (string, error) {
		<-release
		return "slow", nil
	}, nil)
	fast := Load(l, "fast", func(ctx context.Context) (int, error) { return 42, nil }, nil)

	v, err := fast.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.True(t, fast.Loaded())

	assert.False(t, slow.Loaded(), "the slow resource is still pending")
	_, err = slow.Get()
	assert.ErrorIs(t, err, ErrNotReady)

	close(release)
	s, err := slow.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "slow", s)
	assert.NoError(t, l.Wait())
}

func TestLoader_FailureAndTimeout(t *testing.T) {
	l := NewLoader(context.Background(), 50*time.Millisecond)
	defer l.Close()

	boom := errors.New("boom")
	var done int
	failed := Load(l, "broken", func(ctx context.Context) (string, error) { return "", boom }, func(string, error) { done++ })
	stuck := Load(l, "stuck", func(ctx context.Context) (string, error) {
		time.Sleep(time.Second)
		return "late", nil
	}, nil)

	_, err := failed.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.True(t, failed.Failed())
	assert.False(t, failed.Loaded())

	_, err = stuck.Wait(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, stuck.Failed())

	assert.Error(t, l.Wait())
	assert.Equal(t, 1, done)
}

func TestLoader_CloseReleases(t *testing.T) {
	l := NewLoader(context.Background(), time.Second)
	r := Load(l, "drive", func(ctx context.Context) (string, error) { return "client", nil }, nil)
	_, err := r.Wait(context.Background())
	require.NoError(t, err)

	l.Close()
	l.Close() // idempotent

	assert.False(t, r.Loaded())
	_, err = r.Get()
	assert.ErrorIs(t, err, ErrNotReady)

	late := Load(l, "late", func(ctx context.Context) (string, error) { return "x", nil }, nil)
	_, err = late.Wait(context.Background())
	assert.Error(t, err, "loads after Close fail immediately")
}
