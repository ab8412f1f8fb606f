package assign

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeReclaimStore struct {
	mu       sync.Mutex
	calls    int
	timeouts []time.Duration
	err      error
	released int64
}

func (f *fakeReclaimStore) ReleaseExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.timeouts = append(f.timeouts, olderThan)
	return f.released, f.err
}

func (f *fakeReclaimStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestReclaimerSweeps(t *testing.T) {
	store := &fakeReclaimStore{released: 2}
	r := NewReclaimer(store, 10*time.Millisecond, 30*time.Minute)

	r.Start(context.Background())
	time.Sleep(55 * time.Millisecond)
	r.Stop()

	assert.GreaterOrEqual(t, store.callCount(), 2)

	store.mu.Lock()
	defer store.mu.Unlock()
	for _, timeout := range store.timeouts {
		assert.Equal(t, 30*time.Minute, timeout)
	}
}

func TestReclaimerSurvivesSweepErrors(t *testing.T) {
	store := &fakeReclaimStore{err: errors.New("connection reset")}
	r := NewReclaimer(store, 10*time.Millisecond, 30*time.Minute)

	r.Start(context.Background())
	time.Sleep(55 * time.Millisecond)
	r.Stop()

	// Errors are logged and the loop keeps ticking
	assert.GreaterOrEqual(t, store.callCount(), 2)
}

func TestReclaimerStopsOnContextCancel(t *testing.T) {
	store := &fakeReclaimStore{}
	r := NewReclaimer(store, 5*time.Millisecond, 30*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	cancel()

	select {
	case <-r.done:
	case <-time.After(time.Second):
		t.Fatal("reclaimer did not stop after context cancellation")
	}
}

func TestReclaimerDefaults(t *testing.T) {
	r := NewReclaimer(&fakeReclaimStore{}, 0, 0)
	assert.Equal(t, 5*time.Minute, r.interval)
	assert.Equal(t, 30*time.Minute, r.timeout)
}
