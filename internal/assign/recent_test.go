package assign

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecentServesMarkAndLookup(t *testing.T) {
	r := NewRecentServes(10 * time.Minute)

	assert.False(t, r.IsRecent("w1", "task-1"))

	r.Mark("w1", "task-1")
	assert.True(t, r.IsRecent("w1", "task-1"))

	// Scoping is per worker
	assert.False(t, r.IsRecent("w2", "task-1"))
	assert.False(t, r.IsRecent("w1", "task-2"))
}

func TestRecentServesExpiry(t *testing.T) {
	r := NewRecentServes(10 * time.Minute)

	current := time.Now()
	r.now = func() time.Time { return current }

	r.Mark("w1", "task-1")
	assert.True(t, r.IsRecent("w1", "task-1"))

	current = current.Add(11 * time.Minute)
	assert.False(t, r.IsRecent("w1", "task-1"))

	// The expired entry was pruned, not just masked
	r.mu.Lock()
	_, exists := r.byWorker["w1"]
	r.mu.Unlock()
	assert.False(t, exists)
}

func TestRecentServesReMarkRefreshesWindow(t *testing.T) {
	r := NewRecentServes(10 * time.Minute)

	current := time.Now()
	r.now = func() time.Time { return current }

	r.Mark("w1", "task-1")

	current = current.Add(8 * time.Minute)
	r.Mark("w1", "task-1")

	current = current.Add(8 * time.Minute)
	assert.True(t, r.IsRecent("w1", "task-1"))
}
