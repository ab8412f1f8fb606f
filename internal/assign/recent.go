package assign

import (
	"sync"
	"time"
)

// RecentServes remembers which tasks were recently served to each worker so
// a task whose claim or finalisation hasn't become visible to reads yet is
// not immediately re-offered. It masks read-after-write staleness only; the
// claim guard remains the correctness mechanism.
type RecentServes struct {
	mu       sync.Mutex
	window   time.Duration
	byWorker map[string]map[string]time.Time
	now      func() time.Time
}

// NewRecentServes creates a tracker with the given trailing window
func NewRecentServes(window time.Duration) *RecentServes {
	return &RecentServes{
		window:   window,
		byWorker: make(map[string]map[string]time.Time),
		now:      time.Now,
	}
}

// Mark records that a task was served (assigned or finalised) to a worker
func (r *RecentServes) Mark(workerID, taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.byWorker[workerID]
	if !ok {
		bucket = make(map[string]time.Time)
		r.byWorker[workerID] = bucket
	}
	bucket[taskID] = r.now()
}

// IsRecent reports whether a task was served to this worker within the
// window. Expired entries are pruned lazily on lookup.
func (r *RecentServes) IsRecent(workerID, taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.byWorker[workerID]
	if !ok {
		return false
	}

	now := r.now()
	for id, servedAt := range bucket {
		if now.Sub(servedAt) > r.window {
			delete(bucket, id)
		}
	}
	if len(bucket) == 0 {
		delete(r.byWorker, workerID)
		return false
	}

	_, recent := bucket[taskID]
	return recent
}
