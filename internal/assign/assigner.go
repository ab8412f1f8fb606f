package assign

import (
	"context"
	"errors"
	"time"

	"github.com/newsdesk/staging-portal/internal/db"
	"github.com/rs/zerolog/log"
)

// ErrNoTasksAvailable signals an empty pool or exhausted claim attempts.
// It is an expected, retryable outcome for callers, never a server fault.
var ErrNoTasksAvailable = errors.New("no tasks available")

// Store defines the record-store operations the assigner needs
type Store interface {
	GetCandidates(ctx context.Context, limit int) ([]*db.Article, error)
	ClaimArticle(ctx context.Context, id, workerID string, now time.Time) (*db.Article, bool, error)
	ReleaseClaim(ctx context.Context, id string) error
}

// Assigner hands out exclusive task claims to requesting workers
type Assigner struct {
	store  Store
	cfg    *Config
	recent *RecentServes
	now    func() time.Time
}

// NewAssigner creates an Assigner with its own recent-serve tracker
func NewAssigner(store Store, cfg *Config) *Assigner {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Assigner{
		store:  store,
		cfg:    cfg,
		recent: NewRecentServes(cfg.RecentWindow),
		now:    time.Now,
	}
}

// Next selects and atomically claims one task for a worker.
//
// Claim failures are expected under concurrency and simply advance to the
// next candidate; only store faults propagate as errors. Exhausting every
// candidate returns ErrNoTasksAvailable.
func (a *Assigner) Next(ctx context.Context, workerID string) (*db.Article, error) {
	candidates, err := a.store.GetCandidates(ctx, a.cfg.FetchLimit)
	if err != nil {
		return nil, err
	}

	now := a.now()
	ordered := a.cfg.SelectCandidates(candidates, now)

	attempts := 0
	for _, candidate := range ordered {
		if a.recent.IsRecent(workerID, candidate.ID) {
			continue
		}

		if attempts > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.cfg.ClaimRetryDelay):
			}
		}
		attempts++

		claimed, ok, err := a.store.ClaimArticle(ctx, candidate.ID, workerID, a.now())
		if err != nil {
			return nil, err
		}
		if !ok {
			// Lost the race; normal under contention
			log.Debug().
				Str("article_id", candidate.ID).
				Str("worker_id", workerID).
				Msg("Claim attempt lost, trying next candidate")
			continue
		}

		// The row may have mutated between snapshot and claim; if it no
		// longer classifies into either pool, give the claim back
		if a.cfg.classifyTags(claimed) == PoolNone {
			if relErr := a.store.ReleaseClaim(ctx, claimed.ID); relErr != nil {
				log.Warn().
					Err(relErr).
					Str("article_id", claimed.ID).
					Msg("Could not release misclassified claim")
			}
			continue
		}

		a.recent.Mark(workerID, claimed.ID)

		log.Info().
			Str("article_id", claimed.ID).
			Str("worker_id", workerID).
			Int("attempts", attempts).
			Msg("Task claimed")

		return claimed, nil
	}

	return nil, ErrNoTasksAvailable
}

// MarkServed records a finalised task so eventual-consistency reads don't
// re-offer it to the same worker inside the recent window
func (a *Assigner) MarkServed(workerID, taskID string) {
	a.recent.Mark(workerID, taskID)
}
