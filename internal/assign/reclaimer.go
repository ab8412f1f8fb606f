package assign

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
)

// ReclaimStore is the slice of the record store the reclaimer needs
type ReclaimStore interface {
	ReleaseExpired(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Reclaimer periodically releases claims whose holders stopped responding,
// returning abandoned tasks to the pool. A failed sweep is logged and simply
// retried on the next tick; releasing an already-unclaimed task is a no-op,
// so running more than one reclaimer is harmless.
type Reclaimer struct {
	store    ReclaimStore
	interval time.Duration
	timeout  time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewReclaimer creates a reclaimer that sweeps every interval, releasing
// claims older than timeout
func NewReclaimer(store ReclaimStore, interval, timeout time.Duration) *Reclaimer {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Reclaimer{
		store:    store,
		interval: interval,
		timeout:  timeout,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep loop
func (r *Reclaimer) Start(ctx context.Context) {
	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		log.Info().
			Dur("interval", r.interval).
			Dur("timeout", r.timeout).
			Msg("Expiry reclaimer started")

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				r.sweep(ctx)
			}
		}
	}()
}

// Stop halts the sweep loop and waits for it to finish
func (r *Reclaimer) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Reclaimer) sweep(ctx context.Context) {
	released, err := r.store.ReleaseExpired(ctx, r.timeout)
	if err != nil {
		sentry.CaptureException(err)
		log.Error().Err(err).Msg("Expiry sweep failed, will retry next interval")
		return
	}

	if released > 0 {
		log.Info().Int64("released", released).Msg("Expiry sweep released abandoned claims")
	}
}
