package assign

import (
	"math/rand"
	"sort"
	"time"

	"github.com/newsdesk/staging-portal/internal/db"
)

// SelectCandidates partitions a candidate snapshot into primary and fallback
// pools and returns the claim-ordered batch from whichever pool applies. The
// primary pool is used exclusively whenever it is non-empty.
//
// Within the chosen pool, articles are ordered newest first and the top of
// the list is shuffled so many concurrent workers don't deterministically
// race for the same row. The result is capped at MaxClaimAttempts.
func (c *Config) SelectCandidates(articles []*db.Article, now time.Time) []*db.Article {
	var primary, fallbackPool []*db.Article
	for _, a := range articles {
		switch c.Classify(a, now) {
		case PoolPrimary:
			primary = append(primary, a)
		case PoolFallback:
			fallbackPool = append(fallbackPool, a)
		}
	}

	chosen := primary
	if len(chosen) == 0 {
		chosen = fallbackPool
	}
	if len(chosen) == 0 {
		return nil
	}

	sort.SliceStable(chosen, func(i, j int) bool {
		return chosen[i].CreatedAt.After(chosen[j].CreatedAt)
	})

	window := c.ShuffleWindow
	if window > len(chosen) {
		window = len(chosen)
	}
	if window > 1 {
		rand.Shuffle(window, func(i, j int) {
			chosen[i], chosen[j] = chosen[j], chosen[i]
		})
	}

	limit := c.MaxClaimAttempts
	if limit <= 0 || limit > len(chosen) {
		limit = len(chosen)
	}

	return chosen[:limit]
}
