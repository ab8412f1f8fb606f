package assign

import (
	"strings"
	"time"

	"github.com/newsdesk/staging-portal/internal/db"
)

// Pool is the result of classifying an article against the assignment policy
type Pool int

const (
	// PoolNone means the article is not assignable
	PoolNone Pool = iota
	// PoolPrimary means the article matches a named client of interest
	PoolPrimary
	// PoolFallback means the article matches the designated industry focus,
	// served only when no primary-pool article exists
	PoolFallback
)

func (p Pool) String() string {
	switch p {
	case PoolPrimary:
		return "primary"
	case PoolFallback:
		return "fallback"
	default:
		return "none"
	}
}

// Classify decides whether an article belongs to the assignable pool at a
// point in time, and which priority tier it lands in. Pure over the snapshot:
// staleness between read and claim is the claim guard's problem, not ours.
func (c *Config) Classify(a *db.Article, now time.Time) Pool {
	if a == nil {
		return PoolNone
	}
	if a.ExtractionPath != db.StageReady {
		return PoolNone
	}
	if strings.ToLower(strings.TrimSpace(a.DedupeStatus)) != "original" {
		return PoolNone
	}
	if !isTruthy(a.PreCheckComplete) {
		return PoolNone
	}
	switch a.DuplicateSyndicateStatus {
	case db.SyndicateCreator, db.SyndicateUnknown:
	default:
		return PoolNone
	}
	if a.IsComplete() {
		return PoolNone
	}
	if a.ClaimedAt != nil {
		return PoolNone
	}
	// Fail-open when the pre-check timestamp is absent
	if a.PreCheckCompleteAt != nil && now.Sub(*a.PreCheckCompleteAt) < c.CooldownPeriod {
		return PoolNone
	}

	return c.classifyTags(a)
}

// classifyTags applies only the client/industry classification, used both by
// Classify and by post-claim verification of a freshly re-read row.
func (c *Config) classifyTags(a *db.Article) Pool {
	clients := strings.ToLower(a.Clients)
	for _, keyword := range c.ClientKeywords {
		if keyword != "" && strings.Contains(clients, strings.ToLower(keyword)) {
			return PoolPrimary
		}
	}

	if c.FallbackIndustry != "" {
		industry := strings.ToLower(a.FocusIndustry)
		if strings.Contains(industry, strings.ToLower(c.FallbackIndustry)) {
			return PoolFallback
		}
	}

	// No client or industry match means the article is never assignable
	return PoolNone
}

// isTruthy parses the legacy pre_check_complete forms: booleans arrive as
// "true"/"false", older writers stored "TRUE", "t" or "1"
func isTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "1":
		return true
	default:
		return false
	}
}
