package assign

import (
	"os"
	"strings"
	"time"
)

// Config controls eligibility classification and the claim loop
type Config struct {
	// ClientKeywords mark primary-pool membership when any appears as a
	// case-insensitive substring of an article's clients tag
	ClientKeywords []string

	// FallbackIndustry marks fallback-pool membership when it appears in an
	// article's focus_industry tag, used only when the primary pool is empty
	FallbackIndustry string

	// CooldownPeriod is the minimum age of pre_check_complete_at before an
	// article becomes assignable, letting upstream duplicate detection settle
	CooldownPeriod time.Duration

	// FetchLimit bounds the bulk candidate read
	FetchLimit int

	// ShuffleWindow is the number of newest candidates randomised before
	// claiming, so concurrent workers don't all race for the same first row
	ShuffleWindow int

	// MaxClaimAttempts bounds the claim loop per request
	MaxClaimAttempts int

	// ClaimRetryDelay is inserted between claim attempts after the first
	ClaimRetryDelay time.Duration

	// RecentWindow is how long a served task is withheld from the same worker
	RecentWindow time.Duration
}

// DefaultConfig returns the configuration used in production
func DefaultConfig() *Config {
	return &Config{
		ClientKeywords:   []string{"Databricks"},
		FallbackIndustry: "AI",
		CooldownPeriod:   15 * time.Minute,
		FetchLimit:       50,
		ShuffleWindow:    5,
		MaxClaimAttempts: 10,
		ClaimRetryDelay:  250 * time.Millisecond,
		RecentWindow:     10 * time.Minute,
	}
}

// ConfigFromEnv builds a Config from environment variables, falling back to
// defaults for anything unset
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if raw := os.Getenv("CLIENT_KEYWORDS"); raw != "" {
		var keywords []string
		for _, kw := range strings.Split(raw, ",") {
			kw = strings.TrimSpace(kw)
			if kw != "" {
				keywords = append(keywords, kw)
			}
		}
		if len(keywords) > 0 {
			cfg.ClientKeywords = keywords
		}
	}

	if industry := strings.TrimSpace(os.Getenv("FALLBACK_INDUSTRY")); industry != "" {
		cfg.FallbackIndustry = industry
	}

	return cfg
}
