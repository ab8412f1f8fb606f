package assign

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/newsdesk/staging-portal/internal/db"
)

func TestSelectCandidatesPrimaryPoolExclusive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShuffleWindow = 1 // keep ordering deterministic
	now := time.Now()

	primary := eligibleArticle("primary-1")
	fallbackArt := eligibleArticle("fallback-1")
	fallbackArt.Clients = "Unrelated Co"
	fallbackArt.FocusIndustry = "AI"

	selected := cfg.SelectCandidates([]*db.Article{fallbackArt, primary}, now)

	assert.Len(t, selected, 1)
	assert.Equal(t, "primary-1", selected[0].ID)
}

func TestSelectCandidatesFallbackWhenNoPrimary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShuffleWindow = 1
	now := time.Now()

	a := eligibleArticle("fallback-1")
	a.Clients = "Unrelated Co"
	a.FocusIndustry = "AI startups"

	b := eligibleArticle("ineligible-1")
	b.Clients = "Unrelated Co"
	b.FocusIndustry = "Logistics"

	selected := cfg.SelectCandidates([]*db.Article{a, b}, now)

	assert.Len(t, selected, 1)
	assert.Equal(t, "fallback-1", selected[0].ID)
}

func TestSelectCandidatesNewestFirst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShuffleWindow = 1
	now := time.Now()

	older := eligibleArticle("older")
	older.CreatedAt = now.Add(-3 * time.Hour)
	newer := eligibleArticle("newer")
	newer.CreatedAt = now.Add(-1 * time.Hour)

	selected := cfg.SelectCandidates([]*db.Article{older, newer}, now)

	assert.Len(t, selected, 2)
	assert.Equal(t, "newer", selected[0].ID)
	assert.Equal(t, "older", selected[1].ID)
}

func TestSelectCandidatesCapsAtMaxClaimAttempts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxClaimAttempts = 3
	now := time.Now()

	var articles []*db.Article
	for i := 0; i < 10; i++ {
		a := eligibleArticle("article")
		a.CreatedAt = now.Add(time.Duration(-i) * time.Minute)
		articles = append(articles, a)
	}

	selected := cfg.SelectCandidates(articles, now)
	assert.Len(t, selected, 3)
}

func TestSelectCandidatesShuffleStaysWithinWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShuffleWindow = 2
	cfg.MaxClaimAttempts = 10
	now := time.Now()

	var articles []*db.Article
	for i := 0; i < 5; i++ {
		a := eligibleArticle("a")
		a.ID = string(rune('a' + i))
		a.CreatedAt = now.Add(time.Duration(-i) * time.Minute)
		articles = append(articles, a)
	}

	selected := cfg.SelectCandidates(articles, now)

	// Positions beyond the shuffle window keep their newest-first order
	assert.Len(t, selected, 5)
	assert.Equal(t, "c", selected[2].ID)
	assert.Equal(t, "d", selected[3].ID)
	assert.Equal(t, "e", selected[4].ID)
	assert.ElementsMatch(t, []string{"a", "b"}, []string{selected[0].ID, selected[1].ID})
}

func TestSelectCandidatesEmptyInput(t *testing.T) {
	cfg := DefaultConfig()
	assert.Nil(t, cfg.SelectCandidates(nil, time.Now()))
}
