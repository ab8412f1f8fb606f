package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return &Store{db: mockDB}, mock
}

var articleRowCols = []string{
	"id", "title", "permalink_url", "published_at", "author", "publication",
	"summary", "source", "source_url", "subscription_source", "clients",
	"focus_industry", "extraction_path", "dedupe_status", "pre_check_complete",
	"pre_check_complete_at", "duplicate_syndicate_status", "extraction_complete",
	"claimed_at", "served_to", "retry_count", "failure_reason", "failed_at",
	"created_at", "last_modified",
}

func articleRow(id string, claimedAt interface{}) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(articleRowCols).AddRow(
		id, "Title", "https://example.com/story", now, "Author", "Publication",
		"Summary", "Feed", "https://example.com", "Sub Source", "Databricks",
		"AI", StageReady, "original", "true",
		now.Add(-time.Hour), SyndicateCreator, nil,
		claimedAt, "", 0, "", nil,
		now.Add(-2*time.Hour), now,
	)
}

func TestGetCandidates(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM articles WHERE \(extraction_path = \$1 AND LOWER\(TRIM\(dedupe_status\)\) = 'original' AND LOWER\(TRIM\(pre_check_complete\)\) IN \('true', 't', '1'\) AND .+claimed_at IS NULL\) ORDER BY created_at DESC LIMIT 50`).
		WillReturnRows(articleRow("a-1", nil))

	articles, err := store.GetCandidates(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "a-1", articles[0].ID)
	assert.Nil(t, articles[0].ClaimedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCandidatesQueryError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM articles`).
		WillReturnError(errors.New("connection refused"))

	_, err := store.GetCandidates(context.Background(), 10)
	assert.ErrorContains(t, err, "failed to query candidates")
}

func TestCountEligible(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM articles WHERE`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := store.CountEligible(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, count)
}

func TestGetArticleNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM articles WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetArticle(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrArticleNotFound)
}

func TestGetWorkerTasks(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM articles WHERE \(served_to = \$1 AND claimed_at IS NOT NULL\) ORDER BY claimed_at ASC`).
		WithArgs("w1").
		WillReturnRows(articleRow("a-1", now.Add(-10*time.Minute)))

	tasks, err := store.GetWorkerTasks(context.Background(), "w1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "a-1", tasks[0].ID)
	assert.NotNil(t, tasks[0].ClaimedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetWorkerTasksNoneHeld(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM articles WHERE \(served_to = \$1 AND claimed_at IS NOT NULL\)`).
		WithArgs("w1").
		WillReturnRows(sqlmock.NewRows(articleRowCols))

	tasks, err := store.GetWorkerTasks(context.Background(), "w1")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestClaimArticleSuccess(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(`UPDATE articles SET claimed_at = \$1, served_to = \$2, last_modified = \$3 WHERE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .+ FROM articles WHERE id = \$1`).
		WithArgs("a-1").
		WillReturnRows(articleRow("a-1", now))

	article, ok, err := store.ClaimArticle(context.Background(), "a-1", "w1", now)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, article.ClaimedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimArticleLostRace(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE articles SET claimed_at = \$1`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	article, ok, err := store.ClaimArticle(context.Background(), "a-1", "w1", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, article)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimArticleVerifyNullTimestamp(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(`UPDATE articles SET claimed_at = \$1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .+ FROM articles WHERE id = \$1`).
		WillReturnRows(articleRow("a-1", nil))

	_, ok, err := store.ClaimArticle(context.Background(), "a-1", "w1", now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimArticleVerifySkewedTimestamp(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	// Another claimant's timestamp, well outside the tolerated skew
	mock.ExpectExec(`UPDATE articles SET claimed_at = \$1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .+ FROM articles WHERE id = \$1`).
		WillReturnRows(articleRow("a-1", now.Add(30*time.Second)))

	_, ok, err := store.ClaimArticle(context.Background(), "a-1", "w1", now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimArticleVerifyUnreadable(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE articles SET claimed_at = \$1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .+ FROM articles WHERE id = \$1`).
		WillReturnError(errors.New("read timeout"))

	_, ok, err := store.ClaimArticle(context.Background(), "a-1", "w1", time.Now())
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestReleaseClaim(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE articles\s+SET claimed_at = NULL, served_to = NULL`).
		WithArgs("a-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, store.ReleaseClaim(context.Background(), "a-1"))
}

func TestReleaseClaimUnknownArticle(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE articles\s+SET claimed_at = NULL`).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.ReleaseClaim(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrArticleNotFound)
}

// timeNear matches a time.Time argument within a tolerance of the expected
// instant.
type timeNear struct {
	expect    time.Time
	tolerance time.Duration
}

func (m timeNear) Match(v driver.Value) bool {
	ts, ok := v.(time.Time)
	if !ok {
		return false
	}
	delta := ts.Sub(m.expect)
	if delta < 0 {
		delta = -delta
	}
	return delta <= m.tolerance
}

func TestReleaseExpired(t *testing.T) {
	store, mock := newMockStore(t)

	// The claimed_at bound must sit at now minus the timeout, so a claim
	// held for 20 minutes is released under a 15-minute timeout but kept
	// under a 30-minute one
	cutoff := timeNear{expect: time.Now().Add(-15 * time.Minute), tolerance: 5 * time.Second}
	mock.ExpectExec(`UPDATE articles SET claimed_at = \$1, served_to = \$2, last_modified = \$3 WHERE .+claimed_at IS NOT NULL AND claimed_at < \$\d+`).
		WithArgs(nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	released, err := store.ReleaseExpired(context.Background(), 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), released)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseExpiredFault(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE articles SET claimed_at = \$1`).
		WillReturnError(errors.New("connection reset"))

	_, err := store.ReleaseExpired(context.Background(), 30*time.Minute)
	assert.ErrorContains(t, err, "failed to release expired claims")
}

func TestSubmitExtractionInsertsArchiveRow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM articles WHERE id = \$1`).
		WithArgs("a-1").
		WillReturnRows(articleRow("a-1", now))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM extractions WHERE article_id = $1 LIMIT 1`)).
		WithArgs("a-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO extractions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectExec(`UPDATE articles\s+SET extraction_path = \$1, extraction_complete = TRUE`).
		WithArgs(StageComplete, "a-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	sub := &Submission{Body: "extracted text", Headline: "New headline", DurationSec: 90}
	err := store.SubmitExtraction(context.Background(), "a-1", "w1", sub)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitExtractionUpdatesExistingRow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM articles WHERE id = \$1`).
		WithArgs("a-1").
		WillReturnRows(articleRow("a-1", now))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM extractions WHERE article_id = $1 LIMIT 1`)).
		WithArgs("a-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("ext-1"))
	mock.ExpectExec(`UPDATE extractions\s+SET headline = \$1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectExec(`UPDATE articles\s+SET extraction_path = \$1, extraction_complete = TRUE`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sub := &Submission{Body: "extracted text"}
	err := store.SubmitExtraction(context.Background(), "a-1", "w1", sub)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitExtractionArchiveFailureLeavesStatusUntouched(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM articles WHERE id = \$1`).
		WithArgs("a-1").
		WillReturnRows(articleRow("a-1", now))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM extractions WHERE article_id = $1 LIMIT 1`)).
		WithArgs("a-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO extractions`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	sub := &Submission{Body: "extracted text"}
	err := store.SubmitExtraction(context.Background(), "a-1", "w1", sub)
	assert.ErrorContains(t, err, "failed to insert extraction")
	// No article status update was expected or issued
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitExtractionUnknownArticle(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM articles WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	err := store.SubmitExtraction(context.Background(), "missing", "w1", &Submission{Body: "text"})
	assert.ErrorIs(t, err, ErrArticleNotFound)
}

func TestFailExtraction(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE articles\s+SET extraction_complete = TRUE, extraction_path = \$1`).
		WithArgs(StageComplete, "paywall blocked", "a-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE articles SET retry_count = retry_count + 1 WHERE id = $1`)).
		WithArgs("a-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.FailExtraction(context.Background(), "a-1", "w1", "paywall blocked")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailExtractionRetryCountBestEffort(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE articles\s+SET extraction_complete = TRUE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE articles SET retry_count`).
		WillReturnError(errors.New("lock timeout"))

	// The counter increment failing must not fail the transition
	err := store.FailExtraction(context.Background(), "a-1", "w1", "timeout")
	assert.NoError(t, err)
}

func TestFailExtractionUnknownArticle(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE articles\s+SET extraction_complete = TRUE`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.FailExtraction(context.Background(), "missing", "w1", "gone")
	assert.ErrorIs(t, err, ErrArticleNotFound)
}

func TestGetExtractionByArticle(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "article_id", "headline", "author", "body", "publication",
		"published_on", "story_link", "search", "source", "clients",
		"focus_industry", "worker_id", "duration_sec", "submitted_at",
	}).AddRow("ext-1", "a-1", "Headline", "Author", "Body", "Publication",
		"2026-08-01", "https://example.com/story", "Search", "Feed",
		"Databricks", "AI", "w1", 120, now)

	mock.ExpectQuery(`SELECT .+ FROM extractions WHERE article_id = \$1 LIMIT 1`).
		WithArgs("a-1").
		WillReturnRows(rows)

	ext, err := store.GetExtractionByArticle(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, "ext-1", ext.ID)
	assert.Equal(t, 120, ext.DurationSec)
}

func TestGetExtractionByArticleNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM extractions`).
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetExtractionByArticle(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrArticleNotFound)
}

func TestBuildExtractionFallbacks(t *testing.T) {
	published := time.Date(2026, 7, 14, 0, 0, 0, 0, time.UTC)
	article := &Article{
		ID:                 "a-1",
		Title:              "Original title",
		Author:             "Original author",
		Publication:        "Original publication",
		PermalinkURL:       "https://example.com/story",
		SubscriptionSource: "Feed search",
		Source:             "Feed",
		Clients:            "Databricks",
		FocusIndustry:      "AI",
		PublishedAt:        &published,
	}

	t.Run("caller values win", func(t *testing.T) {
		ext := buildExtraction(article, "w1", &Submission{
			Headline: "Edited", Author: "Editor", Body: "text",
			Publication: "Edited pub", Date: "2026-08-01", Search: "manual",
		})
		assert.Equal(t, "Edited", ext.Headline)
		assert.Equal(t, "2026-08-01", ext.PublishedOn)
		assert.Equal(t, "manual", ext.Search)
	})

	t.Run("empty fields fall back to the article", func(t *testing.T) {
		ext := buildExtraction(article, "w1", &Submission{Body: "text"})
		assert.Equal(t, "Original title", ext.Headline)
		assert.Equal(t, "Original author", ext.Author)
		assert.Equal(t, "Feed search", ext.Search)
		assert.Equal(t, "https://example.com/story", ext.StoryLink)
		assert.Equal(t, "2026-07-14", ext.PublishedOn)
	})

	t.Run("placeholder date falls back to the article", func(t *testing.T) {
		ext := buildExtraction(article, "w1", &Submission{Body: "text", Date: "Not Available"})
		assert.Equal(t, "2026-07-14", ext.PublishedOn)
	})

	t.Run("story link is normalised to https", func(t *testing.T) {
		insecure := *article
		insecure.PermalinkURL = "http://example.com/story"
		ext := buildExtraction(&insecure, "w1", &Submission{Body: "text"})
		assert.Equal(t, "https://example.com/story", ext.StoryLink)
	})
}
