package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/newsdesk/staging-portal/internal/util"
)

// ErrArticleNotFound indicates the requested backlog record does not exist.
// It distinguishes "the store determined no" from store faults.
var ErrArticleNotFound = errors.New("article not found")

// claimVerifySkew tolerates small clock/representation differences between
// the timestamp we wrote and the one the store hands back on re-read. A
// re-read claimed_at outside this window means another worker won the race.
const claimVerifySkew = 2 * time.Second

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Store is the PostgreSQL record store for the article backlog and the
// extraction archive.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store on top of an established connection
func NewStore(d *DB) *Store {
	return &Store{db: d.GetDB()}
}

// Execute runs a database operation in a transaction
func (s *Store) Execute(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// workflowEligible is the single definition of the workflow-rule predicate.
// Candidate listing, the claim guard, the eligible count and the expiry sweep
// all build on it so the rules cannot drift apart between operations.
func workflowEligible() squirrel.And {
	return squirrel.And{
		squirrel.Eq{"extraction_path": StageReady},
		squirrel.Expr("LOWER(TRIM(dedupe_status)) = 'original'"),
		squirrel.Expr("LOWER(TRIM(pre_check_complete)) IN ('true', 't', '1')"),
		squirrel.Eq{"duplicate_syndicate_status": []string{SyndicateCreator, SyndicateUnknown}},
		squirrel.Expr("(extraction_complete IS NULL OR extraction_complete = FALSE)"),
	}
}

// unclaimed extends the workflow predicate with the free-to-claim condition
func unclaimed() squirrel.And {
	return append(workflowEligible(), squirrel.Expr("claimed_at IS NULL"))
}

var articleColumns = []string{
	"id",
	"COALESCE(title, '')",
	"COALESCE(permalink_url, '')",
	"published_at",
	"COALESCE(author, '')",
	"COALESCE(publication, '')",
	"COALESCE(summary, '')",
	"COALESCE(source, '')",
	"COALESCE(source_url, '')",
	"COALESCE(subscription_source, '')",
	"COALESCE(clients, '')",
	"COALESCE(focus_industry, '')",
	"extraction_path",
	"COALESCE(dedupe_status, '')",
	"pre_check_complete",
	"pre_check_complete_at",
	"COALESCE(duplicate_syndicate_status, '')",
	"extraction_complete",
	"claimed_at",
	"COALESCE(served_to, '')",
	"retry_count",
	"COALESCE(failure_reason, '')",
	"failed_at",
	"created_at",
	"last_modified",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (*Article, error) {
	var (
		a        Article
		complete sql.NullBool
	)
	err := row.Scan(
		&a.ID, &a.Title, &a.PermalinkURL, &a.PublishedAt, &a.Author,
		&a.Publication, &a.Summary, &a.Source, &a.SourceURL,
		&a.SubscriptionSource, &a.Clients, &a.FocusIndustry,
		&a.ExtractionPath, &a.DedupeStatus, &a.PreCheckComplete,
		&a.PreCheckCompleteAt, &a.DuplicateSyndicateStatus, &complete,
		&a.ClaimedAt, &a.ServedTo, &a.RetryCount, &a.FailureReason,
		&a.FailedAt, &a.CreatedAt, &a.LastModified,
	)
	if err != nil {
		return nil, err
	}
	if complete.Valid {
		a.ExtractionComplete = &complete.Bool
	}
	return &a, nil
}

// GetCandidates performs the bounded bulk read of unclaimed, workflow-eligible
// articles, newest first. Cooldown and pool classification are applied by the
// caller over this snapshot.
func (s *Store) GetCandidates(ctx context.Context, limit int) ([]*Article, error) {
	if limit <= 0 {
		limit = 50
	}

	query, args, err := psql.Select(articleColumns...).
		From("articles").
		Where(unclaimed()).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build candidate query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var articles []*Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read candidates: %w", err)
	}

	return articles, nil
}

// GetWorkerTasks lists the claims a worker currently holds, oldest first.
// A worker restarting after a crash uses this to rediscover in-flight work
// instead of waiting for the expiry sweep to return it to the pool.
func (s *Store) GetWorkerTasks(ctx context.Context, workerID string) ([]*Article, error) {
	query, args, err := psql.Select(articleColumns...).
		From("articles").
		Where(squirrel.And{
			squirrel.Eq{"served_to": workerID},
			squirrel.Expr("claimed_at IS NOT NULL"),
		}).
		OrderBy("claimed_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build worker tasks query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query worker tasks: %w", err)
	}
	defer rows.Close()

	var articles []*Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker task: %w", err)
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read worker tasks: %w", err)
	}

	return articles, nil
}

// CountEligible returns the number of unclaimed articles matching the
// workflow rules, for health reporting.
func (s *Store) CountEligible(ctx context.Context) (int, error) {
	query, args, err := psql.Select("COUNT(*)").
		From("articles").
		Where(unclaimed()).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count eligible articles: %w", err)
	}
	return count, nil
}

// GetArticle fetches a single backlog record by id
func (s *Store) GetArticle(ctx context.Context, id string) (*Article, error) {
	query, args, err := psql.Select(articleColumns...).
		From("articles").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build article query: %w", err)
	}

	a, err := scanArticle(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, ErrArticleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read article %s: %w", id, err)
	}
	return a, nil
}

// ClaimArticle attempts the atomic claim of one article for a worker.
//
// The UPDATE re-asserts every workflow condition plus claimed_at IS NULL in
// its WHERE clause, so the store only applies the write if the row is still
// claimable at write time; of two concurrent claimants exactly one can
// succeed. The row is then re-read and the stored claimed_at compared to the
// timestamp we wrote: a null, missing or diverging value means the claim was
// lost. An unreadable verification is a failure, never a success.
//
// Returns the re-read article and true on success, (nil, false) on an
// expected lost race, and a non-nil error only for store faults.
func (s *Store) ClaimArticle(ctx context.Context, id, workerID string, now time.Time) (*Article, bool, error) {
	guard := append(unclaimed(), squirrel.Eq{"id": id})

	query, args, err := psql.Update("articles").
		Set("claimed_at", now).
		Set("served_to", workerID).
		Set("last_modified", now).
		Where(guard).
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("failed to build claim update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("failed to claim article %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read claim result for %s: %w", id, err)
	}
	if affected == 0 {
		// Guard no longer matched: claimed elsewhere or mutated upstream
		return nil, false, nil
	}

	// Verify the claim landed and is ours
	article, err := s.GetArticle(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("failed to verify claim on %s: %w", id, err)
	}
	if article.ClaimedAt == nil {
		return nil, false, nil
	}

	delta := article.ClaimedAt.Sub(now)
	if delta < 0 {
		delta = -delta
	}
	if delta > claimVerifySkew {
		log.Debug().
			Str("article_id", id).
			Str("worker_id", workerID).
			Dur("skew", delta).
			Msg("Claim verification timestamp mismatch, lost race")
		return nil, false, nil
	}

	return article, true, nil
}

// ReleaseClaim unconditionally clears the claim on an article (manual unclaim)
func (s *Store) ReleaseClaim(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE articles
		SET claimed_at = NULL, served_to = NULL, last_modified = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to release claim on %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read release result for %s: %w", id, err)
	}
	if affected == 0 {
		return ErrArticleNotFound
	}
	return nil
}

// ReleaseExpired returns abandoned claims to the pool. Rows still matching
// the workflow rules whose claim is older than the timeout get claimed_at
// cleared; a worker finishing concurrently has already advanced
// extraction_path or set extraction_complete, so its row no longer matches
// and no compare-and-swap is needed here.
func (s *Store) ReleaseExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	span := sentry.StartSpan(ctx, "db.release_expired")
	defer span.Finish()

	cutoff := time.Now().Add(-olderThan)

	where := append(workflowEligible(),
		squirrel.Expr("claimed_at IS NOT NULL"),
		squirrel.Lt{"claimed_at": cutoff},
	)

	query, args, err := psql.Update("articles").
		Set("claimed_at", nil).
		Set("served_to", nil).
		Set("last_modified", time.Now()).
		Where(where).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build expiry update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		span.SetTag("error", "true")
		return 0, fmt.Errorf("failed to release expired claims: %w", err)
	}

	released, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read expiry result: %w", err)
	}

	if released > 0 {
		log.Info().
			Int64("released", released).
			Dur("timeout", olderThan).
			Msg("Released expired claims")
	}

	return released, nil
}

// SubmitExtraction archives a worker's extracted content and finalises the
// article. The archive write (check-then-write upsert keyed on the article
// back-reference) happens first; only when it succeeds does the article
// transition to terminal state. If the status write fails the article stays
// claimed and self-heals via the expiry reclaimer.
func (s *Store) SubmitExtraction(ctx context.Context, articleID, workerID string, sub *Submission) error {
	article, err := s.GetArticle(ctx, articleID)
	if err != nil {
		return err
	}

	ext := buildExtraction(article, workerID, sub)

	err = s.Execute(ctx, func(tx *sql.Tx) error {
		var existingID string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM extractions WHERE article_id = $1 LIMIT 1`, articleID,
		).Scan(&existingID)

		switch {
		case err == sql.ErrNoRows:
			_, err = tx.ExecContext(ctx, `
				INSERT INTO extractions (
					id, article_id, headline, author, body, publication,
					published_on, story_link, search, source, clients,
					focus_industry, worker_id, duration_sec, submitted_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
			`, uuid.New().String(), articleID, ext.Headline, ext.Author, ext.Body,
				ext.Publication, ext.PublishedOn, ext.StoryLink, ext.Search,
				ext.Source, ext.Clients, ext.FocusIndustry, workerID, ext.DurationSec)
			if err != nil {
				return fmt.Errorf("failed to insert extraction: %w", err)
			}
		case err != nil:
			return fmt.Errorf("failed to check existing extraction: %w", err)
		default:
			// Resubmission updates the archive row rather than duplicating it
			_, err = tx.ExecContext(ctx, `
				UPDATE extractions
				SET headline = $1, author = $2, body = $3, publication = $4,
					published_on = $5, story_link = $6, search = $7, source = $8,
					clients = $9, focus_industry = $10, worker_id = $11,
					duration_sec = $12, submitted_at = NOW()
				WHERE id = $13
			`, ext.Headline, ext.Author, ext.Body, ext.Publication, ext.PublishedOn,
				ext.StoryLink, ext.Search, ext.Source, ext.Clients,
				ext.FocusIndustry, workerID, ext.DurationSec, existingID)
			if err != nil {
				return fmt.Errorf("failed to update extraction: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Archive write landed; move the article to its terminal state
	_, err = s.db.ExecContext(ctx, `
		UPDATE articles
		SET extraction_path = $1, extraction_complete = TRUE,
			claimed_at = NULL, last_modified = NOW()
		WHERE id = $2
	`, StageComplete, articleID)
	if err != nil {
		return fmt.Errorf("failed to finalise article %s: %w", articleID, err)
	}

	log.Info().
		Str("article_id", articleID).
		Str("worker_id", workerID).
		Msg("Extraction submitted")

	return nil
}

// buildExtraction merges caller-supplied fields with the article's own.
// Body always comes from the worker; everything else falls back.
func buildExtraction(article *Article, workerID string, sub *Submission) *Extraction {
	ext := &Extraction{
		ArticleID:     article.ID,
		Headline:      fallback(sub.Headline, article.Title),
		Author:        fallback(sub.Author, article.Author),
		Body:          sub.Body,
		Publication:   fallback(sub.Publication, article.Publication),
		StoryLink:     fallback(util.NormaliseURL(article.PermalinkURL), article.PermalinkURL),
		Search:        fallback(sub.Search, article.SubscriptionSource),
		Source:        fallback(sub.Source, article.Source),
		Clients:       article.Clients,
		FocusIndustry: article.FocusIndustry,
		WorkerID:      workerID,
		DurationSec:   sub.DurationSec,
	}

	switch {
	case sub.Date != "" && sub.Date != "Not Available":
		ext.PublishedOn = sub.Date
	case article.PublishedAt != nil:
		ext.PublishedOn = article.PublishedAt.Format("2006-01-02")
	}

	return ext
}

func fallback(value, original string) string {
	if value != "" {
		return value
	}
	return original
}

// FailExtraction finalises an article that could not be extracted: terminal
// state with the failure reason recorded, plus a best-effort retry-count
// increment that never blocks the status transition. No archive row is
// written for failures.
func (s *Store) FailExtraction(ctx context.Context, articleID, workerID, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE articles
		SET extraction_complete = TRUE, extraction_path = $1,
			claimed_at = NULL, failure_reason = $2, failed_at = NOW(),
			last_modified = NOW()
		WHERE id = $3
	`, StageComplete, reason, articleID)
	if err != nil {
		return fmt.Errorf("failed to mark article %s as failed: %w", articleID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read failure result for %s: %w", articleID, err)
	}
	if affected == 0 {
		return ErrArticleNotFound
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE articles SET retry_count = retry_count + 1 WHERE id = $1`, articleID,
	); err != nil {
		log.Warn().
			Err(err).
			Str("article_id", articleID).
			Msg("Could not increment retry count")
	}

	log.Info().
		Str("article_id", articleID).
		Str("worker_id", workerID).
		Str("reason", reason).
		Msg("Extraction marked as failed")

	return nil
}

var extractionColumns = []string{
	"id",
	"article_id",
	"COALESCE(headline, '')",
	"COALESCE(author, '')",
	"COALESCE(body, '')",
	"COALESCE(publication, '')",
	"COALESCE(published_on, '')",
	"COALESCE(story_link, '')",
	"COALESCE(search, '')",
	"COALESCE(source, '')",
	"COALESCE(clients, '')",
	"COALESCE(focus_industry, '')",
	"COALESCE(worker_id, '')",
	"COALESCE(duration_sec, 0)",
	"submitted_at",
}

func scanExtraction(row rowScanner) (*Extraction, error) {
	var e Extraction
	err := row.Scan(
		&e.ID, &e.ArticleID, &e.Headline, &e.Author, &e.Body, &e.Publication,
		&e.PublishedOn, &e.StoryLink, &e.Search, &e.Source, &e.Clients,
		&e.FocusIndustry, &e.WorkerID, &e.DurationSec, &e.SubmittedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetExtractionByArticle returns the archive row for an article, if any
func (s *Store) GetExtractionByArticle(ctx context.Context, articleID string) (*Extraction, error) {
	query, args, err := psql.Select(extractionColumns...).
		From("extractions").
		Where(squirrel.Eq{"article_id": articleID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build extraction query: %w", err)
	}

	e, err := scanExtraction(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, ErrArticleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read extraction for %s: %w", articleID, err)
	}
	return e, nil
}

// RecentExtractions lists the most recent archive submissions
func (s *Store) RecentExtractions(ctx context.Context, limit int) ([]*Extraction, error) {
	if limit <= 0 {
		limit = 50
	}

	query, args, err := psql.Select(extractionColumns...).
		From("extractions").
		OrderBy("submitted_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build recent extractions query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent extractions: %w", err)
	}
	defer rows.Close()

	var extractions []*Extraction
	for rows.Next() {
		e, err := scanExtraction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan extraction: %w", err)
		}
		extractions = append(extractions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recent extractions: %w", err)
	}

	return extractions, nil
}
