package db

import "time"

// Article lifecycle stages for extraction_path
const (
	StageReady    = 2 // ready for human extraction
	StageComplete = 3 // terminal
)

// Duplicate/syndicate classifications that remain assignable
const (
	SyndicateCreator = "creator"
	SyndicateUnknown = "unknown"
)

// Article is a backlog record awaiting (or past) human extraction.
// Nullable columns map to pointers so "absent" stays distinguishable from
// zero values; the eligibility filter depends on that distinction.
type Article struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title,omitempty"`
	PermalinkURL       string     `json:"permalink_url,omitempty"`
	PublishedAt        *time.Time `json:"published_at,omitempty"`
	Author             string     `json:"author,omitempty"`
	Publication        string     `json:"publication,omitempty"`
	Summary            string     `json:"summary,omitempty"`
	Source             string     `json:"source,omitempty"`
	SourceURL          string     `json:"source_url,omitempty"`
	SubscriptionSource string     `json:"subscription_source,omitempty"`
	Clients            string     `json:"clients,omitempty"`
	FocusIndustry      string     `json:"focus_industry,omitempty"`

	ExtractionPath int `json:"extraction_path"`

	// DedupeStatus must equal "original" (case-insensitive) to be assignable
	DedupeStatus string `json:"dedupe_status,omitempty"`

	// PreCheckComplete carries legacy string truthy forms ("TRUE", "t", "1")
	// alongside "true"/"false"; parse with a truthy helper, never compare raw
	PreCheckComplete   string     `json:"pre_check_complete,omitempty"`
	PreCheckCompleteAt *time.Time `json:"pre_check_complete_at,omitempty"`

	DuplicateSyndicateStatus string `json:"duplicate_syndicate_status,omitempty"`

	ExtractionComplete *bool      `json:"extraction_complete,omitempty"`
	ClaimedAt          *time.Time `json:"claimed_at,omitempty"`
	ServedTo           string     `json:"served_to,omitempty"`

	RetryCount    int        `json:"retry_count"`
	FailureReason string     `json:"failure_reason,omitempty"`
	FailedAt      *time.Time `json:"failed_at,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
}

// IsComplete reports whether the article has reached a terminal state
func (a *Article) IsComplete() bool {
	return a.ExtractionComplete != nil && *a.ExtractionComplete
}

// Extraction is an archived finalised submission, one row per article
type Extraction struct {
	ID            string    `json:"id"`
	ArticleID     string    `json:"article_id"`
	Headline      string    `json:"headline,omitempty"`
	Author        string    `json:"author,omitempty"`
	Body          string    `json:"body,omitempty"`
	Publication   string    `json:"publication,omitempty"`
	PublishedOn   string    `json:"published_on,omitempty"`
	StoryLink     string    `json:"story_link,omitempty"`
	Search        string    `json:"search,omitempty"`
	Source        string    `json:"source,omitempty"`
	Clients       string    `json:"clients,omitempty"`
	FocusIndustry string    `json:"focus_industry,omitempty"`
	WorkerID      string    `json:"worker_id,omitempty"`
	DurationSec   int       `json:"duration_sec,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// Submission holds the caller-supplied fields for a submit operation.
// Body always comes from the worker; empty optional fields fall back to the
// original article's own values when the archive row is built.
type Submission struct {
	Headline    string `json:"headline,omitempty"`
	Author      string `json:"author,omitempty"`
	Body        string `json:"body"`
	Publication string `json:"publication,omitempty"`
	Date        string `json:"date,omitempty"`
	Search      string `json:"search,omitempty"`
	Source      string `json:"source,omitempty"`
	DurationSec int    `json:"duration_sec,omitempty"`
}
