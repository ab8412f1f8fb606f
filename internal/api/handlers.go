package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/newsdesk/staging-portal/internal/assign"
	"github.com/newsdesk/staging-portal/internal/creds"
	"github.com/newsdesk/staging-portal/internal/db"
)

// Version is the current API version (can be set via ldflags at build time)
var Version = "1.2.0"

// DBClient is an interface for connection-level database operations
type DBClient interface {
	GetDB() *sql.DB
}

// TaskStore defines the record-store operations used by the handlers
type TaskStore interface {
	GetArticle(ctx context.Context, id string) (*db.Article, error)
	GetCandidates(ctx context.Context, limit int) ([]*db.Article, error)
	GetWorkerTasks(ctx context.Context, workerID string) ([]*db.Article, error)
	CountEligible(ctx context.Context) (int, error)
	SubmitExtraction(ctx context.Context, articleID, workerID string, sub *db.Submission) error
	FailExtraction(ctx context.Context, articleID, workerID, reason string) error
	ReleaseExpired(ctx context.Context, olderThan time.Duration) (int64, error)
	ReleaseClaim(ctx context.Context, id string) error
	RecentExtractions(ctx context.Context, limit int) ([]*db.Extraction, error)
	GetExtractionByArticle(ctx context.Context, articleID string) (*db.Extraction, error)
}

// TaskAssigner defines the assignment operations used by the handlers
type TaskAssigner interface {
	Next(ctx context.Context, workerID string) (*db.Article, error)
	MarkServed(workerID, taskID string)
}

// Handler holds dependencies for API handlers
type Handler struct {
	DB          DBClient
	Store       TaskStore
	Assigner    TaskAssigner
	Credentials *creds.Index
	Config      *assign.Config
}

// NewHandler creates a new API handler with dependencies
func NewHandler(dbClient DBClient, store TaskStore, assigner TaskAssigner, credentials *creds.Index, cfg *assign.Config) *Handler {
	if cfg == nil {
		cfg = assign.DefaultConfig()
	}
	return &Handler{
		DB:          dbClient,
		Store:       store,
		Assigner:    assigner,
		Credentials: credentials,
		Config:      cfg,
	}
}

// SetupRoutes configures all API routes
func (h *Handler) SetupRoutes(mux *http.ServeMux) {
	// Health check endpoints
	mux.HandleFunc("/health", h.HealthCheck)
	mux.HandleFunc("/health/db", h.DatabaseHealthCheck)

	// Worker task lifecycle
	mux.HandleFunc("/v1/tasks/next", h.NextTask)
	mux.HandleFunc("/v1/tasks/submit", h.SubmitTask)
	mux.HandleFunc("/v1/tasks/fail", h.FailTask)
	mux.HandleFunc("/v1/tasks/unclaim", h.UnclaimTask)

	// Monitoring
	mux.HandleFunc("/v1/tasks/available", h.AvailableTasks)
	mux.HandleFunc("/v1/tasks/", h.TaskDetail)     // /v1/tasks/{id}
	mux.HandleFunc("/v1/workers/", h.WorkerTasks)  // /v1/workers/{id}/tasks
	mux.HandleFunc("/v1/extractions/recent", h.RecentExtractionsHandler)

	// Maintenance (also runs on the reclaimer's timer)
	mux.HandleFunc("/v1/maintenance/release-expired", h.ReleaseExpiredHandler)
}

// HealthCheck handles basic health check requests
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	WriteHealthy(w, r, "staging-portal", Version)
}

// DatabaseHealthCheck reports store connectivity and pool depth
func (h *Handler) DatabaseHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	if h.DB == nil {
		WriteUnhealthy(w, r, "postgresql", fmt.Errorf("database connection not configured"))
		return
	}

	if err := h.DB.GetDB().Ping(); err != nil {
		WriteUnhealthy(w, r, "postgresql", err)
		return
	}

	available, err := h.Store.CountEligible(r.Context())
	if err != nil {
		WriteUnhealthy(w, r, "postgresql", err)
		return
	}

	WriteSuccess(w, r, map[string]interface{}{
		"service":         "postgresql",
		"status":          "healthy",
		"tasks_available": available,
	}, "")
}
