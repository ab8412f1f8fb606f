package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/newsdesk/staging-portal/internal/assign"
	"github.com/newsdesk/staging-portal/internal/creds"
	"github.com/newsdesk/staging-portal/internal/db"
	"github.com/newsdesk/staging-portal/internal/observability"
)

// AssignedTask is the payload returned when a claim succeeds.
type AssignedTask struct {
	Task        *db.Article       `json:"task"`
	Credentials *creds.Credential `json:"credentials,omitempty"`
	WorkerID    string            `json:"worker_id"`
	AssignedAt  time.Time         `json:"assigned_at"`
}

// NextTask claims the next available task for the requesting worker.
func (h *Handler) NextTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	workerID := strings.TrimSpace(r.URL.Query().Get("worker_id"))
	if workerID == "" {
		BadRequest(w, r, "worker_id query parameter is required")
		return
	}

	ctx, span := observability.StartAssignmentSpan(r.Context(), workerID)
	defer span.End()

	start := time.Now()
	article, err := h.Assigner.Next(ctx, workerID)
	durationMs := float64(time.Since(start).Milliseconds())

	if err != nil {
		if errors.Is(err, assign.ErrNoTasksAvailable) {
			observability.RecordAssignment(ctx, "empty", durationMs)
			WriteEmptyResult(w, r, "no tasks available")
			return
		}
		observability.RecordAssignment(ctx, "error", durationMs)
		DatabaseError(w, r, err)
		return
	}
	observability.RecordAssignment(ctx, "assigned", durationMs)

	resp := AssignedTask{
		Task:       article,
		WorkerID:   workerID,
		AssignedAt: time.Now().UTC(),
	}
	if h.Credentials != nil {
		if cred, ok := h.Credentials.Find(article.PermalinkURL, article.Publication); ok {
			resp.Credentials = &cred
		}
	}

	WriteSuccess(w, r, resp, "task assigned")
}

// submitRequest is the body accepted by SubmitTask.
type submitRequest struct {
	TaskID      string `json:"task_id"`
	WorkerID    string `json:"worker_id"`
	Headline    string `json:"headline"`
	Author      string `json:"author"`
	Body        string `json:"body"`
	Publication string `json:"publication"`
	Date        string `json:"date"`
	Search      string `json:"search"`
	Source      string `json:"source"`
	DurationSec int    `json:"duration_sec"`
}

// SubmitTask finalizes a claimed task with its extracted content.
func (h *Handler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, r)
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, r, "invalid JSON body")
		return
	}
	if req.TaskID == "" || req.WorkerID == "" {
		BadRequest(w, r, "task_id and worker_id are required")
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		WriteErrorMessage(w, r, "extracted body must not be empty", http.StatusUnprocessableEntity, ErrCodeValidation)
		return
	}

	sub := &db.Submission{
		Headline:    req.Headline,
		Author:      req.Author,
		Body:        req.Body,
		Publication: req.Publication,
		Date:        req.Date,
		Search:      req.Search,
		Source:      req.Source,
		DurationSec: req.DurationSec,
	}

	if err := h.Store.SubmitExtraction(r.Context(), req.TaskID, req.WorkerID, sub); err != nil {
		if errors.Is(err, db.ErrArticleNotFound) {
			NotFound(w, r, "task not found")
			return
		}
		DatabaseError(w, r, err)
		return
	}

	h.Assigner.MarkServed(req.WorkerID, req.TaskID)
	log.Info().
		Str("task_id", req.TaskID).
		Str("worker_id", req.WorkerID).
		Int("duration_sec", req.DurationSec).
		Msg("Extraction submitted")

	WriteSuccess(w, r, map[string]string{"task_id": req.TaskID}, "extraction submitted")
}

// failRequest is the body accepted by FailTask.
type failRequest struct {
	TaskID       string `json:"task_id"`
	WorkerID     string `json:"worker_id"`
	ErrorMessage string `json:"error_message"`
}

// FailTask records a worker's failure to extract a claimed task.
func (h *Handler) FailTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, r)
		return
	}

	var req failRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, r, "invalid JSON body")
		return
	}
	if req.TaskID == "" || req.WorkerID == "" {
		BadRequest(w, r, "task_id and worker_id are required")
		return
	}
	reason := req.ErrorMessage
	if reason == "" {
		reason = "unspecified"
	}

	if err := h.Store.FailExtraction(r.Context(), req.TaskID, req.WorkerID, reason); err != nil {
		if errors.Is(err, db.ErrArticleNotFound) {
			NotFound(w, r, "task not found")
			return
		}
		DatabaseError(w, r, err)
		return
	}

	h.Assigner.MarkServed(req.WorkerID, req.TaskID)
	log.Warn().
		Str("task_id", req.TaskID).
		Str("worker_id", req.WorkerID).
		Str("reason", reason).
		Msg("Extraction failed")

	WriteSuccess(w, r, map[string]string{"task_id": req.TaskID}, "task marked failed")
}

// UnclaimTask releases a claim without finalizing the task.
func (h *Handler) UnclaimTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, r)
		return
	}

	var req struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, r, "invalid JSON body")
		return
	}
	if req.TaskID == "" {
		BadRequest(w, r, "task_id is required")
		return
	}

	if err := h.Store.ReleaseClaim(r.Context(), req.TaskID); err != nil {
		if errors.Is(err, db.ErrArticleNotFound) {
			NotFound(w, r, "task not found")
			return
		}
		DatabaseError(w, r, err)
		return
	}

	WriteSuccess(w, r, map[string]string{"task_id": req.TaskID}, "claim released")
}

type availableTask struct {
	Task *db.Article `json:"task"`
	Pool string      `json:"pool"`
}

// AvailableTasks lists currently assignable tasks without claiming them.
func (h *Handler) AvailableTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			BadRequest(w, r, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	candidates, err := h.Store.GetCandidates(r.Context(), limit)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	now := time.Now()
	tasks := make([]availableTask, 0, len(candidates))
	var primary, fallback int
	for _, a := range candidates {
		pool := h.Config.Classify(a, now)
		switch pool {
		case assign.PoolPrimary:
			primary++
		case assign.PoolFallback:
			fallback++
		default:
			continue
		}
		tasks = append(tasks, availableTask{Task: a, Pool: pool.String()})
	}

	WriteSuccess(w, r, map[string]interface{}{
		"count":          len(tasks),
		"primary_count":  primary,
		"fallback_count": fallback,
		"tasks":          tasks,
	}, "")
}

// TaskDetail returns a single task by ID, with its archived extraction if one exists.
func (h *Handler) TaskDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/tasks/")
	if id == "" || strings.Contains(id, "/") {
		NotFound(w, r, "task not found")
		return
	}

	article, err := h.Store.GetArticle(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrArticleNotFound) {
			NotFound(w, r, "task not found")
			return
		}
		DatabaseError(w, r, err)
		return
	}

	resp := map[string]interface{}{"task": article}
	if article.IsComplete() {
		extraction, err := h.Store.GetExtractionByArticle(r.Context(), id)
		if err != nil && !errors.Is(err, db.ErrArticleNotFound) {
			DatabaseError(w, r, err)
			return
		}
		if extraction != nil {
			resp["extraction"] = extraction
		}
	}

	WriteSuccess(w, r, resp, "")
}

// WorkerTasks lists the claims a worker currently holds, so a restarted
// worker can rediscover in-flight tasks instead of waiting out the claim
// timeout.
func (h *Handler) WorkerTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/workers/")
	workerID, suffix, found := strings.Cut(rest, "/")
	if !found || workerID == "" || suffix != "tasks" {
		NotFound(w, r, "not found")
		return
	}

	tasks, err := h.Store.GetWorkerTasks(r.Context(), workerID)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	WriteSuccess(w, r, map[string]interface{}{
		"worker_id": workerID,
		"count":     len(tasks),
		"tasks":     tasks,
	}, "")
}

// RecentExtractionsHandler lists the most recently archived extractions.
func (h *Handler) RecentExtractionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			BadRequest(w, r, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	extractions, err := h.Store.RecentExtractions(r.Context(), limit)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	WriteSuccess(w, r, map[string]interface{}{
		"count":       len(extractions),
		"extractions": extractions,
	}, "")
}

// ReleaseExpiredHandler forces an immediate sweep of expired claims.
func (h *Handler) ReleaseExpiredHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, r)
		return
	}

	timeoutMinutes := 30
	if v := r.URL.Query().Get("timeout_minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			BadRequest(w, r, "timeout_minutes must be a positive integer")
			return
		}
		timeoutMinutes = n
	}

	released, err := h.Store.ReleaseExpired(r.Context(), time.Duration(timeoutMinutes)*time.Minute)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	WriteSuccess(w, r, map[string]interface{}{
		"released_count":  released,
		"timeout_minutes": timeoutMinutes,
	}, "expired claims released")
}
