// Package triageapi exposes triage operations over HTTP.
package triageapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/sift/internal/mail"
	"github.com/linnemanlabs/sift/internal/tasks"
	"github.com/linnemanlabs/sift/internal/triage"
)

// Service defines the business operations triageapi needs.
type Service interface {
	ClassifyBatch(ctx context.Context, ids []string) string
	State(ctx context.Context, emailID string) (*triage.State, bool, error)
	Accept(ctx context.Context, emailID string) error
	AcceptWithFolder(ctx context.Context, emailID string, folder mail.Folder) error
	Dismiss(ctx context.Context, emailID string) error
	BulkAccept(ctx context.Context, ids []string) triage.BulkOutcome
	BulkDismiss(ctx context.Context, ids []string) triage.BulkOutcome
	Retry(ctx context.Context, emailID string) (*triage.Result, error)
	Reclassify(ctx context.Context, emailID string) (*triage.Result, error)
	SnoozeEmail(ctx context.Context, emailID string, until time.Time, reason triage.SnoozeReason) error
	Unsnooze(ctx context.Context, emailID string) error
	ReviewQueue(ctx context.Context) ([]*triage.State, error)
	FailedQueue(ctx context.Context) ([]*triage.State, error)
	ConfusedPatterns(ctx context.Context, minDismissals int) ([]*triage.ConfusedPattern, error)
}

// CandidateSource lists batch candidates from the email index.
type CandidateSource interface {
	ListEmailIDs(ctx context.Context, accountID string, folder mail.Folder, limit int) ([]string, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger     log.Logger
	svc        Service
	runner     *tasks.Runner
	candidates CandidateSource
}

// New creates a new API handler.
func New(logger log.Logger, svc Service, runner *tasks.Runner, candidates CandidateSource) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	if runner == nil {
		panic(xerrors.New("task runner is required"))
	}
	return &API{
		logger:     logger,
		svc:        svc,
		runner:     runner,
		candidates: candidates,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/triage/batch", a.handleStartBatch)

		r.Get("/tasks/{id}", a.handleGetTask)
		r.Delete("/tasks/{id}", a.handleClearTask)

		r.Route("/emails/{id}", func(r chi.Router) {
			r.Get("/classification", a.handleGetClassification)
			r.Post("/accept", a.handleAccept)
			r.Post("/dismiss", a.handleDismiss)
			r.Post("/reclassify", a.handleReclassify)
			r.Post("/retry", a.handleRetry)
			r.Post("/snooze", a.handleSnooze)
			r.Delete("/snooze", a.handleUnsnooze)
		})

		r.Get("/review", a.handleReviewQueue)
		r.Post("/review/accept", a.handleBulkAccept)
		r.Post("/review/dismiss", a.handleBulkDismiss)
		r.Get("/failed", a.handleFailedQueue)
		r.Get("/patterns/confused", a.handleConfusedPatterns)
	})
}

type batchRequest struct {
	EmailIDs  []string    `json:"email_ids,omitempty"`
	AccountID string      `json:"account_id,omitempty"`
	Folder    mail.Folder `json:"folder,omitempty"`
	Limit     int         `json:"limit,omitempty"`
}

func (a *API) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	ids := req.EmailIDs
	if len(ids) == 0 {
		if req.AccountID == "" || a.candidates == nil {
			http.Error(w, `{"error":"email_ids or account_id required"}`, http.StatusBadRequest)
			return
		}
		folder := req.Folder
		if folder == "" {
			folder = mail.FolderInbox
		}
		if !folder.Valid() {
			http.Error(w, `{"error":"unknown folder"}`, http.StatusBadRequest)
			return
		}
		limit := req.Limit
		if limit <= 0 {
			limit = 50
		}
		var err error
		ids, err = a.candidates.ListEmailIDs(r.Context(), req.AccountID, folder, limit)
		if err != nil {
			a.logger.Error(r.Context(), err, "failed to list batch candidates", "account_id", req.AccountID)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
	}

	taskID := a.svc.ClassifyBatch(r.Context(), ids)

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("sift.task.id", taskID),
		attribute.Int("sift.batch.size", len(ids)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"task_id": taskID,
		"total":   len(ids),
	})
}

func (a *API) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	task := a.runner.GetStatus(id)
	if task == nil {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(task)
}

func (a *API) handleClearTask(w http.ResponseWriter, r *http.Request) {
	a.runner.Clear(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGetClassification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("sift.email.id", id))

	st, ok, err := a.svc.State(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get classification state", "email_id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	span.SetAttributes(attribute.String("sift.email.status", string(st.Status)))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

type acceptRequest struct {
	Folder mail.Folder `json:"folder,omitempty"`
}

func (a *API) handleAccept(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req acceptRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
			return
		}
	}

	var err error
	if req.Folder != "" {
		err = a.svc.AcceptWithFolder(r.Context(), id, req.Folder)
	} else {
		err = a.svc.Accept(r.Context(), id)
	}
	a.writeActionOutcome(w, r, "accept", id, err)
}

func (a *API) handleDismiss(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a.writeActionOutcome(w, r, "dismiss", id, a.svc.Dismiss(r.Context(), id))
}

func (a *API) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := a.svc.Retry(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "retry failed", "email_id", id)
		http.Error(w, `{"error":"retry failed"}`, http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}

func (a *API) handleReclassify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := a.svc.Reclassify(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "reclassify failed", "email_id", id)
		http.Error(w, `{"error":"reclassify failed"}`, http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}

type snoozeRequest struct {
	Until  time.Time           `json:"until"`
	Reason triage.SnoozeReason `json:"reason,omitempty"`
}

func (a *API) handleSnooze(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req snoozeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if !req.Until.After(time.Now()) {
		http.Error(w, `{"error":"until must be in the future"}`, http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = triage.SnoozeManual
	}

	a.writeActionOutcome(w, r, "snooze", id, a.svc.SnoozeEmail(r.Context(), id, req.Until, req.Reason))
}

func (a *API) handleUnsnooze(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a.writeActionOutcome(w, r, "unsnooze", id, a.svc.Unsnooze(r.Context(), id))
}

func (a *API) handleReviewQueue(w http.ResponseWriter, r *http.Request) {
	a.writeQueue(w, r, "review")
}

func (a *API) handleFailedQueue(w http.ResponseWriter, r *http.Request) {
	a.writeQueue(w, r, "failed")
}

type bulkRequest struct {
	EmailIDs []string `json:"email_ids"`
}

func (a *API) handleBulkAccept(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.EmailIDs) == 0 {
		http.Error(w, `{"error":"email_ids required"}`, http.StatusBadRequest)
		return
	}

	out := a.svc.BulkAccept(r.Context(), req.EmailIDs)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (a *API) handleBulkDismiss(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.EmailIDs) == 0 {
		http.Error(w, `{"error":"email_ids required"}`, http.StatusBadRequest)
		return
	}

	out := a.svc.BulkDismiss(r.Context(), req.EmailIDs)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (a *API) handleConfusedPatterns(w http.ResponseWriter, r *http.Request) {
	minDismissals := 3
	if raw := r.URL.Query().Get("min"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, `{"error":"min must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		minDismissals = n
	}

	patterns, err := a.svc.ConfusedPatterns(r.Context(), minDismissals)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list confused patterns")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if patterns == nil {
		patterns = []*triage.ConfusedPattern{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(patterns)
}

// writeActionOutcome maps a review/snooze action error to the HTTP
// response: 404 for unknown emails, 400 for validation failures, 200
// with {"ok":true} on success.
func (a *API) writeActionOutcome(w http.ResponseWriter, r *http.Request, action, id string, err error) {
	if err != nil {
		if errors.Is(err, triage.ErrNotFound) {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		a.logger.Error(r.Context(), err, "review action failed", "action", action, "email_id", id)
		http.Error(w, `{"error":"`+action+` failed"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
}

func (a *API) writeQueue(w http.ResponseWriter, r *http.Request, which string) {
	var (
		states []*triage.State
		err    error
	)
	if which == "review" {
		states, err = a.svc.ReviewQueue(r.Context())
	} else {
		states, err = a.svc.FailedQueue(r.Context())
	}
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list queue", "queue", which)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if states == nil {
		states = []*triage.State{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(states)
}
