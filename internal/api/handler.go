// Package api exposes the scheduler's HTTP surface: document-change
// ingestion from the record store and the operator views over alerts.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vigneshrao/docwatch/internal/db"
	"github.com/vigneshrao/docwatch/internal/lifecycle"
)

// Repository defines the read side the handlers need from the store.
type Repository interface {
	GetDocument(ctx context.Context, id uuid.UUID) (*db.Document, error)
	ListAlertsByDocument(ctx context.Context, documentID uuid.UUID) ([]*db.Alert, error)
	ListFailedAlerts(ctx context.Context, limit, offset int) ([]*db.Alert, error)
	RequeueAlert(ctx context.Context, id uuid.UUID) error
}

// Scheduler is the write side: a document change flows through
// planning and reconciliation.
type Scheduler interface {
	OnDocumentChanged(ctx context.Context, doc *db.Document) error
}

// DocumentRequest is the incoming document-change body.
type DocumentRequest struct {
	Name       string  `json:"name"`
	ValidUntil string  `json:"valid_until"` // YYYY-MM-DD
	LeadTimes  []int32 `json:"lead_times,omitempty"`
	Channel    string  `json:"channel"`
	Recipient  string  `json:"recipient"`
}

// DocumentResponse is a document plus its lifecycle status computed at
// read time; status is derived, never stored.
type DocumentResponse struct {
	*db.Document
	Status lifecycle.Status `json:"status"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger    *zap.Logger
	repo      Repository
	scheduler Scheduler
	now       func() time.Time
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, repo Repository, scheduler Scheduler) *Handler {
	return &Handler{
		logger:    logger,
		repo:      repo,
		scheduler: scheduler,
		now:       time.Now,
	}
}

// UpsertDocument handles PUT /v1/documents/{id}: the record store (or
// an operator) reports a created or changed document and the alert plan
// is reconciled before the request returns.
func (h *Handler) UpsertDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid document id", "id must be a valid UUID")
		return
	}

	var req DocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.Name == "" || req.ValidUntil == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "name and valid_until are required")
		return
	}

	validUntil, err := time.ParseInLocation("2006-01-02", req.ValidUntil, time.UTC)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid valid_until", "valid_until must be a YYYY-MM-DD date")
		return
	}

	if req.Channel != "" && req.Channel != db.ChannelEmail && req.Channel != db.ChannelSMS && req.Channel != db.ChannelWebhook {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel", "channel must be email, sms, or webhook")
		return
	}

	doc := &db.Document{
		ID:         id,
		Name:       req.Name,
		ValidUntil: validUntil,
		LeadTimes:  req.LeadTimes,
		Channel:    req.Channel,
		Recipient:  req.Recipient,
	}

	if err := h.scheduler.OnDocumentChanged(ctx, doc); err != nil {
		if errors.Is(err, lifecycle.ErrInvalidLeadTime) {
			h.writeError(w, http.StatusBadRequest, "invalid_lead_times", "Invalid lead time configuration", err.Error())
			return
		}
		if errors.Is(err, db.ErrConflict) {
			h.writeError(w, http.StatusConflict, "reconcile_conflict",
				"Concurrent reconciliation in progress", "Retry the request")
			return
		}
		h.logger.Error("failed to reconcile document",
			zap.Error(err),
			zap.String("document_id", id.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to reconcile document", "")
		return
	}

	h.writeJSON(w, http.StatusOK, DocumentResponse{
		Document: doc,
		Status:   lifecycle.StatusOf(h.now(), doc.ValidUntil),
	})
}

// GetDocument handles GET /v1/documents/{id}
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid document id", "id must be a valid UUID")
		return
	}

	doc, err := h.repo.GetDocument(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Document not found", "")
		return
	}
	if err != nil {
		h.logger.Error("failed to get document", zap.Error(err), zap.String("document_id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load document", "")
		return
	}

	h.writeJSON(w, http.StatusOK, DocumentResponse{
		Document: doc,
		Status:   lifecycle.StatusOf(h.now(), doc.ValidUntil),
	})
}

// ListDocumentAlerts handles GET /v1/documents/{id}/alerts
func (h *Handler) ListDocumentAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid document id", "id must be a valid UUID")
		return
	}

	alerts, err := h.repo.ListAlertsByDocument(ctx, id)
	if err != nil {
		h.logger.Error("failed to list alerts", zap.Error(err), zap.String("document_id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list alerts", "")
		return
	}
	if alerts == nil {
		alerts = []*db.Alert{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// ListFailedAlerts handles GET /v1/alerts/failed, the operator surface
// for alerts that exhausted their retry cap.
func (h *Handler) ListFailedAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid limit", "limit must be 1-500")
			return
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid offset", "offset must be >= 0")
			return
		}
		offset = n
	}

	alerts, err := h.repo.ListFailedAlerts(ctx, limit, offset)
	if err != nil {
		h.logger.Error("failed to list failed alerts", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list alerts", "")
		return
	}
	if alerts == nil {
		alerts = []*db.Alert{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// RequeueAlert handles POST /v1/alerts/{id}/requeue: an operator puts a
// failed alert back into rotation with a fresh attempt budget.
func (h *Handler) RequeueAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid alert id", "id must be a valid UUID")
		return
	}

	if err := h.repo.RequeueAlert(ctx, id); err != nil {
		if errors.Is(err, db.ErrConflict) {
			h.writeError(w, http.StatusConflict, "invalid_state", "Alert is not in the failed state", "")
			return
		}
		h.logger.Error("failed to requeue alert", zap.Error(err), zap.String("alert_id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to requeue alert", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"id": id.String(), "state": db.StatePending})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
