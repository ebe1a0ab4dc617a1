package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"notification-orchestrator/internal/dlq"
	"notification-orchestrator/internal/domain"
	"notification-orchestrator/pkg/response"
	"notification-orchestrator/pkg/xerrors"
)

const (
	defaultDlqPageSize = 50
	maxDlqPageSize     = 500
	defaultReplayLimit = 100
)

// DlqHandler is the operator surface over the dead letter queue.
type DlqHandler struct {
	manager *dlq.Manager
	logger  *zap.Logger
}

func NewDlqHandler(manager *dlq.Manager, logger *zap.Logger) *DlqHandler {
	return &DlqHandler{manager: manager, logger: logger}
}

type dlqEntryView struct {
	ID            string             `json:"id"`
	DeliveryID    string             `json:"delivery_id"`
	Channel       string             `json:"channel"`
	LastError     string             `json:"last_error"`
	ErrorCategory string             `json:"error_category"`
	AttemptCount  int                `json:"attempt_count"`
	CreatedAt     time.Time          `json:"created_at"`
	ReplayedAt    *time.Time         `json:"replayed_at,omitempty"`
	ReplayedBy    *string            `json:"replayed_by,omitempty"`
	Payload       domain.DeliveryJob `json:"payload"`
}

func toDlqView(e *domain.DlqEntry) dlqEntryView {
	return dlqEntryView{
		ID:            e.ID,
		DeliveryID:    e.Payload.DeliveryID,
		Channel:       e.Payload.Channel,
		LastError:     e.LastError,
		ErrorCategory: string(e.ErrorCategory),
		AttemptCount:  e.AttemptCount,
		CreatedAt:     e.CreatedAt,
		ReplayedAt:    e.ReplayedAt,
		ReplayedBy:    e.ReplayedBy,
		Payload:       e.Payload,
	}
}

// List handles GET /admin/dlq.
func (h *DlqHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)
	if tenantID == "" {
		response.Error(w, http.StatusBadRequest, "X-Tenant-ID header is required")
		return
	}

	limit := queryInt(r, "limit", defaultDlqPageSize)
	if limit > maxDlqPageSize {
		limit = maxDlqPageSize
	}
	offset := queryInt(r, "offset", 0)

	entries, err := h.manager.List(r.Context(), tenantID, limit, offset)
	if err != nil {
		h.logger.Error("dlq list failed", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "failed to list dlq entries")
		return
	}

	views := make([]dlqEntryView, len(entries))
	for i, e := range entries {
		views[i] = toDlqView(e)
	}
	response.JSON(w, http.StatusOK, views)
}

// Get handles GET /admin/dlq/{id}.
func (h *DlqHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)
	if tenantID == "" {
		response.Error(w, http.StatusBadRequest, "X-Tenant-ID header is required")
		return
	}

	entry, err := h.manager.Get(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "dlq entry not found")
			return
		}
		h.logger.Error("dlq get failed", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "failed to load dlq entry")
		return
	}
	response.JSON(w, http.StatusOK, toDlqView(entry))
}

// Retry handles POST /admin/dlq/{id}/retry.
func (h *DlqHandler) Retry(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)
	if tenantID == "" {
		response.Error(w, http.StatusBadRequest, "X-Tenant-ID header is required")
		return
	}

	replayed, err := h.manager.Retry(r.Context(), tenantID, chi.URLParam(r, "id"), operatorFrom(r))
	if err != nil {
		h.logger.Error("dlq retry failed", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "failed to replay dlq entry")
		return
	}
	if !replayed {
		response.Error(w, http.StatusNotFound, "dlq entry not found")
		return
	}
	response.JSON(w, http.StatusOK, map[string]bool{"replayed": true})
}

// BulkReplay handles POST /admin/dlq/replay.
func (h *DlqHandler) BulkReplay(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)
	if tenantID == "" {
		response.Error(w, http.StatusBadRequest, "X-Tenant-ID header is required")
		return
	}

	var body struct {
		Limit int `json:"limit"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if body.Limit <= 0 {
		body.Limit = defaultReplayLimit
	}

	result, err := h.manager.BulkReplay(r.Context(), tenantID, operatorFrom(r), body.Limit)
	if err != nil {
		h.logger.Error("dlq bulk replay failed", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "bulk replay failed")
		return
	}
	response.JSON(w, http.StatusOK, result)
}

func tenantFrom(r *http.Request) string {
	return r.Header.Get("X-Tenant-ID")
}

func operatorFrom(r *http.Request) string {
	if op := r.Header.Get("X-Operator-ID"); op != "" {
		return op
	}
	return "unknown"
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}
