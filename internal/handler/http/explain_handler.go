package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"notification-orchestrator/internal/explain"
	"notification-orchestrator/pkg/response"
	"notification-orchestrator/pkg/xerrors"
)

// ExplainHandler serves assembled decision traces.
type ExplainHandler struct {
	service *explain.Service
	logger  *zap.Logger
}

func NewExplainHandler(service *explain.Service, logger *zap.Logger) *ExplainHandler {
	return &ExplainHandler{service: service, logger: logger}
}

// Trace handles GET /messages/{id}/explain.
func (h *ExplainHandler) Trace(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)
	if tenantID == "" {
		response.Error(w, http.StatusBadRequest, "X-Tenant-ID header is required")
		return
	}

	trace, err := h.service.Trace(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "message not found")
			return
		}
		h.logger.Error("explain trace failed", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "failed to build trace")
		return
	}
	response.JSON(w, http.StatusOK, trace)
}
