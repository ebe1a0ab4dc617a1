package http

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"notification-orchestrator/internal/channel"
	"notification-orchestrator/internal/domain"
	"notification-orchestrator/pkg/jobqueue"
	"notification-orchestrator/pkg/redact"
	"notification-orchestrator/pkg/response"
)

// WebhookHandler receives provider callbacks. Processing is asynchronous:
// the handler validates the shared secret, enqueues a process-callback job,
// and acks 202 so the provider never sees our processing latency.
type WebhookHandler struct {
	queue  jobqueue.Queue
	window channel.SessionWindow
	secret string
	logger *zap.Logger
}

func NewWebhookHandler(queue jobqueue.Queue, window channel.SessionWindow, secret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{queue: queue, window: window, secret: secret, logger: logger}
}

func (h *WebhookHandler) authorized(r *http.Request) bool {
	if h.secret == "" {
		return true
	}
	got := r.Header.Get("X-Webhook-Secret")
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) == 1
}

// Status handles POST /webhooks/{provider}/status.
func (h *WebhookHandler) Status(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		response.Error(w, http.StatusUnauthorized, "invalid webhook secret")
		return
	}
	provider := chi.URLParam(r, "provider")

	var cb domain.ProviderCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid callback payload")
		return
	}
	cb.ProviderCode = provider
	if cb.Timestamp.IsZero() {
		cb.Timestamp = time.Now().UTC()
	}
	if cb.ExternalID == "" || cb.Status == "" {
		response.Error(w, http.StatusBadRequest, "message_id and status are required")
		return
	}

	payload, err := json.Marshal(cb)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "encode callback")
		return
	}
	err = h.queue.Enqueue(r.Context(),
		jobqueue.Job{Type: jobqueue.TypeProcessCallback, Payload: payload},
		jobqueue.Options{Priority: "high"})
	if err != nil {
		h.logger.Error("enqueue callback failed",
			zap.String("provider", provider),
			zap.String("external_id", cb.ExternalID),
			zap.Error(err))
		response.Error(w, http.StatusServiceUnavailable, "callback not accepted")
		return
	}

	response.JSON(w, http.StatusAccepted, map[string]string{"state": "accepted"})
}

// Inbound handles POST /webhooks/whatsapp/inbound. An inbound message
// reopens the sender's conversation window; the message body itself is not
// stored here.
func (h *WebhookHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		response.Error(w, http.StatusUnauthorized, "invalid webhook secret")
		return
	}

	var in struct {
		TenantID string `json:"tenant_id"`
		From     string `json:"from"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.TenantID == "" || in.From == "" {
		response.Error(w, http.StatusBadRequest, "tenant_id and from are required")
		return
	}

	if err := h.window.Refresh(r.Context(), in.TenantID, in.From); err != nil {
		h.logger.Error("session window refresh failed",
			zap.String("from", redact.Addr(in.From)), zap.Error(err))
		response.Error(w, http.StatusServiceUnavailable, "session window unavailable")
		return
	}

	response.JSON(w, http.StatusAccepted, map[string]string{"state": "accepted"})
}
