package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"notification-orchestrator/internal/domain"
	"notification-orchestrator/pkg/jobqueue"
)

type recordingQueue struct {
	jobs []jobqueue.Job
}

func (q *recordingQueue) Enqueue(_ context.Context, job jobqueue.Job, _ jobqueue.Options) error {
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) Dequeue(context.Context, time.Duration) (*jobqueue.Job, error) {
	return nil, nil
}

type recordingWindow struct {
	refreshed []string
}

func (w *recordingWindow) IsOpen(context.Context, string, string) (bool, error) { return true, nil }

func (w *recordingWindow) Refresh(_ context.Context, tenantID, addr string) error {
	w.refreshed = append(w.refreshed, tenantID+"/"+addr)
	return nil
}

func webhookRouter(q jobqueue.Queue, window *recordingWindow, secret string) http.Handler {
	h := NewWebhookHandler(q, window, secret, zap.NewNop())
	r := chi.NewRouter()
	r.Post("/webhooks/{provider}/status", h.Status)
	r.Post("/webhooks/whatsapp/inbound", h.Inbound)
	return r
}

func TestStatusWebhookEnqueuesCallback(t *testing.T) {
	q := &recordingQueue{}
	r := webhookRouter(q, &recordingWindow{}, "s3cret")

	body := `{"message_id":"ext-1","status":"delivered"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sms/status", strings.NewReader(body))
	req.Header.Set("X-Webhook-Secret", "s3cret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(q.jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(q.jobs))
	}
	if q.jobs[0].Type != jobqueue.TypeProcessCallback {
		t.Errorf("job type = %q", q.jobs[0].Type)
	}

	var cb domain.ProviderCallback
	if err := json.Unmarshal(q.jobs[0].Payload, &cb); err != nil {
		t.Fatal(err)
	}
	if cb.ProviderCode != "sms" {
		t.Errorf("provider = %q, want the URL segment", cb.ProviderCode)
	}
	if cb.ExternalID != "ext-1" || cb.Status != "delivered" {
		t.Errorf("callback = %+v", cb)
	}
}

func TestStatusWebhookRejectsBadSecret(t *testing.T) {
	q := &recordingQueue{}
	r := webhookRouter(q, &recordingWindow{}, "s3cret")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/sms/status",
		strings.NewReader(`{"message_id":"ext-1","status":"delivered"}`))
	req.Header.Set("X-Webhook-Secret", "wrong")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(q.jobs) != 0 {
		t.Fatal("no job may be enqueued for a rejected webhook")
	}
}

func TestStatusWebhookRejectsIncompletePayload(t *testing.T) {
	q := &recordingQueue{}
	r := webhookRouter(q, &recordingWindow{}, "")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/sms/status",
		strings.NewReader(`{"status":"delivered"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestInboundWebhookRefreshesSessionWindow(t *testing.T) {
	window := &recordingWindow{}
	r := webhookRouter(&recordingQueue{}, window, "")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp/inbound",
		strings.NewReader(`{"tenant_id":"t1","from":"+15550001111"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(window.refreshed) != 1 || window.refreshed[0] != "t1/+15550001111" {
		t.Errorf("refreshed = %v", window.refreshed)
	}
}
