package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"notification-orchestrator/internal/domain"
	"notification-orchestrator/pkg/redact"
)

// ConsentChecker gates WhatsApp sends on recorded opt-in.
type ConsentChecker interface {
	HasOptedIn(ctx context.Context, tenantID, addr string) (bool, error)
}

// SessionWindow tracks the rolling conversation window per recipient.
// Inbound messages refresh it; non-template sends outside the window are
// rejected before any network call.
type SessionWindow interface {
	IsOpen(ctx context.Context, tenantID, addr string) (bool, error)
	Refresh(ctx context.Context, tenantID, addr string) error
}

// RedisSessionWindow keeps one key per (tenant, addr) with the window as
// TTL, refreshed on every inbound message.
type RedisSessionWindow struct {
	rdb    redis.UniversalClient
	window time.Duration
}

func NewRedisSessionWindow(rdb redis.UniversalClient, window time.Duration) *RedisSessionWindow {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &RedisSessionWindow{rdb: rdb, window: window}
}

func sessionKey(tenantID, addr string) string {
	return fmt.Sprintf("wa:session:%s:%s", tenantID, addr)
}

func (w *RedisSessionWindow) IsOpen(ctx context.Context, tenantID, addr string) (bool, error) {
	n, err := w.rdb.Exists(ctx, sessionKey(tenantID, addr)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (w *RedisSessionWindow) Refresh(ctx context.Context, tenantID, addr string) error {
	return w.rdb.Set(ctx, sessionKey(tenantID, addr), time.Now().UnixMilli(), w.window).Err()
}

// WhatsAppConfig holds the WhatsApp gateway credentials.
type WhatsAppConfig struct {
	BaseURL string
	Token   string
	Sender  string
	Timeout time.Duration
}

// WhatsAppAdapter delivers through a JSON WhatsApp gateway. Session
// (non-template) messages require an open conversation window.
type WhatsAppAdapter struct {
	cfg     WhatsAppConfig
	consent ConsentChecker
	window  SessionWindow
	client  *http.Client
	logger  *zap.Logger
}

func NewWhatsAppAdapter(cfg WhatsAppConfig, consent ConsentChecker, window SessionWindow, logger *zap.Logger) *WhatsAppAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WhatsAppAdapter{
		cfg:     cfg,
		consent: consent,
		window:  window,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

func (w *WhatsAppAdapter) Code() string { return "whatsapp" }

func (w *WhatsAppAdapter) ValidateConfig() error {
	if w.cfg.BaseURL == "" {
		return errors.New("whatsapp: base url not configured")
	}
	if w.cfg.Token == "" {
		return errors.New("whatsapp: token not configured")
	}
	if w.cfg.Sender == "" {
		return errors.New("whatsapp: sender not configured")
	}
	return nil
}

func (w *WhatsAppAdapter) HealthCheck() error {
	return w.ValidateConfig()
}

func (w *WhatsAppAdapter) Deliver(ctx context.Context, req Request) Result {
	if err := w.ValidateConfig(); err != nil {
		return failure(domain.ErrAuth, err)
	}

	optedIn, err := w.consent.HasOptedIn(ctx, req.TenantID, req.RecipientAddr)
	if err != nil {
		return failure(domain.ErrTransient, fmt.Errorf("whatsapp consent check: %w", err))
	}
	if !optedIn {
		return failure(domain.ErrPermanent, errors.New("whatsapp: recipient has not opted in"))
	}

	// Template sends are allowed any time; free-form session messages only
	// inside the rolling conversation window.
	if !isTemplateMessage(req) {
		open, err := w.window.IsOpen(ctx, req.TenantID, req.RecipientAddr)
		if err != nil {
			return failure(domain.ErrTransient, fmt.Errorf("whatsapp session check: %w", err))
		}
		if !open {
			return failure(domain.ErrPermanent, errors.New("whatsapp: conversation window closed for session message"))
		}
	}

	payload := map[string]any{
		"messageType": "text",
		"token":       w.cfg.Token,
		"from":        w.cfg.Sender,
		"to":          req.RecipientAddr,
		"text":        req.BodyText,
	}
	if len(req.BodyJSON) > 0 {
		payload["template"] = req.BodyJSON
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return failure(domain.ErrPermanent, fmt.Errorf("marshal whatsapp payload: %w", err))
	}

	apiURL := w.cfg.BaseURL + "/api/rest/send_message"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return failure(domain.ErrPermanent, fmt.Errorf("build whatsapp request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := w.client.Do(httpReq)
	if err != nil {
		w.logger.Warn("whatsapp http error",
			zap.String("delivery_id", req.DeliveryID),
			zap.String("recipient", redact.Addr(req.RecipientAddr)),
			zap.Error(err))
		return failure(domain.ErrTransient, fmt.Errorf("whatsapp http error: %w", err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	duration := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		category := classifyWhatsAppError(resp.StatusCode, respBody)
		w.logger.Warn("whatsapp send failed",
			zap.String("delivery_id", req.DeliveryID),
			zap.String("recipient", redact.Addr(req.RecipientAddr)),
			zap.Int("status", resp.StatusCode),
			zap.String("category", string(category)),
			zap.Duration("duration", duration))
		return failure(category, fmt.Errorf("whatsapp api error: status %d: %s", resp.StatusCode, string(respBody)))
	}

	var parsed struct {
		MessageID string `json:"message_id"`
	}
	_ = json.Unmarshal(respBody, &parsed)

	w.logger.Info("whatsapp sent",
		zap.String("delivery_id", req.DeliveryID),
		zap.String("recipient", redact.Addr(req.RecipientAddr)),
		zap.Duration("duration", duration))
	return Result{Success: true, Status: "sent", ExternalID: parsed.MessageID}
}

func isTemplateMessage(req Request) bool {
	return len(req.BodyJSON) > 0
}

// classifyWhatsAppError applies the provider error code ranges on top of
// the generic HTTP mapping: sub-codes 1000-1999 are recipient-level
// rejections and never worth retrying.
func classifyWhatsAppError(status int, body []byte) domain.ErrorCategory {
	var parsed struct {
		ErrorCode int `json:"error_code"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.ErrorCode >= 1000 && parsed.ErrorCode < 2000 {
			return domain.ErrPermanent
		}
	}
	return classifyHTTPStatus(status)
}
