package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"notification-orchestrator/internal/domain"
	"notification-orchestrator/pkg/redact"
)

// SMSConfig holds the HTTP SMS gateway credentials.
type SMSConfig struct {
	BaseURL  string
	UserID   string
	Password string
	SenderID string
	APIKey   string
	Timeout  time.Duration
}

// SMSAdapter delivers through a form-POST SMS gateway.
type SMSAdapter struct {
	cfg    SMSConfig
	client *http.Client
	logger *zap.Logger
}

func NewSMSAdapter(cfg SMSConfig, logger *zap.Logger) *SMSAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMSAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (s *SMSAdapter) Code() string { return "sms" }

func (s *SMSAdapter) ValidateConfig() error {
	if s.cfg.BaseURL == "" {
		return errors.New("sms: base url not configured")
	}
	if s.cfg.APIKey == "" && (s.cfg.UserID == "" || s.cfg.Password == "") {
		return errors.New("sms: no api key or userid/password configured")
	}
	if s.cfg.SenderID == "" {
		return errors.New("sms: sender id not configured")
	}
	return nil
}

func (s *SMSAdapter) HealthCheck() error {
	return s.ValidateConfig()
}

func (s *SMSAdapter) Deliver(ctx context.Context, req Request) Result {
	if err := s.ValidateConfig(); err != nil {
		return failure(domain.ErrAuth, err)
	}

	form := url.Values{}
	form.Set("userid", s.cfg.UserID)
	form.Set("password", s.cfg.Password)
	form.Set("senderid", s.cfg.SenderID)
	form.Set("sendMethod", "quick")
	form.Set("msgType", "text")
	form.Set("msg", req.BodyText)
	form.Set("mobile", req.RecipientAddr)
	form.Set("duplicatecheck", "true")
	form.Set("output", "json")

	apiURL := s.cfg.BaseURL + "/SMSApi/send"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return failure(domain.ErrPermanent, fmt.Errorf("build sms request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if s.cfg.APIKey != "" {
		httpReq.Header.Set("apikey", s.cfg.APIKey)
	}

	start := time.Now()
	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.logger.Warn("sms http error",
			zap.String("delivery_id", req.DeliveryID),
			zap.String("recipient", redact.Addr(req.RecipientAddr)),
			zap.Error(err))
		return failure(domain.ErrTransient, fmt.Errorf("sms http error: %w", err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	duration := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		category := classifyHTTPStatus(resp.StatusCode)
		s.logger.Warn("sms send failed",
			zap.String("delivery_id", req.DeliveryID),
			zap.String("recipient", redact.Addr(req.RecipientAddr)),
			zap.Int("status", resp.StatusCode),
			zap.String("category", string(category)),
			zap.Duration("duration", duration))
		return failure(category, fmt.Errorf("sms api error: status %d: %s", resp.StatusCode, string(body)))
	}

	externalID := extractExternalID(body)
	s.logger.Info("sms sent",
		zap.String("delivery_id", req.DeliveryID),
		zap.String("recipient", redact.Addr(req.RecipientAddr)),
		zap.Duration("duration", duration))
	return Result{Success: true, Status: "sent", ExternalID: externalID}
}

// extractExternalID pulls the provider message id out of the JSON response
// when present; an empty id is fine, callbacks just won't match.
func extractExternalID(body []byte) string {
	var parsed struct {
		MessageID string `json:"messageId"`
		TransID   string `json:"transactionId"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if parsed.MessageID != "" {
		return parsed.MessageID
	}
	return parsed.TransID
}
