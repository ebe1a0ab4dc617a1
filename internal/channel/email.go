package channel

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"notification-orchestrator/internal/domain"
	"notification-orchestrator/pkg/redact"
)

// EmailConfig holds SMTP credentials. Implicit TLS (port 465).
type EmailConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Timeout  time.Duration
}

// EmailAdapter delivers over SMTP with implicit TLS.
type EmailAdapter struct {
	cfg    EmailConfig
	logger *zap.Logger
}

func NewEmailAdapter(cfg EmailConfig, logger *zap.Logger) *EmailAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &EmailAdapter{cfg: cfg, logger: logger}
}

func (e *EmailAdapter) Code() string { return "email" }

func (e *EmailAdapter) ValidateConfig() error {
	if e.cfg.Host == "" || e.cfg.Port == "" {
		return errors.New("email: smtp host/port not configured")
	}
	if e.cfg.Username == "" || e.cfg.Password == "" {
		return errors.New("email: smtp credentials not configured")
	}
	return nil
}

func (e *EmailAdapter) HealthCheck() error {
	return e.ValidateConfig()
}

func (e *EmailAdapter) Deliver(ctx context.Context, req Request) Result {
	if err := e.ValidateConfig(); err != nil {
		return failure(domain.ErrAuth, err)
	}

	body := req.BodyHTML
	contentType := "text/html"
	if body == "" {
		body = req.BodyText
		contentType = "text/plain"
	}

	msg := []byte(
		fmt.Sprintf("From: %s\r\n", e.cfg.Username) +
			fmt.Sprintf("To: %s\r\n", req.RecipientAddr) +
			fmt.Sprintf("Subject: %s\r\n", req.Subject) +
			"MIME-Version: 1.0\r\n" +
			fmt.Sprintf("Content-Type: %s; charset=\"utf-8\"\r\n", contentType) +
			"\r\n" +
			body,
	)

	start := time.Now()
	err := e.send(ctx, req.RecipientAddr, msg)
	if err != nil {
		category := classifySMTPError(err)
		e.logger.Warn("email send failed",
			zap.String("delivery_id", req.DeliveryID),
			zap.String("recipient", redact.Addr(req.RecipientAddr)),
			zap.String("category", string(category)),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return failure(category, err)
	}

	e.logger.Info("email sent",
		zap.String("delivery_id", req.DeliveryID),
		zap.String("recipient", redact.Addr(req.RecipientAddr)),
		zap.Duration("duration", time.Since(start)))
	return Result{Success: true, Status: "sent"}
}

func (e *EmailAdapter) send(ctx context.Context, to string, msg []byte) error {
	serverAddr := e.cfg.Host + ":" + e.cfg.Port

	dialer := &net.Dialer{Timeout: e.cfg.Timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", serverAddr, &tls.Config{ServerName: e.cfg.Host})
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, e.cfg.Host)
	if err != nil {
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Quit()

	auth := smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}

	if err := client.Mail(e.cfg.Username); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	return w.Close()
}

// classifySMTPError buckets SMTP failures: auth failures are auth, bad
// recipients are permanent, everything network-shaped is transient.
func classifySMTPError(err error) domain.ErrorCategory {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "smtp auth"):
		return domain.ErrAuth
	case strings.Contains(msg, "smtp rcpt"):
		return domain.ErrPermanent
	default:
		return domain.ErrTransient
	}
}
