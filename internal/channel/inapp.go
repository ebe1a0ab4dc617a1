package channel

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"notification-orchestrator/internal/domain"
	"notification-orchestrator/pkg/ws"
)

// inappPayload is the wire form pushed to websocket clients.
type inappPayload struct {
	DeliveryID string         `json:"delivery_id"`
	Subject    string         `json:"subject,omitempty"`
	Body       string         `json:"body"`
	Data       map[string]any `json:"data,omitempty"`
}

// InAppAdapter fans a notification out to the recipient's live websocket
// connections. The recipient address is the principal id. A recipient with
// no open connection still counts as sent; there is nothing to retry.
type InAppAdapter struct {
	hub    *ws.Hub
	logger *zap.Logger
}

func NewInAppAdapter(hub *ws.Hub, logger *zap.Logger) *InAppAdapter {
	return &InAppAdapter{hub: hub, logger: logger}
}

func (a *InAppAdapter) Code() string { return "inapp" }

func (a *InAppAdapter) ValidateConfig() error {
	if a.hub == nil {
		return errors.New("inapp: hub not configured")
	}
	return nil
}

func (a *InAppAdapter) HealthCheck() error {
	return a.ValidateConfig()
}

func (a *InAppAdapter) Deliver(ctx context.Context, req Request) Result {
	if err := a.ValidateConfig(); err != nil {
		return failure(domain.ErrAuth, err)
	}

	sent := a.hub.Send(req.TenantID, req.RecipientAddr, inappPayload{
		DeliveryID: req.DeliveryID,
		Subject:    req.Subject,
		Body:       req.BodyText,
		Data:       req.BodyJSON,
	})
	a.logger.Debug("inapp delivered",
		zap.String("delivery_id", req.DeliveryID),
		zap.Int("connections", sent))
	return Result{Success: true, Status: "sent"}
}
