package explain

import (
	"context"
	"fmt"

	"notification-orchestrator/internal/domain"
	"notification-orchestrator/internal/repository"
	"notification-orchestrator/pkg/redact"
)

// Service assembles the decision path of a message: the planning steps
// stored at plan time plus one synthesized delivery step per delivery row.
type Service struct {
	messages   repository.MessageStore
	deliveries repository.DeliveryStore
}

func NewService(messages repository.MessageStore, deliveries repository.DeliveryStore) *Service {
	return &Service{messages: messages, deliveries: deliveries}
}

// Trace returns the full explain trace for a message. Stored planning steps
// are returned as-is; delivery steps reflect the current delivery rows, so
// the same trace asked twice can differ as deliveries settle.
func (s *Service) Trace(ctx context.Context, tenantID, messageID string) (*domain.ExplainTrace, error) {
	msg, err := s.messages.GetByID(ctx, tenantID, messageID)
	if err != nil {
		return nil, fmt.Errorf("load message %s: %w", messageID, err)
	}

	deliveries, err := s.deliveries.ListByMessage(ctx, tenantID, messageID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries for %s: %w", messageID, err)
	}

	trace := &domain.ExplainTrace{
		MessageID: msg.ID,
		TenantID:  msg.TenantID,
		EventType: msg.EventType,
		EventID:   msg.EventID,
		RuleCode:  msg.RuleCode,
		Steps:     append([]domain.ExplainStep(nil), msg.Steps...),
	}
	for _, d := range deliveries {
		trace.Steps = append(trace.Steps, deliveryStep(d))
	}
	return trace, nil
}

func deliveryStep(d *domain.NotificationDelivery) domain.ExplainStep {
	step := domain.ExplainStep{
		Phase:     domain.PhaseDelivery,
		Timestamp: d.CreatedAt,
		Input: map[string]any{
			"delivery_id":  d.ID,
			"channel":      d.Channel,
			"recipient_id": d.RecipientID,
			"recipient":    redact.Addr(d.RecipientAddr),
		},
		Output: map[string]any{
			"status":   string(d.Status),
			"attempts": d.AttemptCount,
		},
	}
	if d.SentAt != nil {
		step.Timestamp = *d.SentAt
	}

	switch d.Status {
	case domain.DeliverySent, domain.DeliveryDelivered:
		step.Decision = domain.DecisionPassed
	case domain.DeliveryPending, domain.DeliveryQueued:
		step.Decision = domain.DecisionDeferred
	default:
		step.Decision = domain.DecisionBlocked
		if d.LastError != nil {
			step.Reason = *d.LastError
			if step.Reason == domain.ReasonDigestStaged {
				// Not a failure: the delivery moved to the digest path.
				step.Decision = domain.DecisionStaged
			}
		}
	}
	return step
}
