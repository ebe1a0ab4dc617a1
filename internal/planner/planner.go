package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"notification-orchestrator/internal/domain"
	"notification-orchestrator/internal/preference"
	"notification-orchestrator/internal/repository"
	"notification-orchestrator/pkg/jobqueue"
	"notification-orchestrator/pkg/redact"
)

// Deduper is the check-and-claim dedup index (see internal/dedup).
type Deduper interface {
	CheckAndClaim(ctx context.Context, tenantID, recipientID, eventCode, channel string, window time.Duration) (bool, error)
	Release(ctx context.Context, tenantID, recipientID, eventCode, channel string)
}

// Planner matches a domain event against notification rules and turns each
// match into a persisted message plus one delivery job per allowed
// (recipient, channel) pair.
type Planner struct {
	rules      repository.RuleStore
	messages   repository.MessageStore
	deliveries repository.DeliveryStore
	resolver   *Resolver
	prefs      *preference.Evaluator
	dedup      Deduper
	queue      jobqueue.Queue
	logger     *zap.Logger
	now        func() time.Time
}

func NewPlanner(
	rules repository.RuleStore,
	messages repository.MessageStore,
	deliveries repository.DeliveryStore,
	resolver *Resolver,
	prefs *preference.Evaluator,
	dedup Deduper,
	queue jobqueue.Queue,
	logger *zap.Logger,
) *Planner {
	return &Planner{
		rules:      rules,
		messages:   messages,
		deliveries: deliveries,
		resolver:   resolver,
		prefs:      prefs,
		dedup:      dedup,
		queue:      queue,
		logger:     logger,
		now:        time.Now,
	}
}

// Plan runs all matching rules for the event. Rule failures are isolated:
// a rule whose condition or resolution fails is logged and skipped without
// aborting planning for the remaining rules.
func (p *Planner) Plan(ctx context.Context, ev domain.DomainEvent) ([]*domain.NotificationMessage, error) {
	rules, err := p.rules.ListEnabledByEvent(ctx, ev.TenantID, ev.EventType)
	if err != nil {
		return nil, fmt.Errorf("list rules for %s: %w", ev.EventType, err)
	}

	var messages []*domain.NotificationMessage
	for _, rule := range rules {
		msg, err := p.planRule(ctx, ev, rule)
		if err != nil {
			p.logger.Error("rule planning failed, skipping",
				zap.String("rule_code", rule.Code),
				zap.String("event_id", ev.EventID),
				zap.Error(err))
			continue
		}
		if msg != nil {
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

func (p *Planner) planRule(ctx context.Context, ev domain.DomainEvent, rule *domain.NotificationRule) (msg *domain.NotificationMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg, err = nil, fmt.Errorf("panic in rule %s: %v", rule.Code, r)
		}
	}()

	if !p.matches(ev, rule) {
		return nil, nil
	}
	matched, err := evalCondition(rule.ConditionExpr, ev)
	if err != nil {
		return nil, fmt.Errorf("condition %q: %w", rule.ConditionExpr, err)
	}
	if !matched {
		return nil, nil
	}

	resolution, err := p.resolver.Resolve(ctx, ev.TenantID, rule.RecipientRules, rule.Channels)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}

	now := p.now().UTC()
	msg = &domain.NotificationMessage{
		ID:        ulid.Make().String(),
		TenantID:  ev.TenantID,
		RuleCode:  rule.Code,
		EventType: ev.EventType,
		EventID:   ev.EventID,
		CreatedAt: now,
		Metadata: map[string]any{
			"entity_type": ev.EntityType,
			"entity_id":   ev.EntityID,
		},
	}
	msg.Steps = append(msg.Steps, domain.ExplainStep{
		Phase:     domain.PhaseRuleMatch,
		Timestamp: now,
		Input:     map[string]any{"event_type": ev.EventType, "event_id": ev.EventID},
		Output:    map[string]any{"rule_code": rule.Code, "channels": rule.Channels},
		Decision:  domain.DecisionPassed,
	})
	msg.Steps = append(msg.Steps, resolution.Steps...)

	checks := make([]preference.CheckRequest, len(resolution.Recipients))
	for i, rcpt := range resolution.Recipients {
		checks[i] = preference.CheckRequest{
			TenantID:      ev.TenantID,
			PrincipalID:   rcpt.PrincipalID,
			OrgUnitID:     rcpt.OrgUnitID,
			EventCode:     ev.EventType,
			Channel:       rcpt.Channel,
			RecipientAddr: rcpt.Address,
			Priority:      rule.Priority,
		}
	}
	results := p.prefs.CheckBatch(ctx, checks)

	// Decide every pair before persisting anything, so the stored message
	// carries the complete planning trace.
	type planned struct {
		recipient  domain.Recipient
		deferUntil *time.Time
	}
	var toCreate []planned

	for i, rcpt := range resolution.Recipients {
		res := results[i]
		stepInput := map[string]any{
			"principal_id": rcpt.PrincipalID,
			"channel":      rcpt.Channel,
		}

		if !res.Allowed {
			msg.Steps = append(msg.Steps, domain.ExplainStep{
				Phase:     domain.PhasePreference,
				Timestamp: p.now().UTC(),
				Input:     stepInput,
				Decision:  domain.DecisionBlocked,
				Reason:    res.Reason,
			})
			continue
		}

		prefDecision := domain.DecisionPassed
		if res.DeferUntil != nil {
			prefDecision = domain.DecisionDeferred
		}
		msg.Steps = append(msg.Steps, domain.ExplainStep{
			Phase:     domain.PhasePreference,
			Timestamp: p.now().UTC(),
			Input:     stepInput,
			Output:    map[string]any{"frequency": string(res.Frequency)},
			Decision:  prefDecision,
			Reason:    res.Reason,
		})

		first, err := p.dedup.CheckAndClaim(ctx, ev.TenantID, rcpt.PrincipalID, ev.EventType, rcpt.Channel, rule.DedupWindow)
		if err != nil {
			p.logger.Warn("dedup check degraded",
				zap.String("rule_code", rule.Code),
				zap.String("principal_id", rcpt.PrincipalID),
				zap.Error(err))
		}
		if !first {
			msg.Steps = append(msg.Steps, domain.ExplainStep{
				Phase:     domain.PhaseDedup,
				Timestamp: p.now().UTC(),
				Input:     stepInput,
				Decision:  domain.DecisionBlocked,
				Reason:    domain.ReasonDedupSuppressed,
			})
			continue
		}
		msg.Steps = append(msg.Steps, domain.ExplainStep{
			Phase:     domain.PhaseDedup,
			Timestamp: p.now().UTC(),
			Input:     stepInput,
			Decision:  domain.DecisionPassed,
		})

		toCreate = append(toCreate, planned{recipient: rcpt, deferUntil: res.DeferUntil})
	}

	if err := p.messages.Create(ctx, msg); err != nil {
		// Give the claims back so the next attempt for the same event is
		// not silently swallowed by the dedup window.
		for _, plan := range toCreate {
			p.dedup.Release(ctx, ev.TenantID, plan.recipient.PrincipalID, ev.EventType, plan.recipient.Channel)
		}
		return nil, fmt.Errorf("create message: %w", err)
	}

	for _, plan := range toCreate {
		if err := p.createAndEnqueue(ctx, ev, rule, msg, plan.recipient, plan.deferUntil); err != nil {
			// The delivery row (if created) stays pending; the sweep
			// worker requeues it.
			p.logger.Error("delivery enqueue failed",
				zap.String("message_id", msg.ID),
				zap.String("recipient", redact.Addr(plan.recipient.Address)),
				zap.Error(err))
		}
	}

	p.logger.Info("planned notification",
		zap.String("message_id", msg.ID),
		zap.String("rule_code", rule.Code),
		zap.String("event_id", ev.EventID),
		zap.Int("deliveries", len(toCreate)))
	return msg, nil
}

func (p *Planner) matches(ev domain.DomainEvent, rule *domain.NotificationRule) bool {
	if rule.EntityType != "" && rule.EntityType != ev.EntityType {
		return false
	}
	if rule.LifecycleState != "" {
		state, _ := ev.Data["lifecycle_state"].(string)
		if rule.LifecycleState != state {
			return false
		}
	}
	return true
}

func (p *Planner) createAndEnqueue(ctx context.Context, ev domain.DomainEvent, rule *domain.NotificationRule, msg *domain.NotificationMessage, rcpt domain.Recipient, deferUntil *time.Time) error {
	delivery := &domain.NotificationDelivery{
		ID:            uuid.New().String(),
		MessageID:     msg.ID,
		TenantID:      ev.TenantID,
		Channel:       rcpt.Channel,
		ProviderCode:  rcpt.Channel,
		RecipientID:   rcpt.PrincipalID,
		RecipientAddr: rcpt.Address,
		TemplateKey:   rule.TemplateKey,
		Priority:      rule.Priority,
		Status:        domain.DeliveryPending,
		CreatedAt:     p.now().UTC(),
	}

	job := domain.DeliveryJob{
		TenantID:      delivery.TenantID,
		MessageID:     delivery.MessageID,
		DeliveryID:    delivery.ID,
		Channel:       delivery.Channel,
		ProviderCode:  delivery.ProviderCode,
		RecipientID:   delivery.RecipientID,
		RecipientAddr: delivery.RecipientAddr,
		TemplateKey:   delivery.TemplateKey,
		Priority:      rule.Priority,
		EventCode:     ev.EventType,
		Metadata: map[string]any{
			"rule_code": rule.Code,
			"event_id":  ev.EventID,
		},
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal delivery job: %w", err)
	}

	// The row keeps its own job payload so the sweep worker can requeue a
	// stuck delivery without losing the event context.
	delivery.JobPayload = payload
	if err := p.deliveries.Create(ctx, delivery); err != nil {
		return fmt.Errorf("create delivery: %w", err)
	}

	opts := jobqueue.Options{
		Priority: queuePriority(rule.Priority),
		Attempts: 1,
	}
	if deferUntil != nil {
		if d := time.Until(*deferUntil); d > 0 {
			opts.Delay = d
		}
	}
	if err := p.queue.Enqueue(ctx, jobqueue.Job{Type: jobqueue.TypeDeliverNotification, Payload: payload}, opts); err != nil {
		return fmt.Errorf("enqueue delivery job: %w", err)
	}

	if err := p.deliveries.MarkQueued(ctx, ev.TenantID, delivery.ID); err != nil {
		p.logger.Warn("mark queued failed", zap.String("delivery_id", delivery.ID), zap.Error(err))
	}
	return nil
}

func queuePriority(rulePriority string) string {
	switch rulePriority {
	case domain.PriorityCritical:
		return "critical"
	case domain.PriorityHigh:
		return "high"
	case domain.PriorityLow:
		return "low"
	default:
		return "normal"
	}
}
