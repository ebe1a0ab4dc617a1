package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"notification-orchestrator/internal/domain"
	"notification-orchestrator/internal/preference"
	"notification-orchestrator/internal/repository"
	"notification-orchestrator/pkg/jobqueue"
	"notification-orchestrator/pkg/template"
)

// digestTemplateKey renders the batched body for every channel.
const digestTemplateKey = "digest"

// Service buffers deferred deliveries and flushes them as one batched
// notification per (tenant, recipient, channel) group when the frequency
// tier comes due.
type Service struct {
	staging    repository.DigestStore
	deliveries repository.DeliveryStore
	prefs      *preference.Evaluator
	templates  *template.Service
	queue      jobqueue.Queue
	logger     *zap.Logger
	retention  time.Duration
	now        func() time.Time
}

func NewService(
	staging repository.DigestStore,
	deliveries repository.DeliveryStore,
	prefs *preference.Evaluator,
	templates *template.Service,
	queue jobqueue.Queue,
	retention time.Duration,
	logger *zap.Logger,
) *Service {
	return &Service{
		staging:    staging,
		deliveries: deliveries,
		prefs:      prefs,
		templates:  templates,
		queue:      queue,
		logger:     logger,
		retention:  retention,
		now:        time.Now,
	}
}

// Stage parks a delivery job for the recipient's next digest flush.
func (s *Service) Stage(ctx context.Context, job domain.DeliveryJob, frequency domain.Frequency) error {
	entry := &domain.DigestEntry{
		ID:          uuid.New().String(),
		TenantID:    job.TenantID,
		RecipientID: job.RecipientID,
		Channel:     job.Channel,
		Frequency:   frequency,
		Payload:     job,
		StagedAt:    s.now().UTC(),
	}
	if err := s.staging.Stage(ctx, entry); err != nil {
		return fmt.Errorf("stage digest entry for delivery %s: %w", job.DeliveryID, err)
	}
	s.logger.Debug("delivery staged for digest",
		zap.String("delivery_id", job.DeliveryID),
		zap.String("frequency", string(frequency)))
	return nil
}

// Flush drains due entries for one frequency tier, grouped per
// (tenant, recipient, channel). Preferences are re-checked at flush time:
// a now-blocked group is dropped, a group in quiet hours stays staged for
// the next flush. Flushing is idempotent because MarkDelivered only touches
// still-pending rows.
func (s *Service) Flush(ctx context.Context, frequency domain.Frequency, limit int) error {
	entries, err := s.staging.ListDue(ctx, frequency, limit)
	if err != nil {
		return fmt.Errorf("list due digests: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	type groupKey struct {
		tenantID    string
		recipientID string
		channel     string
	}
	groups := make(map[groupKey][]*domain.DigestEntry)
	var order []groupKey
	for _, e := range entries {
		k := groupKey{e.TenantID, e.RecipientID, e.Channel}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], e)
	}

	for _, k := range order {
		if err := s.flushGroup(ctx, groups[k]); err != nil {
			s.logger.Error("digest group flush failed",
				zap.String("recipient_id", k.recipientID),
				zap.String("channel", k.channel),
				zap.Error(err))
		}
	}
	return nil
}

func (s *Service) flushGroup(ctx context.Context, entries []*domain.DigestEntry) error {
	first := entries[0].Payload

	check := s.prefs.Check(ctx, preference.CheckRequest{
		TenantID:      first.TenantID,
		PrincipalID:   first.RecipientID,
		EventCode:     first.EventCode,
		Channel:       first.Channel,
		RecipientAddr: first.RecipientAddr,
		Priority:      domain.PriorityNormal,
	})
	if !check.Allowed {
		// The recipient opted out since staging; drop the batch.
		s.logger.Info("digest group dropped by preference",
			zap.String("recipient_id", first.RecipientID),
			zap.String("reason", check.Reason))
		return s.staging.MarkDelivered(ctx, entryIDs(entries))
	}
	if check.DeferUntil != nil {
		// Still in quiet hours; leave staged for the next flush.
		return nil
	}

	items := make([]map[string]any, len(entries))
	for i, e := range entries {
		items[i] = map[string]any{
			"event_code": e.Payload.EventCode,
			"subject":    e.Payload.Subject,
			"body":       e.Payload.BodyText,
			"staged_at":  e.StagedAt,
			"metadata":   e.Payload.Metadata,
		}
	}
	rendered, err := s.templates.Render(first.Channel, digestTemplateKey, map[string]any{
		"count": len(entries),
		"items": items,
	})
	if err != nil {
		return fmt.Errorf("render digest: %w", err)
	}

	delivery := &domain.NotificationDelivery{
		ID:            uuid.New().String(),
		MessageID:     first.MessageID,
		TenantID:      first.TenantID,
		Channel:       first.Channel,
		ProviderCode:  first.ProviderCode,
		RecipientID:   first.RecipientID,
		RecipientAddr: first.RecipientAddr,
		TemplateKey:   digestTemplateKey,
		Priority:      domain.PriorityNormal,
		Status:        domain.DeliveryPending,
		CreatedAt:     s.now().UTC(),
	}
	job := domain.DeliveryJob{
		TenantID:      first.TenantID,
		MessageID:     first.MessageID,
		DeliveryID:    delivery.ID,
		Channel:       first.Channel,
		ProviderCode:  first.ProviderCode,
		RecipientID:   first.RecipientID,
		RecipientAddr: first.RecipientAddr,
		TemplateKey:   digestTemplateKey,
		Priority:      domain.PriorityNormal,
		Subject:       rendered.Subject,
		BodyText:      rendered.BodyText,
		Metadata:      map[string]any{"digest_count": len(entries)},
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal digest job: %w", err)
	}
	// The batched body exists only in this payload; keeping it on the row
	// lets the sweep worker requeue the digest without re-rendering.
	delivery.JobPayload = payload
	if err := s.deliveries.Create(ctx, delivery); err != nil {
		return fmt.Errorf("create digest delivery: %w", err)
	}
	if err := s.queue.Enqueue(ctx,
		jobqueue.Job{Type: jobqueue.TypeDeliverNotification, Payload: payload},
		jobqueue.Options{Priority: "normal", Attempts: 1},
	); err != nil {
		return fmt.Errorf("enqueue digest job: %w", err)
	}

	if err := s.deliveries.MarkQueued(ctx, first.TenantID, delivery.ID); err != nil {
		s.logger.Warn("mark digest delivery queued failed",
			zap.String("delivery_id", delivery.ID), zap.Error(err))
	}
	if err := s.staging.MarkDelivered(ctx, entryIDs(entries)); err != nil {
		return fmt.Errorf("mark digest entries delivered: %w", err)
	}

	s.logger.Info("digest flushed",
		zap.String("recipient_id", first.RecipientID),
		zap.String("channel", first.Channel),
		zap.Int("entries", len(entries)))
	return nil
}

// Cleanup removes delivered staging rows older than the retention window.
func (s *Service) Cleanup(ctx context.Context) error {
	cutoff := s.now().UTC().Add(-s.retention)
	n, err := s.staging.DeleteDeliveredBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("digest cleanup: %w", err)
	}
	if n > 0 {
		s.logger.Info("digest staging cleaned", zap.Int64("removed", n))
	}
	return nil
}

func entryIDs(entries []*domain.DigestEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}
