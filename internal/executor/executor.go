package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"notification-orchestrator/internal/channel"
	"notification-orchestrator/internal/domain"
	"notification-orchestrator/internal/metrics"
	"notification-orchestrator/internal/preference"
	"notification-orchestrator/internal/repository"
	"notification-orchestrator/pkg/jobqueue"
	"notification-orchestrator/pkg/kafka"
	"notification-orchestrator/pkg/redact"
	"notification-orchestrator/pkg/template"
	"notification-orchestrator/pkg/xerrors"
)

// DeadLetterer receives deliveries that will not be retried.
type DeadLetterer interface {
	MoveToDLQ(ctx context.Context, job domain.DeliveryJob, lastErr string, category domain.ErrorCategory, attempts int) error
}

// Stager parks a delivery for a later digest flush.
type Stager interface {
	Stage(ctx context.Context, job domain.DeliveryJob, frequency domain.Frequency) error
}

// StatusPublisher emits terminal delivery transitions for downstream audit.
type StatusPublisher interface {
	Publish(msg *kafka.DeliveryStatusMessage) error
}

// Executor runs delivery jobs: per-attempt preference check, template
// render, provider call, then retry, digest, or dead-letter routing.
type Executor struct {
	deliveries repository.DeliveryStore
	prefs      *preference.Evaluator
	templates  *template.Service
	adapters   *channel.Registry
	queue      jobqueue.Queue
	dlq        DeadLetterer
	digests    Stager
	status     StatusPublisher
	logger     *zap.Logger

	maxAttempts     int
	backoffBase     time.Duration
	providerTimeout time.Duration
	now             func() time.Time
}

type Params struct {
	Deliveries repository.DeliveryStore
	Prefs      *preference.Evaluator
	Templates  *template.Service
	Adapters   *channel.Registry
	Queue      jobqueue.Queue
	DLQ        DeadLetterer
	Digests    Stager
	// Status may be nil; publishing is a non-critical write.
	Status StatusPublisher
	Logger *zap.Logger

	MaxAttempts     int
	BackoffBase     time.Duration
	ProviderTimeout time.Duration
}

func New(p Params) *Executor {
	return &Executor{
		deliveries:      p.Deliveries,
		prefs:           p.Prefs,
		templates:       p.Templates,
		adapters:        p.Adapters,
		queue:           p.Queue,
		dlq:             p.DLQ,
		digests:         p.Digests,
		status:          p.Status,
		logger:          p.Logger,
		maxAttempts:     p.MaxAttempts,
		backoffBase:     p.BackoffBase,
		providerTimeout: p.ProviderTimeout,
		now:             time.Now,
	}
}

// HandleDeliveryJob processes one deliver-notification job. It always
// returns nil for outcomes the retry/DLQ routing already settled; an error
// means the job itself could not be interpreted or the store was
// unreachable, and the queue should redeliver.
func (e *Executor) HandleDeliveryJob(ctx context.Context, payload json.RawMessage) error {
	var job domain.DeliveryJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("decode delivery job: %w", err)
	}

	delivery, err := e.deliveries.GetByID(ctx, job.TenantID, job.DeliveryID)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			e.logger.Warn("delivery job references unknown delivery",
				zap.String("delivery_id", job.DeliveryID))
			return nil
		}
		return fmt.Errorf("load delivery %s: %w", job.DeliveryID, err)
	}
	switch delivery.Status {
	case domain.DeliverySent, domain.DeliveryDelivered, domain.DeliveryFailed:
		// Duplicate job, the at-least-once queue allows it.
		return nil
	}

	// Preferences can change between planning and delivery, and between
	// retries. Re-check on every attempt.
	check := e.prefs.Check(ctx, preference.CheckRequest{
		TenantID:      job.TenantID,
		PrincipalID:   job.RecipientID,
		EventCode:     job.EventCode,
		Channel:       job.Channel,
		RecipientAddr: job.RecipientAddr,
		Priority:      job.Priority,
	})
	if !check.Allowed {
		return e.finishBlocked(ctx, job, delivery, check.Reason)
	}
	if check.Frequency != domain.FrequencyImmediate && job.TemplateKey != "digest" {
		if err := e.digests.Stage(ctx, job, check.Frequency); err != nil {
			return fmt.Errorf("stage digest: %w", err)
		}
		return e.finishBlocked(ctx, job, delivery, domain.ReasonDigestStaged)
	}
	if check.DeferUntil != nil {
		return e.requeue(ctx, payload, job, time.Until(*check.DeferUntil))
	}

	req, err := e.buildRequest(job)
	if err != nil {
		// Rendering failures are permanent; nothing changes on retry.
		return e.failAttempt(ctx, job, channel.Result{
			ErrorCategory: domain.ErrPermanent,
			Err:           err,
		}, payload)
	}

	adapter, err := e.adapters.Get(job.ProviderCode)
	if err != nil {
		return e.failAttempt(ctx, job, channel.Result{
			ErrorCategory: domain.ErrPermanent,
			Err:           err,
		}, payload)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.providerTimeout)
	start := e.now()
	result := adapter.Deliver(callCtx, req)
	cancel()
	metrics.DeliveryDuration.WithLabelValues(job.Channel).Observe(e.now().Sub(start).Seconds())

	if result.Success {
		return e.finishSent(ctx, job, result.ExternalID)
	}
	return e.failAttempt(ctx, job, result, payload)
}

func (e *Executor) buildRequest(job domain.DeliveryJob) (channel.Request, error) {
	req := channel.Request{
		DeliveryID:    job.DeliveryID,
		TenantID:      job.TenantID,
		RecipientAddr: job.RecipientAddr,
		Subject:       job.Subject,
		BodyText:      job.BodyText,
		BodyJSON:      job.BodyJSON,
	}
	if req.BodyText != "" || len(req.BodyJSON) > 0 {
		// Pre-rendered payload (digest flush, DLQ replay of one).
		return req, nil
	}

	data := map[string]any{
		"event_code":   job.EventCode,
		"recipient_id": job.RecipientID,
	}
	for k, v := range job.Metadata {
		data[k] = v
	}
	rendered, err := e.templates.Render(job.Channel, job.TemplateKey, data)
	if err != nil {
		return req, fmt.Errorf("render %s/%s: %w", job.Channel, job.TemplateKey, err)
	}
	req.Subject = rendered.Subject
	req.BodyText = rendered.BodyText
	req.BodyHTML = rendered.BodyHTML
	return req, nil
}

func (e *Executor) finishSent(ctx context.Context, job domain.DeliveryJob, externalID string) error {
	if err := e.deliveries.MarkSent(ctx, job.TenantID, job.DeliveryID, externalID); err != nil {
		return fmt.Errorf("mark sent %s: %w", job.DeliveryID, err)
	}
	metrics.DeliveriesTotal.WithLabelValues(job.Channel, "sent").Inc()
	e.publishStatus(job, string(domain.DeliverySent), 0, "", "")
	e.logger.Info("delivery sent",
		zap.String("delivery_id", job.DeliveryID),
		zap.String("channel", job.Channel),
		zap.String("recipient", redact.Addr(job.RecipientAddr)))
	return nil
}

func (e *Executor) finishBlocked(ctx context.Context, job domain.DeliveryJob, delivery *domain.NotificationDelivery, reason string) error {
	if err := e.deliveries.MarkFailed(ctx, job.TenantID, job.DeliveryID, reason); err != nil && !errors.Is(err, xerrors.ErrNotFound) {
		return fmt.Errorf("mark failed %s: %w", job.DeliveryID, err)
	}
	metrics.DeliveriesTotal.WithLabelValues(job.Channel, "blocked").Inc()
	e.publishStatus(job, string(domain.DeliveryFailed), delivery.AttemptCount, "", reason)
	e.logger.Info("delivery blocked",
		zap.String("delivery_id", job.DeliveryID),
		zap.String("reason", reason))
	return nil
}

// failAttempt records the failed attempt, then either re-enqueues with
// backoff or routes the delivery to the DLQ.
func (e *Executor) failAttempt(ctx context.Context, job domain.DeliveryJob, result channel.Result, payload json.RawMessage) error {
	errMsg := ""
	if result.Err != nil {
		errMsg = result.Err.Error()
	}

	count, err := e.deliveries.IncrementAttempt(ctx, job.TenantID, job.DeliveryID, errMsg)
	if err != nil {
		return fmt.Errorf("increment attempt %s: %w", job.DeliveryID, err)
	}

	if result.ErrorCategory.Retryable() && count < e.maxAttempts {
		metrics.RetriesTotal.WithLabelValues(job.Channel, string(result.ErrorCategory)).Inc()
		delay := jobqueue.BackoffDelay(jobqueue.Backoff{Type: "exponential", Delay: e.backoffBase}, count)
		e.logger.Warn("delivery attempt failed, retrying",
			zap.String("delivery_id", job.DeliveryID),
			zap.String("category", string(result.ErrorCategory)),
			zap.Int("attempt", count),
			zap.Duration("delay", delay),
			zap.Error(result.Err))
		return e.requeue(ctx, payload, job, delay)
	}

	if err := e.dlq.MoveToDLQ(ctx, job, errMsg, result.ErrorCategory, count); err != nil {
		return fmt.Errorf("dead-letter %s: %w", job.DeliveryID, err)
	}
	if err := e.deliveries.MarkFailed(ctx, job.TenantID, job.DeliveryID, errMsg); err != nil && !errors.Is(err, xerrors.ErrNotFound) {
		e.logger.Error("mark failed after dlq", zap.String("delivery_id", job.DeliveryID), zap.Error(err))
	}
	metrics.DeliveriesTotal.WithLabelValues(job.Channel, "failed").Inc()
	e.publishStatus(job, string(domain.DeliveryFailed), count, string(result.ErrorCategory), errMsg)
	return nil
}

func (e *Executor) requeue(ctx context.Context, payload json.RawMessage, job domain.DeliveryJob, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	err := e.queue.Enqueue(ctx,
		jobqueue.Job{Type: jobqueue.TypeDeliverNotification, Payload: payload},
		jobqueue.Options{Priority: queuePriority(job.Priority), Attempts: 1, Delay: delay})
	if err != nil {
		return fmt.Errorf("requeue delivery %s: %w", job.DeliveryID, err)
	}
	return nil
}

// HandleCallbackJob applies an asynchronous provider receipt. Receipts for
// unknown or already-settled deliveries are dropped.
func (e *Executor) HandleCallbackJob(ctx context.Context, payload json.RawMessage) error {
	var cb domain.ProviderCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return fmt.Errorf("decode provider callback: %w", err)
	}
	return e.ApplyCallback(ctx, cb)
}

func (e *Executor) ApplyCallback(ctx context.Context, cb domain.ProviderCallback) error {
	var status domain.DeliveryStatus
	switch cb.Status {
	case "delivered", "read":
		status = domain.DeliveryDelivered
	case "failed", "undelivered", "bounced":
		status = domain.DeliveryFailed
	default:
		// Intermediate provider states ("queued", "sent") carry no new
		// information for us.
		return nil
	}

	errMsg := ""
	if len(cb.Errors) > 0 {
		errMsg = cb.Errors[0]
	}

	err := e.deliveries.ApplyCallbackStatus(ctx, cb.ProviderCode, cb.ExternalID, status, errMsg)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			e.logger.Warn("callback for unknown or settled delivery",
				zap.String("provider", cb.ProviderCode),
				zap.String("external_id", cb.ExternalID),
				zap.String("status", cb.Status))
			return nil
		}
		return fmt.Errorf("apply callback %s/%s: %w", cb.ProviderCode, cb.ExternalID, err)
	}

	metrics.DeliveriesTotal.WithLabelValues(cb.ProviderCode, string(status)).Inc()
	e.publishStatus(domain.DeliveryJob{ProviderCode: cb.ProviderCode}, string(status), 0, "", errMsg)
	e.logger.Info("provider callback applied",
		zap.String("provider", cb.ProviderCode),
		zap.String("external_id", cb.ExternalID),
		zap.String("status", string(status)))
	return nil
}

// publishStatus is a non-critical write: a broker outage is logged and
// counted, never surfaced to the delivery path.
func (e *Executor) publishStatus(job domain.DeliveryJob, status string, attempts int, category, lastErr string) {
	if e.status == nil {
		return
	}
	err := e.status.Publish(&kafka.DeliveryStatusMessage{
		TenantID:      job.TenantID,
		MessageID:     job.MessageID,
		DeliveryID:    job.DeliveryID,
		Channel:       job.Channel,
		ProviderCode:  job.ProviderCode,
		Status:        status,
		AttemptCount:  attempts,
		ErrorCategory: category,
		LastError:     lastErr,
		Timestamp:     e.now().UTC(),
	})
	if err != nil {
		metrics.StatusPublishErrors.Inc()
		e.logger.Error("status publish failed",
			zap.String("delivery_id", job.DeliveryID), zap.Error(err))
	}
}

func queuePriority(p string) string {
	switch p {
	case domain.PriorityCritical, domain.PriorityHigh, domain.PriorityLow:
		return p
	default:
		return "normal"
	}
}
