package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"notification-orchestrator/internal/domain"
	"notification-orchestrator/internal/metrics"
	"notification-orchestrator/internal/repository"
	"notification-orchestrator/pkg/jobqueue"
	"notification-orchestrator/pkg/xerrors"
)

// Manager moves exhausted deliveries into the dead letter store and replays
// them back onto the delivery queue on operator request.
type Manager struct {
	store  repository.DlqStore
	queue  jobqueue.Queue
	logger *zap.Logger
	now    func() time.Time
}

func NewManager(store repository.DlqStore, queue jobqueue.Queue, logger *zap.Logger) *Manager {
	return &Manager{store: store, queue: queue, logger: logger, now: time.Now}
}

// MoveToDLQ records a delivery that will not be retried. The stored payload
// is the full delivery job, so a later replay is self-contained.
func (m *Manager) MoveToDLQ(ctx context.Context, job domain.DeliveryJob, lastErr string, category domain.ErrorCategory, attempts int) error {
	entry := &domain.DlqEntry{
		ID:            uuid.New().String(),
		TenantID:      job.TenantID,
		Payload:       job,
		LastError:     lastErr,
		ErrorCategory: category,
		AttemptCount:  attempts,
		CreatedAt:     m.now().UTC(),
	}
	if err := m.store.Create(ctx, entry); err != nil {
		return fmt.Errorf("store dlq entry for delivery %s: %w", job.DeliveryID, err)
	}

	metrics.DlqTotal.WithLabelValues(job.Channel, string(category)).Inc()
	m.logger.Warn("delivery dead-lettered",
		zap.String("dlq_id", entry.ID),
		zap.String("delivery_id", job.DeliveryID),
		zap.String("channel", job.Channel),
		zap.String("category", string(category)),
		zap.Int("attempts", attempts))
	return nil
}

// List pages entries for the tenant, newest first.
func (m *Manager) List(ctx context.Context, tenantID string, limit, offset int) ([]*domain.DlqEntry, error) {
	return m.store.List(ctx, tenantID, limit, offset)
}

// Get loads one entry. Returns xerrors.ErrNotFound when absent.
func (m *Manager) Get(ctx context.Context, tenantID, id string) (*domain.DlqEntry, error) {
	return m.store.GetByID(ctx, tenantID, id)
}

// Retry re-enqueues one dead-lettered delivery. It returns false, with no
// job enqueued, when the entry does not exist for the tenant. An already
// replayed entry is replayed again; the store keeps only the latest stamp.
func (m *Manager) Retry(ctx context.Context, tenantID, id, replayedBy string) (bool, error) {
	entry, err := m.store.GetByID(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if err := m.enqueue(ctx, entry); err != nil {
		return false, err
	}
	if err := m.store.MarkReplayed(ctx, tenantID, id, replayedBy); err != nil {
		// The job is already queued; a failed stamp only risks a second
		// manual replay.
		m.logger.Error("mark replayed failed", zap.String("dlq_id", id), zap.Error(err))
	}

	m.logger.Info("dlq entry replayed",
		zap.String("dlq_id", id),
		zap.String("delivery_id", entry.Payload.DeliveryID),
		zap.String("replayed_by", replayedBy))
	return true, nil
}

// BulkReplayResult reports how a bulk replay went. Every selected entry is
// attempted; failures are counted, not fatal.
type BulkReplayResult struct {
	Replayed int `json:"replayed"`
	Errors   int `json:"errors"`
}

// BulkReplay re-enqueues up to limit unreplayed entries for the tenant,
// oldest first. A failing entry is logged and skipped.
func (m *Manager) BulkReplay(ctx context.Context, tenantID, replayedBy string, limit int) (BulkReplayResult, error) {
	var res BulkReplayResult

	entries, err := m.store.ListUnreplayed(ctx, tenantID, limit)
	if err != nil {
		return res, fmt.Errorf("list unreplayed: %w", err)
	}

	for _, entry := range entries {
		if err := m.enqueue(ctx, entry); err != nil {
			res.Errors++
			m.logger.Error("bulk replay entry failed",
				zap.String("dlq_id", entry.ID), zap.Error(err))
			continue
		}
		if err := m.store.MarkReplayed(ctx, tenantID, entry.ID, replayedBy); err != nil {
			m.logger.Error("mark replayed failed", zap.String("dlq_id", entry.ID), zap.Error(err))
		}
		res.Replayed++
	}

	m.logger.Info("dlq bulk replay finished",
		zap.String("tenant_id", tenantID),
		zap.Int("replayed", res.Replayed),
		zap.Int("errors", res.Errors))
	return res, nil
}

func (m *Manager) enqueue(ctx context.Context, entry *domain.DlqEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal replay payload: %w", err)
	}
	return m.queue.Enqueue(ctx,
		jobqueue.Job{Type: jobqueue.TypeDeliverNotification, Payload: payload},
		jobqueue.Options{
			Priority: "normal",
			Attempts: 3,
			Backoff:  jobqueue.Backoff{Type: "exponential", Delay: 30 * time.Second},
		})
}
