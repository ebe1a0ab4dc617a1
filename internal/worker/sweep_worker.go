package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"notification-orchestrator/internal/digest"
	"notification-orchestrator/internal/domain"
	"notification-orchestrator/internal/repository"
	"notification-orchestrator/pkg/jobqueue"
)

const (
	sweepBatchSize  = 100
	digestBatchSize = 500
)

// SweepWorker is the periodic janitor: it requeues or terminalizes stuck
// deliveries, flushes due digest tiers, and prunes delivered staging rows.
type SweepWorker struct {
	deliveries repository.DeliveryStore
	digests    *digest.Service
	queue      jobqueue.Queue
	logger     *zap.Logger

	interval    time.Duration
	stuckAfter  time.Duration
	maxAttempts int

	lastHourly  time.Time
	lastDaily   time.Time
	lastCleanup time.Time
}

func NewSweepWorker(
	deliveries repository.DeliveryStore,
	digests *digest.Service,
	queue jobqueue.Queue,
	interval, stuckAfter time.Duration,
	maxAttempts int,
	logger *zap.Logger,
) *SweepWorker {
	return &SweepWorker{
		deliveries:  deliveries,
		digests:     digests,
		queue:       queue,
		logger:      logger,
		interval:    interval,
		stuckAfter:  stuckAfter,
		maxAttempts: maxAttempts,
	}
}

// Start blocks until ctx is cancelled.
func (w *SweepWorker) Start(ctx context.Context) {
	w.logger.Info("sweep worker starting",
		zap.Duration("interval", w.interval),
		zap.Duration("stuck_after", w.stuckAfter))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("sweep worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *SweepWorker) sweep(ctx context.Context) {
	w.sweepStuck(ctx)

	now := time.Now()
	if now.Sub(w.lastHourly) >= time.Hour {
		w.lastHourly = now
		if err := w.digests.Flush(ctx, domain.FrequencyHourly, digestBatchSize); err != nil {
			w.logger.Error("hourly digest flush failed", zap.Error(err))
		}
	}
	if now.Sub(w.lastDaily) >= 24*time.Hour {
		w.lastDaily = now
		if err := w.digests.Flush(ctx, domain.FrequencyDaily, digestBatchSize); err != nil {
			w.logger.Error("daily digest flush failed", zap.Error(err))
		}
	}
	if now.Sub(w.lastCleanup) >= 24*time.Hour {
		w.lastCleanup = now
		if err := w.digests.Cleanup(ctx); err != nil {
			w.logger.Error("digest cleanup failed", zap.Error(err))
		}
	}
}

// sweepStuck picks up deliveries that stayed pending or queued past the
// stuck threshold, usually after a crashed worker or a lost queue entry.
// A delivery with attempts left is re-enqueued; an exhausted one is
// terminalized.
func (w *SweepWorker) sweepStuck(ctx context.Context) {
	cutoff := time.Now().Add(-w.stuckAfter)
	stuck, err := w.deliveries.ListStuck(ctx, cutoff, sweepBatchSize)
	if err != nil {
		w.logger.Error("list stuck deliveries failed", zap.Error(err))
		return
	}

	for _, d := range stuck {
		if d.AttemptCount >= w.maxAttempts {
			w.terminalize(ctx, d, "stuck past retry budget")
			continue
		}
		if len(d.JobPayload) == 0 {
			// Without the stored payload a requeue would lose the event
			// code and any pre-rendered body.
			w.terminalize(ctx, d, "stuck without job payload")
			continue
		}
		if err := w.requeue(ctx, d); err != nil {
			w.logger.Error("requeue stuck delivery failed",
				zap.String("delivery_id", d.ID), zap.Error(err))
		}
	}

	if len(stuck) > 0 {
		w.logger.Info("stuck deliveries swept", zap.Int("count", len(stuck)))
	}
}

func (w *SweepWorker) terminalize(ctx context.Context, d *domain.NotificationDelivery, reason string) {
	if err := w.deliveries.MarkFailed(ctx, d.TenantID, d.ID, reason); err != nil {
		w.logger.Error("terminalize stuck delivery failed",
			zap.String("delivery_id", d.ID), zap.Error(err))
	}
}

// requeue replays the job payload stored on the delivery row, so the
// re-enqueued job is identical to the one the planner or digest flush built.
func (w *SweepWorker) requeue(ctx context.Context, d *domain.NotificationDelivery) error {
	return w.queue.Enqueue(ctx,
		jobqueue.Job{Type: jobqueue.TypeDeliverNotification, Payload: d.JobPayload},
		jobqueue.Options{Priority: "normal", Attempts: 1})
}
