package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"notification-orchestrator/internal/domain"
	"notification-orchestrator/internal/executor"
	"notification-orchestrator/internal/planner"
	"notification-orchestrator/pkg/jobqueue"
)

const dequeueWait = 5 * time.Second

// Pool runs the job-queue consumers. Every worker handles all job types;
// priority ordering comes from the queue itself.
type Pool struct {
	queue    jobqueue.Queue
	planner  *planner.Planner
	executor *executor.Executor
	logger   *zap.Logger
	workers  int
}

func NewPool(queue jobqueue.Queue, pl *planner.Planner, ex *executor.Executor, workers int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		queue:    queue,
		planner:  pl,
		executor: ex,
		logger:   logger,
		workers:  workers,
	}
}

// Start blocks until ctx is cancelled and every worker has drained its
// current job.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("delivery worker pool starting", zap.Int("workers", p.workers))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.run(ctx, id)
		}(i)
	}
	wg.Wait()
	p.logger.Info("delivery worker pool stopped")
}

func (p *Pool) run(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.queue.Dequeue(ctx, dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("dequeue failed", zap.Int("worker", id), zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}
		if err := p.handle(ctx, job); err != nil {
			p.logger.Error("job failed",
				zap.Int("worker", id),
				zap.String("job_id", job.ID),
				zap.String("type", job.Type),
				zap.Error(err))
		}
	}
}

func (p *Pool) handle(ctx context.Context, job *jobqueue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling %s job: %v", job.Type, r)
		}
	}()

	switch job.Type {
	case jobqueue.TypePlanNotification:
		var ev domain.DomainEvent
		if err := json.Unmarshal(job.Payload, &ev); err != nil {
			return fmt.Errorf("decode domain event: %w", err)
		}
		_, err := p.planner.Plan(ctx, ev)
		return err
	case jobqueue.TypeDeliverNotification:
		return p.executor.HandleDeliveryJob(ctx, job.Payload)
	case jobqueue.TypeProcessCallback:
		return p.executor.HandleCallbackJob(ctx, job.Payload)
	default:
		p.logger.Warn("dropping job of unknown type", zap.String("type", job.Type))
		return nil
	}
}
