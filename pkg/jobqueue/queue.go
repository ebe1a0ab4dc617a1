package jobqueue

import (
	"context"
	"encoding/json"
	"time"
)

// Job types understood by the workers.
const (
	TypePlanNotification    = "plan-notification"
	TypeDeliverNotification = "deliver-notification"
	TypeProcessCallback     = "process-callback"
)

// Job is one unit of queued work. Payload is an opaque JSON document owned
// by the handler for the given type.
type Job struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Backoff describes the delay policy between retries of the same job.
type Backoff struct {
	Type  string        `json:"type"` // "exponential"
	Delay time.Duration `json:"delay"`
}

// Options control scheduling of an enqueued job.
type Options struct {
	Priority         string
	Attempts         int
	Backoff          Backoff
	Delay            time.Duration
	RemoveOnComplete bool
}

// Queue is the durable at-least-once job queue the pipeline runs on. The
// Redis implementation in this package is the reference; anything providing
// the same contract (priority, delayed enqueue) can be swapped in.
type Queue interface {
	Enqueue(ctx context.Context, job Job, opts Options) error
	// Dequeue blocks up to wait for a job, returning nil when none arrived.
	Dequeue(ctx context.Context, wait time.Duration) (*Job, error)
}

// BackoffDelay computes the delay before the given attempt (1-based).
// Exponential doubles per attempt: base, 2*base, 4*base, ...
func BackoffDelay(b Backoff, attempt int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	d := b.Delay
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}
