package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix  = "jobs"
	delayedKey = "jobs:delayed"
)

var priorities = []string{"critical", "high", "normal", "low"}

// envelope is the wire form stored in Redis. Priority rides along so a
// delayed job lands back on the right list when promoted.
type envelope struct {
	Job      Job    `json:"job"`
	Priority string `json:"priority"`
}

// RedisQueue is a priority job queue on Redis: one list per priority plus a
// sorted set for delayed jobs, scored by ready-time and promoted on dequeue.
type RedisQueue struct {
	rdb    redis.UniversalClient
	logger *zap.Logger
}

func NewRedisQueue(rdb redis.UniversalClient, logger *zap.Logger) *RedisQueue {
	return &RedisQueue{rdb: rdb, logger: logger}
}

func listKey(priority string) string {
	return keyPrefix + ":" + priority
}

func normalizePriority(p string) string {
	for _, known := range priorities {
		if p == known {
			return p
		}
	}
	return "normal"
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job, opts Options) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	env := envelope{Job: job, Priority: normalizePriority(opts.Priority)}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}

	if opts.Delay > 0 {
		readyAt := float64(time.Now().Add(opts.Delay).UnixMilli())
		if err := q.rdb.ZAdd(ctx, delayedKey, redis.Z{Score: readyAt, Member: data}).Err(); err != nil {
			return fmt.Errorf("enqueue delayed job %s: %w", job.ID, err)
		}
		return nil
	}

	if err := q.rdb.LPush(ctx, listKey(env.Priority), data).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// Dequeue promotes due delayed jobs, then blocks on the priority lists in
// order. BRPOP checks keys left to right, so critical drains first.
func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (*Job, error) {
	q.promoteDue(ctx)

	keys := make([]string, 0, len(priorities))
	for _, p := range priorities {
		keys = append(keys, listKey(p))
	}

	res, err := q.rdb.BRPop(ctx, wait, keys...).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	// res is [key, value]
	var env envelope
	if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &env.Job, nil
}

// promoteDue moves delayed jobs whose ready-time has passed onto their
// priority lists. ZRem is the claim: only the caller that removed the member
// pushes it, so concurrent workers never double-promote.
func (q *RedisQueue) promoteDue(ctx context.Context) {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	members, err := q.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: 100,
	}).Result()
	if err != nil {
		q.logger.Warn("promote delayed jobs", zap.Error(err))
		return
	}
	for _, m := range members {
		removed, err := q.rdb.ZRem(ctx, delayedKey, m).Result()
		if err != nil || removed == 0 {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(m), &env); err != nil {
			q.logger.Warn("drop undecodable delayed job", zap.Error(err))
			continue
		}
		if err := q.rdb.LPush(ctx, listKey(env.Priority), m).Err(); err != nil {
			q.logger.Error("promote delayed job", zap.String("job_id", env.Job.ID), zap.Error(err))
		}
	}
}
