package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisOps is the slice of the Redis client the filter needs. Kept narrow so
// tests can fake it with redis.NewBoolResult / redis.NewIntResult.
type redisOps interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Filter collapses duplicate deliveries for the same
// (tenant, recipient, event, channel) within a rule-specified window.
// The claim is a conditional insert: SET NX with the window as TTL, so two
// concurrent planners cannot both believe they are first.
type Filter struct {
	rdb    redisOps
	logger *zap.Logger
}

func NewFilter(rdb redis.UniversalClient, logger *zap.Logger) *Filter {
	return &Filter{rdb: rdb, logger: logger}
}

// newFilterWithOps exists for tests.
func newFilterWithOps(rdb redisOps, logger *zap.Logger) *Filter {
	return &Filter{rdb: rdb, logger: logger}
}

func key(tenantID, recipientID, eventCode, channel string) string {
	return fmt.Sprintf("dedup:%s:%s:%s:%s", tenantID, recipientID, eventCode, channel)
}

// CheckAndClaim reports whether the caller is first for this dedup key
// within the window. A Redis failure degrades to "first" so an index outage
// cannot block delivery; the error is returned for the caller to log.
func (f *Filter) CheckAndClaim(ctx context.Context, tenantID, recipientID, eventCode, channel string, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}
	k := key(tenantID, recipientID, eventCode, channel)
	first, err := f.rdb.SetNX(ctx, k, time.Now().UnixMilli(), window).Result()
	if err != nil {
		return true, fmt.Errorf("dedup claim %s: %w", k, err)
	}
	return first, nil
}

// Release drops a claim taken by a plan that subsequently failed, so the
// next attempt for the same key is not silently swallowed.
func (f *Filter) Release(ctx context.Context, tenantID, recipientID, eventCode, channel string) {
	k := key(tenantID, recipientID, eventCode, channel)
	if err := f.rdb.Del(ctx, k).Err(); err != nil {
		f.logger.Warn("dedup release failed", zap.String("key", k), zap.Error(err))
	}
}
