package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type fakeRedis struct {
	setNXResult bool
	setNXErr    error
	lastKey     string
	lastTTL     time.Duration
	delKeys     []string
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.lastKey = key
	f.lastTTL = expiration
	cmd := redis.NewBoolResult(f.setNXResult, f.setNXErr)
	return cmd
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.delKeys = append(f.delKeys, keys...)
	return redis.NewIntResult(int64(len(keys)), nil)
}

func TestCheckAndClaimFirst(t *testing.T) {
	rdb := &fakeRedis{setNXResult: true}
	f := newFilterWithOps(rdb, zap.NewNop())

	first, err := f.CheckAndClaim(context.Background(), "t1", "u1", "order.shipped", "email", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first {
		t.Fatal("a successful SETNX means the caller is first")
	}
	if rdb.lastKey != "dedup:t1:u1:order.shipped:email" {
		t.Errorf("key = %q", rdb.lastKey)
	}
	if rdb.lastTTL != time.Minute {
		t.Errorf("ttl = %v, want 1m", rdb.lastTTL)
	}
}

func TestCheckAndClaimDuplicate(t *testing.T) {
	f := newFilterWithOps(&fakeRedis{setNXResult: false}, zap.NewNop())

	first, err := f.CheckAndClaim(context.Background(), "t1", "u1", "order.shipped", "email", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first {
		t.Fatal("an existing key means a duplicate within the window")
	}
}

func TestCheckAndClaimFailsOpen(t *testing.T) {
	f := newFilterWithOps(&fakeRedis{setNXErr: errors.New("redis down")}, zap.NewNop())

	first, err := f.CheckAndClaim(context.Background(), "t1", "u1", "order.shipped", "email", time.Minute)
	if err == nil {
		t.Fatal("the redis error must surface for logging")
	}
	if !first {
		t.Fatal("a redis outage must not suppress delivery")
	}
}

func TestCheckAndClaimZeroWindowSkips(t *testing.T) {
	rdb := &fakeRedis{}
	f := newFilterWithOps(rdb, zap.NewNop())

	first, err := f.CheckAndClaim(context.Background(), "t1", "u1", "order.shipped", "email", 0)
	if err != nil || !first {
		t.Fatal("a zero window disables dedup")
	}
	if rdb.lastKey != "" {
		t.Fatal("no redis call expected for a zero window")
	}
}

func TestRelease(t *testing.T) {
	rdb := &fakeRedis{}
	f := newFilterWithOps(rdb, zap.NewNop())

	f.Release(context.Background(), "t1", "u1", "order.shipped", "email")
	if len(rdb.delKeys) != 1 || rdb.delKeys[0] != "dedup:t1:u1:order.shipped:email" {
		t.Errorf("del keys = %v", rdb.delKeys)
	}
}
