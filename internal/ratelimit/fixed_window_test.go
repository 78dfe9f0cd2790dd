package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestFixedWindowLimiterRedis(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 2, time.Minute)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	fixed := time.Date(2024, 1, 1, 0, 0, 10, 0, time.UTC)
	limiter.now = func() time.Time { return fixed }
	ctx := context.Background()

	if !limiter.Allow(ctx, "login:ip-1") || !limiter.Allow(ctx, "login:ip-1") {
		t.Fatalf("first two requests should pass")
	}
	if limiter.Allow(ctx, "login:ip-1") {
		t.Fatalf("third request should be blocked")
	}
	if !limiter.Allow(ctx, "login:ip-2") {
		t.Fatalf("other keys keep their own budget")
	}

	fixed = fixed.Add(time.Minute)
	if !limiter.Allow(ctx, "login:ip-1") {
		t.Fatalf("next window should reset the budget")
	}
}

func TestFixedWindowLimiterRedisFailClosed(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, time.Second)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	redis.Close()
	if limiter.Allow(context.Background(), "ip-1") {
		t.Fatalf("limiter should fail closed on redis errors")
	}
}

func TestFixedWindowLimiterValidatesInput(t *testing.T) {
	if _, err := NewRedisFixedWindowLimiter("", "", "p", 1, time.Second); err == nil {
		t.Fatalf("expected constructor error for empty redis addr")
	}
	if _, err := NewRedisFixedWindowLimiter("127.0.0.1:6379", "", "p", 0, time.Second); err == nil {
		t.Fatalf("expected constructor error for zero limit")
	}
}
