package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/karma/internal/config"
)

const keyAPIThrottle = "karma:throttle:%s"

// APIThrottle applies a per-caller token bucket to HTTP traffic. It is nil
// unless redis and a positive rate are configured.
type APIThrottle struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewAPIThrottle(cfg config.Config, bucket *TokenBucket) *APIThrottle {
	if bucket == nil || cfg.APIThrottleRate <= 0 || cfg.APIThrottleBurst <= 0 {
		return nil
	}
	return &APIThrottle{bucket: bucket, rate: cfg.APIThrottleRate, burst: cfg.APIThrottleBurst}
}

func (t *APIThrottle) Enabled() bool {
	return t != nil
}

func (t *APIThrottle) Allow(ctx context.Context, caller string) (*RateLimitResult, error) {
	if !t.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return t.bucket.Allow(ctx, fmt.Sprintf(keyAPIThrottle, strings.TrimSpace(caller)), t.rate, t.burst)
}
