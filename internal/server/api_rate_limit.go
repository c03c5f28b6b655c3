package server

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/karma/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/karma/internal/observability/metrics"
	"go.uber.org/zap"
)

const throttleAction = "api"

// APIThrottle applies the per-caller token bucket when redis throttling is
// configured. Redis failures fail open.
func (s *Server) APIThrottle() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.throttle.Enabled() {
			c.Next()
			return
		}

		caller, ok := principalFromContext(c)
		if !ok {
			caller = c.ClientIP()
		}
		ctx := c.Request.Context()

		result, err := s.throttle.Allow(ctx, caller)
		if err != nil {
			logger.FromContext(ctx).Warn("api throttle check failed", zap.Error(err))
			c.Next()
			return
		}
		if !result.Allowed {
			denyThrottled(c, normalizeRateLimitEndpoint(c), result.RetryAfter.Seconds(), s.obsMetrics)
			return
		}

		recordThrottleAllowed(ctx, s.obsMetrics)
		c.Next()
	}
}

func denyThrottled(c *gin.Context, endpoint string, retryAfter float64, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("api throttle exceeded", zap.String("endpoint", endpoint))
	if metrics != nil {
		metrics.RecordRateLimitDenied(ctx, throttleAction, "redis")
	}

	seconds := int64(math.Ceil(retryAfter))
	if seconds < 1 {
		seconds = 1
	}
	c.Header("Retry-After", strconv.FormatInt(seconds, 10))
	AbortWithError(c, ErrThrottled)
}

func recordThrottleAllowed(ctx context.Context, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitAllowed(ctx, throttleAction)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
