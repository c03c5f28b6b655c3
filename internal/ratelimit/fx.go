package ratelimit

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/karma/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("rate.limit",
	fx.Provide(
		NewRedisClient,
		NewLocker,
		NewTokenBucket,
		NewSerializer,
		NewAPIThrottle,
		NewLimiter,
	),
)

// NewRedisClient returns nil when no redis address is configured.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	if !cfg.RedisEnabled() {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

func NewLimiter(cfg config.Config, db *gorm.DB, client *redis.Client, log *zap.Logger) Limiter {
	if cfg.RateLimitBackend == "redis" {
		if client != nil {
			return NewRedisLimiter(client)
		}
		log.Warn("redis rate limit backend requested without REDIS_ADDR, falling back to sql")
	}
	return NewSQLLimiter(db)
}
