package scheduler

import (
	"time"

	"github.com/smallbiznis/karma/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval    time.Duration
	BatchSize      int
	JobTimeout     time.Duration
	DecayStaleness time.Duration
	AbuseLookback  time.Duration
	EnabledJobs    []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:    5 * time.Minute,
		BatchSize:      100,
		JobTimeout:     time.Minute,
		DecayStaleness: 7 * 24 * time.Hour,
		AbuseLookback:  time.Hour,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:    cfg.Scheduler.Interval,
		BatchSize:      cfg.Scheduler.BatchSize,
		JobTimeout:     cfg.Scheduler.JobTimeout,
		DecayStaleness: cfg.Scheduler.DecayStaleness,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.DecayStaleness <= 0 {
		c.DecayStaleness = defaults.DecayStaleness
	}
	if c.AbuseLookback <= 0 {
		c.AbuseLookback = defaults.AbuseLookback
	}
	return c
}
