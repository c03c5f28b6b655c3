package scheduler

import (
	"context"
	"fmt"
	"time"

	obsmetrics "github.com/smallbiznis/karma/internal/observability/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const keyJobLock = "karma:scheduler:job:%s"

const claimTimeout = 2 * time.Second

// acquireJobLock keeps a job single-flight across scheduler replicas. Without
// redis every replica runs the job and relies on SKIP LOCKED claims.
func (s *Scheduler) acquireJobLock(ctx context.Context, job string, ttl time.Duration) (func(), bool, error) {
	if !s.locker.Enabled() {
		return func() {}, true, nil
	}
	key := fmt.Sprintf(keyJobLock, job)
	token, ok, err := s.locker.TryLock(ctx, key, ttl)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.log.Warn("scheduler.job.unlock.failed", zap.String("job", job), zap.Error(err))
		}
	}, true, nil
}

func (s *Scheduler) fetchStalePrincipals(ctx context.Context, updatedBefore int64, limit int) ([]string, error) {
	if limit <= 0 {
		limit = s.cfg.BatchSize
	}
	claimCtx, cancel := context.WithTimeout(ctx, claimTimeout)
	defer cancel()

	var principals []string
	lockStart := time.Now()
	err := s.db.WithContext(claimCtx).Transaction(func(tx *gorm.DB) error {
		var err error
		principals, err = s.scoreRepo.ListStale(claimCtx, tx, updatedBefore, limit)
		return err
	})
	obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceStaleScores, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return principals, nil
}

func (s *Scheduler) fetchActiveRaters(ctx context.Context, since int64, limit int) ([]string, error) {
	if limit <= 0 {
		limit = s.cfg.BatchSize
	}
	claimCtx, cancel := context.WithTimeout(ctx, claimTimeout)
	defer cancel()

	lockStart := time.Now()
	raters, err := s.ratingRepo.ActiveRatersSince(claimCtx, s.db, since, limit)
	obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceActiveRaters, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return raters, nil
}

func (s *Scheduler) fetchWindowedPrincipals(ctx context.Context, since int64, limit int) ([]string, error) {
	if s.limiter == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = s.cfg.BatchSize
	}
	claimCtx, cancel := context.WithTimeout(ctx, claimTimeout)
	defer cancel()

	lockStart := time.Now()
	principals, err := s.limiter.ActivePrincipalsSince(claimCtx, since, limit)
	obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceRateWindows, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return principals, nil
}

// mergePrincipals appends the entries of extra missing from base, keeping order.
func mergePrincipals(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, p := range list {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}
