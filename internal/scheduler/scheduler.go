package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	abusedomain "github.com/smallbiznis/karma/internal/abuse/domain"
	"github.com/smallbiznis/karma/internal/clock"
	obsmetrics "github.com/smallbiznis/karma/internal/observability/metrics"
	"github.com/smallbiznis/karma/internal/ratelimit"
	ratingdomain "github.com/smallbiznis/karma/internal/rating/domain"
	scoredomain "github.com/smallbiznis/karma/internal/score/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobDecaySweep = "decay_sweep"
	JobAbuseScan  = "abuse_scan"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	ScoreRepo  scoredomain.Repository
	ScoreSvc   scoredomain.Service
	RatingRepo ratingdomain.Repository
	AbuseSvc   abusedomain.Service
	Serializer ratelimit.Serializer
	Limiter    ratelimit.Limiter `optional:"true"`
	Locker     *ratelimit.Locker `optional:"true"`
	Config     Config            `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	scoreRepo  scoredomain.Repository
	scoreSvc   scoredomain.Service
	ratingRepo ratingdomain.Repository
	abuseSvc   abusedomain.Service
	serializer ratelimit.Serializer
	limiter    ratelimit.Limiter
	locker     *ratelimit.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.ScoreRepo == nil || p.ScoreSvc == nil || p.RatingRepo == nil || p.AbuseSvc == nil || p.Serializer == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		scoreRepo:  p.ScoreRepo,
		scoreSvc:   p.ScoreSvc,
		ratingRepo: p.RatingRepo,
		abuseSvc:   p.AbuseSvc,
		serializer: p.Serializer,
		limiter:    p.Limiter,
		locker:     p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	schedMetrics := obsmetrics.Scheduler()
	release, acquired, err := s.acquireJobLock(ctx, name, timeout)
	if err != nil {
		schedMetrics.IncJobError(name, err)
		return fmt.Errorf("%s: %w", name, err)
	}
	if !acquired {
		schedMetrics.IncBatchDeferred(name, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
		s.log.Debug("scheduler.job.skipped", zap.String("job", name), zap.String("reason", "lock_held"))
		return nil
	}
	defer release()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics.IncJobRun(name)

	err = fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout, the remaining work is picked up next tick
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobDecaySweep, s.DecaySweepJob},
		{JobAbuseScan, s.AbuseScanJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// DecaySweepJob recalculates scores that have not changed within the
// staleness window so time decay is reflected without new activity.
func (s *Scheduler) DecaySweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobDecaySweep, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now().Unix()
	cutoff := now - int64(s.cfg.DecayStaleness/time.Second)
	var jobErr error

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		principals, err := s.fetchStalePrincipals(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.decay.fetch.failed", JobDecaySweep, err)
			return errors.Join(jobErr, err)
		}
		if len(principals) == 0 {
			obsmetrics.Scheduler().IncBatchDeferred(JobDecaySweep, obsmetrics.SchedulerBatchDeferredReasonSkipLockedEmpty)
			break
		}

		processed := 0
		for _, principal := range principals {
			if err := s.recalculate(ctx, principal, now); err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(ctx, run, "scheduler.decay.recalculate.failed", JobDecaySweep, err,
					zap.String("principal", principal),
				)
				continue
			}
			processed++
		}
		run.AddProcessed(processed)
		obsmetrics.Scheduler().AddBatchProcessed(JobDecaySweep, obsmetrics.LockResourceStaleScores, processed)

		// a batch with no progress would be fetched again unchanged
		if processed == 0 || len(principals) < s.cfg.BatchSize {
			break
		}
	}

	return jobErr
}

// AbuseScanJob runs the detectors on every principal that rated recently or
// still has an open rate-limit window.
func (s *Scheduler) AbuseScanJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobAbuseScan, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now().Unix()
	since := now - int64(s.cfg.AbuseLookback/time.Second)

	raters, err := s.fetchActiveRaters(ctx, since, s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.abuse.fetch.failed", JobAbuseScan, err)
		return err
	}
	windowed, err := s.fetchWindowedPrincipals(ctx, now-ratelimit.WindowSeconds, s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.abuse.fetch.failed", JobAbuseScan, err)
		return err
	}
	raters = mergePrincipals(raters, windowed)

	var jobErr error
	violations := 0
	for _, principal := range raters {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		found, err := s.abuseSvc.RunDetection(ctx, principal, now)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			s.logSchedulerError(ctx, run, "scheduler.abuse.detect.failed", JobAbuseScan, err,
				zap.String("principal", principal),
			)
			continue
		}
		violations += len(found)
		run.AddProcessed(1)
	}
	obsmetrics.Scheduler().AddBatchProcessed(JobAbuseScan, obsmetrics.LockResourceActiveRaters, len(raters))

	if violations > 0 {
		s.logger(ctx).Info("scheduler.abuse.violations",
			zap.Int("scanned", len(raters)),
			zap.Int("violations", violations),
		)
	}
	return jobErr
}

func (s *Scheduler) recalculate(ctx context.Context, principal string, now int64) error {
	return s.serializer.Do(ctx, principal, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			_, err := s.scoreSvc.Recalculate(ctx, tx, principal, now, scoredomain.TriggerDecay)
			return err
		})
	})
}
