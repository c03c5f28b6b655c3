package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	abusedomain "github.com/smallbiznis/karma/internal/abuse/domain"
	"github.com/smallbiznis/karma/internal/clock"
	"github.com/smallbiznis/karma/internal/config"
	obsmetrics "github.com/smallbiznis/karma/internal/observability/metrics"
	oracledomain "github.com/smallbiznis/karma/internal/oracle/domain"
	oraclerepo "github.com/smallbiznis/karma/internal/oracle/repository"
	"github.com/smallbiznis/karma/internal/ratelimit"
	ratingdomain "github.com/smallbiznis/karma/internal/rating/domain"
	ratingrepo "github.com/smallbiznis/karma/internal/rating/repository"
	scoredomain "github.com/smallbiznis/karma/internal/score/domain"
	scorerepo "github.com/smallbiznis/karma/internal/score/repository"
	scoreservice "github.com/smallbiznis/karma/internal/score/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeAbuseService struct {
	abusedomain.Service
	scanned []string
	found   map[string][]abusedomain.ViolationRecord
}

func (f *fakeAbuseService) RunDetection(_ context.Context, principal string, _ int64) ([]abusedomain.ViolationRecord, error) {
	f.scanned = append(f.scanned, principal)
	return f.found[principal], nil
}

type fixture struct {
	db        *gorm.DB
	node      *snowflake.Node
	scores    scoredomain.Repository
	scoreSvc  scoredomain.Service
	ratings   ratingdomain.Repository
	abuse     *fakeAbuseService
	limiter   *ratelimit.SQLLimiter
	scheduler *Scheduler
}

func setup(t *testing.T, cfg Config) fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&scoredomain.ScoreRecord{},
		&scoredomain.ScoreHistory{},
		&ratingdomain.Rating{},
		&ratingdomain.Sequence{},
		&oracledomain.Summary{},
		&ratelimit.Tracker{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := fixture{
		db:      db,
		node:    node,
		scores:  scorerepo.Provide(),
		ratings: ratingrepo.Provide(),
		abuse:   &fakeAbuseService{found: map[string][]abusedomain.ViolationRecord{}},
		limiter: ratelimit.NewSQLLimiter(db),
	}
	f.scoreSvc = scoreservice.NewService(scoreservice.Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Cfg:        config.Config{Karma: config.DefaultKarmaConfig()},
		Repo:       f.scores,
		RatingRepo: f.ratings,
		OracleRepo: oraclerepo.Provide(),
	})

	f.scheduler, err = New(Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clock.NewFakeClock(testNow),
		ScoreRepo:  f.scores,
		ScoreSvc:   f.scoreSvc,
		RatingRepo: f.ratings,
		AbuseSvc:   f.abuse,
		Serializer: ratelimit.NewSerializer(nil),
		Limiter:    f.limiter,
		Config:     cfg,
	})
	require.NoError(t, err)
	return f
}

func (f fixture) seedScore(t *testing.T, principal string, score, lastUpdated int64) {
	t.Helper()
	require.NoError(t, f.scores.Save(context.Background(), f.db, &scoredomain.ScoreRecord{
		Principal:    principal,
		CurrentScore: score,
		AvgRating:    "0.00",
		DecayFactor:  "1.000",
		LastUpdated:  lastUpdated,
	}))
}

func (f fixture) rate(t *testing.T, rater, rated string, ts int64) {
	t.Helper()
	ctx := context.Background()
	seq, err := f.ratings.NextSequence(ctx, f.db)
	require.NoError(t, err)
	require.NoError(t, f.ratings.Insert(ctx, f.db, &ratingdomain.Rating{
		ID:             f.node.Generate(),
		InteractionRef: fmt.Sprintf("ix-%d", seq),
		Rater:          rater,
		Rated:          rated,
		Score:          8,
		Timestamp:      ts,
		SequenceNo:     seq,
	}))
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDecaySweepRecalculatesStaleScores(t *testing.T) {
	f := setup(t, Config{})
	now := testNow.Unix()
	f.seedScore(t, "idle", 100, now-60*86_400)
	f.seedScore(t, "fresh", 100, now-3600)

	require.NoError(t, f.scheduler.DecaySweepJob(context.Background()))

	idle, err := f.scoreSvc.Get(context.Background(), "idle")
	require.NoError(t, err)
	assert.Equal(t, int64(85), idle.CurrentScore)
	assert.Equal(t, now, idle.LastUpdated)

	history, err := f.scoreSvc.History(context.Background(), scoredomain.HistoryRequest{Principal: "idle"})
	require.NoError(t, err)
	require.Len(t, history.History, 1)
	assert.Equal(t, scoredomain.TriggerDecay, history.History[0].Trigger)

	fresh, err := f.scoreSvc.Get(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(100), fresh.CurrentScore)
	assert.Equal(t, now-3600, fresh.LastUpdated)
}

func TestDecaySweepWalksEveryBatch(t *testing.T) {
	f := setup(t, Config{BatchSize: 2})
	now := testNow.Unix()
	for i := 0; i < 5; i++ {
		f.seedScore(t, fmt.Sprintf("p%d", i), 100, now-30*86_400-int64(i))
	}

	require.NoError(t, f.scheduler.DecaySweepJob(context.Background()))

	stale, err := f.scores.ListStale(context.Background(), f.db, now-7*86_400, 10)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestAbuseScanCoversRecentRaters(t *testing.T) {
	f := setup(t, Config{AbuseLookback: time.Hour})
	now := testNow.Unix()
	f.rate(t, "recent", "agent-a", now-600)
	f.rate(t, "old", "agent-a", now-2*3600)
	f.abuse.found["recent"] = []abusedomain.ViolationRecord{{Principal: "recent"}}

	require.NoError(t, f.scheduler.AbuseScanJob(context.Background()))
	assert.Equal(t, []string{"recent"}, f.abuse.scanned)
}

func TestAbuseScanCoversOpenRateWindows(t *testing.T) {
	f := setup(t, Config{AbuseLookback: time.Hour})
	now := testNow.Unix()
	ctx := context.Background()
	f.rate(t, "recent", "agent-a", now-600)

	consume := func(principal string, at int64) {
		require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
			_, err := f.limiter.CheckAndConsume(ctx, tx, principal, ratelimit.ActionInteraction, 0, at)
			return err
		}))
	}
	consume("busy", now-300)
	consume("recent", now-600)
	consume("stale", now-2*3600)

	require.NoError(t, f.scheduler.AbuseScanJob(ctx))
	assert.Equal(t, []string{"recent", "busy"}, f.abuse.scanned)
}

func TestMergePrincipals(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, mergePrincipals([]string{"a", "b"}, []string{"b", "c", "a"}))
	assert.Empty(t, mergePrincipals(nil, nil))
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	f := setup(t, Config{EnabledJobs: []string{"ABUSE_SCAN"}})
	now := testNow.Unix()
	f.seedScore(t, "idle", 100, now-60*86_400)
	f.rate(t, "recent", "agent-a", now-60)

	require.NoError(t, f.scheduler.RunOnce(context.Background()))

	assert.Equal(t, []string{"recent"}, f.abuse.scanned)
	idle, err := f.scoreSvc.Get(context.Background(), "idle")
	require.NoError(t, err)
	assert.Equal(t, int64(100), idle.CurrentScore)
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "karma",
		Environment: "test",
	})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(testNow)}
	err = s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{
		"service": "karma",
		"env":     "test",
		"job":     "timeout_job",
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "karma_scheduler_job_timeouts_total", labels))
	assert.Equal(t, float64(1), getCounterValue(t, registry, "karma_scheduler_job_runs_total", labels))

	errorLabels := map[string]string{
		"service": "karma",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "karma_scheduler_job_errors_total", errorLabels))
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			require.NotNil(t, metric.Counter, "metric %s is not a counter", name)
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
