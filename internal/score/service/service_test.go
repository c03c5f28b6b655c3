package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/karma/internal/config"
	oracledomain "github.com/smallbiznis/karma/internal/oracle/domain"
	oraclerepo "github.com/smallbiznis/karma/internal/oracle/repository"
	ratingdomain "github.com/smallbiznis/karma/internal/rating/domain"
	ratingrepo "github.com/smallbiznis/karma/internal/rating/repository"
	"github.com/smallbiznis/karma/internal/score/domain"
	"github.com/smallbiznis/karma/internal/score/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const now = int64(1_760_000_000)

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	svc     domain.Service
	repo    domain.Repository
	ratings ratingdomain.Repository
	oracle  oracledomain.Repository
}

func setup(t *testing.T) fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.ScoreRecord{},
		&domain.ScoreHistory{},
		&ratingdomain.Rating{},
		&ratingdomain.Sequence{},
		&oracledomain.Summary{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := fixture{
		db:      db,
		node:    node,
		repo:    repository.Provide(),
		ratings: ratingrepo.Provide(),
		oracle:  oraclerepo.Provide(),
	}
	f.svc = NewService(Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Cfg:        config.Config{Karma: config.DefaultKarmaConfig()},
		Repo:       f.repo,
		RatingRepo: f.ratings,
		OracleRepo: f.oracle,
	})
	return f
}

func (f fixture) rate(t *testing.T, rater, rated string, score int, ts int64) {
	t.Helper()
	ctx := context.Background()
	seq, err := f.ratings.NextSequence(ctx, f.db)
	require.NoError(t, err)
	require.NoError(t, f.ratings.Insert(ctx, f.db, &ratingdomain.Rating{
		ID:             f.node.Generate(),
		InteractionRef: fmt.Sprintf("ix-%d", seq),
		Rater:          rater,
		Rated:          rated,
		Score:          score,
		Timestamp:      ts,
		SequenceNo:     seq,
	}))
}

func (f fixture) recalculate(t *testing.T, principal string, at int64) domain.ScoreRecord {
	t.Helper()
	var record domain.ScoreRecord
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		record, err = f.svc.Recalculate(context.Background(), tx, principal, at, domain.TriggerManual)
		return err
	})
	require.NoError(t, err)
	return record
}

func TestRecalculate_TopRatings(t *testing.T) {
	f := setup(t)
	raters := []string{"r1", "r2", "r3"}
	for i := 0; i < 12; i++ {
		f.rate(t, raters[i%3], "agent-a", 10, now)
	}

	record := f.recalculate(t, "agent-a", now)
	assert.Equal(t, int64(1370), record.CurrentScore)
	assert.Equal(t, int64(0), record.PreviousScore)
	assert.Equal(t, int64(12), record.RatingCount)
	assert.Equal(t, "10.00", record.AvgRating)
	assert.Equal(t, "1.000", record.DecayFactor)
	assert.Equal(t, int64(1), record.InteractionCount)
	assert.Len(t, record.VerificationHash, 64)

	again := f.recalculate(t, "agent-a", now+60)
	assert.Equal(t, int64(1370), again.PreviousScore)
	assert.Equal(t, int64(2), again.InteractionCount)

	stored, err := f.svc.Get(context.Background(), "agent-a")
	require.NoError(t, err)
	assert.Equal(t, again, stored)

	history, err := f.svc.History(context.Background(), domain.HistoryRequest{Principal: "agent-a"})
	require.NoError(t, err)
	require.Len(t, history.History, 2)
	assert.Equal(t, now+60, history.History[0].Timestamp)
	assert.Equal(t, domain.TriggerManual, history.History[0].Trigger)
}

func TestRecalculate_DecaysWithoutRatings(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.repo.Save(context.Background(), f.db, &domain.ScoreRecord{
		Principal:    "idle",
		CurrentScore: 100,
		AvgRating:    "0.00",
		DecayFactor:  "1.000",
		LastUpdated:  now - 60*86_400,
	}))

	record := f.recalculate(t, "idle", now)
	assert.Equal(t, int64(85), record.CurrentScore)
	assert.Equal(t, int64(100), record.PreviousScore)
	assert.Equal(t, "0.850", record.DecayFactor)
}

func TestRecalculate_UsesOracleSummaries(t *testing.T) {
	f := setup(t)
	f.rate(t, "r1", "agent-b", 5, now)
	base := f.recalculate(t, "agent-b", now)

	require.NoError(t, f.oracle.Upsert(context.Background(), f.db, &oracledomain.Summary{
		Principal:  "agent-b",
		DataType:   "performance",
		Value:      10,
		ObservedAt: now,
		ReceivedAt: now,
	}))
	boosted := f.recalculate(t, "agent-b", now)

	// 10 × 30 × 0.9
	assert.Equal(t, int64(270), boosted.ExternalBonus)
	assert.Equal(t, base.CurrentScore+270, boosted.CurrentScore)
}

func TestGet_NotFound(t *testing.T) {
	f := setup(t)

	_, err := f.svc.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrScoreNotFound)

	_, err = f.svc.Get(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidPrincipal)

	power, err := f.svc.VotingPower(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, int64(0), power)
}

func TestLeaderboardAndVotingPower(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for principal, score := range map[string]int64{"a": 400, "b": 1370, "c": 400, "z": 0} {
		require.NoError(t, f.repo.Save(ctx, f.db, &domain.ScoreRecord{
			Principal:    principal,
			CurrentScore: score,
			AvgRating:    "0.00",
			DecayFactor:  "1.000",
			LastUpdated:  now,
		}))
	}

	board, err := f.svc.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, board, 3)
	assert.Equal(t, "b", board[0].Principal)
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, "a", board[1].Principal)
	assert.Equal(t, "c", board[2].Principal)

	power, err := f.svc.VotingPower(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(37), power)
}

func TestUpdateBalanceKeepsLastUpdated(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.repo.UpdateBalance(ctx, f.db, "fresh", 50, now))
	record, err := f.repo.Get(ctx, f.db, "fresh")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, int64(50), record.CurrentScore)
	assert.Equal(t, now, record.LastUpdated)

	require.NoError(t, f.repo.UpdateBalance(ctx, f.db, "fresh", 42, now+500))
	record, err = f.repo.Get(ctx, f.db, "fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(42), record.CurrentScore)
	assert.Equal(t, now, record.LastUpdated)
}

func TestIsqrt(t *testing.T) {
	for v, want := range map[int64]int64{0: 0, 1: 1, 3: 1, 4: 2, 99: 9, 100: 10, 10_000: 100, -5: 0} {
		assert.Equal(t, want, isqrt(v), "isqrt(%d)", v)
	}
}
