package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/karma/internal/apperror"
	"github.com/smallbiznis/karma/internal/config"
	identitydomain "github.com/smallbiznis/karma/internal/identity/domain"
	identityrepo "github.com/smallbiznis/karma/internal/identity/repository"
	identityservice "github.com/smallbiznis/karma/internal/identity/service"
	interactiondomain "github.com/smallbiznis/karma/internal/interaction/domain"
	"github.com/smallbiznis/karma/internal/karma/domain"
	ledgerdomain "github.com/smallbiznis/karma/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/karma/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/karma/internal/ledger/service"
	oracledomain "github.com/smallbiznis/karma/internal/oracle/domain"
	oraclerepo "github.com/smallbiznis/karma/internal/oracle/repository"
	"github.com/smallbiznis/karma/internal/ratelimit"
	ratingdomain "github.com/smallbiznis/karma/internal/rating/domain"
	ratingrepo "github.com/smallbiznis/karma/internal/rating/repository"
	ratingservice "github.com/smallbiznis/karma/internal/rating/service"
	scoredomain "github.com/smallbiznis/karma/internal/score/domain"
	scorerepo "github.com/smallbiznis/karma/internal/score/repository"
	scoreservice "github.com/smallbiznis/karma/internal/score/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const now = int64(1_760_000_000)

type fixture struct {
	db       *gorm.DB
	svc      domain.Service
	identity identitydomain.Service
	ledger   ledgerdomain.Service
	oracle   oracledomain.Repository
	refs     int
}

type options struct {
	registry     identitydomain.Registry
	interactions interactiondomain.Log
	policy       *config.KarmaHolder
}

func setup(t *testing.T, opts options) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&identitydomain.Agent{},
		&ratingdomain.Rating{},
		&ratingdomain.Sequence{},
		&scoredomain.ScoreRecord{},
		&scoredomain.ScoreHistory{},
		&oracledomain.Summary{},
		&ledgerdomain.BalanceRecord{},
		&ledgerdomain.LedgerEntry{},
		&ratelimit.Tracker{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()
	cfg := config.Config{Karma: config.DefaultKarmaConfig()}

	scores := scorerepo.Provide()
	ratings := ratingrepo.Provide()
	oracle := oraclerepo.Provide()

	identity := identityservice.NewService(identityservice.Params{DB: db, Log: log, Repo: identityrepo.Provide()})
	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB: db, Log: log, GenID: node, Repo: ledgerrepo.Provide(), ScoreRepo: scores,
	})
	scoreSvc := scoreservice.NewService(scoreservice.Params{
		DB: db, Log: log, GenID: node, Cfg: cfg, Repo: scores, RatingRepo: ratings, OracleRepo: oracle,
	})
	ratingSvc := ratingservice.NewService(ratingservice.Params{DB: db, Log: log, Repo: ratings})

	if opts.registry == nil {
		opts.registry = identity
	}
	if opts.interactions == nil {
		ctrl := gomock.NewController(t)
		mockLog := interactiondomain.NewMockLog(ctrl)
		mockLog.EXPECT().Timestamp(gomock.Any(), gomock.Any()).Return(now-60, true, nil).AnyTimes()
		opts.interactions = mockLog
	}

	svc := NewService(Params{
		DB:           db,
		Log:          log,
		GenID:        node,
		Cfg:          cfg,
		Identity:     identity,
		Registry:     opts.registry,
		Interactions: opts.interactions,
		Ratings:      ratings,
		RatingSvc:    ratingSvc,
		Scores:       scores,
		ScoreSvc:     scoreSvc,
		OracleRepo:   oracle,
		Ledger:       ledger,
		Limiter:      ratelimit.NewSQLLimiter(db),
		Serializer:   ratelimit.NewSerializer(nil),
		KarmaPolicy:  opts.policy,
	})
	return &fixture{db: db, svc: svc, identity: identity, ledger: ledger, oracle: oracle}
}

func (f *fixture) register(t *testing.T, principals ...string) {
	t.Helper()
	for _, p := range principals {
		_, err := f.svc.RegisterPrincipal(context.Background(), p, now-3600)
		require.NoError(t, err)
	}
}

func (f *fixture) grant(t *testing.T, principal string, amount int64) {
	t.Helper()
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.ledger.Grant(context.Background(), tx, ledgerdomain.Mutation{Principal: principal, Amount: amount, At: now - 3600})
		return err
	}))
}

func (f *fixture) nextRef() string {
	f.refs++
	return fmt.Sprintf("ix:%08d", f.refs)
}

func (f *fixture) rate(rater, rated string, score int) (ratingdomain.Rating, error) {
	return f.svc.SubmitRating(context.Background(), domain.SubmitRatingRequest{
		Rater:          rater,
		Rated:          rated,
		Score:          score,
		InteractionRef: f.nextRef(),
	}, now)
}

func (f *fixture) score(t *testing.T, principal string) int64 {
	t.Helper()
	record, err := f.svc.GetScore(context.Background(), principal)
	require.NoError(t, err)
	return record.CurrentScore
}

func TestRegisterPrincipal(t *testing.T) {
	f := setup(t, options{})

	reg, err := f.svc.RegisterPrincipal(context.Background(), "agent-1", now)
	require.NoError(t, err)
	assert.True(t, reg.Agent.Active)
	assert.Equal(t, int64(50), reg.Score.CurrentScore)

	balance, err := f.svc.GetBalance(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance.Balance)

	_, err = f.svc.RegisterPrincipal(context.Background(), "agent-1", now)
	assert.ErrorIs(t, err, identitydomain.ErrAlreadyRegistered)
}

func TestSubmitRating_TwelveHighRatingsRaiseScore(t *testing.T) {
	f := setup(t, options{})
	f.register(t, "target", "r1", "r2", "r3", "r4")
	before := f.score(t, "target")

	raters := []string{"r1", "r2", "r3", "r4"}
	for i := 0; i < 12; i++ {
		score := 9 + i%2
		rating, err := f.rate(raters[i%len(raters)], "target", score)
		require.NoError(t, err)
		assert.Equal(t, int64(2), rating.FeePaid)
	}

	after := f.score(t, "target")
	assert.Greater(t, after-before, int64(500))

	history, err := f.svc.GetScoreHistory(context.Background(), scoredomain.HistoryRequest{Principal: "target"})
	require.NoError(t, err)
	assert.Len(t, history.History, 12)

	given, err := f.svc.GetRatings(context.Background(), ratingdomain.ListRequest{Principal: "r1", Role: ratingdomain.RoleGiven})
	require.NoError(t, err)
	assert.Len(t, given.Ratings, 3)
}

func TestSubmitRating_UsesCurrentPolicy(t *testing.T) {
	policy := config.DefaultKarmaConfig()
	policy.RatingFee = 0
	f := setup(t, options{policy: config.NewStaticKarmaHolder(policy)})
	f.register(t, "target", "r1")

	rating, err := f.rate("r1", "target", 8)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rating.FeePaid)
}

func TestSubmitRating_TrustedRaterMovesScoreMore(t *testing.T) {
	f := setup(t, options{})
	f.register(t, "whale", "minnow", "a", "b")
	f.grant(t, "whale", 1450)
	require.Equal(t, int64(1500), f.score(t, "whale"))

	_, err := f.rate("whale", "a", 10)
	require.NoError(t, err)
	_, err = f.rate("minnow", "b", 10)
	require.NoError(t, err)

	assert.Greater(t, f.score(t, "a")-50, f.score(t, "b")-50)
}

func TestSubmitRating_AwardTierUsesBalanceAfterFee(t *testing.T) {
	f := setup(t, options{})
	f.register(t, "rater", "rated")
	f.grant(t, "rater", 451)
	require.Equal(t, int64(501), f.score(t, "rater"))

	rating, err := f.rate("rater", "rated", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rating.FeePaid)

	var award ledgerdomain.LedgerEntry
	require.NoError(t, f.db.
		Where("principal = ? AND source_type = ?", "rated", ledgerdomain.SourceTypeRatingAward).
		First(&award).Error)
	assert.Equal(t, int64(62), award.Amount)
}

func TestSubmitRating_EleventhRatingRateLimited(t *testing.T) {
	f := setup(t, options{})
	f.register(t, "rater", "rated")

	for i := 0; i < 10; i++ {
		_, err := f.rate("rater", "rated", 7)
		require.NoError(t, err)
	}

	_, err := f.rate("rater", "rated", 7)
	require.ErrorIs(t, err, ratelimit.ErrRateLimitExceeded)
	assert.Equal(t, apperror.KindResource, apperror.KindOf(err))

	status, err := f.svc.GetRateLimitStatus(context.Background(), "rater", "rating", now)
	require.NoError(t, err)
	assert.False(t, status.Allowed)
	assert.Equal(t, int64(10), status.Limit)
	assert.Equal(t, int64(0), status.Remaining)

	balance, err := f.svc.GetBalance(context.Background(), "rater")
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance.Balance)
	assert.Equal(t, int64(20), balance.SpentTotal)
}

func TestSubmitRating_DuplicateRejected(t *testing.T) {
	f := setup(t, options{})
	f.register(t, "rater", "rated")
	ctx := context.Background()
	req := domain.SubmitRatingRequest{Rater: "rater", Rated: "rated", Score: 8, InteractionRef: "ix:shared01"}

	_, err := f.svc.SubmitRating(ctx, req, now)
	require.NoError(t, err)
	_, err = f.svc.SubmitRating(ctx, req, now)
	assert.ErrorIs(t, err, ratingdomain.ErrDuplicateRating)

	status, err := f.svc.GetRateLimitStatus(ctx, "rater", "rating", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.Count)
}

func TestSubmitRating_ScoreBounds(t *testing.T) {
	f := setup(t, options{})
	f.register(t, "rater", "rated")

	_, errLow := f.rate("rater", "rated", 0)
	_, errHigh := f.rate("rater", "rated", 11)
	require.ErrorIs(t, errLow, domain.ErrInvalidScore)
	require.ErrorIs(t, errHigh, domain.ErrInvalidScore)
	assert.Equal(t, apperror.KindOf(errLow), apperror.KindOf(errHigh))
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(errLow))

	for score := domain.MinScore; score <= domain.MaxScore; score++ {
		_, err := f.rate("rater", "rated", score)
		require.NoError(t, err, "score %d", score)
	}
}

func TestSubmitRating_Rejections(t *testing.T) {
	f := setup(t, options{})
	f.register(t, "rater", "rated")

	_, err := f.rate("rater", "rater", 8)
	assert.ErrorIs(t, err, domain.ErrSelfRating)
	assert.Equal(t, apperror.KindAuthorization, apperror.KindOf(err))

	_, err = f.rate("rater", "stranger", 8)
	assert.ErrorIs(t, err, domain.ErrPrincipalNotFound)

	_, err = f.svc.SubmitRating(context.Background(), domain.SubmitRatingRequest{
		Rater: "rater", Rated: "rated", Score: 8, InteractionRef: "bad ref",
	}, now)
	assert.ErrorIs(t, err, domain.ErrInvalidRef)
}

func TestSubmitRating_InsufficientKarma(t *testing.T) {
	f := setup(t, options{})
	f.register(t, "broke", "rated")
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.ledger.Penalize(context.Background(), tx, ledgerdomain.Mutation{
			Principal: "broke", Amount: 45, SourceType: ledgerdomain.SourceTypeAbusePenalty, At: now,
		})
		return err
	}))

	_, err := f.rate("broke", "rated", 8)
	assert.ErrorIs(t, err, domain.ErrInsufficientKarma)
}

func TestSubmitRating_InteractionWindow(t *testing.T) {
	ctrl := gomock.NewController(t)
	log := interactiondomain.NewMockLog(ctrl)
	log.EXPECT().Timestamp(gomock.Any(), "ix:expired1").Return(now-86_401, true, nil)
	log.EXPECT().Timestamp(gomock.Any(), "ix:unknown1").Return(int64(0), false, nil)
	log.EXPECT().Timestamp(gomock.Any(), "ix:edge0001").Return(now-86_400, true, nil)

	f := setup(t, options{interactions: log})
	f.register(t, "rater", "rated")
	ctx := context.Background()

	_, err := f.svc.SubmitRating(ctx, domain.SubmitRatingRequest{Rater: "rater", Rated: "rated", Score: 8, InteractionRef: "ix:expired1"}, now)
	assert.ErrorIs(t, err, domain.ErrRatingWindowExpired)

	_, err = f.svc.SubmitRating(ctx, domain.SubmitRatingRequest{Rater: "rater", Rated: "rated", Score: 8, InteractionRef: "ix:unknown1"}, now)
	assert.ErrorIs(t, err, domain.ErrInteractionNotFound)

	_, err = f.svc.SubmitRating(ctx, domain.SubmitRatingRequest{Rater: "rater", Rated: "rated", Score: 8, InteractionRef: "ix:edge0001"}, now)
	assert.NoError(t, err)
}

func TestSubmitRating_UnregisteredRater(t *testing.T) {
	ctrl := gomock.NewController(t)
	registry := identitydomain.NewMockRegistry(ctrl)
	registry.EXPECT().IsRegistered(gomock.Any(), "ghost").Return(false, nil)

	f := setup(t, options{registry: registry})

	_, err := f.rate("ghost", "rated", 8)
	assert.ErrorIs(t, err, domain.ErrPrincipalNotFound)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestProcessOracleData(t *testing.T) {
	f := setup(t, options{})
	f.register(t, "agent", "peer")
	ctx := context.Background()
	base, err := f.rate("peer", "agent", 5)
	require.NoError(t, err)
	require.Equal(t, 5, base.Score)

	_, err = f.svc.ProcessOracleData(ctx, "agent", []oracledomain.Entry{
		{Type: "performance", Payload: json.RawMessage(`{"value": 10}`), Verified: true},
		{Type: "sentiment", Payload: json.RawMessage(`{"value": 10}`), Verified: false},
	}, now)
	require.ErrorIs(t, err, oracledomain.ErrVerificationFailed)
	stored, err := f.oracle.List(ctx, f.db, "agent")
	require.NoError(t, err)
	assert.Empty(t, stored)

	record, err := f.svc.ProcessOracleData(ctx, "agent", []oracledomain.Entry{
		{Type: "performance", Payload: json.RawMessage(`{"value": 10}`), Verified: true},
		{Type: "weather", Payload: json.RawMessage(`{"value": 99}`), Verified: true},
	}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(270), record.ExternalBonus)

	stored, err = f.oracle.List(ctx, f.db, "agent")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, int64(10), stored[0].Value)
}

func TestRecalculateScore_DecaysInactivePrincipal(t *testing.T) {
	f := setup(t, options{})
	f.register(t, "idle")
	f.grant(t, "idle", 50)

	record, err := f.svc.RecalculateScore(context.Background(), "idle", now-3600+60*86_400)
	require.NoError(t, err)
	assert.Less(t, record.CurrentScore, int64(100))
	assert.Equal(t, int64(100), record.PreviousScore)

	power, err := f.svc.GetVotingPower(context.Background(), "idle")
	require.NoError(t, err)
	assert.Equal(t, int64(9), power)
}
