package service

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/karma/internal/config"
	"github.com/smallbiznis/karma/internal/observability/metrics"
	oracledomain "github.com/smallbiznis/karma/internal/oracle/domain"
	ratingdomain "github.com/smallbiznis/karma/internal/rating/domain"
	"github.com/smallbiznis/karma/internal/score/domain"
	"github.com/smallbiznis/karma/internal/scoring"
	"github.com/smallbiznis/karma/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Cfg        config.Config
	Repo       domain.Repository
	RatingRepo ratingdomain.Repository
	OracleRepo oracledomain.Repository
	Metrics    *metrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	params     scoring.Params
	repo       domain.Repository
	ratingRepo ratingdomain.Repository
	oracleRepo oracledomain.Repository
	metrics    *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("score.service"),
		genID: p.GenID,
		params: scoring.Params{
			FreshnessPerMille: p.Cfg.Karma.FreshnessPerMille,
		},
		repo:       p.Repo,
		ratingRepo: p.RatingRepo,
		oracleRepo: p.OracleRepo,
		metrics:    p.Metrics,
	}
}

func (s *Service) Recalculate(ctx context.Context, tx *gorm.DB, principal string, now int64, trigger string) (domain.ScoreRecord, error) {
	existing, err := s.repo.GetForUpdate(ctx, tx, principal)
	if err != nil {
		return domain.ScoreRecord{}, err
	}

	received, err := s.ratingRepo.ListReceived(ctx, tx, principal)
	if err != nil {
		return domain.ScoreRecord{}, err
	}

	ratings := make([]scoring.Rating, 0, len(received))
	raterSet := make(map[string]struct{}, len(received))
	raters := make([]string, 0, len(received))
	for _, r := range received {
		ratings = append(ratings, scoring.Rating{Rater: r.Rater, Score: r.Score, Timestamp: r.Timestamp})
		if _, ok := raterSet[r.Rater]; !ok {
			raterSet[r.Rater] = struct{}{}
			raters = append(raters, r.Rater)
		}
	}

	raterScores, err := s.repo.Scores(ctx, tx, raters)
	if err != nil {
		return domain.ScoreRecord{}, err
	}

	summaries, err := s.oracleRepo.List(ctx, tx, principal)
	if err != nil {
		return domain.ScoreRecord{}, err
	}
	external := make([]scoring.External, 0, len(summaries))
	for _, sum := range summaries {
		external = append(external, scoring.External{Type: sum.DataType, Value: sum.Value})
	}

	input := scoring.Input{
		Principal:   principal,
		Now:         now,
		Ratings:     ratings,
		RaterScores: raterScores,
		External:    external,
		Params:      s.params,
	}
	if existing != nil {
		input.Previous = &scoring.Previous{
			CurrentScore: existing.CurrentScore,
			LastUpdated:  existing.LastUpdated,
		}
	}

	result, err := scoring.Calculate(input)
	if err != nil {
		s.log.Error("score calculation failed", zap.String("principal", principal), zap.Error(err))
		return domain.ScoreRecord{}, err
	}

	record := domain.ScoreRecord{
		Principal:        principal,
		CurrentScore:     result.Score,
		AvgRating:        result.Factors.AvgRating(),
		RatingCount:      result.Factors.RatingCount,
		InteractionBonus: result.Factors.InteractionBonus,
		DecayFactor:      result.Factors.DecayFactor(),
		ExternalBonus:    result.Factors.ExternalBonus,
		InteractionCount: 1,
		LastUpdated:      now,
		VerificationHash: result.VerificationHash,
	}
	if existing != nil {
		record.PreviousScore = existing.CurrentScore
		record.InteractionCount = existing.InteractionCount + 1
	}

	if err := s.repo.Save(ctx, tx, &record); err != nil {
		return domain.ScoreRecord{}, err
	}

	history := domain.ScoreHistory{
		ID:               s.genID.Generate(),
		Principal:        principal,
		Timestamp:        now,
		CurrentScore:     record.CurrentScore,
		PreviousScore:    record.PreviousScore,
		AvgRating:        record.AvgRating,
		RatingCount:      record.RatingCount,
		InteractionBonus: record.InteractionBonus,
		DecayFactor:      record.DecayFactor,
		ExternalBonus:    record.ExternalBonus,
		Modifier:         result.Factors.Modifier,
		Trigger:          trigger,
		VerificationHash: record.VerificationHash,
	}
	if err := s.repo.AppendHistory(ctx, tx, &history); err != nil {
		return domain.ScoreRecord{}, err
	}

	s.metrics.RecordScoreRecalculated(ctx, trigger)
	s.log.Debug("score recalculated",
		zap.String("principal", principal),
		zap.Int64("previous", record.PreviousScore),
		zap.Int64("current", record.CurrentScore),
		zap.String("trigger", trigger),
	)
	return record, nil
}

func (s *Service) Get(ctx context.Context, principal string) (domain.ScoreRecord, error) {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return domain.ScoreRecord{}, domain.ErrInvalidPrincipal
	}
	record, err := s.repo.Get(ctx, s.db, principal)
	if err != nil {
		return domain.ScoreRecord{}, err
	}
	if record == nil {
		return domain.ScoreRecord{}, domain.ErrScoreNotFound
	}
	return *record, nil
}

func (s *Service) History(ctx context.Context, req domain.HistoryRequest) (domain.HistoryResponse, error) {
	principal := strings.TrimSpace(req.Principal)
	if principal == "" {
		return domain.HistoryResponse{}, domain.ErrInvalidPrincipal
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.HistoryResponse{}, domain.ErrInvalidPageToken
	}
	var beforeID snowflake.ID
	if cursor != nil {
		if beforeID, err = snowflake.ParseString(cursor.ID); err != nil {
			return domain.HistoryResponse{}, domain.ErrInvalidPageToken
		}
	}

	limit := pagination.Limit(req.PageSize)
	items, err := s.repo.ListHistory(ctx, s.db, principal, beforeID, limit)
	if err != nil {
		return domain.HistoryResponse{}, err
	}

	items, pageInfo, err := pagination.Trim(items, limit, func(h domain.ScoreHistory) pagination.Cursor {
		return pagination.Cursor{ID: h.ID.String()}
	})
	if err != nil {
		return domain.HistoryResponse{}, err
	}
	return domain.HistoryResponse{PageInfo: pageInfo, History: items}, nil
}

func (s *Service) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	records, err := s.repo.Leaderboard(ctx, s.db, pagination.Limit(limit))
	if err != nil {
		return nil, err
	}

	entries := make([]domain.LeaderboardEntry, 0, len(records))
	for i, r := range records {
		entries = append(entries, domain.LeaderboardEntry{
			Rank:         i + 1,
			Principal:    r.Principal,
			CurrentScore: r.CurrentScore,
			RatingCount:  r.RatingCount,
		})
	}
	return entries, nil
}

// VotingPower is the integer square root of the current score. Principals
// without a score have no voting power.
func (s *Service) VotingPower(ctx context.Context, principal string) (int64, error) {
	record, err := s.Get(ctx, principal)
	if errors.Is(err, domain.ErrScoreNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return isqrt(record.CurrentScore), nil
}

func isqrt(v int64) int64 {
	if v <= 0 {
		return 0
	}
	r := int64(math.Sqrt(float64(v)))
	for r*r > v {
		r--
	}
	for (r+1)*(r+1) <= v {
		r++
	}
	return r
}
