package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	abusedomain "github.com/smallbiznis/karma/internal/abuse/domain"
	"github.com/smallbiznis/karma/internal/apperror"
	"github.com/smallbiznis/karma/internal/config"
	identitydomain "github.com/smallbiznis/karma/internal/identity/domain"
	interactiondomain "github.com/smallbiznis/karma/internal/interaction/domain"
	"github.com/smallbiznis/karma/internal/karma/domain"
	ledgerdomain "github.com/smallbiznis/karma/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/karma/internal/observability/metrics"
	oracledomain "github.com/smallbiznis/karma/internal/oracle/domain"
	"github.com/smallbiznis/karma/internal/ratelimit"
	ratingdomain "github.com/smallbiznis/karma/internal/rating/domain"
	scoredomain "github.com/smallbiznis/karma/internal/score/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Cfg          config.Config
	Identity     identitydomain.Service
	Registry     identitydomain.Registry
	Interactions interactiondomain.Log
	Ratings      ratingdomain.Repository
	RatingSvc    ratingdomain.Service
	Scores       scoredomain.Repository
	ScoreSvc     scoredomain.Service
	OracleRepo   oracledomain.Repository
	Ledger       ledgerdomain.Service
	Limiter      ratelimit.Limiter
	Serializer   ratelimit.Serializer
	KarmaPolicy  *config.KarmaHolder `optional:"true"`
	AbuseSvc     abusedomain.Service `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	policy       *config.KarmaHolder
	identity     identitydomain.Service
	registry     identitydomain.Registry
	interactions interactiondomain.Log
	ratings      ratingdomain.Repository
	ratingSvc    ratingdomain.Service
	scores       scoredomain.Repository
	scoreSvc     scoredomain.Service
	oracleRepo   oracledomain.Repository
	ledger       ledgerdomain.Service
	limiter      ratelimit.Limiter
	serializer   ratelimit.Serializer
	abuseSvc     abusedomain.Service
	obsMetrics   *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	policy := p.KarmaPolicy
	if policy == nil {
		policy = config.NewStaticKarmaHolder(p.Cfg.Karma)
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("karma.service"),
		genID:        p.GenID,
		policy:       policy,
		identity:     p.Identity,
		registry:     p.Registry,
		interactions: p.Interactions,
		ratings:      p.Ratings,
		ratingSvc:    p.RatingSvc,
		scores:       p.Scores,
		scoreSvc:     p.ScoreSvc,
		oracleRepo:   p.OracleRepo,
		ledger:       p.Ledger,
		limiter:      p.Limiter,
		serializer:   p.Serializer,
		abuseSvc:     p.AbuseSvc,
		obsMetrics:   p.ObsMetrics,
	}
}

func (s *Service) RegisterPrincipal(ctx context.Context, principal string, now int64) (domain.Registration, error) {
	policy := s.policy.Get()
	principal, ok := identitydomain.NormalizePrincipal(principal)
	if !ok {
		return domain.Registration{}, domain.ErrInvalidPrincipal
	}

	var out domain.Registration
	err := s.serializer.Do(ctx, principal, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			agent, err := s.identity.Register(ctx, tx, principal, now)
			if err != nil {
				return err
			}

			if policy.InitialScore > 0 {
				if _, err := s.ledger.Grant(ctx, tx, ledgerdomain.Mutation{
					Principal: principal,
					Amount:    policy.InitialScore,
					At:        now,
				}); err != nil {
					return err
				}
			} else if err := s.scores.UpdateBalance(ctx, tx, principal, 0, now); err != nil {
				return err
			}

			record, err := s.scores.Get(ctx, tx, principal)
			if err != nil {
				return err
			}
			out = domain.Registration{Agent: agent}
			if record != nil {
				out.Score = *record
			}
			return nil
		})
	})
	if err != nil {
		return domain.Registration{}, err
	}
	return out, nil
}

func (s *Service) SubmitRating(ctx context.Context, req domain.SubmitRatingRequest, now int64) (ratingdomain.Rating, error) {
	rating, err := s.submitRating(ctx, req, now)
	if err != nil {
		s.obsMetrics.RecordRatingRejected(ctx, apperror.CodeOf(err))
		return ratingdomain.Rating{}, err
	}
	s.obsMetrics.RecordRatingSubmitted(ctx, rating.Score)
	return rating, nil
}

func (s *Service) submitRating(ctx context.Context, req domain.SubmitRatingRequest, now int64) (ratingdomain.Rating, error) {
	policy := s.policy.Get()
	if req.Score < domain.MinScore || req.Score > domain.MaxScore {
		return ratingdomain.Rating{}, apperror.With(domain.ErrInvalidScore, "score", req.Score)
	}
	ref := strings.TrimSpace(req.InteractionRef)
	if !interactiondomain.ValidRef(ref) {
		return ratingdomain.Rating{}, domain.ErrInvalidRef
	}
	var feedback *string
	if req.Feedback != nil {
		trimmed := strings.TrimSpace(*req.Feedback)
		if len(trimmed) > domain.MaxFeedbackLength {
			return ratingdomain.Rating{}, domain.ErrFeedbackTooLong
		}
		if trimmed != "" {
			feedback = &trimmed
		}
	}
	rater, ok := identitydomain.NormalizePrincipal(req.Rater)
	if !ok {
		return ratingdomain.Rating{}, domain.ErrInvalidPrincipal
	}
	rated, ok := identitydomain.NormalizePrincipal(req.Rated)
	if !ok {
		return ratingdomain.Rating{}, domain.ErrInvalidPrincipal
	}
	if rater == rated {
		return ratingdomain.Rating{}, domain.ErrSelfRating
	}

	for _, principal := range []string{rater, rated} {
		if err := s.requireRegistered(ctx, principal); err != nil {
			return ratingdomain.Rating{}, err
		}
	}

	interactionAt, found, err := s.interactions.Timestamp(ctx, ref)
	if err != nil {
		return ratingdomain.Rating{}, err
	}

	var out ratingdomain.Rating
	err = s.serializer.Do(ctx, rater, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			raterRecord, err := s.scores.GetForUpdate(ctx, tx, rater)
			if err != nil {
				return err
			}
			var raterScore int64
			if raterRecord != nil {
				raterScore = raterRecord.CurrentScore
			}
			if raterScore < policy.MinRatingKarma {
				return apperror.With(domain.ErrInsufficientKarma, "required", policy.MinRatingKarma)
			}

			decision, err := s.limiter.CheckAndConsume(ctx, tx, rater, ratelimit.ActionRating, raterScore, now)
			if err != nil {
				return err
			}
			if !decision.Allowed {
				s.obsMetrics.RecordRateLimitDenied(ctx, string(ratelimit.ActionRating), s.limiter.Backend())
				return apperror.With(ratelimit.ErrRateLimitExceeded, "reset_at", decision.ResetAt)
			}
			s.obsMetrics.RecordRateLimitAllowed(ctx, string(ratelimit.ActionRating))

			exists, err := s.ratings.Exists(ctx, tx, ref, rater)
			if err != nil {
				return err
			}
			if exists {
				return ratingdomain.ErrDuplicateRating
			}

			if !found {
				return domain.ErrInteractionNotFound
			}
			if now-interactionAt > policy.RatingWindowSecs {
				return domain.ErrRatingWindowExpired
			}

			rating := ratingdomain.Rating{
				ID:             s.genID.Generate(),
				InteractionRef: ref,
				Rater:          rater,
				Rated:          rated,
				Score:          req.Score,
				Feedback:       feedback,
				Timestamp:      now,
			}

			if policy.RatingFee > 0 {
				// the rater's weight reflects the balance left after the fee
				raterScore, err = s.ledger.Spend(ctx, tx, ledgerdomain.Mutation{
					Principal:  rater,
					Amount:     policy.RatingFee,
					SourceType: ledgerdomain.SourceTypeRatingFee,
					SourceID:   rating.ID.String(),
					At:         now,
				})
				if err != nil {
					return err
				}
				rating.FeePaid = policy.RatingFee
			}

			seq, err := s.ratings.NextSequence(ctx, tx)
			if err != nil {
				return err
			}
			rating.SequenceNo = seq
			if err := s.ratings.Insert(ctx, tx, &rating); err != nil {
				return err
			}

			if err := s.settleRatee(ctx, tx, &rating, raterScore); err != nil {
				return err
			}
			if _, err := s.scoreSvc.Recalculate(ctx, tx, rated, now, scoredomain.TriggerRating); err != nil {
				return err
			}

			if policy.DetectOnSubmit && s.abuseSvc != nil {
				if _, err := s.abuseSvc.RunDetectionTx(ctx, tx, rater, now); err != nil {
					return err
				}
			}

			out = rating
			return nil
		})
	})
	if err != nil {
		return ratingdomain.Rating{}, err
	}

	s.log.Info("rating submitted",
		zap.String("rating_id", out.ID.String()),
		zap.String("rater", out.Rater),
		zap.String("rated", out.Rated),
		zap.Int("score", out.Score),
		zap.Int64("sequence_no", out.SequenceNo),
	)
	return out, nil
}

// settleRatee applies the earning or penalty of a rating to the rated balance.
func (s *Service) settleRatee(ctx context.Context, tx *gorm.DB, rating *ratingdomain.Rating, raterScore int64) error {
	m := ledgerdomain.Mutation{
		Principal: rating.Rated,
		SourceID:  rating.ID.String(),
		At:        rating.Timestamp,
	}
	if award := domain.RatingAward(rating.Score, raterScore); award > 0 {
		m.Amount = award
		m.SourceType = ledgerdomain.SourceTypeRatingAward
		_, err := s.ledger.Award(ctx, tx, m)
		return err
	}
	if penalty := domain.RatingPenalty(rating.Score); penalty > 0 {
		m.Amount = penalty
		m.SourceType = ledgerdomain.SourceTypeRatingPenalty
		_, err := s.ledger.Penalize(ctx, tx, m)
		return err
	}
	return nil
}

func (s *Service) RecalculateScore(ctx context.Context, principal string, now int64) (scoredomain.ScoreRecord, error) {
	principal, ok := identitydomain.NormalizePrincipal(principal)
	if !ok {
		return scoredomain.ScoreRecord{}, domain.ErrInvalidPrincipal
	}
	if err := s.requireRegistered(ctx, principal); err != nil {
		return scoredomain.ScoreRecord{}, err
	}
	return s.recalculate(ctx, principal, now, scoredomain.TriggerManual, nil)
}

func (s *Service) ProcessOracleData(ctx context.Context, principal string, entries []oracledomain.Entry, now int64) (scoredomain.ScoreRecord, error) {
	principal, ok := identitydomain.NormalizePrincipal(principal)
	if !ok {
		return scoredomain.ScoreRecord{}, domain.ErrInvalidPrincipal
	}
	if len(entries) == 0 {
		return scoredomain.ScoreRecord{}, domain.ErrEmptyOracleData
	}
	for i, entry := range entries {
		if !entry.Verified {
			return scoredomain.ScoreRecord{}, apperror.With(oracledomain.ErrVerificationFailed, "index", i)
		}
	}

	summaries := make([]oracledomain.Summary, 0, len(entries))
	for _, entry := range entries {
		value, known, err := oracledomain.Parse(entry)
		if err != nil {
			return scoredomain.ScoreRecord{}, err
		}
		if !known {
			s.log.Debug("ignoring oracle entry", zap.String("principal", principal), zap.String("type", entry.Type))
			continue
		}
		observedAt := entry.ObservedAt
		if observedAt == 0 {
			observedAt = now
		}
		summaries = append(summaries, oracledomain.Summary{
			Principal:  principal,
			DataType:   entry.Type,
			Value:      value,
			Payload:    datatypes.JSON(entry.Payload),
			ObservedAt: observedAt,
			ReceivedAt: now,
		})
	}

	if err := s.requireRegistered(ctx, principal); err != nil {
		return scoredomain.ScoreRecord{}, err
	}

	return s.recalculate(ctx, principal, now, scoredomain.TriggerOracle, func(tx *gorm.DB) error {
		for i := range summaries {
			if err := s.oracleRepo.Upsert(ctx, tx, &summaries[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// recalculate runs before (if set) and a score recalculation in one
// transaction under the principal's lock.
func (s *Service) recalculate(ctx context.Context, principal string, now int64, trigger string, before func(tx *gorm.DB) error) (scoredomain.ScoreRecord, error) {
	var out scoredomain.ScoreRecord
	err := s.serializer.Do(ctx, principal, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if before != nil {
				if err := before(tx); err != nil {
					return err
				}
			}
			record, err := s.scoreSvc.Recalculate(ctx, tx, principal, now, trigger)
			if err != nil {
				return err
			}
			out = record
			return nil
		})
	})
	if err != nil {
		return scoredomain.ScoreRecord{}, err
	}
	return out, nil
}

func (s *Service) GetScore(ctx context.Context, principal string) (scoredomain.ScoreRecord, error) {
	return s.scoreSvc.Get(ctx, principal)
}

func (s *Service) GetScoreHistory(ctx context.Context, req scoredomain.HistoryRequest) (scoredomain.HistoryResponse, error) {
	return s.scoreSvc.History(ctx, req)
}

func (s *Service) GetRatings(ctx context.Context, req ratingdomain.ListRequest) (ratingdomain.ListResponse, error) {
	return s.ratingSvc.List(ctx, req)
}

func (s *Service) GetLeaderboard(ctx context.Context, limit int) ([]scoredomain.LeaderboardEntry, error) {
	return s.scoreSvc.Leaderboard(ctx, limit)
}

func (s *Service) GetVotingPower(ctx context.Context, principal string) (int64, error) {
	return s.scoreSvc.VotingPower(ctx, principal)
}

func (s *Service) GetRateLimitStatus(ctx context.Context, principal string, action string, now int64) (ratelimit.Decision, error) {
	principal, ok := identitydomain.NormalizePrincipal(principal)
	if !ok {
		return ratelimit.Decision{}, domain.ErrInvalidPrincipal
	}
	act := ratelimit.Action(strings.ToLower(strings.TrimSpace(action)))
	if act == "" {
		return ratelimit.Decision{}, ratelimit.ErrInvalidAction
	}

	var karma int64
	record, err := s.scores.Get(ctx, s.db, principal)
	if err != nil {
		return ratelimit.Decision{}, err
	}
	if record != nil {
		karma = record.CurrentScore
	}
	return s.limiter.Status(ctx, principal, act, karma, now)
}

func (s *Service) GetBalance(ctx context.Context, principal string) (ledgerdomain.Balance, error) {
	return s.ledger.GetBalance(ctx, principal)
}

func (s *Service) requireRegistered(ctx context.Context, principal string) error {
	registered, err := s.registry.IsRegistered(ctx, principal)
	if err != nil {
		return err
	}
	if !registered {
		return apperror.With(domain.ErrPrincipalNotFound, "principal", principal)
	}
	return nil
}
