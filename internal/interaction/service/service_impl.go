package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/karma/internal/apperror"
	identitydomain "github.com/smallbiznis/karma/internal/identity/domain"
	"github.com/smallbiznis/karma/internal/interaction/domain"
	obsmetrics "github.com/smallbiznis/karma/internal/observability/metrics"
	"github.com/smallbiznis/karma/internal/ratelimit"
	scoredomain "github.com/smallbiznis/karma/internal/score/domain"
	pkgdb "github.com/smallbiznis/karma/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Repo       domain.Repository
	Registry   identitydomain.Registry
	ScoreRepo  scoredomain.Repository
	Limiter    ratelimit.Limiter
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       domain.Repository
	registry   identitydomain.Registry
	scoreRepo  scoredomain.Repository
	limiter    ratelimit.Limiter
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("interaction.service"),
		repo:       p.Repo,
		registry:   p.Registry,
		scoreRepo:  p.ScoreRepo,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Timestamp(ctx context.Context, ref string) (int64, bool, error) {
	ix, err := s.repo.Get(ctx, s.db, strings.TrimSpace(ref))
	if err != nil {
		return 0, false, err
	}
	if ix == nil {
		return 0, false, nil
	}
	return ix.OccurredAt, true, nil
}

// Record logs an interaction initiated by req.Initiator. It counts against the
// initiator's "interaction" rate limit.
func (s *Service) Record(ctx context.Context, req domain.RecordRequest, now int64) (domain.Interaction, error) {
	ref := strings.TrimSpace(req.Ref)
	if !domain.ValidRef(ref) {
		return domain.Interaction{}, domain.ErrInvalidRef
	}
	initiator, ok := identitydomain.NormalizePrincipal(req.Initiator)
	if !ok {
		return domain.Interaction{}, domain.ErrInvalidPrincipal
	}
	counterparty, ok := identitydomain.NormalizePrincipal(req.Counterparty)
	if !ok {
		return domain.Interaction{}, domain.ErrInvalidPrincipal
	}
	if initiator == counterparty {
		return domain.Interaction{}, domain.ErrSelfInteraction
	}

	for _, principal := range []string{initiator, counterparty} {
		registered, err := s.registry.IsRegistered(ctx, principal)
		if err != nil {
			return domain.Interaction{}, err
		}
		if !registered {
			return domain.Interaction{}, apperror.With(domain.ErrPrincipalNotFound, "principal", principal)
		}
	}

	ix := domain.Interaction{
		Ref:          ref,
		Initiator:    initiator,
		Counterparty: counterparty,
		OccurredAt:   now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var karma int64
		record, err := s.scoreRepo.Get(ctx, tx, initiator)
		if err != nil {
			return err
		}
		if record != nil {
			karma = record.CurrentScore
		}

		decision, err := s.limiter.CheckAndConsume(ctx, tx, initiator, ratelimit.ActionInteraction, karma, now)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			s.obsMetrics.RecordRateLimitDenied(ctx, string(ratelimit.ActionInteraction), s.limiter.Backend())
			return apperror.With(ratelimit.ErrRateLimitExceeded, "reset_at", decision.ResetAt)
		}
		s.obsMetrics.RecordRateLimitAllowed(ctx, string(ratelimit.ActionInteraction))

		existing, err := s.repo.Get(ctx, tx, ref)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrDuplicateRef
		}
		if err := s.repo.Insert(ctx, tx, &ix); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateRef
			}
			return err
		}
		return nil
	})
	if err != nil {
		return domain.Interaction{}, err
	}

	s.log.Debug("interaction recorded",
		zap.String("ref", ref),
		zap.String("initiator", initiator),
		zap.String("counterparty", counterparty),
	)
	return ix, nil
}

func (s *Service) Get(ctx context.Context, ref string) (domain.Interaction, error) {
	ix, err := s.repo.Get(ctx, s.db, strings.TrimSpace(ref))
	if err != nil {
		return domain.Interaction{}, err
	}
	if ix == nil {
		return domain.Interaction{}, domain.ErrInteractionNotFound
	}
	return *ix, nil
}
