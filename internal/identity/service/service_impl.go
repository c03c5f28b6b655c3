package service

import (
	"context"
	"time"

	"github.com/smallbiznis/karma/internal/cache"
	"github.com/smallbiznis/karma/internal/identity/domain"
	pkgdb "github.com/smallbiznis/karma/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const registeredTTL = 30 * time.Second

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	cache cache.Cache[string, bool]
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("identity.service"),
		repo:  p.Repo,
		cache: cache.NewTTLCache[string, bool](),
	}
}

// IsRegistered reports whether principal exists and is active.
func (s *Service) IsRegistered(ctx context.Context, principal string) (bool, error) {
	principal, ok := domain.NormalizePrincipal(principal)
	if !ok {
		return false, nil
	}
	if active, ok := s.cache.Get(principal); ok {
		return active, nil
	}

	agent, err := s.repo.Get(ctx, s.db, principal)
	if err != nil {
		return false, err
	}
	active := agent != nil && agent.Active
	s.cache.Set(principal, active, registeredTTL)
	return active, nil
}

func (s *Service) Register(ctx context.Context, tx *gorm.DB, principal string, now int64) (domain.Agent, error) {
	principal, ok := domain.NormalizePrincipal(principal)
	if !ok {
		return domain.Agent{}, domain.ErrInvalidPrincipal
	}
	if tx == nil {
		tx = s.db
	}

	existing, err := s.repo.Get(ctx, tx, principal)
	if err != nil {
		return domain.Agent{}, err
	}
	if existing != nil {
		return domain.Agent{}, domain.ErrAlreadyRegistered
	}

	agent := domain.Agent{Principal: principal, Active: true, RegisteredAt: now}
	if err := s.repo.Insert(ctx, tx, &agent); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return domain.Agent{}, domain.ErrAlreadyRegistered
		}
		return domain.Agent{}, err
	}
	s.cache.Delete(principal)

	s.log.Info("agent registered", zap.String("principal", principal))
	return agent, nil
}

func (s *Service) Deactivate(ctx context.Context, principal string, now int64) (domain.Agent, error) {
	principal, ok := domain.NormalizePrincipal(principal)
	if !ok {
		return domain.Agent{}, domain.ErrInvalidPrincipal
	}

	var out domain.Agent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		agent, err := s.repo.Get(ctx, tx, principal)
		if err != nil {
			return err
		}
		if agent == nil {
			return domain.ErrAgentNotFound
		}
		if !agent.Active {
			return domain.ErrAlreadyDeactivated
		}
		if err := s.repo.Deactivate(ctx, tx, principal, now); err != nil {
			return err
		}
		agent.Active = false
		agent.DeactivatedAt = &now
		out = *agent
		return nil
	})
	if err != nil {
		return domain.Agent{}, err
	}
	s.cache.Delete(principal)

	s.log.Info("agent deactivated", zap.String("principal", principal))
	return out, nil
}

func (s *Service) Get(ctx context.Context, principal string) (domain.Agent, error) {
	principal, ok := domain.NormalizePrincipal(principal)
	if !ok {
		return domain.Agent{}, domain.ErrInvalidPrincipal
	}
	agent, err := s.repo.Get(ctx, s.db, principal)
	if err != nil {
		return domain.Agent{}, err
	}
	if agent == nil {
		return domain.Agent{}, domain.ErrAgentNotFound
	}
	return *agent, nil
}
