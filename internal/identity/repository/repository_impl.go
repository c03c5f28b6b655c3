package repository

import (
	"context"

	"github.com/smallbiznis/karma/internal/identity/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, principal string) (*domain.Agent, error) {
	var agent domain.Agent
	err := db.WithContext(ctx).Raw(
		`SELECT principal, active, registered_at, deactivated_at
		 FROM karma_agents WHERE principal = ? LIMIT 1`,
		principal,
	).Scan(&agent).Error
	if err != nil {
		return nil, err
	}
	if agent.Principal == "" {
		return nil, nil
	}
	return &agent, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, agent *domain.Agent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO karma_agents (principal, active, registered_at) VALUES (?, ?, ?)`,
		agent.Principal, agent.Active, agent.RegisteredAt,
	).Error
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, principal string, at int64) error {
	return db.WithContext(ctx).Exec(
		`UPDATE karma_agents SET active = ?, deactivated_at = ? WHERE principal = ?`,
		false, at, principal,
	).Error
}
