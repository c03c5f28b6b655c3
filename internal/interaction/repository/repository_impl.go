package repository

import (
	"context"

	"github.com/smallbiznis/karma/internal/interaction/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, ref string) (*domain.Interaction, error) {
	var ix domain.Interaction
	err := db.WithContext(ctx).Raw(
		`SELECT ref, initiator, counterparty, occurred_at
		 FROM karma_interactions WHERE ref = ? LIMIT 1`,
		ref,
	).Scan(&ix).Error
	if err != nil {
		return nil, err
	}
	if ix.Ref == "" {
		return nil, nil
	}
	return &ix, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, ix *domain.Interaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO karma_interactions (ref, initiator, counterparty, occurred_at) VALUES (?, ?, ?, ?)`,
		ix.Ref, ix.Initiator, ix.Counterparty, ix.OccurredAt,
	).Error
}
