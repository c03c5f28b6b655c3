package repository

import (
	"context"

	"github.com/smallbiznis/karma/internal/oracle/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, summary *domain.Summary) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "principal"}, {Name: "data_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "payload", "observed_at", "received_at"}),
	}).Create(summary).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, principal string) ([]domain.Summary, error) {
	var items []domain.Summary
	err := db.WithContext(ctx).Raw(
		`SELECT principal, data_type, value, payload, observed_at, received_at
		 FROM karma_oracle_summaries WHERE principal = ? ORDER BY data_type ASC`,
		principal,
	).Scan(&items).Error
	return items, err
}
