package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/karma/internal/ledger/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) GetTotals(ctx context.Context, db *gorm.DB, principal string) (*domain.BalanceRecord, error) {
	var record domain.BalanceRecord
	err := db.WithContext(ctx).Raw(
		`SELECT principal, earned_total, spent_total, updated_at
		 FROM karma_balances WHERE principal = ? LIMIT 1`,
		principal,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.Principal == "" {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) AddTotals(ctx context.Context, db *gorm.DB, principal string, earned, spent int64, at int64) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "principal"}},
		DoUpdates: clause.Assignments(map[string]any{
			"earned_total": gorm.Expr("karma_balances.earned_total + ?", earned),
			"spent_total":  gorm.Expr("karma_balances.spent_total + ?", spent),
			"updated_at":   at,
		}),
	}).Create(&domain.BalanceRecord{
		Principal:   principal,
		EarnedTotal: earned,
		SpentTotal:  spent,
		UpdatedAt:   at,
	}).Error
}

func (r *repo) InsertEntry(ctx context.Context, db *gorm.DB, entry *domain.LedgerEntry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO karma_ledger_entries (
			id, principal, source_type, source_id, direction, amount, balance_after, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Principal,
		string(entry.SourceType),
		entry.SourceID,
		string(entry.Direction),
		entry.Amount,
		entry.BalanceAfter,
		entry.OccurredAt,
	).Error
}

func (r *repo) ListEntries(ctx context.Context, db *gorm.DB, principal string, beforeID snowflake.ID, limit int) ([]domain.LedgerEntry, error) {
	var items []domain.LedgerEntry
	stmt := db.WithContext(ctx).Model(&domain.LedgerEntry{}).Where("principal = ?", principal)
	if beforeID != 0 {
		stmt = stmt.Where("id < ?", beforeID)
	}
	err := stmt.Order("id desc").Limit(limit + 1).Find(&items).Error
	return items, err
}
