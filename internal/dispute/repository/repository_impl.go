package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	disputedomain "github.com/smallbiznis/karma/internal/dispute/domain"
	pkgdb "github.com/smallbiznis/karma/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() disputedomain.Repository {
	return &repo{}
}

const disputeColumns = `id, violation_id, challenger, stake_amount, evidence, status,
	created_at, resolved_at, resolution, resolved_by`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, c *disputedomain.DisputeCase) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO karma_disputes (
			id, violation_id, challenger, stake_amount, evidence, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.ViolationID,
		c.Challenger,
		c.StakeAmount,
		c.Evidence,
		string(c.Status),
		c.CreatedAt,
	).Error
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, id snowflake.ID) (*disputedomain.DisputeCase, error) {
	return findDispute(ctx, db, id, false)
}

func (r *repo) GetForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*disputedomain.DisputeCase, error) {
	return findDispute(ctx, db, id, true)
}

func findDispute(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*disputedomain.DisputeCase, error) {
	query := `SELECT ` + disputeColumns + ` FROM karma_disputes WHERE id = ? LIMIT 1`
	if forUpdate {
		query += pkgdb.ForUpdate(db)
	}

	var record disputedomain.DisputeCase
	if err := db.WithContext(ctx).Raw(query, id).Scan(&record).Error; err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) HasPending(ctx context.Context, db *gorm.DB, violationID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM karma_disputes WHERE violation_id = ? AND status = ?`,
		violationID, string(disputedomain.StatusPending),
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Close moves a pending case to its final status.
func (r *repo) Close(ctx context.Context, db *gorm.DB, c *disputedomain.DisputeCase) error {
	var resolution *string
	if c.Resolution != nil {
		value := string(*c.Resolution)
		resolution = &value
	}
	return db.WithContext(ctx).Exec(
		`UPDATE karma_disputes
		 SET status = ?, resolved_at = ?, resolution = ?, resolved_by = ?
		 WHERE id = ? AND status = ?`,
		string(c.Status),
		c.ResolvedAt,
		resolution,
		c.ResolvedBy,
		c.ID,
		string(disputedomain.StatusPending),
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter disputedomain.ListFilter) ([]disputedomain.DisputeCase, error) {
	var items []disputedomain.DisputeCase
	stmt := db.WithContext(ctx).Model(&disputedomain.DisputeCase{})
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", string(filter.Status))
	}
	if filter.Challenger != "" {
		stmt = stmt.Where("challenger = ?", filter.Challenger)
	}
	if filter.BeforeID != 0 {
		stmt = stmt.Where("id < ?", filter.BeforeID)
	}
	err := stmt.Order("id desc").Limit(filter.Limit + 1).Find(&items).Error
	return items, err
}
