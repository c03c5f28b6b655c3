package repository

import (
	"context"
	"database/sql"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/karma/internal/abuse/detector"
	"github.com/smallbiznis/karma/internal/abuse/domain"
	pkgdb "github.com/smallbiznis/karma/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const violationColumns = `id, principal, kind, severity, timestamp, evidence, confidence_pct, penalty_applied, source, disputed`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, v *domain.ViolationRecord) error {
	return db.WithContext(ctx).Create(v).Error
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ViolationRecord, error) {
	return findViolation(ctx, db, id, false)
}

func (r *repo) GetForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ViolationRecord, error) {
	return findViolation(ctx, db, id, true)
}

func findViolation(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.ViolationRecord, error) {
	query := `SELECT ` + violationColumns + ` FROM karma_violations WHERE id = ? LIMIT 1`
	if forUpdate {
		query += pkgdb.ForUpdate(db)
	}

	var v domain.ViolationRecord
	if err := db.WithContext(ctx).Raw(query, id).Scan(&v).Error; err != nil {
		return nil, err
	}
	if v.ID == 0 {
		return nil, nil
	}
	return &v, nil
}

func (r *repo) MarkDisputed(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE karma_violations SET disputed = ? WHERE id = ?`,
		true, id,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, principal string, beforeID snowflake.ID, limit int) ([]domain.ViolationRecord, error) {
	var items []domain.ViolationRecord
	stmt := db.WithContext(ctx).Model(&domain.ViolationRecord{})
	if principal != "" {
		stmt = stmt.Where("principal = ?", principal)
	}
	if beforeID != 0 {
		stmt = stmt.Where("id < ?", beforeID)
	}
	err := stmt.Order("id desc").Limit(limit + 1).Find(&items).Error
	return items, err
}

func (r *repo) LatestDetection(ctx context.Context, db *gorm.DB, principal string, kind detector.Kind) (int64, bool, error) {
	var latest sql.NullInt64
	err := db.WithContext(ctx).Raw(
		`SELECT MAX(timestamp) FROM karma_violations WHERE principal = ? AND kind = ? AND source = ?`,
		principal, kind, domain.SourceDetector,
	).Scan(&latest).Error
	if err != nil {
		return 0, false, err
	}
	if !latest.Valid {
		return 0, false, nil
	}
	return latest.Int64, true, nil
}
