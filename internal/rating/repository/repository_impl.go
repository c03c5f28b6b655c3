package repository

import (
	"context"

	"github.com/smallbiznis/karma/internal/rating/domain"
	pkgdb "github.com/smallbiznis/karma/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const ratingColumns = `id, interaction_ref, rater, rated, score, feedback, timestamp, sequence_no, fee_paid`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rating *domain.Rating) error {
	err := db.WithContext(ctx).Create(rating).Error
	if pkgdb.IsDuplicateKeyErr(err) {
		return domain.ErrDuplicateRating
	}
	return err
}

func (r *repo) Exists(ctx context.Context, db *gorm.DB, interactionRef, rater string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM ratings WHERE interaction_ref = ? AND rater = ?`,
		interactionRef, rater,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) NextSequence(ctx context.Context, db *gorm.DB) (int64, error) {
	err := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.Sequence{Name: domain.SequenceName}).Error
	if err != nil {
		return 0, err
	}

	var current int64
	err = db.WithContext(ctx).Raw(
		`SELECT value FROM rating_sequences WHERE name = ?`+pkgdb.ForUpdate(db),
		domain.SequenceName,
	).Scan(&current).Error
	if err != nil {
		return 0, err
	}

	next := current + 1
	err = db.WithContext(ctx).Exec(
		`UPDATE rating_sequences SET value = ? WHERE name = ?`,
		next, domain.SequenceName,
	).Error
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (r *repo) ListReceived(ctx context.Context, db *gorm.DB, rated string) ([]domain.Rating, error) {
	var items []domain.Rating
	err := db.WithContext(ctx).Raw(
		`SELECT `+ratingColumns+` FROM ratings WHERE rated = ? ORDER BY sequence_no ASC`,
		rated,
	).Scan(&items).Error
	return items, err
}

func (r *repo) ListGivenSince(ctx context.Context, db *gorm.DB, rater string, since int64) ([]domain.Rating, error) {
	var items []domain.Rating
	err := db.WithContext(ctx).Raw(
		`SELECT `+ratingColumns+` FROM ratings
		 WHERE rater = ? AND timestamp >= ?
		 ORDER BY sequence_no ASC`,
		rater, since,
	).Scan(&items).Error
	return items, err
}

func (r *repo) ListReceivedSince(ctx context.Context, db *gorm.DB, rated string, since int64) ([]domain.Rating, error) {
	var items []domain.Rating
	err := db.WithContext(ctx).Raw(
		`SELECT `+ratingColumns+` FROM ratings
		 WHERE rated = ? AND timestamp >= ?
		 ORDER BY sequence_no ASC`,
		rated, since,
	).Scan(&items).Error
	return items, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.Filter) ([]domain.Rating, error) {
	var items []domain.Rating
	stmt := db.WithContext(ctx).Model(&domain.Rating{})
	if filter.Rated != "" {
		stmt = stmt.Where("rated = ?", filter.Rated)
	}
	if filter.Rater != "" {
		stmt = stmt.Where("rater = ?", filter.Rater)
	}
	if filter.BeforeID != 0 {
		stmt = stmt.Where("id < ?", filter.BeforeID)
	}
	err := stmt.Order("id desc").Limit(filter.Limit + 1).Find(&items).Error
	return items, err
}

func (r *repo) ActiveRatersSince(ctx context.Context, db *gorm.DB, since int64, limit int) ([]string, error) {
	var raters []string
	err := db.WithContext(ctx).Raw(
		`SELECT rater FROM ratings
		 WHERE timestamp >= ?
		 GROUP BY rater
		 ORDER BY MAX(timestamp) DESC
		 LIMIT ?`,
		since, limit,
	).Scan(&raters).Error
	return raters, err
}
