package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/karma/internal/score/domain"
	pkgdb "github.com/smallbiznis/karma/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const scoreColumns = `principal, current_score, previous_score, avg_rating, rating_count,
	interaction_bonus, decay_factor, external_bonus, interaction_count, last_updated, verification_hash`

func (r *repo) Get(ctx context.Context, db *gorm.DB, principal string) (*domain.ScoreRecord, error) {
	return findScore(ctx, db, principal, false)
}

func (r *repo) GetForUpdate(ctx context.Context, db *gorm.DB, principal string) (*domain.ScoreRecord, error) {
	return findScore(ctx, db, principal, true)
}

func findScore(ctx context.Context, db *gorm.DB, principal string, forUpdate bool) (*domain.ScoreRecord, error) {
	var record domain.ScoreRecord
	query := `SELECT ` + scoreColumns + ` FROM karma_scores WHERE principal = ? LIMIT 1`
	if forUpdate {
		query += pkgdb.ForUpdate(db)
	}
	if err := db.WithContext(ctx).Raw(query, principal).Scan(&record).Error; err != nil {
		return nil, err
	}
	if record.Principal == "" {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, record *domain.ScoreRecord) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "principal"}},
		UpdateAll: true,
	}).Create(record).Error
}

// UpdateBalance rewrites current_score only. last_updated tracks score
// recalculation and drives decay, so balance moves leave it alone; createdAt
// is used when the row does not exist yet.
func (r *repo) UpdateBalance(ctx context.Context, db *gorm.DB, principal string, balance int64, createdAt int64) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE karma_scores SET current_score = ? WHERE principal = ?`,
		balance, principal,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return db.WithContext(ctx).Create(&domain.ScoreRecord{
			Principal:    principal,
			CurrentScore: balance,
			AvgRating:    "0.00",
			DecayFactor:  "1.000",
			LastUpdated:  createdAt,
		}).Error
	}
	return nil
}

func (r *repo) Scores(ctx context.Context, db *gorm.DB, principals []string) (map[string]int64, error) {
	out := make(map[string]int64, len(principals))
	if len(principals) == 0 {
		return out, nil
	}
	var rows []struct {
		Principal    string
		CurrentScore int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT principal, current_score FROM karma_scores WHERE principal IN ?`,
		principals,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.Principal] = row.CurrentScore
	}
	return out, nil
}

func (r *repo) AppendHistory(ctx context.Context, db *gorm.DB, entry *domain.ScoreHistory) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) ListHistory(ctx context.Context, db *gorm.DB, principal string, beforeID snowflake.ID, limit int) ([]domain.ScoreHistory, error) {
	var items []domain.ScoreHistory
	stmt := db.WithContext(ctx).Model(&domain.ScoreHistory{}).Where("principal = ?", principal)
	if beforeID != 0 {
		stmt = stmt.Where("id < ?", beforeID)
	}
	err := stmt.Order("id desc").Limit(limit + 1).Find(&items).Error
	return items, err
}

func (r *repo) Leaderboard(ctx context.Context, db *gorm.DB, limit int) ([]domain.ScoreRecord, error) {
	var items []domain.ScoreRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+scoreColumns+` FROM karma_scores
		 WHERE current_score > 0
		 ORDER BY current_score DESC, principal ASC
		 LIMIT ?`,
		limit,
	).Scan(&items).Error
	return items, err
}

func (r *repo) ListStale(ctx context.Context, db *gorm.DB, updatedBefore int64, limit int) ([]string, error) {
	var principals []string
	err := db.WithContext(ctx).Raw(
		`SELECT principal FROM karma_scores
		 WHERE last_updated < ? AND current_score > 0
		 ORDER BY last_updated ASC
		 LIMIT ?`+pkgdb.SkipLocked(db),
		updatedBefore, limit,
	).Scan(&principals).Error
	return principals, err
}
