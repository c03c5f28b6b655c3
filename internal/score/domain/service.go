package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/karma/internal/apperror"
	"github.com/smallbiznis/karma/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Get(ctx context.Context, db *gorm.DB, principal string) (*ScoreRecord, error)
	GetForUpdate(ctx context.Context, db *gorm.DB, principal string) (*ScoreRecord, error)
	Save(ctx context.Context, db *gorm.DB, record *ScoreRecord) error
	UpdateBalance(ctx context.Context, db *gorm.DB, principal string, balance int64, createdAt int64) error
	Scores(ctx context.Context, db *gorm.DB, principals []string) (map[string]int64, error)
	AppendHistory(ctx context.Context, db *gorm.DB, entry *ScoreHistory) error
	ListHistory(ctx context.Context, db *gorm.DB, principal string, beforeID snowflake.ID, limit int) ([]ScoreHistory, error)
	Leaderboard(ctx context.Context, db *gorm.DB, limit int) ([]ScoreRecord, error)
	ListStale(ctx context.Context, db *gorm.DB, updatedBefore int64, limit int) ([]string, error)
}

type HistoryRequest struct {
	pagination.Pagination
	Principal string
}

type HistoryResponse struct {
	pagination.PageInfo
	History []ScoreHistory `json:"history"`
}

type Service interface {
	// Recalculate recomputes principal's score inside tx and appends history.
	Recalculate(ctx context.Context, tx *gorm.DB, principal string, now int64, trigger string) (ScoreRecord, error)
	Get(ctx context.Context, principal string) (ScoreRecord, error)
	History(ctx context.Context, req HistoryRequest) (HistoryResponse, error)
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	VotingPower(ctx context.Context, principal string) (int64, error)
}

var (
	ErrScoreNotFound    = apperror.NotFound("agent_not_found")
	ErrInvalidPrincipal = apperror.Validation("invalid_principal")
	ErrInvalidPageToken = apperror.Validation("invalid_page_token")
)
