package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/karma/internal/apperror"
	"github.com/smallbiznis/karma/pkg/db/pagination"
	"gorm.io/gorm"
)

// Mutation describes one balance change. SourceID links the entry to the
// rating, violation or dispute that caused it.
type Mutation struct {
	Principal  string
	Amount     int64
	SourceType SourceType
	SourceID   string
	At         int64
}

type Repository interface {
	GetTotals(ctx context.Context, db *gorm.DB, principal string) (*BalanceRecord, error)
	AddTotals(ctx context.Context, db *gorm.DB, principal string, earned, spent int64, at int64) error
	InsertEntry(ctx context.Context, db *gorm.DB, entry *LedgerEntry) error
	ListEntries(ctx context.Context, db *gorm.DB, principal string, beforeID snowflake.ID, limit int) ([]LedgerEntry, error)
}

type ListEntriesRequest struct {
	pagination.Pagination
	Principal string
}

type ListEntriesResponse struct {
	pagination.PageInfo
	Entries []LedgerEntry `json:"entries"`
}

// Service moves karma balances. Every mutating call runs on the caller's
// transaction and returns the balance after the change.
type Service interface {
	Spend(ctx context.Context, tx *gorm.DB, m Mutation) (int64, error)
	Award(ctx context.Context, tx *gorm.DB, m Mutation) (int64, error)
	Penalize(ctx context.Context, tx *gorm.DB, m Mutation) (int64, error)
	Debit(ctx context.Context, tx *gorm.DB, m Mutation) (int64, error)
	Credit(ctx context.Context, tx *gorm.DB, m Mutation) (int64, error)
	Grant(ctx context.Context, tx *gorm.DB, m Mutation) (int64, error)

	GetBalance(ctx context.Context, principal string) (Balance, error)
	ListEntries(ctx context.Context, req ListEntriesRequest) (ListEntriesResponse, error)
}

var (
	ErrInvalidAmount       = apperror.Validation("invalid_amount")
	ErrInvalidPrincipal    = apperror.Validation("invalid_principal")
	ErrInvalidPageToken    = apperror.Validation("invalid_page_token")
	ErrInsufficientBalance = apperror.Resource("insufficient_balance")
	ErrBelowMinimumBalance = apperror.Resource("below_minimum_balance")
	ErrBalanceNotFound     = apperror.NotFound("agent_not_found")
)
