package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/karma/internal/apperror"
	"github.com/smallbiznis/karma/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, c *DisputeCase) error
	Get(ctx context.Context, db *gorm.DB, id snowflake.ID) (*DisputeCase, error)
	GetForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*DisputeCase, error)
	HasPending(ctx context.Context, db *gorm.DB, violationID snowflake.ID) (bool, error)
	Close(ctx context.Context, db *gorm.DB, c *DisputeCase) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]DisputeCase, error)
}

type CreateRequest struct {
	Challenger  string `json:"challenger"`
	ViolationID string `json:"violation_id"`
	Stake       int64  `json:"stake"`
	Evidence    string `json:"evidence"`
}

type ListRequest struct {
	pagination.Pagination
	Status     string
	Challenger string
}

type ListResponse struct {
	pagination.PageInfo
	Disputes []DisputeCase `json:"disputes"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest, now int64) (DisputeCase, error)
	Resolve(ctx context.Context, caseID snowflake.ID, resolution string, resolver string, now int64) (DisputeCase, error)
	Reject(ctx context.Context, caseID snowflake.ID, resolver string, now int64) (DisputeCase, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Get(ctx context.Context, caseID snowflake.ID) (DisputeCase, error)
}

const MaxEvidenceLength = 1024

var (
	ErrInvalidChallenger      = apperror.Validation("invalid_challenger")
	ErrInvalidViolation       = apperror.Validation("invalid_violation_id")
	ErrInvalidStake           = apperror.Validation("invalid_stake")
	ErrEvidenceTooLong        = apperror.Validation("evidence_too_long")
	ErrInvalidResolution      = apperror.Validation("invalid_resolution")
	ErrInvalidStatus          = apperror.Validation("invalid_status")
	ErrInvalidPageToken       = apperror.Validation("invalid_page_token")
	ErrDisputeNotFound        = apperror.NotFound("dispute_not_found")
	ErrViolationNotFound      = apperror.NotFound("violation_not_found")
	ErrDisputePending         = apperror.StateConflict("dispute_already_pending")
	ErrDisputeAlreadyResolved = apperror.StateConflict("dispute_already_resolved")
	ErrInsufficientStake      = apperror.Resource("insufficient_stake")
)
