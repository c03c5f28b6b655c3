package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/karma/internal/abuse/detector"
	"github.com/smallbiznis/karma/internal/apperror"
	"github.com/smallbiznis/karma/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, v *ViolationRecord) error
	Get(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ViolationRecord, error)
	GetForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ViolationRecord, error)
	MarkDisputed(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	List(ctx context.Context, db *gorm.DB, principal string, beforeID snowflake.ID, limit int) ([]ViolationRecord, error)
	// LatestDetection returns the timestamp of the newest detector violation of kind.
	LatestDetection(ctx context.Context, db *gorm.DB, principal string, kind detector.Kind) (int64, bool, error)
}

type ApplyPenaltyRequest struct {
	Principal string `json:"principal"`
	Kind      string `json:"kind"`
	Severity  int    `json:"severity"`
	Evidence  string `json:"evidence"`
}

type ListRequest struct {
	pagination.Pagination
	Principal string
}

type ListResponse struct {
	pagination.PageInfo
	Violations []ViolationRecord `json:"violations"`
}

type Service interface {
	// RunDetection runs every detector on principal in its own transaction.
	RunDetection(ctx context.Context, principal string, now int64) ([]ViolationRecord, error)
	// RunDetectionTx is RunDetection on the caller's transaction.
	RunDetectionTx(ctx context.Context, tx *gorm.DB, principal string, now int64) ([]ViolationRecord, error)
	ApplyPenalty(ctx context.Context, req ApplyPenaltyRequest, now int64) (ViolationRecord, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Get(ctx context.Context, id snowflake.ID) (ViolationRecord, error)
}

const (
	MaxEvidenceLength = 1024
	manualPenaltyUnit = 10
)

// ManualPenalty is the karma deducted by an administrative penalty.
func ManualPenalty(severity int) int64 {
	return int64(severity) * manualPenaltyUnit
}

var (
	ErrInvalidPrincipal  = apperror.Validation("invalid_principal")
	ErrInvalidSeverity   = apperror.Validation("invalid_severity")
	ErrEvidenceTooLong   = apperror.Validation("evidence_too_long")
	ErrInvalidPageToken  = apperror.Validation("invalid_page_token")
	ErrViolationNotFound = apperror.NotFound("violation_not_found")
	ErrPrincipalNotFound = apperror.NotFound("agent_not_found")
)
