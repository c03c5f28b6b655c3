package domain

import (
	"context"

	"github.com/smallbiznis/karma/internal/apperror"
	"github.com/smallbiznis/karma/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]AuditLog, error)
}

// ListAuditLogRequest filters by exact field values and an inclusive
// [From, To] range of unix seconds; zero bounds are open.
type ListAuditLogRequest struct {
	pagination.Pagination
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	From       int64
	To         int64
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Service interface {
	// Record writes entry on tx so it commits or rolls back with the change it
	// describes. A nil tx writes on the service handle.
	Record(ctx context.Context, tx *gorm.DB, entry Entry) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidPageToken = apperror.Validation("invalid_page_token")
	ErrInvalidTimeRange = apperror.Validation("invalid_time_range")
	ErrInvalidAction    = apperror.Validation("invalid_action")
)
