package domain

import (
	"context"
	"regexp"

	"github.com/smallbiznis/karma/internal/apperror"
	"gorm.io/gorm"
)

//go:generate mockgen -source=service.go -destination=mock_log.go -package=domain Log

// Log supplies the canonical timestamp of an interaction reference.
type Log interface {
	Timestamp(ctx context.Context, ref string) (int64, bool, error)
}

type Repository interface {
	Get(ctx context.Context, db *gorm.DB, ref string) (*Interaction, error)
	Insert(ctx context.Context, db *gorm.DB, ix *Interaction) error
}

type RecordRequest struct {
	Ref          string `json:"ref"`
	Initiator    string `json:"initiator"`
	Counterparty string `json:"counterparty"`
}

type Service interface {
	Log

	Record(ctx context.Context, req RecordRequest, now int64) (Interaction, error)
	Get(ctx context.Context, ref string) (Interaction, error)
}

var refPattern = regexp.MustCompile(`^[A-Za-z0-9_:-]{8,128}$`)

// ValidRef reports whether ref is a well-formed interaction reference.
func ValidRef(ref string) bool {
	return refPattern.MatchString(ref)
}

var (
	ErrInvalidRef          = apperror.Validation("invalid_interaction_ref")
	ErrInvalidPrincipal    = apperror.Validation("invalid_principal")
	ErrSelfInteraction     = apperror.Authorization("self_interaction")
	ErrPrincipalNotFound   = apperror.NotFound("agent_not_found")
	ErrInteractionNotFound = apperror.NotFound("interaction_not_found")
	ErrDuplicateRef        = apperror.StateConflict("duplicate_interaction")
)
