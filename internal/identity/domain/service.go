package domain

import (
	"context"
	"strings"

	"github.com/smallbiznis/karma/internal/apperror"
	"gorm.io/gorm"
)

//go:generate mockgen -source=service.go -destination=mock_registry.go -package=domain Registry

// Registry answers whether a principal may take part in ratings and interactions.
type Registry interface {
	IsRegistered(ctx context.Context, principal string) (bool, error)
}

type Repository interface {
	Get(ctx context.Context, db *gorm.DB, principal string) (*Agent, error)
	Insert(ctx context.Context, db *gorm.DB, agent *Agent) error
	Deactivate(ctx context.Context, db *gorm.DB, principal string, at int64) error
}

type Service interface {
	Registry

	// Register adds principal on tx so callers can seed related records atomically.
	Register(ctx context.Context, tx *gorm.DB, principal string, now int64) (Agent, error)
	Deactivate(ctx context.Context, principal string, now int64) (Agent, error)
	Get(ctx context.Context, principal string) (Agent, error)
}

const MaxPrincipalLength = 128

// NormalizePrincipal trims principal and reports whether it is usable.
func NormalizePrincipal(principal string) (string, bool) {
	principal = strings.TrimSpace(principal)
	if principal == "" || len(principal) > MaxPrincipalLength {
		return "", false
	}
	return principal, true
}

var (
	ErrInvalidPrincipal   = apperror.Validation("invalid_principal")
	ErrAlreadyRegistered  = apperror.StateConflict("agent_already_registered")
	ErrAlreadyDeactivated = apperror.StateConflict("agent_already_deactivated")
	ErrAgentNotFound      = apperror.NotFound("agent_not_found")
)
