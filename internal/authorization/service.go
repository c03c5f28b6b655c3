package authorization

import (
	"context"

	"github.com/smallbiznis/karma/internal/apperror"
)

// Service decides whether a principal may perform action on object.
type Service interface {
	Authorize(ctx context.Context, principal string, object string, action string) error
	IsAdmin(principal string) bool
}

var (
	ErrInvalidActor  = apperror.Validation("invalid_actor")
	ErrInvalidObject = apperror.Validation("invalid_object")
	ErrInvalidAction = apperror.Validation("invalid_action")
	ErrForbidden     = apperror.Authorization("forbidden")
)
