package ratelimit

import (
	"context"

	"github.com/smallbiznis/karma/internal/apperror"
	"gorm.io/gorm"
)

// Tracker is the persisted fixed-window counter for one (principal, action).
type Tracker struct {
	Principal   string `gorm:"primaryKey;type:varchar(128)" json:"principal"`
	ActionType  string `gorm:"primaryKey;type:varchar(32)" json:"action_type"`
	Count       int64  `gorm:"not null;default:0" json:"count"`
	WindowStart int64  `gorm:"not null;index" json:"window_start"`
	LastAction  int64  `gorm:"not null" json:"last_action"`
}

func (Tracker) TableName() string { return "karma_rate_limits" }

// Decision is the outcome of a rate-limit check, also used as the status view.
type Decision struct {
	Allowed     bool   `json:"allowed"`
	Action      Action `json:"action"`
	Count       int64  `json:"count"`
	Limit       int64  `json:"limit"`
	Remaining   int64  `json:"remaining"`
	WindowStart int64  `json:"window_start"`
	ResetAt     int64  `json:"reset_at"`
}

// Activity aggregates every window of a principal; bot detection reads it.
type Activity struct {
	Count       int64
	WindowStart int64
}

type Limiter interface {
	// CheckAndConsume counts one action when the window has room. A denial
	// leaves the tracker untouched.
	CheckAndConsume(ctx context.Context, tx *gorm.DB, principal string, action Action, karma int64, now int64) (Decision, error)
	Status(ctx context.Context, principal string, action Action, karma int64, now int64) (Decision, error)
	Activity(ctx context.Context, tx *gorm.DB, principal string, now int64) (Activity, error)
	// ActivePrincipalsSince lists principals with a window started at or
	// after since, most recent first.
	ActivePrincipalsSince(ctx context.Context, since int64, limit int) ([]string, error)
	Backend() string
}

var (
	ErrRateLimitExceeded = apperror.Resource("rate_limit_exceeded")
	ErrInvalidAction     = apperror.Validation("invalid_action")
)

func decide(action Action, count, windowStart, limit int64, allowed bool) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:     allowed,
		Action:      action,
		Count:       count,
		Limit:       limit,
		Remaining:   remaining,
		WindowStart: windowStart,
		ResetAt:     windowStart + WindowSeconds,
	}
}
