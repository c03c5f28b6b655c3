package domain

import (
	"strings"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending Status = "pending"
	// StatusUnderReview is reserved for an external review workflow; no
	// operation in this service moves a case into it.
	StatusUnderReview Status = "under_review"
	StatusResolved    Status = "resolved"
	StatusRejected    Status = "rejected"
)

type Resolution string

const (
	ResolutionConfirmed  Resolution = "violation_confirmed"
	ResolutionOverturned Resolution = "violation_overturned"
	ResolutionPartial    Resolution = "partial_overturned"
)

// ParseResolution accepts the full names and the short forms confirmed,
// overturned and partial.
func ParseResolution(raw string) (Resolution, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "confirmed", string(ResolutionConfirmed):
		return ResolutionConfirmed, true
	case "overturned", string(ResolutionOverturned):
		return ResolutionOverturned, true
	case "partial", string(ResolutionPartial):
		return ResolutionPartial, true
	}
	return "", false
}

// Refund is the share of the stake returned to the challenger.
func (r Resolution) Refund(stake int64) int64 {
	switch r {
	case ResolutionOverturned:
		return stake
	case ResolutionPartial:
		return stake / 2
	default:
		return 0
	}
}

type DisputeCase struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	ViolationID snowflake.ID `gorm:"not null;index" json:"violation_id"`
	Challenger  string       `gorm:"type:varchar(128);not null;index" json:"challenger"`
	StakeAmount int64        `gorm:"not null" json:"stake_amount"`
	Evidence    string       `gorm:"type:text;not null" json:"evidence"`
	Status      Status       `gorm:"type:varchar(16);not null;index" json:"status"`
	CreatedAt   int64        `gorm:"not null" json:"created_at"`
	ResolvedAt  *int64       `json:"resolved_at,omitempty"`
	Resolution  *Resolution  `gorm:"type:varchar(32)" json:"resolution,omitempty"`
	ResolvedBy  *string      `gorm:"type:varchar(128)" json:"resolved_by,omitempty"`
}

func (DisputeCase) TableName() string { return "karma_disputes" }

type ListFilter struct {
	Status     Status
	Challenger string
	BeforeID   snowflake.ID
	Limit      int
}
