package domain

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/karma/internal/abuse/detector"
)

type Source string

const (
	SourceDetector Source = "detector"
	SourceManual   Source = "manual"
)

// ViolationRecord is immutable apart from the Disputed flag.
type ViolationRecord struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	Principal      string        `gorm:"type:varchar(128);not null;index:ix_karma_violations_principal,priority:1" json:"principal"`
	Kind           detector.Kind `gorm:"type:varchar(32);not null" json:"kind"`
	Severity       int           `gorm:"not null" json:"severity"`
	Timestamp      int64         `gorm:"not null;index:ix_karma_violations_principal,priority:2" json:"timestamp"`
	Evidence       string        `gorm:"type:text;not null" json:"evidence"`
	ConfidencePct  int64         `gorm:"not null;default:0" json:"confidence_pct"`
	PenaltyApplied int64         `gorm:"not null" json:"penalty_applied"`
	Source         Source        `gorm:"type:varchar(16);not null" json:"source"`
	Disputed       bool          `gorm:"not null;default:false" json:"disputed"`
}

func (ViolationRecord) TableName() string { return "karma_violations" }
