// Package domain contains the persistence models for submitted ratings.
package domain

import (
	"github.com/bwmarrin/snowflake"
)

// Rating is an immutable peer rating. Timestamp is unix seconds.
type Rating struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	InteractionRef string       `gorm:"type:varchar(128);not null;uniqueIndex:ux_ratings_ref_rater,priority:1" json:"interaction_ref"`
	Rater          string       `gorm:"type:varchar(128);not null;uniqueIndex:ux_ratings_ref_rater,priority:2;index:ix_ratings_rater_ts,priority:1" json:"rater"`
	Rated          string       `gorm:"type:varchar(128);not null;index:ix_ratings_rated_seq,priority:1" json:"rated"`
	Score          int          `gorm:"not null" json:"score"`
	Feedback       *string      `gorm:"type:varchar(512)" json:"feedback,omitempty"`
	Timestamp      int64        `gorm:"not null;index:ix_ratings_rater_ts,priority:2;index" json:"timestamp"`
	SequenceNo     int64        `gorm:"not null;uniqueIndex;index:ix_ratings_rated_seq,priority:2" json:"sequence_no"`
	FeePaid        int64        `gorm:"not null;default:0" json:"fee_paid"`
}

func (Rating) TableName() string { return "ratings" }

// Sequence is the single-row counter that hands out rating sequence numbers.
type Sequence struct {
	Name  string `gorm:"primaryKey;type:varchar(32)"`
	Value int64  `gorm:"not null;default:0"`
}

func (Sequence) TableName() string { return "rating_sequences" }

const SequenceName = "ratings"
