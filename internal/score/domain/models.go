package domain

import (
	"github.com/bwmarrin/snowflake"
)

// ScoreRecord is the current karma state of a principal. CurrentScore doubles
// as the spendable balance for fees, stakes and penalties.
type ScoreRecord struct {
	Principal        string `gorm:"primaryKey;type:varchar(128)" json:"principal"`
	CurrentScore     int64  `gorm:"not null;default:0;index:ix_karma_scores_current" json:"current_score"`
	PreviousScore    int64  `gorm:"not null;default:0" json:"previous_score"`
	AvgRating        string `gorm:"type:varchar(16);not null;default:'0.00'" json:"avg_rating"`
	RatingCount      int64  `gorm:"not null;default:0" json:"rating_count"`
	InteractionBonus int64  `gorm:"not null;default:0" json:"interaction_bonus"`
	DecayFactor      string `gorm:"type:varchar(16);not null;default:'1.000'" json:"decay_factor"`
	ExternalBonus    int64  `gorm:"not null;default:0" json:"external_bonus"`
	InteractionCount int64  `gorm:"not null;default:0" json:"interaction_count"`
	LastUpdated      int64  `gorm:"not null;index" json:"last_updated"`
	VerificationHash string `gorm:"type:varchar(64)" json:"verification_hash"`
}

func (ScoreRecord) TableName() string { return "karma_scores" }

// ScoreHistory is an append-only snapshot written on every recalculation.
type ScoreHistory struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	Principal        string       `gorm:"type:varchar(128);not null;index:ix_karma_score_history_principal,priority:1" json:"principal"`
	Timestamp        int64        `gorm:"not null;index:ix_karma_score_history_principal,priority:2" json:"timestamp"`
	CurrentScore     int64        `gorm:"not null" json:"current_score"`
	PreviousScore    int64        `gorm:"not null" json:"previous_score"`
	AvgRating        string       `gorm:"type:varchar(16);not null" json:"avg_rating"`
	RatingCount      int64        `gorm:"not null" json:"rating_count"`
	InteractionBonus int64        `gorm:"not null" json:"interaction_bonus"`
	DecayFactor      string       `gorm:"type:varchar(16);not null" json:"decay_factor"`
	ExternalBonus    int64        `gorm:"not null" json:"external_bonus"`
	Modifier         int64        `gorm:"not null" json:"modifier"`
	Trigger          string       `gorm:"type:varchar(32);not null" json:"trigger"`
	VerificationHash string       `gorm:"type:varchar(64);not null" json:"verification_hash"`
}

func (ScoreHistory) TableName() string { return "karma_score_history" }

// LeaderboardEntry is one ranked row of the leaderboard.
type LeaderboardEntry struct {
	Rank         int    `json:"rank"`
	Principal    string `json:"principal"`
	CurrentScore int64  `json:"current_score"`
	RatingCount  int64  `json:"rating_count"`
}

// Recalculation triggers recorded in history.
const (
	TriggerRating = "rating"
	TriggerManual = "manual"
	TriggerOracle = "oracle"
	TriggerDecay  = "decay"
)
