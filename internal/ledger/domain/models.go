package domain

import (
	"github.com/bwmarrin/snowflake"
)

// Direction of a balance posting.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

type SourceType string

const (
	SourceTypeRatingFee     SourceType = "rating_fee"     // fee paid by the rater
	SourceTypeRatingAward   SourceType = "rating_award"   // earning for a good rating
	SourceTypeRatingPenalty SourceType = "rating_penalty" // deduction for a poor rating
	SourceTypeAbusePenalty  SourceType = "abuse_penalty"
	SourceTypeDisputeStake  SourceType = "dispute_stake"
	SourceTypeDisputeRefund SourceType = "dispute_refund"
	SourceTypeGrant         SourceType = "grant" // initial score on registration
)

const (
	MaxBalance     int64 = 10_000
	MinimumBalance int64 = 5
	MaxAward       int64 = 100
)

// BalanceRecord carries lifetime totals. The spendable balance itself is the
// principal's current score.
type BalanceRecord struct {
	Principal   string `gorm:"primaryKey;type:varchar(128)" json:"principal"`
	EarnedTotal int64  `gorm:"not null;default:0" json:"earned_total"`
	SpentTotal  int64  `gorm:"not null;default:0" json:"spent_total"`
	UpdatedAt   int64  `gorm:"not null" json:"updated_at"`
}

func (BalanceRecord) TableName() string { return "karma_balances" }

// LedgerEntry is the append-only journal row of one balance mutation.
type LedgerEntry struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	Principal    string       `gorm:"type:varchar(128);not null;index:ix_karma_ledger_principal,priority:1" json:"principal"`
	SourceType   SourceType   `gorm:"type:varchar(32);not null;index" json:"source_type"`
	SourceID     *string      `gorm:"type:varchar(64)" json:"source_id,omitempty"`
	Direction    Direction    `gorm:"type:varchar(8);not null" json:"direction"`
	Amount       int64        `gorm:"not null" json:"amount"`
	BalanceAfter int64        `gorm:"not null" json:"balance_after"`
	OccurredAt   int64        `gorm:"not null;index:ix_karma_ledger_principal,priority:2" json:"occurred_at"`
}

func (LedgerEntry) TableName() string { return "karma_ledger_entries" }

// Balance is the read model returned to callers.
type Balance struct {
	Principal   string `json:"principal"`
	Balance     int64  `json:"balance"`
	EarnedTotal int64  `json:"earned_total"`
	SpentTotal  int64  `json:"spent_total"`
}
