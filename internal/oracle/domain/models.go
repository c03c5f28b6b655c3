// Package domain holds externally verified data summaries that feed the
// external bonus of a principal's score.
package domain

import (
	"context"
	"encoding/json"

	"github.com/smallbiznis/karma/internal/apperror"
	"github.com/smallbiznis/karma/internal/scoring"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Summary is the latest accepted value for one (principal, data type) pair.
type Summary struct {
	Principal  string         `gorm:"primaryKey;type:varchar(128)" json:"principal"`
	DataType   string         `gorm:"primaryKey;type:varchar(32)" json:"data_type"`
	Value      int64          `gorm:"not null" json:"value"`
	Payload    datatypes.JSON `json:"payload"`
	ObservedAt int64          `gorm:"not null" json:"observed_at"`
	ReceivedAt int64          `gorm:"not null" json:"received_at"`
}

func (Summary) TableName() string { return "karma_oracle_summaries" }

// Entry is one item of an oracle submission.
type Entry struct {
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Verified   bool            `json:"verified"`
	ObservedAt int64           `json:"observed_at,omitempty"`
}

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, summary *Summary) error
	List(ctx context.Context, db *gorm.DB, principal string) ([]Summary, error)
}

var (
	ErrVerificationFailed = apperror.Validation("oracle_verification_failed")
	ErrInvalidPayload     = apperror.Validation("invalid_oracle_payload")
)

const (
	minValue = 0
	maxValue = 100
)

type payload struct {
	Value *float64 `json:"value"`
	Score *float64 `json:"score"`
}

// Known reports whether the engine uses the data type.
func Known(dataType string) bool {
	switch dataType {
	case scoring.ExternalPerformance, scoring.ExternalCrossChain, scoring.ExternalSentiment:
		return true
	}
	return false
}

// Parse extracts the numeric value of an entry, clamped to [0, 100]. Unknown
// data types return known=false and no error.
func Parse(entry Entry) (value int64, known bool, err error) {
	if !Known(entry.Type) {
		return 0, false, nil
	}
	if len(entry.Payload) == 0 {
		return 0, true, apperror.With(ErrInvalidPayload, "type", entry.Type)
	}

	var p payload
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		var num float64
		if json.Unmarshal(entry.Payload, &num) == nil {
			return clampValue(num), true, nil
		}
		return 0, true, apperror.With(ErrInvalidPayload, "type", entry.Type)
	}

	switch {
	case p.Value != nil:
		return clampValue(*p.Value), true, nil
	case p.Score != nil:
		return clampValue(*p.Score), true, nil
	default:
		return 0, true, apperror.With(ErrInvalidPayload, "type", entry.Type)
	}
}

func clampValue(v float64) int64 {
	if v <= minValue {
		return minValue
	}
	if v >= maxValue {
		return maxValue
	}
	return int64(v)
}
