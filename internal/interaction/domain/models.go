package domain

// Interaction is a logged exchange between two principals that ratings bind to.
type Interaction struct {
	Ref          string `gorm:"primaryKey;type:varchar(128)" json:"ref"`
	Initiator    string `gorm:"type:varchar(128);not null;index" json:"initiator"`
	Counterparty string `gorm:"type:varchar(128);not null;index" json:"counterparty"`
	OccurredAt   int64  `gorm:"not null" json:"occurred_at"`
}

func (Interaction) TableName() string { return "karma_interactions" }
