package domain

// Agent mirrors the external identity registry for principals known to karma.
type Agent struct {
	Principal     string `gorm:"primaryKey;type:varchar(128)" json:"principal"`
	Active        bool   `gorm:"not null;default:true" json:"active"`
	RegisteredAt  int64  `gorm:"not null" json:"registered_at"`
	DeactivatedAt *int64 `json:"deactivated_at,omitempty"`
}

func (Agent) TableName() string { return "karma_agents" }
