package models

import "time"

// Participant caches the running points balance. The ledger is authoritative.
type Participant struct {
	Wallet      string `gorm:"type:varchar(100);primaryKey"`
	Points      int64  `gorm:"not null;default:0;index"`
	LastLoginAt *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Participant) TableName() string {
	return "participants"
}
