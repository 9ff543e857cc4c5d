package models

import "time"

// Asset is a price-tracked token that can be matched in a battle.
type Asset struct {
	Symbol  string `gorm:"type:varchar(20);primaryKey"`
	Name    string `gorm:"type:varchar(100)"`
	Mint    string `gorm:"type:varchar(100)"`
	FeedID  string `gorm:"type:varchar(100);not null"`
	Enabled bool   `gorm:"not null;default:true;index"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Asset) TableName() string {
	return "assets"
}
