package models

import "time"

const (
	PickA = "A"
	PickB = "B"
)

type Prediction struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	BattleID    uint64 `gorm:"not null;uniqueIndex:idx_prediction_battle_participant;index"`
	Participant string `gorm:"type:varchar(100);not null;uniqueIndex:idx_prediction_battle_participant;index"`
	Pick        string `gorm:"type:varchar(1);not null"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Prediction) TableName() string {
	return "predictions"
}
