package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	BattleStatusScheduled = "scheduled"
	BattleStatusActive    = "active"
	BattleStatusSettling  = "settling"
	BattleStatusSettled   = "settled"
	BattleStatusVoid      = "void"
)

// Battle is a timed head-to-head between two assets. Price, delta and
// winner fields are written once, by the transition out of settling.
type Battle struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	AssetA string `gorm:"type:varchar(20);not null;index"`
	AssetB string `gorm:"type:varchar(20);not null;index"`

	StartsAt time.Time `gorm:"not null;index"`
	EndsAt   time.Time `gorm:"not null;index"`
	Status   string    `gorm:"type:varchar(20);not null;default:scheduled;index"`

	PriceAStart *decimal.Decimal `gorm:"type:numeric(30,12)"`
	PriceAEnd   *decimal.Decimal `gorm:"type:numeric(30,12)"`
	PriceBStart *decimal.Decimal `gorm:"type:numeric(30,12)"`
	PriceBEnd   *decimal.Decimal `gorm:"type:numeric(30,12)"`

	DeltaAPct *float64
	DeltaBPct *float64

	Winner       *string `gorm:"type:varchar(4)"`
	WinnerAsset  *string `gorm:"type:varchar(20)"`
	SettleReason *string `gorm:"type:varchar(30)"`
	SettledAt    *time.Time

	CreatedBy string    `gorm:"type:varchar(100)"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Battle) TableName() string {
	return "battles"
}

// Terminal reports whether the battle reached settled or void.
func (b Battle) Terminal() bool {
	return b.Status == BattleStatusSettled || b.Status == BattleStatusVoid
}
