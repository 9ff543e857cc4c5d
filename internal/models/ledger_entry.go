package models

import "time"

const (
	LedgerReasonJoinBonus          = "JOIN_BONUS"
	LedgerReasonPredictParticipate = "PREDICT_PARTICIPATE"
	LedgerReasonPredictWin         = "PREDICT_WIN"
	LedgerReasonPredictLoss        = "PREDICT_LOSS"
)

// LedgerEntry is append-only. HMAC covers participant, delta, reason,
// battle id and created_at.
type LedgerEntry struct {
	ID          uint64  `gorm:"primaryKey;autoIncrement"`
	Participant string  `gorm:"type:varchar(100);not null;index"`
	Delta       int64   `gorm:"not null"`
	Reason      string  `gorm:"type:varchar(40);not null;index"`
	BattleID    *uint64 `gorm:"index"`
	HMAC        string  `gorm:"column:hmac;type:varchar(64);not null"`

	CreatedAt time.Time `gorm:"not null;index"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}
