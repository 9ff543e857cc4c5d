package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	AuditActionFetchPrice = "FETCH_PRICE"
	AuditActionCalculate  = "CALCULATE"
	AuditActionSettle     = "SETTLE"
	AuditActionDistribute = "DISTRIBUTE"
	AuditActionError      = "ERROR"
)

// SettlementAudit is an append-only trail of settlement steps. Nothing in
// the settlement path reads it back.
type SettlementAudit struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	BattleID    uint64 `gorm:"not null;index"`
	Action      string `gorm:"type:varchar(20);not null;index"`
	Data        datatypes.JSON
	TriggeredBy string `gorm:"type:varchar(50)"`
	AttemptID   string `gorm:"type:varchar(36);index"`

	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

func (SettlementAudit) TableName() string {
	return "settlement_audits"
}
