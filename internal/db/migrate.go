package db

import (
	"battles/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Asset{},
		&models.Battle{},
		&models.Prediction{},
		&models.Participant{},
		&models.LedgerEntry{},
		&models.SettlementAudit{},
	)
}
