package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"battles/internal/models"
)

// ErrStaleTransition is returned when a conditional status write matched no
// row: another worker already moved the battle on.
var ErrStaleTransition = errors.New("repository: stale status transition")

type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Assets
	UpsertAsset(ctx context.Context, item *models.Asset) error
	GetAsset(ctx context.Context, symbol string) (*models.Asset, error)
	ListAssets(ctx context.Context, enabledOnly bool) ([]models.Asset, error)

	// Battles
	CreateBattle(ctx context.Context, item *models.Battle) error
	GetBattle(ctx context.Context, id uint64) (*models.Battle, error)
	ListBattles(ctx context.Context, params ListBattlesParams) ([]models.Battle, error)
	CountBattles(ctx context.Context, params ListBattlesParams) (int64, error)
	ListBattlesDueForActivation(ctx context.Context, now time.Time, limit int) ([]models.Battle, error)
	ListBattlesDueForSettlement(ctx context.Context, now time.Time, limit int) ([]models.Battle, error)
	// TransitionBattleStatus moves id from -> to only if the stored status is
	// still from. It reports whether this caller won the write.
	TransitionBattleStatus(ctx context.Context, id uint64, from, to string) (bool, error)
	SetBattleStartPrices(ctx context.Context, id uint64, priceA, priceB *decimal.Decimal) error
	// FinalizeBattleTx writes the settlement result if the battle is still settling.
	FinalizeBattleTx(ctx context.Context, tx *gorm.DB, id uint64, result BattleResult) (bool, error)

	// Predictions
	UpsertPredictionTx(ctx context.Context, tx *gorm.DB, item *models.Prediction) (created bool, err error)
	GetPrediction(ctx context.Context, battleID uint64, participant string) (*models.Prediction, error)
	ListPredictionsByBattleTx(ctx context.Context, tx *gorm.DB, battleID uint64) ([]models.Prediction, error)
	ListPredictionsByParticipant(ctx context.Context, participant string, battleIDs []uint64) ([]models.Prediction, error)
	CountPicks(ctx context.Context, battleIDs []uint64) (map[uint64]PickCounts, error)

	// Ledger & participants
	InsertLedgerEntryTx(ctx context.Context, tx *gorm.DB, item *models.LedgerEntry) error
	AddParticipantPointsTx(ctx context.Context, tx *gorm.DB, wallet string, delta int64) error
	GetParticipant(ctx context.Context, wallet string) (*models.Participant, error)
	TouchParticipantLogin(ctx context.Context, wallet string, at time.Time) error
	GetLedgerEntry(ctx context.Context, id uint64) (*models.LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, params ListLedgerParams) ([]models.LedgerEntry, error)
	CountLedgerEntriesTx(ctx context.Context, tx *gorm.DB, params CountLedgerParams) (int64, error)
	SumLedgerDeltas(ctx context.Context, wallet string) (int64, error)
	Leaderboard(ctx context.Context, since *time.Time, limit int) ([]LeaderboardRow, error)

	// Settlement audit
	InsertSettlementAudit(ctx context.Context, item *models.SettlementAudit) error
	ListSettlementAudits(ctx context.Context, battleID uint64) ([]models.SettlementAudit, error)
}

type ListBattlesParams struct {
	Limit    int
	Offset   int
	IDs      []uint64
	Statuses []string
	Asset    *string
	OrderBy  string
	Asc      *bool
}

// BattleResult is the full set of settlement fields written on finalize.
type BattleResult struct {
	Status       string
	PriceAStart  *decimal.Decimal
	PriceAEnd    *decimal.Decimal
	PriceBStart  *decimal.Decimal
	PriceBEnd    *decimal.Decimal
	DeltaAPct    *float64
	DeltaBPct    *float64
	Winner       *string
	WinnerAsset  *string
	SettleReason string
	SettledAt    time.Time
}

type PickCounts struct {
	A int64 `json:"a"`
	B int64 `json:"b"`
}

type ListLedgerParams struct {
	Limit       int
	Offset      int
	Participant *string
	BattleID    *uint64
	Since       *time.Time
	Asc         *bool

	// AfterID returns only entries with a larger id; used to page in id order.
	AfterID uint64
}

type CountLedgerParams struct {
	Participant *string
	BattleID    *uint64
	Reasons     []string
}

type LeaderboardRow struct {
	Wallet              string `json:"wallet"`
	Points              int64  `json:"points"`
	BattlesParticipated int64  `json:"battles_participated"`
}
