package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"battles/internal/models"
	"battles/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// conn prefers the caller's transaction.
func (s *Store) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

// --- assets -----------------------------------------------------------------

func (s *Store) UpsertAsset(ctx context.Context, item *models.Asset) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Symbol = strings.ToUpper(strings.TrimSpace(item.Symbol))
	if item.Symbol == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name",
			"mint",
			"feed_id",
			"enabled",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetAsset(ctx context.Context, symbol string) (*models.Asset, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, nil
	}
	var item models.Asset
	err := s.db.WithContext(ctx).Where("symbol = ?", symbol).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListAssets(ctx context.Context, enabledOnly bool) ([]models.Asset, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Asset{})
	if enabledOnly {
		query = query.Where("enabled = ?", true)
	}
	var items []models.Asset
	if err := query.Order("symbol asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- battles ----------------------------------------------------------------

func (s *Store) CreateBattle(ctx context.Context, item *models.Battle) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Status) == "" {
		item.Status = models.BattleStatusScheduled
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetBattle(ctx context.Context, id uint64) (*models.Battle, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Battle
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListBattles(ctx context.Context, params repository.ListBattlesParams) ([]models.Battle, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyBattleFilters(s.db.WithContext(ctx).Model(&models.Battle{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "starts_at")
	limit := normalizeLimit(params.Limit, 50)
	offset := normalizeOffset(params.Offset)
	var items []models.Battle
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountBattles(ctx context.Context, params repository.ListBattlesParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := applyBattleFilters(s.db.WithContext(ctx).Model(&models.Battle{}), params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func applyBattleFilters(query *gorm.DB, params repository.ListBattlesParams) *gorm.DB {
	if len(params.IDs) > 0 {
		query = query.Where("id IN ?", params.IDs)
	}
	if statuses := cleanStrings(params.Statuses); len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	if params.Asset != nil && strings.TrimSpace(*params.Asset) != "" {
		asset := strings.ToUpper(strings.TrimSpace(*params.Asset))
		query = query.Where("asset_a = ? OR asset_b = ?", asset, asset)
	}
	return query
}

func (s *Store) ListBattlesDueForActivation(ctx context.Context, now time.Time, limit int) ([]models.Battle, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Battle
	if err := s.db.WithContext(ctx).
		Where("status = ?", models.BattleStatusScheduled).
		Where("starts_at <= ?", now.UTC()).
		Order("starts_at asc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ListBattlesDueForSettlement includes scheduled battles whose window already
// closed; the coordinator activates those before settling.
func (s *Store) ListBattlesDueForSettlement(ctx context.Context, now time.Time, limit int) ([]models.Battle, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Battle
	if err := s.db.WithContext(ctx).
		Where("status IN ?", []string{models.BattleStatusScheduled, models.BattleStatusActive}).
		Where("ends_at <= ?", now.UTC()).
		Order("ends_at asc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) TransitionBattleStatus(ctx context.Context, id uint64, from, to string) (bool, error) {
	if s == nil || s.db == nil || id == 0 {
		return false, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.Battle{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetBattleStartPrices records live start prices without overwriting values
// that are already set.
func (s *Store) SetBattleStartPrices(ctx context.Context, id uint64, priceA, priceB *decimal.Decimal) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	if priceA != nil {
		if err := s.db.WithContext(ctx).
			Model(&models.Battle{}).
			Where("id = ? AND status = ? AND price_a_start IS NULL", id, models.BattleStatusActive).
			Update("price_a_start", *priceA).Error; err != nil {
			return err
		}
	}
	if priceB != nil {
		if err := s.db.WithContext(ctx).
			Model(&models.Battle{}).
			Where("id = ? AND status = ? AND price_b_start IS NULL", id, models.BattleStatusActive).
			Update("price_b_start", *priceB).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) FinalizeBattleTx(ctx context.Context, tx *gorm.DB, id uint64, result repository.BattleResult) (bool, error) {
	if s == nil || s.db == nil || id == 0 {
		return false, nil
	}
	settledAt := result.SettledAt
	if settledAt.IsZero() {
		settledAt = time.Now().UTC()
	}
	updates := map[string]any{
		"status":        result.Status,
		"settle_reason": result.SettleReason,
		"settled_at":    settledAt.UTC(),
		"updated_at":    time.Now().UTC(),
	}
	if result.PriceAStart != nil {
		updates["price_a_start"] = *result.PriceAStart
	}
	if result.PriceAEnd != nil {
		updates["price_a_end"] = *result.PriceAEnd
	}
	if result.PriceBStart != nil {
		updates["price_b_start"] = *result.PriceBStart
	}
	if result.PriceBEnd != nil {
		updates["price_b_end"] = *result.PriceBEnd
	}
	if result.DeltaAPct != nil {
		updates["delta_a_pct"] = *result.DeltaAPct
	}
	if result.DeltaBPct != nil {
		updates["delta_b_pct"] = *result.DeltaBPct
	}
	if result.Winner != nil {
		updates["winner"] = *result.Winner
	}
	if result.WinnerAsset != nil {
		updates["winner_asset"] = *result.WinnerAsset
	}
	res := s.conn(ctx, tx).
		Model(&models.Battle{}).
		Where("id = ? AND status = ?", id, models.BattleStatusSettling).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// --- predictions ------------------------------------------------------------

func (s *Store) UpsertPredictionTx(ctx context.Context, tx *gorm.DB, item *models.Prediction) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	db := s.conn(ctx, tx)
	var existing models.Prediction
	err := db.Where("battle_id = ? AND participant = ?", item.BattleID, item.Participant).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, db.Create(item).Error
	}
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	if err := db.Model(&models.Prediction{}).
		Where("id = ?", existing.ID).
		Updates(map[string]any{"pick": item.Pick, "updated_at": now}).Error; err != nil {
		return false, err
	}
	existing.Pick = item.Pick
	existing.UpdatedAt = now
	*item = existing
	return false, nil
}

func (s *Store) GetPrediction(ctx context.Context, battleID uint64, participant string) (*models.Prediction, error) {
	if s == nil || s.db == nil || battleID == 0 || strings.TrimSpace(participant) == "" {
		return nil, nil
	}
	var item models.Prediction
	err := s.db.WithContext(ctx).
		Where("battle_id = ? AND participant = ?", battleID, strings.TrimSpace(participant)).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListPredictionsByBattleTx(ctx context.Context, tx *gorm.DB, battleID uint64) ([]models.Prediction, error) {
	if s == nil || s.db == nil || battleID == 0 {
		return nil, nil
	}
	var items []models.Prediction
	if err := s.conn(ctx, tx).
		Where("battle_id = ?", battleID).
		Order("id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListPredictionsByParticipant(ctx context.Context, participant string, battleIDs []uint64) ([]models.Prediction, error) {
	participant = strings.TrimSpace(participant)
	if s == nil || s.db == nil || participant == "" || len(battleIDs) == 0 {
		return nil, nil
	}
	var items []models.Prediction
	if err := s.db.WithContext(ctx).
		Where("participant = ? AND battle_id IN ?", participant, battleIDs).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountPicks(ctx context.Context, battleIDs []uint64) (map[uint64]repository.PickCounts, error) {
	out := map[uint64]repository.PickCounts{}
	if s == nil || s.db == nil || len(battleIDs) == 0 {
		return out, nil
	}
	type row struct {
		BattleID uint64
		Pick     string
		Total    int64
	}
	var rows []row
	if err := s.db.WithContext(ctx).
		Model(&models.Prediction{}).
		Select("battle_id, pick, COUNT(*) AS total").
		Where("battle_id IN ?", battleIDs).
		Group("battle_id, pick").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		c := out[r.BattleID]
		switch r.Pick {
		case "A":
			c.A += r.Total
		case "B":
			c.B += r.Total
		}
		out[r.BattleID] = c
	}
	return out, nil
}

// --- ledger -----------------------------------------------------------------

func (s *Store) InsertLedgerEntryTx(ctx context.Context, tx *gorm.DB, item *models.LedgerEntry) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.conn(ctx, tx).Create(item).Error
}

func (s *Store) AddParticipantPointsTx(ctx context.Context, tx *gorm.DB, wallet string, delta int64) error {
	if s == nil || s.db == nil || strings.TrimSpace(wallet) == "" {
		return nil
	}
	now := time.Now().UTC()
	item := &models.Participant{Wallet: wallet, Points: delta}
	return s.conn(ctx, tx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "wallet"}},
		DoUpdates: clause.Assignments(map[string]any{
			"points":     gorm.Expr("participants.points + ?", delta),
			"updated_at": now,
		}),
	}).Create(item).Error
}

func (s *Store) GetParticipant(ctx context.Context, wallet string) (*models.Participant, error) {
	if s == nil || s.db == nil || strings.TrimSpace(wallet) == "" {
		return nil, nil
	}
	var item models.Participant
	err := s.db.WithContext(ctx).Where("wallet = ?", strings.TrimSpace(wallet)).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) TouchParticipantLogin(ctx context.Context, wallet string, at time.Time) error {
	if s == nil || s.db == nil || strings.TrimSpace(wallet) == "" {
		return nil
	}
	at = at.UTC()
	item := &models.Participant{Wallet: strings.TrimSpace(wallet), LastLoginAt: &at}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "wallet"}},
		DoUpdates: clause.Assignments(map[string]any{
			"last_login_at": at,
			"updated_at":    at,
		}),
	}).Create(item).Error
}

func (s *Store) GetLedgerEntry(ctx context.Context, id uint64) (*models.LedgerEntry, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.LedgerEntry
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, params repository.ListLedgerParams) ([]models.LedgerEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.LedgerEntry{})
	if params.Participant != nil && strings.TrimSpace(*params.Participant) != "" {
		query = query.Where("participant = ?", strings.TrimSpace(*params.Participant))
	}
	if params.BattleID != nil {
		query = query.Where("battle_id = ?", *params.BattleID)
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", params.Since.UTC())
	}
	if params.AfterID > 0 {
		query = query.Where("id > ?", params.AfterID)
	}
	query = applyOrder(query, "id", params.Asc, "id")
	limit := params.Limit
	if limit <= 0 {
		limit = 10000
	}
	var items []models.LedgerEntry
	if err := query.Limit(limit).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountLedgerEntriesTx(ctx context.Context, tx *gorm.DB, params repository.CountLedgerParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := s.conn(ctx, tx).Model(&models.LedgerEntry{})
	if params.Participant != nil {
		query = query.Where("participant = ?", *params.Participant)
	}
	if params.BattleID != nil {
		query = query.Where("battle_id = ?", *params.BattleID)
	}
	if reasons := cleanStrings(params.Reasons); len(reasons) > 0 {
		query = query.Where("reason IN ?", reasons)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) SumLedgerDeltas(ctx context.Context, wallet string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(delta), 0)").
		Where("participant = ?", strings.TrimSpace(wallet)).
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) Leaderboard(ctx context.Context, since *time.Time, limit int) ([]repository.LeaderboardRow, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).
		Table("ledger_entries AS l").
		Select(`
			l.participant AS wallet,
			COALESCE(SUM(l.delta), 0) AS points,
			(SELECT COUNT(DISTINCT p.battle_id) FROM predictions AS p WHERE p.participant = l.participant) AS battles_participated
		`)
	if since != nil && !since.IsZero() {
		query = query.Where("l.created_at > ?", since.UTC())
	}
	var rows []repository.LeaderboardRow
	if err := query.
		Group("l.participant").
		Order("points desc, wallet asc").
		Limit(normalizeLimit(limit, 100)).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// --- settlement audit -------------------------------------------------------

func (s *Store) InsertSettlementAudit(ctx context.Context, item *models.SettlementAudit) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListSettlementAudits(ctx context.Context, battleID uint64) ([]models.SettlementAudit, error) {
	if s == nil || s.db == nil || battleID == 0 {
		return nil, nil
	}
	var items []models.SettlementAudit
	if err := s.db.WithContext(ctx).
		Where("battle_id = ?", battleID).
		Order("id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, raw := range items {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		if _, ok := seen[val]; ok {
			continue
		}
		seen[val] = struct{}{}
		out = append(out, val)
	}
	return out
}
