package gormrepository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battles/internal/config"
	"battles/internal/db"
	"battles/internal/models"
	"battles/internal/repository"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := db.Open(config.DBConfig{
		Driver:       "sqlite",
		DSN:          filepath.Join(t.TempDir(), "battles.db"),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(conn) })
	require.NoError(t, db.AutoMigrate(conn))
	return New(conn.Gorm)
}

func seedBattle(t *testing.T, s *Store, status string, startsAt, endsAt time.Time) *models.Battle {
	t.Helper()
	b := &models.Battle{
		AssetA:   "SOL",
		AssetB:   "BONK",
		StartsAt: startsAt.UTC(),
		EndsAt:   endsAt.UTC(),
		Status:   status,
	}
	require.NoError(t, s.CreateBattle(context.Background(), b))
	require.NotZero(t, b.ID)
	return b
}

func TestTransitionBattleStatusSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	b := seedBattle(t, s, models.BattleStatusActive, now.Add(-2*time.Hour), now.Add(-time.Minute))

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TransitionBattleStatus(ctx, b.ID, models.BattleStatusActive, models.BattleStatusSettling)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	got, err := s.GetBattle(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BattleStatusSettling, got.Status)
}

func TestFinalizeBattleRequiresSettling(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	b := seedBattle(t, s, models.BattleStatusActive, now.Add(-2*time.Hour), now.Add(-time.Minute))

	winner := "A"
	price := decimal.RequireFromString("1.5")
	delta := 12.5
	result := repository.BattleResult{
		Status:       models.BattleStatusSettled,
		PriceAStart:  &price,
		DeltaAPct:    &delta,
		Winner:       &winner,
		SettleReason: "OK",
		SettledAt:    now,
	}

	ok, err := s.FinalizeBattleTx(ctx, nil, b.ID, result)
	require.NoError(t, err)
	assert.False(t, ok, "finalize must not apply to an active battle")

	moved, err := s.TransitionBattleStatus(ctx, b.ID, models.BattleStatusActive, models.BattleStatusSettling)
	require.NoError(t, err)
	require.True(t, moved)

	ok, err = s.FinalizeBattleTx(ctx, nil, b.ID, result)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second finalize with different data is a no-op.
	other := "B"
	result.Winner = &other
	ok, err = s.FinalizeBattleTx(ctx, nil, b.ID, result)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetBattle(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BattleStatusSettled, got.Status)
	require.NotNil(t, got.Winner)
	assert.Equal(t, "A", *got.Winner)
	require.NotNil(t, got.PriceAStart)
	assert.True(t, got.PriceAStart.Equal(price))
	require.NotNil(t, got.DeltaAPct)
	assert.InDelta(t, 12.5, *got.DeltaAPct, 1e-9)
}

func TestDueBattleQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	future := seedBattle(t, s, models.BattleStatusScheduled, now.Add(time.Hour), now.Add(2*time.Hour))
	started := seedBattle(t, s, models.BattleStatusScheduled, now.Add(-time.Minute), now.Add(time.Hour))
	ended := seedBattle(t, s, models.BattleStatusActive, now.Add(-2*time.Hour), now.Add(-time.Minute))
	missed := seedBattle(t, s, models.BattleStatusScheduled, now.Add(-3*time.Hour), now.Add(-2*time.Hour))
	seedBattle(t, s, models.BattleStatusSettled, now.Add(-3*time.Hour), now.Add(-2*time.Hour))

	activate, err := s.ListBattlesDueForActivation(ctx, now, 0)
	require.NoError(t, err)
	ids := battleIDs(activate)
	assert.ElementsMatch(t, []uint64{started.ID, missed.ID}, ids)
	assert.NotContains(t, ids, future.ID)

	settle, err := s.ListBattlesDueForSettlement(ctx, now, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{ended.ID, missed.ID}, battleIDs(settle))
}

func TestPredictionUpsertAndPickCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	b := seedBattle(t, s, models.BattleStatusActive, now.Add(-time.Hour), now.Add(time.Hour))

	created, err := s.UpsertPredictionTx(ctx, nil, &models.Prediction{BattleID: b.ID, Participant: "alice", Pick: "A"})
	require.NoError(t, err)
	assert.True(t, created)
	created, err = s.UpsertPredictionTx(ctx, nil, &models.Prediction{BattleID: b.ID, Participant: "alice", Pick: "B"})
	require.NoError(t, err)
	assert.False(t, created)
	_, err = s.UpsertPredictionTx(ctx, nil, &models.Prediction{BattleID: b.ID, Participant: "bob", Pick: "B"})
	require.NoError(t, err)

	got, err := s.GetPrediction(ctx, b.ID, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "B", got.Pick)

	counts, err := s.CountPicks(ctx, []uint64{b.ID})
	require.NoError(t, err)
	assert.Equal(t, repository.PickCounts{A: 0, B: 2}, counts[b.ID])
}

func TestParticipantPointsUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddParticipantPointsTx(ctx, nil, "alice", 50))
	require.NoError(t, s.AddParticipantPointsTx(ctx, nil, "alice", 10))
	require.NoError(t, s.TouchParticipantLogin(ctx, "alice", time.Now()))

	p, err := s.GetParticipant(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, int64(60), p.Points)
	assert.NotNil(t, p.LastLoginAt)
}

func battleIDs(items []models.Battle) []uint64 {
	out := make([]uint64, 0, len(items))
	for _, b := range items {
		out = append(out, b.ID)
	}
	return out
}
