package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battles/internal/config"
	"battles/internal/db"
	"battles/internal/ledger"
	"battles/internal/models"
	gormrepository "battles/internal/repository/gorm"
)

func newPredictionFixture(t *testing.T, now time.Time) (*PredictionService, *gormrepository.Store, *ledger.Ledger) {
	t.Helper()
	conn, err := db.Open(config.DBConfig{
		Driver:       "sqlite",
		DSN:          filepath.Join(t.TempDir(), "predictions.db"),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(conn) })
	require.NoError(t, db.AutoMigrate(conn))
	store := gormrepository.New(conn.Gorm)
	l := &ledger.Ledger{Repo: store, Signer: ledger.NewSigner("test-secret"), Points: ledger.DefaultPoints()}
	svc := &PredictionService{Repo: store, Ledger: l, Cutoff: time.Minute, Now: func() time.Time { return now }}
	return svc, store, l
}

func createBattle(t *testing.T, store *gormrepository.Store, status string, endsAt time.Time) uint64 {
	t.Helper()
	b := &models.Battle{AssetA: "SOL", AssetB: "BONK", StartsAt: endsAt.Add(-90 * time.Minute), EndsAt: endsAt, Status: status}
	require.NoError(t, store.CreateBattle(context.Background(), b))
	return b.ID
}

func TestSubmitPaysParticipationOnce(t *testing.T) {
	now := time.Date(2025, 11, 1, 12, 0, 0, 0, time.UTC)
	svc, store, l := newPredictionFixture(t, now)
	ctx := context.Background()
	id := createBattle(t, store, models.BattleStatusActive, now.Add(30*time.Minute))

	res, err := svc.Submit(ctx, "alice", id, "a")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, int64(10), res.PointsAwarded)
	assert.Equal(t, models.PickA, res.Prediction.Pick)

	res, err = svc.Submit(ctx, "alice", id, "B")
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, int64(0), res.PointsAwarded)
	assert.Equal(t, models.PickB, res.Prediction.Pick)

	cached, sum, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), cached)
	assert.Equal(t, int64(10), sum)

	p, err := store.GetPrediction(ctx, id, "alice")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, models.PickB, p.Pick)
}

func TestSubmitRejections(t *testing.T) {
	now := time.Date(2025, 11, 1, 12, 0, 0, 0, time.UTC)
	svc, store, _ := newPredictionFixture(t, now)
	ctx := context.Background()

	open := createBattle(t, store, models.BattleStatusScheduled, now.Add(time.Hour))
	closing := createBattle(t, store, models.BattleStatusActive, now.Add(30*time.Second))
	settled := createBattle(t, store, models.BattleStatusSettled, now.Add(-time.Hour))

	cases := []struct {
		name   string
		battle uint64
		pick   string
		want   error
	}{
		{"bad pick", open, "C", ErrInvalidPick},
		{"unknown battle", 9999, "A", ErrBattleNotFound},
		{"inside cutoff", closing, "A", ErrCutoffPassed},
		{"settled battle", settled, "A", ErrBattleClosed},
	}
	for _, tc := range cases {
		_, err := svc.Submit(ctx, "bob", tc.battle, tc.pick)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: err=%v want=%v", tc.name, err, tc.want)
		}
	}
}
