// Package scheduler advances battles through their lifecycle on a timer and
// generates the daily slate of battles.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"battles/internal/models"
	"battles/internal/settlement"
)

type BattleLister interface {
	ListBattlesDueForActivation(ctx context.Context, now time.Time, limit int) ([]models.Battle, error)
	ListBattlesDueForSettlement(ctx context.Context, now time.Time, limit int) ([]models.Battle, error)
}

type Settler interface {
	Activate(ctx context.Context, battle *models.Battle) (bool, error)
	Settle(ctx context.Context, battleID uint64, trigger string) (settlement.Result, error)
}

type Scheduler struct {
	Store   BattleLister
	Settler Settler
	Logger  *zap.Logger
	Now     func() time.Time

	// Workers bounds concurrent settlements per tick.
	Workers    int
	BatchLimit int
}

type TickError struct {
	BattleID uint64 `json:"battle_id"`
	Action   string `json:"action"`
	Error    string `json:"error"`
}

type TickResult struct {
	RunID     string              `json:"run_id"`
	Trigger   string              `json:"trigger"`
	StartedAt time.Time           `json:"started_at"`
	Activated []uint64            `json:"activated"`
	Settled   []settlement.Result `json:"settled"`
	Skipped   []settlement.Result `json:"skipped"`
	Errors    []TickError         `json:"errors"`
}

// Tick activates battles whose start has passed and settles battles whose end
// has passed. A failure on one battle is recorded and never stops the rest.
// The returned error is non-nil only when the due lists cannot be read.
func (s *Scheduler) Tick(ctx context.Context, trigger string) (TickResult, error) {
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	res := TickResult{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		StartedAt: now,
		Activated: []uint64{},
		Settled:   []settlement.Result{},
		Skipped:   []settlement.Result{},
		Errors:    []TickError{},
	}
	logger := s.logger().With(zap.String("run_id", res.RunID), zap.String("trigger", trigger))

	due, err := s.Store.ListBattlesDueForActivation(ctx, now, s.BatchLimit)
	if err != nil {
		return res, err
	}
	for i := range due {
		b := due[i]
		if !now.Before(b.EndsAt) {
			// Ended while still scheduled; settlement activates it.
			continue
		}
		ok, err := s.Settler.Activate(ctx, &b)
		if err != nil {
			res.Errors = append(res.Errors, TickError{BattleID: b.ID, Action: "activate", Error: err.Error()})
			logger.Warn("activate failed", zap.Uint64("battle_id", b.ID), zap.Error(err))
			continue
		}
		if ok {
			res.Activated = append(res.Activated, b.ID)
		}
	}

	ended, err := s.Store.ListBattlesDueForSettlement(ctx, now, s.BatchLimit)
	if err != nil {
		return res, err
	}
	workers := s.Workers
	if workers <= 0 {
		workers = 4
	}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(workers)
	for _, b := range ended {
		id := b.ID
		g.Go(func() error {
			r, err := s.Settler.Settle(ctx, id, trigger)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil && errors.Is(err, settlement.ErrBattleNotEnded):
				res.Skipped = append(res.Skipped, r)
			case err != nil:
				res.Errors = append(res.Errors, TickError{BattleID: id, Action: "settle", Error: err.Error()})
				logger.Warn("settle failed", zap.Uint64("battle_id", id), zap.Error(err))
				if r.Status != "" {
					res.Settled = append(res.Settled, r)
				}
			case r.Skipped:
				res.Skipped = append(res.Skipped, r)
			default:
				res.Settled = append(res.Settled, r)
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("lifecycle tick done",
		zap.Int("activated", len(res.Activated)),
		zap.Int("settled", len(res.Settled)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("errors", len(res.Errors)),
	)
	return res, nil
}

func (s *Scheduler) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
