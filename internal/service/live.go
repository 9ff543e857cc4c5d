package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"battles/internal/models"
	"battles/internal/oracle"
	"battles/internal/outcome"
)

var ErrBattleNotActive = errors.New("battle not active")

type LatestPriceSource interface {
	FetchLatestPrice(ctx context.Context, feedID string) (oracle.Quote, error)
}

type LiveSide struct {
	Symbol       string   `json:"symbol"`
	Name         string   `json:"name,omitempty"`
	PriceStart   *string  `json:"price_start"`
	PriceCurrent string   `json:"price_current"`
	DeltaPercent *float64 `json:"delta_percent"`
}

// LiveSnapshot is the provisional standing of an active battle.
type LiveSnapshot struct {
	BattleID      uint64    `json:"battle_id"`
	Status        string    `json:"status"`
	StartsAt      time.Time `json:"starts_at"`
	EndsAt        time.Time `json:"ends_at"`
	A             LiveSide  `json:"token_a"`
	B             LiveSide  `json:"token_b"`
	CurrentLeader *string   `json:"current_leader"`
	LastUpdated   time.Time `json:"last_updated"`
}

// LivePrices reads both latest prices and compares them with the start
// prices captured on activation. Deltas stay nil until a start price exists.
func LivePrices(ctx context.Context, src LatestPriceSource, calc outcome.Calculator, b models.Battle, assetA, assetB *models.Asset) (LiveSnapshot, error) {
	if b.Status != models.BattleStatusActive {
		return LiveSnapshot{}, ErrBattleNotActive
	}
	if assetA == nil || assetB == nil || assetA.FeedID == "" || assetB.FeedID == "" {
		return LiveSnapshot{}, fmt.Errorf("battle %d: missing price feed", b.ID)
	}

	var qa, qb oracle.Quote
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		qa, err = src.FetchLatestPrice(gctx, assetA.FeedID)
		return err
	})
	g.Go(func() (err error) {
		qb, err = src.FetchLatestPrice(gctx, assetB.FeedID)
		return err
	})
	if err := g.Wait(); err != nil {
		return LiveSnapshot{}, err
	}

	snap := LiveSnapshot{
		BattleID:    b.ID,
		Status:      b.Status,
		StartsAt:    b.StartsAt,
		EndsAt:      b.EndsAt,
		A:           liveSide(assetA, b.PriceAStart, qa.Price),
		B:           liveSide(assetB, b.PriceBStart, qb.Price),
		LastUpdated: time.Now().UTC(),
	}
	if leader := calc.Leader(snap.A.DeltaPercent, snap.B.DeltaPercent); leader != outcome.WinnerNone {
		snap.CurrentLeader = &leader
	}
	return snap, nil
}

func liveSide(a *models.Asset, start *decimal.Decimal, current decimal.Decimal) LiveSide {
	side := LiveSide{Symbol: a.Symbol, Name: a.Name, PriceStart: decString(start), PriceCurrent: current.String()}
	if start != nil {
		s, _ := start.Float64()
		c, _ := current.Float64()
		side.DeltaPercent = outcome.PercentChange(&s, &c)
	}
	return side
}
