package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"battles/internal/models"
	"battles/internal/oracle"
	"battles/internal/outcome"
)

type latestOnly map[string]string

func (l latestOnly) FetchLatestPrice(ctx context.Context, feedID string) (oracle.Quote, error) {
	v, ok := l[feedID]
	if !ok {
		return oracle.Quote{}, oracle.ErrPriceUnavailable
	}
	return oracle.Quote{FeedID: feedID, Price: decimal.RequireFromString(v)}, nil
}

func TestLivePricesLeader(t *testing.T) {
	pa, pb := decimal.RequireFromString("100"), decimal.RequireFromString("10")
	b := models.Battle{ID: 1, AssetA: "SOL", AssetB: "BONK", Status: models.BattleStatusActive,
		StartsAt: time.Now().Add(-time.Hour), EndsAt: time.Now().Add(time.Hour), PriceAStart: &pa, PriceBStart: &pb}
	a := &models.Asset{Symbol: "SOL", FeedID: "fa"}
	bb := &models.Asset{Symbol: "BONK", FeedID: "fb"}

	snap, err := LivePrices(context.Background(), latestOnly{"fa": "105", "fb": "10.1"}, outcome.NewCalculator(10), b, a, bb)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if snap.CurrentLeader == nil || *snap.CurrentLeader != outcome.WinnerA {
		t.Fatalf("leader=%v want=A", snap.CurrentLeader)
	}
	if snap.A.PriceCurrent != "105" || snap.A.DeltaPercent == nil {
		t.Fatalf("side a=%+v", snap.A)
	}

	b.PriceBStart = nil
	snap, err = LivePrices(context.Background(), latestOnly{"fa": "105", "fb": "10.1"}, outcome.NewCalculator(10), b, a, bb)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if snap.CurrentLeader != nil || snap.B.DeltaPercent != nil {
		t.Fatalf("leader without start price: %v", snap.CurrentLeader)
	}
}

func TestLivePricesErrors(t *testing.T) {
	a := &models.Asset{Symbol: "SOL", FeedID: "fa"}
	b := &models.Asset{Symbol: "BONK", FeedID: "fb"}
	_, err := LivePrices(context.Background(), latestOnly{}, outcome.NewCalculator(10), models.Battle{Status: models.BattleStatusSettled}, a, b)
	if !errors.Is(err, ErrBattleNotActive) {
		t.Fatalf("err=%v want=ErrBattleNotActive", err)
	}
	_, err = LivePrices(context.Background(), latestOnly{"fa": "1"}, outcome.NewCalculator(10), models.Battle{Status: models.BattleStatusActive}, a, b)
	if !errors.Is(err, oracle.ErrPriceUnavailable) {
		t.Fatalf("err=%v want=ErrPriceUnavailable", err)
	}
}
