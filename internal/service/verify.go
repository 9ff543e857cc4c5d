package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"battles/internal/models"
	"battles/internal/outcome"
)

var ErrNotSettled = errors.New("battle not yet settled")

type VerifyAsset struct {
	Symbol string `json:"symbol"`
	Mint   string `json:"mint,omitempty"`
	FeedID string `json:"feed_id"`
}

type VerifyWindow struct {
	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
	StartsAtUnix int64     `json:"starts_at_unix"`
	EndsAtUnix   int64     `json:"ends_at_unix"`
}

type VerifyPrices struct {
	Start *string `json:"start"`
	End   *string `json:"end"`
}

type VerifyResult struct {
	Status       string     `json:"status"`
	Winner       *string    `json:"winner"`
	WinnerSymbol *string    `json:"winner_symbol"`
	Reason       *string    `json:"reason"`
	SettledAt    *time.Time `json:"settled_at"`
}

// Verification carries every input and output of a settlement so a third
// party can recompute the result from the oracle.
type Verification struct {
	BattleID        uint64                  `json:"battle_id"`
	Assets          map[string]VerifyAsset  `json:"assets"`
	TimeWindow      VerifyWindow            `json:"time_window"`
	Prices          map[string]VerifyPrices `json:"prices"`
	Deltas          map[string]*float64     `json:"deltas"`
	Result          VerifyResult            `json:"result"`
	TieThresholdBps float64                 `json:"tie_threshold_bps"`
	TieThresholdPct float64                 `json:"tie_threshold_pct"`
	OracleEndpoint  string                  `json:"oracle_endpoint"`
	HowToVerify     []string                `json:"how_to_verify"`
}

// BuildVerification reports a terminal battle. Assets may be nil when the
// catalog entry was removed after settlement.
func BuildVerification(b models.Battle, assetA, assetB *models.Asset, calc outcome.Calculator, oracleEndpoint string) (Verification, error) {
	if !b.Terminal() {
		return Verification{}, ErrNotSettled
	}
	bps := calc.TieThresholdPct * 100
	v := Verification{
		BattleID: b.ID,
		Assets: map[string]VerifyAsset{
			"a": verifyAsset(b.AssetA, assetA),
			"b": verifyAsset(b.AssetB, assetB),
		},
		TimeWindow: VerifyWindow{
			StartsAt:     b.StartsAt.UTC(),
			EndsAt:       b.EndsAt.UTC(),
			StartsAtUnix: b.StartsAt.Unix(),
			EndsAtUnix:   b.EndsAt.Unix(),
		},
		Prices: map[string]VerifyPrices{
			"a": {Start: decString(b.PriceAStart), End: decString(b.PriceAEnd)},
			"b": {Start: decString(b.PriceBStart), End: decString(b.PriceBEnd)},
		},
		Deltas: map[string]*float64{"a": b.DeltaAPct, "b": b.DeltaBPct},
		Result: VerifyResult{
			Status:       b.Status,
			Winner:       b.Winner,
			WinnerSymbol: b.WinnerAsset,
			Reason:       b.SettleReason,
			SettledAt:    b.SettledAt,
		},
		TieThresholdBps: bps,
		TieThresholdPct: calc.TieThresholdPct,
		OracleEndpoint:  oracleEndpoint,
		HowToVerify: []string{
			fmt.Sprintf("1. Fetch oracle prices for both feeds at %d and %d", b.StartsAt.Unix(), b.EndsAt.Unix()),
			"2. Compute the percent change of each asset: (end - start) / start * 100",
			fmt.Sprintf("3. If |deltaA - deltaB| < %g, the result is TIE", calc.TieThresholdPct),
			"4. Otherwise the asset with the higher change wins",
			"5. A missing price voids the battle with INSUFFICIENT_DATA",
		},
	}
	return v, nil
}

func verifyAsset(symbol string, a *models.Asset) VerifyAsset {
	out := VerifyAsset{Symbol: symbol}
	if a != nil {
		out.Mint = a.Mint
		out.FeedID = a.FeedID
	}
	return out
}

func decString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
