// Package settlement drives a battle from active to settled or void.
//
// The conditional active -> settling write is the only concurrency gate:
// whoever wins it owns the attempt, everyone else skips. Once an attempt owns
// the battle it always leaves it settled or void.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"battles/internal/ledger"
	"battles/internal/models"
	"battles/internal/oracle"
	"battles/internal/outcome"
	"battles/internal/repository"
)

var (
	ErrBattleNotFound = errors.New("settlement: battle not found")
	ErrBattleNotEnded = errors.New("settlement: battle has not ended")
)

const (
	TriggerCron      = "cron"
	TriggerScheduler = "scheduler"
	TriggerManual    = "manual"
)

type PriceSource interface {
	FetchPriceAt(ctx context.Context, feedID string, target int64) (oracle.Quote, error)
	FetchLatestPrice(ctx context.Context, feedID string) (oracle.Quote, error)
}

type Distributor interface {
	DistributeSettlementTx(ctx context.Context, tx *gorm.DB, battleID uint64, winner string) (ledger.Distribution, error)
}

type Coordinator struct {
	Repo       repository.Repository
	Oracle     PriceSource
	Calculator outcome.Calculator
	Ledger     Distributor
	Logger     *zap.Logger
	Now        func() time.Time

	// CaptureStartPrice records live start prices on activation for display.
	CaptureStartPrice bool
}

// Result describes what one Settle call did.
type Result struct {
	BattleID     uint64               `json:"battle_id"`
	AttemptID    string               `json:"attempt_id,omitempty"`
	Status       string               `json:"status"`
	Winner       string               `json:"winner,omitempty"`
	Reason       string               `json:"reason,omitempty"`
	DeltaAPct    *float64             `json:"delta_a_pct,omitempty"`
	DeltaBPct    *float64             `json:"delta_b_pct,omitempty"`
	Skipped      bool                 `json:"skipped,omitempty"`
	SkipReason   string               `json:"skip_reason,omitempty"`
	Distribution *ledger.Distribution `json:"distribution,omitempty"`
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

// Activate moves a scheduled battle to active. It reports false when another
// caller already did.
func (c *Coordinator) Activate(ctx context.Context, battle *models.Battle) (bool, error) {
	if battle == nil {
		return false, nil
	}
	ok, err := c.Repo.TransitionBattleStatus(ctx, battle.ID, models.BattleStatusScheduled, models.BattleStatusActive)
	if err != nil {
		return false, fmt.Errorf("activate battle %d: %w", battle.ID, err)
	}
	if !ok {
		return false, nil
	}
	battle.Status = models.BattleStatusActive
	c.log().Info("battle activated", zap.Uint64("battle_id", battle.ID))
	if c.CaptureStartPrice && c.now().Before(battle.EndsAt) {
		c.captureStartPrices(ctx, battle)
	}
	return true, nil
}

func (c *Coordinator) captureStartPrices(ctx context.Context, battle *models.Battle) {
	feedA, feedB, err := c.feeds(ctx, battle)
	if err != nil {
		c.log().Warn("start price capture skipped", zap.Uint64("battle_id", battle.ID), zap.Error(err))
		return
	}
	var priceA, priceB *decimal.Decimal
	if q, err := c.Oracle.FetchLatestPrice(ctx, feedA); err == nil {
		priceA = &q.Price
	}
	if q, err := c.Oracle.FetchLatestPrice(ctx, feedB); err == nil {
		priceB = &q.Price
	}
	if err := c.Repo.SetBattleStartPrices(ctx, battle.ID, priceA, priceB); err != nil {
		c.log().Warn("start price capture failed", zap.Uint64("battle_id", battle.ID), zap.Error(err))
	}
}

// Settle runs one settlement attempt for battleID. Terminal battles and lost
// races come back as a skipped Result with a nil error.
func (c *Coordinator) Settle(ctx context.Context, battleID uint64, trigger string) (res Result, err error) {
	res = Result{BattleID: battleID}
	battle, err := c.Repo.GetBattle(ctx, battleID)
	if err != nil {
		return res, err
	}
	if battle == nil {
		return res, ErrBattleNotFound
	}
	res.Status = battle.Status
	if battle.Terminal() {
		return skip(res, "already "+battle.Status), nil
	}
	if c.now().Before(battle.EndsAt) {
		return res, ErrBattleNotEnded
	}
	if battle.Status == models.BattleStatusSettling {
		return skip(res, "settlement in progress"), nil
	}
	if battle.Status == models.BattleStatusScheduled {
		if _, err := c.Activate(ctx, battle); err != nil {
			return res, err
		}
	}

	won, err := c.Repo.TransitionBattleStatus(ctx, battle.ID, models.BattleStatusActive, models.BattleStatusSettling)
	if err != nil {
		return res, fmt.Errorf("claim battle %d: %w", battle.ID, err)
	}
	if !won {
		return skip(res, "lost settlement race"), nil
	}
	battle.Status = models.BattleStatusSettling
	res.Status = models.BattleStatusSettling
	res.AttemptID = uuid.NewString()

	// The claim is ours; the caller going away must not void the battle.
	ctx = context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			perr := fmt.Errorf("settlement panic: %v", r)
			res = c.fail(ctx, battle, res, trigger, perr)
			err = perr
		}
	}()

	res, err = c.settleClaimed(ctx, battle, res, trigger)
	if err != nil {
		res = c.fail(ctx, battle, res, trigger, err)
		return res, err
	}
	return res, nil
}

func (c *Coordinator) settleClaimed(ctx context.Context, battle *models.Battle, res Result, trigger string) (Result, error) {
	startTS := battle.StartsAt.Unix()
	endTS := battle.EndsAt.Unix()
	c.audit(ctx, battle.ID, models.AuditActionFetchPrice, trigger, res.AttemptID, map[string]any{
		"asset_a":  battle.AssetA,
		"asset_b":  battle.AssetB,
		"start_ts": startTS,
		"end_ts":   endTS,
	})
	feedA, feedB, err := c.feeds(ctx, battle)
	if err != nil {
		return res, err
	}

	prices, err := c.fetchPrices(ctx, battle.ID, feedA, feedB, startTS, endTS)
	if err != nil {
		return res, err
	}

	deltaA := outcome.PercentChange(prices.float(prices.aStart), prices.float(prices.aEnd))
	deltaB := outcome.PercentChange(prices.float(prices.bStart), prices.float(prices.bEnd))
	decision := c.Calculator.DecideWinner(deltaA, deltaB)
	res.DeltaAPct, res.DeltaBPct = deltaA, deltaB
	res.Winner, res.Reason = decision.Winner, decision.Reason

	c.audit(ctx, battle.ID, models.AuditActionCalculate, trigger, res.AttemptID, map[string]any{
		"feed_a":            feedA,
		"feed_b":            feedB,
		"price_a_start":     decimalString(prices.aStart),
		"price_a_end":       decimalString(prices.aEnd),
		"price_b_start":     decimalString(prices.bStart),
		"price_b_end":       decimalString(prices.bEnd),
		"delta_a_pct":       deltaA,
		"delta_b_pct":       deltaB,
		"winner":            decision.Winner,
		"reason":            decision.Reason,
		"tie_threshold_pct": c.Calculator.TieThresholdPct,
		"fetch_errors":      prices.errs,
	})

	result := repository.BattleResult{
		PriceAStart:  prices.aStart,
		PriceAEnd:    prices.aEnd,
		PriceBStart:  prices.bStart,
		PriceBEnd:    prices.bEnd,
		DeltaAPct:    deltaA,
		DeltaBPct:    deltaB,
		SettleReason: decision.Reason,
		SettledAt:    c.now(),
	}

	if decision.Winner == outcome.WinnerNone {
		result.Status = models.BattleStatusVoid
		ok, err := c.Repo.FinalizeBattleTx(ctx, nil, battle.ID, result)
		if err != nil {
			return res, err
		}
		if !ok {
			return res, repository.ErrStaleTransition
		}
		res.Status = models.BattleStatusVoid
		c.finished(ctx, battle, res, trigger)
		return res, nil
	}

	winner := decision.Winner
	result.Status = models.BattleStatusSettled
	result.Winner = &winner
	switch winner {
	case outcome.WinnerA:
		result.WinnerAsset = &battle.AssetA
	case outcome.WinnerB:
		result.WinnerAsset = &battle.AssetB
	}

	var dist ledger.Distribution
	err = c.Repo.InTx(ctx, func(tx *gorm.DB) error {
		ok, err := c.Repo.FinalizeBattleTx(ctx, tx, battle.ID, result)
		if err != nil {
			return err
		}
		if !ok {
			return repository.ErrStaleTransition
		}
		if c.Ledger == nil {
			return nil
		}
		dist, err = c.Ledger.DistributeSettlementTx(ctx, tx, battle.ID, winner)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("finalize battle %d: %w", battle.ID, err)
	}
	res.Status = models.BattleStatusSettled
	res.Distribution = &dist
	c.audit(ctx, battle.ID, models.AuditActionDistribute, trigger, res.AttemptID, dist)
	c.finished(ctx, battle, res, trigger)
	return res, nil
}

// fail records the error and forces the battle to void/ERROR if it is still
// settling. It runs on a context that outlives cancellation of ctx.
func (c *Coordinator) fail(ctx context.Context, battle *models.Battle, res Result, trigger string, cause error) Result {
	wctx := context.WithoutCancel(ctx)
	c.log().Error("settlement failed",
		zap.Uint64("battle_id", battle.ID),
		zap.String("attempt_id", res.AttemptID),
		zap.Error(cause),
	)
	c.audit(wctx, battle.ID, models.AuditActionError, trigger, res.AttemptID, map[string]any{
		"error": cause.Error(),
	})
	ok, err := c.Repo.FinalizeBattleTx(wctx, nil, battle.ID, repository.BattleResult{
		Status:       models.BattleStatusVoid,
		SettleReason: outcome.ReasonError,
		SettledAt:    c.now(),
	})
	if err != nil {
		c.log().Error("force void failed", zap.Uint64("battle_id", battle.ID), zap.Error(err))
	}
	if ok {
		res.Status = models.BattleStatusVoid
		res.Winner = outcome.WinnerNone
		res.Reason = outcome.ReasonError
		res.Distribution = nil
	}
	c.audit(wctx, battle.ID, models.AuditActionSettle, trigger, res.AttemptID, map[string]any{
		"status": res.Status,
		"reason": res.Reason,
		"error":  cause.Error(),
	})
	return res
}

func (c *Coordinator) finished(ctx context.Context, battle *models.Battle, res Result, trigger string) {
	c.audit(ctx, battle.ID, models.AuditActionSettle, trigger, res.AttemptID, map[string]any{
		"status": res.Status,
		"winner": res.Winner,
		"reason": res.Reason,
	})
	c.log().Info("battle settled",
		zap.Uint64("battle_id", battle.ID),
		zap.String("status", res.Status),
		zap.String("winner", res.Winner),
		zap.String("reason", res.Reason),
		zap.String("trigger", trigger),
	)
}

func (c *Coordinator) feeds(ctx context.Context, battle *models.Battle) (string, string, error) {
	a, err := c.Repo.GetAsset(ctx, battle.AssetA)
	if err != nil {
		return "", "", err
	}
	b, err := c.Repo.GetAsset(ctx, battle.AssetB)
	if err != nil {
		return "", "", err
	}
	if a == nil || a.FeedID == "" {
		return "", "", fmt.Errorf("asset %s has no price feed", battle.AssetA)
	}
	if b == nil || b.FeedID == "" {
		return "", "", fmt.Errorf("asset %s has no price feed", battle.AssetB)
	}
	return a.FeedID, b.FeedID, nil
}

type fetchedPrices struct {
	aStart, aEnd, bStart, bEnd *decimal.Decimal
	errs                       map[string]string
}

func (p fetchedPrices) float(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	v := d.InexactFloat64()
	return &v
}

// fetchPrices runs the four oracle lookups concurrently. An unavailable price
// is recorded as nil; any other error aborts the attempt.
func (c *Coordinator) fetchPrices(ctx context.Context, battleID uint64, feedA, feedB string, startTS, endTS int64) (fetchedPrices, error) {
	type job struct {
		key  string
		feed string
		ts   int64
		dst  **decimal.Decimal
	}
	var out fetchedPrices
	jobs := []job{
		{key: "price_a_start", feed: feedA, ts: startTS, dst: &out.aStart},
		{key: "price_a_end", feed: feedA, ts: endTS, dst: &out.aEnd},
		{key: "price_b_start", feed: feedB, ts: startTS, dst: &out.bStart},
		{key: "price_b_end", feed: feedB, ts: endTS, dst: &out.bEnd},
	}
	errs := make([]string, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	for i, j := range jobs {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%s: oracle panic: %v", j.key, r)
				}
			}()
			q, err := c.Oracle.FetchPriceAt(gctx, j.feed, j.ts)
			if err != nil {
				if errors.Is(err, oracle.ErrPriceUnavailable) {
					errs[i] = err.Error()
					c.log().Warn("price unavailable",
						zap.Uint64("battle_id", battleID),
						zap.String("leg", j.key),
						zap.Error(err),
					)
					return nil
				}
				return fmt.Errorf("%s: %w", j.key, err)
			}
			price := q.Price
			*j.dst = &price
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	for i, j := range jobs {
		if errs[i] == "" {
			continue
		}
		if out.errs == nil {
			out.errs = map[string]string{}
		}
		out.errs[j.key] = errs[i]
	}
	return out, nil
}

func (c *Coordinator) log() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func skip(res Result, reason string) Result {
	res.Skipped = true
	res.SkipReason = reason
	return res
}

func decimalString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
