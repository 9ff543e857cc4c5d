// Package ledger is the append-only points ledger. Every award writes one
// signed entry and bumps the participant's cached balance in the same
// transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"battles/internal/models"
	"battles/internal/outcome"
	"battles/internal/repository"
)

var (
	// ErrAlreadyDistributed guards against paying out one battle twice.
	ErrAlreadyDistributed = errors.New("ledger: settlement already distributed")
	ErrInvalidAward       = errors.New("ledger: invalid award")
)

type Points struct {
	Win         int64
	Loss        int64
	Participate int64
	JoinBonus   int64
	// GuardRedistribution rejects a second distribution for the same battle.
	GuardRedistribution bool
}

func DefaultPoints() Points {
	return Points{
		Win:                 100,
		Loss:                0,
		Participate:         10,
		JoinBonus:           50,
		GuardRedistribution: true,
	}
}

type Ledger struct {
	Repo   repository.Repository
	Signer Signer
	Points Points
	Logger *zap.Logger
	Now    func() time.Time
}

// Distribution summarizes one settlement payout.
type Distribution struct {
	BattleID     uint64 `json:"battle_id"`
	Winner       string `json:"winner"`
	Predictions  int    `json:"predictions"`
	Winners      int    `json:"winners"`
	Losers       int    `json:"losers"`
	Entries      int    `json:"entries"`
	PointsIssued int64  `json:"points_issued"`
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Ledger) AwardPoints(ctx context.Context, participant string, delta int64, reason string, battleID *uint64) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := l.Repo.InTx(ctx, func(tx *gorm.DB) error {
		var err error
		entry, err = l.AwardPointsTx(ctx, tx, participant, delta, reason, battleID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// AwardPointsTx appends a signed entry and applies delta to the cached
// balance using tx. Callers own the transaction.
func (l *Ledger) AwardPointsTx(ctx context.Context, tx *gorm.DB, participant string, delta int64, reason string, battleID *uint64) (*models.LedgerEntry, error) {
	participant = strings.TrimSpace(participant)
	reason = strings.TrimSpace(reason)
	if participant == "" || reason == "" || delta == 0 {
		return nil, fmt.Errorf("%w: participant=%q reason=%q delta=%d", ErrInvalidAward, participant, reason, delta)
	}
	createdAt := CanonicalTime(l.now())
	entry := &models.LedgerEntry{
		Participant: participant,
		Delta:       delta,
		Reason:      reason,
		BattleID:    battleID,
		HMAC:        l.Signer.Sign(participant, delta, reason, battleID, createdAt),
		CreatedAt:   createdAt,
	}
	if err := l.Repo.InsertLedgerEntryTx(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}
	if err := l.Repo.AddParticipantPointsTx(ctx, tx, participant, delta); err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}
	return entry, nil
}

func (l *Ledger) VerifyEntry(entry models.LedgerEntry) bool {
	return l.Signer.Verify(entry)
}

// AwardJoinBonusIfNew pays the join bonus once per participant.
func (l *Ledger) AwardJoinBonusIfNew(ctx context.Context, participant string) (bool, error) {
	if l.Points.JoinBonus == 0 {
		return false, nil
	}
	awarded := false
	err := l.Repo.InTx(ctx, func(tx *gorm.DB) error {
		n, err := l.Repo.CountLedgerEntriesTx(ctx, tx, repository.CountLedgerParams{
			Participant: &participant,
			Reasons:     []string{models.LedgerReasonJoinBonus},
		})
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		if _, err := l.AwardPointsTx(ctx, tx, participant, l.Points.JoinBonus, models.LedgerReasonJoinBonus, nil); err != nil {
			return err
		}
		awarded = true
		return nil
	})
	return awarded, err
}

// AwardParticipationTx pays the participation reward for a first prediction.
// A zero reward writes nothing.
func (l *Ledger) AwardParticipationTx(ctx context.Context, tx *gorm.DB, participant string, battleID uint64) (*models.LedgerEntry, error) {
	if l.Points.Participate == 0 {
		return nil, nil
	}
	id := battleID
	return l.AwardPointsTx(ctx, tx, participant, l.Points.Participate, models.LedgerReasonPredictParticipate, &id)
}

func (l *Ledger) DistributeSettlement(ctx context.Context, battleID uint64, winner string) (Distribution, error) {
	var dist Distribution
	err := l.Repo.InTx(ctx, func(tx *gorm.DB) error {
		var err error
		dist, err = l.DistributeSettlementTx(ctx, tx, battleID, winner)
		return err
	})
	if err != nil {
		return dist, err
	}
	l.logDistribution(dist)
	return dist, nil
}

func (l *Ledger) logDistribution(dist Distribution) {
	if l.Logger == nil {
		return
	}
	l.Logger.Info("settlement distributed",
		zap.Uint64("battle_id", dist.BattleID),
		zap.String("winner", dist.Winner),
		zap.Int("winners", dist.Winners),
		zap.Int("losers", dist.Losers),
		zap.Int64("points", dist.PointsIssued),
	)
}

// DistributeSettlementTx pays correct picks the win amount and wrong picks the
// loss amount (skipped when zero). A tie pays nothing. All entries go through
// tx so the payout commits or rolls back as one unit.
func (l *Ledger) DistributeSettlementTx(ctx context.Context, tx *gorm.DB, battleID uint64, winner string) (Distribution, error) {
	dist := Distribution{BattleID: battleID, Winner: winner}
	switch winner {
	case outcome.WinnerA, outcome.WinnerB, outcome.WinnerTie:
	default:
		return dist, fmt.Errorf("%w: winner %q", ErrInvalidAward, winner)
	}
	if l.Points.GuardRedistribution {
		n, err := l.Repo.CountLedgerEntriesTx(ctx, tx, repository.CountLedgerParams{
			BattleID: &battleID,
			Reasons:  []string{models.LedgerReasonPredictWin, models.LedgerReasonPredictLoss},
		})
		if err != nil {
			return dist, err
		}
		if n > 0 {
			return dist, fmt.Errorf("%w: battle %d has %d entries", ErrAlreadyDistributed, battleID, n)
		}
	}
	preds, err := l.Repo.ListPredictionsByBattleTx(ctx, tx, battleID)
	if err != nil {
		return dist, err
	}
	dist.Predictions = len(preds)
	if winner == outcome.WinnerTie {
		return dist, nil
	}
	id := battleID
	for _, p := range preds {
		if p.Pick == winner {
			dist.Winners++
			if l.Points.Win == 0 {
				continue
			}
			if _, err := l.AwardPointsTx(ctx, tx, p.Participant, l.Points.Win, models.LedgerReasonPredictWin, &id); err != nil {
				return dist, err
			}
			dist.Entries++
			dist.PointsIssued += l.Points.Win
			continue
		}
		dist.Losers++
		if l.Points.Loss == 0 {
			continue
		}
		if _, err := l.AwardPointsTx(ctx, tx, p.Participant, l.Points.Loss, models.LedgerReasonPredictLoss, &id); err != nil {
			return dist, err
		}
		dist.Entries++
		dist.PointsIssued += l.Points.Loss
	}
	return dist, nil
}

// Balance returns the cached balance alongside the ledger sum.
func (l *Ledger) Balance(ctx context.Context, participant string) (cached int64, ledgerSum int64, err error) {
	p, err := l.Repo.GetParticipant(ctx, participant)
	if err != nil {
		return 0, 0, err
	}
	if p != nil {
		cached = p.Points
	}
	ledgerSum, err = l.Repo.SumLedgerDeltas(ctx, participant)
	if err != nil {
		return 0, 0, err
	}
	return cached, ledgerSum, nil
}
