package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"battles/internal/ledger"
	"battles/internal/models"
	"battles/internal/repository"
)

var (
	ErrBattleNotFound = errors.New("battle not found")
	ErrInvalidPick    = errors.New("pick must be A or B")
	ErrBattleClosed   = errors.New("battle is not accepting predictions")
	ErrCutoffPassed   = errors.New("prediction cutoff has passed")
)

const DefaultPredictionCutoff = 60 * time.Second

// PredictionService records a participant's pick for a battle. The first pick
// per battle earns participation points in the same transaction; later calls
// only change the pick.
type PredictionService struct {
	Repo   repository.Repository
	Ledger *ledger.Ledger
	Cutoff time.Duration
	Logger *zap.Logger
	Now    func() time.Time
}

type PredictionResult struct {
	Prediction    models.Prediction `json:"prediction"`
	Created       bool              `json:"created"`
	PointsAwarded int64             `json:"points_awarded"`
}

func (s *PredictionService) Submit(ctx context.Context, wallet string, battleID uint64, pick string) (PredictionResult, error) {
	var res PredictionResult
	wallet = strings.TrimSpace(wallet)
	pick = strings.ToUpper(strings.TrimSpace(pick))
	if pick != models.PickA && pick != models.PickB {
		return res, ErrInvalidPick
	}
	if wallet == "" || battleID == 0 {
		return res, errors.New("wallet and battle id required")
	}

	battle, err := s.Repo.GetBattle(ctx, battleID)
	if err != nil {
		return res, err
	}
	if battle == nil {
		return res, ErrBattleNotFound
	}
	if battle.Status != models.BattleStatusScheduled && battle.Status != models.BattleStatusActive {
		return res, ErrBattleClosed
	}
	if s.now().After(battle.EndsAt.Add(-s.cutoff())) {
		return res, ErrCutoffPassed
	}

	item := models.Prediction{BattleID: battleID, Participant: wallet, Pick: pick}
	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		created, err := s.Repo.UpsertPredictionTx(ctx, tx, &item)
		if err != nil {
			return err
		}
		res.Created = created
		if !created || s.Ledger == nil {
			return nil
		}
		entry, err := s.Ledger.AwardParticipationTx(ctx, tx, wallet, battleID)
		if err != nil {
			return fmt.Errorf("participation points: %w", err)
		}
		if entry != nil {
			res.PointsAwarded = entry.Delta
		}
		return nil
	})
	if err != nil {
		return PredictionResult{}, err
	}
	res.Prediction = item
	s.log().Info("prediction recorded",
		zap.Uint64("battle_id", battleID),
		zap.String("participant", wallet),
		zap.String("pick", pick),
		zap.Bool("created", res.Created),
	)
	return res, nil
}

func (s *PredictionService) cutoff() time.Duration {
	if s.Cutoff <= 0 {
		return DefaultPredictionCutoff
	}
	return s.Cutoff
}

func (s *PredictionService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *PredictionService) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
