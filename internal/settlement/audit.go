package settlement

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"battles/internal/models"
)

// audit appends to the settlement trail. Failures are logged only: the trail
// never gates settlement.
func (c *Coordinator) audit(ctx context.Context, battleID uint64, action, trigger, attemptID string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte(`{}`)
	}
	item := &models.SettlementAudit{
		BattleID:    battleID,
		Action:      action,
		Data:        datatypes.JSON(raw),
		TriggeredBy: trigger,
		AttemptID:   attemptID,
		CreatedAt:   c.now(),
	}
	if err := c.Repo.InsertSettlementAudit(ctx, item); err != nil {
		c.log().Warn("settlement audit write failed",
			zap.Uint64("battle_id", battleID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}
