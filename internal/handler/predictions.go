package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"battles/internal/auth"
	"battles/internal/service"
)

type PredictionHandler struct {
	Service *service.PredictionService
	// RateLimit guards submissions; nil disables it.
	RateLimit gin.HandlerFunc
}

func (h *PredictionHandler) Register(r *gin.Engine) {
	chain := []gin.HandlerFunc{auth.RequireAuth()}
	if h.RateLimit != nil {
		chain = append(chain, h.RateLimit)
	}
	r.POST("/api/predictions", append(chain, h.submit)...)
}

type submitPredictionRequest struct {
	BattleID uint64 `json:"battle_id"`
	Pick     string `json:"pick"`
}

// @Summary Submit or change a prediction
// @Tags predictions
// @Security BearerAuth
// @Param body body submitPredictionRequest true "battle_id and pick (A|B)"
// @Success 200 {object} apiResponse
// @Router /api/predictions [post]
func (h *PredictionHandler) submit(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	var req submitPredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.BattleID == 0 {
		Error(c, http.StatusBadRequest, "battle_id and pick (A or B) required", nil)
		return
	}
	wallet, _ := auth.Wallet(c)
	res, err := h.Service.Submit(c.Request.Context(), wallet, req.BattleID, req.Pick)
	if err != nil {
		Fail(c, err, "failed to record prediction")
		return
	}
	Ok(c, res, nil)
}
