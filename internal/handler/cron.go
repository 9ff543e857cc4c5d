package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"battles/internal/auth"
	"battles/internal/scheduler"
	"battles/internal/settlement"
)

// CronHandler exposes the lifecycle jobs to external schedulers. Partial
// failures still answer 200 with the per-battle error list.
type CronHandler struct {
	Scheduler *scheduler.Scheduler
	Generator *scheduler.Generator
	Secret    string
	Logger    *zap.Logger
}

func (h *CronHandler) Register(r *gin.Engine) {
	group := r.Group("/api/cron", auth.RequireSecret(h.Secret))
	group.GET("/manage-battles", h.manageBattles)
	group.POST("/manage-battles", h.manageBattles)
	group.GET("/schedule-daily-battles", h.scheduleDaily)
	group.POST("/schedule-daily-battles", h.scheduleDaily)
}

// @Summary Activate due battles and settle ended ones
// @Tags cron
// @Security BearerAuth
// @Success 200 {object} apiResponse
// @Router /api/cron/manage-battles [post]
func (h *CronHandler) manageBattles(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	res, err := h.Scheduler.Tick(c.Request.Context(), settlement.TriggerCron)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("manage battles failed", zap.Error(err))
		}
		Error(c, http.StatusInternalServerError, err.Error(), map[string]any{"run_id": res.RunID})
		return
	}
	Ok(c, res, map[string]any{
		"activated": len(res.Activated),
		"settled":   len(res.Settled),
		"errors":    len(res.Errors),
	})
}

// @Summary Generate the daily battle slate
// @Tags cron
// @Security BearerAuth
// @Success 200 {object} apiResponse
// @Router /api/cron/schedule-daily-battles [post]
func (h *CronHandler) scheduleDaily(c *gin.Context) {
	if h.Generator == nil {
		Error(c, http.StatusInternalServerError, "generator unavailable", nil)
		return
	}
	res, err := h.Generator.Generate(c.Request.Context())
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("schedule daily battles failed", zap.Error(err))
		}
		Error(c, http.StatusInternalServerError, err.Error(), map[string]any{"run_id": res.RunID})
		return
	}
	Ok(c, res, map[string]any{"created": len(res.Created), "errors": len(res.Errors)})
}
