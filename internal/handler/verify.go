package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"battles/internal/outcome"
	"battles/internal/repository"
	"battles/internal/service"
)

type VerifyHandler struct {
	Repo           repository.Repository
	Calculator     outcome.Calculator
	OracleEndpoint string
}

func (h *VerifyHandler) Register(r *gin.Engine) {
	r.GET("/api/verify/:battleId", h.verify)
}

// @Summary Settlement inputs and outputs for independent verification
// @Tags verify
// @Param battleId path int true "battle id"
// @Success 200 {object} apiResponse
// @Router /api/verify/{battleId} [get]
func (h *VerifyHandler) verify(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := idParam(c, "battleId")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid battle id", nil)
		return
	}
	ctx := c.Request.Context()
	b, err := h.Repo.GetBattle(ctx, id)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	if b == nil {
		Error(c, http.StatusNotFound, "battle not found", nil)
		return
	}
	a, err := h.Repo.GetAsset(ctx, b.AssetA)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	bb, err := h.Repo.GetAsset(ctx, b.AssetB)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	v, err := service.BuildVerification(*b, a, bb, h.Calculator, h.OracleEndpoint)
	if errors.Is(err, service.ErrNotSettled) {
		Error(c, http.StatusBadRequest, err.Error(), map[string]any{"status": b.Status})
		return
	}
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, v, nil)
}
