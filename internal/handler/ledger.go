package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"battles/internal/auth"
	"battles/internal/ledger"
	"battles/internal/models"
	"battles/internal/repository"
	"battles/internal/service"
)

type LedgerHandler struct {
	Repo   repository.Repository
	Ledger *ledger.Ledger
	Admins auth.Admins
	Logger *zap.Logger

	// ExportPageSize is how many entries one export query reads.
	ExportPageSize int
}

const defaultExportPageSize = 1000

func (h *LedgerHandler) Register(r *gin.Engine) {
	r.GET("/api/ledger/export", h.export)
	r.GET("/api/ledger/entries/:id/verify", h.verifyEntry)
	r.GET("/api/me/points", auth.RequireAuth(), h.myPoints)
	r.GET("/api/leaderboard", h.leaderboard)
}

// @Summary Export the points ledger with HMACs
// @Tags ledger
// @Security BearerAuth
// @Param participant query string false "participant wallet (admins may omit to export all)"
// @Param format query string false "csv|json (default csv)"
// @Success 200 {object} apiResponse
// @Router /api/ledger/export [get]
func (h *LedgerHandler) export(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	caller, signedIn := auth.Wallet(c)
	isAdmin := h.Admins.IsAdmin(c)
	participant := strings.TrimSpace(c.Query("participant"))
	switch {
	case participant != "" && participant != caller && !isAdmin:
		Error(c, http.StatusForbidden, "can only export your own ledger", nil)
		return
	case participant == "" && !signedIn:
		Error(c, http.StatusUnauthorized, "authentication required", nil)
		return
	case participant == "" && !isAdmin:
		participant = caller
	}
	format := strings.ToLower(strings.TrimSpace(c.DefaultQuery("format", "csv")))
	if format != "csv" && format != "json" {
		Error(c, http.StatusBadRequest, "format must be csv or json", nil)
		return
	}

	entries, err := h.allEntries(c.Request.Context(), participant)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	battles, err := h.battlesFor(c, entries)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	rows := service.ExportRows(entries, battles)

	label := participant
	if label == "" {
		label = "all"
	}
	if format == "json" {
		Ok(c, gin.H{
			"participant":   label,
			"total_entries": len(rows),
			"total_points":  service.SumDeltas(rows),
			"ledger":        rows,
		}, nil)
		return
	}
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="points-ledger-%s-%d.csv"`, label, time.Now().Unix()))
	c.Status(http.StatusOK)
	if err := service.WriteLedgerCSV(c.Writer, rows); err != nil && h.Logger != nil {
		h.Logger.Warn("ledger csv write failed", zap.Error(err))
	}
}

// allEntries pages through the ledger in id order until a short page.
func (h *LedgerHandler) allEntries(ctx context.Context, participant string) ([]models.LedgerEntry, error) {
	size := h.ExportPageSize
	if size <= 0 {
		size = defaultExportPageSize
	}
	asc := true
	params := repository.ListLedgerParams{Asc: &asc, Limit: size}
	if participant != "" {
		params.Participant = &participant
	}
	var out []models.LedgerEntry
	for {
		page, err := h.Repo.ListLedgerEntries(ctx, params)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < size {
			return out, nil
		}
		params.AfterID = page[len(page)-1].ID
	}
}

func (h *LedgerHandler) battlesFor(c *gin.Context, entries []models.LedgerEntry) (map[uint64]models.Battle, error) {
	seen := map[uint64]struct{}{}
	var ids []uint64
	for _, e := range entries {
		if e.BattleID == nil {
			continue
		}
		if _, ok := seen[*e.BattleID]; ok {
			continue
		}
		seen[*e.BattleID] = struct{}{}
		ids = append(ids, *e.BattleID)
	}
	out := make(map[uint64]models.Battle, len(ids))
	const chunk = 500
	for start := 0; start < len(ids); start += chunk {
		end := min(start+chunk, len(ids))
		items, err := h.Repo.ListBattles(c.Request.Context(), repository.ListBattlesParams{IDs: ids[start:end], Limit: chunk})
		if err != nil {
			return nil, err
		}
		for _, b := range items {
			out[b.ID] = b
		}
	}
	return out, nil
}

// @Summary Verify one ledger entry's HMAC
// @Tags ledger
// @Param id path int true "entry id"
// @Success 200 {object} apiResponse
// @Router /api/ledger/entries/{id}/verify [get]
func (h *LedgerHandler) verifyEntry(c *gin.Context) {
	if h.Repo == nil || h.Ledger == nil {
		Error(c, http.StatusInternalServerError, "ledger unavailable", nil)
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid entry id", nil)
		return
	}
	e, err := h.Repo.GetLedgerEntry(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	if e == nil {
		Error(c, http.StatusNotFound, "entry not found", nil)
		return
	}
	Ok(c, gin.H{
		"id":    e.ID,
		"valid": h.Ledger.VerifyEntry(*e),
		"hmac":  e.HMAC,
	}, nil)
}

// @Summary Caller's points balance
// @Tags ledger
// @Security BearerAuth
// @Success 200 {object} apiResponse
// @Router /api/me/points [get]
func (h *LedgerHandler) myPoints(c *gin.Context) {
	if h.Ledger == nil {
		Error(c, http.StatusInternalServerError, "ledger unavailable", nil)
		return
	}
	wallet, _ := auth.Wallet(c)
	cached, sum, err := h.Ledger.Balance(c.Request.Context(), wallet)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	if cached != sum && h.Logger != nil {
		h.Logger.Warn("points balance drift", zap.String("participant", wallet), zap.Int64("cached", cached), zap.Int64("ledger", sum))
	}
	Ok(c, gin.H{"wallet": wallet, "points": sum, "balanced": cached == sum}, nil)
}

// @Summary Leaderboard
// @Tags ledger
// @Param period query string false "day|week|season|all (default season)"
// @Param limit query int false "limit (default 100)"
// @Success 200 {object} apiResponse
// @Router /api/leaderboard [get]
func (h *LedgerHandler) leaderboard(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	period := strings.ToLower(strings.TrimSpace(c.DefaultQuery("period", service.PeriodSeason)))
	since, err := service.PeriodSince(period, time.Now().UTC())
	if errors.Is(err, service.ErrInvalidPeriod) {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	rows, err := h.Repo.Leaderboard(c.Request.Context(), since, intQuery(c, "limit", 100))
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, service.RankLeaderboard(rows), map[string]any{"period": period})
}
