package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"battles/internal/auth"
	"battles/internal/models"
	"battles/internal/outcome"
	"battles/internal/repository"
	"battles/internal/service"
	"battles/internal/settlement"
)

type BattleHandler struct {
	Repo        repository.Repository
	Prices      service.LatestPriceSource
	Calculator  outcome.Calculator
	Coordinator *settlement.Coordinator
	Admins      auth.Admins
	CronSecret  string
	Logger      *zap.Logger

	// StreamInterval is the push period of the live price socket.
	StreamInterval time.Duration
}

func (h *BattleHandler) Register(r *gin.Engine) {
	group := r.Group("/api/battles")
	group.GET("", h.list)
	group.POST("", auth.RequireAdmin(h.Admins), h.create)
	group.GET("/:id", h.get)
	group.GET("/:id/prices", h.prices)
	group.GET("/:id/stream", h.stream)
	group.GET("/:id/audit", h.audit)
	group.POST("/:id/settle", auth.RequireAdminOrSecret(h.Admins, h.CronSecret), h.settle)
}

var battleOrder = map[string]string{
	"starts_at":  "starts_at",
	"ends_at":    "ends_at",
	"created_at": "created_at",
	"id":         "id",
}

type battleView struct {
	ID           uint64     `json:"id"`
	AssetA       string     `json:"asset_a"`
	AssetB       string     `json:"asset_b"`
	StartsAt     time.Time  `json:"starts_at"`
	EndsAt       time.Time  `json:"ends_at"`
	Status       string     `json:"status"`
	PriceAStart  *string    `json:"price_a_start"`
	PriceAEnd    *string    `json:"price_a_end"`
	PriceBStart  *string    `json:"price_b_start"`
	PriceBEnd    *string    `json:"price_b_end"`
	DeltaAPct    *float64   `json:"delta_a_pct"`
	DeltaBPct    *float64   `json:"delta_b_pct"`
	Winner       *string    `json:"winner"`
	WinnerAsset  *string    `json:"winner_asset"`
	SettleReason *string    `json:"settle_reason"`
	SettledAt    *time.Time `json:"settled_at"`
	CreatedBy    string     `json:"created_by"`

	PredictionCount int64                 `json:"prediction_count"`
	Picks           repository.PickCounts `json:"picks"`
	MyPick          *string               `json:"my_pick,omitempty"`
}

func newBattleView(b models.Battle) battleView {
	return battleView{
		ID:           b.ID,
		AssetA:       b.AssetA,
		AssetB:       b.AssetB,
		StartsAt:     b.StartsAt,
		EndsAt:       b.EndsAt,
		Status:       b.Status,
		PriceAStart:  decimalPtrString(b.PriceAStart),
		PriceAEnd:    decimalPtrString(b.PriceAEnd),
		PriceBStart:  decimalPtrString(b.PriceBStart),
		PriceBEnd:    decimalPtrString(b.PriceBEnd),
		DeltaAPct:    b.DeltaAPct,
		DeltaBPct:    b.DeltaBPct,
		Winner:       b.Winner,
		WinnerAsset:  b.WinnerAsset,
		SettleReason: b.SettleReason,
		SettledAt:    b.SettledAt,
		CreatedBy:    b.CreatedBy,
	}
}

// decorate attaches pick counts and, for a signed-in caller, their own pick.
func (h *BattleHandler) decorate(c *gin.Context, battles []models.Battle) ([]battleView, error) {
	ctx := c.Request.Context()
	ids := make([]uint64, 0, len(battles))
	for _, b := range battles {
		ids = append(ids, b.ID)
	}
	counts, err := h.Repo.CountPicks(ctx, ids)
	if err != nil {
		return nil, err
	}
	mine := map[uint64]string{}
	if wallet, ok := auth.Wallet(c); ok {
		preds, err := h.Repo.ListPredictionsByParticipant(ctx, wallet, ids)
		if err != nil {
			return nil, err
		}
		for _, p := range preds {
			mine[p.BattleID] = p.Pick
		}
	}
	out := make([]battleView, 0, len(battles))
	for _, b := range battles {
		v := newBattleView(b)
		v.Picks = counts[b.ID]
		v.PredictionCount = v.Picks.A + v.Picks.B
		if pick, ok := mine[b.ID]; ok {
			v.MyPick = &pick
		}
		out = append(out, v)
	}
	return out, nil
}

// @Summary List battles
// @Tags battles
// @Param status query string false "scheduled|active|settling|settled|void|all (default active)"
// @Param asset query string false "asset symbol on either side"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Param order_by query string false "starts_at|ends_at|created_at|id"
// @Param asc query bool false "ascending"
// @Success 200 {object} apiResponse
// @Router /api/battles [get]
func (h *BattleHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	status := strings.ToLower(strings.TrimSpace(c.DefaultQuery("status", models.BattleStatusActive)))
	params := repository.ListBattlesParams{
		Limit:   intQuery(c, "limit", 20),
		Offset:  intQuery(c, "offset", 0),
		Asset:   strQueryPtr(c, "asset"),
		OrderBy: parseOrder(c.Query("order_by"), battleOrder),
		Asc:     boolQueryPtr(c, "asc"),
	}
	if status != "all" {
		params.Statuses = strings.Split(status, ",")
	}
	items, err := h.Repo.ListBattles(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountBattles(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	views, err := h.decorate(c, items)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, views, paginationMeta(params.Limit, params.Offset, total))
}

// @Summary Get battle
// @Tags battles
// @Param id path int true "battle id"
// @Success 200 {object} apiResponse
// @Router /api/battles/{id} [get]
func (h *BattleHandler) get(c *gin.Context) {
	b, ok := h.loadBattle(c)
	if !ok {
		return
	}
	views, err := h.decorate(c, []models.Battle{*b})
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, views[0], nil)
}

type createBattleRequest struct {
	AssetA   string    `json:"asset_a"`
	AssetB   string    `json:"asset_b"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// @Summary Create battle (admin)
// @Tags battles
// @Param body body createBattleRequest true "battle"
// @Success 200 {object} apiResponse
// @Router /api/battles [post]
func (h *BattleHandler) create(c *gin.Context) {
	var req createBattleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	req.AssetA = strings.ToUpper(strings.TrimSpace(req.AssetA))
	req.AssetB = strings.ToUpper(strings.TrimSpace(req.AssetB))
	if req.AssetA == "" || req.AssetB == "" || req.AssetA == req.AssetB {
		Error(c, http.StatusBadRequest, "asset_a and asset_b must be two different assets", nil)
		return
	}
	if req.StartsAt.IsZero() || !req.EndsAt.After(req.StartsAt) {
		Error(c, http.StatusBadRequest, "ends_at must be after starts_at", nil)
		return
	}
	ctx := c.Request.Context()
	for _, sym := range []string{req.AssetA, req.AssetB} {
		a, err := h.Repo.GetAsset(ctx, sym)
		if err != nil {
			Error(c, http.StatusInternalServerError, err.Error(), nil)
			return
		}
		if a == nil || !a.Enabled {
			Error(c, http.StatusBadRequest, "unknown asset "+sym, nil)
			return
		}
	}
	wallet, _ := auth.Wallet(c)
	b := &models.Battle{
		AssetA:    req.AssetA,
		AssetB:    req.AssetB,
		StartsAt:  req.StartsAt.UTC(),
		EndsAt:    req.EndsAt.UTC(),
		Status:    models.BattleStatusScheduled,
		CreatedBy: wallet,
	}
	if err := h.Repo.CreateBattle(ctx, b); err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, newBattleView(*b), nil)
}

// @Summary Live prices for an active battle
// @Tags battles
// @Param id path int true "battle id"
// @Success 200 {object} apiResponse
// @Router /api/battles/{id}/prices [get]
func (h *BattleHandler) prices(c *gin.Context) {
	b, ok := h.loadBattle(c)
	if !ok {
		return
	}
	snap, err := h.snapshot(c.Request.Context(), *b)
	if err != nil {
		if errors.Is(err, service.ErrBattleNotActive) {
			Error(c, http.StatusBadRequest, err.Error(), map[string]any{"status": b.Status})
			return
		}
		Error(c, http.StatusServiceUnavailable, "unable to fetch current prices", nil)
		return
	}
	Ok(c, snap, nil)
}

func (h *BattleHandler) snapshot(ctx context.Context, b models.Battle) (service.LiveSnapshot, error) {
	if h.Prices == nil {
		return service.LiveSnapshot{}, errors.New("price source unavailable")
	}
	a, err := h.Repo.GetAsset(ctx, b.AssetA)
	if err != nil {
		return service.LiveSnapshot{}, err
	}
	bb, err := h.Repo.GetAsset(ctx, b.AssetB)
	if err != nil {
		return service.LiveSnapshot{}, err
	}
	return service.LivePrices(ctx, h.Prices, h.Calculator, b, a, bb)
}

// stream pushes the live snapshot until the battle leaves active or the
// client goes away.
//
// @Summary Live price stream (websocket)
// @Tags battles
// @Param id path int true "battle id"
// @Router /api/battles/{id}/stream [get]
func (h *BattleHandler) stream(c *gin.Context) {
	b, ok := h.loadBattle(c)
	if !ok {
		return
	}
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected close")

	ctx := conn.CloseRead(c.Request.Context())
	interval := h.StreamInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if b.Status != models.BattleStatusActive {
			_ = writeJSON(ctx, conn, gin.H{"battle_id": b.ID, "status": b.Status, "final": true})
			conn.Close(websocket.StatusNormalClosure, "battle "+b.Status)
			return
		}
		snap, err := h.snapshot(ctx, *b)
		if err != nil {
			if h.Logger != nil {
				h.Logger.Debug("stream snapshot failed", zap.Uint64("battle_id", b.ID), zap.Error(err))
			}
		} else if err := writeJSON(ctx, conn, snap); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		next, err := h.Repo.GetBattle(ctx, b.ID)
		if err != nil || next == nil {
			conn.Close(websocket.StatusInternalError, "battle lookup failed")
			return
		}
		b = next
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

// @Summary Settlement audit trail
// @Tags battles
// @Param id path int true "battle id"
// @Success 200 {object} apiResponse
// @Router /api/battles/{id}/audit [get]
func (h *BattleHandler) audit(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid battle id", nil)
		return
	}
	items, err := h.Repo.ListSettlementAudits(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	out := make([]gin.H, 0, len(items))
	for _, a := range items {
		out = append(out, gin.H{
			"id":           a.ID,
			"action":       a.Action,
			"data":         a.Data,
			"triggered_by": a.TriggeredBy,
			"attempt_id":   a.AttemptID,
			"created_at":   a.CreatedAt,
		})
	}
	Ok(c, out, nil)
}

// @Summary Settle a battle now (admin or cron secret)
// @Tags battles
// @Param id path int true "battle id"
// @Success 200 {object} apiResponse
// @Router /api/battles/{id}/settle [post]
func (h *BattleHandler) settle(c *gin.Context) {
	if h.Coordinator == nil {
		Error(c, http.StatusInternalServerError, "settlement unavailable", nil)
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid battle id", nil)
		return
	}
	res, err := h.Coordinator.Settle(c.Request.Context(), id, settlement.TriggerManual)
	switch {
	case errors.Is(err, settlement.ErrBattleNotFound):
		Error(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, settlement.ErrBattleNotEnded):
		Error(c, http.StatusConflict, err.Error(), nil)
	case err != nil:
		Error(c, http.StatusInternalServerError, err.Error(), map[string]any{"result": res})
	default:
		Ok(c, res, nil)
	}
}

func (h *BattleHandler) loadBattle(c *gin.Context) (*models.Battle, bool) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return nil, false
	}
	id, ok := idParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid battle id", nil)
		return nil, false
	}
	b, err := h.Repo.GetBattle(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return nil, false
	}
	if b == nil {
		Error(c, http.StatusNotFound, "battle not found", nil)
		return nil, false
	}
	return b, true
}

func decimalPtrString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
