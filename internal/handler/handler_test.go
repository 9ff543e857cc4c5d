package handler

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battles/internal/auth"
	"battles/internal/config"
	"battles/internal/db"
	"battles/internal/ledger"
	"battles/internal/models"
	"battles/internal/outcome"
	"battles/internal/repository"
	gormrepository "battles/internal/repository/gorm"
	"battles/internal/scheduler"
	"battles/internal/service"
	"battles/internal/settlement"
)

type fixture struct {
	engine *gin.Engine
	store  *gormrepository.Store
	ledger *ledger.Ledger
	jwt    auth.JWT
}

type okSettler struct{}

func (okSettler) Activate(ctx context.Context, b *models.Battle) (bool, error) { return true, nil }

func (okSettler) Settle(ctx context.Context, id uint64, trigger string) (settlement.Result, error) {
	return settlement.Result{BattleID: id, Status: models.BattleStatusSettled}, nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	conn, err := db.Open(config.DBConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "api.db"), MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(conn) })
	require.NoError(t, db.AutoMigrate(conn))

	store := gormrepository.New(conn.Gorm)
	l := &ledger.Ledger{Repo: store, Signer: ledger.NewSigner("test-secret"), Points: ledger.DefaultPoints()}
	j := auth.JWT{Secret: []byte("jwt-secret"), TokenTTL: time.Hour}
	admins := auth.NewAdmins([]string{"boss"})
	calc := outcome.NewCalculator(10)

	r := gin.New()
	r.Use(auth.Identity(j))
	(&HealthHandler{DB: conn}).Register(r)
	(&BattleHandler{Repo: store, Calculator: calc, Admins: admins, CronSecret: "cron-key"}).Register(r)
	(&VerifyHandler{Repo: store, Calculator: calc, OracleEndpoint: "https://oracle"}).Register(r)
	(&LedgerHandler{Repo: store, Ledger: l, Admins: admins, ExportPageSize: 3}).Register(r)
	(&PredictionHandler{Service: &service.PredictionService{Repo: store, Ledger: l}}).Register(r)
	(&CronHandler{
		Scheduler: &scheduler.Scheduler{Store: store, Settler: okSettler{}},
		Generator: scheduler.NewGenerator(store, scheduler.DefaultGeneratorConfig(), nil, nil),
		Secret:    "cron-key",
	}).Register(r)

	ctx := context.Background()
	for _, a := range []models.Asset{
		{Symbol: "SOL", FeedID: "feed-sol", Enabled: true},
		{Symbol: "BONK", FeedID: "feed-bonk", Enabled: true},
		{Symbol: "WIF", FeedID: "feed-wif", Enabled: true},
	} {
		a := a
		require.NoError(t, store.UpsertAsset(ctx, &a))
	}
	return &fixture{engine: r, store: store, ledger: l, jwt: j}
}

func (f *fixture) do(t *testing.T, method, path, bearer, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *fixture) token(t *testing.T, wallet string) string {
	t.Helper()
	tok, _, err := f.jwt.Sign(wallet)
	require.NoError(t, err)
	return tok
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func TestPredictionFlowAndBattleView(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	b := &models.Battle{AssetA: "SOL", AssetB: "BONK", StartsAt: now.Add(-time.Minute), EndsAt: now.Add(time.Hour), Status: models.BattleStatusActive}
	require.NoError(t, f.store.CreateBattle(context.Background(), b))

	w := f.do(t, http.MethodPost, "/api/predictions", "", `{"battle_id":1,"pick":"A"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	alice := f.token(t, "alice")
	w = f.do(t, http.MethodPost, "/api/predictions", alice, `{"battle_id":1,"pick":"Z"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/predictions", alice, `{"battle_id":1,"pick":"A"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res service.PredictionResult
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &res))
	assert.True(t, res.Created)
	assert.Equal(t, int64(10), res.PointsAwarded)

	w = f.do(t, http.MethodGet, "/api/battles/1", alice, "")
	require.Equal(t, http.StatusOK, w.Code)
	var view battleView
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &view))
	assert.Equal(t, int64(1), view.Picks.A)
	require.NotNil(t, view.MyPick)
	assert.Equal(t, "A", *view.MyPick)

	w = f.do(t, http.MethodGet, "/api/battles?status=all&order_by=bogus;drop", "", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCreateBattleRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	start := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	end := time.Now().UTC().Add(3 * time.Hour).Format(time.RFC3339)
	body := `{"asset_a":"sol","asset_b":"wif","starts_at":"` + start + `","ends_at":"` + end + `"}`

	w := f.do(t, http.MethodPost, "/api/battles", f.token(t, "alice"), body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/api/battles", f.token(t, "boss"), body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var view battleView
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &view))
	assert.Equal(t, "SOL", view.AssetA)
	assert.Equal(t, models.BattleStatusScheduled, view.Status)
	assert.Equal(t, "boss", view.CreatedBy)

	bad := `{"asset_a":"SOL","asset_b":"NOPE","starts_at":"` + start + `","ends_at":"` + end + `"}`
	w = f.do(t, http.MethodPost, "/api/battles", f.token(t, "boss"), bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC)
	open := &models.Battle{AssetA: "SOL", AssetB: "BONK", StartsAt: start, EndsAt: start.Add(time.Hour), Status: models.BattleStatusActive}
	require.NoError(t, f.store.CreateBattle(ctx, open))

	w := f.do(t, http.MethodGet, "/api/verify/1", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(t, http.MethodGet, "/api/verify/99", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	ok, err := f.store.TransitionBattleStatus(ctx, open.ID, models.BattleStatusActive, models.BattleStatusSettling)
	require.NoError(t, err)
	require.True(t, ok)
	pa, pae := decimal.RequireFromString("1"), decimal.RequireFromString("1.1")
	winner, asset := "A", "SOL"
	_, err = f.store.FinalizeBattleTx(ctx, nil, open.ID, finalizedResult(&pa, &pae, &winner, &asset))
	require.NoError(t, err)

	w = f.do(t, http.MethodGet, "/api/verify/1", "", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var v service.Verification
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &v))
	assert.Equal(t, start.Unix(), v.TimeWindow.StartsAtUnix)
	assert.Equal(t, "feed-sol", v.Assets["a"].FeedID)
	assert.Equal(t, float64(10), v.TieThresholdBps)
	require.NotNil(t, v.Result.WinnerSymbol)
	assert.Equal(t, "SOL", *v.Result.WinnerSymbol)
}

func TestCronRequiresSecretAndRuns(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	require.NoError(t, f.store.CreateBattle(context.Background(), &models.Battle{
		AssetA: "SOL", AssetB: "BONK", StartsAt: now.Add(-2 * time.Hour), EndsAt: now.Add(-time.Hour), Status: models.BattleStatusActive,
	}))

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/api/cron/manage-battles", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/cron/manage-battles", "nope", "").Code)

	w := f.do(t, http.MethodGet, "/api/cron/manage-battles", "cron-key", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var tick scheduler.TickResult
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &tick))
	assert.Len(t, tick.Settled, 1)
	assert.NotEmpty(t, tick.RunID)

	w = f.do(t, http.MethodPost, "/api/cron/schedule-daily-battles", "cron-key", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var gen scheduler.GenerateResult
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &gen))
	assert.NotEmpty(t, gen.Created)
}

func TestLedgerExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.AwardPoints(ctx, "alice", 50, models.LedgerReasonJoinBonus, nil)
	require.NoError(t, err)
	_, err = f.ledger.AwardPoints(ctx, "bob", 50, models.LedgerReasonJoinBonus, nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/ledger/export", "", "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/api/ledger/export?participant=bob", f.token(t, "alice"), "").Code)

	w := f.do(t, http.MethodGet, "/api/ledger/export", f.token(t, "alice"), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	records, err := csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "alice", records[1][1])

	w = f.do(t, http.MethodGet, "/api/ledger/export?format=json", f.token(t, "boss"), "")
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		TotalEntries int   `json:"total_entries"`
		TotalPoints  int64 `json:"total_points"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &out))
	assert.Equal(t, 2, out.TotalEntries)
	assert.Equal(t, int64(100), out.TotalPoints)

	w = f.do(t, http.MethodGet, "/api/ledger/entries/1/verify", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"valid":true`)
}

func TestLedgerExportSpansPages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := range 9 {
		who := "alice"
		if i%3 == 2 {
			who = "bob"
		}
		_, err := f.ledger.AwardPoints(ctx, who, int64(i+1), models.LedgerReasonJoinBonus, nil)
		require.NoError(t, err)
	}

	w := f.do(t, http.MethodGet, "/api/ledger/export?format=json", f.token(t, "alice"), "")
	require.Equal(t, http.StatusOK, w.Code)
	var mine struct {
		TotalEntries int                 `json:"total_entries"`
		TotalPoints  int64               `json:"total_points"`
		Ledger       []service.ExportRow `json:"ledger"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &mine))
	assert.Equal(t, 6, mine.TotalEntries)
	assert.Len(t, mine.Ledger, 6)
	sum, err := f.store.SumLedgerDeltas(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, sum, mine.TotalPoints)

	w = f.do(t, http.MethodGet, "/api/ledger/export", f.token(t, "boss"), "")
	require.Equal(t, http.StatusOK, w.Code)
	records, err := csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 10)
	seen := map[string]bool{}
	for _, rec := range records[1:] {
		assert.False(t, seen[rec[0]], "entry %s exported twice", rec[0])
		seen[rec[0]] = true
	}
}

func TestLeaderboardAndPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.AwardPoints(ctx, "alice", 150, models.LedgerReasonJoinBonus, nil)
	require.NoError(t, err)
	_, err = f.ledger.AwardPoints(ctx, "bob", 50, models.LedgerReasonJoinBonus, nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/leaderboard?period=month", "", "").Code)

	w := f.do(t, http.MethodGet, "/api/leaderboard?period=all", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var rows []service.LeaderboardEntry
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "alice", rows[0].Wallet)
	assert.Equal(t, 1, rows[0].Rank)

	w = f.do(t, http.MethodGet, "/api/me/points", f.token(t, "alice"), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"points":150`)
}

func finalizedResult(start, end *decimal.Decimal, winner, asset *string) repository.BattleResult {
	dA, dB := 10.0, 0.0
	return repository.BattleResult{
		Status:       models.BattleStatusSettled,
		PriceAStart:  start,
		PriceAEnd:    end,
		PriceBStart:  start,
		PriceBEnd:    start,
		DeltaAPct:    &dA,
		DeltaBPct:    &dB,
		Winner:       winner,
		WinnerAsset:  asset,
		SettleReason: outcome.ReasonOK,
		SettledAt:    time.Now().UTC(),
	}
}
