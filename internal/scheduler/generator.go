package scheduler

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"battles/internal/models"
)

const CreatedByAutoScheduler = "auto-scheduler"

type BattleCreator interface {
	ListAssets(ctx context.Context, enabledOnly bool) ([]models.Asset, error)
	CreateBattle(ctx context.Context, item *models.Battle) error
}

type GeneratorConfig struct {
	MinBattles  int
	MaxBattles  int
	MaxAttempts int
	BaseOffset  time.Duration
	Stagger     time.Duration
	MaxJitter   time.Duration
	Duration    time.Duration
}

func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MinBattles:  3,
		MaxBattles:  5,
		MaxAttempts: 100,
		BaseOffset:  2 * time.Hour,
		Stagger:     5 * time.Hour,
		MaxJitter:   time.Hour,
		Duration:    90 * time.Minute,
	}
}

type Generator struct {
	Repo   BattleCreator
	Config GeneratorConfig
	Logger *zap.Logger
	Now    func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

func NewGenerator(repo BattleCreator, cfg GeneratorConfig, rng *rand.Rand, logger *zap.Logger) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{Repo: repo, Config: cfg, Logger: logger, rng: rng}
}

// Pair is an unordered matchup; A and B keep the draw order.
type Pair struct {
	A string `json:"asset_a"`
	B string `json:"asset_b"`
}

// Key is the order-independent identity of the pair.
func (p Pair) Key() string {
	k := []string{p.A, p.B}
	sort.Strings(k)
	return strings.Join(k, "-")
}

// PickPairs draws up to count distinct unordered pairs from symbols. It stops
// after maxAttempts draws, so small pools yield fewer pairs.
func PickPairs(rng *rand.Rand, symbols []string, count, maxAttempts int) []Pair {
	n := len(symbols)
	if n < 2 || count <= 0 {
		return nil
	}
	pool := append([]string(nil), symbols...)
	rng.Shuffle(n, func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	out := make([]Pair, 0, count)
	used := map[string]struct{}{}
	for attempts := 0; len(out) < count && attempts < maxAttempts; attempts++ {
		i := rng.Intn(n)
		j := rng.Intn(n - 1)
		if j >= i {
			j++
		}
		p := Pair{A: pool[i], B: pool[j]}
		if _, ok := used[p.Key()]; ok {
			continue
		}
		used[p.Key()] = struct{}{}
		out = append(out, p)
	}
	return out
}

type CreatedBattle struct {
	ID       uint64    `json:"id"`
	Matchup  string    `json:"matchup"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

type GenerateError struct {
	Matchup string `json:"matchup"`
	Error   string `json:"error"`
}

type GenerateResult struct {
	RunID     string          `json:"run_id"`
	Requested int             `json:"requested"`
	Created   []CreatedBattle `json:"created"`
	Errors    []GenerateError `json:"errors"`
}

// Generate creates the next slate of battles from the enabled asset pool.
// Each insert stands alone: a failed one is reported and the rest proceed.
func (g *Generator) Generate(ctx context.Context) (GenerateResult, error) {
	res := GenerateResult{RunID: uuid.NewString(), Created: []CreatedBattle{}, Errors: []GenerateError{}}
	assets, err := g.Repo.ListAssets(ctx, true)
	if err != nil {
		return res, err
	}
	symbols := make([]string, 0, len(assets))
	for _, a := range assets {
		symbols = append(symbols, a.Symbol)
	}

	cfg := g.Config
	now := time.Now().UTC()
	if g.Now != nil {
		now = g.Now().UTC()
	}
	now = now.Truncate(time.Second)

	g.mu.Lock()
	if g.rng == nil {
		g.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	res.Requested = battleCount(g.rng, cfg.MinBattles, cfg.MaxBattles)
	pairs := PickPairs(g.rng, symbols, res.Requested, cfg.MaxAttempts)
	jitters := make([]time.Duration, len(pairs))
	for i := range pairs {
		jitters[i] = jitterHours(g.rng, cfg.MaxJitter)
	}
	g.mu.Unlock()

	logger := g.logger().With(zap.String("run_id", res.RunID))
	for i, p := range pairs {
		startsAt := now.Add(cfg.BaseOffset + time.Duration(i)*cfg.Stagger + jitters[i])
		b := &models.Battle{
			AssetA:    p.A,
			AssetB:    p.B,
			StartsAt:  startsAt,
			EndsAt:    startsAt.Add(cfg.Duration),
			Status:    models.BattleStatusScheduled,
			CreatedBy: CreatedByAutoScheduler,
		}
		matchup := p.A + " vs " + p.B
		if err := g.Repo.CreateBattle(ctx, b); err != nil {
			res.Errors = append(res.Errors, GenerateError{Matchup: matchup, Error: err.Error()})
			logger.Warn("create battle failed", zap.String("matchup", matchup), zap.Error(err))
			continue
		}
		res.Created = append(res.Created, CreatedBattle{ID: b.ID, Matchup: matchup, StartsAt: b.StartsAt, EndsAt: b.EndsAt})
	}
	logger.Info("daily battles generated",
		zap.Int("requested", res.Requested),
		zap.Int("created", len(res.Created)),
		zap.Int("errors", len(res.Errors)),
	)
	return res, nil
}

func battleCount(rng *rand.Rand, min, max int) int {
	if min <= 0 {
		min = 1
	}
	if max < min {
		max = min
	}
	return min + rng.Intn(max-min+1)
}

// jitterHours returns a whole number of hours in [0, max].
func jitterHours(rng *rand.Rand, max time.Duration) time.Duration {
	hours := int(max / time.Hour)
	if hours <= 0 {
		return 0
	}
	return time.Duration(rng.Intn(hours+1)) * time.Hour
}

func (g *Generator) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}
