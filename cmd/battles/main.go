package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"battles/internal/auth"
	"battles/internal/cache"
	"battles/internal/config"
	cronrunner "battles/internal/cron"
	"battles/internal/db"
	"battles/internal/handler"
	"battles/internal/ledger"
	"battles/internal/logger"
	"battles/internal/oracle"
	"battles/internal/outcome"
	"battles/internal/ratelimit"
	gormrepository "battles/internal/repository/gorm"
	"battles/internal/scheduler"
	"battles/internal/service"
	"battles/internal/settlement"

	_ "battles/docs"
)

func main() {
	cfgPath := os.Getenv("BATTLES_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("BATTLES_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log, cfg.App.Env)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)
	if n, err := db.SeedAssets(context.Background(), store, cfg.Generator.Assets); err != nil {
		logger.Warn("asset seed failed", zap.Int("seeded", n), zap.Error(err))
	} else if n > 0 {
		logger.Info("assets seeded", zap.Int("count", n))
	}

	if strings.TrimSpace(cfg.Ledger.Secret) == "" {
		logger.Fatal("ledger.secret is required to sign points entries")
	}

	oracleClient := oracle.NewClient(&http.Client{Timeout: cfg.Oracle.Timeout}, cfg.Oracle.BaseURL)
	oracleClient.Policy = oracle.RetryPolicy{
		MaxRetries:    cfg.Oracle.MaxRetries,
		BaseDelay:     cfg.Oracle.BaseDelay,
		SkewTolerance: cfg.Oracle.SkewTolerance,
	}
	if cfg.Oracle.RPS > 0 {
		oracleClient.Limiter = rate.NewLimiter(rate.Limit(cfg.Oracle.RPS), max(cfg.Oracle.Burst, 1))
	}
	oracleClient.Logger = logger.Named("oracle")

	calc := outcome.NewCalculator(cfg.Settlement.TieThresholdBps)
	pointsLedger := &ledger.Ledger{
		Repo:   store,
		Signer: ledger.NewSigner(cfg.Ledger.Secret),
		Points: ledger.Points{
			Win:                 cfg.Ledger.WinPoints,
			Loss:                cfg.Ledger.LossPoints,
			Participate:         cfg.Ledger.ParticipatePoints,
			JoinBonus:           cfg.Ledger.JoinBonus,
			GuardRedistribution: cfg.Ledger.GuardRedistribution,
		},
		Logger: logger.Named("ledger"),
	}
	coordinator := &settlement.Coordinator{
		Repo:              store,
		Oracle:            oracleClient,
		Calculator:        calc,
		Ledger:            pointsLedger,
		Logger:            logger.Named("settlement"),
		CaptureStartPrice: cfg.Settlement.CaptureStartPrice,
	}
	lifecycle := &scheduler.Scheduler{
		Store:      store,
		Settler:    coordinator,
		Logger:     logger.Named("scheduler"),
		Workers:    cfg.Settlement.Workers,
		BatchLimit: cfg.Settlement.BatchLimit,
	}
	generator := scheduler.NewGenerator(store, scheduler.GeneratorConfig{
		MinBattles:  cfg.Generator.MinBattles,
		MaxBattles:  cfg.Generator.MaxBattles,
		MaxAttempts: cfg.Generator.MaxAttempts,
		BaseOffset:  cfg.Generator.BaseOffset,
		Stagger:     cfg.Generator.Stagger,
		MaxJitter:   cfg.Generator.MaxJitter,
		Duration:    cfg.Generator.Duration,
	}, nil, logger.Named("generator"))

	var (
		kv         cache.Store
		redisStore *cache.RedisStore
	)
	if cfg.Redis.Addr != "" {
		redisStore = cache.NewRedisStore(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer redisStore.Close()
		kv = redisStore
	} else {
		kv = cache.NewMemoryStore()
	}
	limiter := func(class config.RateLimitClass) ratelimit.Limiter {
		if strings.EqualFold(cfg.RateLimit.Backend, "redis") && redisStore != nil {
			return ratelimit.Window{Store: redisStore, Limit: class.Limit, Window: class.Window}
		}
		return ratelimit.NewTokenBucket(class.Limit, class.Window)
	}
	rlLogger := logger.Named("ratelimit")

	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		logger.Warn("auth.jwt_secret not set, sessions will not survive a restart")
		jwtSecret = uuid.NewString()
	}
	jwt := auth.JWT{Secret: []byte(jwtSecret), TokenTTL: cfg.Auth.TokenTTL}
	admins := auth.NewAdmins(cfg.Auth.Admins)

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(auth.Identity(jwt))
	engine.Use(apiOnly(ratelimit.Middleware("api", limiter(cfg.RateLimit.API), rlLogger)))

	health := &handler.HealthHandler{DB: dbConn}
	if redisStore != nil {
		health.Cache = redisStore
	}
	health.Register(engine)
	(&handler.AuthHandler{
		Nonces:    auth.NonceStore{Store: kv, TTL: cfg.Auth.NonceTTL},
		Verifier:  auth.Ed25519Verifier{},
		JWT:       jwt,
		Repo:      store,
		Ledger:    pointsLedger,
		Logger:    logger,
		RateLimit: ratelimit.Middleware("auth", limiter(cfg.RateLimit.Auth), rlLogger),
	}).Register(engine)
	(&handler.BattleHandler{
		Repo:        store,
		Prices:      oracleClient,
		Calculator:  calc,
		Coordinator: coordinator,
		Admins:      admins,
		CronSecret:  cfg.Cron.Secret,
		Logger:      logger,
	}).Register(engine)
	(&handler.PredictionHandler{
		Service: &service.PredictionService{
			Repo:   store,
			Ledger: pointsLedger,
			Cutoff: cfg.Prediction.Cutoff,
			Logger: logger.Named("predictions"),
		},
		RateLimit: ratelimit.Middleware("prediction", limiter(cfg.RateLimit.Prediction), rlLogger),
	}).Register(engine)
	(&handler.CronHandler{Scheduler: lifecycle, Generator: generator, Secret: cfg.Cron.Secret, Logger: logger}).Register(engine)
	(&handler.VerifyHandler{Repo: store, Calculator: calc, OracleEndpoint: cfg.Oracle.BaseURL}).Register(engine)
	(&handler.LedgerHandler{Repo: store, Ledger: pointsLedger, Admins: admins, Logger: logger}).Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Cron.Enabled {
		cronRunner := cronrunner.New(logger.Named("cron"), ctx)
		if _, err := cronRunner.Add("manage-battles", cfg.Cron.ManageBattles, 4*time.Minute, func(ctx context.Context) error {
			_, err := lifecycle.Tick(ctx, settlement.TriggerScheduler)
			return err
		}); err != nil {
			logger.Fatal("cron register manage-battles failed", zap.Error(err))
		}
		if _, err := cronRunner.Add("schedule-daily-battles", cfg.Cron.DailyBattles, time.Minute, func(ctx context.Context) error {
			_, err := generator.Generate(ctx)
			return err
		}); err != nil {
			logger.Fatal("cron register schedule-daily-battles failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// apiOnly applies mw to /api routes except the cron triggers, which carry
// their own secret.
func apiOnly(mw gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := c.Request.URL.Path
		if !strings.HasPrefix(p, "/api/") || strings.HasPrefix(p, "/api/cron/") {
			c.Next()
			return
		}
		mw(c)
	}
}
