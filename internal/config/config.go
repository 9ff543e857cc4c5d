package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Cron       CronConfig       `mapstructure:"cron"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Generator  GeneratorConfig  `mapstructure:"generator"`
	Prediction PredictionConfig `mapstructure:"prediction"`
	Auth       AuthConfig       `mapstructure:"auth"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Redis      RedisConfig      `mapstructure:"redis"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	// Driver is "postgres" (default) or "sqlite".
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

// CronConfig drives the optional in-process trigger. External schedulers
// call the /api/cron endpoints with Secret instead.
type CronConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Secret        string `mapstructure:"secret"`
	ManageBattles string `mapstructure:"manage_battles"`
	DailyBattles  string `mapstructure:"daily_battles"`
}

type OracleConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	SkewTolerance time.Duration `mapstructure:"skew_tolerance"`
	RPS           float64       `mapstructure:"rps"`
	Burst         int           `mapstructure:"burst"`
}

type SettlementConfig struct {
	TieThresholdBps   float64 `mapstructure:"tie_threshold_bps"`
	Workers           int     `mapstructure:"workers"`
	BatchLimit        int     `mapstructure:"batch_limit"`
	CaptureStartPrice bool    `mapstructure:"capture_start_price"`
}

type LedgerConfig struct {
	Secret              string `mapstructure:"secret"`
	WinPoints           int64  `mapstructure:"win_points"`
	LossPoints          int64  `mapstructure:"loss_points"`
	ParticipatePoints   int64  `mapstructure:"participate_points"`
	JoinBonus           int64  `mapstructure:"join_bonus"`
	GuardRedistribution bool   `mapstructure:"guard_redistribution"`
}

type GeneratorConfig struct {
	MinBattles  int           `mapstructure:"min_battles"`
	MaxBattles  int           `mapstructure:"max_battles"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseOffset  time.Duration `mapstructure:"base_offset"`
	Stagger     time.Duration `mapstructure:"stagger"`
	MaxJitter   time.Duration `mapstructure:"max_jitter"`
	Duration    time.Duration `mapstructure:"duration"`
	Assets      []AssetConfig `mapstructure:"assets"`
}

type AssetConfig struct {
	Symbol string `mapstructure:"symbol"`
	Name   string `mapstructure:"name"`
	Mint   string `mapstructure:"mint"`
	FeedID string `mapstructure:"feed_id"`
}

type PredictionConfig struct {
	Cutoff time.Duration `mapstructure:"cutoff"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	NonceTTL  time.Duration `mapstructure:"nonce_ttl"`
	// Admins are participant ids allowed to create battles and export the full ledger.
	Admins []string `mapstructure:"admins"`
}

type RateLimitConfig struct {
	// Backend is "memory" or "redis".
	Backend    string         `mapstructure:"backend"`
	Auth       RateLimitClass `mapstructure:"auth"`
	Prediction RateLimitClass `mapstructure:"prediction"`
	API        RateLimitClass `mapstructure:"api"`
}

type RateLimitClass struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BATTLES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", false)
	v.SetDefault("cron.secret", "")
	v.SetDefault("cron.manage_battles", "0 */5 * * * *")
	v.SetDefault("cron.daily_battles", "0 0 0 * * *")

	v.SetDefault("oracle.base_url", "https://hermes.pyth.network/v2/updates")
	v.SetDefault("oracle.timeout", "10s")
	v.SetDefault("oracle.max_retries", 3)
	v.SetDefault("oracle.base_delay", "1s")
	v.SetDefault("oracle.skew_tolerance", "15s")
	v.SetDefault("oracle.rps", 10)
	v.SetDefault("oracle.burst", 4)

	v.SetDefault("settlement.tie_threshold_bps", 10)
	v.SetDefault("settlement.workers", 4)
	v.SetDefault("settlement.batch_limit", 100)
	v.SetDefault("settlement.capture_start_price", true)

	v.SetDefault("ledger.secret", "")
	v.SetDefault("ledger.win_points", 100)
	v.SetDefault("ledger.loss_points", 0)
	v.SetDefault("ledger.participate_points", 10)
	v.SetDefault("ledger.join_bonus", 50)
	v.SetDefault("ledger.guard_redistribution", true)

	v.SetDefault("generator.min_battles", 3)
	v.SetDefault("generator.max_battles", 5)
	v.SetDefault("generator.max_attempts", 100)
	v.SetDefault("generator.base_offset", "2h")
	v.SetDefault("generator.stagger", "5h")
	v.SetDefault("generator.max_jitter", "1h")
	v.SetDefault("generator.duration", "90m")

	v.SetDefault("prediction.cutoff", "60s")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "168h")
	v.SetDefault("auth.nonce_ttl", "5m")

	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.auth.limit", 5)
	v.SetDefault("rate_limit.auth.window", "5m")
	v.SetDefault("rate_limit.prediction.limit", 30)
	v.SetDefault("rate_limit.prediction.window", "1m")
	v.SetDefault("rate_limit.api.limit", 100)
	v.SetDefault("rate_limit.api.window", "1m")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
