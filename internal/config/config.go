// Package config defines all configuration for the trading system.
//
// Configuration is environment-sourced. Values are resolved in this order:
// explicit environment variables (the historical names such as DATABASE_URL,
// KALSHI_API_KEY_ID or MAX_RISK_TOTAL_USD), KALSHI_EDGE_* variables derived
// from the key path, an optional YAML file, then defaults. A .env file in the
// working directory is loaded first when present.
//
// The Config value is constructed once at startup and passed explicitly to
// every component. Reloading means calling Load again.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"kalshi-edge/pkg/types"
)

const (
	DemoBaseURL = "https://demo-api.kalshi.co/trade-api/v2"
	LiveBaseURL = "https://api.elections.kalshi.com/trade-api/v2"
)

// Config is the top-level configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kalshi    KalshiConfig    `mapstructure:"kalshi"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Signals   SignalConfig    `mapstructure:"signals"`
	Exits     ExitConfig      `mapstructure:"exits"`
	Backtest  BacktestConfig  `mapstructure:"backtest"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`

	// Warnings collects non-fatal normalisations made while loading, for the
	// caller to log once a logger exists.
	Warnings []string `mapstructure:"-"`
}

// DatabaseConfig points at the Postgres store. An empty URL selects the
// in-memory store, which is only suitable for local experiments.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// RedisConfig enables the read-through cache for calibration and backtest
// results when URL is set.
type RedisConfig struct {
	URL string        `mapstructure:"url"`
	TTL time.Duration `mapstructure:"ttl"`
}

// KalshiConfig holds venue credentials and endpoints.
//
//   - Env: demo or live ("sandbox" is accepted as demo).
//   - APIKeyID: the access key id sent in KALSHI-ACCESS-KEY.
//   - PrivateKeyPath: PEM file holding the RSA key used to sign requests.
//   - BackfillStartTS: unix seconds; backfill skips candles before it.
type KalshiConfig struct {
	Env             string `mapstructure:"env"`
	APIKeyID        string `mapstructure:"api_key_id"`
	PrivateKeyPath  string `mapstructure:"private_key_path"`
	BaseURL         string `mapstructure:"base_url"`
	VerifySSL       bool   `mapstructure:"verify_ssl"`
	HTTPTimeoutSec  int    `mapstructure:"http_timeout_sec"`
	BackfillStartTS int64  `mapstructure:"backfill_start_ts"`
	PageLimit       int    `mapstructure:"page_limit"`
}

// HTTPTimeout returns the request timeout as a duration.
func (k KalshiConfig) HTTPTimeout() time.Duration {
	return time.Duration(k.HTTPTimeoutSec) * time.Second
}

// ExecutionConfig controls the execution pass.
type ExecutionConfig struct {
	Mode           string        `mapstructure:"mode"`
	BatchLimit     int           `mapstructure:"batch_limit"`
	StaleSignalAge time.Duration `mapstructure:"stale_signal_age"`
}

// ExecutionMode returns the parsed mode.
func (e ExecutionConfig) ExecutionMode() types.ExecutionMode {
	return types.ParseExecutionMode(e.Mode)
}

// RiskConfig sets the USD risk budgets used by sizing and guard checks.
//
//   - MaxPerTradeUSD / MaxPerMarketUSD / MaxTotalUSD: flat caps.
//   - MaxRiskFraction: share of bankroll a single trade may risk.
//   - TargetRiskUSD: the risk a trade aims for when caps allow it.
//   - StalePositionAge: positions not marked within this age are left out of
//     the exposure readout.
type RiskConfig struct {
	MaxPerTradeUSD     float64       `mapstructure:"max_per_trade_usd"`
	MaxPerMarketUSD    float64       `mapstructure:"max_per_market_usd"`
	MaxTotalUSD        float64       `mapstructure:"max_total_usd"`
	InitialBankrollUSD float64       `mapstructure:"initial_bankroll_usd"`
	MaxRiskFraction    float64       `mapstructure:"max_risk_fraction"`
	TargetRiskUSD      float64       `mapstructure:"target_risk_usd"`
	MaxContracts       int           `mapstructure:"max_contracts"`
	StalePositionAge   time.Duration `mapstructure:"stale_position_age"`
}

// SignalConfig tunes signal eligibility.
type SignalConfig struct {
	EVThreshold         float64       `mapstructure:"ev_threshold"`
	MaxSignals          int           `mapstructure:"max_signals"`
	ExpiryWindow        time.Duration `mapstructure:"expiry_window"`
	BandLow             float64       `mapstructure:"band_low"`
	BandHigh            float64       `mapstructure:"band_high"`
	ProLongshotMax      float64       `mapstructure:"pro_longshot_max"`
	CollegeLongshotMax  float64       `mapstructure:"college_longshot_max"`
	CollegeMinRemaining time.Duration `mapstructure:"college_min_remaining"`
	InplayMaxRemaining  time.Duration `mapstructure:"inplay_max_remaining"`
}

// ExitConfig tunes take-profit exits.
type ExitConfig struct {
	TakeProfitFactor float64       `mapstructure:"take_profit_factor"`
	Window           time.Duration `mapstructure:"window"`
	CollegeEntryMax  float64       `mapstructure:"college_entry_max"`
	CollegeExitPrice float64       `mapstructure:"college_exit_price"`
}

// BacktestConfig tunes the threshold backtests.
type BacktestConfig struct {
	MinOpenInterest float64       `mapstructure:"min_open_interest"`
	Since           time.Duration `mapstructure:"since"`
}

// SchedulerConfig drives the fast and daily cycles.
type SchedulerConfig struct {
	FastInterval   time.Duration `mapstructure:"fast_interval"`
	DailyHourUTC   int           `mapstructure:"daily_hour_utc"`
	IngestLookback time.Duration `mapstructure:"ingest_lookback"`
	// IngestMaxMarkets caps candle fetches per fast cycle; targets rotate
	// across cycles. Zero means no cap.
	IngestMaxMarkets int `mapstructure:"ingest_max_markets"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the admin/dashboard HTTP server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// envBindings maps config keys to the environment variables that feed them,
// in priority order.
var envBindings = map[string][]string{
	"database.url":              {"DATABASE_URL"},
	"redis.url":                 {"REDIS_URL"},
	"kalshi.env":                {"KALSHI_ENV"},
	"kalshi.api_key_id":         {"KALSHI_API_KEY_ID", "KALSHI_API_KEY"},
	"kalshi.private_key_path":   {"KALSHI_API_KEY_SECRET", "KALSHI_API_SECRET", "KALSHI_PRIVATE_KEY_PATH"},
	"kalshi.base_url":           {"KALSHI_BASE_URL"},
	"kalshi.verify_ssl":         {"KALSHI_VERIFY_SSL"},
	"kalshi.http_timeout_sec":   {"KALSHI_HTTP_TIMEOUT"},
	"kalshi.backfill_start_ts":  {"KALSHI_BACKFILL_START_TS"},
	"execution.mode":            {"EXECUTION_MODE"},
	"risk.max_per_trade_usd":    {"MAX_RISK_PER_TRADE_USD"},
	"risk.max_per_market_usd":   {"MAX_RISK_PER_MARKET_USD"},
	"risk.max_total_usd":        {"MAX_RISK_TOTAL_USD"},
	"risk.initial_bankroll_usd": {"INITIAL_BANKROLL_USD"},
	"risk.max_risk_fraction":    {"MAX_RISK_FRACTION"},
	"exits.take_profit_factor":  {"TAKE_PROFIT_FACTOR"},
	"logging.level":             {"LOG_LEVEL"},
	"dashboard.port":            {"DASHBOARD_PORT"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", 30*time.Second)

	v.SetDefault("kalshi.env", "demo")
	v.SetDefault("kalshi.api_key_id", "")
	v.SetDefault("kalshi.private_key_path", "")
	v.SetDefault("kalshi.base_url", "")
	v.SetDefault("kalshi.verify_ssl", true)
	v.SetDefault("kalshi.http_timeout_sec", 30)
	v.SetDefault("kalshi.backfill_start_ts", 0)
	v.SetDefault("kalshi.page_limit", 200)

	v.SetDefault("execution.mode", string(types.ModeSimulate))
	v.SetDefault("execution.batch_limit", 200)
	v.SetDefault("execution.stale_signal_age", 10*time.Minute)

	v.SetDefault("risk.max_per_trade_usd", 10.0)
	v.SetDefault("risk.max_per_market_usd", 50.0)
	v.SetDefault("risk.max_total_usd", 200.0)
	v.SetDefault("risk.initial_bankroll_usd", 1000.0)
	v.SetDefault("risk.max_risk_fraction", 0.015)
	v.SetDefault("risk.target_risk_usd", 3.0)
	v.SetDefault("risk.max_contracts", 1000)
	v.SetDefault("risk.stale_position_age", 48*time.Hour)

	v.SetDefault("signals.ev_threshold", 0.02)
	v.SetDefault("signals.max_signals", 100)
	v.SetDefault("signals.expiry_window", 24*time.Hour)
	v.SetDefault("signals.band_low", 0.88)
	v.SetDefault("signals.band_high", 0.92)
	v.SetDefault("signals.pro_longshot_max", 0.15)
	v.SetDefault("signals.college_longshot_max", 0.02)
	v.SetDefault("signals.college_min_remaining", time.Hour)
	v.SetDefault("signals.inplay_max_remaining", 30*time.Minute)

	v.SetDefault("exits.take_profit_factor", 4.0)
	v.SetDefault("exits.window", 24*time.Hour)
	v.SetDefault("exits.college_entry_max", 0.02)
	v.SetDefault("exits.college_exit_price", 0.10)

	v.SetDefault("backtest.min_open_interest", 10.0)
	v.SetDefault("backtest.since", 90*24*time.Hour)

	v.SetDefault("scheduler.fast_interval", time.Minute)
	v.SetDefault("scheduler.daily_hour_utc", 2)
	v.SetDefault("scheduler.ingest_lookback", time.Hour)
	v.SetDefault("scheduler.ingest_max_markets", 200)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("dashboard.enabled", true)
	v.SetDefault("dashboard.port", 8000)
	v.SetDefault("dashboard.allowed_origins", []string{})
}

// Load builds a Config. path may be empty, in which case only the environment
// and defaults are consulted.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("KALSHI_EDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	env := strings.ToLower(strings.TrimSpace(c.Kalshi.Env))
	if env == "sandbox" {
		env = "demo"
	}
	c.Kalshi.Env = env

	if c.Kalshi.BaseURL == "" {
		switch env {
		case "live":
			c.Kalshi.BaseURL = LiveBaseURL
		default:
			c.Kalshi.BaseURL = DemoBaseURL
		}
	}

	requested := strings.ToLower(strings.TrimSpace(c.Execution.Mode))
	mode := types.ParseExecutionMode(requested)
	if requested != string(mode) {
		c.Warnings = append(c.Warnings,
			fmt.Sprintf("execution mode %q not recognised, using %s", c.Execution.Mode, mode))
	}
	c.Execution.Mode = string(mode)
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	switch c.Kalshi.Env {
	case "demo", "live":
	default:
		return fmt.Errorf("kalshi.env must be demo or live, got %q (set KALSHI_ENV)", c.Kalshi.Env)
	}
	if c.Execution.ExecutionMode() == types.ModeLive {
		if c.Kalshi.APIKeyID == "" {
			return fmt.Errorf("kalshi.api_key_id is required in live mode (set KALSHI_API_KEY_ID)")
		}
		if c.Kalshi.PrivateKeyPath == "" {
			return fmt.Errorf("kalshi.private_key_path is required in live mode (set KALSHI_API_KEY_SECRET)")
		}
	}
	if c.Kalshi.HTTPTimeoutSec <= 0 {
		return fmt.Errorf("kalshi.http_timeout_sec must be > 0")
	}
	if c.Risk.MaxPerTradeUSD <= 0 || c.Risk.MaxPerMarketUSD <= 0 || c.Risk.MaxTotalUSD <= 0 {
		return fmt.Errorf("risk caps must be > 0 (MAX_RISK_PER_TRADE_USD, MAX_RISK_PER_MARKET_USD, MAX_RISK_TOTAL_USD)")
	}
	if c.Risk.InitialBankrollUSD <= 0 {
		return fmt.Errorf("risk.initial_bankroll_usd must be > 0")
	}
	if c.Risk.MaxRiskFraction <= 0 || c.Risk.MaxRiskFraction > 1 {
		return fmt.Errorf("risk.max_risk_fraction must be in (0, 1]")
	}
	if c.Risk.TargetRiskUSD <= 0 {
		return fmt.Errorf("risk.target_risk_usd must be > 0")
	}
	if c.Risk.MaxContracts <= 0 {
		return fmt.Errorf("risk.max_contracts must be > 0")
	}
	if c.Signals.BandLow < 0 || c.Signals.BandHigh > 1 || c.Signals.BandLow >= c.Signals.BandHigh {
		return fmt.Errorf("signals band must satisfy 0 <= band_low < band_high <= 1")
	}
	if c.Signals.MaxSignals <= 0 {
		return fmt.Errorf("signals.max_signals must be > 0")
	}
	if c.Signals.ExpiryWindow <= 0 {
		return fmt.Errorf("signals.expiry_window must be > 0")
	}
	if c.Exits.TakeProfitFactor <= 1 {
		return fmt.Errorf("exits.take_profit_factor must be > 1")
	}
	if c.Scheduler.FastInterval <= 0 {
		return fmt.Errorf("scheduler.fast_interval must be > 0")
	}
	if c.Scheduler.IngestMaxMarkets < 0 {
		return fmt.Errorf("scheduler.ingest_max_markets must be >= 0")
	}
	if c.Scheduler.DailyHourUTC < 0 || c.Scheduler.DailyHourUTC > 23 {
		return fmt.Errorf("scheduler.daily_hour_utc must be in [0, 23]")
	}
	return nil
}
