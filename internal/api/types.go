package api

import (
	"time"

	"kalshi-edge/internal/config"
	"kalshi-edge/internal/risk"
	"kalshi-edge/pkg/types"
)

// DashboardSnapshot represents the complete dashboard state, sent to every
// websocket client on connect.
type DashboardSnapshot struct {
	Timestamp time.Time           `json:"timestamp"`
	Mode      types.ExecutionMode `json:"mode"`

	// Account
	Bankroll float64           `json:"bankroll"`
	PnL      *types.AccountPnL `json:"pnl,omitempty"`

	// Risk status
	Risk risk.RiskSnapshot `json:"risk"`

	// Trading state
	Signals   []types.Signal   `json:"signals"`
	Positions []types.Position `json:"positions"`

	// Latest backtests
	Summary Summary `json:"summary"`

	Config ConfigSummary `json:"config"`
}

// Summary is the latest backtest result per strategy, with the two headline
// strategies pulled out for the dashboard cards.
type Summary struct {
	Strategies  map[string]types.BacktestResult `json:"strategies"`
	Strategy090 *types.BacktestResult           `json:"strategy_0_90"`
	Strategy010 *types.BacktestResult           `json:"strategy_0_10"`
}

// ConfigSummary shows the key parameters the system is running with
type ConfigSummary struct {
	KalshiEnv        string  `json:"kalshi_env"`
	ExecutionMode    string  `json:"execution_mode"`
	MaxPerTradeUSD   float64 `json:"max_per_trade_usd"`
	MaxPerMarketUSD  float64 `json:"max_per_market_usd"`
	MaxTotalUSD      float64 `json:"max_total_usd"`
	MaxRiskFraction  float64 `json:"max_risk_fraction"`
	EVThreshold      float64 `json:"ev_threshold"`
	TakeProfitFactor float64 `json:"take_profit_factor"`
	FastInterval     string  `json:"fast_interval"`
	DailyHourUTC     int     `json:"daily_hour_utc"`
}

// NewConfigSummary creates a config summary from the full config
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		KalshiEnv:        cfg.Kalshi.Env,
		ExecutionMode:    string(cfg.Execution.ExecutionMode()),
		MaxPerTradeUSD:   cfg.Risk.MaxPerTradeUSD,
		MaxPerMarketUSD:  cfg.Risk.MaxPerMarketUSD,
		MaxTotalUSD:      cfg.Risk.MaxTotalUSD,
		MaxRiskFraction:  cfg.Risk.MaxRiskFraction,
		EVThreshold:      cfg.Signals.EVThreshold,
		TakeProfitFactor: cfg.Exits.TakeProfitFactor,
		FastInterval:     cfg.Scheduler.FastInterval.String(),
		DailyHourUTC:     cfg.Scheduler.DailyHourUTC,
	}
}

// ————————————————————————————————————————————————————————————————————————
// Admin responses
// ————————————————————————————————————————————————————————————————————————

// HealthResponse is the /health body.
type HealthResponse struct {
	Status    string              `json:"status"`
	Mode      types.ExecutionMode `json:"mode"`
	WSClients int                 `json:"ws_clients"`
}

// GenerateResponse reports a generation pass.
type GenerateResponse struct {
	Success bool           `json:"success"`
	Count   int            `json:"count"`
	ByRule  map[string]int `json:"by_rule"`
}

// ExecuteResponse reports an execution pass.
type ExecuteResponse struct {
	Success bool `json:"success"`
	types.ExecutionReport
}

// CancelResponse reports how many open signals were cancelled.
type CancelResponse struct {
	Success   bool `json:"success"`
	Cancelled int  `json:"cancelled"`
}

// BankrollResponse reports the snapshot written by a bankroll reset.
type BankrollResponse struct {
	Success bool             `json:"success"`
	PnL     types.AccountPnL `json:"pnl"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
