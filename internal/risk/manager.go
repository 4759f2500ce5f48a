// Package risk measures committed exposure and sizes new trades under the
// configured caps.
//
// Exposure is the at-risk USD of every open signal (pending or sent) and
// every open position: price*size for YES, (1-price)*size for NO. Three caps
// apply to it:
//
//   - Per-trade:  the risk a single order may add
//   - Per-market: the exposure any single market may carry
//   - Total:      the exposure across all markets
//
// A fourth, bankroll-relative cap (bankroll * MaxRiskFraction) bounds sizing
// as the account grows or shrinks. The Manager builds exposure from storage;
// the Sizer turns a signal into a contract count and re-checks the flat caps.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kalshi-edge/internal/config"
	"kalshi-edge/internal/store"
	"kalshi-edge/pkg/types"
)

// Manager reads committed exposure from storage.
type Manager struct {
	cfg    config.RiskConfig
	store  store.Store
	logger *slog.Logger
}

// NewManager creates a risk manager.
func NewManager(cfg config.RiskConfig, s store.Store, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		store:  s,
		logger: logger.With("component", "risk"),
	}
}

// Exposure returns the committed exposure over open signals and every open
// position. It is the view the execution engine sizes against.
func (rm *Manager) Exposure(ctx context.Context) (*Exposure, error) {
	signals, positions, err := rm.load(ctx)
	if err != nil {
		return nil, err
	}
	exp := NewExposure()
	exp.AddSignals(signals)
	for _, p := range positions {
		exp.AddPosition(p)
	}
	return exp, nil
}

// RemainingBudget returns how much additional USD exposure is allowed for
// the given market: the smaller of the per-market and total headroom, never
// negative.
func (rm *Manager) RemainingBudget(exp *Exposure, marketID string) float64 {
	perMarket := rm.cfg.MaxPerMarketUSD - exp.Market(marketID)
	global := rm.cfg.MaxTotalUSD - exp.Total()

	remaining := perMarket
	if global < remaining {
		remaining = global
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Snapshot returns dashboard risk metrics. Positions whose mark is older than
// StalePositionAge are reported separately and excluded from the totals.
func (rm *Manager) Snapshot(ctx context.Context, now time.Time) (RiskSnapshot, error) {
	signals, positions, err := rm.load(ctx)
	if err != nil {
		return RiskSnapshot{}, err
	}

	exp := NewExposure()
	exp.AddSignals(signals)

	snap := RiskSnapshot{OpenSignals: len(signals)}
	cutoff := now.Add(-rm.cfg.StalePositionAge)
	for _, p := range positions {
		if p.Size == 0 {
			continue
		}
		if isStale(p, cutoff) {
			snap.StalePositions++
			continue
		}
		snap.OpenPositions++
		exp.AddPosition(p)
	}

	snap.TotalUSD = exp.Total()
	snap.PerMarket = exp.PerMarket()
	snap.MaxTotalUSD = rm.cfg.MaxTotalUSD
	snap.MaxPerMarketUSD = rm.cfg.MaxPerMarketUSD
	snap.MaxPerTradeUSD = rm.cfg.MaxPerTradeUSD
	if rm.cfg.MaxTotalUSD > 0 {
		snap.ExposurePct = snap.TotalUSD / rm.cfg.MaxTotalUSD * 100
	}
	return snap, nil
}

// RiskSnapshot represents aggregate risk metrics for the dashboard.
type RiskSnapshot struct {
	TotalUSD        float64            `json:"total_usd"`
	PerMarket       map[string]float64 `json:"per_market"`
	MaxTotalUSD     float64            `json:"max_total_usd"`
	MaxPerMarketUSD float64            `json:"max_per_market_usd"`
	MaxPerTradeUSD  float64            `json:"max_per_trade_usd"`
	ExposurePct     float64            `json:"exposure_pct"`
	OpenSignals     int                `json:"open_signals"`
	OpenPositions   int                `json:"open_positions"`
	StalePositions  int                `json:"stale_positions"`
}

func (rm *Manager) load(ctx context.Context) ([]types.Signal, []types.Position, error) {
	signals, err := rm.store.OpenSignals(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load open signals: %w", err)
	}
	positions, err := rm.store.ListPositions(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load positions: %w", err)
	}
	return signals, positions, nil
}

// isStale reports whether the position's value was last refreshed before
// cutoff. Unmarked positions fall back to their last update.
func isStale(p types.Position, cutoff time.Time) bool {
	last := p.UpdatedAt
	if p.MarkedAt != nil {
		last = *p.MarkedAt
	}
	return last.Before(cutoff)
}
