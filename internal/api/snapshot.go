package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kalshi-edge/internal/backtest"
	"kalshi-edge/internal/config"
	"kalshi-edge/internal/risk"
	"kalshi-edge/internal/store"
	"kalshi-edge/pkg/types"
)

// Provider is the trading engine as seen by the dashboard: read-side
// readouts that need engine state plus the admin actions.
type Provider interface {
	DashboardEvents() <-chan DashboardEvent
	Mode() types.ExecutionMode
	Bankroll(ctx context.Context) (float64, error)
	RiskSnapshot(ctx context.Context) (risk.RiskSnapshot, error)

	GenerateSignals(ctx context.Context) ([]types.Signal, error)
	ExecutePending(ctx context.Context, limit int) (types.ExecutionReport, error)
	CancelOpenSignals(ctx context.Context) (int, error)
	ResetBankroll(ctx context.Context) (types.AccountPnL, error)
}

const snapshotSignals = 20

// BuildSnapshot aggregates state from the engine and the store into a
// dashboard snapshot.
func BuildSnapshot(ctx context.Context, provider Provider, st store.Store, cfg config.Config) (DashboardSnapshot, error) {
	snap := DashboardSnapshot{
		Timestamp: time.Now(),
		Mode:      provider.Mode(),
		Config:    NewConfigSummary(cfg),
	}

	var err error
	if snap.Bankroll, err = provider.Bankroll(ctx); err != nil {
		return snap, fmt.Errorf("bankroll: %w", err)
	}
	if row, err := st.LatestAccountPnL(ctx); err == nil {
		snap.PnL = &row
	} else if !errors.Is(err, store.ErrNotFound) {
		return snap, fmt.Errorf("latest pnl: %w", err)
	}
	if snap.Risk, err = provider.RiskSnapshot(ctx); err != nil {
		return snap, fmt.Errorf("risk: %w", err)
	}
	if snap.Signals, err = st.RecentSignals(ctx, snapshotSignals); err != nil {
		return snap, fmt.Errorf("signals: %w", err)
	}
	positions, err := st.ListPositions(ctx)
	if err != nil {
		return snap, fmt.Errorf("positions: %w", err)
	}
	for _, p := range positions {
		if p.Size != 0 {
			snap.Positions = append(snap.Positions, p)
		}
	}
	results, err := st.LatestBacktestResults(ctx)
	if err != nil {
		return snap, fmt.Errorf("backtests: %w", err)
	}
	snap.Summary = BuildSummary(results)
	return snap, nil
}

// BuildSummary keys results by strategy name. The headline entries fall back
// to the equivalent grid strategy when the headline run is missing.
func BuildSummary(results []types.BacktestResult) Summary {
	sum := Summary{Strategies: make(map[string]types.BacktestResult, len(results))}
	for _, r := range results {
		sum.Strategies[r.StrategyName] = r
	}
	sum.Strategy090 = firstResult(sum.Strategies, backtest.StrategyYes90, "threshold_yes_0.90")
	sum.Strategy010 = firstResult(sum.Strategies, backtest.StrategyNo10, "threshold_no_0.10")
	return sum
}

func firstResult(byName map[string]types.BacktestResult, names ...string) *types.BacktestResult {
	for _, name := range names {
		if r, ok := byName[name]; ok {
			return &r
		}
	}
	return nil
}
