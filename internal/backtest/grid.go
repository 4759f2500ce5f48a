package backtest

import (
	"context"
	"fmt"
	"time"

	"kalshi-edge/pkg/types"
)

// Headline strategy names shown on the dashboard.
const (
	StrategyYes90 = "strategy_0_90"
	StrategyNo10  = "strategy_0_10"
)

// Strategy is a named threshold rule.
type Strategy struct {
	Name      string
	Threshold float64
	Direction Direction
}

// Headline returns the two strategies refreshed every fast cycle.
func Headline() []Strategy {
	return []Strategy{
		{Name: StrategyYes90, Threshold: 0.90, Direction: BuyYesAbove},
		{Name: StrategyNo10, Threshold: 0.10, Direction: BuyNoBelow},
	}
}

// Grid returns YES thresholds 0.80..0.99 and NO thresholds 0.01..0.15 in
// steps of one cent.
func Grid() []Strategy {
	var out []Strategy
	for c := 80; c <= 99; c++ {
		th := float64(c) / 100
		out = append(out, Strategy{Name: fmt.Sprintf("threshold_yes_%.2f", th), Threshold: th, Direction: BuyYesAbove})
	}
	for c := 1; c <= 15; c++ {
		th := float64(c) / 100
		out = append(out, Strategy{Name: fmt.Sprintf("threshold_no_%.2f", th), Threshold: th, Direction: BuyNoBelow})
	}
	return out
}

// RunAndSave runs each strategy with f and persists the summaries. A failing
// strategy aborts the remaining ones.
func (r *Runner) RunAndSave(ctx context.Context, strategies []Strategy, f Filter) ([]types.BacktestResult, error) {
	results := make([]types.BacktestResult, 0, len(strategies))
	for _, st := range strategies {
		s, err := r.Run(ctx, st.Threshold, st.Direction, f)
		if err != nil {
			return results, fmt.Errorf("backtest %s: %w", st.Name, err)
		}
		res := s.Result(st.Name, f)
		if err := r.store.SaveBacktestResult(ctx, &res); err != nil {
			return results, fmt.Errorf("save backtest %s: %w", st.Name, err)
		}
		results = append(results, res)
	}
	r.logger.Info("backtests saved", "strategies", len(results))
	return results, nil
}

// Result converts the summary into a persistable row. Trades are left out of
// the raw summary to keep rows small.
func (s *Summary) Result(name string, f Filter) types.BacktestResult {
	params := map[string]any{
		"threshold": s.Threshold,
		"direction": string(s.Direction),
	}
	if f.Category != "" {
		params["category"] = f.Category
	}
	if f.ExpiryBucket != "" {
		params["expiry_bucket"] = string(f.ExpiryBucket)
	}
	if len(f.AllowedCategories) > 0 {
		params["allowed_categories"] = f.AllowedCategories
	}
	if !f.Since.IsZero() {
		params["since"] = f.Since.Format(time.RFC3339)
	}

	return types.BacktestResult{
		StrategyName:  name,
		Params:        params,
		NumTrades:     s.NumTrades,
		WinRate:       s.WinRate,
		AverageProfit: s.AverageProfit,
		TotalProfit:   s.TotalProfit,
		Summary: map[string]any{
			"threshold":           s.Threshold,
			"direction":           string(s.Direction),
			"num_trades":          s.NumTrades,
			"win_rate":            s.WinRate,
			"average_entry_price": s.AverageEntryPrice,
			"average_profit":      s.AverageProfit,
			"total_profit":        s.TotalProfit,
			"max_drawdown":        s.MaxDrawdown,
		},
	}
}
