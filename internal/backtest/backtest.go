// Package backtest replays stored prices of resolved markets against simple
// threshold entry rules.
//
// A run enters each market at most once, at the first snapshot whose mid
// crosses the threshold and which has enough open interest, and holds to
// resolution. Summaries are persisted append-only so the dashboard can show
// the newest run per strategy.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"kalshi-edge/internal/config"
	"kalshi-edge/internal/store"
	"kalshi-edge/pkg/types"
)

// Direction selects which side is bought when the threshold is crossed.
type Direction string

const (
	// BuyYesAbove buys YES when the mid is at or above the threshold.
	BuyYesAbove Direction = "yes"
	// BuyNoBelow buys NO when the mid is at or below the threshold.
	BuyNoBelow Direction = "no"
)

// ParseDirection accepts "yes"/"no" in any case.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case BuyYesAbove:
		return BuyYesAbove, nil
	case BuyNoBelow:
		return BuyNoBelow, nil
	}
	return "", fmt.Errorf("direction must be yes or no, got %q", s)
}

func (d Direction) crosses(mid, threshold float64) bool {
	if d == BuyNoBelow {
		return mid <= threshold
	}
	return mid >= threshold
}

// winning is the resolution that pays out for d.
func (d Direction) winning() types.Outcome {
	if d == BuyNoBelow {
		return types.OutcomeNo
	}
	return types.OutcomeYes
}

// Filter narrows the markets a run considers. Zero values match everything.
type Filter struct {
	Category          string
	ExpiryBucket      types.ExpiryBucket
	AllowedCategories []string
	// Since drops markets resolved before it.
	Since time.Time
}

func (f Filter) match(m types.Market, now time.Time) bool {
	category := strings.ToLower(m.Category)
	if f.Category != "" && category != strings.ToLower(f.Category) {
		return false
	}
	if len(f.AllowedCategories) > 0 {
		allowed := false
		for _, c := range f.AllowedCategories {
			if strings.ToLower(c) == category {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	if f.ExpiryBucket != "" && types.ExpiryBucketFor(m.ExpirationTS, now) != f.ExpiryBucket {
		return false
	}
	if !f.Since.IsZero() && m.ResolvedAt != nil && m.ResolvedAt.Before(f.Since) {
		return false
	}
	return true
}

// Trade is one simulated entry held to resolution. EntryPrice is what was
// paid for the bought side.
type Trade struct {
	MarketID       string        `json:"market_id"`
	EntryTimestamp time.Time     `json:"entry_timestamp"`
	EntryPrice     float64       `json:"entry_price"`
	Resolution     types.Outcome `json:"resolution"`
	Profit         float64       `json:"profit"`
}

// Summary aggregates one run.
type Summary struct {
	Threshold         float64            `json:"threshold"`
	Direction         Direction          `json:"direction"`
	Category          string             `json:"category,omitempty"`
	ExpiryBucket      types.ExpiryBucket `json:"expiry_bucket,omitempty"`
	NumTrades         int                `json:"num_trades"`
	WinRate           float64            `json:"win_rate"`
	AverageEntryPrice float64            `json:"average_entry_price"`
	AverageProfit     float64            `json:"average_profit"`
	TotalProfit       float64            `json:"total_profit"`
	MaxDrawdown       float64            `json:"max_drawdown"`
	Trades            []Trade            `json:"trades"`
}

// Runner executes threshold backtests against the store.
type Runner struct {
	cfg    config.BacktestConfig
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner creates a backtest runner.
func NewRunner(cfg config.BacktestConfig, s store.Store, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:    cfg,
		store:  s,
		logger: logger.With("component", "backtest"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// DefaultFilter applies the configured since window.
func (r *Runner) DefaultFilter() Filter {
	var f Filter
	if r.cfg.Since > 0 {
		f.Since = r.now().Add(-r.cfg.Since)
	}
	return f
}

// Run backtests one threshold rule over every resolved market matching f.
func (r *Runner) Run(ctx context.Context, threshold float64, dir Direction, f Filter) (*Summary, error) {
	markets, err := r.store.ListResolvedMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list resolved markets: %w", err)
	}

	now := r.now()
	var trades []Trade
	for _, m := range markets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !f.match(m, now) {
			continue
		}
		history, err := r.store.PriceHistory(ctx, m.MarketID)
		if err != nil {
			return nil, fmt.Errorf("price history for %s: %w", m.MarketID, err)
		}
		if t, ok := r.firstEntry(history, threshold, dir); ok {
			t.MarketID = m.MarketID
			t.Resolution = *m.Resolution
			t.Profit = profit(dir, t.Resolution, t.EntryPrice)
			trades = append(trades, t)
		}
	}

	s := summarize(threshold, dir, trades)
	s.Category = f.Category
	s.ExpiryBucket = f.ExpiryBucket
	r.logger.Debug("backtest run",
		"threshold", threshold,
		"direction", dir,
		"markets", len(markets),
		"trades", s.NumTrades,
	)
	return s, nil
}

func (r *Runner) firstEntry(history []types.PriceSnapshot, threshold float64, dir Direction) (Trade, bool) {
	for _, snap := range history {
		mid, ok := snap.Mid()
		if !ok || !r.liquid(snap) {
			continue
		}
		if !dir.crosses(mid, threshold) {
			continue
		}
		entry := mid
		if dir == BuyNoBelow {
			entry = 1 - mid
		}
		return Trade{EntryTimestamp: snap.Timestamp, EntryPrice: entry}, true
	}
	return Trade{}, false
}

// liquid passes snapshots with unknown open interest.
func (r *Runner) liquid(snap types.PriceSnapshot) bool {
	return snap.OpenInterest == nil || *snap.OpenInterest >= r.cfg.MinOpenInterest
}

// profit per contract held to resolution, entry being the bought side's price.
func profit(dir Direction, res types.Outcome, entry float64) float64 {
	if res == dir.winning() {
		return 1 - entry
	}
	return -entry
}

func summarize(threshold float64, dir Direction, trades []Trade) *Summary {
	s := &Summary{
		Threshold: threshold,
		Direction: dir,
		NumTrades: len(trades),
		Trades:    trades,
	}
	if s.Trades == nil {
		s.Trades = []Trade{}
	}
	if len(trades) == 0 {
		return s
	}

	wins := 0
	var entrySum float64
	for _, t := range trades {
		if t.Resolution == dir.winning() {
			wins++
		}
		entrySum += t.EntryPrice
		s.TotalProfit += t.Profit
	}
	n := float64(len(trades))
	s.WinRate = float64(wins) / n
	s.AverageEntryPrice = entrySum / n
	s.AverageProfit = s.TotalProfit / n
	s.MaxDrawdown = MaxDrawdown(trades)
	return s
}

// MaxDrawdown is the largest peak-to-trough fall of cumulative profit with
// trades ordered by entry time. The peak starts at zero.
func MaxDrawdown(trades []Trade) float64 {
	ordered := make([]Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].EntryTimestamp.Before(ordered[j].EntryTimestamp)
	})

	var equity, peak, maxDD float64
	for _, t := range ordered {
		equity += t.Profit
		peak = max(peak, equity)
		maxDD = max(maxDD, peak-equity)
	}
	return maxDD
}
