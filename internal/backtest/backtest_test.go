package backtest

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"kalshi-edge/internal/config"
	"kalshi-edge/internal/store"
	"kalshi-edge/pkg/types"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func newTestRunner(s store.Store) *Runner {
	r := NewRunner(config.BacktestConfig{MinOpenInterest: 10}, s, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.now = func() time.Time { return t0.Add(30 * 24 * time.Hour) }
	return r
}

type snap struct {
	offset time.Duration
	mid    float64
	oi     *float64
}

func seedMarket(t *testing.T, s store.Store, id, category string, res *types.Outcome, resolvedAt time.Time, snaps ...snap) {
	t.Helper()
	ctx := context.Background()
	m := types.Market{MarketID: id, Name: id, Category: category, Resolution: res}
	if res != nil {
		m.ResolvedAt = &resolvedAt
	}
	if err := s.UpsertMarket(ctx, m); err != nil {
		t.Fatalf("UpsertMarket: %v", err)
	}
	var prices []types.PriceSnapshot
	for _, sn := range snaps {
		prices = append(prices, types.PriceSnapshot{
			MarketID:     id,
			Timestamp:    t0.Add(sn.offset),
			LastYes:      types.Ptr(sn.mid),
			OpenInterest: sn.oi,
		})
	}
	if _, err := s.InsertPrices(ctx, prices); err != nil {
		t.Fatalf("InsertPrices: %v", err)
	}
}

func yes() *types.Outcome { return types.Ptr(types.OutcomeYes) }
func no() *types.Outcome  { return types.Ptr(types.OutcomeNo) }

func seedYesBook(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore()
	resolved := t0.Add(24 * time.Hour)
	seedMarket(t, s, "A", "economics", yes(), resolved,
		snap{0, 0.85, types.Ptr(50.0)},
		snap{2 * time.Hour, 0.92, types.Ptr(5.0)},
		snap{3 * time.Hour, 0.95, nil},
	)
	seedMarket(t, s, "B", "politics", no(), resolved,
		snap{time.Hour, 0.91, types.Ptr(100.0)},
	)
	seedMarket(t, s, "C", "economics", nil, time.Time{},
		snap{time.Hour, 0.99, nil},
	)
	seedMarket(t, s, "D", "economics", yes(), resolved,
		snap{time.Hour, 0.70, nil},
	)
	return s
}

func TestRunBuyYesAbove(t *testing.T) {
	t.Parallel()
	r := newTestRunner(seedYesBook(t))

	s, err := r.Run(context.Background(), 0.90, BuyYesAbove, Filter{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.NumTrades != 2 {
		t.Fatalf("NumTrades = %d, want 2", s.NumTrades)
	}

	byID := map[string]Trade{}
	for _, tr := range s.Trades {
		byID[tr.MarketID] = tr
	}
	if a := byID["A"]; !approx(a.EntryPrice, 0.95) || !approx(a.Profit, 0.05) || !a.EntryTimestamp.Equal(t0.Add(3*time.Hour)) {
		t.Errorf("A = %+v, want entry 0.95 at +3h (illiquid 0.92 skipped), profit 0.05", a)
	}
	if b := byID["B"]; !approx(b.Profit, -0.91) {
		t.Errorf("B profit = %v, want -0.91", b.Profit)
	}

	checks := []struct {
		name      string
		got, want float64
	}{
		{"WinRate", s.WinRate, 0.5},
		{"AverageEntryPrice", s.AverageEntryPrice, 0.93},
		{"TotalProfit", s.TotalProfit, -0.86},
		{"AverageProfit", s.AverageProfit, -0.43},
		{"MaxDrawdown", s.MaxDrawdown, 0.91},
	}
	for _, c := range checks {
		if !approx(c.got, c.want) {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestRunBuyNoBelow(t *testing.T) {
	t.Parallel()
	s := store.NewMemoryStore()
	resolved := t0.Add(24 * time.Hour)
	seedMarket(t, s, "E", "weather", no(), resolved, snap{time.Hour, 0.08, nil})
	seedMarket(t, s, "F", "weather", yes(), resolved, snap{2 * time.Hour, 0.05, nil})
	seedMarket(t, s, "G", "weather", no(), resolved, snap{time.Hour, 0.30, nil})

	sum, err := newTestRunner(s).Run(context.Background(), 0.10, BuyNoBelow, Filter{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.NumTrades != 2 {
		t.Fatalf("NumTrades = %d, want 2", sum.NumTrades)
	}
	if !approx(sum.TotalProfit, 0.08-0.95) {
		t.Errorf("TotalProfit = %v, want %v", sum.TotalProfit, 0.08-0.95)
	}
	if !approx(sum.WinRate, 0.5) {
		t.Errorf("WinRate = %v, want 0.5", sum.WinRate)
	}
	if !approx(sum.AverageEntryPrice, (0.92+0.95)/2) {
		t.Errorf("AverageEntryPrice = %v, want NO-side price", sum.AverageEntryPrice)
	}
}

func TestRunFilters(t *testing.T) {
	t.Parallel()
	s := seedYesBook(t)
	r := newTestRunner(s)
	ctx := context.Background()

	old := t0.Add(-200 * 24 * time.Hour)
	seedMarket(t, s, "OLD", "economics", yes(), old, snap{0, 0.95, nil})

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"no filter", Filter{}, 3},
		{"category", Filter{Category: "ECONOMICS"}, 2},
		{"allowed categories", Filter{AllowedCategories: []string{"politics"}}, 1},
		{"since", Filter{Since: t0.Add(-24 * time.Hour)}, 2},
		{"expiry bucket needs expiration", Filter{ExpiryBucket: types.ExpiryShort}, 0},
	}
	for _, tt := range tests {
		sum, err := r.Run(ctx, 0.90, BuyYesAbove, tt.filter)
		if err != nil {
			t.Fatalf("%s: Run: %v", tt.name, err)
		}
		if sum.NumTrades != tt.want {
			t.Errorf("%s: NumTrades = %d, want %d", tt.name, sum.NumTrades, tt.want)
		}
	}
}

func TestRunEmpty(t *testing.T) {
	t.Parallel()
	sum, err := newTestRunner(store.NewMemoryStore()).Run(context.Background(), 0.9, BuyYesAbove, Filter{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.NumTrades != 0 || sum.WinRate != 0 || sum.MaxDrawdown != 0 || sum.Trades == nil {
		t.Errorf("empty summary = %+v", sum)
	}
}

func TestMaxDrawdown(t *testing.T) {
	t.Parallel()

	at := func(h int, p float64) Trade {
		return Trade{EntryTimestamp: t0.Add(time.Duration(h) * time.Hour), Profit: p}
	}
	tests := []struct {
		name   string
		trades []Trade
		want   float64
	}{
		{"empty", nil, 0},
		{"only gains", []Trade{at(0, 0.1), at(1, 0.2)}, 0},
		{"loss from zero", []Trade{at(0, -0.5)}, 0.5},
		{"peak then trough", []Trade{at(0, 1), at(1, -0.4), at(2, -0.3), at(3, 2)}, 0.7},
		{"ordered by entry time", []Trade{at(3, 2), at(0, 1), at(2, -0.3), at(1, -0.4)}, 0.7},
	}
	for _, tt := range tests {
		if got := MaxDrawdown(tt.trades); !approx(got, tt.want) {
			t.Errorf("%s: MaxDrawdown = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestGrid(t *testing.T) {
	t.Parallel()
	g := Grid()
	if len(g) != 35 {
		t.Fatalf("len(Grid) = %d, want 35", len(g))
	}
	if g[0].Name != "threshold_yes_0.80" || g[19].Name != "threshold_yes_0.99" {
		t.Errorf("YES range = %s..%s", g[0].Name, g[19].Name)
	}
	if g[20].Name != "threshold_no_0.01" || g[34].Name != "threshold_no_0.15" {
		t.Errorf("NO range = %s..%s", g[20].Name, g[34].Name)
	}
	if g[34].Direction != BuyNoBelow || !approx(g[34].Threshold, 0.15) {
		t.Errorf("last = %+v", g[34])
	}
}

func TestRunAndSaveHeadline(t *testing.T) {
	t.Parallel()
	s := seedYesBook(t)
	r := newTestRunner(s)
	ctx := context.Background()

	if _, err := r.RunAndSave(ctx, Headline(), r.DefaultFilter()); err != nil {
		t.Fatalf("RunAndSave: %v", err)
	}
	latest, err := s.LatestBacktestResults(ctx)
	if err != nil {
		t.Fatalf("LatestBacktestResults: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("got %d results, want 2", len(latest))
	}
	if latest[0].StrategyName != StrategyNo10 || latest[1].StrategyName != StrategyYes90 {
		t.Errorf("names = %s, %s", latest[0].StrategyName, latest[1].StrategyName)
	}
	yes90 := latest[1]
	if yes90.NumTrades != 2 {
		t.Errorf("strategy_0_90 trades = %d, want 2", yes90.NumTrades)
	}
	if dd, _ := yes90.Summary["max_drawdown"].(float64); !approx(dd, 0.91) {
		t.Errorf("raw max_drawdown = %v, want 0.91", yes90.Summary["max_drawdown"])
	}
	if yes90.Params["direction"] != "yes" {
		t.Errorf("params = %v", yes90.Params)
	}

	var buf bytes.Buffer
	if err := WriteTable(&buf, latest); err != nil {
		t.Fatalf("WriteTable: %v", err)
	}
	if !strings.Contains(buf.String(), StrategyYes90) {
		t.Errorf("table missing strategy name:\n%s", buf.String())
	}
}

func TestWriteTradesCSV(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	err := WriteTradesCSV(&buf, []Trade{{MarketID: "A", EntryTimestamp: t0, EntryPrice: 0.95, Resolution: types.OutcomeYes, Profit: 0.05}})
	if err != nil {
		t.Fatalf("WriteTradesCSV: %v", err)
	}
	want := "market_id,entry_timestamp,entry_price,resolution,profit\nA,2025-06-01T12:00:00Z,0.95,YES,0.05\n"
	if buf.String() != want {
		t.Errorf("csv =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestParseDirection(t *testing.T) {
	t.Parallel()
	if d, err := ParseDirection(" NO "); err != nil || d != BuyNoBelow {
		t.Errorf("ParseDirection(NO) = %v, %v", d, err)
	}
	if _, err := ParseDirection("maybe"); err == nil {
		t.Error("expected error for unknown direction")
	}
}
