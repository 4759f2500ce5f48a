package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalshi-edge/internal/config"
	"kalshi-edge/internal/ledger"
	"kalshi-edge/internal/store"
	"kalshi-edge/pkg/types"
)

func testExits() config.ExitConfig {
	return config.ExitConfig{
		TakeProfitFactor: 2,
		Window:           24 * time.Hour,
		CollegeEntryMax:  0.02,
		CollegeExitPrice: 0.10,
	}
}

func TestExitReason(t *testing.T) {
	t.Parallel()
	cfg := testExits()

	tests := []struct {
		name     string
		side     types.Side
		avg      float64
		category string
		current  float64
		want     string
	}{
		{"yes doubled", types.SideYes, 0.30, "politics", 0.60, ExitTakeProfit},
		{"yes short of target", types.SideYes, 0.30, "politics", 0.59, ""},
		{"no halved", types.SideNo, 0.80, "politics", 0.40, ExitTakeProfit},
		{"no short of target", types.SideNo, 0.80, "politics", 0.41, ""},
		{"college longshot pops", types.SideYes, 0.02, "ncaaf", 0.10, ExitCollegeFast},
		{"college longshot below exit", types.SideYes, 0.02, "ncaaf", 0.05, ExitTakeProfit},
		{"college entry too high", types.SideYes, 0.06, "ncaaf", 0.11, ""},
		{"pro longshot not fast exit", types.SideYes, 0.02, "nfl", 0.10, ExitTakeProfit},
		{"no side never fast exits", types.SideNo, 0.02, "ncaaf", 0.10, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := types.Position{MarketID: "MKT", Side: tt.side, Size: 10, AvgPrice: tt.avg}
			got, ok := exitReason(cfg, p, tt.category, tt.current)
			if got != tt.want {
				t.Errorf("exitReason = %q, want %q", got, tt.want)
			}
			if ok != (tt.want != "") {
				t.Errorf("exitReason ok = %v, want %v", ok, tt.want != "")
			}
		})
	}
}

func seedExitMarket(t *testing.T, s store.Store, id, category string, expiresIn time.Duration, mid float64) {
	t.Helper()
	ctx := context.Background()
	exp := testNow.Add(expiresIn)
	require.NoError(t, s.UpsertMarket(ctx, types.Market{MarketID: id, Name: id, Category: category, ExpirationTS: &exp}))
	bid, ask := mid-0.01, mid+0.01
	_, err := s.InsertPrices(ctx, []types.PriceSnapshot{{MarketID: id, Timestamp: testNow.Add(-time.Minute), BidYes: &bid, AskYes: &ask}})
	require.NoError(t, err)
}

func buy(t *testing.T, l *ledger.Ledger, market string, side types.Side, size int, price float64) {
	t.Helper()
	_, err := l.Record(context.Background(), &types.Trade{
		MarketID: market, Side: side, Size: size, Price: price, Direction: types.Buy, ExecutedAt: testNow.Add(-time.Hour),
	})
	require.NoError(t, err)
}

func newTestExitEngine(s store.Store, mode types.ExecutionMode, venue Venue) (*ExitEngine, *ledger.Ledger) {
	l := ledger.New(s, testRisk(), discardLogger())
	x := NewExitEngine(testExits(), mode, s, l, venue, discardLogger())
	x.now = func() time.Time { return testNow }
	return x, l
}

func TestExitEngineSimulate(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	x, l := newTestExitEngine(s, types.ModeSimulate, nil)

	seedExitMarket(t, s, "WIN", "politics", 2*time.Hour, 0.90)
	seedExitMarket(t, s, "FAR", "politics", 72*time.Hour, 0.90)
	seedExitMarket(t, s, "FLAT", "politics", 2*time.Hour, 0.50)
	buy(t, l, "WIN", types.SideYes, 10, 0.40)
	buy(t, l, "FAR", types.SideYes, 10, 0.40)
	buy(t, l, "FLAT", types.SideYes, 10, 0.40)

	rep, err := x.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Checked)
	assert.Equal(t, 1, rep.Triggered)

	win, ok := positionFor(t, s, "WIN", types.SideYes)
	require.True(t, ok)
	assert.Equal(t, 0, win.Size)
	assert.InDelta(t, 5.0, win.RealizedPnL, 1e-9)

	far, _ := positionFor(t, s, "FAR", types.SideYes)
	assert.Equal(t, 10, far.Size)
	flat, _ := positionFor(t, s, "FLAT", types.SideYes)
	assert.Equal(t, 10, flat.Size)
}

func TestExitEngineNoSide(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	x, l := newTestExitEngine(s, types.ModeSimulate, nil)

	// NO bought at a YES price of 0.80 costs 0.20; YES falling to 0.30
	// sells it back at 0.70.
	seedExitMarket(t, s, "FADE", "economics", time.Hour, 0.30)
	buy(t, l, "FADE", types.SideNo, 10, 0.80)

	rep, err := x.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Triggered)

	pos, ok := positionFor(t, s, "FADE", types.SideNo)
	require.True(t, ok)
	assert.Equal(t, 0, pos.Size)
	assert.InDelta(t, 5.0, pos.RealizedPnL, 1e-9)
}

func TestExitEngineLiveUsesFill(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	venue := &fakeVenue{result: types.OrderResult{OrderID: "ord-x", Filled: true, FillPrice: types.Ptr(0.88)}}
	x, l := newTestExitEngine(s, types.ModeLive, venue)

	seedExitMarket(t, s, "WIN", "politics", 2*time.Hour, 0.90)
	buy(t, l, "WIN", types.SideYes, 10, 0.40)

	rep, err := x.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Triggered)

	require.Len(t, venue.orders, 1)
	assert.Equal(t, types.Sell, venue.orders[0].Action)
	assert.Equal(t, 10, venue.orders[0].Count)

	pos, _ := positionFor(t, s, "WIN", types.SideYes)
	assert.InDelta(t, 4.8, pos.RealizedPnL, 1e-9)
}

func TestExitEngineLiveBooksOnlyFills(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		result    types.OrderResult
		triggered int
		resting   int
		wantSize  int
	}{
		{"resting", types.OrderResult{OrderID: "ord-r", Status: "resting"}, 0, 1, 10},
		{"canceled", types.OrderResult{OrderID: "ord-c", Status: "canceled", FillSize: types.Ptr(0)}, 0, 1, 10},
		{"partial", types.OrderResult{OrderID: "ord-p", Status: "resting", FillSize: types.Ptr(4), FillPrice: types.Ptr(0.90)}, 1, 0, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestStore()
			venue := &fakeVenue{result: tt.result}
			x, l := newTestExitEngine(s, types.ModeLive, venue)

			seedExitMarket(t, s, "WIN", "politics", 2*time.Hour, 0.90)
			buy(t, l, "WIN", types.SideYes, 10, 0.40)

			rep, err := x.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.triggered, rep.Triggered)
			assert.Equal(t, tt.resting, rep.Resting)
			require.Len(t, venue.orders, 1)

			pos, ok := positionFor(t, s, "WIN", types.SideYes)
			require.True(t, ok)
			assert.Equal(t, tt.wantSize, pos.Size)
		})
	}
}

func TestExitEngineSkipsWhenLeaseHeld(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	x, _ := newTestExitEngine(s, types.ModeSimulate, nil)

	release, err := s.AcquireExecutionLease(context.Background())
	require.NoError(t, err)
	defer release()

	rep, err := x.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
}
