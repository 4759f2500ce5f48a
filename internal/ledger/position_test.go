package ledger

import (
	"math"
	"testing"

	"kalshi-edge/pkg/types"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func trade(side types.Side, dir types.Direction, size int, price float64) types.Trade {
	return types.Trade{MarketID: "MKT", Side: side, Direction: dir, Size: size, Price: price}
}

func TestApply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		trades       []types.Trade
		wantSize     int
		wantAvg      float64
		wantRealized float64
	}{
		{
			name:     "open",
			trades:   []types.Trade{trade(types.SideYes, types.Buy, 10, 0.20)},
			wantSize: 10, wantAvg: 0.20,
		},
		{
			name: "extend blends average",
			trades: []types.Trade{
				trade(types.SideYes, types.Buy, 10, 0.50),
				trade(types.SideYes, types.Buy, 10, 0.60),
			},
			wantSize: 20, wantAvg: 0.55,
		},
		{
			name: "round trip yes",
			trades: []types.Trade{
				trade(types.SideYes, types.Buy, 10, 0.20),
				trade(types.SideYes, types.Sell, 10, 0.90),
			},
			wantSize: 0, wantAvg: 0.20, wantRealized: 7.0,
		},
		{
			name: "partial close keeps average",
			trades: []types.Trade{
				trade(types.SideYes, types.Buy, 10, 0.40),
				trade(types.SideYes, types.Sell, 4, 0.50),
			},
			wantSize: 6, wantAvg: 0.40, wantRealized: 0.4,
		},
		{
			name: "flip opens at trade price",
			trades: []types.Trade{
				trade(types.SideYes, types.Buy, 5, 0.40),
				trade(types.SideYes, types.Sell, 8, 0.30),
			},
			wantSize: -3, wantAvg: 0.30, wantRealized: -0.5,
		},
		{
			name: "short yes covered",
			trades: []types.Trade{
				trade(types.SideYes, types.Sell, 5, 0.60),
				trade(types.SideYes, types.Buy, 5, 0.40),
			},
			wantSize: 0, wantAvg: 0.60, wantRealized: 1.0,
		},
		{
			name: "long no gains when yes falls",
			trades: []types.Trade{
				trade(types.SideNo, types.Buy, 10, 0.80),
				trade(types.SideNo, types.Sell, 10, 0.50),
			},
			wantSize: 0, wantAvg: 0.80, wantRealized: 3.0,
		},
		{
			name: "realized accumulates",
			trades: []types.Trade{
				trade(types.SideYes, types.Buy, 10, 0.20),
				trade(types.SideYes, types.Sell, 5, 0.40),
				trade(types.SideYes, types.Sell, 5, 0.30),
			},
			wantSize: 0, wantAvg: 0.20, wantRealized: 1.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var pos types.Position
			for _, tr := range tt.trades {
				pos, _ = Apply(pos, tr)
			}
			if pos.Size != tt.wantSize {
				t.Errorf("Size = %d, want %d", pos.Size, tt.wantSize)
			}
			if !near(pos.AvgPrice, tt.wantAvg) {
				t.Errorf("AvgPrice = %v, want %v", pos.AvgPrice, tt.wantAvg)
			}
			if !near(pos.RealizedPnL, tt.wantRealized) {
				t.Errorf("RealizedPnL = %v, want %v", pos.RealizedPnL, tt.wantRealized)
			}
		})
	}
}

func TestApplyReturnsTradeRealized(t *testing.T) {
	t.Parallel()
	pos := types.Position{MarketID: "MKT", Side: types.SideYes, Size: 10, AvgPrice: 0.2, RealizedPnL: 5}
	next, realized := Apply(pos, trade(types.SideYes, types.Sell, 10, 0.9))
	if !near(realized, 7) {
		t.Errorf("realized = %v, want 7", realized)
	}
	if !near(next.RealizedPnL, 12) {
		t.Errorf("RealizedPnL = %v, want 12", next.RealizedPnL)
	}
}

func TestUnrealized(t *testing.T) {
	t.Parallel()
	yes := types.Position{Side: types.SideYes, Size: 10, AvgPrice: 0.2}
	if got := Unrealized(yes, 0.5); !near(got, 3) {
		t.Errorf("yes unrealized = %v, want 3", got)
	}
	no := types.Position{Side: types.SideNo, Size: 10, AvgPrice: 0.8}
	if got := Unrealized(no, 0.9); !near(got, -1) {
		t.Errorf("no unrealized = %v, want -1", got)
	}
}
