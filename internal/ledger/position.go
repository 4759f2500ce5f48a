package ledger

import (
	"github.com/shopspring/decimal"

	"kalshi-edge/pkg/types"
)

// Apply folds one trade into the position for its (market, side) and returns
// the new position with the PnL the trade realized.
//
// A trade in the position's direction (or on a flat position) extends it at
// the volume-weighted average price. A trade against it closes up to the held
// size, realizing PnL on the closed contracts; any excess opens a position in
// the opposite direction at the trade price. The average price is left alone
// on partial closes.
func Apply(prev types.Position, t types.Trade) (types.Position, float64) {
	next := prev
	next.MarketID = t.MarketID
	next.Side = t.Side

	sizePrev := int64(prev.Size)
	delta := int64(t.SignedSize())
	avg := decimal.NewFromFloat(prev.AvgPrice)
	price := decimal.NewFromFloat(t.Price)

	if (sizePrev >= 0 && delta >= 0) || (sizePrev <= 0 && delta <= 0) {
		held, added := abs(sizePrev), abs(delta)
		if denom := held + added; denom > 0 {
			cost := avg.Mul(decimal.NewFromInt(held)).Add(price.Mul(decimal.NewFromInt(added)))
			next.AvgPrice = cost.Div(decimal.NewFromInt(denom)).InexactFloat64()
		}
		next.Size = int(sizePrev + delta)
		return next, 0
	}

	closing := decimal.NewFromInt(min(abs(sizePrev), abs(delta)))
	realized := closeProfit(t.Side, sizePrev > 0, avg, price).Mul(closing)

	if abs(delta) > abs(sizePrev) {
		remaining := abs(delta) - abs(sizePrev)
		if delta < 0 {
			remaining = -remaining
		}
		next.Size = int(remaining)
		next.AvgPrice = t.Price
	} else {
		next.Size = int(sizePrev + delta)
	}

	r := realized.InexactFloat64()
	next.RealizedPnL = decimal.NewFromFloat(prev.RealizedPnL).Add(realized).InexactFloat64()
	return next, r
}

// closeProfit is the per-contract PnL of closing at price a position opened
// at avg. Prices are YES-equivalent, so a long NO gains when the YES price
// falls.
func closeProfit(side types.Side, long bool, avg, price decimal.Decimal) decimal.Decimal {
	move := price.Sub(avg)
	if side == types.SideNo {
		move = move.Neg()
	}
	if !long {
		move = move.Neg()
	}
	return move
}

// Unrealized marks a position to mid.
func Unrealized(p types.Position, mid float64) float64 {
	size := decimal.NewFromInt(int64(p.Size))
	move := decimal.NewFromFloat(mid).Sub(decimal.NewFromFloat(p.AvgPrice))
	if p.Side == types.SideNo {
		move = move.Neg()
	}
	return move.Mul(size).InexactFloat64()
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
