package market

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"kalshi-edge/internal/store"
	"kalshi-edge/pkg/types"
)

type sampleMarket struct {
	id, name, category string
	resolution         types.Outcome
	start              float64
	deltas             []float64
}

// sampleMarkets are short synthetic paths for local runs. MKT001 ramps
// through 0.90 before resolving YES; MKT005 stays flat.
var sampleMarkets = []sampleMarket{
	{"MKT001", "Election odds surge", "politics", types.OutcomeYes, 0.60, []float64{0.05, 0.07, 0.08, 0.07, 0.05}},
	{"MKT002", "Policy fails to pass", "politics", types.OutcomeNo, 0.65, []float64{0.02, 0.01, 0.00, -0.05, -0.10, -0.13}},
	{"MKT003", "Sports upset", "sports", types.OutcomeYes, 0.40, []float64{0.03, 0.03, 0.03, 0.03, 0.03, 0.03, 0.03, 0.03, 0.03, 0.03}},
	{"MKT004", "Weather event", "weather", types.OutcomeNo, 0.55, []float64{-0.15, -0.10, 0.02, 0.01, -0.05}},
	{"MKT005", "Economic indicator", "economics", types.OutcomeYes, 0.50, []float64{0, 0, 0, 0, 0}},
}

// samplePriceStep is the spacing between synthetic snapshots.
const samplePriceStep = 5 * time.Minute

// SeedSample loads five resolved demo markets with synthetic price paths
// starting at now. Existing markets and snapshots are left untouched, so
// seeding twice inserts nothing new.
func SeedSample(ctx context.Context, s store.Store, now time.Time) (markets, prices int, err error) {
	ids := make([]string, len(sampleMarkets))
	for i, sm := range sampleMarkets {
		ids[i] = sm.id
	}
	existing, err := s.GetMarkets(ctx, ids)
	if err != nil {
		return 0, 0, fmt.Errorf("existing sample markets: %w", err)
	}

	resolvedAt := now.Add(time.Hour)
	for _, sm := range sampleMarkets {
		if _, ok := existing[sm.id]; !ok {
			m := types.Market{
				MarketID:   sm.id,
				Name:       sm.name,
				Category:   sm.category,
				Resolution: types.Ptr(sm.resolution),
				ResolvedAt: &resolvedAt,
				CreatedAt:  &now,
			}
			if err := s.UpsertMarket(ctx, m); err != nil {
				return markets, prices, fmt.Errorf("seed market %s: %w", sm.id, err)
			}
			markets++
		}

		n, err := s.InsertPrices(ctx, pricePath(sm, now))
		if err != nil {
			return markets, prices, fmt.Errorf("seed prices %s: %w", sm.id, err)
		}
		prices += n
	}
	return markets, prices, nil
}

// pricePath walks start by deltas, clamping to [0.01, 0.99] and quoting
// two cents either side.
func pricePath(sm sampleMarket, start time.Time) []types.PriceSnapshot {
	lo, hi := decimal.RequireFromString("0.01"), decimal.RequireFromString("0.99")
	spread := decimal.RequireFromString("0.02")

	price := decimal.NewFromFloat(sm.start)
	out := make([]types.PriceSnapshot, 0, len(sm.deltas))
	for i, d := range sm.deltas {
		price = decimal.Min(hi, decimal.Max(lo, price.Add(decimal.NewFromFloat(d)))).Round(2)
		bid := decimal.Max(lo, price.Sub(spread))
		ask := decimal.Min(hi, price.Add(spread))
		out = append(out, types.PriceSnapshot{
			MarketID:     sm.id,
			Timestamp:    start.Add(time.Duration(i) * samplePriceStep),
			BidYes:       types.Ptr(bid.InexactFloat64()),
			AskYes:       types.Ptr(ask.InexactFloat64()),
			LastYes:      types.Ptr(price.InexactFloat64()),
			OpenInterest: types.Ptr(50.0),
		})
	}
	return out
}
