package risk

import (
	"github.com/shopspring/decimal"

	"kalshi-edge/pkg/types"
)

// NormalizePrice interprets values above 1 as cents and clamps negatives to 0.
func NormalizePrice(p float64) float64 {
	if p > 1 {
		p /= 100
	}
	if p < 0 {
		return 0
	}
	return p
}

// riskPerContract is p for YES and 1-p for NO, computed exactly.
func riskPerContract(side types.Side, price float64) decimal.Decimal {
	p := decimal.NewFromFloat(NormalizePrice(price))
	if side == types.SideNo {
		return decimal.NewFromInt(1).Sub(p)
	}
	return p
}

// RiskUSD is the amount lost if size contracts of side bought at price lose.
func RiskUSD(side types.Side, price float64, size int) float64 {
	if size < 0 {
		size = -size
	}
	return riskPerContract(side, price).Mul(decimal.NewFromInt(int64(size))).InexactFloat64()
}

// Exposure is the committed at-risk USD, totalled and per market. It is not
// safe for concurrent use; an execution pass owns its copy.
type Exposure struct {
	total     decimal.Decimal
	perMarket map[string]decimal.Decimal
}

// NewExposure returns an empty exposure.
func NewExposure() *Exposure {
	return &Exposure{perMarket: make(map[string]decimal.Decimal)}
}

// Add commits usd to marketID.
func (e *Exposure) Add(marketID string, usd float64) {
	d := decimal.NewFromFloat(usd)
	e.total = e.total.Add(d)
	e.perMarket[marketID] = e.perMarket[marketID].Add(d)
}

// AddSignals commits every open signal at its observed price and size.
func (e *Exposure) AddSignals(signals []types.Signal) {
	for _, s := range signals {
		if !s.Status.IsOpen() {
			continue
		}
		e.Add(s.MarketTicker, RiskUSD(s.Side, s.PMkt, s.Size))
	}
}

// AddPosition commits an open position at its average entry price.
func (e *Exposure) AddPosition(p types.Position) {
	if p.Size == 0 {
		return
	}
	e.Add(p.MarketID, RiskUSD(p.Side, p.AvgPrice, p.Size))
}

// Total returns the exposure across all markets.
func (e *Exposure) Total() float64 {
	return e.total.InexactFloat64()
}

// Market returns the exposure in one market.
func (e *Exposure) Market(marketID string) float64 {
	return e.perMarket[marketID].InexactFloat64()
}

// PerMarket returns a copy of the per-market breakdown.
func (e *Exposure) PerMarket() map[string]float64 {
	out := make(map[string]float64, len(e.perMarket))
	for k, v := range e.perMarket {
		out[k] = v.InexactFloat64()
	}
	return out
}
