package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"kalshi-edge/internal/config"
	"kalshi-edge/pkg/types"
)

// Cap names a breached limit.
type Cap string

const (
	CapPerTrade  Cap = "per-trade"
	CapPerMarket Cap = "per-market"
	CapTotal     Cap = "total"
)

// LimitError reports which cap a sized order would breach and by how much.
type LimitError struct {
	Cap   Cap
	Risk  float64
	Limit float64
}

func (e *LimitError) Error() string {
	switch e.Cap {
	case CapPerTrade:
		return fmt.Sprintf("risk per trade %.2f exceeds limit %.2f", e.Risk, e.Limit)
	case CapPerMarket:
		return fmt.Sprintf("per-market risk %.2f exceeds limit %.2f", e.Risk, e.Limit)
	default:
		return fmt.Sprintf("total risk %.2f exceeds limit %.2f", e.Risk, e.Limit)
	}
}

// Sizing is the outcome of sizing one trade.
type Sizing struct {
	Size            int
	RiskPerContract float64
	// BindingCap is the smallest of the per-trade, bankroll-fraction,
	// per-market headroom and total headroom limits.
	BindingCap float64
	RiskUSD    float64
}

// Sizer converts a signal's price into a contract count.
type Sizer struct {
	cfg config.RiskConfig
}

// NewSizer creates a sizer for the given limits.
func NewSizer(cfg config.RiskConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// Size computes how many contracts of side at price fit under every cap given
// bankroll and the committed exposure. A zero Size is a no-trade outcome.
func (s *Sizer) Size(side types.Side, price, bankroll float64, marketID string, exp *Exposure) Sizing {
	rpc := riskPerContract(side, price)
	out := Sizing{RiskPerContract: rpc.InexactFloat64()}
	if !rpc.IsPositive() {
		return out
	}

	binding := decimal.Min(
		decimal.NewFromFloat(s.cfg.MaxPerTradeUSD),
		decimal.NewFromFloat(bankroll).Mul(decimal.NewFromFloat(s.cfg.MaxRiskFraction)),
		decimal.NewFromFloat(s.cfg.MaxPerMarketUSD).Sub(exp.perMarket[marketID]),
		decimal.NewFromFloat(s.cfg.MaxTotalUSD).Sub(exp.total),
	)
	out.BindingCap = binding.InexactFloat64()
	if !binding.IsPositive() {
		return out
	}

	target := decimal.Min(decimal.NewFromFloat(s.cfg.TargetRiskUSD), binding)
	size := target.Div(rpc).Ceil()
	if size.Mul(rpc).GreaterThan(binding) {
		size = size.Sub(decimal.NewFromInt(1))
	}
	if maxContracts := decimal.NewFromInt(int64(s.cfg.MaxContracts)); s.cfg.MaxContracts > 0 && size.GreaterThan(maxContracts) {
		size = maxContracts
	}
	if size.IsNegative() {
		size = decimal.Zero
	}

	out.Size = int(size.IntPart())
	out.RiskUSD = size.Mul(rpc).InexactFloat64()
	return out
}

// Check re-verifies a sized order against the flat caps. It returns a
// *LimitError naming the first breached cap.
func (s *Sizer) Check(side types.Side, price float64, size int, marketID string, exp *Exposure) error {
	risk := decimal.NewFromFloat(RiskUSD(side, price, size))

	if limit := decimal.NewFromFloat(s.cfg.MaxPerTradeUSD); risk.GreaterThan(limit) {
		return &LimitError{Cap: CapPerTrade, Risk: risk.InexactFloat64(), Limit: s.cfg.MaxPerTradeUSD}
	}
	market := exp.perMarket[marketID].Add(risk)
	if limit := decimal.NewFromFloat(s.cfg.MaxPerMarketUSD); market.GreaterThan(limit) {
		return &LimitError{Cap: CapPerMarket, Risk: market.InexactFloat64(), Limit: s.cfg.MaxPerMarketUSD}
	}
	total := exp.total.Add(risk)
	if limit := decimal.NewFromFloat(s.cfg.MaxTotalUSD); total.GreaterThan(limit) {
		return &LimitError{Cap: CapTotal, Risk: total.InexactFloat64(), Limit: s.cfg.MaxTotalUSD}
	}
	return nil
}
