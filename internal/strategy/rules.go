package strategy

import (
	"time"

	"kalshi-edge/internal/config"
	"kalshi-edge/pkg/types"
)

// Rule names recorded on each signal.
const (
	RulePrimary         = "primary"
	RuleProLongshot     = "pro_longshot"
	RuleCollegeLongshot = "college_longshot"
	RuleInplay          = "inplay"
)

// candidate is one market's evaluation input.
type candidate struct {
	market    types.Market
	p         float64
	pTrue     float64
	remaining time.Duration
}

func (c candidate) evYes() float64 { return c.pTrue - c.p }
func (c candidate) evNo() float64  { return (1 - c.pTrue) - (1 - c.p) }

// admission is the side a rule admitted and its expected value.
type admission struct {
	rule string
	side types.Side
	ev   float64
}

// rule inspects a candidate and admits at most one side.
type rule struct {
	name  string
	admit func(cfg config.SignalConfig, c candidate) (types.Side, float64, bool)
}

// rules are ordered most specific first.
var rules = []rule{
	{RuleInplay, admitInplay},
	{RuleCollegeLongshot, admitCollegeLongshot},
	{RuleProLongshot, admitProLongshot},
	{RulePrimary, admitPrimary},
}

// evaluate returns the first admission, if any.
func evaluate(cfg config.SignalConfig, c candidate) (admission, bool) {
	for _, r := range rules {
		if side, ev, ok := r.admit(cfg, c); ok {
			return admission{rule: r.name, side: side, ev: ev}, true
		}
	}
	return admission{}, false
}

func inBand(cfg config.SignalConfig, p float64) bool {
	return p >= cfg.BandLow && p <= cfg.BandHigh
}

func admitYes(cfg config.SignalConfig, c candidate) (types.Side, float64, bool) {
	if ev := c.evYes(); ev >= cfg.EVThreshold {
		return types.SideYes, ev, true
	}
	return "", 0, false
}

// admitPrimary trades the high-probability band, preferring NO.
func admitPrimary(cfg config.SignalConfig, c candidate) (types.Side, float64, bool) {
	if !inBand(cfg, c.p) {
		return "", 0, false
	}
	if ev := c.evNo(); ev >= cfg.EVThreshold {
		return types.SideNo, ev, true
	}
	return admitYes(cfg, c)
}

func admitProLongshot(cfg config.SignalConfig, c candidate) (types.Side, float64, bool) {
	if !isProSports(c.market.Category) && !hasSportsHint(c.market.MarketID) {
		return "", 0, false
	}
	if c.p > cfg.ProLongshotMax {
		return "", 0, false
	}
	return admitYes(cfg, c)
}

func admitCollegeLongshot(cfg config.SignalConfig, c candidate) (types.Side, float64, bool) {
	if !IsCollege(c.market.Category) || c.p > cfg.CollegeLongshotMax {
		return "", 0, false
	}
	if c.remaining < cfg.CollegeMinRemaining {
		return "", 0, false
	}
	return admitYes(cfg, c)
}

func admitInplay(cfg config.SignalConfig, c candidate) (types.Side, float64, bool) {
	if !isSports(c.market.Category, c.market.MarketID) {
		return "", 0, false
	}
	if c.remaining > cfg.InplayMaxRemaining || !inBand(cfg, c.p) {
		return "", 0, false
	}
	return admitYes(cfg, c)
}
