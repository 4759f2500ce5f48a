// Package strategy turns calibrated prices into trade signals.
//
// For every market with a latest mid price the generator estimates the true
// YES probability from the newest extreme-binned calibration, gates the
// market on its expiry, and runs the eligibility rules:
//
//   - inplay:           sports markets in their final minutes, YES in the band
//   - college_longshot: college long shots with time left, YES side
//   - pro_longshot:     professional sports long shots, YES side
//   - primary:          the high-probability band, NO preferred
//
// The first rule that admits a side with EV at or above the threshold
// produces a pending signal of size 1. Sizing happens at execution.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"kalshi-edge/internal/calibration"
	"kalshi-edge/internal/config"
	"kalshi-edge/internal/metrics"
	"kalshi-edge/internal/store"
	"kalshi-edge/pkg/types"
)

// Generator emits pending signals from the latest prices.
type Generator struct {
	cfg    config.SignalConfig
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewGenerator creates a signal generator.
func NewGenerator(cfg config.SignalConfig, s store.Store, logger *slog.Logger) *Generator {
	return &Generator{
		cfg:    cfg,
		store:  s,
		logger: logger.With("component", "generator"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Generate evaluates every priced market and inserts the admitted signals,
// stopping at MaxSignals. Signals already open for the same market are not
// checked; repeated cycles may emit duplicates.
func (g *Generator) Generate(ctx context.Context) ([]types.Signal, error) {
	now := g.now()
	est := g.estimator(ctx)

	latest, err := g.store.LatestPrices(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest prices: %w", err)
	}
	ids := make([]string, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	markets, err := g.store.GetMarkets(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("market metadata: %w", err)
	}

	var created []types.Signal
	for _, id := range ids {
		if len(created) >= g.cfg.MaxSignals {
			break
		}

		p, ok := latest[id].Mid()
		if !ok {
			g.logger.Debug("no mid price", "market", id)
			continue
		}
		m, ok := markets[id]
		if !ok || m.Resolved() {
			continue
		}
		expiry, ok := g.effectiveExpiry(m, now)
		if !ok {
			g.logger.Debug("expiry outside window", "market", id, "expiration", m.ExpirationTS)
			continue
		}

		c := candidate{market: m, p: p, pTrue: est.PTrue(p), remaining: expiry.Sub(now)}
		adm, ok := evaluate(g.cfg, c)
		if !ok {
			continue
		}

		sig := types.Signal{
			MarketTicker:  id,
			Side:          adm.side,
			Rule:          adm.rule,
			Threshold:     types.Ptr(p),
			Category:      m.Category,
			ExpiryBucket:  types.ExpiryBucketFor(m.ExpirationTS, now),
			PMkt:          p,
			PTrueEst:      c.pTrue,
			ExpectedValue: adm.ev,
			Size:          1,
			Status:        types.StatusPending,
		}
		if err := g.store.InsertSignal(ctx, &sig); err != nil {
			return created, fmt.Errorf("insert signal for %s: %w", id, err)
		}
		metrics.SignalsGenerated.WithLabelValues(adm.rule, string(adm.side)).Inc()
		created = append(created, sig)
	}

	g.logger.Info("signals generated", "created", len(created), "markets", len(ids))
	return created, nil
}

// estimator loads the latest extreme calibration, degrading to identity.
func (g *Generator) estimator(ctx context.Context) calibration.Estimator {
	res, err := g.store.LatestCalibrationResult(ctx, calibration.ModeExtreme)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			g.logger.Warn("load calibration failed, using identity", "error", err)
		} else {
			g.logger.Warn("no calibration cached, using identity p_true = p_mkt")
		}
		return calibration.Identity{}
	}
	est, err := calibration.NewEstimator(res.Buckets)
	if err != nil {
		g.logger.Warn("calibration has no defined buckets, using identity", "id", res.ID)
		return calibration.Identity{}
	}
	return est
}

// effectiveExpiry gates m on its expiration and, for sports markets carrying
// a game date, narrows it to the end of the game day.
func (g *Generator) effectiveExpiry(m types.Market, now time.Time) (time.Time, bool) {
	if m.ExpirationTS == nil {
		return time.Time{}, false
	}
	exp := *m.ExpirationTS
	cutoff := now.Add(g.cfg.ExpiryWindow)
	if exp.Before(now) || exp.After(cutoff) {
		return time.Time{}, false
	}

	if !isSports(m.Category, m.MarketID) {
		return exp, true
	}
	day, ok := ParseGameDate(m.MarketID)
	if !ok {
		day, ok = ParseGameDate(m.Name)
	}
	if !ok {
		return exp, true
	}
	gameEnd := day.Add(24 * time.Hour)
	if gameEnd.Before(now) || day.After(cutoff) {
		return time.Time{}, false
	}
	if gameEnd.Before(exp) {
		exp = gameEnd
	}
	return exp, true
}
