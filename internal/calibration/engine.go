package calibration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"kalshi-edge/internal/store"
	"kalshi-edge/pkg/types"
)

// Engine computes calibration curves from resolved markets.
type Engine struct {
	store  store.Store
	logger *slog.Logger
}

// NewEngine creates a calibration engine reading from s.
func NewEngine(s store.Store, logger *slog.Logger) *Engine {
	return &Engine{
		store:  s,
		logger: logger.With("component", "calibration"),
	}
}

// Compute buckets every resolved market by its last mid price at or before
// resolution. Markets without a usable price are skipped. The result is a
// pure function of stored data.
func (e *Engine) Compute(ctx context.Context, b Binning) ([]types.CalibrationBucket, error) {
	if err := validateEdges(b.Edges); err != nil {
		return nil, err
	}

	markets, err := e.store.ListResolvedMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list resolved markets: %w", err)
	}

	buckets := make([]types.CalibrationBucket, len(b.Edges)-1)
	sums := make([]float64, len(buckets))
	for i := range buckets {
		buckets[i].Low = b.Edges[i]
		buckets[i].High = b.Edges[i+1]
	}

	skipped := 0
	for _, m := range markets {
		snap, err := e.store.PriceAtOrBefore(ctx, m.MarketID, m.ResolvedAt)
		if errors.Is(err, store.ErrNotFound) {
			skipped++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("price for %s: %w", m.MarketID, err)
		}
		p, ok := snap.Mid()
		if !ok {
			skipped++
			continue
		}

		idx := BucketIndex(p, b.Edges)
		buckets[idx].N++
		if *m.Resolution == types.OutcomeYes {
			buckets[idx].NYes++
		}
		sums[idx] += p
	}

	for i := range buckets {
		if n := buckets[i].N; n > 0 {
			avg := sums[i] / float64(n)
			pt := float64(buckets[i].NYes) / float64(n)
			buckets[i].PMktAvg = &avg
			buckets[i].PTrue = &pt
		}
	}

	e.logger.Debug("calibration computed",
		"mode", b.Mode,
		"markets", len(markets),
		"skipped", skipped,
	)
	return buckets, nil
}

// Refresh computes and persists a new calibration result for b.
func (e *Engine) Refresh(ctx context.Context, b Binning) (*types.CalibrationResult, error) {
	buckets, err := e.Compute(ctx, b)
	if err != nil {
		return nil, err
	}
	res := &types.CalibrationResult{
		BinningMode: b.Mode,
		Params:      b.Params(),
		Buckets:     buckets,
	}
	if err := e.store.SaveCalibrationResult(ctx, res); err != nil {
		return nil, fmt.Errorf("save calibration: %w", err)
	}
	e.logger.Info("calibration refreshed", "mode", b.Mode, "id", res.ID, "buckets", len(buckets))
	return res, nil
}
