// Package market pulls Kalshi markets and candlesticks into the store.
//
// Two modes exist. Backfill walks every settled market and loads its full
// candle history from the configured start. Recent refreshes open markets
// plus those settled inside the lookback window and loads only the window's
// candles. Both are idempotent: markets upsert (resolved rows never change)
// and prices dedup on (market, timestamp).
package market

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kalshi-edge/internal/config"
	"kalshi-edge/internal/exchange"
	"kalshi-edge/internal/metrics"
	"kalshi-edge/internal/store"
	"kalshi-edge/pkg/types"
)

// CandlePeriod is the candle width requested from the venue, in minutes.
const CandlePeriod = 1

// defaultBackfillSpan bounds history for markets without an open time when
// no backfill start is configured.
const defaultBackfillSpan = 7 * 24 * time.Hour

// Source is the market-data half of the venue client.
type Source interface {
	ListMarkets(ctx context.Context, q exchange.MarketsQuery) ([]types.KalshiMarket, error)
	Candlesticks(ctx context.Context, series, ticker string, start, end time.Time, periodMinutes int) ([]types.Candlestick, error)
}

// Stats summarises one ingest run.
type Stats struct {
	Markets int `json:"markets"`
	Prices  int `json:"prices"`
	Failed  int `json:"failed"`
}

// Ingester loads venue data into the store.
type Ingester struct {
	src    Source
	store  store.Store
	cfg    config.KalshiConfig
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	cursor int // rotation offset into the recent-ingest targets
}

// NewIngester creates an ingester reading from src.
func NewIngester(src Source, s store.Store, cfg config.KalshiConfig, logger *slog.Logger) *Ingester {
	return &Ingester{
		src:    src,
		store:  s,
		cfg:    cfg,
		logger: logger.With("component", "ingest"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Backfill loads settled markets and their candle history. maxMarkets <= 0
// means no limit.
func (i *Ingester) Backfill(ctx context.Context, maxMarkets int) (Stats, error) {
	var st Stats
	raw, err := i.src.ListMarkets(ctx, exchange.MarketsQuery{Status: "settled"})
	if err != nil {
		return st, fmt.Errorf("list settled markets: %w", err)
	}

	now := i.now()
	for _, km := range raw {
		if maxMarkets > 0 && st.Markets >= maxMarkets {
			break
		}
		m, ok := i.upsert(ctx, km, &st)
		if !ok {
			continue
		}

		start, end := i.backfillRange(m, now)
		n, err := i.loadCandles(ctx, m.SeriesTicker, m.MarketID, start, end)
		if err != nil {
			st.Failed++
			i.logger.Warn("candles failed", "market", m.MarketID, "error", err)
			continue
		}
		st.Prices += n
		if n > 0 {
			i.logger.Debug("market backfilled", "market", m.MarketID, "prices", n)
		}
	}

	i.logger.Info("backfill complete", "markets", st.Markets, "prices", st.Prices, "failed", st.Failed)
	return st, ctx.Err()
}

func (i *Ingester) backfillRange(m types.Market, now time.Time) (time.Time, time.Time) {
	end := now
	if m.ResolvedAt != nil && m.ResolvedAt.Before(now) {
		end = *m.ResolvedAt
	}
	switch {
	case i.cfg.BackfillStartTS > 0:
		return time.Unix(i.cfg.BackfillStartTS, 0).UTC(), end
	case m.CreatedAt != nil:
		return *m.CreatedAt, end
	default:
		return end.Add(-defaultBackfillSpan), end
	}
}

// Recent refreshes open markets and markets settled within lookback, then
// loads the window's candles for up to maxMarkets ingest targets (0 means
// all). When capped, successive calls rotate through the targets.
func (i *Ingester) Recent(ctx context.Context, lookback time.Duration, maxMarkets int) (Stats, error) {
	var st Stats
	now := i.now()
	cutoff := now.Add(-lookback)

	series := make(map[string]string)
	queries := []exchange.MarketsQuery{
		{Status: "open"},
		{Status: "settled", MinCloseTS: cutoff.Unix()},
	}
	for _, q := range queries {
		raw, err := i.src.ListMarkets(ctx, q)
		if err != nil {
			return st, fmt.Errorf("list %s markets: %w", q.Status, err)
		}
		for _, km := range raw {
			if m, ok := i.upsert(ctx, km, &st); ok {
				series[m.MarketID] = m.SeriesTicker
			}
		}
	}

	all, err := i.store.ListIngestTargets(ctx, cutoff)
	if err != nil {
		return st, fmt.Errorf("ingest targets: %w", err)
	}
	targets := i.nextBatch(all, maxMarkets)
	for _, m := range targets {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		s := series[m.MarketID]
		if s == "" {
			s = m.SeriesTicker
		}
		if s == "" {
			s = SeriesFromTicker(m.MarketID)
		}
		n, err := i.loadCandles(ctx, s, m.MarketID, cutoff, now)
		if err != nil {
			st.Failed++
			i.logger.Warn("recent candles failed", "market", m.MarketID, "error", err)
			continue
		}
		st.Prices += n
	}

	i.logger.Info("recent ingest complete",
		"markets", st.Markets,
		"targets", len(targets),
		"eligible", len(all),
		"prices", st.Prices,
		"failed", st.Failed,
	)
	return st, nil
}

// nextBatch returns up to limit targets starting at the rotation cursor.
func (i *Ingester) nextBatch(targets []types.Market, limit int) []types.Market {
	if limit <= 0 || len(targets) <= limit {
		return targets
	}
	i.mu.Lock()
	start := i.cursor % len(targets)
	i.cursor = start + limit
	i.mu.Unlock()

	batch := make([]types.Market, 0, limit)
	for k := 0; k < limit; k++ {
		batch = append(batch, targets[(start+k)%len(targets)])
	}
	return batch
}

func (i *Ingester) upsert(ctx context.Context, km types.KalshiMarket, st *Stats) (types.Market, bool) {
	m, ok := NormalizeMarket(km)
	if !ok {
		i.logger.Debug("skipping market without ticker", "event", km.EventTicker)
		return m, false
	}
	if err := i.store.UpsertMarket(ctx, m); err != nil {
		st.Failed++
		i.logger.Warn("upsert market failed", "market", m.MarketID, "error", err)
		return m, false
	}
	st.Markets++
	return m, true
}

func (i *Ingester) loadCandles(ctx context.Context, series, ticker string, start, end time.Time) (int, error) {
	candles, err := i.src.Candlesticks(ctx, series, ticker, start, end, CandlePeriod)
	if err != nil {
		return 0, err
	}
	prices := make([]types.PriceSnapshot, 0, len(candles))
	for _, c := range candles {
		if snap, ok := NormalizeCandle(ticker, c); ok {
			prices = append(prices, snap)
		}
	}
	if len(prices) == 0 {
		return 0, nil
	}
	n, err := i.store.InsertPrices(ctx, prices)
	if err != nil {
		return 0, fmt.Errorf("insert prices: %w", err)
	}
	metrics.PricesIngested.Add(float64(n))
	return n, nil
}
