package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kalshi-edge/internal/api"
	"kalshi-edge/internal/config"
	"kalshi-edge/internal/exchange"
	"kalshi-edge/internal/ledger"
	"kalshi-edge/internal/metrics"
	"kalshi-edge/internal/store"
	"kalshi-edge/internal/strategy"
	"kalshi-edge/pkg/types"
)

// Exit reasons.
const (
	ExitTakeProfit  = "take_profit"
	ExitCollegeFast = "college_fast_exit"
)

// ExitEngine closes open positions whose market has moved far enough in
// their favour before expiry.
type ExitEngine struct {
	cfg    config.ExitConfig
	mode   types.ExecutionMode
	store  store.Store
	ledger *ledger.Ledger
	venue  Venue
	emit   func(api.DashboardEvent)
	logger *slog.Logger
	now    func() time.Time
}

// NewExitEngine creates an exit engine. venue may be nil in simulate mode.
func NewExitEngine(cfg config.ExitConfig, mode types.ExecutionMode, s store.Store, l *ledger.Ledger, venue Venue, logger *slog.Logger) *ExitEngine {
	return &ExitEngine{
		cfg:    cfg,
		mode:   mode,
		store:  s,
		ledger: l,
		venue:  venue,
		emit:   func(api.DashboardEvent) {},
		logger: logger.With("component", "exits"),
		now:    time.Now,
	}
}

// exitReason decides whether a position should be closed at current, the
// latest YES mid. YES positions take profit when the price has multiplied by
// the configured factor; NO positions when it has divided by it. College
// longshots bought near zero exit as soon as the price reaches the fast exit
// level, which is checked first.
func exitReason(cfg config.ExitConfig, p types.Position, category string, current float64) (string, bool) {
	if p.Side == types.SideYes && strategy.IsCollege(category) &&
		p.AvgPrice <= cfg.CollegeEntryMax && current >= cfg.CollegeExitPrice {
		return ExitCollegeFast, true
	}
	if p.AvgPrice > 0 && cfg.TakeProfitFactor > 0 {
		switch p.Side {
		case types.SideYes:
			if current >= p.AvgPrice*cfg.TakeProfitFactor {
				return ExitTakeProfit, true
			}
		case types.SideNo:
			if current <= p.AvgPrice/cfg.TakeProfitFactor {
				return ExitTakeProfit, true
			}
		}
	}
	return "", false
}

// Run checks every long position expiring within the exit window and sells
// the ones that meet an exit rule. It shares the execution lease with the
// executor and reports Skipped when the lease is held.
func (x *ExitEngine) Run(ctx context.Context) (types.ExitReport, error) {
	var rep types.ExitReport

	release, err := x.store.AcquireExecutionLease(ctx)
	if errors.Is(err, store.ErrLeaseHeld) {
		x.logger.Info("exit pass skipped, lease held")
		rep.Skipped = true
		return rep, nil
	}
	if err != nil {
		return rep, fmt.Errorf("acquire execution lease: %w", err)
	}
	defer release()

	positions, err := x.store.ListPositions(ctx)
	if err != nil {
		return rep, fmt.Errorf("list positions: %w", err)
	}
	var open []types.Position
	ids := make([]string, 0, len(positions))
	for _, p := range positions {
		if p.Size > 0 {
			open = append(open, p)
			ids = append(ids, p.MarketID)
		}
	}
	if len(open) == 0 {
		return rep, nil
	}

	markets, err := x.store.GetMarkets(ctx, ids)
	if err != nil {
		return rep, fmt.Errorf("load markets: %w", err)
	}
	latest, err := x.store.LatestPrices(ctx)
	if err != nil {
		return rep, fmt.Errorf("load latest prices: %w", err)
	}

	now := x.now()
	horizon := now.Add(x.cfg.Window)
	for _, p := range open {
		if ctx.Err() != nil {
			break
		}
		m, ok := markets[p.MarketID]
		if !ok || m.Resolved() || m.ExpirationTS == nil {
			continue
		}
		if m.ExpirationTS.Before(now) || m.ExpirationTS.After(horizon) {
			continue
		}
		snap, ok := latest[p.MarketID]
		if !ok {
			continue
		}
		mid, ok := snap.Mid()
		if !ok {
			continue
		}
		rep.Checked++

		reason, ok := exitReason(x.cfg, p, m.Category, mid)
		if !ok {
			continue
		}
		booked, err := x.exit(ctx, p, mid, reason, now)
		if err != nil {
			rep.Errored++
			x.logger.Error("exit failed", "market", p.MarketID, "side", p.Side, "reason", reason, "error", err)
			continue
		}
		if !booked {
			rep.Resting++
			continue
		}
		rep.Triggered++
		metrics.ExitsTriggered.WithLabelValues(reason).Inc()
	}

	x.logger.Info("exit pass complete",
		"mode", x.mode,
		"open", len(open),
		"checked", rep.Checked,
		"triggered", rep.Triggered,
		"resting", rep.Resting,
		"errored", rep.Errored,
	)
	return rep, nil
}

// exit sells the whole position. In live mode the order goes to the venue
// and only the filled quantity is booked, at the reported fill price or
// current. An order that filled nothing books nothing and returns false.
func (x *ExitEngine) exit(ctx context.Context, p types.Position, current float64, reason string, now time.Time) (bool, error) {
	price, size := current, p.Size

	if x.mode == types.ModeLive {
		if x.venue == nil {
			return false, errNoVenue
		}
		res, err := x.venue.PlaceOrder(ctx, exchange.OrderRequest{
			Ticker: p.MarketID,
			Side:   p.Side,
			Action: types.Sell,
			Count:  p.Size,
			Price:  current,
		})
		if err != nil {
			return false, fmt.Errorf("place exit order: %w", err)
		}
		partial := res.FillSize != nil && *res.FillSize > 0
		if !res.Filled && !partial {
			x.logger.Info("exit order not filled",
				"market", p.MarketID,
				"side", p.Side,
				"reason", reason,
				"order_id", res.OrderID,
				"status", res.Status,
			)
			return false, nil
		}
		if res.FillPrice != nil {
			price = *res.FillPrice
		}
		if res.FillSize != nil && *res.FillSize > 0 && *res.FillSize < size {
			size = *res.FillSize
		}
	}

	pos, err := x.ledger.Record(ctx, &types.Trade{
		MarketID:   p.MarketID,
		Side:       p.Side,
		Size:       size,
		Price:      price,
		Direction:  types.Sell,
		ExecutedAt: now,
	})
	if err != nil {
		return false, fmt.Errorf("record exit trade: %w", err)
	}

	x.logger.Info("position exited",
		"market", p.MarketID,
		"side", p.Side,
		"reason", reason,
		"size", size,
		"entry", p.AvgPrice,
		"exit", price,
	)
	x.emit(api.DashboardEvent{
		Type:      api.EventExit,
		Timestamp: now,
		MarketID:  p.MarketID,
		Data: api.ExitEvent{
			Reason:      reason,
			Side:        p.Side,
			Size:        size,
			EntryPrice:  p.AvgPrice,
			ExitPrice:   price,
			RealizedPnL: pos.RealizedPnL - p.RealizedPnL,
		},
	})
	return true, nil
}
