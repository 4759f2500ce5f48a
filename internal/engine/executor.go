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
	"kalshi-edge/internal/risk"
	"kalshi-edge/internal/store"
	"kalshi-edge/pkg/types"
)

const staleCancelReason = "auto-cancelled stale signal"

// Venue places orders on the exchange. *exchange.Client satisfies it.
type Venue interface {
	PlaceOrder(ctx context.Context, r exchange.OrderRequest) (*types.OrderResult, error)
}

var errNoVenue = errors.New("live mode without a configured venue")

// Executor sizes pending signals and either simulates them or sends them to
// the venue. Passes are serialized by the store's execution lease.
type Executor struct {
	cfg    config.ExecutionConfig
	mode   types.ExecutionMode
	store  store.Store
	risk   *risk.Manager
	sizer  *risk.Sizer
	ledger *ledger.Ledger
	venue  Venue
	emit   func(api.DashboardEvent)
	logger *slog.Logger
	now    func() time.Time
}

// NewExecutor creates an executor. venue may be nil in simulate mode.
func NewExecutor(
	cfg config.ExecutionConfig,
	s store.Store,
	rm *risk.Manager,
	sizer *risk.Sizer,
	l *ledger.Ledger,
	venue Venue,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		cfg:    cfg,
		mode:   cfg.ExecutionMode(),
		store:  s,
		risk:   rm,
		sizer:  sizer,
		ledger: l,
		venue:  venue,
		emit:   func(api.DashboardEvent) {},
		logger: logger.With("component", "executor"),
		now:    time.Now,
	}
}

// Mode returns the execution mode the executor dispatches in.
func (e *Executor) Mode() types.ExecutionMode {
	return e.mode
}

// ExecutePending processes up to limit pending signals, oldest first. A
// non-positive limit uses the configured batch limit. When another pass holds
// the lease the call returns a Skipped report and no error.
func (e *Executor) ExecutePending(ctx context.Context, limit int) (types.ExecutionReport, error) {
	var rep types.ExecutionReport
	if limit <= 0 {
		limit = e.cfg.BatchLimit
	}

	release, err := e.store.AcquireExecutionLease(ctx)
	if errors.Is(err, store.ErrLeaseHeld) {
		e.logger.Info("execution pass skipped, lease held")
		rep.Skipped = true
		return rep, nil
	}
	if err != nil {
		return rep, fmt.Errorf("acquire execution lease: %w", err)
	}
	defer release()

	if e.cfg.StaleSignalAge > 0 {
		cutoff := e.now().Add(-e.cfg.StaleSignalAge)
		n, err := e.store.CancelOpenSignals(ctx, staleCancelReason, &cutoff)
		if err != nil {
			return rep, fmt.Errorf("cancel stale signals: %w", err)
		}
		if n > 0 {
			e.logger.Info("stale signals cancelled", "count", n, "older_than", cutoff)
			metrics.SignalOutcomes.WithLabelValues(string(types.StatusCancelled)).Add(float64(n))
		}
		rep.StaleCancelled = n
	}

	pending, err := e.store.PendingSignals(ctx, limit)
	if err != nil {
		return rep, fmt.Errorf("load pending signals: %w", err)
	}
	if len(pending) == 0 {
		return rep, nil
	}

	exp, err := e.risk.Exposure(ctx)
	if err != nil {
		return rep, fmt.Errorf("load exposure: %w", err)
	}
	// The batch itself is still pending and already counted in exposure.
	// Each signal re-adds its sized risk once it is dispatched.
	for _, sig := range pending {
		exp.Add(sig.MarketTicker, -risk.RiskUSD(sig.Side, sig.PMkt, sig.Size))
	}

	bankroll, err := e.ledger.Bankroll(ctx)
	if err != nil {
		return rep, fmt.Errorf("load bankroll: %w", err)
	}

	for _, sig := range pending {
		if ctx.Err() != nil {
			break
		}
		status, err := e.execute(ctx, sig, bankroll, exp)
		if err != nil {
			metrics.ExposureUSD.Set(exp.Total())
			return rep, fmt.Errorf("signal %d: %w", sig.ID, err)
		}
		if status == "" {
			continue
		}
		rep.Processed++
		metrics.SignalOutcomes.WithLabelValues(string(status)).Inc()
		switch status {
		case types.StatusSimulated:
			rep.Simulated++
		case types.StatusSent:
			rep.Sent++
		case types.StatusFilled:
			rep.Filled++
		case types.StatusIgnored:
			rep.Ignored++
		case types.StatusError:
			rep.Errored++
		case types.StatusCancelled:
			rep.Cancelled++
		}
	}
	metrics.ExposureUSD.Set(exp.Total())

	e.logger.Info("execution pass complete",
		"mode", e.mode,
		"processed", rep.Processed,
		"simulated", rep.Simulated,
		"sent", rep.Sent,
		"filled", rep.Filled,
		"ignored", rep.Ignored,
		"errored", rep.Errored,
		"cancelled", rep.Cancelled,
		"bankroll", bankroll,
		"exposure", exp.Total(),
	)
	return rep, nil
}

// CancelOpen cancels every pending or sent signal.
func (e *Executor) CancelOpen(ctx context.Context, reason string) (int, error) {
	n, err := e.store.CancelOpenSignals(ctx, reason, nil)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.SignalOutcomes.WithLabelValues(string(types.StatusCancelled)).Add(float64(n))
	}
	e.logger.Info("open signals cancelled", "count", n, "reason", reason)
	return n, nil
}

// execute resolves one signal. The returned status is empty when the signal
// was no longer pending. Errors are storage failures; venue failures are
// recorded on the signal as StatusError.
func (e *Executor) execute(ctx context.Context, sig types.Signal, bankroll float64, exp *risk.Exposure) (types.SignalStatus, error) {
	price := risk.NormalizePrice(sig.PMkt)

	sizing := e.sizer.Size(sig.Side, price, bankroll, sig.MarketTicker, exp)
	if sizing.Size <= 0 {
		reason := fmt.Sprintf("sized to zero contracts (binding cap %.2f, budget left %.2f, risk per contract %.4f)",
			sizing.BindingCap, e.risk.RemainingBudget(exp, sig.MarketTicker), sizing.RiskPerContract)
		return e.finish(ctx, sig, store.SignalUpdate{Status: types.StatusIgnored, LastError: reason}, 0, price, reason)
	}
	if err := e.sizer.Check(sig.Side, price, sizing.Size, sig.MarketTicker, exp); err != nil {
		return e.finish(ctx, sig, store.SignalUpdate{Status: types.StatusIgnored, LastError: err.Error()}, sizing.Size, price, err.Error())
	}

	var (
		status types.SignalStatus
		err    error
	)
	if e.mode == types.ModeLive {
		status, err = e.sendLive(ctx, sig, price, sizing.Size)
	} else {
		status, err = e.simulate(ctx, sig, price, sizing.Size)
	}
	if err != nil || status == "" {
		return status, err
	}

	switch status {
	case types.StatusSimulated, types.StatusSent, types.StatusFilled:
		exp.Add(sig.MarketTicker, sizing.RiskUSD)
	}
	return status, nil
}

func (e *Executor) simulate(ctx context.Context, sig types.Signal, price float64, size int) (types.SignalStatus, error) {
	at := e.now()
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.UpdateSignal(ctx, store.SignalUpdate{
			ID:            sig.ID,
			Status:        types.StatusSimulated,
			Size:          &size,
			ExecutedPrice: &price,
			ExecutedSize:  &size,
			At:            at,
		}); err != nil {
			return err
		}
		_, err := e.ledger.RecordTrade(ctx, tx, &types.Trade{
			SignalID:   &sig.ID,
			MarketID:   sig.MarketTicker,
			Side:       sig.Side,
			Size:       size,
			Price:      price,
			Direction:  types.Buy,
			ExecutedAt: at,
		})
		return err
	})
	if errors.Is(err, store.ErrInvalidTransition) {
		e.logger.Info("signal no longer pending", "signal_id", sig.ID)
		return "", nil
	}
	if err != nil {
		return "", err
	}

	e.logger.Info("signal simulated",
		"signal_id", sig.ID,
		"market", sig.MarketTicker,
		"side", sig.Side,
		"size", size,
		"price", price,
	)
	e.emit(api.NewExecutionEvent(sig, types.StatusSimulated, size, price, "", ""))
	return types.StatusSimulated, nil
}

func (e *Executor) sendLive(ctx context.Context, sig types.Signal, price float64, size int) (types.SignalStatus, error) {
	res, err := e.place(ctx, exchange.OrderRequest{
		Ticker: sig.MarketTicker,
		Side:   sig.Side,
		Action: types.Buy,
		Count:  size,
		Price:  price,
	})
	if err != nil {
		e.logger.Error("order placement failed", "signal_id", sig.ID, "market", sig.MarketTicker, "error", err)
		return e.finish(ctx, sig, store.SignalUpdate{Status: types.StatusError, LastError: err.Error()}, size, price, err.Error())
	}

	at := e.now()
	sent := store.SignalUpdate{ID: sig.ID, Status: types.StatusSent, Size: &size, OrderID: res.OrderID, At: at}
	partial := res.FillSize != nil && *res.FillSize > 0
	switch {
	case res.Filled, partial && res.Status == exchange.OrderCanceled:
	case res.Status == exchange.OrderCanceled:
		reason := "order canceled by venue without a fill"
		return e.finish(ctx, sig, store.SignalUpdate{
			Status:    types.StatusCancelled,
			OrderID:   res.OrderID,
			LastError: reason,
			At:        at,
		}, size, price, reason)
	default:
		return e.finish(ctx, sig, sent, size, price, "")
	}

	fillPrice, fillSize := price, size
	if res.FillPrice != nil {
		fillPrice = *res.FillPrice
	}
	if res.FillSize != nil && *res.FillSize > 0 {
		fillSize = *res.FillSize
	}

	err = e.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.UpdateSignal(ctx, sent); err != nil {
			return err
		}
		if err := tx.UpdateSignal(ctx, store.SignalUpdate{
			ID:            sig.ID,
			Status:        types.StatusFilled,
			ExecutedPrice: &fillPrice,
			ExecutedSize:  &fillSize,
			At:            at,
		}); err != nil {
			return err
		}
		_, err := e.ledger.RecordTrade(ctx, tx, &types.Trade{
			SignalID:   &sig.ID,
			MarketID:   sig.MarketTicker,
			Side:       sig.Side,
			Size:       fillSize,
			Price:      fillPrice,
			Direction:  types.Buy,
			ExecutedAt: at,
		})
		return err
	})
	if errors.Is(err, store.ErrInvalidTransition) {
		// The order is on the venue; the signal was cancelled underneath us.
		e.logger.Warn("filled order for signal no longer pending", "signal_id", sig.ID, "order_id", res.OrderID)
		return "", nil
	}
	if err != nil {
		return "", err
	}

	e.logger.Info("order filled",
		"signal_id", sig.ID,
		"order_id", res.OrderID,
		"market", sig.MarketTicker,
		"side", sig.Side,
		"size", fillSize,
		"price", fillPrice,
	)
	e.emit(api.NewExecutionEvent(sig, types.StatusFilled, fillSize, fillPrice, res.OrderID, ""))
	return types.StatusFilled, nil
}

func (e *Executor) place(ctx context.Context, r exchange.OrderRequest) (*types.OrderResult, error) {
	if e.venue == nil {
		return nil, errNoVenue
	}
	return e.venue.PlaceOrder(ctx, r)
}

// finish applies a single-step status update and emits the outcome.
func (e *Executor) finish(ctx context.Context, sig types.Signal, u store.SignalUpdate, size int, price float64, reason string) (types.SignalStatus, error) {
	u.ID = sig.ID
	if u.At.IsZero() {
		u.At = e.now()
	}
	if u.Size == nil && size > 0 {
		u.Size = &size
	}
	if err := e.store.UpdateSignal(ctx, u); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			e.logger.Info("signal no longer pending", "signal_id", sig.ID)
			return "", nil
		}
		return "", err
	}

	if u.Status == types.StatusIgnored {
		e.logger.Info("signal ignored", "signal_id", sig.ID, "market", sig.MarketTicker, "reason", reason)
	}
	e.emit(api.NewExecutionEvent(sig, u.Status, size, price, u.OrderID, reason))
	return u.Status, nil
}
