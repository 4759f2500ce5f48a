// Package engine is the central orchestrator of the trading system.
//
// It wires together all subsystems:
//
//  1. Ingester pulls markets and candlesticks from Kalshi into the store.
//  2. Calibration and backtest runners refresh the cached analysis tables.
//  3. Generator turns calibrated prices into pending signals.
//  4. Executor sizes pending signals under the risk caps and simulates them
//     or sends them to the venue, booking fills through the ledger.
//  5. ExitEngine takes profit on open positions close to expiry.
//  6. Scheduler drives all of the above on a fast and a daily cycle.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kalshi-edge/internal/api"
	"kalshi-edge/internal/backtest"
	"kalshi-edge/internal/calibration"
	"kalshi-edge/internal/config"
	"kalshi-edge/internal/exchange"
	"kalshi-edge/internal/ledger"
	"kalshi-edge/internal/market"
	"kalshi-edge/internal/risk"
	"kalshi-edge/internal/store"
	"kalshi-edge/internal/strategy"
	"kalshi-edge/pkg/types"
)

// Engine orchestrates all components of the trading system.
// It owns the scheduler goroutine; the store is owned by the caller.
type Engine struct {
	cfg       config.Config
	store     store.Store
	client    *exchange.Client
	ingester  *market.Ingester
	calib     *calibration.Engine
	backtests *backtest.Runner
	generator *strategy.Generator
	riskMgr   *risk.Manager
	ledger    *ledger.Ledger
	executor  *Executor
	exits     *ExitEngine
	scheduler *Scheduler
	logger    *slog.Logger
	now       func() time.Time

	// dashboardEvents is an optional channel for sending events to the dashboard.
	// Nil if dashboard is disabled.
	dashboardEvents chan api.DashboardEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components. Requests are signed when
// credentials are configured; live mode requires them.
func New(cfg config.Config, st store.Store, logger *slog.Logger) (*Engine, error) {
	var signer *exchange.Signer
	if cfg.Kalshi.APIKeyID != "" && cfg.Kalshi.PrivateKeyPath != "" {
		var err error
		signer, err = exchange.LoadSigner(cfg.Kalshi.APIKeyID, cfg.Kalshi.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load kalshi signer: %w", err)
		}
	}
	mode := cfg.Execution.ExecutionMode()
	if mode == types.ModeLive && signer == nil {
		return nil, fmt.Errorf("live mode requires kalshi credentials")
	}

	client := exchange.NewClient(cfg.Kalshi, signer, logger)
	var venue Venue
	if mode == types.ModeLive {
		venue = client
	}

	riskMgr := risk.NewManager(cfg.Risk, st, logger)
	l := ledger.New(st, cfg.Risk, logger)

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:       cfg,
		store:     st,
		client:    client,
		ingester:  market.NewIngester(client, st, cfg.Kalshi, logger),
		calib:     calibration.NewEngine(st, logger),
		backtests: backtest.NewRunner(cfg.Backtest, st, logger),
		generator: strategy.NewGenerator(cfg.Signals, st, logger),
		riskMgr:   riskMgr,
		ledger:    l,
		executor:  NewExecutor(cfg.Execution, st, riskMgr, risk.NewSizer(cfg.Risk), l, venue, logger),
		exits:     NewExitEngine(cfg.Exits, mode, st, l, venue, logger),
		logger:    logger.With("component", "engine"),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
	if cfg.Dashboard.Enabled {
		e.dashboardEvents = make(chan api.DashboardEvent, 100)
	}
	e.executor.emit = e.emitDashboardEvent
	e.exits.emit = e.emitDashboardEvent
	e.scheduler = NewScheduler(cfg.Scheduler, e.fastStages(), e.dailyStages(), logger)
	e.scheduler.emit = e.emitDashboardEvent

	e.logger.Info("engine configured",
		"mode", mode,
		"kalshi_env", cfg.Kalshi.Env,
		"authenticated", client.Authenticated(),
	)
	return e, nil
}

// Start launches the scheduler goroutine.
func (e *Engine) Start() error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.scheduler.Run(e.ctx)
	}()
	return nil
}

// Stop cancels the running cycle and waits for the scheduler to exit.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	e.cancel()
	e.wg.Wait()
	e.logger.Info("shutdown complete")
}

// fastStages is the intraday pipeline. Position sync only runs live, where
// the venue is the source of truth for holdings.
func (e *Engine) fastStages() []Stage {
	stages := []Stage{
		{Name: "ingest", Run: func(ctx context.Context) error {
			_, err := e.ingester.Recent(ctx, e.cfg.Scheduler.IngestLookback, e.cfg.Scheduler.IngestMaxMarkets)
			return err
		}},
		{Name: "signals", Run: func(ctx context.Context) error {
			_, err := e.GenerateSignals(ctx)
			return err
		}},
		{Name: "execute", Run: func(ctx context.Context) error {
			_, err := e.ExecutePending(ctx, 0)
			return err
		}},
		{Name: "backtest", Run: func(ctx context.Context) error {
			_, err := e.backtests.RunAndSave(ctx, backtest.Headline(), e.backtests.DefaultFilter())
			return err
		}},
		{Name: "calibration", Run: func(ctx context.Context) error {
			_, err := e.calib.Refresh(ctx, calibration.ExtremeEdges())
			return err
		}},
		{Name: "exits", Run: func(ctx context.Context) error {
			_, err := e.exits.Run(ctx)
			return err
		}},
	}
	if e.executor.Mode() == types.ModeLive {
		stages = append(stages, Stage{Name: "sync", Run: func(ctx context.Context) error {
			_, err := e.ledger.SyncPositions(ctx, e.client, e.now())
			return err
		}})
	}
	return append(stages, e.pnlStage())
}

// dailyStages refreshes the full backtest grid and both calibrations.
func (e *Engine) dailyStages() []Stage {
	return []Stage{
		{Name: "backtest_grid", Run: func(ctx context.Context) error {
			_, err := e.backtests.RunAndSave(ctx, backtest.Grid(), e.backtests.DefaultFilter())
			return err
		}},
		{Name: "calibration_extreme", Run: func(ctx context.Context) error {
			_, err := e.calib.Refresh(ctx, calibration.ExtremeEdges())
			return err
		}},
		{Name: "calibration_uniform", Run: func(ctx context.Context) error {
			b, err := calibration.Uniform(calibration.DefaultBins)
			if err != nil {
				return err
			}
			_, err = e.calib.Refresh(ctx, b)
			return err
		}},
		e.pnlStage(),
	}
}

func (e *Engine) pnlStage() Stage {
	return Stage{Name: "pnl", Run: func(ctx context.Context) error {
		_, err := e.SnapshotPnL(ctx)
		return err
	}}
}

// ————————————————————————————————————————————————————————————————————————
// Operations exposed to the dashboard and CLI
// ————————————————————————————————————————————————————————————————————————

// GenerateSignals runs one generation pass.
func (e *Engine) GenerateSignals(ctx context.Context) ([]types.Signal, error) {
	signals, err := e.generator.Generate(ctx)
	if err != nil {
		return nil, err
	}
	if len(signals) > 0 {
		e.emitDashboardEvent(api.NewSignalsEvent(signals))
	}
	return signals, nil
}

// ExecutePending runs one execution pass over up to limit pending signals.
func (e *Engine) ExecutePending(ctx context.Context, limit int) (types.ExecutionReport, error) {
	return e.executor.ExecutePending(ctx, limit)
}

// RunExits runs one exit pass.
func (e *Engine) RunExits(ctx context.Context) (types.ExitReport, error) {
	return e.exits.Run(ctx)
}

// CancelOpenSignals cancels every pending or sent signal.
func (e *Engine) CancelOpenSignals(ctx context.Context) (int, error) {
	return e.executor.CancelOpen(ctx, "cancelled by operator")
}

// ResetBankroll re-anchors the bankroll to the configured initial value.
func (e *Engine) ResetBankroll(ctx context.Context) (types.AccountPnL, error) {
	row, err := e.ledger.ResetBankroll(ctx, e.now())
	if err != nil {
		return types.AccountPnL{}, err
	}
	e.emitDashboardEvent(api.DashboardEvent{Type: api.EventBankroll, Timestamp: e.now(), Data: row})
	return row, nil
}

// Backfill loads full history for up to maxMarkets settled markets (0 means
// all of them).
func (e *Engine) Backfill(ctx context.Context, maxMarkets int) (market.Stats, error) {
	return e.ingester.Backfill(ctx, maxMarkets)
}

// IngestRecent refreshes open and recently settled markets. Non-positive
// arguments fall back to the scheduler's configuration.
func (e *Engine) IngestRecent(ctx context.Context, lookback time.Duration, maxMarkets int) (market.Stats, error) {
	if lookback <= 0 {
		lookback = e.cfg.Scheduler.IngestLookback
	}
	if maxMarkets <= 0 {
		maxMarkets = e.cfg.Scheduler.IngestMaxMarkets
	}
	return e.ingester.Recent(ctx, lookback, maxMarkets)
}

// RefreshCalibration recomputes and persists the calibration for b.
func (e *Engine) RefreshCalibration(ctx context.Context, b calibration.Binning) (*types.CalibrationResult, error) {
	return e.calib.Refresh(ctx, b)
}

// RunBacktests runs and persists strategies under the default filter.
func (e *Engine) RunBacktests(ctx context.Context, strategies []backtest.Strategy) ([]types.BacktestResult, error) {
	return e.backtests.RunAndSave(ctx, strategies, e.backtests.DefaultFilter())
}

// Backtest runs a single threshold without persisting it. A non-empty
// category narrows the default filter.
func (e *Engine) Backtest(ctx context.Context, threshold float64, dir backtest.Direction, category string) (*backtest.Summary, error) {
	f := e.backtests.DefaultFilter()
	f.Category = category
	return e.backtests.Run(ctx, threshold, dir, f)
}

// SyncPositions replaces local positions with the venue's. It needs
// credentials but not live mode.
func (e *Engine) SyncPositions(ctx context.Context) (int, error) {
	if !e.client.Authenticated() {
		return 0, fmt.Errorf("position sync requires kalshi credentials")
	}
	return e.ledger.SyncPositions(ctx, e.client, e.now())
}

// SnapshotPnL writes today's account row and publishes it.
func (e *Engine) SnapshotPnL(ctx context.Context) (types.AccountPnL, error) {
	row, err := e.ledger.SnapshotAccountPnL(ctx, e.now())
	if err != nil {
		return types.AccountPnL{}, err
	}
	e.emitDashboardEvent(api.DashboardEvent{Type: api.EventBankroll, Timestamp: e.now(), Data: row})
	return row, nil
}

// RiskSnapshot returns the current exposure readout.
func (e *Engine) RiskSnapshot(ctx context.Context) (risk.RiskSnapshot, error) {
	return e.riskMgr.Snapshot(ctx, e.now())
}

// Bankroll returns the bankroll sizing currently reads.
func (e *Engine) Bankroll(ctx context.Context) (float64, error) {
	return e.ledger.Bankroll(ctx)
}

// Mode returns the execution mode.
func (e *Engine) Mode() types.ExecutionMode {
	return e.executor.Mode()
}

// RunFastCycle runs the fast cycle once, outside the ticker.
func (e *Engine) RunFastCycle(ctx context.Context) bool {
	return e.scheduler.RunFast(ctx)
}

// RunDailyCycle runs the daily cycle once, outside the timer.
func (e *Engine) RunDailyCycle(ctx context.Context) bool {
	return e.scheduler.RunDaily(ctx)
}

// DashboardEvents returns the dashboard event channel (may be nil).
func (e *Engine) DashboardEvents() <-chan api.DashboardEvent {
	return e.dashboardEvents
}

// emitDashboardEvent sends an event to the dashboard (non-blocking).
func (e *Engine) emitDashboardEvent(evt api.DashboardEvent) {
	if e.dashboardEvents == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = e.now()
	}

	select {
	case e.dashboardEvents <- evt:
	default:
		// Dashboard can't keep up, drop event
	}
}
