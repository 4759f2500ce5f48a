package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalshi-edge/internal/api"
	"kalshi-edge/internal/backtest"
	"kalshi-edge/internal/calibration"
	"kalshi-edge/internal/config"
	"kalshi-edge/internal/market"
	"kalshi-edge/pkg/types"
)

func testConfig(mode types.ExecutionMode) config.Config {
	return config.Config{
		Kalshi: config.KalshiConfig{
			Env:            "demo",
			BaseURL:        "http://127.0.0.1:1/trade-api/v2",
			VerifySSL:      true,
			HTTPTimeoutSec: 1,
			PageLimit:      100,
		},
		Execution: config.ExecutionConfig{Mode: string(mode), BatchLimit: 50, StaleSignalAge: time.Hour},
		Risk:      testRisk(),
		Signals: config.SignalConfig{
			EVThreshold:  0.01,
			MaxSignals:   50,
			ExpiryWindow: 30 * 24 * time.Hour,
			BandLow:      0.75,
			BandHigh:     0.98,
		},
		Exits:     testExits(),
		Backtest:  config.BacktestConfig{MinOpenInterest: 10, Since: 90 * 24 * time.Hour},
		Scheduler: config.SchedulerConfig{FastInterval: time.Minute, DailyHourUTC: 6, IngestLookback: 2 * time.Hour},
		Dashboard: config.DashboardConfig{Enabled: true, Port: 8080},
	}
}

func stageNames(stages []Stage) []string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name
	}
	return names
}

func TestNewSimulateStages(t *testing.T) {
	t.Parallel()
	e, err := New(testConfig(types.ModeSimulate), newTestStore(), discardLogger())
	require.NoError(t, err)

	assert.Equal(t, types.ModeSimulate, e.Mode())
	assert.Equal(t,
		[]string{"ingest", "signals", "execute", "backtest", "calibration", "exits", "pnl"},
		stageNames(e.fastStages()))
	assert.Equal(t,
		[]string{"backtest_grid", "calibration_extreme", "calibration_uniform", "pnl"},
		stageNames(e.dailyStages()))
}

func TestNewLiveRequiresCredentials(t *testing.T) {
	t.Parallel()
	_, err := New(testConfig(types.ModeLive), newTestStore(), discardLogger())
	require.Error(t, err)
}

func TestResetBankrollEmitsEvent(t *testing.T) {
	t.Parallel()
	e, err := New(testConfig(types.ModeSimulate), newTestStore(), discardLogger())
	require.NoError(t, err)
	e.now = func() time.Time { return testNow }

	row, err := e.ResetBankroll(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1000, row.Bankroll, 1e-9)

	select {
	case evt := <-e.DashboardEvents():
		assert.Equal(t, api.EventBankroll, evt.Type)
	default:
		t.Fatal("no dashboard event emitted")
	}

	bankroll, err := e.Bankroll(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1000, bankroll, 1e-9)
}

func TestEmitDropsWhenFull(t *testing.T) {
	t.Parallel()
	e, err := New(testConfig(types.ModeSimulate), newTestStore(), discardLogger())
	require.NoError(t, err)

	for i := 0; i < cap(e.dashboardEvents)+10; i++ {
		e.emitDashboardEvent(api.DashboardEvent{Type: api.EventCycle})
	}
	assert.Equal(t, cap(e.dashboardEvents), len(e.dashboardEvents))
}

func TestDashboardDisabled(t *testing.T) {
	t.Parallel()
	cfg := testConfig(types.ModeSimulate)
	cfg.Dashboard.Enabled = false
	e, err := New(cfg, newTestStore(), discardLogger())
	require.NoError(t, err)

	assert.Nil(t, e.DashboardEvents())
	e.emitDashboardEvent(api.DashboardEvent{Type: api.EventCycle})
}

func TestAnalysisOperationsOnSampleData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore()
	_, _, err := market.SeedSample(ctx, st, time.Now().UTC())
	require.NoError(t, err)

	e, err := New(testConfig(types.ModeSimulate), st, discardLogger())
	require.NoError(t, err)

	calib, err := e.RefreshCalibration(ctx, calibration.ExtremeEdges())
	require.NoError(t, err)
	assert.Equal(t, calibration.ModeExtreme, calib.BinningMode)
	assert.NotEmpty(t, calib.Buckets)

	results, err := e.RunBacktests(ctx, backtest.Headline())
	require.NoError(t, err)
	assert.Len(t, results, 2)

	sum, err := e.Backtest(ctx, 0.90, backtest.BuyYesAbove, "")
	require.NoError(t, err)
	assert.Equal(t, 0.90, sum.Threshold)

	row, err := e.SnapshotPnL(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1000, row.Bankroll, 1e-9)
}

func TestSyncPositionsRequiresCredentials(t *testing.T) {
	t.Parallel()
	e, err := New(testConfig(types.ModeSimulate), newTestStore(), discardLogger())
	require.NoError(t, err)

	_, err = e.SyncPositions(context.Background())
	assert.Error(t, err)
}
