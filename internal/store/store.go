// Package store persists markets, prices, signals, positions, trades, PnL
// snapshots and cached calibration/backtest results.
//
// Store is the single storage abstraction every component depends on.
// Implementations:
//
//   - PostgresStore: the durable store (pgx), schema in migrations/postgres.
//   - MemoryStore:   an in-process fake used by tests and local experiments.
//   - CachedStore:   a Redis read-through cache in front of another Store for
//     the result tables the dashboard reads on every request.
//
// Multi-row mutations that must stay consistent (signal status + trade +
// position) go through InTx, which is all-or-nothing.
package store

import (
	"context"
	"time"

	"kalshi-edge/pkg/types"
)

// Store is the storage provider injected into every component.
type Store interface {
	UpsertMarket(ctx context.Context, m types.Market) error
	GetMarkets(ctx context.Context, ids []string) (map[string]types.Market, error)
	ListResolvedMarkets(ctx context.Context) ([]types.Market, error)
	// ListIngestTargets returns unresolved markets plus markets resolved at
	// or after cutoff.
	ListIngestTargets(ctx context.Context, cutoff time.Time) ([]types.Market, error)

	// InsertPrices stores snapshots, skipping (market, ts) pairs already
	// present, and returns how many rows were new.
	InsertPrices(ctx context.Context, prices []types.PriceSnapshot) (int, error)
	// PriceAtOrBefore returns the latest snapshot at or before at, or the
	// latest overall when at is nil. ErrNotFound when the market has none.
	PriceAtOrBefore(ctx context.Context, marketID string, at *time.Time) (types.PriceSnapshot, error)
	// PriceHistory returns all snapshots for a market in ascending time order.
	PriceHistory(ctx context.Context, marketID string) ([]types.PriceSnapshot, error)
	LatestPrices(ctx context.Context) (map[string]types.PriceSnapshot, error)

	// InsertSignal assigns ID and CreatedAt.
	InsertSignal(ctx context.Context, s *types.Signal) error
	// PendingSignals returns pending signals oldest first.
	PendingSignals(ctx context.Context, limit int) ([]types.Signal, error)
	OpenSignals(ctx context.Context) ([]types.Signal, error)
	RecentSignals(ctx context.Context, limit int) ([]types.Signal, error)
	UpdateSignal(ctx context.Context, u SignalUpdate) error
	// CancelOpenSignals moves open signals (optionally only those created
	// before olderThan) to cancelled with reason, returning the count.
	CancelOpenSignals(ctx context.Context, reason string, olderThan *time.Time) (int, error)

	ListPositions(ctx context.Context) ([]types.Position, error)
	MarkPositions(ctx context.Context, marks []PositionMark) error
	// ReplacePositions swaps the whole position table for the given rows.
	ReplacePositions(ctx context.Context, positions []types.Position) error
	RecentTrades(ctx context.Context, limit int) ([]types.Trade, error)

	UpsertAccountPnL(ctx context.Context, row types.AccountPnL) error
	LatestAccountPnL(ctx context.Context) (types.AccountPnL, error)
	ListAccountPnL(ctx context.Context, limit int) ([]types.AccountPnL, error)
	GetBankrollBase(ctx context.Context) (types.BankrollBase, error)
	SetBankrollBase(ctx context.Context, b types.BankrollBase) error

	SaveCalibrationResult(ctx context.Context, r *types.CalibrationResult) error
	LatestCalibrationResult(ctx context.Context, binningMode string) (types.CalibrationResult, error)
	SaveBacktestResult(ctx context.Context, r *types.BacktestResult) error
	// LatestBacktestResults returns the newest row per strategy name.
	LatestBacktestResults(ctx context.Context) ([]types.BacktestResult, error)

	// InTx runs fn in a single transaction. Any error rolls everything back.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// AcquireExecutionLease takes the single-writer lease for passes that
	// size and dispatch orders. Returns ErrLeaseHeld when another pass, in
	// this process or another, holds it.
	AcquireExecutionLease(ctx context.Context) (release func(), err error)

	Close()
}

// Tx is the transactional subset used by the ledger and executor.
type Tx interface {
	UpdateSignal(ctx context.Context, u SignalUpdate) error
	InsertTrade(ctx context.Context, t *types.Trade) error
	// GetPosition returns ErrNotFound for a flat, never-traded (market, side).
	GetPosition(ctx context.Context, marketID string, side types.Side) (types.Position, error)
	UpsertPosition(ctx context.Context, p types.Position) error
}

// SignalUpdate moves a signal to Status and records execution metadata.
// The update fails with ErrInvalidTransition unless the current status may
// move to Status. SentAt is stamped with At on sent/simulated/filled and
// FilledAt on filled.
type SignalUpdate struct {
	ID            int64
	Status        types.SignalStatus
	Size          *int
	OrderID       string
	ExecutedPrice *float64
	ExecutedSize  *int
	LastError     string
	At            time.Time
}

func (u SignalUpdate) stampsSent() bool {
	switch u.Status {
	case types.StatusSent, types.StatusSimulated, types.StatusFilled:
		return true
	}
	return false
}

// PositionMark is a mark-to-market refresh for one position.
type PositionMark struct {
	MarketID      string
	Side          types.Side
	UnrealizedPnL float64
	MarkedAt      time.Time
}

// executionLeaseKey is the advisory lock id for the execution lease.
const executionLeaseKey int64 = 0x6b616c736869 // "kalshi"
