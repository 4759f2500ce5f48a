// Package ledger maintains positions and account PnL from recorded trades.
//
// Trades are the source of truth. Every trade is written together with the
// position update it implies inside one storage transaction, and realized
// PnL accumulates on the position row. A daily snapshot marks open positions
// to the latest mid price and records total equity and the bankroll that
// sizing reads back.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kalshi-edge/internal/config"
	"kalshi-edge/internal/store"
	"kalshi-edge/pkg/types"
)

// Ledger records trades and snapshots PnL.
type Ledger struct {
	store  store.Store
	cfg    config.RiskConfig
	logger *slog.Logger
}

// New creates a ledger.
func New(s store.Store, cfg config.RiskConfig, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  s,
		cfg:    cfg,
		logger: logger.With("component", "ledger"),
	}
}

// RecordTrade inserts t and updates its position inside tx.
func (l *Ledger) RecordTrade(ctx context.Context, tx store.Tx, t *types.Trade) (types.Position, error) {
	if t.Size <= 0 {
		return types.Position{}, fmt.Errorf("trade size must be positive, got %d", t.Size)
	}
	if err := tx.InsertTrade(ctx, t); err != nil {
		return types.Position{}, err
	}

	prev, err := tx.GetPosition(ctx, t.MarketID, t.Side)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return types.Position{}, fmt.Errorf("load position: %w", err)
	}

	next, realized := Apply(prev, *t)
	next.UpdatedAt = t.ExecutedAt
	if err := tx.UpsertPosition(ctx, next); err != nil {
		return types.Position{}, err
	}

	if realized != 0 {
		l.logger.Info("pnl realized",
			"market", t.MarketID,
			"side", t.Side,
			"realized", realized,
			"size", next.Size,
		)
	}
	return next, nil
}

// Record runs RecordTrade in its own transaction.
func (l *Ledger) Record(ctx context.Context, t *types.Trade) (types.Position, error) {
	var pos types.Position
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		pos, err = l.RecordTrade(ctx, tx, t)
		return err
	})
	return pos, err
}

// SnapshotAccountPnL marks open positions to the latest mid, refreshes their
// marks and upserts the row for now's calendar day.
func (l *Ledger) SnapshotAccountPnL(ctx context.Context, now time.Time) (types.AccountPnL, error) {
	realized, unrealized, err := l.markToMarket(ctx, now)
	if err != nil {
		return types.AccountPnL{}, err
	}

	base, err := l.bankrollBase(ctx, now)
	if err != nil {
		return types.AccountPnL{}, err
	}

	equity := realized + unrealized
	row := types.AccountPnL{
		AsOfDate:      now,
		RealizedPnL:   realized,
		UnrealizedPnL: unrealized,
		TotalEquity:   equity,
		Bankroll:      base.Base + (equity - base.EquityOffset),
	}
	if err := l.store.UpsertAccountPnL(ctx, row); err != nil {
		return types.AccountPnL{}, fmt.Errorf("store account pnl: %w", err)
	}

	l.logger.Info("pnl snapshot",
		"realized", realized,
		"unrealized", unrealized,
		"equity", equity,
		"bankroll", row.Bankroll,
	)
	return row, nil
}

// ResetBankroll re-bases the bankroll to the configured initial value as of
// the current equity, then snapshots so sizing sees it immediately.
func (l *Ledger) ResetBankroll(ctx context.Context, now time.Time) (types.AccountPnL, error) {
	realized, unrealized, err := l.markToMarket(ctx, now)
	if err != nil {
		return types.AccountPnL{}, err
	}
	base := types.BankrollBase{
		Base:         l.cfg.InitialBankrollUSD,
		EquityOffset: realized + unrealized,
		ResetAt:      now,
	}
	if err := l.store.SetBankrollBase(ctx, base); err != nil {
		return types.AccountPnL{}, fmt.Errorf("reset bankroll: %w", err)
	}
	l.logger.Info("bankroll reset", "base", base.Base, "equity_offset", base.EquityOffset)
	return l.SnapshotAccountPnL(ctx, now)
}

// Bankroll returns the latest snapshot's bankroll, or the configured initial
// bankroll before the first snapshot.
func (l *Ledger) Bankroll(ctx context.Context) (float64, error) {
	row, err := l.store.LatestAccountPnL(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return l.cfg.InitialBankrollUSD, nil
	}
	if err != nil {
		return 0, fmt.Errorf("latest account pnl: %w", err)
	}
	return row.Bankroll, nil
}

func (l *Ledger) bankrollBase(ctx context.Context, now time.Time) (types.BankrollBase, error) {
	base, err := l.store.GetBankrollBase(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return types.BankrollBase{Base: l.cfg.InitialBankrollUSD, ResetAt: now}, nil
	}
	if err != nil {
		return types.BankrollBase{}, fmt.Errorf("get bankroll base: %w", err)
	}
	return base, nil
}

// markToMarket returns summed realized PnL and the unrealized PnL of open
// positions with a known mid, persisting each position's mark.
func (l *Ledger) markToMarket(ctx context.Context, now time.Time) (float64, float64, error) {
	positions, err := l.store.ListPositions(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list positions: %w", err)
	}
	latest, err := l.store.LatestPrices(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("latest prices: %w", err)
	}

	var (
		realized, unrealized float64
		marks                []store.PositionMark
	)
	for _, p := range positions {
		realized += p.RealizedPnL
		if p.Size == 0 {
			continue
		}
		mid, ok := latest[p.MarketID].Mid()
		if !ok {
			l.logger.Debug("no price to mark position", "market", p.MarketID, "side", p.Side)
			continue
		}
		u := Unrealized(p, mid)
		unrealized += u
		marks = append(marks, store.PositionMark{
			MarketID: p.MarketID, Side: p.Side, UnrealizedPnL: u, MarkedAt: now,
		})
	}

	if err := l.store.MarkPositions(ctx, marks); err != nil {
		return 0, 0, fmt.Errorf("mark positions: %w", err)
	}
	return realized, unrealized, nil
}
