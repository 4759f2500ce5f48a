package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"kalshi-edge/pkg/types"
)

type positionKey struct {
	marketID string
	side     types.Side
}

// MemoryStore is a mutex-protected in-process Store. It mirrors the Postgres
// semantics (dedup on prices, status transition checks, latest-per-key
// reads) closely enough to drive every component in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	lease sync.Mutex

	markets      map[string]types.Market
	prices       map[string][]types.PriceSnapshot // ascending by timestamp
	signals      []types.Signal                   // signals[i].ID == i+1
	positions    map[positionKey]types.Position
	trades       []types.Trade
	pnl          map[string]types.AccountPnL // keyed by yyyy-mm-dd
	bankroll     *types.BankrollBase
	calibrations []types.CalibrationResult
	backtests    []types.BacktestResult

	now func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:   make(map[string]types.Market),
		prices:    make(map[string][]types.PriceSnapshot),
		positions: make(map[positionKey]types.Position),
		pnl:       make(map[string]types.AccountPnL),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the clock used for CreatedAt stamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Close() {}

// ---- markets ----

func (s *MemoryStore) UpsertMarket(_ context.Context, m types.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.markets[m.MarketID]; ok && prev.Resolved() {
		return nil
	}
	s.markets[m.MarketID] = m
	return nil
}

func (s *MemoryStore) GetMarkets(_ context.Context, ids []string) (map[string]types.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]types.Market, len(ids))
	for _, id := range ids {
		if m, ok := s.markets[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func (s *MemoryStore) ListResolvedMarkets(_ context.Context) ([]types.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Market
	for _, m := range s.markets {
		if m.Resolved() {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out, nil
}

func (s *MemoryStore) ListIngestTargets(_ context.Context, cutoff time.Time) ([]types.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Market
	for _, m := range s.markets {
		if !m.Resolved() || (m.ResolvedAt != nil && !m.ResolvedAt.Before(cutoff)) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out, nil
}

// ---- prices ----

func (s *MemoryStore) InsertPrices(_ context.Context, prices []types.PriceSnapshot) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, p := range prices {
		hist := s.prices[p.MarketID]
		i := sort.Search(len(hist), func(i int) bool { return !hist[i].Timestamp.Before(p.Timestamp) })
		if i < len(hist) && hist[i].Timestamp.Equal(p.Timestamp) {
			continue
		}
		hist = append(hist, types.PriceSnapshot{})
		copy(hist[i+1:], hist[i:])
		hist[i] = p
		s.prices[p.MarketID] = hist
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) PriceAtOrBefore(_ context.Context, marketID string, at *time.Time) (types.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist := s.prices[marketID]
	if len(hist) == 0 {
		return types.PriceSnapshot{}, ErrNotFound
	}
	if at == nil {
		return hist[len(hist)-1], nil
	}
	i := sort.Search(len(hist), func(i int) bool { return hist[i].Timestamp.After(*at) })
	if i == 0 {
		return types.PriceSnapshot{}, ErrNotFound
	}
	return hist[i-1], nil
}

func (s *MemoryStore) PriceHistory(_ context.Context, marketID string) ([]types.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.PriceSnapshot(nil), s.prices[marketID]...), nil
}

func (s *MemoryStore) LatestPrices(_ context.Context) (map[string]types.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]types.PriceSnapshot, len(s.prices))
	for id, hist := range s.prices {
		if len(hist) > 0 {
			out[id] = hist[len(hist)-1]
		}
	}
	return out, nil
}

// ---- signals ----

func (s *MemoryStore) InsertSignal(_ context.Context, sig *types.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig.ID = int64(len(s.signals) + 1)
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = s.now()
	}
	if sig.Status == "" {
		sig.Status = types.StatusPending
	}
	s.signals = append(s.signals, *sig)
	return nil
}

func (s *MemoryStore) PendingSignals(_ context.Context, limit int) ([]types.Signal, error) {
	return s.filterSignals(limit, false, func(sig types.Signal) bool {
		return sig.Status == types.StatusPending
	}), nil
}

func (s *MemoryStore) OpenSignals(_ context.Context) ([]types.Signal, error) {
	return s.filterSignals(0, false, func(sig types.Signal) bool { return sig.Status.IsOpen() }), nil
}

func (s *MemoryStore) RecentSignals(_ context.Context, limit int) ([]types.Signal, error) {
	return s.filterSignals(limit, true, func(types.Signal) bool { return true }), nil
}

func (s *MemoryStore) filterSignals(limit int, newestFirst bool, keep func(types.Signal) bool) []types.Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Signal
	for _, sig := range s.signals {
		if keep(sig) {
			out = append(out, sig)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			if newestFirst {
				return out[i].ID > out[j].ID
			}
			return out[i].ID < out[j].ID
		}
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryStore) UpdateSignal(_ context.Context, u SignalUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSignalLocked(u)
}

func (s *MemoryStore) updateSignalLocked(u SignalUpdate) error {
	if u.ID < 1 || int(u.ID) > len(s.signals) {
		return fmt.Errorf("signal %d: %w", u.ID, ErrNotFound)
	}
	sig := &s.signals[u.ID-1]
	if !sig.Status.CanTransition(u.Status) {
		return fmt.Errorf("signal %d %s -> %s: %w", u.ID, sig.Status, u.Status, ErrInvalidTransition)
	}
	sig.Status = u.Status
	if u.Size != nil {
		sig.Size = *u.Size
	}
	if u.OrderID != "" {
		sig.OrderID = u.OrderID
	}
	if u.ExecutedPrice != nil {
		sig.ExecutedPrice = u.ExecutedPrice
	}
	if u.ExecutedSize != nil {
		sig.ExecutedSize = u.ExecutedSize
	}
	if u.LastError != "" {
		sig.LastError = u.LastError
	}
	at := u.At
	if at.IsZero() {
		at = s.now()
	}
	if u.stampsSent() && sig.SentAt == nil {
		sig.SentAt = &at
	}
	if u.Status == types.StatusFilled {
		sig.FilledAt = &at
	}
	return nil
}

func (s *MemoryStore) CancelOpenSignals(_ context.Context, reason string, olderThan *time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.signals {
		sig := &s.signals[i]
		if !sig.Status.IsOpen() {
			continue
		}
		if olderThan != nil && !sig.CreatedAt.Before(*olderThan) {
			continue
		}
		sig.Status = types.StatusCancelled
		sig.LastError = reason
		n++
	}
	return n, nil
}

// ---- positions, trades, pnl ----

func (s *MemoryStore) ListPositions(_ context.Context) ([]types.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MarketID == out[j].MarketID {
			return out[i].Side < out[j].Side
		}
		return out[i].MarketID < out[j].MarketID
	})
	return out, nil
}

func (s *MemoryStore) MarkPositions(_ context.Context, marks []PositionMark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range marks {
		key := positionKey{m.MarketID, m.Side}
		p, ok := s.positions[key]
		if !ok {
			continue
		}
		at := m.MarkedAt
		p.UnrealizedPnL = m.UnrealizedPnL
		p.MarkedAt = &at
		s.positions[key] = p
	}
	return nil
}

func (s *MemoryStore) ReplacePositions(_ context.Context, positions []types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = make(map[positionKey]types.Position, len(positions))
	for _, p := range positions {
		s.positions[positionKey{p.MarketID, p.Side}] = p
	}
	return nil
}

func (s *MemoryStore) RecentTrades(_ context.Context, limit int) ([]types.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Trade, 0, len(s.trades))
	for i := len(s.trades) - 1; i >= 0; i-- {
		out = append(out, s.trades[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertAccountPnL(_ context.Context, row types.AccountPnL) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row.AsOfDate = truncateDay(row.AsOfDate)
	s.pnl[row.AsOfDate.Format(time.DateOnly)] = row
	return nil
}

func (s *MemoryStore) LatestAccountPnL(ctx context.Context) (types.AccountPnL, error) {
	rows, _ := s.ListAccountPnL(ctx, 1)
	if len(rows) == 0 {
		return types.AccountPnL{}, ErrNotFound
	}
	return rows[0], nil
}

func (s *MemoryStore) ListAccountPnL(_ context.Context, limit int) ([]types.AccountPnL, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.AccountPnL, 0, len(s.pnl))
	for _, row := range s.pnl {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AsOfDate.After(out[j].AsOfDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetBankrollBase(_ context.Context) (types.BankrollBase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.bankroll == nil {
		return types.BankrollBase{}, ErrNotFound
	}
	return *s.bankroll, nil
}

func (s *MemoryStore) SetBankrollBase(_ context.Context, b types.BankrollBase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bankroll = &b
	return nil
}

// ---- results ----

func (s *MemoryStore) SaveCalibrationResult(_ context.Context, r *types.CalibrationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = int64(len(s.calibrations) + 1)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	s.calibrations = append(s.calibrations, *r)
	return nil
}

func (s *MemoryStore) LatestCalibrationResult(_ context.Context, binningMode string) (types.CalibrationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.calibrations) - 1; i >= 0; i-- {
		if s.calibrations[i].BinningMode == binningMode {
			return s.calibrations[i], nil
		}
	}
	return types.CalibrationResult{}, ErrNotFound
}

func (s *MemoryStore) SaveBacktestResult(_ context.Context, r *types.BacktestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = int64(len(s.backtests) + 1)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	s.backtests = append(s.backtests, *r)
	return nil
}

func (s *MemoryStore) LatestBacktestResults(_ context.Context) ([]types.BacktestResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []types.BacktestResult
	for i := len(s.backtests) - 1; i >= 0; i-- {
		r := s.backtests[i]
		if seen[r.StrategyName] {
			continue
		}
		seen[r.StrategyName] = true
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyName < out[j].StrategyName })
	return out, nil
}

// ---- transactions and lease ----

// InTx holds the write lock for the duration of fn and restores the signal,
// position and trade tables if fn fails.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	signals := append([]types.Signal(nil), s.signals...)
	positions := make(map[positionKey]types.Position, len(s.positions))
	for k, v := range s.positions {
		positions[k] = v
	}
	trades := len(s.trades)

	if err := fn(memTx{s}); err != nil {
		s.signals = signals
		s.positions = positions
		s.trades = s.trades[:trades]
		return err
	}
	return nil
}

func (s *MemoryStore) AcquireExecutionLease(_ context.Context) (func(), error) {
	if !s.lease.TryLock() {
		return nil, ErrLeaseHeld
	}
	return s.lease.Unlock, nil
}

// memTx operates on a MemoryStore whose lock is already held by InTx.
type memTx struct {
	s *MemoryStore
}

func (t memTx) UpdateSignal(_ context.Context, u SignalUpdate) error {
	return t.s.updateSignalLocked(u)
}

func (t memTx) InsertTrade(_ context.Context, tr *types.Trade) error {
	tr.ID = int64(len(t.s.trades) + 1)
	if tr.ExecutedAt.IsZero() {
		tr.ExecutedAt = t.s.now()
	}
	t.s.trades = append(t.s.trades, *tr)
	return nil
}

func (t memTx) GetPosition(_ context.Context, marketID string, side types.Side) (types.Position, error) {
	p, ok := t.s.positions[positionKey{marketID, side}]
	if !ok {
		return types.Position{}, ErrNotFound
	}
	return p, nil
}

func (t memTx) UpsertPosition(_ context.Context, p types.Position) error {
	t.s.positions[positionKey{p.MarketID, p.Side}] = p
	return nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
