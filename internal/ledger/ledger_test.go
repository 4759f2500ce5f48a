package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kalshi-edge/internal/config"
	"kalshi-edge/internal/store"
	"kalshi-edge/pkg/types"
)

func newTestLedger(s store.Store) *Ledger {
	cfg := config.RiskConfig{InitialBankrollUSD: 1000}
	return New(s, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func seedPrice(t *testing.T, s store.Store, market string, ts time.Time, last float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertMarket(ctx, types.Market{MarketID: market, Name: market}))
	_, err := s.InsertPrices(ctx, []types.PriceSnapshot{{MarketID: market, Timestamp: ts, LastYes: &last}})
	require.NoError(t, err)
}

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemoryStore()
	l := newTestLedger(s)

	_, err := l.Record(ctx, &types.Trade{MarketID: "MKT", Side: types.SideYes, Size: 10, Price: 0.2, Direction: types.Buy})
	require.NoError(t, err)
	pos, err := l.Record(ctx, &types.Trade{MarketID: "MKT", Side: types.SideYes, Size: 10, Price: 0.9, Direction: types.Sell})
	require.NoError(t, err)

	assert.Equal(t, 0, pos.Size)
	assert.InDelta(t, 7.0, pos.RealizedPnL, 1e-9)

	trades, err := s.RecentTrades(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestRecordRejectsEmptyTrade(t *testing.T) {
	t.Parallel()
	_, err := newTestLedger(store.NewMemoryStore()).Record(context.Background(), &types.Trade{MarketID: "MKT", Side: types.SideYes})
	assert.Error(t, err)
}

func TestSnapshotAndBankroll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemoryStore()
	l := newTestLedger(s)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	bankroll, err := l.Bankroll(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1000, bankroll, 1e-9, "initial bankroll before any snapshot")

	// Realized +1 on MKT, then open 10 YES at 0.2 marked at 0.5 (+3).
	for _, tr := range []*types.Trade{
		{MarketID: "MKT", Side: types.SideYes, Size: 5, Price: 0.2, Direction: types.Buy},
		{MarketID: "MKT", Side: types.SideYes, Size: 5, Price: 0.4, Direction: types.Sell},
		{MarketID: "MKT", Side: types.SideYes, Size: 10, Price: 0.2, Direction: types.Buy},
		{MarketID: "NOPRICE", Side: types.SideNo, Size: 3, Price: 0.7, Direction: types.Buy},
	} {
		_, err := l.Record(ctx, tr)
		require.NoError(t, err)
	}
	seedPrice(t, s, "MKT", now.Add(-time.Minute), 0.5)

	row, err := l.SnapshotAccountPnL(ctx, now)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, row.RealizedPnL, 1e-9)
	assert.InDelta(t, 3.0, row.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 4.0, row.TotalEquity, 1e-9)
	assert.InDelta(t, 1004, row.Bankroll, 1e-9)

	positions, err := s.ListPositions(ctx)
	require.NoError(t, err)
	for _, p := range positions {
		if p.MarketID == "MKT" {
			require.NotNil(t, p.MarkedAt)
			assert.InDelta(t, 3.0, p.UnrealizedPnL, 1e-9)
		} else {
			assert.Nil(t, p.MarkedAt, "position without price is not marked")
		}
	}

	bankroll, err = l.Bankroll(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1004, bankroll, 1e-9)

	// Reset: bankroll returns to initial while equity stays.
	row, err = l.ResetBankroll(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 1000, row.Bankroll, 1e-9)
	assert.InDelta(t, 4.0, row.TotalEquity, 1e-9)

	// Price moves +0.1 on 10 contracts: bankroll accrues only the change.
	seedPrice(t, s, "MKT", now.Add(2*time.Hour), 0.6)
	row, err = l.SnapshotAccountPnL(ctx, now.Add(3*time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 1001, row.Bankroll, 1e-9)

	history, err := s.ListAccountPnL(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1, "one row per calendar day")
}

type mockPortfolio struct {
	mock.Mock
}

func (m *mockPortfolio) Positions(ctx context.Context) ([]types.MarketPosition, error) {
	args := m.Called(ctx)
	positions, _ := args.Get(0).([]types.MarketPosition)
	return positions, args.Error(1)
}

func TestSyncPositions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemoryStore()
	l := newTestLedger(s)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.ReplacePositions(ctx, []types.Position{{MarketID: "STALE", Side: types.SideYes, Size: 1}}))

	venue := new(mockPortfolio)
	venue.On("Positions", mock.Anything).Return([]types.MarketPosition{
		{Ticker: "YESMKT", Position: 10, MarketExposure: 300, RealizedPnL: 150},
		{Ticker: "NOMKT", Position: -4, MarketExposure: 80},
		{Ticker: "FLAT", Position: 0},
	}, nil)

	n, err := l.SyncPositions(ctx, venue, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	venue.AssertExpectations(t)

	positions, err := s.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 2)

	byID := map[string]types.Position{}
	for _, p := range positions {
		byID[p.MarketID] = p
	}
	yes := byID["YESMKT"]
	assert.Equal(t, types.SideYes, yes.Side)
	assert.Equal(t, 10, yes.Size)
	assert.InDelta(t, 0.30, yes.AvgPrice, 1e-9)
	assert.InDelta(t, 1.50, yes.RealizedPnL, 1e-9)

	no := byID["NOMKT"]
	assert.Equal(t, types.SideNo, no.Side)
	assert.Equal(t, 4, no.Size)
	assert.InDelta(t, 0.80, no.AvgPrice, 1e-9, "NO cost 0.20 is YES-equivalent 0.80")
}

func TestSyncPositionsVenueFailureKeepsLocalState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.ReplacePositions(ctx, []types.Position{{MarketID: "KEEP", Side: types.SideYes, Size: 1}}))

	venue := new(mockPortfolio)
	venue.On("Positions", mock.Anything).Return(nil, errors.New("503"))

	_, err := newTestLedger(s).SyncPositions(ctx, venue, time.Now())
	require.Error(t, err)

	positions, err := s.ListPositions(ctx)
	require.NoError(t, err)
	assert.Len(t, positions, 1)
}
