package ledger

import (
	"context"
	"fmt"
	"time"

	"kalshi-edge/pkg/types"
)

// PortfolioSource lists the venue's current positions.
type PortfolioSource interface {
	Positions(ctx context.Context) ([]types.MarketPosition, error)
}

// SyncPositions replaces local positions with the venue portfolio. A positive
// venue position is YES contracts, a negative one NO. The average entry is
// derived from the position's cost and stored YES-equivalent.
func (l *Ledger) SyncPositions(ctx context.Context, venue PortfolioSource, now time.Time) (int, error) {
	remote, err := venue.Positions(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch venue positions: %w", err)
	}

	positions := make([]types.Position, 0, len(remote))
	for _, rp := range remote {
		if p, ok := fromVenue(rp, now); ok {
			positions = append(positions, p)
		}
	}

	if err := l.store.ReplacePositions(ctx, positions); err != nil {
		return 0, fmt.Errorf("replace positions: %w", err)
	}
	l.logger.Info("positions synced", "venue", len(remote), "stored", len(positions))
	return len(positions), nil
}

func fromVenue(rp types.MarketPosition, now time.Time) (types.Position, bool) {
	if rp.Ticker == "" || rp.Position == 0 {
		return types.Position{}, false
	}

	side, count := types.SideYes, rp.Position
	if count < 0 {
		side, count = types.SideNo, -count
	}

	// Cost per contract of the held side, in dollars.
	cost := float64(rp.MarketExposure) / 100 / float64(count)
	avg := cost
	if side == types.SideNo {
		avg = 1 - cost
	}

	return types.Position{
		MarketID:    rp.Ticker,
		Side:        side,
		Size:        count,
		AvgPrice:    avg,
		RealizedPnL: float64(rp.RealizedPnL) / 100,
		UpdatedAt:   now,
	}, true
}
