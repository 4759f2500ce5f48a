package market

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kalshi-edge/pkg/types"
)

// NormalizeMarket maps a Kalshi market onto the stored shape. Returns false
// for payloads without a ticker.
func NormalizeMarket(km types.KalshiMarket) (types.Market, bool) {
	if km.Ticker == "" {
		return types.Market{}, false
	}
	m := types.Market{
		MarketID:     km.Ticker,
		Name:         km.Title,
		Category:     strings.ToLower(km.Category),
		SeriesTicker: km.SeriesTicker,
		CreatedAt:    parseTime(km.OpenTime),
		ExpirationTS: parseTime(km.ExpirationTime),
	}
	if m.Name == "" {
		m.Name = km.Ticker
	}
	if m.ExpirationTS == nil {
		m.ExpirationTS = parseTime(km.CloseTime)
	}
	if m.SeriesTicker == "" {
		m.SeriesTicker = SeriesFromTicker(km.EventTicker)
	}
	if m.SeriesTicker == "" {
		m.SeriesTicker = SeriesFromTicker(km.Ticker)
	}

	switch strings.ToLower(km.Result) {
	case "yes":
		m.Resolution = types.Ptr(types.OutcomeYes)
	case "no":
		m.Resolution = types.Ptr(types.OutcomeNo)
	}
	if m.Resolution != nil {
		m.ResolvedAt = parseTime(km.CloseTime)
		if m.ResolvedAt == nil {
			m.ResolvedAt = m.ExpirationTS
		}
	}
	return m, true
}

// SeriesFromTicker returns the leading segment of an event or market ticker,
// e.g. KXNBAGAME for KXNBAGAME-25OCT19LALBOS.
func SeriesFromTicker(ticker string) string {
	head, _, _ := strings.Cut(ticker, "-")
	return head
}

// NormalizeCandle converts a candle into a price snapshot stamped at the
// candle's end. Cents become dollars; missing closes stay unknown.
func NormalizeCandle(marketID string, c types.Candlestick) (types.PriceSnapshot, bool) {
	if c.EndPeriodTS <= 0 {
		return types.PriceSnapshot{}, false
	}
	snap := types.PriceSnapshot{
		MarketID:  marketID,
		Timestamp: time.Unix(c.EndPeriodTS, 0).UTC(),
		BidYes:    centsToProb(c.YesBid.Close),
		AskYes:    centsToProb(c.YesAsk.Close),
		LastYes:   centsToProb(c.Price.Close),
	}
	if c.Volume != nil {
		snap.Volume = types.Ptr(float64(*c.Volume))
	}
	if c.OpenInterest != nil {
		snap.OpenInterest = types.Ptr(float64(*c.OpenInterest))
	}
	return snap, true
}

func centsToProb(cents *int) *float64 {
	if cents == nil {
		return nil
	}
	return types.Ptr(decimal.New(int64(*cents), -2).InexactFloat64())
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
