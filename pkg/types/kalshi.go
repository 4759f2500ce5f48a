package types

// ————————————————————————————————————————————————————————————————————————
// Kalshi REST payloads (trade-api/v2). Prices are integer cents.
// ————————————————————————————————————————————————————————————————————————

// KalshiMarket is the market object returned by GET /markets.
type KalshiMarket struct {
	Ticker         string `json:"ticker"`
	EventTicker    string `json:"event_ticker"`
	SeriesTicker   string `json:"series_ticker,omitempty"`
	Title          string `json:"title"`
	Subtitle       string `json:"subtitle,omitempty"`
	Category       string `json:"category,omitempty"`
	Status         string `json:"status"`
	Result         string `json:"result"`
	OpenTime       string `json:"open_time,omitempty"`
	CloseTime      string `json:"close_time,omitempty"`
	ExpirationTime string `json:"expiration_time,omitempty"`
	YesBid         *int   `json:"yes_bid,omitempty"`
	YesAsk         *int   `json:"yes_ask,omitempty"`
	LastPrice      *int   `json:"last_price,omitempty"`
	Volume         *int64 `json:"volume,omitempty"`
	OpenInterest   *int64 `json:"open_interest,omitempty"`
}

// MarketsResponse is one page of GET /markets.
type MarketsResponse struct {
	Markets []KalshiMarket `json:"markets"`
	Cursor  string         `json:"cursor"`
}

// OHLC is a candle price band in cents. Any field may be null for quiet periods.
type OHLC struct {
	Open  *int `json:"open"`
	High  *int `json:"high"`
	Low   *int `json:"low"`
	Close *int `json:"close"`
}

// Candlestick is one period of GET .../candlesticks.
type Candlestick struct {
	EndPeriodTS  int64  `json:"end_period_ts"`
	YesBid       OHLC   `json:"yes_bid"`
	YesAsk       OHLC   `json:"yes_ask"`
	Price        OHLC   `json:"price"`
	Volume       *int64 `json:"volume"`
	OpenInterest *int64 `json:"open_interest"`
}

// CandlesticksResponse wraps the candle list for one market.
type CandlesticksResponse struct {
	Ticker       string        `json:"ticker"`
	Candlesticks []Candlestick `json:"candlesticks"`
}

// CreateOrderRequest is the body of POST /portfolio/orders. Exactly one of
// YesPrice / NoPrice is set, matching Side.
type CreateOrderRequest struct {
	Ticker        string    `json:"ticker"`
	ClientOrderID string    `json:"client_order_id"`
	Side          Side      `json:"side"`
	Action        Direction `json:"action"`
	Type          string    `json:"type"`
	Count         int       `json:"count"`
	YesPrice      *int      `json:"yes_price,omitempty"`
	NoPrice       *int      `json:"no_price,omitempty"`
}

// KalshiOrder is the order object echoed back by the venue.
type KalshiOrder struct {
	OrderID        string `json:"order_id"`
	ClientOrderID  string `json:"client_order_id"`
	Ticker         string `json:"ticker"`
	Status         string `json:"status"` // resting, canceled, executed, pending
	Side           Side   `json:"side"`
	Action         string `json:"action"`
	YesPrice       *int   `json:"yes_price,omitempty"`
	NoPrice        *int   `json:"no_price,omitempty"`
	InitialCount   *int   `json:"initial_count,omitempty"`
	FillCount      *int   `json:"fill_count,omitempty"`
	RemainingCount *int   `json:"remaining_count,omitempty"`
}

// CreateOrderResponse wraps the created order.
type CreateOrderResponse struct {
	Order KalshiOrder `json:"order"`
}

// MarketPosition is one row of GET /portfolio/positions. Position is signed:
// positive for YES contracts, negative for NO.
type MarketPosition struct {
	Ticker         string `json:"ticker"`
	Position       int    `json:"position"`
	MarketExposure int64  `json:"market_exposure"`
	TotalTraded    int64  `json:"total_traded"`
	RealizedPnL    int64  `json:"realized_pnl"`
	FeesPaid       int64  `json:"fees_paid"`
}

// PositionsResponse is one page of GET /portfolio/positions.
type PositionsResponse struct {
	MarketPositions []MarketPosition `json:"market_positions"`
	Cursor          string           `json:"cursor"`
}

// OrderResult is the venue-agnostic outcome of a submitted order, with the
// fill price already converted back to a YES-equivalent probability.
type OrderResult struct {
	OrderID    string
	Status     string
	FillPrice  *float64
	FillSize   *int
	Filled     bool
	RawRequest CreateOrderRequest
}
