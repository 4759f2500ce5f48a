// Package exchange implements the Kalshi trade-api/v2 REST client.
//
//   - ListMarkets:   GET  /markets                                   (cursor paged)
//   - Candlesticks:  GET  /series/{series}/markets/{ticker}/candlesticks
//   - Positions:     GET  /portfolio/positions                       (cursor paged, signed)
//   - PlaceOrder:    POST /portfolio/orders                          (signed)
//
// Every request is paced by a rate.Limiter, retried on transport errors, 429
// and 5xx, and signed with the RSA-PSS API-key headers when a Signer is set.
// Prices cross the wire as integer cents and are converted to YES-equivalent
// probabilities at this boundary.
package exchange

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"kalshi-edge/internal/config"
	"kalshi-edge/internal/metrics"
	"kalshi-edge/pkg/types"
)

// Client is the Kalshi REST API client.
type Client struct {
	http      *resty.Client
	signer    *Signer // nil for unauthenticated market-data access
	rl        *RateLimiter
	pageLimit int
	logger    *slog.Logger
}

// NewClient creates a REST client. signer may be nil, in which case only the
// public market-data calls work.
func NewClient(cfg config.KalshiConfig, signer *Signer, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.HTTPTimeout()).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// Orders are never resubmitted: the venue may have accepted one
			// whose response was lost.
			if r != nil && r.Request != nil && r.Request.Method == http.MethodPost {
				return false
			}
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "kalshi-edge/1.0")
	if !cfg.VerifySSL {
		httpClient.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}

	c := &Client{
		http:      httpClient,
		signer:    signer,
		rl:        NewRateLimiter(),
		pageLimit: cfg.PageLimit,
		logger:    logger.With("component", "kalshi"),
	}
	if c.pageLimit <= 0 {
		c.pageLimit = 200
	}
	// Signed per attempt over the final URL path, base prefix included.
	httpClient.SetPreRequestHook(func(_ *resty.Client, req *http.Request) error {
		if c.signer == nil {
			return nil
		}
		headers, err := c.signer.Headers(req.Method, req.URL.Path)
		if err != nil {
			return err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return nil
	})
	return c
}

// Authenticated reports whether portfolio and order calls are available.
func (c *Client) Authenticated() bool { return c.signer != nil }

// MarketsQuery filters GET /markets.
type MarketsQuery struct {
	Status       string // open, closed, settled
	SeriesTicker string
	EventTicker  string
	MinCloseTS   int64
	MaxCloseTS   int64
}

func (q MarketsQuery) params() map[string]string {
	p := map[string]string{}
	if q.Status != "" {
		p["status"] = q.Status
	}
	if q.SeriesTicker != "" {
		p["series_ticker"] = q.SeriesTicker
	}
	if q.EventTicker != "" {
		p["event_ticker"] = q.EventTicker
	}
	if q.MinCloseTS > 0 {
		p["min_close_ts"] = strconv.FormatInt(q.MinCloseTS, 10)
	}
	if q.MaxCloseTS > 0 {
		p["max_close_ts"] = strconv.FormatInt(q.MaxCloseTS, 10)
	}
	return p
}

// ListMarkets walks every page of GET /markets matching q.
func (c *Client) ListMarkets(ctx context.Context, q MarketsQuery) ([]types.KalshiMarket, error) {
	var out []types.KalshiMarket
	cursor := ""
	for {
		var page types.MarketsResponse
		req := c.http.R().
			SetContext(ctx).
			SetQueryParams(q.params()).
			SetQueryParam("limit", strconv.Itoa(c.pageLimit)).
			SetResult(&page)
		if cursor != "" {
			req.SetQueryParam("cursor", cursor)
		}
		if err := c.do(ctx, c.rl.Read, "markets", req, http.MethodGet, "/markets"); err != nil {
			return out, err
		}
		out = append(out, page.Markets...)
		if page.Cursor == "" || len(page.Markets) == 0 {
			return out, nil
		}
		cursor = page.Cursor
	}
}

// Candlesticks fetches candles for one market between start and end with
// the given period in minutes (1, 60 or 1440).
func (c *Client) Candlesticks(ctx context.Context, series, ticker string, start, end time.Time, periodMinutes int) ([]types.Candlestick, error) {
	var result types.CandlesticksResponse
	path := fmt.Sprintf("/series/%s/markets/%s/candlesticks", url.PathEscape(series), url.PathEscape(ticker))
	req := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"start_ts":        strconv.FormatInt(start.Unix(), 10),
			"end_ts":          strconv.FormatInt(end.Unix(), 10),
			"period_interval": strconv.Itoa(periodMinutes),
		}).
		SetResult(&result)
	if err := c.do(ctx, c.rl.Read, "candlesticks", req, http.MethodGet, path); err != nil {
		return nil, err
	}
	return result.Candlesticks, nil
}

// Positions returns the account's non-zero market positions. It implements
// the ledger's portfolio source.
func (c *Client) Positions(ctx context.Context) ([]types.MarketPosition, error) {
	if c.signer == nil {
		return nil, ErrNoCredentials
	}
	var out []types.MarketPosition
	cursor := ""
	for {
		var page types.PositionsResponse
		req := c.http.R().
			SetContext(ctx).
			SetQueryParam("limit", strconv.Itoa(c.pageLimit)).
			SetResult(&page)
		if cursor != "" {
			req.SetQueryParam("cursor", cursor)
		}
		if err := c.do(ctx, c.rl.Read, "positions", req, http.MethodGet, "/portfolio/positions"); err != nil {
			return out, err
		}
		for _, p := range page.MarketPositions {
			if p.Position != 0 {
				out = append(out, p)
			}
		}
		if page.Cursor == "" || len(page.MarketPositions) == 0 {
			return out, nil
		}
		cursor = page.Cursor
	}
}

// OrderRequest is a limit order in YES-equivalent terms.
type OrderRequest struct {
	Ticker string
	Side   types.Side
	Action types.Direction
	Count  int
	// Price is the YES-equivalent limit price in [0, 1].
	Price float64
}

// PriceCents converts a YES-equivalent price to the cents Kalshi expects for
// side, clamped to 1..99. NO orders are priced at 1 - price.
func PriceCents(side types.Side, price float64) int {
	if side == types.SideNo {
		price = 1 - price
	}
	cents := int(math.Round(price * 100))
	return max(1, min(99, cents))
}

// BuildOrder converts r into the venue payload with a fresh client order id.
func BuildOrder(r OrderRequest) types.CreateOrderRequest {
	action := r.Action
	if action == "" {
		action = types.Buy
	}
	body := types.CreateOrderRequest{
		Ticker:        r.Ticker,
		ClientOrderID: uuid.NewString(),
		Side:          r.Side,
		Action:        action,
		Type:          "limit",
		Count:         r.Count,
	}
	cents := PriceCents(r.Side, r.Price)
	if r.Side == types.SideNo {
		body.NoPrice = &cents
	} else {
		body.YesPrice = &cents
	}
	return body
}

// PlaceOrder submits a limit order. The result's fill price is converted back
// to a YES-equivalent probability.
func (c *Client) PlaceOrder(ctx context.Context, r OrderRequest) (*types.OrderResult, error) {
	if c.signer == nil {
		return nil, ErrNoCredentials
	}
	if r.Count <= 0 {
		return nil, fmt.Errorf("place order: count must be positive, got %d", r.Count)
	}
	body := BuildOrder(r)

	var resp types.CreateOrderResponse
	req := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&resp)
	if err := c.do(ctx, c.rl.Write, "orders", req, http.MethodPost, "/portfolio/orders"); err != nil {
		return nil, err
	}

	result := orderResult(resp.Order, r.Side)
	result.RawRequest = body
	c.logger.Info("order placed",
		"ticker", r.Ticker,
		"side", r.Side,
		"action", body.Action,
		"count", r.Count,
		"order_id", result.OrderID,
		"status", result.Status,
	)
	return result, nil
}

// Venue order statuses.
const (
	OrderResting  = "resting"
	OrderCanceled = "canceled"
	OrderExecuted = "executed"
)

func orderResult(o types.KalshiOrder, side types.Side) *types.OrderResult {
	res := &types.OrderResult{
		OrderID: o.OrderID,
		Status:  o.Status,
		Filled:  o.Status == OrderExecuted,
	}
	if side == types.SideNo && o.NoPrice != nil {
		res.FillPrice = types.Ptr(1 - float64(*o.NoPrice)/100)
	} else if side == types.SideYes && o.YesPrice != nil {
		res.FillPrice = types.Ptr(float64(*o.YesPrice) / 100)
	}
	switch {
	case o.FillCount != nil:
		res.FillSize = types.Ptr(*o.FillCount)
	case res.Filled && o.InitialCount != nil:
		res.FillSize = types.Ptr(*o.InitialCount)
	}
	return res
}

// do waits on limiter, executes req and records the outcome.
func (c *Client) do(ctx context.Context, limiter *rate.Limiter, endpoint string, req *resty.Request, method, path string) error {
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", endpoint, err)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		metrics.VenueRequests.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	metrics.VenueRequests.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode())).Inc()
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return &APIError{Endpoint: endpoint, Status: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

// APIError is a non-2xx venue response.
type APIError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.Status, e.Body)
}
