package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"kalshi-edge/internal/config"
	"kalshi-edge/pkg/types"
)

func newTestClient(t *testing.T, h http.Handler, signer *Signer) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := config.KalshiConfig{
		BaseURL:        srv.URL + "/trade-api/v2",
		VerifySSL:      true,
		HTTPTimeoutSec: 5,
		PageLimit:      2,
	}
	c := NewClient(cfg, signer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.http.SetRetryCount(0)
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestListMarketsPaginates(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/trade-api/v2/markets" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("status"); got != "settled" {
			t.Errorf("status = %q, want settled", got)
		}
		if r.Header.Get(HeaderAccessKey) != "" {
			t.Error("unsigned client sent auth headers")
		}
		switch r.URL.Query().Get("cursor") {
		case "":
			writeJSON(t, w, types.MarketsResponse{
				Markets: []types.KalshiMarket{{Ticker: "A"}, {Ticker: "B"}},
				Cursor:  "page2",
			})
		case "page2":
			writeJSON(t, w, types.MarketsResponse{Markets: []types.KalshiMarket{{Ticker: "C"}}})
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	})

	c := newTestClient(t, h, nil)
	got, err := c.ListMarkets(context.Background(), MarketsQuery{Status: "settled"})
	if err != nil {
		t.Fatalf("ListMarkets: %v", err)
	}
	if len(got) != 3 || got[2].Ticker != "C" {
		t.Errorf("markets = %+v, want A, B, C", got)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestCandlesticks(t *testing.T) {
	t.Parallel()
	start := time.Unix(1700000000, 0)
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trade-api/v2/series/KXNBA/markets/KXNBA-25OCT19LALBOS/candlesticks" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("start_ts") != "1700000000" || q.Get("end_ts") != "1700003600" || q.Get("period_interval") != "1" {
			t.Errorf("query = %v", q)
		}
		writeJSON(t, w, types.CandlesticksResponse{Candlesticks: []types.Candlestick{{EndPeriodTS: 1700000060}}})
	})

	c := newTestClient(t, h, nil)
	got, err := c.Candlesticks(context.Background(), "KXNBA", "KXNBA-25OCT19LALBOS", start, start.Add(time.Hour), 1)
	if err != nil {
		t.Fatalf("Candlesticks: %v", err)
	}
	if len(got) != 1 || got[0].EndPeriodTS != 1700000060 {
		t.Errorf("candles = %+v", got)
	}
}

func TestPlaceOrderSignsAndPricesNo(t *testing.T) {
	t.Parallel()
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/trade-api/v2/portfolio/orders" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		ts := r.Header.Get(HeaderAccessTimestamp)
		verifySignature(t, &testKey().PublicKey, ts+"POST/trade-api/v2/portfolio/orders", r.Header.Get(HeaderAccessSignature))

		var body types.CreateOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
			return
		}
		if body.Side != types.SideNo || body.Action != types.Buy || body.Type != "limit" || body.Count != 15 {
			t.Errorf("body = %+v", body)
		}
		if body.NoPrice == nil || *body.NoPrice != 20 || body.YesPrice != nil {
			t.Errorf("no_price = %v yes_price = %v, want 20 / nil", body.NoPrice, body.YesPrice)
		}
		if body.ClientOrderID == "" {
			t.Error("client_order_id is empty")
		}
		writeJSON(t, w, types.CreateOrderResponse{Order: types.KalshiOrder{
			OrderID:      "ord-1",
			Status:       "executed",
			NoPrice:      types.Ptr(20),
			InitialCount: types.Ptr(15),
		}})
	})

	c := newTestClient(t, h, NewSigner("key-1", testKey()))
	res, err := c.PlaceOrder(context.Background(), OrderRequest{Ticker: "X", Side: types.SideNo, Count: 15, Price: 0.80})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if res.OrderID != "ord-1" || !res.Filled {
		t.Errorf("result = %+v", res)
	}
	if res.FillPrice == nil || *res.FillPrice < 0.7999 || *res.FillPrice > 0.8001 {
		t.Errorf("fill price = %v, want YES-equivalent 0.80", res.FillPrice)
	}
	if res.FillSize == nil || *res.FillSize != 15 {
		t.Errorf("fill size = %v, want 15", res.FillSize)
	}
}

func TestPlaceOrderErrors(t *testing.T) {
	t.Parallel()
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"insufficient_balance"}}`))
	})
	c := newTestClient(t, h, NewSigner("key-1", testKey()))
	ctx := context.Background()

	_, err := c.PlaceOrder(ctx, OrderRequest{Ticker: "X", Side: types.SideYes, Count: 1, Price: 0.5})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Errorf("err = %v, want APIError 400", err)
	}

	if _, err := c.PlaceOrder(ctx, OrderRequest{Ticker: "X", Side: types.SideYes, Count: 0, Price: 0.5}); err == nil {
		t.Error("expected error for zero count")
	}

	unsigned := newTestClient(t, h, nil)
	if _, err := unsigned.PlaceOrder(ctx, OrderRequest{Ticker: "X", Side: types.SideYes, Count: 1}); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("unsigned PlaceOrder err = %v, want ErrNoCredentials", err)
	}
	if _, err := unsigned.Positions(ctx); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("unsigned Positions err = %v, want ErrNoCredentials", err)
	}
}

func TestPlaceOrderIsNotRetried(t *testing.T) {
	t.Parallel()
	var posts, gets atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts.Add(1)
		} else {
			gets.Add(1)
		}
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := config.KalshiConfig{BaseURL: srv.URL + "/trade-api/v2", VerifySSL: true, HTTPTimeoutSec: 5}
	c := NewClient(cfg, NewSigner("key-1", testKey()), slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.http.SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(2 * time.Millisecond)
	ctx := context.Background()

	_, err := c.PlaceOrder(ctx, OrderRequest{Ticker: "X", Side: types.SideYes, Count: 1, Price: 0.5})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadGateway {
		t.Fatalf("err = %v, want APIError 502", err)
	}
	if got := posts.Load(); got != 1 {
		t.Errorf("order POSTs = %d, want 1", got)
	}

	end := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	if _, err := c.Candlesticks(ctx, "S", "X", end.Add(-time.Hour), end, 1); err == nil {
		t.Fatal("expected candlestick error")
	}
	if got := gets.Load(); got != 4 {
		t.Errorf("candlestick GETs = %d, want 4 (reads keep retrying)", got)
	}
}

func TestPositionsSkipsFlat(t *testing.T) {
	t.Parallel()
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trade-api/v2/portfolio/positions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		writeJSON(t, w, types.PositionsResponse{MarketPositions: []types.MarketPosition{
			{Ticker: "A", Position: 10, MarketExposure: 900},
			{Ticker: "B", Position: 0},
			{Ticker: "C", Position: -5, MarketExposure: 100},
		}})
	})
	c := newTestClient(t, h, NewSigner("key-1", testKey()))
	got, err := c.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(got) != 2 || got[0].Ticker != "A" || got[1].Ticker != "C" {
		t.Errorf("positions = %+v, want A and C", got)
	}
}

func TestPriceCents(t *testing.T) {
	t.Parallel()
	tests := []struct {
		side  types.Side
		price float64
		want  int
	}{
		{types.SideYes, 0.90, 90},
		{types.SideNo, 0.90, 10},
		{types.SideYes, 0.004, 1},
		{types.SideYes, 1.0, 99},
		{types.SideNo, 0.999, 1},
		{types.SideNo, 0.0, 99},
		{types.SideYes, 0.555, 56},
	}
	for _, tt := range tests {
		if got := PriceCents(tt.side, tt.price); got != tt.want {
			t.Errorf("PriceCents(%s, %v) = %d, want %d", tt.side, tt.price, got, tt.want)
		}
	}
}

func TestOrderResultResting(t *testing.T) {
	t.Parallel()
	res := orderResult(types.KalshiOrder{OrderID: "o", Status: "resting", YesPrice: types.Ptr(42), InitialCount: types.Ptr(3)}, types.SideYes)
	if res.Filled || res.FillSize != nil {
		t.Errorf("resting order reported fill: %+v", res)
	}
	if res.FillPrice == nil || *res.FillPrice != 0.42 {
		t.Errorf("price = %v, want 0.42", res.FillPrice)
	}
}
