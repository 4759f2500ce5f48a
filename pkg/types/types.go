// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the system: markets and price
// snapshots, calibration buckets, signals with their lifecycle, positions,
// trades and account PnL rows, plus the Kalshi REST payloads. It has no
// dependencies on internal packages, so it can be imported by any layer.
//
// Prices are always stored as YES-equivalent probabilities in [0, 1]. A NO
// position bought at a YES price of 0.80 therefore costs 0.20 per contract.
package types

import (
	"fmt"
	"strings"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side is the contract side a signal, trade or position refers to.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// ParseSide accepts "yes"/"no" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideYes:
		return SideYes, nil
	case SideNo:
		return SideNo, nil
	}
	return "", fmt.Errorf("invalid side %q", s)
}

// RiskPerContract is the amount lost per contract if the side loses, given a
// YES-equivalent price.
func (s Side) RiskPerContract(price float64) float64 {
	if s == SideNo {
		return 1 - price
	}
	return price
}

// Direction is buy or sell. Buys add to a position, sells reduce it.
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// Outcome is a market's resolution.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// ExecutionMode selects whether orders reach the venue.
type ExecutionMode string

const (
	ModeSimulate ExecutionMode = "simulate"
	ModeLive     ExecutionMode = "live"
)

// ParseExecutionMode falls back to simulate for anything unrecognised.
func ParseExecutionMode(s string) ExecutionMode {
	if ExecutionMode(strings.ToLower(strings.TrimSpace(s))) == ModeLive {
		return ModeLive
	}
	return ModeSimulate
}

// ————————————————————————————————————————————————————————————————————————
// Signal lifecycle
// ————————————————————————————————————————————————————————————————————————

// SignalStatus is a signal's position in its lifecycle. Statuses only move
// forward: once a terminal status is reached the row never changes again.
type SignalStatus string

const (
	StatusPending   SignalStatus = "pending"
	StatusIgnored   SignalStatus = "ignored"
	StatusSimulated SignalStatus = "simulated"
	StatusSent      SignalStatus = "sent"
	StatusFilled    SignalStatus = "filled"
	StatusError     SignalStatus = "error"
	StatusCancelled SignalStatus = "cancelled"
)

var signalTransitions = map[SignalStatus][]SignalStatus{
	StatusPending: {StatusIgnored, StatusSimulated, StatusSent, StatusError, StatusCancelled},
	StatusSent:    {StatusFilled, StatusCancelled, StatusError},
}

// CanTransition reports whether a signal in status s may move to next.
func (s SignalStatus) CanTransition(next SignalStatus) bool {
	for _, allowed := range signalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s SignalStatus) Terminal() bool {
	return len(signalTransitions[s]) == 0
}

// SourcesFor returns every status that may transition into next.
func SourcesFor(next SignalStatus) []SignalStatus {
	var out []SignalStatus
	for _, from := range []SignalStatus{StatusPending, StatusSent} {
		if from.CanTransition(next) {
			out = append(out, from)
		}
	}
	return out
}

// OpenStatuses are the statuses that still carry risk budget.
var OpenStatuses = []SignalStatus{StatusPending, StatusSent}

// IsOpen reports whether the status is one of OpenStatuses.
func (s SignalStatus) IsOpen() bool {
	return s == StatusPending || s == StatusSent
}

// ExpiryBucket groups markets by time to expiration.
type ExpiryBucket string

const (
	ExpiryShort  ExpiryBucket = "short"  // <= 1 day
	ExpiryMedium ExpiryBucket = "medium" // <= 7 days
	ExpiryLong   ExpiryBucket = "long"
)

// ExpiryBucketFor classifies exp relative to now. Returns "" if exp is unknown.
func ExpiryBucketFor(exp *time.Time, now time.Time) ExpiryBucket {
	if exp == nil {
		return ""
	}
	delta := exp.Sub(now)
	switch {
	case delta <= 24*time.Hour:
		return ExpiryShort
	case delta <= 7*24*time.Hour:
		return ExpiryMedium
	default:
		return ExpiryLong
	}
}

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// Market is one binary event contract. Immutable once resolved.
type Market struct {
	MarketID     string     `json:"market_id"`
	Name         string     `json:"name"`
	Category     string     `json:"category,omitempty"`
	SeriesTicker string     `json:"series_ticker,omitempty"`
	Resolution   *Outcome   `json:"resolution,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	ExpirationTS *time.Time `json:"expiration_ts,omitempty"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
}

// Resolved reports whether the market has a YES/NO outcome.
func (m Market) Resolved() bool {
	return m.Resolution != nil
}

// PriceSnapshot is one observation of a market's YES prices, unique per
// (market, timestamp).
type PriceSnapshot struct {
	MarketID     string    `json:"market_id"`
	Timestamp    time.Time `json:"ts"`
	BidYes       *float64  `json:"bid_yes,omitempty"`
	AskYes       *float64  `json:"ask_yes,omitempty"`
	LastYes      *float64  `json:"last_yes,omitempty"`
	Volume       *float64  `json:"volume,omitempty"`
	OpenInterest *float64  `json:"open_interest,omitempty"`
}

// Mid returns the bid/ask average when both sides are quoted, the last trade
// otherwise, and false when neither is known.
func (p PriceSnapshot) Mid() (float64, bool) {
	if p.BidYes != nil && p.AskYes != nil {
		return (*p.BidYes + *p.AskYes) / 2, true
	}
	if p.LastYes != nil {
		return *p.LastYes, true
	}
	return 0, false
}

// ————————————————————————————————————————————————————————————————————————
// Calibration and backtest results
// ————————————————————————————————————————————————————————————————————————

// CalibrationBucket is the observed YES frequency of markets whose price fell
// in [Low, High).
type CalibrationBucket struct {
	Low     float64  `json:"bucket_low"`
	High    float64  `json:"bucket_high"`
	N       int      `json:"n"`
	NYes    int      `json:"n_yes"`
	PMktAvg *float64 `json:"p_mkt_avg"`
	PTrue   *float64 `json:"p_true"`
}

// Mid is the bucket's midpoint, used as the interpolation anchor.
func (b CalibrationBucket) Mid() float64 {
	return (b.Low + b.High) / 2
}

// CalibrationResult is one persisted calibration run.
type CalibrationResult struct {
	ID          int64               `json:"id"`
	BinningMode string              `json:"binning_mode"`
	Params      map[string]any      `json:"params"`
	Buckets     []CalibrationBucket `json:"buckets"`
	CreatedAt   time.Time           `json:"created_at"`
}

// BacktestResult is one persisted backtest run.
type BacktestResult struct {
	ID            int64          `json:"id"`
	StrategyName  string         `json:"strategy_name"`
	Params        map[string]any `json:"params"`
	NumTrades     int            `json:"num_trades"`
	WinRate       float64        `json:"win_rate"`
	AverageProfit float64        `json:"average_profit"`
	TotalProfit   float64        `json:"total_profit"`
	Summary       map[string]any `json:"raw_summary"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ————————————————————————————————————————————————————————————————————————
// Trading state
// ————————————————————————————————————————————————————————————————————————

// Signal is one directional trade candidate.
type Signal struct {
	ID            int64        `json:"id"`
	MarketTicker  string       `json:"market_ticker"`
	Side          Side         `json:"side"`
	Rule          string       `json:"rule,omitempty"`
	Threshold     *float64     `json:"threshold,omitempty"`
	Category      string       `json:"category,omitempty"`
	ExpiryBucket  ExpiryBucket `json:"expiry_bucket,omitempty"`
	PMkt          float64      `json:"p_mkt"`
	PTrueEst      float64      `json:"p_true_est"`
	ExpectedValue float64      `json:"expected_value"`
	Size          int          `json:"size"`
	Status        SignalStatus `json:"status"`
	OrderID       string       `json:"order_id,omitempty"`
	ExecutedPrice *float64     `json:"executed_price,omitempty"`
	ExecutedSize  *int         `json:"executed_size,omitempty"`
	LastError     string       `json:"last_error,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	SentAt        *time.Time   `json:"sent_at,omitempty"`
	FilledAt      *time.Time   `json:"filled_at,omitempty"`
}

// Position is the aggregate holding for one (market, side). Size is signed:
// negative after selling more than was held.
type Position struct {
	MarketID      string     `json:"market_id"`
	Side          Side       `json:"side"`
	Size          int        `json:"size"`
	AvgPrice      float64    `json:"avg_price"`
	RealizedPnL   float64    `json:"realized_pnl"`
	UnrealizedPnL float64    `json:"unrealized_pnl"`
	MarkedAt      *time.Time `json:"marked_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Trade is an immutable execution record.
type Trade struct {
	ID         int64     `json:"id"`
	SignalID   *int64    `json:"signal_id,omitempty"`
	MarketID   string    `json:"market_id"`
	Side       Side      `json:"side"`
	Size       int       `json:"size"`
	Price      float64   `json:"price"`
	Direction  Direction `json:"direction"`
	ExecutedAt time.Time `json:"executed_at"`
}

// SignedSize is +Size for buys and -Size for sells.
func (t Trade) SignedSize() int {
	if t.Direction == Sell {
		return -t.Size
	}
	return t.Size
}

// AccountPnL is the daily equity snapshot.
type AccountPnL struct {
	AsOfDate      time.Time `json:"as_of_date"`
	RealizedPnL   float64   `json:"realized_pnl"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	TotalEquity   float64   `json:"total_equity"`
	Bankroll      float64   `json:"bankroll"`
}

// BankrollBase anchors the bankroll: Bankroll = Base + (equity - EquityOffset).
type BankrollBase struct {
	Base         float64   `json:"base"`
	EquityOffset float64   `json:"equity_offset"`
	ResetAt      time.Time `json:"reset_at"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// ————————————————————————————————————————————————————————————————————————
// Pass reports
// ————————————————————————————————————————————————————————————————————————

// ExecutionReport counts the outcomes of one execution pass.
type ExecutionReport struct {
	Processed      int  `json:"processed"`
	Simulated      int  `json:"simulated"`
	Sent           int  `json:"sent"`
	Filled         int  `json:"filled"`
	Ignored        int  `json:"ignored"`
	Errored        int  `json:"errored"`
	Cancelled      int  `json:"cancelled"`
	StaleCancelled int  `json:"stale_cancelled"`
	Skipped        bool `json:"skipped,omitempty"`
}

// ExitReport counts the outcomes of one exit pass.
type ExitReport struct {
	Checked   int  `json:"checked"`
	Triggered int  `json:"triggered"`
	Resting   int  `json:"resting"`
	Errored   int  `json:"errored"`
	Skipped   bool `json:"skipped,omitempty"`
}
