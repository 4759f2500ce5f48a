package api

import (
	"time"

	"kalshi-edge/pkg/types"
)

// Event types pushed to dashboard clients.
const (
	EventSnapshot  = "snapshot"
	EventSignals   = "signals"
	EventExecution = "execution"
	EventExit      = "exit"
	EventCycle     = "cycle"
	EventBankroll  = "bankroll"
)

// DashboardEvent is the wrapper for all events sent to the dashboard
type DashboardEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	MarketID  string    `json:"market_id,omitempty"` // empty for global events
	Data      any       `json:"data"`
}

// SignalsEvent is emitted after a generation pass persists new signals.
type SignalsEvent struct {
	Count   int            `json:"count"`
	ByRule  map[string]int `json:"by_rule"`
	Signals []types.Signal `json:"signals"`
}

// ExecutionEvent is emitted for every signal an execution pass resolves.
type ExecutionEvent struct {
	SignalID int64              `json:"signal_id"`
	Status   types.SignalStatus `json:"status"`
	Side     types.Side         `json:"side"`
	Size     int                `json:"size"`
	Price    float64            `json:"price"`
	OrderID  string             `json:"order_id,omitempty"`
	Reason   string             `json:"reason,omitempty"`
}

// ExitEvent is emitted when a position is closed by a take-profit rule.
type ExitEvent struct {
	Reason      string     `json:"reason"`
	Side        types.Side `json:"side"`
	Size        int        `json:"size"`
	EntryPrice  float64    `json:"entry_price"`
	ExitPrice   float64    `json:"exit_price"`
	RealizedPnL float64    `json:"realized_pnl"`
}

// CycleEvent summarises one scheduler cycle.
type CycleEvent struct {
	Cycle    string        `json:"cycle"` // "fast" or "daily"
	Stages   int           `json:"stages"`
	Failed   []string      `json:"failed,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// NewExecutionEvent builds the event for a signal that reached status.
func NewExecutionEvent(sig types.Signal, status types.SignalStatus, size int, price float64, orderID, reason string) DashboardEvent {
	return DashboardEvent{
		Type:      EventExecution,
		Timestamp: time.Now(),
		MarketID:  sig.MarketTicker,
		Data: ExecutionEvent{
			SignalID: sig.ID,
			Status:   status,
			Side:     sig.Side,
			Size:     size,
			Price:    price,
			OrderID:  orderID,
			Reason:   reason,
		},
	}
}

// NewSignalsEvent builds the event for a generation pass.
func NewSignalsEvent(signals []types.Signal) DashboardEvent {
	byRule := make(map[string]int)
	for _, s := range signals {
		byRule[s.Rule]++
	}
	return DashboardEvent{
		Type:      EventSignals,
		Timestamp: time.Now(),
		Data:      SignalsEvent{Count: len(signals), ByRule: byRule, Signals: signals},
	}
}
