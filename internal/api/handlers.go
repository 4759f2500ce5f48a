package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"kalshi-edge/internal/calibration"
	"kalshi-edge/internal/config"
	"kalshi-edge/internal/store"
	"kalshi-edge/pkg/types"
)

const (
	defaultSignalLimit = 100
	defaultPnLLimit    = 30
	maxListLimit       = 1000
)

// Handlers holds all HTTP handler dependencies
type Handlers struct {
	provider Provider
	store    store.Store
	cfg      config.Config
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(provider Provider, st store.Store, cfg config.Config, hub *Hub, logger *slog.Logger) *Handlers {
	h := &Handlers{
		provider: provider,
		store:    st,
		cfg:      cfg,
		hub:      hub,
		logger:   logger.With("component", "api-handlers"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r.Header.Get("Origin"), cfg.Dashboard, r.Host)
		},
	}
	return h
}

// isOriginAllowed gates websocket upgrades. Requests without an Origin come
// from non-browser clients and pass. An explicit allowlist is matched
// exactly; without one, loopback origins and the server's own host pass.
func isOriginAllowed(origin string, cfg config.DashboardConfig, reqHost string) bool {
	if origin == "" {
		return true
	}
	if len(cfg.AllowedOrigins) > 0 {
		return slices.Contains(cfg.AllowedOrigins, origin)
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return strings.EqualFold(u.Host, reqHost) || strings.EqualFold(u.Hostname(), hostOnly(reqHost))
}

func hostOnly(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return hostport
}

// HandleHealth returns a simple health check response
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Mode:      h.provider.Mode(),
		WSClients: h.hub.ClientCount(),
	})
}

// HandleSummary returns the latest backtest result per strategy.
func (h *Handlers) HandleSummary(w http.ResponseWriter, r *http.Request) {
	results, err := h.store.LatestBacktestResults(r.Context())
	if err != nil {
		h.internalError(w, "load backtest results", err)
		return
	}
	writeJSON(w, http.StatusOK, BuildSummary(results))
}

// HandleCalibration returns the buckets of the latest calibration for the
// requested binning mode (extreme by default), or an empty list.
func (h *Handlers) HandleCalibration(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = calibration.ModeExtreme
	}
	res, err := h.store.LatestCalibrationResult(r.Context(), mode)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, []types.CalibrationBucket{})
		return
	}
	if err != nil {
		h.internalError(w, "load calibration", err)
		return
	}
	writeJSON(w, http.StatusOK, res.Buckets)
}

// HandleSignals returns the most recent signals, newest first.
func (h *Handlers) HandleSignals(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultSignalLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	signals, err := h.store.RecentSignals(r.Context(), limit)
	if err != nil {
		h.internalError(w, "load signals", err)
		return
	}
	if signals == nil {
		signals = []types.Signal{}
	}
	writeJSON(w, http.StatusOK, signals)
}

// HandlePositions returns every position row, flat ones included.
func (h *Handlers) HandlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.store.ListPositions(r.Context())
	if err != nil {
		h.internalError(w, "load positions", err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// HandlePnL returns recent daily account snapshots, newest first.
func (h *Handlers) HandlePnL(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultPnLLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := h.store.ListAccountPnL(r.Context(), limit)
	if err != nil {
		h.internalError(w, "load pnl", err)
		return
	}
	if rows == nil {
		rows = []types.AccountPnL{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// HandleExposure returns the current risk readout.
func (h *Handlers) HandleExposure(w http.ResponseWriter, r *http.Request) {
	snap, err := h.provider.RiskSnapshot(r.Context())
	if err != nil {
		h.internalError(w, "load exposure", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleGenerate runs a generation pass.
func (h *Handlers) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	signals, err := h.provider.GenerateSignals(r.Context())
	if err != nil {
		h.internalError(w, "generate signals", err)
		return
	}
	resp := GenerateResponse{Success: true, Count: len(signals), ByRule: make(map[string]int)}
	for _, s := range signals {
		resp.ByRule[s.Rule]++
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleExecute runs an execution pass over up to ?limit= pending signals.
func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rep, err := h.provider.ExecutePending(r.Context(), limit)
	if err != nil {
		h.internalError(w, "execute signals", err)
		return
	}
	status := http.StatusOK
	if rep.Skipped {
		status = http.StatusConflict
	}
	writeJSON(w, status, ExecuteResponse{Success: !rep.Skipped, ExecutionReport: rep})
}

// HandleCancel cancels every open signal.
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	n, err := h.provider.CancelOpenSignals(r.Context())
	if err != nil {
		h.internalError(w, "cancel signals", err)
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{Success: true, Cancelled: n})
}

// HandleResetBankroll re-anchors the bankroll to its configured initial value.
func (h *Handlers) HandleResetBankroll(w http.ResponseWriter, r *http.Request) {
	row, err := h.provider.ResetBankroll(r.Context())
	if err != nil {
		h.internalError(w, "reset bankroll", err)
		return
	}
	writeJSON(w, http.StatusOK, BankrollResponse{Success: true, PnL: row})
}

// HandleWebSocket upgrades the connection and registers a client that first
// receives the current snapshot and then every dashboard event.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "origin", r.Header.Get("Origin"), "error", err)
		return
	}

	snapshot, err := BuildSnapshot(r.Context(), h.provider, h.store, h.cfg)
	if err != nil {
		h.logger.Error("failed to build initial snapshot", "error", err)
	}
	data, err := json.Marshal(DashboardEvent{Type: EventSnapshot, Timestamp: time.Now(), Data: snapshot})
	if err != nil {
		h.logger.Error("failed to marshal initial snapshot", "error", err)
		data = nil
	}
	NewClient(h.hub, conn, data)
}

func (h *Handlers) internalError(w http.ResponseWriter, action string, err error) {
	h.logger.Error(action+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, action+" failed")
}

func queryLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxListLimit {
		return 0, errors.New("limit must be an integer between 1 and 1000")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
