package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"kalshi-edge/internal/store/migrations"
	"kalshi-edge/pkg/types"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on PostgreSQL via pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects, verifies the connection and returns the store.
func NewPostgresStore(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Migrate applies every embedded migration in file name order. Migrations
// are idempotent, so running them on every start is safe.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrations.PostgresFS, "postgres")
	if err != nil {
		return fmt.Errorf("read embedded postgres migrations: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		data, err := fs.ReadFile(migrations.PostgresFS, "postgres/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}
	return nil
}

func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ---- markets ----

const marketColumns = `market_id, name, category, series_ticker, resolution, resolved_at, expiration_ts, created_at`

func scanMarket(row pgx.Row) (types.Market, error) {
	var (
		m          types.Market
		category   *string
		series     *string
		resolution *string
	)
	if err := row.Scan(&m.MarketID, &m.Name, &category, &series, &resolution,
		&m.ResolvedAt, &m.ExpirationTS, &m.CreatedAt); err != nil {
		return types.Market{}, err
	}
	m.Category = deref(category)
	m.SeriesTicker = deref(series)
	if resolution != nil {
		o := types.Outcome(*resolution)
		m.Resolution = &o
	}
	return m, nil
}

func collectMarkets(rows pgx.Rows) ([]types.Market, error) {
	defer rows.Close()
	var out []types.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertMarket inserts or refreshes a market. Rows that already carry a
// resolution are left untouched.
func (s *PostgresStore) UpsertMarket(ctx context.Context, m types.Market) error {
	var resolution *string
	if m.Resolution != nil {
		r := string(*m.Resolution)
		resolution = &r
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO markets (`+marketColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (market_id) DO UPDATE SET
			name          = EXCLUDED.name,
			category      = COALESCE(EXCLUDED.category, markets.category),
			series_ticker = COALESCE(EXCLUDED.series_ticker, markets.series_ticker),
			resolution    = EXCLUDED.resolution,
			resolved_at   = EXCLUDED.resolved_at,
			expiration_ts = COALESCE(EXCLUDED.expiration_ts, markets.expiration_ts),
			created_at    = COALESCE(markets.created_at, EXCLUDED.created_at)
		WHERE markets.resolution IS NULL`,
		m.MarketID, m.Name, nullString(m.Category), nullString(m.SeriesTicker),
		resolution, m.ResolvedAt, m.ExpirationTS, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert market %s: %w", m.MarketID, err)
	}
	return nil
}

func (s *PostgresStore) GetMarkets(ctx context.Context, ids []string) (map[string]types.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE market_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get markets: %w", err)
	}
	list, err := collectMarkets(rows)
	if err != nil {
		return nil, fmt.Errorf("scan markets: %w", err)
	}
	out := make(map[string]types.Market, len(list))
	for _, m := range list {
		out[m.MarketID] = m
	}
	return out, nil
}

func (s *PostgresStore) ListResolvedMarkets(ctx context.Context) ([]types.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE resolution IS NOT NULL ORDER BY market_id`)
	if err != nil {
		return nil, fmt.Errorf("list resolved markets: %w", err)
	}
	return collectMarkets(rows)
}

func (s *PostgresStore) ListIngestTargets(ctx context.Context, cutoff time.Time) ([]types.Market, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+marketColumns+` FROM markets
		WHERE resolution IS NULL OR resolved_at >= $1
		ORDER BY market_id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list ingest targets: %w", err)
	}
	return collectMarkets(rows)
}

// ---- prices ----

const priceColumns = `market_id, ts, bid_yes, ask_yes, last_yes, volume, open_interest`

func scanPrice(row pgx.Row) (types.PriceSnapshot, error) {
	var p types.PriceSnapshot
	err := row.Scan(&p.MarketID, &p.Timestamp, &p.BidYes, &p.AskYes, &p.LastYes, &p.Volume, &p.OpenInterest)
	return p, err
}

func (s *PostgresStore) InsertPrices(ctx context.Context, prices []types.PriceSnapshot) (int, error) {
	if len(prices) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, p := range prices {
		batch.Queue(`
			INSERT INTO prices (`+priceColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (market_id, ts) DO NOTHING`,
			p.MarketID, p.Timestamp, p.BidYes, p.AskYes, p.LastYes, p.Volume, p.OpenInterest)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for range prices {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("insert price: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (s *PostgresStore) PriceAtOrBefore(ctx context.Context, marketID string, at *time.Time) (types.PriceSnapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+priceColumns+` FROM prices
		WHERE market_id = $1 AND ($2::timestamptz IS NULL OR ts <= $2::timestamptz)
		ORDER BY ts DESC
		LIMIT 1`, marketID, at)
	p, err := scanPrice(row)
	if err != nil {
		if isNotFoundError(err) {
			return types.PriceSnapshot{}, ErrNotFound
		}
		return types.PriceSnapshot{}, fmt.Errorf("price at or before: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) PriceHistory(ctx context.Context, marketID string) ([]types.PriceSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+priceColumns+` FROM prices WHERE market_id = $1 ORDER BY ts ASC`, marketID)
	if err != nil {
		return nil, fmt.Errorf("price history: %w", err)
	}
	defer rows.Close()
	var out []types.PriceSnapshot
	for rows.Next() {
		p, err := scanPrice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LatestPrices(ctx context.Context) (map[string]types.PriceSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (market_id) `+priceColumns+`
		FROM prices
		ORDER BY market_id, ts DESC`)
	if err != nil {
		return nil, fmt.Errorf("latest prices: %w", err)
	}
	defer rows.Close()
	out := make(map[string]types.PriceSnapshot)
	for rows.Next() {
		p, err := scanPrice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		out[p.MarketID] = p
	}
	return out, rows.Err()
}

// ---- signals ----

const signalColumns = `id, market_ticker, side, rule, threshold, category, expiry_bucket,
	p_mkt, p_true_est, expected_value, size, status, order_id, executed_price,
	executed_size, last_error, created_at, sent_at, filled_at`

func scanSignal(row pgx.Row) (types.Signal, error) {
	var (
		sig                                       types.Signal
		side, status                              string
		rule, category, bucket, orderID, lastErr *string
	)
	err := row.Scan(&sig.ID, &sig.MarketTicker, &side, &rule, &sig.Threshold, &category, &bucket,
		&sig.PMkt, &sig.PTrueEst, &sig.ExpectedValue, &sig.Size, &status, &orderID,
		&sig.ExecutedPrice, &sig.ExecutedSize, &lastErr, &sig.CreatedAt, &sig.SentAt, &sig.FilledAt)
	if err != nil {
		return types.Signal{}, err
	}
	sig.Side = types.Side(side)
	sig.Status = types.SignalStatus(status)
	sig.Rule = deref(rule)
	sig.Category = deref(category)
	sig.ExpiryBucket = types.ExpiryBucket(deref(bucket))
	sig.OrderID = deref(orderID)
	sig.LastError = deref(lastErr)
	return sig, nil
}

func (s *PostgresStore) querySignals(ctx context.Context, query string, args ...any) ([]types.Signal, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertSignal(ctx context.Context, sig *types.Signal) error {
	if sig.Status == "" {
		sig.Status = types.StatusPending
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO signals (
			market_ticker, side, rule, threshold, category, expiry_bucket,
			p_mkt, p_true_est, expected_value, size, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`,
		sig.MarketTicker, string(sig.Side), nullString(sig.Rule), sig.Threshold,
		nullString(sig.Category), nullString(string(sig.ExpiryBucket)),
		sig.PMkt, sig.PTrueEst, sig.ExpectedValue, sig.Size, string(sig.Status),
	).Scan(&sig.ID, &sig.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

func (s *PostgresStore) PendingSignals(ctx context.Context, limit int) ([]types.Signal, error) {
	out, err := s.querySignals(ctx, `
		SELECT `+signalColumns+` FROM signals
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending signals: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) OpenSignals(ctx context.Context) ([]types.Signal, error) {
	out, err := s.querySignals(ctx, `
		SELECT `+signalColumns+` FROM signals
		WHERE status = ANY($1)
		ORDER BY created_at ASC, id ASC`, statusStrings(types.OpenStatuses))
	if err != nil {
		return nil, fmt.Errorf("open signals: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) RecentSignals(ctx context.Context, limit int) ([]types.Signal, error) {
	out, err := s.querySignals(ctx, `
		SELECT `+signalColumns+` FROM signals
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent signals: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateSignal(ctx context.Context, u SignalUpdate) error {
	return updateSignal(ctx, s.pool, u)
}

// updateSignal applies u only when the current status is a legal source for
// u.Status, so concurrent writers cannot regress a signal.
func updateSignal(ctx context.Context, q querier, u SignalUpdate) error {
	at := u.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	tag, err := q.Exec(ctx, `
		UPDATE signals SET
			status         = $2,
			size           = COALESCE($3::int, size),
			order_id       = COALESCE(NULLIF($4, ''), order_id),
			executed_price = COALESCE($5::double precision, executed_price),
			executed_size  = COALESCE($6::int, executed_size),
			last_error     = COALESCE(NULLIF($7, ''), last_error),
			sent_at        = CASE WHEN $8::bool THEN COALESCE(sent_at, $9::timestamptz) ELSE sent_at END,
			filled_at      = CASE WHEN $2 = 'filled' THEN $9::timestamptz ELSE filled_at END
		WHERE id = $1 AND status = ANY($10)`,
		u.ID, string(u.Status), u.Size, u.OrderID, u.ExecutedPrice, u.ExecutedSize,
		u.LastError, u.stampsSent(), at, statusStrings(types.SourcesFor(u.Status)),
	)
	if err != nil {
		return fmt.Errorf("update signal %d: %w", u.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	if err := q.QueryRow(ctx, `SELECT status FROM signals WHERE id = $1`, u.ID).Scan(&current); err != nil {
		if isNotFoundError(err) {
			return fmt.Errorf("signal %d: %w", u.ID, ErrNotFound)
		}
		return fmt.Errorf("read signal %d status: %w", u.ID, err)
	}
	return fmt.Errorf("signal %d %s -> %s: %w", u.ID, current, u.Status, ErrInvalidTransition)
}

func (s *PostgresStore) CancelOpenSignals(ctx context.Context, reason string, olderThan *time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE signals
		SET status = 'cancelled', last_error = $1
		WHERE status = ANY($2)
		  AND ($3::timestamptz IS NULL OR created_at < $3::timestamptz)`,
		reason, statusStrings(types.OpenStatuses), olderThan)
	if err != nil {
		return 0, fmt.Errorf("cancel open signals: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func statusStrings(in []types.SignalStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

// ---- positions, trades, pnl ----

const positionColumns = `market_id, side, size, avg_price, realized_pnl, unrealized_pnl, marked_at, updated_at`

func scanPosition(row pgx.Row) (types.Position, error) {
	var (
		p    types.Position
		side string
	)
	if err := row.Scan(&p.MarketID, &side, &p.Size, &p.AvgPrice, &p.RealizedPnL,
		&p.UnrealizedPnL, &p.MarkedAt, &p.UpdatedAt); err != nil {
		return types.Position{}, err
	}
	p.Side = types.Side(side)
	return p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context) ([]types.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions ORDER BY market_id, side`)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()
	var out []types.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkPositions(ctx context.Context, marks []PositionMark) error {
	if len(marks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range marks {
		batch.Queue(`
			UPDATE positions SET unrealized_pnl = $3, marked_at = $4
			WHERE market_id = $1 AND side = $2`,
			m.MarketID, string(m.Side), m.UnrealizedPnL, m.MarkedAt)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("mark positions: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReplacePositions(ctx context.Context, positions []types.Position) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM positions`); err != nil {
			return fmt.Errorf("clear positions: %w", err)
		}
		for _, p := range positions {
			if err := upsertPosition(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertPosition(ctx context.Context, q querier, p types.Position) error {
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO positions (`+positionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (market_id, side) DO UPDATE SET
			size         = EXCLUDED.size,
			avg_price    = EXCLUDED.avg_price,
			realized_pnl = EXCLUDED.realized_pnl,
			updated_at   = EXCLUDED.updated_at`,
		p.MarketID, string(p.Side), p.Size, p.AvgPrice, p.RealizedPnL,
		p.UnrealizedPnL, p.MarkedAt, updated)
	if err != nil {
		return fmt.Errorf("upsert position %s/%s: %w", p.MarketID, p.Side, err)
	}
	return nil
}

func (s *PostgresStore) RecentTrades(ctx context.Context, limit int) ([]types.Trade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, signal_id, market_id, side, size, price, direction, executed_at
		FROM trades
		ORDER BY executed_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent trades: %w", err)
	}
	defer rows.Close()
	var out []types.Trade
	for rows.Next() {
		var (
			t               types.Trade
			side, direction string
		)
		if err := rows.Scan(&t.ID, &t.SignalID, &t.MarketID, &side, &t.Size, &t.Price,
			&direction, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = types.Side(side)
		t.Direction = types.Direction(direction)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertAccountPnL(ctx context.Context, row types.AccountPnL) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO account_pnl (as_of_date, realized_pnl, unrealized_pnl, total_equity, bankroll)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (as_of_date) DO UPDATE SET
			realized_pnl   = EXCLUDED.realized_pnl,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			total_equity   = EXCLUDED.total_equity,
			bankroll       = EXCLUDED.bankroll`,
		truncateDay(row.AsOfDate), row.RealizedPnL, row.UnrealizedPnL, row.TotalEquity, row.Bankroll)
	if err != nil {
		return fmt.Errorf("upsert account pnl: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestAccountPnL(ctx context.Context) (types.AccountPnL, error) {
	rows, err := s.ListAccountPnL(ctx, 1)
	if err != nil {
		return types.AccountPnL{}, err
	}
	if len(rows) == 0 {
		return types.AccountPnL{}, ErrNotFound
	}
	return rows[0], nil
}

func (s *PostgresStore) ListAccountPnL(ctx context.Context, limit int) ([]types.AccountPnL, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT as_of_date, realized_pnl, unrealized_pnl, total_equity, bankroll
		FROM account_pnl
		ORDER BY as_of_date DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list account pnl: %w", err)
	}
	defer rows.Close()
	var out []types.AccountPnL
	for rows.Next() {
		var r types.AccountPnL
		if err := rows.Scan(&r.AsOfDate, &r.RealizedPnL, &r.UnrealizedPnL, &r.TotalEquity, &r.Bankroll); err != nil {
			return nil, fmt.Errorf("scan account pnl: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetBankrollBase(ctx context.Context) (types.BankrollBase, error) {
	var b types.BankrollBase
	err := s.pool.QueryRow(ctx,
		`SELECT base, equity_offset, reset_at FROM bankroll WHERE id = 1`).
		Scan(&b.Base, &b.EquityOffset, &b.ResetAt)
	if err != nil {
		if isNotFoundError(err) {
			return types.BankrollBase{}, ErrNotFound
		}
		return types.BankrollBase{}, fmt.Errorf("get bankroll: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) SetBankrollBase(ctx context.Context, b types.BankrollBase) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bankroll (id, base, equity_offset, reset_at) VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			base = EXCLUDED.base, equity_offset = EXCLUDED.equity_offset, reset_at = EXCLUDED.reset_at`,
		b.Base, b.EquityOffset, b.ResetAt)
	if err != nil {
		return fmt.Errorf("set bankroll: %w", err)
	}
	return nil
}

// ---- results ----

func (s *PostgresStore) SaveCalibrationResult(ctx context.Context, r *types.CalibrationResult) error {
	if r.Params == nil {
		r.Params = map[string]any{}
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO calibration_results (binning_mode, params, buckets)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		r.BinningMode, r.Params, r.Buckets,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return fmt.Errorf("save calibration result: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestCalibrationResult(ctx context.Context, binningMode string) (types.CalibrationResult, error) {
	var r types.CalibrationResult
	err := s.pool.QueryRow(ctx, `
		SELECT id, binning_mode, params, buckets, created_at
		FROM calibration_results
		WHERE binning_mode = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, binningMode,
	).Scan(&r.ID, &r.BinningMode, &r.Params, &r.Buckets, &r.CreatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return types.CalibrationResult{}, ErrNotFound
		}
		return types.CalibrationResult{}, fmt.Errorf("latest calibration result: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) SaveBacktestResult(ctx context.Context, r *types.BacktestResult) error {
	if r.Params == nil {
		r.Params = map[string]any{}
	}
	if r.Summary == nil {
		r.Summary = map[string]any{}
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO backtest_results (
			strategy_name, params, num_trades, win_rate, average_profit, total_profit, raw_summary
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		r.StrategyName, r.Params, r.NumTrades, r.WinRate, r.AverageProfit, r.TotalProfit, r.Summary,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return fmt.Errorf("save backtest result: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestBacktestResults(ctx context.Context) ([]types.BacktestResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (strategy_name)
			id, strategy_name, params, num_trades, win_rate, average_profit, total_profit, raw_summary, created_at
		FROM backtest_results
		ORDER BY strategy_name, created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("latest backtest results: %w", err)
	}
	defer rows.Close()
	var out []types.BacktestResult
	for rows.Next() {
		var r types.BacktestResult
		if err := rows.Scan(&r.ID, &r.StrategyName, &r.Params, &r.NumTrades, &r.WinRate,
			&r.AverageProfit, &r.TotalProfit, &r.Summary, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan backtest result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- transactions and lease ----

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(pgTx{tx: tx})
	})
}

// AcquireExecutionLease takes a session-level advisory lock on a dedicated
// connection. The lock lives until release is called or the connection dies.
func (s *PostgresStore) AcquireExecutionLease(ctx context.Context) (func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lease connection: %w", err)
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, executionLeaseKey).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, ErrLeaseHeld
	}
	return func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, executionLeaseKey)
		conn.Release()
	}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t pgTx) UpdateSignal(ctx context.Context, u SignalUpdate) error {
	return updateSignal(ctx, t.tx, u)
}

func (t pgTx) InsertTrade(ctx context.Context, tr *types.Trade) error {
	executed := tr.ExecutedAt
	if executed.IsZero() {
		executed = time.Now().UTC()
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO trades (signal_id, market_id, side, size, price, direction, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, executed_at`,
		tr.SignalID, tr.MarketID, string(tr.Side), tr.Size, tr.Price, string(tr.Direction), executed,
	).Scan(&tr.ID, &tr.ExecutedAt)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func (t pgTx) GetPosition(ctx context.Context, marketID string, side types.Side) (types.Position, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE market_id = $1 AND side = $2 FOR UPDATE`,
		marketID, string(side))
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return types.Position{}, ErrNotFound
		}
		return types.Position{}, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

func (t pgTx) UpsertPosition(ctx context.Context, p types.Position) error {
	return upsertPosition(ctx, t.tx, p)
}
