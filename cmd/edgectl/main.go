// edgectl runs single pipeline steps against the configured store, for
// operators and cron jobs that do not want the long-running bot.
//
//	edgectl migrate                        apply Postgres migrations
//	edgectl seed                           load the synthetic sample markets
//	edgectl ingest [-backfill] [-max N] [-lookback D]
//	edgectl calibrate [-mode extreme|uniform] [-bins N] [-csv FILE]
//	edgectl backtest [-grid] [-threshold P -direction yes|no] [-category C] [-csv FILE]
//	edgectl generate | execute [-limit N] | exits | snapshot | sync | cancel
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kalshi-edge/internal/backtest"
	"kalshi-edge/internal/calibration"
	"kalshi-edge/internal/config"
	"kalshi-edge/internal/engine"
	"kalshi-edge/internal/market"
	"kalshi-edge/internal/store"
	"kalshi-edge/pkg/types"
)

const usage = `usage: edgectl <command> [flags]

commands:
  migrate    apply database migrations
  seed       load synthetic sample markets
  ingest     pull markets and candles from Kalshi
  calibrate  recompute a calibration table
  backtest   run threshold backtests
  generate   generate signals
  execute    execute pending signals
  exits      run take-profit exits
  snapshot   write today's PnL row
  sync       replace positions with the venue's
  cancel     cancel open signals
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "edgectl:", err)
		os.Exit(1)
	}
}

// env is what every command shares.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	store  store.Store
	engine *engine.Engine
	out    io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	handler, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		return errUsage
	}

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	exec := handler(fs)
	if err := fs.Parse(rest); err != nil {
		return errUsage
	}

	e, err := setup(ctx, stderr)
	if err != nil {
		return err
	}
	defer e.store.Close()
	e.out = stdout
	return exec(ctx, e)
}

func setup(ctx context.Context, stderr io.Writer) (*env, error) {
	cfgPath := os.Getenv("KALSHI_EDGE_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	// No dashboard in the CLI, so nothing should buffer events.
	cfg.Dashboard.Enabled = false

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}))
	for _, w := range cfg.Warnings {
		logger.Warn("config", "warning", w)
	}

	st, err := store.Open(ctx, *cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	eng, err := engine.New(*cfg, st, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, store: st, engine: eng}, nil
}

// A command registers its flags on fs and returns the action to run once
// they are parsed.
type command func(fs *flag.FlagSet) func(ctx context.Context, e *env) error

var commands = map[string]command{
	"migrate":   migrateCmd,
	"seed":      seedCmd,
	"ingest":    ingestCmd,
	"calibrate": calibrateCmd,
	"backtest":  backtestCmd,
	"generate":  generateCmd,
	"execute":   executeCmd,
	"exits":     exitsCmd,
	"snapshot":  snapshotCmd,
	"sync":      syncCmd,
	"cancel":    cancelCmd,
}

func migrateCmd(_ *flag.FlagSet) func(context.Context, *env) error {
	return func(_ context.Context, e *env) error {
		if e.cfg.Database.URL == "" {
			return errors.New("migrate needs a database url (set DATABASE_URL)")
		}
		// store.Open already migrated.
		fmt.Fprintln(e.out, "migrations applied")
		return nil
	}
}

func seedCmd(_ *flag.FlagSet) func(context.Context, *env) error {
	return func(ctx context.Context, e *env) error {
		markets, prices, err := market.SeedSample(ctx, e.store, time.Now().UTC())
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "seeded %d markets, %d prices\n", markets, prices)
		return nil
	}
}

func ingestCmd(fs *flag.FlagSet) func(context.Context, *env) error {
	backfill := fs.Bool("backfill", false, "load full history of settled markets")
	maxMarkets := fs.Int("max", 0, "markets to fetch candles for (backfill: 0 = all; recent: 0 = config cap)")
	lookback := fs.Duration("lookback", 0, "recent ingest window (default from config)")
	return func(ctx context.Context, e *env) error {
		var (
			stats market.Stats
			err   error
		)
		if *backfill {
			stats, err = e.engine.Backfill(ctx, *maxMarkets)
		} else {
			stats, err = e.engine.IngestRecent(ctx, *lookback, *maxMarkets)
		}
		if err != nil {
			return err
		}
		return writeJSON(e.out, stats)
	}
}

func calibrateCmd(fs *flag.FlagSet) func(context.Context, *env) error {
	mode := fs.String("mode", calibration.ModeExtreme, "binning mode: extreme or uniform")
	bins := fs.Int("bins", calibration.DefaultBins, "bucket count for uniform binning")
	csvPath := fs.String("csv", "", "also write the table to this CSV file")
	return func(ctx context.Context, e *env) error {
		b, err := calibration.BinningFor(*mode, *bins)
		if err != nil {
			return err
		}
		res, err := e.engine.RefreshCalibration(ctx, b)
		if err != nil {
			return err
		}
		if err := calibration.WriteTable(e.out, res.Buckets); err != nil {
			return err
		}
		if *csvPath == "" {
			return nil
		}
		return writeFile(*csvPath, func(w io.Writer) error { return calibration.WriteCSV(w, res.Buckets) })
	}
}

func backtestCmd(fs *flag.FlagSet) func(context.Context, *env) error {
	grid := fs.Bool("grid", false, "run and save the full threshold grid")
	threshold := fs.Float64("threshold", 0.90, "entry threshold")
	direction := fs.String("direction", "yes", "side bought at the threshold: yes or no")
	category := fs.String("category", "", "restrict to one category")
	csvPath := fs.String("csv", "", "write the single run's trades to this CSV file")
	return func(ctx context.Context, e *env) error {
		if *grid {
			results, err := e.engine.RunBacktests(ctx, backtest.Grid())
			if err != nil {
				return err
			}
			return backtest.WriteTable(e.out, results)
		}

		dir, err := backtest.ParseDirection(*direction)
		if err != nil {
			return err
		}
		sum, err := e.engine.Backtest(ctx, *threshold, dir, *category)
		if err != nil {
			return err
		}
		name := fmt.Sprintf("threshold_%s_%.2f", dir, *threshold)
		if err := backtest.WriteTable(e.out, []types.BacktestResult{sum.Result(name, backtest.Filter{Category: *category})}); err != nil {
			return err
		}
		if *csvPath == "" {
			return nil
		}
		return writeFile(*csvPath, func(w io.Writer) error { return backtest.WriteTradesCSV(w, sum.Trades) })
	}
}

func generateCmd(_ *flag.FlagSet) func(context.Context, *env) error {
	return func(ctx context.Context, e *env) error {
		signals, err := e.engine.GenerateSignals(ctx)
		if err != nil {
			return err
		}
		return writeJSON(e.out, signals)
	}
}

func executeCmd(fs *flag.FlagSet) func(context.Context, *env) error {
	limit := fs.Int("limit", 0, "process at most this many signals (default from config)")
	return func(ctx context.Context, e *env) error {
		rep, err := e.engine.ExecutePending(ctx, *limit)
		if err != nil {
			return err
		}
		return writeJSON(e.out, rep)
	}
}

func exitsCmd(_ *flag.FlagSet) func(context.Context, *env) error {
	return func(ctx context.Context, e *env) error {
		rep, err := e.engine.RunExits(ctx)
		if err != nil {
			return err
		}
		return writeJSON(e.out, rep)
	}
}

func snapshotCmd(_ *flag.FlagSet) func(context.Context, *env) error {
	return func(ctx context.Context, e *env) error {
		row, err := e.engine.SnapshotPnL(ctx)
		if err != nil {
			return err
		}
		return writeJSON(e.out, row)
	}
}

func syncCmd(_ *flag.FlagSet) func(context.Context, *env) error {
	return func(ctx context.Context, e *env) error {
		n, err := e.engine.SyncPositions(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "synced %d positions\n", n)
		return nil
	}
}

func cancelCmd(_ *flag.FlagSet) func(context.Context, *env) error {
	return func(ctx context.Context, e *env) error {
		n, err := e.engine.CancelOpenSignals(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "cancelled %d signals\n", n)
		return nil
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return write(f)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
