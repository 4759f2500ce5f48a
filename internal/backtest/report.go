package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"kalshi-edge/pkg/types"
)

// WriteTable renders persisted results as a console table.
func WriteTable(w io.Writer, results []types.BacktestResult) error {
	table := tablewriter.NewWriter(w)
	table.Header("Strategy", "Trades", "Win rate", "Avg profit", "Total profit", "Max DD")
	for _, r := range results {
		dd, _ := r.Summary["max_drawdown"].(float64)
		if err := table.Append(
			r.StrategyName,
			strconv.Itoa(r.NumTrades),
			fmt.Sprintf("%.2f%%", r.WinRate*100),
			fmt.Sprintf("%.4f", r.AverageProfit),
			fmt.Sprintf("%.4f", r.TotalProfit),
			fmt.Sprintf("%.4f", dd),
		); err != nil {
			return fmt.Errorf("append backtest row: %w", err)
		}
	}
	return table.Render()
}

// WriteTradesCSV exports a run's trades.
func WriteTradesCSV(w io.Writer, trades []Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"market_id", "entry_timestamp", "entry_price", "resolution", "profit"}); err != nil {
		return err
	}
	for _, t := range trades {
		if err := cw.Write([]string{
			t.MarketID,
			t.EntryTimestamp.UTC().Format(time.RFC3339),
			strconv.FormatFloat(t.EntryPrice, 'f', -1, 64),
			string(t.Resolution),
			strconv.FormatFloat(t.Profit, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
