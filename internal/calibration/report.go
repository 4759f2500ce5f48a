package calibration

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"kalshi-edge/pkg/types"
)

// WriteTable renders buckets as a console table.
func WriteTable(w io.Writer, buckets []types.CalibrationBucket) error {
	table := tablewriter.NewWriter(w)
	table.Header("Bucket", "Count", "YES", "p_mkt", "p_true")
	for _, b := range buckets {
		if err := table.Append(
			fmt.Sprintf("%.2f-%.2f", b.Low, b.High),
			strconv.Itoa(b.N),
			strconv.Itoa(b.NYes),
			fmt.Sprintf("%.2f", orZero(b.PMktAvg)),
			fmt.Sprintf("%.2f", orZero(b.PTrue)),
		); err != nil {
			return fmt.Errorf("append calibration row: %w", err)
		}
	}
	return table.Render()
}

// WriteCSV exports buckets with a header row. Undefined values are empty.
func WriteCSV(w io.Writer, buckets []types.CalibrationBucket) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"bucket_low", "bucket_high", "n", "n_yes", "p_mkt_avg", "p_true"}); err != nil {
		return err
	}
	for _, b := range buckets {
		row := []string{
			formatFloat(b.Low),
			formatFloat(b.High),
			strconv.Itoa(b.N),
			strconv.Itoa(b.NYes),
			formatOptional(b.PMktAvg),
			formatOptional(b.PTrue),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
