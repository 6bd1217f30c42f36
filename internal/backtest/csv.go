package backtest

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"
)

// resultsColumns is the fixed column order for the backtest-results export,
// per spec.md §6.
var resultsColumns = []string{
	"timestamp", "datetime", "open", "high", "low", "close", "volume",
	"funding_rate", "position", "trading_pnl", "funding_pnl", "total_pnl",
}

// comparisonColumns is the fixed column order for the strategy-comparison
// export, per spec.md §6.
var comparisonColumns = []string{
	"strategy", "total_return", "sharpe", "sortino", "max_drawdown",
	"win_rate", "funding_pnl", "funding_adjusted_sharpe",
}

// WriteResultsCSV writes the bar-by-bar backtest-results export to path,
// using the teacher's atomic-write discipline (write to .tmp, then rename)
// from internal/store.Store.SavePosition so a crash mid-write never leaves a
// truncated file behind.
func WriteResultsCSV(path string, records []BarRecord) error {
	return atomicWriteCSV(path, resultsColumns, len(records), func(w *csv.Writer) error {
		for _, r := range records {
			row := []string{
				strconv.FormatInt(r.Timestamp.Unix(), 10),
				r.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
				formatFloat(r.Open),
				formatFloat(r.High),
				formatFloat(r.Low),
				formatFloat(r.Close),
				formatFloat(r.Volume),
				formatFloat(r.FundingRate),
				formatFloat(r.Position),
				formatFloat(r.TradingPnL),
				formatFloat(r.FundingPnL),
				formatFloat(r.TotalPnL),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// ComparisonRow is one strategy's summary line in the strategy-comparison
// export.
type ComparisonRow struct {
	Strategy              string
	TotalReturn           float64
	Sharpe                float64
	Sortino               float64
	MaxDrawdown           float64
	WinRate               float64
	FundingPnL            float64
	FundingAdjustedSharpe float64
}

// WriteComparisonCSV writes a strategy-comparison export to path.
func WriteComparisonCSV(path string, rows []ComparisonRow) error {
	return atomicWriteCSV(path, comparisonColumns, len(rows), func(w *csv.Writer) error {
		for _, r := range rows {
			row := []string{
				r.Strategy,
				formatFloat(r.TotalReturn),
				formatFloat(r.Sharpe),
				formatFloat(r.Sortino),
				formatFloat(r.MaxDrawdown),
				formatFloat(r.WinRate),
				formatFloat(r.FundingPnL),
				formatFloat(r.FundingAdjustedSharpe),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadResultsCSV parses a backtest-results export back into BarRecords.
// Re-exporting the result with WriteResultsCSV reproduces the original file
// byte-for-byte, satisfying spec.md §8's parse/re-export round-trip
// invariant.
func ReadResultsCSV(path string) ([]BarRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	records := make([]BarRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) != len(resultsColumns) {
			return nil, fmt.Errorf("malformed csv row: %v", row)
		}
		unixSeconds, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		rec := BarRecord{Timestamp: time.Unix(unixSeconds, 0).UTC()}
		fields := []*float64{
			&rec.Open, &rec.High, &rec.Low, &rec.Close, &rec.Volume,
			&rec.FundingRate, &rec.Position, &rec.TradingPnL, &rec.FundingPnL, &rec.TotalPnL,
		}
		for i, dst := range fields {
			v, err := strconv.ParseFloat(row[i+2], 64)
			if err != nil {
				return nil, fmt.Errorf("parse column %d: %w", i+2, err)
			}
			*dst = v
		}
		records = append(records, rec)
	}
	return records, nil
}

func atomicWriteCSV(path string, header []string, _ int, writeRows func(*csv.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp csv: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := writeRows(w); err != nil {
		f.Close()
		return fmt.Errorf("write csv rows: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp csv: %w", err)
	}
	return os.Rename(tmp, path)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
