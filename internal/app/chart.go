package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"crypto-alerts/internal/alert"
	"crypto-alerts/internal/indicator"
	"crypto-alerts/internal/market"
)

// chartRow is one candle with its RSI. RSI is set only when HasRSI.
type chartRow struct {
	OpenTime time.Time
	Close    float64
	RSI      float64
	HasRSI   bool
}

// Chart renders closes and RSI for a symbol as CSV and/or PNG.
func (a *App) Chart(ctx context.Context, opts ChartOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Symbol == "" {
		return errors.New("--symbol is required")
	}
	if !opts.Timeframe.Valid() {
		return errors.New("--timeframe must be one of 1m, 5m, 15m, 1h, 4h, 1d")
	}
	cfg := alert.DefaultRSIConfig()
	if opts.Period > 0 {
		cfg.Period = opts.Period
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	opts.Candles = a.Config.ResolveCandles(opts.Candles)
	if opts.Candles <= cfg.Period {
		return errors.New("--candles must exceed the RSI period")
	}

	candles, err := a.newRouter().Candles(ctx, opts.Symbol, opts.Timeframe, opts.Candles)
	if err != nil {
		return err
	}
	rows, err := chartRows(candles, cfg.Period)
	if err != nil {
		return err
	}
	a.Logger.Info().Str("symbol", opts.Symbol).Str("timeframe", string(opts.Timeframe)).Int("candles", len(rows)).Msg("exporting chart")

	if opts.CSVPath != "" {
		if err := writeChartCSV(opts.CSVPath, rows); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := a.writeChartPNG(opts.PNGPath, opts.Symbol, rows, cfg); err != nil {
			return err
		}
	}
	return nil
}

func chartRows(candles []market.Candle, period int) ([]chartRow, error) {
	closes := market.Closes(candles)
	series, err := indicator.Series(closes, period)
	if err != nil {
		return nil, err
	}
	rows := make([]chartRow, len(candles))
	for i, c := range candles {
		rows[i] = chartRow{OpenTime: c.OpenTime, Close: closes[i]}
		if i >= period {
			rows[i].RSI = series[i-period]
			rows[i].HasRSI = true
		}
	}
	return rows, nil
}

func writeChartCSV(path string, rows []chartRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"open_time", "close", "rsi"}); err != nil {
		return err
	}
	for _, r := range rows {
		rsi := ""
		if r.HasRSI {
			rsi = strconv.FormatFloat(r.RSI, 'f', 4, 64)
		}
		record := []string{
			r.OpenTime.UTC().Format(time.RFC3339),
			strconv.FormatFloat(r.Close, 'f', -1, 64),
			rsi,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func (a *App) writeChartPNG(path, symbol string, rows []chartRow, cfg alert.RSIConfig) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(rows))
	closes := make([]float64, len(rows))
	var rsiX []time.Time
	var rsi, overbought, oversold []float64
	for i, r := range rows {
		x[i] = r.OpenTime
		closes[i] = r.Close
		if r.HasRSI {
			rsiX = append(rsiX, r.OpenTime)
			rsi = append(rsi, r.RSI)
			overbought = append(overbought, cfg.OverboughtLevel)
			oversold = append(oversold, cfg.OversoldLevel)
		}
	}

	graph := chart.Chart{
		Width:  a.Config.Chart.Width,
		Height: a.Config.Chart.Height,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: symbol + " close",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.2f")
			},
		},
		YAxisSecondary: chart.YAxis{
			Name:  "RSI",
			Range: &chart.ContinuousRange{Min: 0, Max: 100},
		},
		Series: []chart.Series{
			chart.TimeSeries{Name: "Close", XValues: x, YValues: closes},
			chart.TimeSeries{Name: "RSI(" + strconv.Itoa(cfg.Period) + ")", XValues: rsiX, YValues: rsi, YAxis: chart.YAxisSecondary},
			chart.TimeSeries{Name: "Overbought", XValues: rsiX, YValues: overbought, YAxis: chart.YAxisSecondary},
			chart.TimeSeries{Name: "Oversold", XValues: rsiX, YValues: oversold, YAxis: chart.YAxisSecondary},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
