package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"crypto-alerts/internal/alert"
	"crypto-alerts/internal/processor"
	"crypto-alerts/internal/storage"
)

// List prints the stored alerts as a table.
func (a *App) List(ctx context.Context, out io.Writer, opts ListOptions) error {
	filter, err := listFilter(opts)
	if err != nil {
		return err
	}

	repo, db, err := storage.Open(ctx, a.Config.Database, a.Config.Store, a.Logger)
	if err != nil {
		return err
	}
	defer db.Close()

	alerts, err := repo.ListAlerts(ctx, filter)
	if err != nil {
		return err
	}
	return writeAlertTable(out, alerts)
}

// Rearm clears the fired state of one alert so it is evaluated again.
func (a *App) Rearm(ctx context.Context, out io.Writer, id string) error {
	repo, db, err := storage.Open(ctx, a.Config.Database, a.Config.Store, a.Logger)
	if err != nil {
		return err
	}
	defer db.Close()

	existing, err := repo.GetAlert(ctx, id)
	if err != nil {
		return err
	}
	if existing.Status != alert.StatusFired {
		return fmt.Errorf("alert %s has not fired (status %s)", id, existing.Status)
	}
	if err := repo.UpdateAlert(ctx, existing.Rearm()); err != nil {
		return err
	}
	a.Logger.Info().Str("alert_id", id).Msg("alert re-armed")
	fmt.Fprintf(out, "re-armed %s\n", id)
	return nil
}

// Cycle runs exactly one processing cycle, for external cron or timers.
func (a *App) Cycle(ctx context.Context, out io.Writer) error {
	rt, err := a.build(ctx, nil, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	report, err := rt.processor.RunCycle(ctx, time.Now())
	writeReport(out, report)
	return err
}

func listFilter(opts ListOptions) (storage.AlertFilter, error) {
	var filter storage.AlertFilter
	switch strings.ToLower(opts.Type) {
	case "":
	case "price":
		filter.Kinds = []alert.Kind{alert.KindPriceSingle, alert.KindPriceRatio}
	case "indicator":
		filter.Kinds = []alert.Kind{alert.KindIndicatorRSI}
	default:
		return filter, errors.New("--type must be price or indicator")
	}
	filter.Symbol = strings.ToUpper(strings.TrimSpace(opts.Symbol))
	if opts.Enabled != "" {
		enabled, err := strconv.ParseBool(opts.Enabled)
		if err != nil {
			return filter, fmt.Errorf("invalid --enabled value: %w", err)
		}
		if enabled {
			filter.Statuses = []alert.Status{alert.StatusActive}
		} else {
			filter.Statuses = []alert.Status{alert.StatusDisabled, alert.StatusFired}
		}
	}
	return filter, nil
}

func writeAlertTable(out io.Writer, alerts []alert.Alert) error {
	if len(alerts) == 0 {
		fmt.Fprintln(out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tKind\tStatus\tCondition\tTriggers\tCreated (UTC)\tFired (UTC)\tDescription")
	for _, a := range alerts {
		fired := "-"
		if a.FiredAt != nil {
			fired = a.FiredAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			a.ID,
			a.Kind,
			a.Status,
			conditionSummary(a),
			len(a.Triggers),
			a.CreatedAt.UTC().Format(time.RFC3339),
			fired,
			sanitizeInline(a.Description),
		)
	}
	return writer.Flush()
}

func conditionSummary(a alert.Alert) string {
	switch {
	case a.Price != nil:
		return fmt.Sprintf("%s %s %s", a.Price.Label(), a.Price.Operator, a.Price.Threshold)
	case a.Indicator != nil:
		cfg := a.Indicator.Config
		return fmt.Sprintf("%s RSI(%d) %s %g/%g", a.Indicator.Symbol, cfg.Period, a.Indicator.Timeframe, cfg.OverboughtLevel, cfg.OversoldLevel)
	default:
		return "-"
	}
}

func writeReport(out io.Writer, report processor.Report) {
	if report.Skipped {
		fmt.Fprintln(out, "cycle skipped: another instance holds the lock")
		return
	}
	fmt.Fprintf(out, "alerts=%d candidates=%d workers=%d fired=%d not_fired=%d unavailable=%d duration=%s\n",
		report.Total, report.Candidates, report.Workers, len(report.Fired), report.NotFired, report.Unavailable, report.Duration.Round(time.Millisecond))
	for _, f := range report.Fired {
		state := "persisted"
		if !f.Persisted {
			state = "NOT persisted"
		}
		fmt.Fprintf(out, "\n== %s (%s, %s)\n", f.Alert.ID, f.Alert.Kind, state)
		if f.Message != "" {
			fmt.Fprintln(out, f.Message)
		}
	}
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
