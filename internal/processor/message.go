package processor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"crypto-alerts/internal/alert"
	"crypto-alerts/internal/alerting"
	"crypto-alerts/internal/evaluator"
)

var crossingText = map[evaluator.Crossing]string{
	evaluator.CrossedAboveOverbought: "crossed above overbought",
	evaluator.CrossedBelowOversold:   "crossed below oversold",
	evaluator.ExitedOverbought:       "exited overbought",
	evaluator.ExitedOversold:         "exited oversold",
}

// BuildNotification renders the per-kind notification for a fired alert.
func BuildNotification(a alert.Alert, out evaluator.Outcome, actions []ActionResult, at time.Time) alerting.Notification {
	note := alerting.Notification{
		AlertID: a.ID,
		Kind:    string(a.Kind),
		FiredAt: at.UTC(),
	}

	switch {
	case a.Kind == alert.KindPriceRatio && a.Price != nil:
		cond := a.Price
		note.Title = fmt.Sprintf("%s %s %s", cond.Label(), cond.Operator, cond.Threshold)
		note.Lines = append(note.Lines, fmt.Sprintf("Current ratio: %s", out.Quantity.StringFixed(4)))
		for _, sym := range []string{cond.Symbol1, cond.Symbol2} {
			if p, ok := out.Prices[sym]; ok {
				note.Lines = append(note.Lines, fmt.Sprintf("%s: %s", sym, p))
			}
		}
	case a.Price != nil:
		cond := a.Price
		note.Title = fmt.Sprintf("%s %s %s", cond.Symbol, cond.Operator, cond.Threshold)
		note.Lines = append(note.Lines,
			fmt.Sprintf("Current price: %s", out.Quantity),
			fmt.Sprintf("Condition: price %s %s", cond.Operator, cond.Threshold),
		)
	case a.Indicator != nil:
		cond := a.Indicator
		what := crossingText[out.Crossing]
		if what == "" {
			what = "level crossing"
		}
		note.Title = fmt.Sprintf("%s RSI %s", cond.Symbol, what)
		note.Lines = append(note.Lines,
			fmt.Sprintf("RSI(%d) %s: %.2f (previous %.2f)", cond.Config.Period, cond.Timeframe, out.Sample.Value, out.Sample.PreviousValue),
			fmt.Sprintf("Trend: %s", out.Sample.Trend),
			fmt.Sprintf("Levels: overbought %s / oversold %s", formatLevel(cond.Config.OverboughtLevel), formatLevel(cond.Config.OversoldLevel)),
		)
	default:
		note.Title = a.ID
	}

	if d := strings.TrimSpace(a.Description); d != "" {
		note.Lines = append(note.Lines, "Description: "+d)
	}
	for _, r := range actions {
		note.Actions = append(note.Actions, r.Line())
	}
	return note
}

func formatLevel(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
