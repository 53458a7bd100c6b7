package alert

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is the candle interval an indicator alert is computed on.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Timeframes lists the supported set in ascending order.
var Timeframes = []Timeframe{Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h, Timeframe4h, Timeframe1d}

// ParseTimeframe validates a wire timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.TrimSpace(s))
	if !tf.Valid() {
		names := make([]string, len(Timeframes))
		for i, t := range Timeframes {
			names[i] = string(t)
		}
		return "", invalid("config.timeframe", fmt.Sprintf("invalid timeframe %q, valid options: %s", s, strings.Join(names, ", ")))
	}
	return tf, nil
}

// Valid reports membership in the fixed set.
func (t Timeframe) Valid() bool {
	switch t {
	case Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h, Timeframe4h, Timeframe1d:
		return true
	}
	return false
}

// Duration is the candle length.
func (t Timeframe) Duration() time.Duration {
	switch t {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	}
	return 0
}

// Freshness is how old the newest archived candle may be before history is refetched.
func (t Timeframe) Freshness() time.Duration {
	switch t {
	case Timeframe1m:
		return 5 * time.Minute
	case Timeframe5m:
		return 15 * time.Minute
	case Timeframe15m:
		return 30 * time.Minute
	case Timeframe1h:
		return 2 * time.Hour
	case Timeframe4h:
		return 6 * time.Hour
	case Timeframe1d:
		return 25 * time.Hour
	}
	return time.Hour
}
