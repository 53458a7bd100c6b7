package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies the closed set of alert variants.
type Kind string

const (
	KindPriceSingle  Kind = "price_single"
	KindPriceRatio   Kind = "price_ratio"
	KindIndicatorRSI Kind = "indicator_rsi"
)

// IsPrice reports whether the kind carries a PriceCondition.
func (k Kind) IsPrice() bool {
	return k == KindPriceSingle || k == KindPriceRatio
}

// Status is the lifecycle state of an alert. Fired alerts keep FiredAt set.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
	StatusFired    Status = "fired"
)

// Operator compares the evaluated quantity against the threshold.
type Operator string

const (
	OpGreater Operator = ">"
	OpLess    Operator = "<"
	OpEqual   Operator = "="
)

// ParseOperator accepts the wire operators.
func ParseOperator(s string) (Operator, error) {
	switch op := Operator(strings.TrimSpace(s)); op {
	case OpGreater, OpLess, OpEqual:
		return op, nil
	default:
		return "", fmt.Errorf("unsupported operator %q", s)
	}
}

// Compare applies the operator. Equality is exact: no tolerance is applied.
func (o Operator) Compare(quantity, threshold decimal.Decimal) bool {
	switch o {
	case OpGreater:
		return quantity.GreaterThan(threshold)
	case OpLess:
		return quantity.LessThan(threshold)
	case OpEqual:
		return quantity.Equal(threshold)
	default:
		return false
	}
}

// PriceCondition is the payload of price_single and price_ratio alerts.
type PriceCondition struct {
	Symbol    string          `json:"symbol,omitempty"`
	Symbol1   string          `json:"symbol1,omitempty"`
	Symbol2   string          `json:"symbol2,omitempty"`
	Threshold decimal.Decimal `json:"price"`
	Operator  Operator        `json:"operator"`
}

// Label is the human-readable quantity name, e.g. "BTC" or "ETH/BTC".
func (p PriceCondition) Label() string {
	if p.Symbol1 != "" || p.Symbol2 != "" {
		return p.Symbol1 + "/" + p.Symbol2
	}
	return p.Symbol
}

// IndicatorCondition is the payload of indicator alerts.
type IndicatorCondition struct {
	Symbol        string    `json:"symbol"`
	IndicatorType string    `json:"indicator_type"`
	Timeframe     Timeframe `json:"timeframe"`
	Config        RSIConfig `json:"config"`
}

// RSIConfig parameterises RSI crossover detection.
type RSIConfig struct {
	Period          int     `json:"period"`
	OverboughtLevel float64 `json:"overbought_level"`
	OversoldLevel   float64 `json:"oversold_level"`
}

// DefaultRSIConfig mirrors the defaults applied at creation time.
func DefaultRSIConfig() RSIConfig {
	return RSIConfig{Period: 14, OverboughtLevel: 70, OversoldLevel: 30}
}

// Alert is a tagged variant: Kind selects which of Price or Indicator is populated.
type Alert struct {
	ID          string
	Kind        Kind
	Description string
	CreatedAt   time.Time
	FiredAt     *time.Time
	Status      Status
	Triggers    []ActionSpec

	Price     *PriceCondition
	Indicator *IndicatorCondition
}

// Enabled reports whether the processor may evaluate the alert.
func (a Alert) Enabled() bool {
	return a.Status == StatusActive
}

// Symbol returns the primary symbol used for notifications and action defaults.
func (a Alert) Symbol() string {
	switch {
	case a.Indicator != nil:
		return a.Indicator.Symbol
	case a.Price == nil:
		return ""
	case a.Kind == KindPriceRatio:
		return a.Price.Symbol1
	default:
		return a.Price.Symbol
	}
}

// Symbols lists every symbol whose market data the alert needs.
func (a Alert) Symbols() []string {
	switch {
	case a.Indicator != nil:
		return []string{a.Indicator.Symbol}
	case a.Price == nil:
		return nil
	case a.Kind == KindPriceRatio:
		return []string{a.Price.Symbol1, a.Price.Symbol2}
	default:
		return []string{a.Price.Symbol}
	}
}

// Fire returns a copy transitioned to the fired state.
func (a Alert) Fire(at time.Time) Alert {
	fired := at.UTC()
	a.FiredAt = &fired
	a.Status = StatusFired
	return a
}

// Rearm clears the fired state. Only the management layer calls it.
func (a Alert) Rearm() Alert {
	a.FiredAt = nil
	a.Status = StatusActive
	return a
}

// SetEnabled toggles between active and disabled. Fired alerts must be re-armed first.
func (a Alert) SetEnabled(enabled bool) (Alert, error) {
	if a.Status == StatusFired {
		return a, fmt.Errorf("alert %s has fired; rearm it before changing enabled state", a.ID)
	}
	if enabled {
		a.Status = StatusActive
	} else {
		a.Status = StatusDisabled
	}
	return a, nil
}

// Check verifies the variant invariants of an already-built alert.
func (a Alert) Check() error {
	switch a.Kind {
	case KindPriceSingle:
		if a.Price == nil || a.Indicator != nil {
			return invalid("kind", "price_single alert requires a price condition only")
		}
		if a.Price.Symbol == "" {
			return invalid("symbol", "symbol is required")
		}
	case KindPriceRatio:
		if a.Price == nil || a.Indicator != nil {
			return invalid("kind", "price_ratio alert requires a price condition only")
		}
		if a.Price.Symbol1 == "" || a.Price.Symbol2 == "" {
			return invalid("symbol1", "symbol1 and symbol2 are required")
		}
	case KindIndicatorRSI:
		if a.Indicator == nil || a.Price != nil {
			return invalid("kind", "indicator_rsi alert requires an indicator condition only")
		}
		if a.Indicator.Symbol == "" {
			return invalid("symbol", "symbol is required")
		}
		if err := a.Indicator.Config.Validate(); err != nil {
			return err
		}
		if !a.Indicator.Timeframe.Valid() {
			return invalid("timeframe", fmt.Sprintf("unsupported timeframe %q", a.Indicator.Timeframe))
		}
	default:
		return invalid("kind", fmt.Sprintf("unknown alert kind %q", a.Kind))
	}

	if a.Price != nil {
		switch a.Price.Operator {
		case OpGreater, OpLess, OpEqual:
		default:
			return invalid("operator", fmt.Sprintf("unsupported operator %q", a.Price.Operator))
		}
	}

	switch a.Status {
	case StatusActive, StatusDisabled:
		if a.FiredAt != nil {
			return invalid("status", "fired_at set on a non-fired alert")
		}
	case StatusFired:
		if a.FiredAt == nil {
			return invalid("status", "fired alert without fired_at")
		}
	default:
		return invalid("status", fmt.Sprintf("unknown status %q", a.Status))
	}
	return nil
}

// Validate enforces the RSI configuration ranges.
func (c RSIConfig) Validate() error {
	if c.Period < 2 || c.Period > 50 {
		return invalid("config.period", "period must be an integer between 2 and 50")
	}
	if c.OverboughtLevel < 50 || c.OverboughtLevel > 100 {
		return invalid("config.overbought_level", "overbought level must be between 50 and 100")
	}
	if c.OversoldLevel < 0 || c.OversoldLevel > 50 {
		return invalid("config.oversold_level", "oversold level must be between 0 and 50")
	}
	if c.OversoldLevel >= c.OverboughtLevel {
		return invalid("config.oversold_level", "oversold level must be less than overbought level")
	}
	return nil
}
