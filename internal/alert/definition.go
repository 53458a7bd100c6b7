package alert

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceDefinition is the create payload for single and ratio price alerts.
type PriceDefinition struct {
	Type        string           `json:"type"`
	Symbol      string           `json:"symbol"`
	Symbol1     string           `json:"symbol1"`
	Symbol2     string           `json:"symbol2"`
	Price       *decimal.Decimal `json:"price"`
	Operator    string           `json:"operator"`
	Description string           `json:"description"`
	Triggers    []ActionSpec     `json:"triggers"`
	Enabled     *bool            `json:"enabled"`
}

// IndicatorDefinition is the create payload for indicator alerts. No condition
// field is needed: every crossing of either level is alert-worthy.
type IndicatorDefinition struct {
	Symbol        string           `json:"symbol"`
	IndicatorType string           `json:"indicator_type"`
	Description   string           `json:"description"`
	Config        *IndicatorConfig `json:"config"`
	Triggers      []ActionSpec     `json:"triggers"`
	Enabled       *bool            `json:"enabled"`
}

// IndicatorConfig is the wire shape of the indicator config object.
type IndicatorConfig struct {
	Period          *int     `json:"period"`
	OverboughtLevel *float64 `json:"overbought_level"`
	OversoldLevel   *float64 `json:"oversold_level"`
	Timeframe       string   `json:"timeframe"`
}

// Build validates the definition and produces an active alert.
func (d PriceDefinition) Build(id string, now time.Time) (Alert, error) {
	op, err := ParseOperator(d.Operator)
	if err != nil {
		return Alert{}, invalid("operator", "operator must be one of >, <, =")
	}
	if d.Price == nil {
		return Alert{}, invalid("price", "price is required")
	}
	if !d.Price.IsPositive() {
		return Alert{}, invalid("price", "price must be greater than zero")
	}
	if strings.TrimSpace(d.Description) == "" {
		return Alert{}, invalid("description", "description is required")
	}

	cond := &PriceCondition{Threshold: *d.Price, Operator: op}
	kind := KindPriceSingle
	switch strings.ToLower(strings.TrimSpace(d.Type)) {
	case "", "single":
		cond.Symbol = normalizeSymbol(d.Symbol)
		if cond.Symbol == "" {
			return Alert{}, invalid("symbol", "missing required fields: provide symbol, price, operator, and description")
		}
	case "ratio":
		kind = KindPriceRatio
		cond.Symbol1 = normalizeSymbol(d.Symbol1)
		cond.Symbol2 = normalizeSymbol(d.Symbol2)
		if cond.Symbol1 == "" || cond.Symbol2 == "" {
			return Alert{}, invalid("symbol1", "missing required fields: provide symbol1, symbol2, price, operator, and description")
		}
	default:
		return Alert{}, invalid("type", "type must be 'single' or 'ratio'")
	}

	if err := validateTriggers(d.Triggers); err != nil {
		return Alert{}, err
	}

	a := Alert{
		ID:          id,
		Kind:        kind,
		Description: strings.TrimSpace(d.Description),
		CreatedAt:   now.UTC(),
		Status:      initialStatus(d.Enabled),
		Triggers:    d.Triggers,
		Price:       cond,
	}
	return a, a.Check()
}

// Build validates the definition, applies config defaults and produces an alert.
func (d IndicatorDefinition) Build(id string, now time.Time) (Alert, error) {
	symbol := normalizeSymbol(d.Symbol)
	if symbol == "" {
		return Alert{}, invalid("symbol", "missing required fields: symbol")
	}
	if d.IndicatorType == "" {
		return Alert{}, invalid("indicator_type", "missing required fields: indicator_type")
	}
	if strings.ToLower(d.IndicatorType) != "rsi" {
		return Alert{}, invalid("indicator_type", "currently only 'rsi' indicator type is supported")
	}
	if d.Config == nil {
		return Alert{}, invalid("config", "missing required fields: config")
	}

	cfg := DefaultRSIConfig()
	if d.Config.Period != nil {
		cfg.Period = *d.Config.Period
	}
	if d.Config.OverboughtLevel != nil {
		cfg.OverboughtLevel = *d.Config.OverboughtLevel
	}
	if d.Config.OversoldLevel != nil {
		cfg.OversoldLevel = *d.Config.OversoldLevel
	}
	if err := cfg.Validate(); err != nil {
		return Alert{}, err
	}

	tfRaw := d.Config.Timeframe
	if tfRaw == "" {
		tfRaw = string(Timeframe5m)
	}
	tf, err := ParseTimeframe(tfRaw)
	if err != nil {
		return Alert{}, err
	}

	if err := validateTriggers(d.Triggers); err != nil {
		return Alert{}, err
	}
	triggers := d.Triggers
	if len(triggers) == 0 {
		triggers = []ActionSpec{{
			Type:    ActionTypeTelegram,
			Message: defaultRSIMessage(symbol, tf, cfg),
		}}
	}

	description := strings.TrimSpace(d.Description)
	if description == "" {
		description = symbol + " RSI threshold monitoring alert"
	}

	a := Alert{
		ID:          id,
		Kind:        KindIndicatorRSI,
		Description: description,
		CreatedAt:   now.UTC(),
		Status:      initialStatus(d.Enabled),
		Triggers:    triggers,
		Indicator: &IndicatorCondition{
			Symbol:        symbol,
			IndicatorType: "rsi",
			Timeframe:     tf,
			Config:        cfg,
		},
	}
	return a, a.Check()
}

func validateTriggers(triggers []ActionSpec) error {
	for _, t := range triggers {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func initialStatus(enabled *bool) Status {
	if enabled != nil && !*enabled {
		return StatusDisabled
	}
	return StatusActive
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func defaultRSIMessage(symbol string, tf Timeframe, cfg RSIConfig) string {
	return symbol + " RSI Alert: monitoring threshold crossovers on " + string(tf) +
		" timeframe (overbought: " + decimal.NewFromFloat(cfg.OverboughtLevel).String() +
		", oversold: " + decimal.NewFromFloat(cfg.OversoldLevel).String() + ")"
}
