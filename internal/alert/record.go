package alert

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Record is the flat JSON representation used by the file store and the API.
type Record struct {
	ID            string           `json:"id"`
	Kind          Kind             `json:"kind"`
	AlertType     string           `json:"alert_type"`
	Type          string           `json:"type,omitempty"`
	Symbol        string           `json:"symbol,omitempty"`
	Symbol1       string           `json:"symbol1,omitempty"`
	Symbol2       string           `json:"symbol2,omitempty"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	Operator      Operator         `json:"operator,omitempty"`
	IndicatorType string           `json:"indicator_type,omitempty"`
	Config        *RecordConfig    `json:"config,omitempty"`
	Description   string           `json:"description"`
	Triggers      []ActionSpec     `json:"triggers"`
	Enabled       *bool            `json:"enabled"`
	Status        Status           `json:"status"`
	CreatedDate   time.Time        `json:"created_date"`
	TriggeredDate *time.Time       `json:"triggered_date"`
}

// RecordConfig is the indicator config as it appears on the wire.
type RecordConfig struct {
	Period          int       `json:"period"`
	OverboughtLevel float64   `json:"overbought_level"`
	OversoldLevel   float64   `json:"oversold_level"`
	Timeframe       Timeframe `json:"timeframe"`
}

// ToRecord flattens the alert.
func (a Alert) ToRecord() Record {
	rec := Record{
		ID:            a.ID,
		Kind:          a.Kind,
		Description:   a.Description,
		Triggers:      a.Triggers,
		Status:        a.Status,
		CreatedDate:   a.CreatedAt,
		TriggeredDate: a.FiredAt,
	}
	enabled := a.Status == StatusActive
	rec.Enabled = &enabled
	if rec.Triggers == nil {
		rec.Triggers = []ActionSpec{}
	}

	switch {
	case a.Price != nil:
		rec.AlertType = "price"
		rec.Type = "single"
		if a.Kind == KindPriceRatio {
			rec.Type = "ratio"
		}
		price := a.Price.Threshold
		rec.Symbol = a.Price.Symbol
		rec.Symbol1 = a.Price.Symbol1
		rec.Symbol2 = a.Price.Symbol2
		rec.Price = &price
		rec.Operator = a.Price.Operator
	case a.Indicator != nil:
		rec.AlertType = "indicator"
		rec.Symbol = a.Indicator.Symbol
		rec.IndicatorType = a.Indicator.IndicatorType
		rec.Config = &RecordConfig{
			Period:          a.Indicator.Config.Period,
			OverboughtLevel: a.Indicator.Config.OverboughtLevel,
			OversoldLevel:   a.Indicator.Config.OversoldLevel,
			Timeframe:       a.Indicator.Timeframe,
		}
	}
	return rec
}

// FromRecord rebuilds and checks an alert.
func FromRecord(rec Record) (Alert, error) {
	a := Alert{
		ID:          rec.ID,
		Kind:        rec.Kind,
		Description: rec.Description,
		CreatedAt:   rec.CreatedDate,
		FiredAt:     rec.TriggeredDate,
		Status:      rec.Status,
		Triggers:    rec.Triggers,
	}
	if a.Kind == "" {
		switch {
		case rec.AlertType == "indicator" || rec.IndicatorType != "":
			a.Kind = KindIndicatorRSI
		case rec.Type == "ratio":
			a.Kind = KindPriceRatio
		default:
			a.Kind = KindPriceSingle
		}
	}
	if a.Status == "" {
		switch {
		case rec.TriggeredDate != nil:
			a.Status = StatusFired
		case rec.Enabled != nil && !*rec.Enabled:
			a.Status = StatusDisabled
		default:
			a.Status = StatusActive
		}
	}

	switch {
	case a.Kind.IsPrice():
		if rec.Price == nil {
			return Alert{}, fmt.Errorf("record %s: missing price", rec.ID)
		}
		a.Price = &PriceCondition{
			Symbol:    rec.Symbol,
			Symbol1:   rec.Symbol1,
			Symbol2:   rec.Symbol2,
			Threshold: *rec.Price,
			Operator:  rec.Operator,
		}
	case a.Kind == KindIndicatorRSI:
		if rec.Config == nil {
			return Alert{}, fmt.Errorf("record %s: missing indicator config", rec.ID)
		}
		a.Indicator = &IndicatorCondition{
			Symbol:        rec.Symbol,
			IndicatorType: rec.IndicatorType,
			Timeframe:     rec.Config.Timeframe,
			Config: RSIConfig{
				Period:          rec.Config.Period,
				OverboughtLevel: rec.Config.OverboughtLevel,
				OversoldLevel:   rec.Config.OversoldLevel,
			},
		}
	}

	if err := a.Check(); err != nil {
		return Alert{}, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	return a, nil
}
