package storage

import (
	"slices"
	"time"

	"crypto-alerts/internal/alert"
)

// AlertFilter narrows ListAlerts. Zero values match everything.
type AlertFilter struct {
	Kinds    []alert.Kind
	Statuses []alert.Status
	// Symbol matches any leg of the alert.
	Symbol string
}

// Match applies the filter in memory.
func (f AlertFilter) Match(a alert.Alert) bool {
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, a.Kind) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, a.Status) {
		return false
	}
	if f.Symbol != "" && !slices.Contains(a.Symbols(), f.Symbol) {
		return false
	}
	return true
}

// Firing is one audited alert firing.
type Firing struct {
	ID        int64
	AlertID   string
	Kind      alert.Kind
	FiredAt   time.Time
	Summary   string
	Actions   []FiringAction
	Notified  bool
	CreatedAt time.Time
}

// FiringAction is the outcome of one trigger of a firing.
type FiringAction struct {
	Action string `json:"action"`
	OK     bool   `json:"ok"`
	Result string `json:"result"`
}
