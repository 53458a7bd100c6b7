package alert

import (
	"fmt"
	"strconv"
	"strings"
)

// Action types understood by the trigger dispatcher.
const (
	ActionTypeBybit    = "bybit_action"
	ActionTypeTelegram = "telegram"
)

// Bybit action names.
const (
	ActionOpenPosition  = "open_position"
	ActionClosePosition = "close_position"
	ActionSetTPSL       = "set_tp_sl"
)

// ActionSpec declares one automated action run when the alert fires.
type ActionSpec struct {
	Type    string         `json:"type"`
	Action  string         `json:"action,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
	Message string         `json:"message,omitempty"`
}

// Name is a short label used in logs and result lines.
func (s ActionSpec) Name() string {
	if s.Action != "" {
		return s.Type + ":" + s.Action
	}
	return s.Type
}

// Param returns a parameter rendered as a trimmed string, or "" when absent.
func (s ActionSpec) Param(key string) string {
	v, ok := s.Params[key]
	if !ok || v == nil {
		return ""
	}
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// Validate applies the CRUD-boundary checks for one trigger.
func (s ActionSpec) Validate() error {
	switch s.Type {
	case "":
		return invalid("triggers.type", "each trigger must have a 'type' field")
	case ActionTypeBybit:
		switch s.Action {
		case "":
			return invalid("triggers.action", "bybit triggers must have an 'action' field")
		case ActionOpenPosition:
			if s.Param("side") == "" || s.Param("qty") == "" {
				return invalid("triggers.params", "open position actions require 'side' and 'qty' parameters")
			}
		case ActionClosePosition, ActionSetTPSL:
		default:
			return invalid("triggers.action", fmt.Sprintf("invalid bybit action: %s. valid actions are: open_position, close_position, set_tp_sl", s.Action))
		}
	case ActionTypeTelegram:
		if strings.TrimSpace(s.Message) == "" {
			return invalid("triggers.message", "telegram triggers require a 'message'")
		}
	default:
		return invalid("triggers.type", fmt.Sprintf("unsupported trigger type %q", s.Type))
	}
	return nil
}
