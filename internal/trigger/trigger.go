// Package trigger runs the side-effecting actions attached to a fired alert.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"crypto-alerts/internal/alert"
)

// ErrUnsupported is returned for an action type with no registered executor.
var ErrUnsupported = errors.New("unsupported trigger")

// Context is the alert information an action may use.
type Context struct {
	AlertID     string
	Symbol      string
	Description string
}

// Executor performs one action attempt and returns a display string. It never retries.
type Executor interface {
	Execute(ctx context.Context, spec alert.ActionSpec, ac Context) (string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, spec alert.ActionSpec, ac Context) (string, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, spec alert.ActionSpec, ac Context) (string, error) {
	return f(ctx, spec, ac)
}

// Dispatcher routes an ActionSpec to the executor registered for its type.
type Dispatcher struct {
	executors map[string]Executor
	logger    zerolog.Logger
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		executors: make(map[string]Executor),
		logger:    logger.With().Str("component", "trigger").Logger(),
	}
}

// Register binds an executor to an action type. Not safe to call after Execute.
func (d *Dispatcher) Register(actionType string, exec Executor) {
	d.executors[actionType] = exec
}

// Execute runs spec through its executor.
func (d *Dispatcher) Execute(ctx context.Context, spec alert.ActionSpec, ac Context) (string, error) {
	exec, ok := d.executors[spec.Type]
	if !ok {
		return "", fmt.Errorf("%w: type %q", ErrUnsupported, spec.Type)
	}

	res, err := exec.Execute(ctx, spec, ac)
	if err != nil {
		d.logger.Warn().Err(err).Str("alert_id", ac.AlertID).Str("action", spec.Name()).Msg("trigger failed")
		return "", err
	}
	d.logger.Info().Str("alert_id", ac.AlertID).Str("action", spec.Name()).Str("result", res).Msg("trigger executed")
	return res, nil
}

// Message returns the configured text of a telegram action. Placeholders
// {symbol}, {description} and {id} are substituted.
func Message(_ context.Context, spec alert.ActionSpec, ac Context) (string, error) {
	msg := strings.TrimSpace(spec.Message)
	if msg == "" {
		return "", errors.New("telegram trigger has no message")
	}
	r := strings.NewReplacer("{symbol}", ac.Symbol, "{description}", ac.Description, "{id}", ac.AlertID)
	return r.Replace(msg), nil
}

var _ Executor = (*Dispatcher)(nil)
