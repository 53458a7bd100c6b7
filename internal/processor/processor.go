// Package processor runs one alert processing cycle: evaluate every active
// alert, execute the triggers of those that fire, notify, then persist the
// fired state.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"crypto-alerts/internal/alert"
	"crypto-alerts/internal/alerting"
	"crypto-alerts/internal/evaluator"
	"crypto-alerts/internal/storage"
	"crypto-alerts/internal/trigger"
)

// AlertStore is the subset of the repository the cycle needs.
type AlertStore interface {
	ListAlerts(ctx context.Context, filter storage.AlertFilter) ([]alert.Alert, error)
	UpdateAlert(ctx context.Context, a alert.Alert) error
}

// Evaluator decides one alert.
type Evaluator interface {
	Evaluate(ctx context.Context, a alert.Alert) evaluator.Outcome
}

// TriggerExecutor runs one action.
type TriggerExecutor interface {
	Execute(ctx context.Context, spec alert.ActionSpec, ac trigger.Context) (string, error)
}

// FiringRecorder appends to the firing audit log.
type FiringRecorder interface {
	InsertFiring(ctx context.Context, f storage.Firing) (storage.Firing, error)
}

// CacheResetter clears per-cycle market data.
type CacheResetter interface {
	Reset()
}

// Dependencies are the collaborators of a Processor. Firings, Locker and Cache are optional.
type Dependencies struct {
	Store     AlertStore
	Evaluator Evaluator
	Executor  TriggerExecutor
	Notifier  alerting.Notifier
	Firings   FiringRecorder
	Locker    storage.AdvisoryLocker
	Cache     CacheResetter
}

// Options parameterise a cycle.
type Options struct {
	// MaxWorkers caps evaluation concurrency. Zero leaves the (symbol, timeframe) pair count as the bound.
	MaxWorkers int
	// LockKey enables the cross-process advisory lock when non-zero.
	LockKey int64
	// ActionTimeout bounds each trigger execution.
	ActionTimeout time.Duration
	// PersistTimeout bounds the fired-state write, which runs even if the cycle context is cancelled.
	PersistTimeout time.Duration
	// DryRun evaluates and renders notifications but executes, sends and persists nothing.
	DryRun bool
}

// Processor owns the Active → Fired transition.
type Processor struct {
	deps   Dependencies
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Processor.
func New(deps Dependencies, opts Options, logger zerolog.Logger) *Processor {
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 30 * time.Second
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 10 * time.Second
	}
	return &Processor{
		deps:   deps,
		opts:   opts,
		logger: logger.With().Str("component", "processor").Logger(),
		now:    time.Now,
	}
}

// ActionResult is the outcome of one trigger.
type ActionResult struct {
	Action string
	Result string
	Err    error
}

// Line renders the result for the notification body.
func (r ActionResult) Line() string {
	if r.Err != nil {
		return fmt.Sprintf("[failed] %s: %v", r.Action, r.Err)
	}
	return fmt.Sprintf("[ok] %s: %s", r.Action, r.Result)
}

// FiredAlert describes one firing within a cycle.
type FiredAlert struct {
	Alert     alert.Alert
	Outcome   evaluator.Outcome
	Actions   []ActionResult
	Message   string
	Notified  bool
	Persisted bool
}

// Report summarises a cycle.
type Report struct {
	At          time.Time
	Skipped     bool
	Total       int
	Candidates  int
	ByKind      map[alert.Kind]int
	Workers     int
	NotFired    int
	Unavailable int
	Fired       []FiredAlert
	Duration    time.Duration
}

// RunCycle executes one processing pass. The returned error joins the fired
// alerts whose fired state could not be persisted.
func (p *Processor) RunCycle(ctx context.Context, at time.Time) (Report, error) {
	report := Report{At: at.UTC(), ByKind: make(map[alert.Kind]int)}
	started := p.now()

	if !p.opts.DryRun {
		unlock, proceed, err := p.acquireLock(ctx)
		if err != nil {
			return report, err
		}
		if !proceed {
			report.Skipped = true
			p.logger.Debug().Time("at", at).Msg("skip cycle because advisory lock held elsewhere")
			return report, nil
		}
		if unlock != nil {
			defer unlock()
		}
	}

	if p.deps.Cache != nil {
		p.deps.Cache.Reset()
	}

	all, err := p.deps.Store.ListAlerts(ctx, storage.AlertFilter{})
	if err != nil {
		return report, fmt.Errorf("list alerts: %w", err)
	}
	report.Total = len(all)

	candidates := make([]alert.Alert, 0, len(all))
	for _, a := range all {
		if !a.Enabled() {
			continue
		}
		candidates = append(candidates, a)
		report.ByKind[a.Kind]++
	}
	report.Candidates = len(candidates)

	report.Workers = WorkerBound(candidates, p.opts.MaxWorkers)
	outcomes := p.evaluateAll(ctx, candidates, report.Workers)

	var fired []int
	for i, out := range outcomes {
		switch out.Result {
		case evaluator.Fired:
			fired = append(fired, i)
		case evaluator.DataUnavailable:
			report.Unavailable++
			p.logger.Warn().Err(out.Err).Str("alert_id", candidates[i].ID).Msg("market data unavailable, retry next cycle")
		default:
			report.NotFired++
		}
	}

	results := make([]FiredAlert, len(fired))
	errs := make([]error, len(fired))
	var wg sync.WaitGroup
	for slot, idx := range fired {
		wg.Add(1)
		go func(slot int, a alert.Alert, out evaluator.Outcome) {
			defer wg.Done()
			results[slot], errs[slot] = p.fire(ctx, a, out, at)
		}(slot, candidates[idx], outcomes[idx])
	}
	wg.Wait()
	report.Fired = results
	report.Duration = p.now().Sub(started)

	cycleErr := errors.Join(errs...)
	ev := p.logger.Info()
	if cycleErr != nil {
		ev = p.logger.Error().Err(cycleErr)
	}
	ev.Time("at", report.At).
		Int("alerts", report.Total).
		Int("candidates", report.Candidates).
		Int("workers", report.Workers).
		Int("fired", len(report.Fired)).
		Int("unavailable", report.Unavailable).
		Dur("duration", report.Duration).
		Bool("dry_run", p.opts.DryRun).
		Msg("cycle complete")
	return report, cycleErr
}

func (p *Processor) evaluateAll(ctx context.Context, candidates []alert.Alert, workers int) []evaluator.Outcome {
	outcomes := make([]evaluator.Outcome, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, a := range candidates {
		g.Go(func() error {
			outcomes[i] = p.deps.Evaluator.Evaluate(gctx, a)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// fire runs the triggers in order, notifies once, then persists the fired state.
func (p *Processor) fire(ctx context.Context, a alert.Alert, out evaluator.Outcome, at time.Time) (FiredAlert, error) {
	logger := p.logger.With().Str("alert_id", a.ID).Str("kind", string(a.Kind)).Logger()
	res := FiredAlert{Alert: a, Outcome: out}

	ac := trigger.Context{AlertID: a.ID, Symbol: a.Symbol(), Description: a.Description}
	for _, spec := range a.Triggers {
		res.Actions = append(res.Actions, p.runAction(ctx, spec, ac))
	}

	note := BuildNotification(a, out, res.Actions, at)
	res.Message = alerting.RenderMessage(note)
	if p.opts.DryRun {
		logger.Info().Msg("dry run: alert would fire")
		return res, nil
	}

	if p.deps.Notifier != nil {
		if err := p.deps.Notifier.Notify(ctx, note); err != nil {
			logger.Warn().Err(err).Msg("failed to dispatch notification")
		} else {
			res.Notified = true
		}
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.PersistTimeout)
	defer cancel()

	firedAlert := a.Fire(at)
	if err := p.deps.Store.UpdateAlert(persistCtx, firedAlert); err != nil {
		logger.Error().Err(err).
			Int("actions", len(res.Actions)).
			Msg("inconsistency: triggers executed but fired state not persisted, alert may fire again")
		return res, fmt.Errorf("persist fired alert %s: %w", a.ID, err)
	}
	res.Alert = firedAlert
	res.Persisted = true

	if p.deps.Firings != nil {
		if _, err := p.deps.Firings.InsertFiring(persistCtx, firingRecord(firedAlert, note, res)); err != nil {
			logger.Warn().Err(err).Msg("failed to record firing")
		}
	}

	logger.Info().Int("actions", len(res.Actions)).Bool("notified", res.Notified).Msg("alert fired")
	return res, nil
}

func (p *Processor) runAction(ctx context.Context, spec alert.ActionSpec, ac trigger.Context) ActionResult {
	r := ActionResult{Action: spec.Name()}
	if p.opts.DryRun {
		r.Result = "dry run, not executed"
		return r
	}
	if p.deps.Executor == nil {
		r.Err = errors.New("no trigger executor configured")
		return r
	}

	actx, cancel := context.WithTimeout(ctx, p.opts.ActionTimeout)
	defer cancel()
	r.Result, r.Err = p.deps.Executor.Execute(actx, spec, ac)
	return r
}

func (p *Processor) acquireLock(ctx context.Context) (func(), bool, error) {
	if p.opts.LockKey == 0 || p.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := p.deps.Locker.TryAdvisoryLock(ctx, p.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// WorkerBound is the number of distinct (symbol, timeframe) pairs among the
// alerts, capped by limit when limit > 0, and never below 1. Price alerts use an
// empty timeframe.
func WorkerBound(alerts []alert.Alert, limit int) int {
	pairs := make(map[string]struct{})
	for _, a := range alerts {
		tf := ""
		if a.Indicator != nil {
			tf = string(a.Indicator.Timeframe)
		}
		for _, sym := range a.Symbols() {
			pairs[sym+"|"+tf] = struct{}{}
		}
	}
	n := len(pairs)
	if limit > 0 && n > limit {
		n = limit
	}
	if n < 1 {
		n = 1
	}
	return n
}

func firingRecord(a alert.Alert, note alerting.Notification, res FiredAlert) storage.Firing {
	actions := make([]storage.FiringAction, 0, len(res.Actions))
	for _, r := range res.Actions {
		fa := storage.FiringAction{Action: r.Action, OK: r.Err == nil, Result: r.Result}
		if r.Err != nil {
			fa.Result = r.Err.Error()
		}
		actions = append(actions, fa)
	}
	firedAt := note.FiredAt
	if a.FiredAt != nil {
		firedAt = *a.FiredAt
	}
	return storage.Firing{
		AlertID:  a.ID,
		Kind:     a.Kind,
		FiredAt:  firedAt,
		Summary:  note.Title,
		Actions:  actions,
		Notified: res.Notified,
	}
}
