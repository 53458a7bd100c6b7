package app

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"crypto-alerts/internal/alert"
	"crypto-alerts/internal/indicator"
	"crypto-alerts/internal/market"
	"crypto-alerts/internal/storage"
)

type warmTarget struct {
	symbol    string
	timeframe alert.Timeframe
	candles   int
}

// Warm 预取所有启用的指标告警所需的 K 线并写入归档, 随后清理过期数据。
func (a *App) Warm(ctx context.Context, opts WarmOptions) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database.dsn 未配置，无法归档 K 线")
	}
	repo, db, err := storage.Open(ctx, a.Config.Database, a.Config.Store, a.Logger)
	if err != nil {
		return err
	}
	defer db.Close()

	alerts, err := repo.ListAlerts(ctx, storage.AlertFilter{
		Kinds:    []alert.Kind{alert.KindIndicatorRSI},
		Statuses: []alert.Status{alert.StatusActive},
	})
	if err != nil {
		return err
	}
	targets := warmTargets(alerts, opts.Candles)
	archive := market.NewArchive(a.newRouter(), db, a.Logger)

	var failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, min(len(targets), a.Config.Evaluation.MaxWorkers)))
	for _, t := range targets {
		g.Go(func() error {
			candles, err := archive.Refresh(gctx, t.symbol, t.timeframe, t.candles)
			if err != nil {
				failed.Add(1)
				a.Logger.Error().Err(err).Str("symbol", t.symbol).Str("timeframe", string(t.timeframe)).Msg("K 线预取失败")
				return nil
			}
			a.Logger.Info().Str("symbol", t.symbol).Str("timeframe", string(t.timeframe)).Int("candles", len(candles)).Msg("candles archived")
			return nil
		})
	}
	_ = g.Wait()

	if opts.Prune && a.Config.Market.History.Retention > 0 {
		deleted, err := archive.Prune(ctx, a.Config.Market.History.Retention)
		if err != nil {
			return err
		}
		a.Logger.Info().Int64("deleted", deleted).Dur("retention", a.Config.Market.History.Retention).Msg("pruned archived candles")
	}

	a.Logger.Info().Int("pairs", len(targets)).Int32("failed", failed.Load()).Msg("warm complete")
	if failed.Load() > 0 {
		return errors.New("部分交易对预取失败，请检查日志")
	}
	return nil
}

// warmTargets deduplicates (symbol, timeframe) pairs, keeping the deepest history needed.
func warmTargets(alerts []alert.Alert, minCandles int) []warmTarget {
	byKey := make(map[string]*warmTarget)
	for _, a := range alerts {
		if a.Indicator == nil {
			continue
		}
		need := max(minCandles, a.Indicator.Config.Period+indicator.HistoryBuffer)
		key := a.Indicator.Symbol + "|" + string(a.Indicator.Timeframe)
		if t, ok := byKey[key]; ok {
			t.candles = max(t.candles, need)
			continue
		}
		byKey[key] = &warmTarget{symbol: a.Indicator.Symbol, timeframe: a.Indicator.Timeframe, candles: need}
	}

	targets := make([]warmTarget, 0, len(byKey))
	for _, t := range byKey {
		targets = append(targets, *t)
	}
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].symbol != targets[j].symbol {
			return targets[i].symbol < targets[j].symbol
		}
		return targets[i].timeframe < targets[j].timeframe
	})
	return targets
}
