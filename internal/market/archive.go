package market

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"crypto-alerts/internal/alert"
)

// MinArchiveFetch is the smallest batch pulled from upstream on an archive miss.
const MinArchiveFetch = 100

// CandleArchive persists candles per (symbol, timeframe).
type CandleArchive interface {
	// RecentCandles returns at most limit candles, oldest first.
	RecentCandles(ctx context.Context, symbol string, tf alert.Timeframe, limit int) ([]Candle, error)
	UpsertCandles(ctx context.Context, symbol string, tf alert.Timeframe, candles []Candle) error
	DeleteCandlesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Archive serves candles from storage while they are fresh and refills from upstream otherwise.
type Archive struct {
	upstream CandleSource
	store    CandleArchive
	logger   zerolog.Logger
	now      func() time.Time
}

// NewArchive constructs an Archive.
func NewArchive(upstream CandleSource, store CandleArchive, logger zerolog.Logger) *Archive {
	return &Archive{
		upstream: upstream,
		store:    store,
		logger:   logger.With().Str("component", "candle_archive").Logger(),
		now:      time.Now,
	}
}

// Candles returns the archived series when it holds limit candles and the newest is
// within the timeframe's freshness window. Archive read/write failures degrade to upstream.
func (a *Archive) Candles(ctx context.Context, symbol string, tf alert.Timeframe, limit int) ([]Candle, error) {
	stored, err := a.store.RecentCandles(ctx, symbol, tf, limit)
	if err != nil {
		a.logger.Warn().Err(err).Str("symbol", symbol).Str("timeframe", string(tf)).Msg("读取 K 线存档失败")
	} else if a.fresh(stored, tf, limit) {
		return stored, nil
	}

	candles, err := a.Refresh(ctx, symbol, tf, limit)
	if err != nil {
		return nil, err
	}
	return tail(candles, limit), nil
}

// Refresh fetches max(2*limit, MinArchiveFetch) candles upstream and stores them.
func (a *Archive) Refresh(ctx context.Context, symbol string, tf alert.Timeframe, limit int) ([]Candle, error) {
	fetch := 2 * limit
	if fetch < MinArchiveFetch {
		fetch = MinArchiveFetch
	}
	candles, err := a.upstream.Candles(ctx, symbol, tf, fetch)
	if err != nil {
		return nil, err
	}
	if err := a.store.UpsertCandles(ctx, symbol, tf, candles); err != nil {
		a.logger.Warn().Err(err).Str("symbol", symbol).Str("timeframe", string(tf)).Msg("写入 K 线存档失败")
	} else {
		a.logger.Debug().Str("symbol", symbol).Str("timeframe", string(tf)).Int("candles", len(candles)).Msg("candles archived")
	}
	return candles, nil
}

// Prune removes candles older than retention.
func (a *Archive) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	n, err := a.store.DeleteCandlesBefore(ctx, a.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("prune candles: %w", err)
	}
	return n, nil
}

func (a *Archive) fresh(candles []Candle, tf alert.Timeframe, limit int) bool {
	if len(candles) == 0 || len(candles) < limit {
		return false
	}
	newest := candles[len(candles)-1].OpenTime
	return a.now().Sub(newest) <= tf.Freshness()
}

var _ CandleSource = (*Archive)(nil)
