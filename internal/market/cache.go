package market

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"crypto-alerts/internal/alert"
)

// aborted marks a fill whose caller context ended mid-fetch. Such results are
// not memoised and other waiters fetch again under their own context.
type priceEntry struct {
	price   decimal.Decimal
	err     error
	aborted bool
}

type closesEntry struct {
	closes  []float64
	err     error
	aborted bool
}

// Cache memoises a Source for the duration of one processing cycle. Failures are
// memoised too, so a symbol that is down is queried once per cycle. A failure
// caused by the calling evaluation's own deadline or cancellation is not.
type Cache struct {
	source Source
	group  singleflight.Group

	mu     sync.Mutex
	prices map[string]priceEntry
	closes map[string]closesEntry
}

// NewCache wraps source.
func NewCache(source Source) *Cache {
	c := &Cache{source: source}
	c.Reset()
	return c
}

// Reset drops everything cached. Called at the start of each cycle.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices = make(map[string]priceEntry)
	c.closes = make(map[string]closesEntry)
}

// CurrentPrice returns the cached price or fetches it once.
func (c *Cache) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	for {
		c.mu.Lock()
		entry, ok := c.prices[symbol]
		c.mu.Unlock()
		if ok {
			return entry.price, entry.err
		}

		v, _, _ := c.group.Do("price:"+symbol, func() (any, error) {
			c.mu.Lock()
			e, ok := c.prices[symbol]
			c.mu.Unlock()
			if ok {
				return e, nil
			}
			price, err := c.source.CurrentPrice(ctx, symbol)
			e = priceEntry{price: price, err: err}
			if err != nil && ctx.Err() != nil {
				e.aborted = true
				return e, nil
			}
			c.mu.Lock()
			c.prices[symbol] = e
			c.mu.Unlock()
			return e, nil
		})
		entry = v.(priceEntry)
		if entry.aborted && ctx.Err() == nil {
			continue
		}
		return entry.price, entry.err
	}
}

// HistoricalCloses returns the cached series or fetches it once.
func (c *Cache) HistoricalCloses(ctx context.Context, symbol string, tf alert.Timeframe, count int) ([]float64, error) {
	key := fmt.Sprintf("%s|%s|%d", symbol, tf, count)

	for {
		c.mu.Lock()
		entry, ok := c.closes[key]
		c.mu.Unlock()
		if ok {
			return entry.closes, entry.err
		}

		v, _, _ := c.group.Do("closes:"+key, func() (any, error) {
			c.mu.Lock()
			e, ok := c.closes[key]
			c.mu.Unlock()
			if ok {
				return e, nil
			}
			closes, err := c.source.HistoricalCloses(ctx, symbol, tf, count)
			e = closesEntry{closes: closes, err: err}
			if err != nil && ctx.Err() != nil {
				e.aborted = true
				return e, nil
			}
			c.mu.Lock()
			c.closes[key] = e
			c.mu.Unlock()
			return e, nil
		})
		entry = v.(closesEntry)
		if entry.aborted && ctx.Err() == nil {
			continue
		}
		return entry.closes, entry.err
	}
}

var _ Source = (*Cache)(nil)
