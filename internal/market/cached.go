package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nifty-insight-server/internal/logging"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrice     = "insight:price:%s"
	keyPrevClose = "insight:prevclose:%s"
	keyCandles   = "insight:candles:%s:%s:%d"

	prevCloseTTL = 10 * time.Minute
)

// Cached wraps a provider with short-TTL Redis caching so the polling
// broadcaster and dashboard handlers do not hammer the upstream API.
// Cache failures fall straight through to the inner provider.
type Cached struct {
	inner     Provider
	client    *redis.Client
	quoteTTL  time.Duration
	candleTTL time.Duration
	logger    *logging.Logger
}

// NewCached wraps inner with Redis caching
func NewCached(inner Provider, client *redis.Client, quoteTTL, candleTTL time.Duration, logger *logging.Logger) *Cached {
	return &Cached{
		inner:     inner,
		client:    client,
		quoteTTL:  quoteTTL,
		candleTTL: candleTTL,
		logger:    logger.WithComponent("market.cache"),
	}
}

// Name identifies the provider
func (c *Cached) Name() string {
	return "cached:" + c.inner.Name()
}

// CurrentPrice serves from cache when fresh, otherwise asks the inner
// provider and caches the answer
func (c *Cached) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	key := fmt.Sprintf(keyPrice, symbol)
	if price, err := c.client.Get(ctx, key).Float64(); err == nil {
		return price, nil
	}

	price, err := c.inner.CurrentPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}

	if err := c.client.Set(ctx, key, price, c.quoteTTL).Err(); err != nil {
		c.logger.Debug("Failed to cache price", "symbol", symbol, "error", err.Error())
	}
	return price, nil
}

// PreviousClose caches with a longer TTL since it only changes daily
func (c *Cached) PreviousClose(ctx context.Context, symbol string) (float64, error) {
	key := fmt.Sprintf(keyPrevClose, symbol)
	if close, err := c.client.Get(ctx, key).Float64(); err == nil {
		return close, nil
	}

	close, err := c.inner.PreviousClose(ctx, symbol)
	if err != nil {
		return 0, err
	}

	if err := c.client.Set(ctx, key, close, prevCloseTTL).Err(); err != nil {
		c.logger.Debug("Failed to cache previous close", "symbol", symbol, "error", err.Error())
	}
	return close, nil
}

// Candles caches full series keyed by symbol, timeframe and limit.
// Range-bounded requests bypass the cache since their windows rarely
// repeat.
func (c *Cached) Candles(ctx context.Context, symbol, timeframe string, start, end time.Time, limit int) ([]Candle, error) {
	if !start.IsZero() || !end.IsZero() {
		return c.inner.Candles(ctx, symbol, timeframe, start, end, limit)
	}

	key := fmt.Sprintf(keyCandles, symbol, timeframe, limit)
	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var candles []Candle
		if err := json.Unmarshal(raw, &candles); err == nil {
			return candles, nil
		}
	}

	candles, err := c.inner.Candles(ctx, symbol, timeframe, start, end, limit)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(candles); err == nil {
		if err := c.client.Set(ctx, key, raw, c.candleTTL).Err(); err != nil {
			c.logger.Debug("Failed to cache candles", "symbol", symbol, "error", err.Error())
		}
	}
	return candles, nil
}
