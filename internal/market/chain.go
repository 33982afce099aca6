package market

import (
	"context"
	"fmt"
	"time"

	"nifty-insight-server/internal/logging"
)

// Chain tries providers in order and returns the first usable answer.
// Provider failures are logged at debug level and swallowed; the chain
// only errors when every provider does.
type Chain struct {
	providers []Provider
	logger    *logging.Logger
}

// NewChain builds a provider chain. Order matters: earlier providers
// are preferred.
func NewChain(logger *logging.Logger, providers ...Provider) *Chain {
	return &Chain{
		providers: providers,
		logger:    logger.WithComponent("market.chain"),
	}
}

// Name identifies the provider
func (c *Chain) Name() string {
	return "chain"
}

// CurrentPrice returns the first provider's price
func (c *Chain) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	for _, p := range c.providers {
		price, err := p.CurrentPrice(ctx, symbol)
		if err == nil {
			return price, nil
		}
		c.logger.Debug("Provider failed for current price", "provider", p.Name(), "symbol", symbol, "error", err.Error())
	}
	return 0, fmt.Errorf("%w: no provider returned a price for %s", ErrUnavailable, symbol)
}

// PreviousClose returns the first provider's previous close
func (c *Chain) PreviousClose(ctx context.Context, symbol string) (float64, error) {
	for _, p := range c.providers {
		close, err := p.PreviousClose(ctx, symbol)
		if err == nil {
			return close, nil
		}
		c.logger.Debug("Provider failed for previous close", "provider", p.Name(), "symbol", symbol, "error", err.Error())
	}
	return 0, fmt.Errorf("%w: no provider returned a previous close for %s", ErrUnavailable, symbol)
}

// Candles returns the first provider's non-empty candle series
func (c *Chain) Candles(ctx context.Context, symbol, timeframe string, start, end time.Time, limit int) ([]Candle, error) {
	for _, p := range c.providers {
		candles, err := p.Candles(ctx, symbol, timeframe, start, end, limit)
		if err == nil && len(candles) > 0 {
			return candles, nil
		}
		if err != nil {
			c.logger.Debug("Provider failed for candles", "provider", p.Name(), "symbol", symbol, "error", err.Error())
		}
	}
	return nil, fmt.Errorf("%w: no provider returned candles for %s", ErrUnavailable, symbol)
}
