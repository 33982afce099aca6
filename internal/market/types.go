// Package market supplies prices and candles for the dashboard. Data
// comes from a chain of providers: a deterministic synthetic generator
// for keyless deployments, Finnhub for real quotes, and an optional
// Redis caching layer in front of whichever provider is active.
package market

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when no provider can produce the requested
// data
var ErrUnavailable = errors.New("market: data unavailable")

// Candle is one OHLCV bar
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Quote is the latest price with its daily change. Change fields are
// pointers because they are null when no previous close is available.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Timestamp     time.Time `json:"timestamp"`
	Change        *float64  `json:"change"`
	PercentChange *float64  `json:"percentChange"`
}

// Provider supplies market data for a symbol. Implementations return
// ErrUnavailable (possibly wrapped) when they cannot serve a request so
// the chain can move on to the next provider.
type Provider interface {
	Name() string
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
	PreviousClose(ctx context.Context, symbol string) (float64, error)
	Candles(ctx context.Context, symbol, timeframe string, start, end time.Time, limit int) ([]Candle, error)
}

// BuildQuote assembles a Quote from a provider. The change fields stay
// nil when the previous close is missing or zero.
func BuildQuote(ctx context.Context, p Provider, symbol string) (Quote, error) {
	price, err := p.CurrentPrice(ctx, symbol)
	if err != nil {
		return Quote{}, err
	}

	quote := Quote{
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.Now().UTC(),
	}

	prevClose, err := p.PreviousClose(ctx, symbol)
	if err == nil && prevClose != 0 {
		change := price - prevClose
		percent := (change / prevClose) * 100.0
		quote.Change = &change
		quote.PercentChange = &percent
	}

	return quote, nil
}
