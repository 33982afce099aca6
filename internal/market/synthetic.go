package market

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"time"
)

// Synthetic generates deterministic market data without any external
// calls. The base price is a stable function of the symbol and candle
// walks are seeded from it, so repeated requests (and restarts) see the
// same series. Used when no provider API key is configured or the
// synthetic flag is set.
type Synthetic struct {
	now func() time.Time
}

// NewSynthetic creates the synthetic provider
func NewSynthetic() *Synthetic {
	return &Synthetic{now: time.Now}
}

// Name identifies the provider
func (s *Synthetic) Name() string {
	return "synthetic"
}

func symbolSeed(symbol string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return h.Sum32()
}

// basePrice derives a stable price level from the symbol hash
func basePrice(symbol string) float64 {
	return float64(symbolSeed(symbol)%1000) + 100.0
}

// CurrentPrice returns the symbol's base price with a slow deterministic
// oscillation so live feeds show movement
func (s *Synthetic) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	base := basePrice(symbol)
	wobble := math.Sin(float64(s.now().Unix())/300.0) * base * 0.002
	return round2(base + wobble), nil
}

// PreviousClose sits one point under the current price
func (s *Synthetic) PreviousClose(ctx context.Context, symbol string) (float64, error) {
	current, err := s.CurrentPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return round2(current - 1.0), nil
}

// Candles generates a seeded random walk of limit bars ending at the
// current bar boundary. Values depend only on symbol, timeframe and
// limit; timestamps track the clock.
func (s *Synthetic) Candles(ctx context.Context, symbol, timeframe string, start, end time.Time, limit int) ([]Candle, error) {
	step, err := TimeframeDuration(timeframe)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	endTime := end
	if endTime.IsZero() {
		endTime = s.now()
	}
	endTime = endTime.UTC().Truncate(step)

	base := basePrice(symbol)
	rng := rand.New(rand.NewSource(int64(symbolSeed(symbol)) + int64(step)))

	candles := make([]Candle, 0, limit)
	price := base
	for i := 0; i < limit; i++ {
		open := price
		drift := (rng.Float64() - 0.5) * base * 0.004
		close := open + drift
		high := math.Max(open, close) + rng.Float64()*base*0.001
		low := math.Min(open, close) - rng.Float64()*base*0.001
		volume := 100000 + rng.Float64()*50000

		candles = append(candles, Candle{
			Time:   endTime.Add(-step * time.Duration(limit-i)),
			Open:   round2(open),
			High:   round2(high),
			Low:    round2(low),
			Close:  round2(close),
			Volume: math.Round(volume),
		})
		price = close
	}

	return candles, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
