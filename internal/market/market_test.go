package market

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"nifty-insight-server/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(&logging.Config{Level: "ERROR", Output: "stderr"})
}

// ============================================================================
// MOCK PROVIDER
// ============================================================================

type stubProvider struct {
	name       string
	price      float64
	prevClose  float64
	candles    []Candle
	err        error
	priceCalls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	s.priceCalls++
	if s.err != nil {
		return 0, s.err
	}
	return s.price, nil
}

func (s *stubProvider) PreviousClose(ctx context.Context, symbol string) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.prevClose, nil
}

func (s *stubProvider) Candles(ctx context.Context, symbol, timeframe string, start, end time.Time, limit int) ([]Candle, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.candles, nil
}

// ============================================================================
// TIMEFRAME TESTS
// ============================================================================

func TestTimeframeDuration(t *testing.T) {
	cases := []struct {
		timeframe string
		want      time.Duration
	}{
		{"1m", time.Minute},
		{"5m", 5 * time.Minute},
		{"15m", 15 * time.Minute},
		{"30m", 30 * time.Minute},
		{"1h", time.Hour},
		{"1d", 24 * time.Hour},
	}
	for _, tc := range cases {
		got, err := TimeframeDuration(tc.timeframe)
		if err != nil {
			t.Errorf("TimeframeDuration(%s) failed: %v", tc.timeframe, err)
			continue
		}
		if got != tc.want {
			t.Errorf("TimeframeDuration(%s) = %v, want %v", tc.timeframe, got, tc.want)
		}
	}

	if _, err := TimeframeDuration("7m"); err == nil {
		t.Error("expected error for unsupported timeframe")
	}
	if ValidTimeframe("7m") {
		t.Error("7m must not be a valid timeframe")
	}
	if !ValidTimeframe("5m") {
		t.Error("5m must be a valid timeframe")
	}
}

// ============================================================================
// SYNTHETIC PROVIDER TESTS
// ============================================================================

func TestSyntheticDeterministicPrices(t *testing.T) {
	provider := NewSynthetic()
	fixed := time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)
	provider.now = func() time.Time { return fixed }
	ctx := context.Background()

	first, err := provider.CurrentPrice(ctx, "NIFTY")
	if err != nil {
		t.Fatalf("CurrentPrice failed: %v", err)
	}
	second, err := provider.CurrentPrice(ctx, "NIFTY")
	if err != nil {
		t.Fatalf("CurrentPrice failed: %v", err)
	}
	if first != second {
		t.Errorf("same clock must give the same price, got %v and %v", first, second)
	}
	if first <= 0 {
		t.Errorf("price must be positive, got %v", first)
	}

	other, _ := provider.CurrentPrice(ctx, "BANKNIFTY")
	if other == first {
		t.Error("different symbols should map to different price levels")
	}

	prev, err := provider.PreviousClose(ctx, "NIFTY")
	if err != nil {
		t.Fatalf("PreviousClose failed: %v", err)
	}
	if diff := first - prev; diff < 0.99 || diff > 1.01 {
		t.Errorf("previous close must sit one point under current, diff %v", diff)
	}
}

func TestSyntheticCandles(t *testing.T) {
	provider := NewSynthetic()
	fixed := time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)
	provider.now = func() time.Time { return fixed }
	ctx := context.Background()

	candles, err := provider.Candles(ctx, "NIFTY", "5m", time.Time{}, time.Time{}, 50)
	if err != nil {
		t.Fatalf("Candles failed: %v", err)
	}
	if len(candles) != 50 {
		t.Fatalf("expected 50 candles, got %d", len(candles))
	}

	step := 5 * time.Minute
	for i, c := range candles {
		if c.High < c.Open || c.High < c.Close {
			t.Errorf("candle %d: high %v below open/close", i, c.High)
		}
		if c.Low > c.Open || c.Low > c.Close {
			t.Errorf("candle %d: low %v above open/close", i, c.Low)
		}
		if c.Volume <= 0 {
			t.Errorf("candle %d: non-positive volume", i)
		}
		if i > 0 {
			if got := c.Time.Sub(candles[i-1].Time); got != step {
				t.Errorf("candle %d: spacing %v, want %v", i, got, step)
			}
		}
	}

	again, err := provider.Candles(ctx, "NIFTY", "5m", time.Time{}, time.Time{}, 50)
	if err != nil {
		t.Fatalf("Candles failed: %v", err)
	}
	if !reflect.DeepEqual(candles, again) {
		t.Error("candles must be deterministic for the same inputs")
	}

	if _, err := provider.Candles(ctx, "NIFTY", "2h", time.Time{}, time.Time{}, 10); err == nil {
		t.Error("expected error for unsupported timeframe")
	}
}

// ============================================================================
// QUOTE TESTS
// ============================================================================

func TestBuildQuoteWithChange(t *testing.T) {
	provider := &stubProvider{name: "stub", price: 24150.5, prevClose: 24000}

	quote, err := BuildQuote(context.Background(), provider, "NIFTY")
	if err != nil {
		t.Fatalf("BuildQuote failed: %v", err)
	}

	if quote.Symbol != "NIFTY" || quote.Price != 24150.5 {
		t.Errorf("unexpected quote: %+v", quote)
	}
	if quote.Change == nil || quote.PercentChange == nil {
		t.Fatal("expected change fields with a previous close available")
	}
	if *quote.Change != 150.5 {
		t.Errorf("expected change 150.5, got %v", *quote.Change)
	}
	wantPct := 150.5 / 24000 * 100
	if diff := *quote.PercentChange - wantPct; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected percent change %v, got %v", wantPct, *quote.PercentChange)
	}
}

func TestBuildQuoteWithoutPreviousClose(t *testing.T) {
	// A zero previous close must leave the change fields null
	provider := &stubProvider{name: "stub", price: 100, prevClose: 0}

	quote, err := BuildQuote(context.Background(), provider, "XYZ")
	if err != nil {
		t.Fatalf("BuildQuote failed: %v", err)
	}
	if quote.Change != nil || quote.PercentChange != nil {
		t.Error("change fields must be nil without a previous close")
	}
}

func TestBuildQuotePropagatesPriceError(t *testing.T) {
	provider := &stubProvider{name: "stub", err: ErrUnavailable}

	if _, err := BuildQuote(context.Background(), provider, "XYZ"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

// ============================================================================
// CHAIN TESTS
// ============================================================================

func TestChainFallsThroughToNextProvider(t *testing.T) {
	broken := &stubProvider{name: "broken", err: errors.New("boom")}
	working := &stubProvider{name: "working", price: 42, prevClose: 41, candles: []Candle{{Close: 42}}}
	chain := NewChain(testLogger(), broken, working)
	ctx := context.Background()

	price, err := chain.CurrentPrice(ctx, "NIFTY")
	if err != nil {
		t.Fatalf("CurrentPrice failed: %v", err)
	}
	if price != 42 {
		t.Errorf("expected 42 from the second provider, got %v", price)
	}
	if broken.priceCalls != 1 {
		t.Errorf("first provider must be tried first, calls=%d", broken.priceCalls)
	}

	prev, err := chain.PreviousClose(ctx, "NIFTY")
	if err != nil || prev != 41 {
		t.Errorf("expected 41, got %v (err %v)", prev, err)
	}

	candles, err := chain.Candles(ctx, "NIFTY", "5m", time.Time{}, time.Time{}, 10)
	if err != nil || len(candles) != 1 {
		t.Errorf("expected candles from the second provider, got %v (err %v)", candles, err)
	}
}

func TestChainPrefersFirstProvider(t *testing.T) {
	first := &stubProvider{name: "first", price: 10}
	second := &stubProvider{name: "second", price: 20}
	chain := NewChain(testLogger(), first, second)

	price, err := chain.CurrentPrice(context.Background(), "NIFTY")
	if err != nil {
		t.Fatalf("CurrentPrice failed: %v", err)
	}
	if price != 10 {
		t.Errorf("expected the first provider to win, got %v", price)
	}
	if second.priceCalls != 0 {
		t.Error("second provider must not be called when the first succeeds")
	}
}

func TestChainAllProvidersFail(t *testing.T) {
	chain := NewChain(testLogger(),
		&stubProvider{name: "a", err: errors.New("down")},
		&stubProvider{name: "b", err: errors.New("also down")},
	)

	if _, err := chain.CurrentPrice(context.Background(), "NIFTY"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if _, err := chain.Candles(context.Background(), "NIFTY", "5m", time.Time{}, time.Time{}, 10); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestChainSkipsEmptyCandles(t *testing.T) {
	empty := &stubProvider{name: "empty", candles: []Candle{}}
	full := &stubProvider{name: "full", candles: []Candle{{Close: 1}, {Close: 2}}}
	chain := NewChain(testLogger(), empty, full)

	candles, err := chain.Candles(context.Background(), "NIFTY", "5m", time.Time{}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("Candles failed: %v", err)
	}
	if len(candles) != 2 {
		t.Errorf("expected the non-empty series, got %d candles", len(candles))
	}
}
