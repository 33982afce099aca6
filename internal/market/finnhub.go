package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"nifty-insight-server/internal/logging"
)

// finnhubResolutions maps dashboard timeframes to Finnhub candle
// resolutions
var finnhubResolutions = map[string]string{
	"1m":  "1",
	"5m":  "5",
	"15m": "15",
	"30m": "30",
	"1h":  "60",
	"1d":  "D",
}

// Finnhub fetches quotes and candles from the Finnhub REST API
type Finnhub struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewFinnhub creates a Finnhub provider. baseURL defaults to the public
// API when empty.
func NewFinnhub(apiKey, baseURL string, logger *logging.Logger) *Finnhub {
	if baseURL == "" {
		baseURL = "https://finnhub.io/api/v1"
	}
	return &Finnhub{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.WithComponent("market.finnhub"),
	}
}

// Name identifies the provider
func (f *Finnhub) Name() string {
	return "finnhub"
}

type finnhubQuote struct {
	Current       float64 `json:"c"`
	PreviousClose float64 `json:"pc"`
}

func (f *Finnhub) quote(ctx context.Context, symbol string) (finnhubQuote, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("token", f.apiKey)

	endpoint := fmt.Sprintf("%s/quote?%s", f.baseURL, params.Encode())

	body, err := f.get(ctx, endpoint)
	if err != nil {
		return finnhubQuote{}, err
	}

	var q finnhubQuote
	if err := json.Unmarshal(body, &q); err != nil {
		return finnhubQuote{}, fmt.Errorf("error parsing quote: %w", err)
	}
	return q, nil
}

// CurrentPrice returns the latest traded price. Finnhub reports 0 for
// unknown symbols, which maps to ErrUnavailable.
func (f *Finnhub) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	q, err := f.quote(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if q.Current == 0 {
		return 0, fmt.Errorf("%w: no quote for %s", ErrUnavailable, symbol)
	}
	return q.Current, nil
}

// PreviousClose returns the prior session's close
func (f *Finnhub) PreviousClose(ctx context.Context, symbol string) (float64, error) {
	q, err := f.quote(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if q.PreviousClose == 0 {
		return 0, fmt.Errorf("%w: no previous close for %s", ErrUnavailable, symbol)
	}
	return q.PreviousClose, nil
}

type finnhubCandles struct {
	Status  string    `json:"s"`
	Times   []int64   `json:"t"`
	Opens   []float64 `json:"o"`
	Highs   []float64 `json:"h"`
	Lows    []float64 `json:"l"`
	Closes  []float64 `json:"c"`
	Volumes []float64 `json:"v"`
}

// Candles fetches OHLCV bars. A zero start/end defaults to the window
// covering limit bars ending now.
func (f *Finnhub) Candles(ctx context.Context, symbol, timeframe string, start, end time.Time, limit int) ([]Candle, error) {
	resolution, ok := finnhubResolutions[timeframe]
	if !ok {
		return nil, fmt.Errorf("market: unsupported timeframe %q", timeframe)
	}
	step, _ := TimeframeDuration(timeframe)
	if limit <= 0 {
		limit = 100
	}
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() {
		start = end.Add(-step * time.Duration(limit))
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("resolution", resolution)
	params.Set("from", strconv.FormatInt(start.Unix(), 10))
	params.Set("to", strconv.FormatInt(end.Unix(), 10))
	params.Set("token", f.apiKey)

	endpoint := fmt.Sprintf("%s/stock/candle?%s", f.baseURL, params.Encode())

	body, err := f.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var raw finnhubCandles
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("error parsing candles: %w", err)
	}
	if raw.Status != "ok" {
		return nil, fmt.Errorf("%w: no candle data for %s", ErrUnavailable, symbol)
	}

	count := len(raw.Times)
	if count > limit {
		count = limit
	}
	candles := make([]Candle, 0, count)
	for i := 0; i < count; i++ {
		candles = append(candles, Candle{
			Time:   time.Unix(raw.Times[i], 0).UTC(),
			Open:   raw.Opens[i],
			High:   raw.Highs[i],
			Low:    raw.Lows[i],
			Close:  raw.Closes[i],
			Volume: raw.Volumes[i],
		})
	}
	return candles, nil
}

func (f *Finnhub) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("error building request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching from finnhub: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error: %s", string(body))
	}
	return body, nil
}
