package market

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newFinnhubTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Query().Get("symbol") {
		case "NIFTY":
			fmt.Fprint(w, `{"c":24150.5,"pc":24000}`)
		default:
			fmt.Fprint(w, `{"c":0,"pc":0}`)
		}
	})

	mux.HandleFunc("/stock/candle", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("resolution") != "5" {
			fmt.Fprint(w, `{"s":"no_data"}`)
			return
		}
		switch r.URL.Query().Get("symbol") {
		case "NIFTY":
			fmt.Fprint(w, `{"s":"ok","t":[1700000000,1700000300,1700000600],"o":[100,101,102],"h":[101,102,103],"l":[99,100,101],"c":[100.5,101.5,102.5],"v":[1000,1100,1200]}`)
		default:
			fmt.Fprint(w, `{"s":"no_data"}`)
		}
	})

	return httptest.NewServer(mux)
}

func TestFinnhubQuote(t *testing.T) {
	srv := newFinnhubTestServer(t)
	defer srv.Close()

	provider := NewFinnhub("test-key", srv.URL, testLogger())
	ctx := context.Background()

	price, err := provider.CurrentPrice(ctx, "NIFTY")
	if err != nil {
		t.Fatalf("CurrentPrice failed: %v", err)
	}
	if price != 24150.5 {
		t.Errorf("expected 24150.5, got %v", price)
	}

	prev, err := provider.PreviousClose(ctx, "NIFTY")
	if err != nil {
		t.Fatalf("PreviousClose failed: %v", err)
	}
	if prev != 24000 {
		t.Errorf("expected 24000, got %v", prev)
	}
}

func TestFinnhubZeroQuoteIsUnavailable(t *testing.T) {
	srv := newFinnhubTestServer(t)
	defer srv.Close()

	provider := NewFinnhub("test-key", srv.URL, testLogger())

	if _, err := provider.CurrentPrice(context.Background(), "UNKNOWN"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for a zero quote, got %v", err)
	}
}

func TestFinnhubCandles(t *testing.T) {
	srv := newFinnhubTestServer(t)
	defer srv.Close()

	provider := NewFinnhub("test-key", srv.URL, testLogger())
	ctx := context.Background()

	candles, err := provider.Candles(ctx, "NIFTY", "5m", time.Time{}, time.Time{}, 100)
	if err != nil {
		t.Fatalf("Candles failed: %v", err)
	}
	if len(candles) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(candles))
	}
	if candles[0].Time != time.Unix(1700000000, 0).UTC() {
		t.Errorf("unexpected first candle time %v", candles[0].Time)
	}
	if candles[2].Close != 102.5 || candles[2].Volume != 1200 {
		t.Errorf("unexpected last candle %+v", candles[2])
	}

	// Limit truncates from the front, matching the upstream ordering
	two, err := provider.Candles(ctx, "NIFTY", "5m", time.Time{}, time.Time{}, 2)
	if err != nil {
		t.Fatalf("Candles failed: %v", err)
	}
	if len(two) != 2 || two[1].Close != 101.5 {
		t.Errorf("expected the first two candles, got %+v", two)
	}

	if _, err := provider.Candles(ctx, "UNKNOWN", "5m", time.Time{}, time.Time{}, 10); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for no_data, got %v", err)
	}

	if _, err := provider.Candles(ctx, "NIFTY", "9m", time.Time{}, time.Time{}, 10); err == nil {
		t.Error("expected error for unsupported timeframe")
	}
}

func TestFinnhubAuthFailure(t *testing.T) {
	srv := newFinnhubTestServer(t)
	defer srv.Close()

	provider := NewFinnhub("wrong-key", srv.URL, testLogger())

	if _, err := provider.CurrentPrice(context.Background(), "NIFTY"); err == nil {
		t.Error("expected error for rejected token")
	}
}
