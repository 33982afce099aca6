package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"nifty-insight-server/config"
	"nifty-insight-server/internal/activity"
	"nifty-insight-server/internal/backtest"
	"nifty-insight-server/internal/events"
	"nifty-insight-server/internal/kv"
	"nifty-insight-server/internal/logging"
	"nifty-insight-server/internal/market"
	"nifty-insight-server/internal/settings"
	"nifty-insight-server/internal/signal"
	"nifty-insight-server/internal/vault"
)

func testLogger() *logging.Logger {
	return logging.New(&logging.Config{Level: "ERROR"})
}

// newTestServer builds a server on in-memory dependencies: synthetic
// market data, memory-backed settings, a disabled vault and no database.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := testLogger()
	bus := events.NewEventBus()
	manager := settings.NewManager(kv.NewMemory(), "settings:test", bus, logger)
	provider := market.NewSynthetic()
	signals := signal.NewGenerator(nil, bus, logger)
	backtests := backtest.NewRunner(provider, nil, logger)
	recorder := activity.NewRecorder(100, nil, bus, logger)

	cfg := config.ServerConfig{
		Port:           8080,
		Host:           "127.0.0.1",
		AllowedOrigins: "*",
	}

	return NewServer(cfg, manager, provider, signals, backtests, recorder,
		nil, nil, vault.NewMockClient(), nil, bus, logger)
}

func doRequest(s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// decodeData unwraps the {"success": true, "data": ...} envelope.
func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, w.Body.String())
	}
	if !resp.Success {
		t.Fatalf("success = false, body %s", w.Body.String())
	}
	return resp.Data
}

// ============================================================================
// HEALTH
// ============================================================================

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}

	checks, ok := body["checks"].(map[string]interface{})
	if !ok {
		t.Fatalf("checks missing in %s", w.Body.String())
	}
	if checks["database"] != "disabled" {
		t.Errorf("database check = %v, want disabled", checks["database"])
	}
	if checks["redis"] != "disabled" {
		t.Errorf("redis check = %v, want disabled", checks["redis"])
	}
	if checks["vault"] != "disabled" {
		t.Errorf("vault check = %v, want disabled", checks["vault"])
	}

	if w.Header().Get("X-Trace-ID") == "" {
		t.Error("X-Trace-ID header missing")
	}
}

// ============================================================================
// SETTINGS
// ============================================================================

func TestGetSettingsReturnsDefaults(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/settings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	data := decodeData(t, w)
	tree := data["settings"].(map[string]interface{})
	core := tree["core"].(map[string]interface{})
	if core["riskRewardRatio"] != 2.0 {
		t.Errorf("riskRewardRatio = %v, want 2", core["riskRewardRatio"])
	}
	if data["activePresetId"] != nil {
		t.Errorf("activePresetId = %v, want null", data["activePresetId"])
	}
	if data["unsavedChanges"] != false {
		t.Errorf("unsavedChanges = %v, want false", data["unsavedChanges"])
	}
}

func TestUpdateSingleSettingValue(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPut, "/api/settings/value", map[string]interface{}{
		"path":  "indicators.rsi.enabled",
		"value": false,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	data := decodeData(t, w)
	tree := data["settings"].(map[string]interface{})
	rsi := tree["indicators"].(map[string]interface{})["rsi"].(map[string]interface{})
	if rsi["enabled"] != false {
		t.Errorf("rsi.enabled = %v, want false", rsi["enabled"])
	}
	if data["unsavedChanges"] != true {
		t.Errorf("unsavedChanges = %v, want true", data["unsavedChanges"])
	}
}

func TestUpdateSettingValueUnknownPath(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPut, "/api/settings/value", map[string]interface{}{
		"path":  "indicators.bogus",
		"value": 1,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestUpdateSettingValueMissingPath(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPut, "/api/settings/value", map[string]interface{}{
		"value": 42,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestPartialSettingsUpdate(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPut, "/api/settings", map[string]interface{}{
		"core": map[string]interface{}{"riskRewardRatio": 3.5},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	data := decodeData(t, w)
	core := data["settings"].(map[string]interface{})["core"].(map[string]interface{})
	if core["riskRewardRatio"] != 3.5 {
		t.Errorf("riskRewardRatio = %v, want 3.5", core["riskRewardRatio"])
	}
	// Untouched leaves keep their defaults.
	if core["defaultSymbol"] != "NIFTY" {
		t.Errorf("defaultSymbol = %v, want NIFTY", core["defaultSymbol"])
	}
}

func TestPartialSettingsUpdateRejectsBadValue(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPut, "/api/settings", map[string]interface{}{
		"core": map[string]interface{}{"riskRewardRatio": "high"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	// The whole batch is rejected, so the value is unchanged.
	w = doRequest(s, http.MethodGet, "/api/settings", nil)
	data := decodeData(t, w)
	core := data["settings"].(map[string]interface{})["core"].(map[string]interface{})
	if core["riskRewardRatio"] != 2.0 {
		t.Errorf("riskRewardRatio = %v, want 2 after rejected update", core["riskRewardRatio"])
	}
}

func TestResetSettings(t *testing.T) {
	s := newTestServer(t)

	doRequest(s, http.MethodPut, "/api/settings/value", map[string]interface{}{
		"path":  "core.riskRewardRatio",
		"value": 5.0,
	})

	w := doRequest(s, http.MethodPost, "/api/settings/reset", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	data := decodeData(t, w)
	core := data["settings"].(map[string]interface{})["core"].(map[string]interface{})
	if core["riskRewardRatio"] != 2.0 {
		t.Errorf("riskRewardRatio = %v, want 2 after reset", core["riskRewardRatio"])
	}
}

func TestPresetLifecycle(t *testing.T) {
	s := newTestServer(t)

	// Snapshot the defaults as a preset.
	w := doRequest(s, http.MethodPost, "/api/settings/presets", map[string]interface{}{
		"name":        "Conservative",
		"description": "Low risk defaults",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("save status = %d, body %s", w.Code, w.Body.String())
	}
	preset := decodeData(t, w)
	id, _ := preset["id"].(string)
	if id == "" {
		t.Fatalf("preset id missing in %s", w.Body.String())
	}

	// Drift away from the snapshot.
	doRequest(s, http.MethodPut, "/api/settings/value", map[string]interface{}{
		"path":  "core.riskRewardRatio",
		"value": 9.0,
	})

	// Loading the preset restores the snapshot.
	w = doRequest(s, http.MethodPost, "/api/settings/presets/"+id+"/load", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("load status = %d, body %s", w.Code, w.Body.String())
	}
	data := decodeData(t, w)
	core := data["settings"].(map[string]interface{})["core"].(map[string]interface{})
	if core["riskRewardRatio"] != 2.0 {
		t.Errorf("riskRewardRatio = %v, want 2 after preset load", core["riskRewardRatio"])
	}
	if data["activePresetId"] != id {
		t.Errorf("activePresetId = %v, want %s", data["activePresetId"], id)
	}

	// Deleting it clears the active marker.
	w = doRequest(s, http.MethodDelete, "/api/settings/presets/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	data = decodeData(t, w)
	if presets := data["presets"].([]interface{}); len(presets) != 0 {
		t.Errorf("presets remaining = %d, want 0", len(presets))
	}
	if data["activePresetId"] != nil {
		t.Errorf("activePresetId = %v, want null after delete", data["activePresetId"])
	}
}

func TestLoadUnknownPresetKeepsSettings(t *testing.T) {
	s := newTestServer(t)

	doRequest(s, http.MethodPut, "/api/settings/value", map[string]interface{}{
		"path":  "core.riskRewardRatio",
		"value": 4.0,
	})

	w := doRequest(s, http.MethodPost, "/api/settings/presets/nope/load", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	data := decodeData(t, w)
	core := data["settings"].(map[string]interface{})["core"].(map[string]interface{})
	if core["riskRewardRatio"] != 4.0 {
		t.Errorf("riskRewardRatio = %v, want 4 after unknown preset load", core["riskRewardRatio"])
	}
}

// ============================================================================
// MARKET DATA
// ============================================================================

func TestCurrentPriceRequiresSymbol(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/price/current", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCurrentPrice(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/price/current?symbol=NIFTY", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	data := decodeData(t, w)
	if data["symbol"] != "NIFTY" {
		t.Errorf("symbol = %v, want NIFTY", data["symbol"])
	}
	price, _ := data["price"].(float64)
	if price <= 0 {
		t.Errorf("price = %v, want > 0", data["price"])
	}
	// Synthetic previous close is a point below spot, so change is set.
	if data["change"] == nil {
		t.Error("change missing from quote")
	}
}

func TestGetCandles(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/candles?symbol=NIFTY&timeframe=5m&limit=50", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	data := decodeData(t, w)
	if data["timeframe"] != "5m" {
		t.Errorf("timeframe = %v, want 5m", data["timeframe"])
	}
	candles := data["candles"].([]interface{})
	if len(candles) != 50 {
		t.Errorf("candles = %d, want 50", len(candles))
	}
}

func TestGetCandlesRejectsBadTimeframe(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/candles?symbol=NIFTY&timeframe=7m", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGetCandlesRejectsBadLimit(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/candles?symbol=NIFTY&limit=zero", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

// ============================================================================
// ANALYSIS
// ============================================================================

func TestGetLevels(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/levels/daily?symbol=NIFTY", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	data := decodeData(t, w)
	if data["period"] != "daily" {
		t.Errorf("period = %v, want daily", data["period"])
	}
	pivot, _ := data["pivot"].(float64)
	if pivot <= 0 {
		t.Errorf("pivot = %v, want > 0", data["pivot"])
	}
}

func TestGetLevelsRejectsBadPeriod(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/levels/hourly?symbol=NIFTY", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGetIndicatorsSnapshot(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/indicators?symbol=NIFTY&timeframe=5m", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	data := decodeData(t, w)
	if data["symbol"] != "NIFTY" {
		t.Errorf("symbol = %v, want NIFTY", data["symbol"])
	}
	rsi, ok := data["rsi"].(float64)
	if !ok || rsi < 0 || rsi > 100 {
		t.Errorf("rsi = %v, want within [0, 100]", data["rsi"])
	}
}

func TestGetIndicatorsSeries(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/indicators?symbol=NIFTY&series=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	data := decodeData(t, w)
	series := data["series"].(map[string]interface{})
	ema := series["ema"].(map[string]interface{})
	if _, ok := ema["9"]; !ok {
		t.Errorf("series.ema missing period 9, got %v", ema)
	}
}

func TestCurrentSignal(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/signal/current?symbol=NIFTY&timeframe=5m", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	data := decodeData(t, w)
	dir, _ := data["signal"].(string)
	switch dir {
	case "BUY", "SELL", "NEUTRAL":
	default:
		t.Errorf("signal = %q, want BUY, SELL or NEUTRAL", dir)
	}
	entry, _ := data["entry_price"].(float64)
	if entry <= 0 {
		t.Errorf("entry_price = %v, want > 0", data["entry_price"])
	}
}

func TestGetGreeks(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/greeks?option=NIFTY270417C24000", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	data := decodeData(t, w)
	if data["option_symbol"] != "NIFTY270417C24000" {
		t.Errorf("option_symbol = %v", data["option_symbol"])
	}
	delta, _ := data["delta"].(float64)
	if delta < 0 || delta > 1 {
		t.Errorf("call delta = %v, want within [0, 1]", data["delta"])
	}
	if data["status"] == "" {
		t.Error("status missing from greeks payload")
	}
}

func TestGetGreeksRejectsBadSymbol(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/greeks?option=XYZ", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGetGreeksPublishesUpdate(t *testing.T) {
	s := newTestServer(t)

	got := make(chan events.Event, 1)
	s.eventBus.Subscribe(events.EventGreeksUpdate, func(e events.Event) {
		got <- e
	})

	w := doRequest(s, http.MethodGet, "/api/greeks?option=NIFTY270417C24000", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	select {
	case e := <-got:
		if e.Data["option"] != "NIFTY270417C24000" {
			t.Errorf("event option = %v", e.Data["option"])
		}
		if _, ok := e.Data["delta"].(float64); !ok {
			t.Errorf("event delta = %v, want float", e.Data["delta"])
		}
	case <-time.After(time.Second):
		t.Fatal("no greeks update event published")
	}
}

// ============================================================================
// BACKTEST
// ============================================================================

func TestRunBacktest(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/backtest", map[string]interface{}{
		"symbol":         "NIFTY",
		"timeframe":      "5m",
		"initialCapital": 100000,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	data := decodeData(t, w)
	metrics := data["metrics"].(map[string]interface{})
	if _, ok := metrics["totalTrades"]; !ok {
		t.Errorf("metrics missing totalTrades: %v", metrics)
	}
	curve := data["equityCurve"].([]interface{})
	if len(curve) == 0 {
		t.Error("equity curve is empty")
	}
	final, _ := data["finalEquity"].(float64)
	if final <= 0 {
		t.Errorf("finalEquity = %v, want > 0", data["finalEquity"])
	}
}

func TestRunBacktestDefaultsFromSettings(t *testing.T) {
	s := newTestServer(t)

	// Empty body: symbol, timeframe, range and capital all come from
	// the user's settings.
	w := doRequest(s, http.MethodPost, "/api/backtest", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	data := decodeData(t, w)
	if _, ok := data["metrics"].(map[string]interface{}); !ok {
		t.Fatalf("metrics missing in %s", w.Body.String())
	}
}

// ============================================================================
// ACTIVITY LOG
// ============================================================================

func TestRecentLogs(t *testing.T) {
	s := newTestServer(t)
	s.recorder.Info(context.Background(), "scanner", "First entry", nil)
	s.recorder.Warn(context.Background(), "scanner", "Second entry", nil)

	w := doRequest(s, http.MethodGet, "/api/logs/recent?limit=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	data := decodeData(t, w)
	logs := data["logs"].([]interface{})
	if len(logs) != 2 {
		t.Fatalf("logs = %d, want 2", len(logs))
	}
	newest := logs[0].(map[string]interface{})
	if newest["message"] != "Second entry" {
		t.Errorf("newest message = %v, want Second entry", newest["message"])
	}
}

// ============================================================================
// BROKER CREDENTIALS
// ============================================================================

func TestBrokerCredentialsLifecycle(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/broker/credentials", map[string]interface{}{
		"broker":     "zerodha",
		"api_key":    "key-1234",
		"api_secret": "secret-5678",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("store status = %d, body %s", w.Code, w.Body.String())
	}

	// Single broker lookup is masked.
	w = doRequest(s, http.MethodGet, "/api/broker/credentials?broker=zerodha", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, body %s", w.Code, w.Body.String())
	}
	data := decodeData(t, w)
	if data["api_key_last_four"] != "****1234" {
		t.Errorf("api_key_last_four = %v, want ****1234", data["api_key_last_four"])
	}
	if _, leaked := data["api_key"]; leaked {
		t.Error("api_key leaked in response")
	}
	if data["has_refresh_token"] != false {
		t.Errorf("has_refresh_token = %v, want false", data["has_refresh_token"])
	}

	// Listing returns the one stored broker.
	w = doRequest(s, http.MethodGet, "/api/broker/credentials", nil)
	data = decodeData(t, w)
	list := data["credentials"].([]interface{})
	if len(list) != 1 {
		t.Fatalf("credentials = %d, want 1", len(list))
	}

	// Deletion removes it.
	w = doRequest(s, http.MethodDelete, "/api/broker/credentials?broker=zerodha", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = doRequest(s, http.MethodGet, "/api/broker/credentials?broker=zerodha", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", w.Code)
	}
}

func TestStoreBrokerCredentialsValidation(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/broker/credentials", map[string]interface{}{
		"broker": "zerodha",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestDeleteBrokerCredentialsRequiresBroker(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodDelete, "/api/broker/credentials", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

// ============================================================================
// RATE LIMITER
// ============================================================================

func TestRateLimiterAllowsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("client") {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
	}
	if rl.Allow("client") {
		t.Error("fourth request allowed, want denied")
	}
	// Other keys are unaffected.
	if !rl.Allow("other") {
		t.Error("unrelated key denied")
	}
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	rl := NewRateLimiter(1, 10*time.Millisecond)

	if !rl.Allow("client") {
		t.Fatal("first request denied")
	}
	if rl.Allow("client") {
		t.Fatal("second request allowed inside window")
	}

	time.Sleep(20 * time.Millisecond)
	if !rl.Allow("client") {
		t.Error("request denied after window expired")
	}
}
