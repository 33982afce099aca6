package settings

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"nifty-insight-server/internal/kv"
	"nifty-insight-server/internal/logging"
)

const testKey = "settings:store:test"

func testLogger() *logging.Logger {
	return logging.New(&logging.Config{Level: "ERROR", Output: "stderr"})
}

func newTestStore(t *testing.T) (*Store, *kv.Memory) {
	t.Helper()
	mem := kv.NewMemory()
	store := NewStore(mem, testKey, "test", nil, testLogger())
	store.now = func() time.Time { return time.UnixMilli(1712000000000) }
	return store, mem
}

// ============================================================================
// PATH UPDATE TESTS
// ============================================================================

func TestUpdateSettingRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)

	cases := []struct {
		path  string
		value interface{}
		want  interface{}
	}{
		{"indicators.ema.ema9.enabled", false, false},
		{"indicators.ema.ema21.style.color", "#ffffff", "#ffffff"},
		{"indicators.rsi.period", 21, 21},
		{"indicators.stochastic.kPeriod", 9.0, 9}, // JSON number into int leaf
		{"core.riskRewardRatio", 3, 3.0},          // int into float leaf
		{"core.tradeDirection", "long", "long"},
		{"dashboard.theme", "light", "light"},
		{"signals.rsiOverbought", 80.0, 80.0},
		{"broker.lotSize", 75, 75},
		{"levels.highlightNarrowCPR", false, false},
	}

	for _, tc := range cases {
		if err := store.UpdateSetting(tc.path, tc.value); err != nil {
			t.Fatalf("UpdateSetting(%s) failed: %v", tc.path, err)
		}
		got, err := store.Setting(tc.path)
		if err != nil {
			t.Fatalf("Setting(%s) failed: %v", tc.path, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("path %s: expected %v (%T), got %v (%T)", tc.path, tc.want, tc.want, got, got)
		}
	}
}

func TestUpdateSettingRoundTripAllPaths(t *testing.T) {
	store, _ := newTestStore(t)
	schema := NewSchema()

	paths := schema.Paths()
	if len(paths) == 0 {
		t.Fatal("schema has no leaf paths")
	}

	// Writing the current value back through every path must round-trip
	for _, path := range paths {
		current, err := store.Setting(path)
		if err != nil {
			t.Fatalf("Setting(%s) failed: %v", path, err)
		}
		if err := store.UpdateSetting(path, current); err != nil {
			t.Fatalf("UpdateSetting(%s) failed: %v", path, err)
		}
		got, err := store.Setting(path)
		if err != nil {
			t.Fatalf("Setting(%s) after update failed: %v", path, err)
		}
		if !reflect.DeepEqual(got, current) {
			t.Errorf("path %s: round-trip changed value from %v to %v", path, current, got)
		}
	}
}

func TestUpdateSettingDoesNotMutatePreviousSnapshot(t *testing.T) {
	store, _ := newTestStore(t)

	before := store.Settings()
	if err := store.UpdateSetting("indicators.rsi.enabled", false); err != nil {
		t.Fatalf("UpdateSetting failed: %v", err)
	}

	if !before.Indicators.RSI.Enabled {
		t.Error("previously returned snapshot was mutated by the update")
	}
	if store.Settings().Indicators.RSI.Enabled {
		t.Error("update was not applied to the current tree")
	}
}

func TestUpdateSettingUnknownPath(t *testing.T) {
	store, mem := newTestStore(t)

	paths := []string{
		"",
		"core",                       // Interior node
		"indicators.rsi",             // Interior node
		"indicators.ema.ema9.style",  // Interior node
		"nope.nope",                  // Unknown root
		"core.unknownField",          // Unknown leaf
		"indicators.rsi.enabled.sub", // Past a leaf
	}

	for _, path := range paths {
		err := store.UpdateSetting(path, true)
		if !errors.Is(err, ErrUnknownPath) {
			t.Errorf("path %q: expected ErrUnknownPath, got %v", path, err)
		}
	}

	if !reflect.DeepEqual(store.Settings(), DefaultSettings()) {
		t.Error("rejected updates must leave the tree untouched")
	}
	if _, err := mem.Get(context.Background(), testKey); err != kv.ErrNotFound {
		t.Error("rejected updates must not persist")
	}
}

func TestUpdateSettingInvalidValue(t *testing.T) {
	store, _ := newTestStore(t)

	cases := []struct {
		path  string
		value interface{}
	}{
		{"indicators.rsi.enabled", "yes"},
		{"core.riskRewardRatio", "high"},
		{"core.defaultSymbol", 42},
		{"indicators.rsi.period", 14.5}, // Non-integral for int leaf
		{"indicators.rsi.enabled", nil},
	}

	for _, tc := range cases {
		err := store.UpdateSetting(tc.path, tc.value)
		if !errors.Is(err, ErrInvalidValue) {
			t.Errorf("path %q value %v: expected ErrInvalidValue, got %v", tc.path, tc.value, err)
		}
	}

	// Integral floats are fine for integer leaves
	if err := store.UpdateSetting("indicators.rsi.period", 21.0); err != nil {
		t.Fatalf("integral float should be accepted for int leaf: %v", err)
	}
	got, _ := store.Setting("indicators.rsi.period")
	if got != 21 {
		t.Errorf("expected period 21, got %v", got)
	}
}

// ============================================================================
// RESET TESTS
// ============================================================================

func TestResetSettingsRestoresDefaults(t *testing.T) {
	store, _ := newTestStore(t)

	store.UpdateSetting("core.riskRewardRatio", 5.0)
	store.UpdateSetting("dashboard.theme", "light")
	store.UpdateSetting("indicators.ema.ema50.enabled", true)
	store.SavePreset("Before reset", "")

	store.ResetSettings()

	if !reflect.DeepEqual(store.Settings(), DefaultSettings()) {
		t.Error("reset must restore the static defaults exactly")
	}
	if store.ActivePresetID() != "" {
		t.Error("reset must clear the active preset")
	}
	if store.UnsavedChanges() {
		t.Error("reset must clear the unsaved flag")
	}
}

// ============================================================================
// PRESET TESTS
// ============================================================================

func TestSavePresetThenLoadRestoresCapturedValue(t *testing.T) {
	store, _ := newTestStore(t)

	// Defaults carry riskRewardRatio 2.0; capture that in a preset
	preset := store.SavePreset("Conservative", "low risk")
	if preset.ID == "" || preset.Name != "Conservative" || preset.Description != "low risk" {
		t.Fatalf("unexpected preset: %+v", preset)
	}
	if store.ActivePresetID() != preset.ID {
		t.Error("saved preset must become active")
	}
	if store.UnsavedChanges() {
		t.Error("saving a preset must clear the unsaved flag")
	}

	if err := store.UpdateSetting("core.riskRewardRatio", 5); err != nil {
		t.Fatalf("UpdateSetting failed: %v", err)
	}
	if got := store.Settings().Core.RiskRewardRatio; got != 5 {
		t.Fatalf("expected 5 after update, got %v", got)
	}

	store.LoadPreset(preset.ID)

	if got := store.Settings().Core.RiskRewardRatio; got != 2.0 {
		t.Errorf("expected the value captured at save time (2.0), got %v", got)
	}
	if store.ActivePresetID() != preset.ID {
		t.Error("loading a preset must set it active")
	}
	if store.UnsavedChanges() {
		t.Error("loading a preset must clear the unsaved flag")
	}
}

func TestSavePresetCapturesEntireTree(t *testing.T) {
	store, _ := newTestStore(t)

	store.UpdateSetting("dashboard.theme", "light")
	store.UpdateSetting("greeks.showRho", true)
	captured := store.Settings()

	preset := store.SavePreset("Custom", "full snapshot")

	store.UpdateSetting("dashboard.theme", "dark")
	store.UpdateSetting("core.riskPerTrade", 2000)
	store.UpdateSetting("greeks.showRho", false)

	store.LoadPreset(preset.ID)

	if !reflect.DeepEqual(store.Settings(), captured) {
		t.Error("loading an unmodified preset must restore the exact captured tree")
	}
}

func TestLoadPresetShallowMergeReplacesWholeSection(t *testing.T) {
	store, _ := newTestStore(t)

	// Off-default state in two different sections
	store.UpdateSetting("core.riskPerTrade", 555.0)
	store.UpdateSetting("greeks.showDelta", false)

	// Hand-built partial preset naming only the core section, with only
	// one field inside it. Partial presets arrive via externally written
	// envelopes; SavePreset always captures complete sections.
	store.mu.Lock()
	store.presets = append(store.presets, Preset{
		ID:   "partial",
		Name: "Partial",
		Settings: map[string]json.RawMessage{
			"core": json.RawMessage(`{"riskRewardRatio": 4}`),
		},
	})
	store.mu.Unlock()

	store.LoadPreset("partial")
	s := store.Settings()

	if s.Core.RiskRewardRatio != 4 {
		t.Errorf("expected preset value 4, got %v", s.Core.RiskRewardRatio)
	}
	// The whole core section was replaced, so the earlier edit is gone
	if s.Core.RiskPerTrade != DefaultSettings().Core.RiskPerTrade {
		t.Errorf("expected core.riskPerTrade back on default, got %v", s.Core.RiskPerTrade)
	}
	if s.Core.DefaultSymbol != "NIFTY" {
		t.Errorf("omitted fields in a replaced section must take defaults, got %q", s.Core.DefaultSymbol)
	}
	// Sections the preset does not name stay exactly as they were
	if s.Greeks.ShowDelta {
		t.Error("greeks section must be untouched by a core-only preset")
	}
}

func TestLoadPresetUnknownIDIsNoOp(t *testing.T) {
	store, _ := newTestStore(t)

	store.UpdateSetting("dashboard.theme", "light")
	before := store.State()

	store.LoadPreset("does-not-exist")
	after := store.State()

	if !reflect.DeepEqual(before.Settings, after.Settings) {
		t.Error("loading an unknown preset must not change the tree")
	}
	if before.UnsavedChanges != after.UnsavedChanges {
		t.Error("loading an unknown preset must not touch the unsaved flag")
	}
	if after.ActivePresetID != nil {
		t.Error("loading an unknown preset must not set an active id")
	}
}

func TestDeletePresetActiveAndNonActive(t *testing.T) {
	store, _ := newTestStore(t)

	first := store.SavePreset("First", "")
	second := store.SavePreset("Second", "")
	if first.ID == second.ID {
		t.Fatalf("preset ids must be unique, both were %s", first.ID)
	}
	if store.ActivePresetID() != second.ID {
		t.Fatalf("expected %s active", second.ID)
	}

	// Deleting a non-active preset leaves the active id alone
	store.DeletePreset(first.ID)
	if store.ActivePresetID() != second.ID {
		t.Error("deleting a non-active preset must not touch the active id")
	}
	if len(store.Presets()) != 1 {
		t.Fatalf("expected 1 preset left, got %d", len(store.Presets()))
	}

	// Deleting the active preset clears the active id
	store.DeletePreset(second.ID)
	if store.ActivePresetID() != "" {
		t.Error("deleting the active preset must clear the active id")
	}
	if store.State().ActivePresetID != nil {
		t.Error("cleared active id must serialize as null")
	}
	if len(store.Presets()) != 0 {
		t.Errorf("expected no presets left, got %d", len(store.Presets()))
	}
}

func TestManualEditDetachesActivePreset(t *testing.T) {
	store, _ := newTestStore(t)

	store.SavePreset("Base", "")
	if store.ActivePresetID() == "" {
		t.Fatal("expected an active preset after save")
	}

	if err := store.UpdateSetting("indicators.rsi.enabled", false); err != nil {
		t.Fatalf("UpdateSetting failed: %v", err)
	}

	if store.Settings().Indicators.RSI.Enabled {
		t.Error("expected indicators.rsi.enabled to be false")
	}
	if !store.UnsavedChanges() {
		t.Error("a manual edit must mark unsaved changes")
	}
	if store.ActivePresetID() != "" {
		t.Error("a manual edit must detach the active preset")
	}
	if store.State().ActivePresetID != nil {
		t.Error("detached active preset must serialize as null")
	}
}

// ============================================================================
// PERSISTENCE TESTS
// ============================================================================

func TestPersistedEnvelopeRoundTrip(t *testing.T) {
	store, mem := newTestStore(t)

	store.UpdateSetting("dashboard.theme", "light")
	store.SavePreset("Night", "dark mode profile")

	// UI state changes after the last persist; none of it may leak into
	// the envelope or survive a reload
	store.SetSettingsOpen(true)
	store.SetActiveCategory("indicators")
	store.MarkUnsavedChanges(true)

	raw, err := mem.Get(context.Background(), testKey)
	if err != nil {
		t.Fatalf("expected a persisted envelope: %v", err)
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		t.Fatalf("envelope is not valid JSON: %v", err)
	}
	for _, want := range []string{"settings", "presets", "activePresetId"} {
		if _, ok := keys[want]; !ok {
			t.Errorf("envelope missing %q", want)
		}
	}
	for _, banned := range []string{"settingsOpen", "activeCategory", "unsavedChanges"} {
		if _, ok := keys[banned]; ok {
			t.Errorf("UI field %q must not be persisted", banned)
		}
	}
	if len(keys) != 3 {
		t.Errorf("envelope must contain exactly settings, presets and activePresetId, got %d keys", len(keys))
	}

	reopened := NewStore(mem, testKey, "test", nil, testLogger())

	if !reflect.DeepEqual(reopened.Settings(), store.Settings()) {
		t.Error("settings tree changed across the persistence round-trip")
	}
	if !reflect.DeepEqual(reopened.Presets(), store.Presets()) {
		t.Error("presets changed across the persistence round-trip")
	}
	if reopened.ActivePresetID() != store.ActivePresetID() {
		t.Error("active preset id changed across the persistence round-trip")
	}

	// UI state re-initializes fresh
	if reopened.SettingsOpen() {
		t.Error("settingsOpen must re-initialize to false")
	}
	if reopened.ActiveCategory() != "" {
		t.Error("activeCategory must re-initialize empty")
	}
	if reopened.UnsavedChanges() {
		t.Error("unsavedChanges must re-initialize to false")
	}
}

func TestCorruptEnvelopeFallsBackToDefaults(t *testing.T) {
	mem := kv.NewMemory()
	if err := mem.Set(context.Background(), testKey, []byte("{{{not json")); err != nil {
		t.Fatalf("failed to seed corrupt envelope: %v", err)
	}

	store := NewStore(mem, testKey, "test", nil, testLogger())

	if !reflect.DeepEqual(store.Settings(), DefaultSettings()) {
		t.Error("corrupt envelope must fall back to defaults")
	}
	if len(store.Presets()) != 0 || store.ActivePresetID() != "" {
		t.Error("corrupt envelope must leave presets empty")
	}
}

func TestPersistFailureIsSwallowed(t *testing.T) {
	store, _ := newTestStore(t)
	store.persist = failingStore{}

	// Mutations must not error even when every write fails
	if err := store.UpdateSetting("dashboard.theme", "light"); err != nil {
		t.Fatalf("persist failure must be swallowed, got %v", err)
	}
	if store.Settings().Dashboard.Theme != "light" {
		t.Error("in-memory update must still apply when persistence fails")
	}
}

type failingStore struct{}

func (failingStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, kv.ErrUnavailable
}
func (failingStore) Set(ctx context.Context, key string, value []byte) error {
	return kv.ErrUnavailable
}
func (failingStore) Delete(ctx context.Context, key string) error {
	return kv.ErrUnavailable
}

// ============================================================================
// UI STATE AND PLACEHOLDER TESTS
// ============================================================================

func TestUISettersDoNotTouchTreeOrPersist(t *testing.T) {
	store, mem := newTestStore(t)

	store.SetSettingsOpen(true)
	store.SetActiveCategory("greeks")
	store.MarkUnsavedChanges(true)

	if !store.SettingsOpen() || store.ActiveCategory() != "greeks" || !store.UnsavedChanges() {
		t.Error("UI setters must be readable back")
	}
	if !reflect.DeepEqual(store.Settings(), DefaultSettings()) {
		t.Error("UI setters must not touch the configuration tree")
	}
	if _, err := mem.Get(context.Background(), testKey); err != kv.ErrNotFound {
		t.Error("UI setters must not persist")
	}
}

func TestSaveToServerClearsUnsavedFlag(t *testing.T) {
	store, _ := newTestStore(t)

	store.UpdateSetting("dashboard.theme", "light")
	if !store.UnsavedChanges() {
		t.Fatal("expected unsaved changes after edit")
	}

	if err := store.SaveToServer(context.Background()); err != nil {
		t.Fatalf("SaveToServer failed: %v", err)
	}
	if store.UnsavedChanges() {
		t.Error("SaveToServer must clear the unsaved flag")
	}

	if err := store.LoadFromServer(context.Background()); err != nil {
		t.Fatalf("LoadFromServer failed: %v", err)
	}
}

// ============================================================================
// PARTIAL UPDATE (DEEP MERGE) TESTS
// ============================================================================

func TestApplyPartialDeepMergesLeaves(t *testing.T) {
	store, _ := newTestStore(t)

	store.UpdateSetting("core.riskPerTrade", 555.0)

	err := store.ApplyPartial([]byte(`{"core":{"riskRewardRatio":3.5},"signals":{"rsiOverbought":75}}`))
	if err != nil {
		t.Fatalf("ApplyPartial failed: %v", err)
	}

	s := store.Settings()
	if s.Core.RiskRewardRatio != 3.5 {
		t.Errorf("expected riskRewardRatio 3.5, got %v", s.Core.RiskRewardRatio)
	}
	// Deep merge: sibling fields inside a named section survive
	if s.Core.RiskPerTrade != 555 {
		t.Errorf("deep merge must preserve core.riskPerTrade, got %v", s.Core.RiskPerTrade)
	}
	if s.Signals.RSIOverbought != 75 {
		t.Errorf("expected rsiOverbought 75, got %v", s.Signals.RSIOverbought)
	}
	if !store.UnsavedChanges() {
		t.Error("partial update must mark unsaved changes")
	}
	if store.ActivePresetID() != "" {
		t.Error("partial update must detach the active preset")
	}
}

func TestApplyPartialRejectsWholeBatch(t *testing.T) {
	store, _ := newTestStore(t)
	before := store.Settings()

	err := store.ApplyPartial([]byte(`{"core":{"riskRewardRatio":3.5,"bogus":1}}`))
	if !errors.Is(err, ErrUnknownPath) {
		t.Errorf("expected ErrUnknownPath for unknown field, got %v", err)
	}
	if !reflect.DeepEqual(store.Settings(), before) {
		t.Error("a rejected batch must apply nothing")
	}

	err = store.ApplyPartial([]byte(`{"core":{"riskRewardRatio":"high"}}`))
	if !errors.Is(err, ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue for wrong type, got %v", err)
	}

	err = store.ApplyPartial([]byte(`not json`))
	if !errors.Is(err, ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue for malformed body, got %v", err)
	}

	if err := store.ApplyPartial([]byte(`{}`)); err != nil {
		t.Errorf("an empty partial is a no-op, got %v", err)
	}
}
