package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"nifty-insight-server/internal/events"
	"nifty-insight-server/internal/kv"
	"nifty-insight-server/internal/logging"
)

const persistTimeout = 5 * time.Second

// Store is the single source of truth for one user's configuration tree,
// presets and UI state. The original dashboard ran this single-threaded;
// here HTTP handlers share it, so all state sits behind one RWMutex.
// Every mutation persists the envelope through the injected KV port;
// persistence failures are logged and swallowed because losing a UI
// preference write is an accepted risk.
type Store struct {
	persist kv.Store
	key     string
	userID  string
	bus     *events.EventBus
	logger  *logging.Logger
	schema  *Schema
	now     func() time.Time

	mu             sync.RWMutex
	settings       TradingSettings
	presets        []Preset
	activePresetID string

	// UI state, never persisted
	settingsOpen   bool
	activeCategory string
	unsavedChanges bool
}

// NewStore creates a store bound to one envelope key and loads any
// previously persisted state. Corrupt or unreadable stored state falls
// back to defaults with a warning. bus may be nil.
func NewStore(persist kv.Store, key, userID string, bus *events.EventBus, logger *logging.Logger) *Store {
	s := &Store{
		persist:  persist,
		key:      key,
		userID:   userID,
		bus:      bus,
		logger:   logger.WithComponent("settings"),
		schema:   NewSchema(),
		now:      time.Now,
		settings: DefaultSettings(),
		presets:  make([]Preset, 0),
	}
	s.load()
	return s
}

func (s *Store) load() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	raw, err := s.persist.Get(ctx, s.key)
	if err != nil {
		if err != kv.ErrNotFound {
			s.logger.Warn("Failed to load persisted settings, using defaults", "key", s.key, "error", err.Error())
		}
		return
	}

	var env persistedState
	env.Settings = DefaultSettings()
	if err := json.Unmarshal(raw, &env); err != nil {
		s.logger.Warn("Corrupt persisted settings, using defaults", "key", s.key, "error", err.Error())
		return
	}

	s.settings = env.Settings
	if env.Presets != nil {
		s.presets = env.Presets
	}
	if env.ActivePresetID != nil {
		s.activePresetID = *env.ActivePresetID
	}
	s.logger.Debug("Loaded persisted settings", "key", s.key, "presets", len(s.presets))
}

// save writes the persisted envelope. Fire-and-forget: failures are
// logged, never returned.
func (s *Store) save() {
	s.mu.RLock()
	env := persistedState{
		Settings:       s.settings,
		Presets:        clonePresets(s.presets),
		ActivePresetID: nullableID(s.activePresetID),
	}
	s.mu.RUnlock()

	raw, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("Failed to marshal settings envelope", "error", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.persist.Set(ctx, s.key, raw); err != nil {
		s.logger.Warn("Failed to persist settings", "key", s.key, "error", err.Error())
	}
}

func (s *Store) notifyChanged(path string) {
	if s.bus != nil {
		s.bus.PublishSettingsChanged(s.userID, path)
	}
	events.BroadcastSettingsChanged(s.userID, s.State())
}

// UpdateSetting sets one leaf addressed by a dotted path, e.g.
// "indicators.ema.ema9.enabled". The current tree is cloned before the
// write so previously returned snapshots are never mutated. A manual
// edit marks unsaved changes and detaches the active preset.
func (s *Store) UpdateSetting(path string, value interface{}) error {
	normalized, err := s.schema.Normalize(path, value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	clone := s.settings
	if err := s.schema.setLeaf(&clone, path, normalized); err != nil {
		s.mu.Unlock()
		return err
	}
	s.settings = clone
	s.unsavedChanges = true
	s.activePresetID = ""
	s.mu.Unlock()

	s.logger.Debug("Setting updated", "path", path)
	s.save()
	s.notifyChanged(path)
	return nil
}

// Setting reads the leaf value at a dotted path
func (s *Store) Setting(path string) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schema.leafValue(s.settings, path)
}

// Settings returns the current configuration tree. The tree holds only
// value types, so the returned copy shares nothing with the store.
func (s *Store) Settings() TradingSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// ResetSettings replaces the tree with the static defaults, detaches the
// active preset and clears the unsaved flag
func (s *Store) ResetSettings() {
	s.mu.Lock()
	s.settings = DefaultSettings()
	s.activePresetID = ""
	s.unsavedChanges = false
	s.mu.Unlock()

	s.logger.Info("Settings reset to defaults", "user", s.userID)
	s.save()
	s.notifyChanged("")
}

// LoadPreset applies the preset's sections over the current tree. The
// merge is shallow by top-level section: each section the preset names
// replaces the whole current section, sections it omits stay untouched.
// Fields omitted inside a named section land on their defaults so every
// leaf stays defined. An unknown id is a silent no-op.
func (s *Store) LoadPreset(id string) {
	s.mu.Lock()
	var found *Preset
	for i := range s.presets {
		if s.presets[i].ID == id {
			found = &s.presets[i]
			break
		}
	}
	if found == nil {
		s.mu.Unlock()
		s.logger.Debug("Preset not found", "id", id)
		return
	}

	merged := s.settings
	for section, raw := range found.Settings {
		if err := s.schema.applySection(&merged, section, raw); err != nil {
			s.logger.Warn("Skipping unusable preset section", "preset", id, "section", section, "error", err.Error())
		}
	}
	s.settings = merged
	s.activePresetID = id
	s.unsavedChanges = false
	name := found.Name
	s.mu.Unlock()

	s.logger.Info("Preset loaded", "id", id, "name", name)
	s.save()
	s.notifyChanged("")
}

// SavePreset snapshots the entire current tree into a new preset with a
// fresh time-based id, appends it and makes it active
func (s *Store) SavePreset(name, description string) Preset {
	s.mu.Lock()
	snapshot := make(map[string]json.RawMessage, len(s.schema.sections))
	for section, idx := range s.schema.sections {
		raw, err := json.Marshal(sectionValue(s.settings, idx))
		if err != nil {
			s.logger.Error("Failed to snapshot settings section", "section", section, "error", err.Error())
			continue
		}
		snapshot[section] = raw
	}

	preset := Preset{
		ID:          s.newPresetIDLocked(),
		Name:        name,
		Description: description,
		Settings:    snapshot,
	}
	s.presets = append(s.presets, preset)
	s.activePresetID = preset.ID
	s.unsavedChanges = false
	s.mu.Unlock()

	s.logger.Info("Preset saved", "id", preset.ID, "name", name)
	s.save()
	s.notifyChanged("")
	return preset.clone()
}

// newPresetIDLocked generates a millisecond-timestamp id, bumping the
// timestamp while it collides with an existing preset. Callers hold s.mu.
func (s *Store) newPresetIDLocked() string {
	ms := s.now().UnixMilli()
	for {
		id := strconv.FormatInt(ms, 10)
		taken := false
		for i := range s.presets {
			if s.presets[i].ID == id {
				taken = true
				break
			}
		}
		if !taken {
			return id
		}
		ms++
	}
}

// DeletePreset removes a preset. Deleting the active preset clears the
// active id; deleting anything else leaves it alone.
func (s *Store) DeletePreset(id string) {
	s.mu.Lock()
	kept := make([]Preset, 0, len(s.presets))
	removed := false
	for _, p := range s.presets {
		if p.ID == id {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	if !removed {
		s.mu.Unlock()
		return
	}
	s.presets = kept
	if s.activePresetID == id {
		s.activePresetID = ""
	}
	s.mu.Unlock()

	s.logger.Info("Preset deleted", "id", id)
	s.save()
	s.notifyChanged("")
}

// Presets returns a copy of the preset list
func (s *Store) Presets() []Preset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePresets(s.presets)
}

// ActivePresetID returns the active preset id, or "" when none is active
func (s *Store) ActivePresetID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activePresetID
}

// State returns the API snapshot of the store
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		Settings:       s.settings,
		Presets:        clonePresets(s.presets),
		ActivePresetID: nullableID(s.activePresetID),
		UnsavedChanges: s.unsavedChanges,
	}
}

// SetSettingsOpen toggles the settings drawer. UI state only.
func (s *Store) SetSettingsOpen(open bool) {
	s.mu.Lock()
	s.settingsOpen = open
	s.mu.Unlock()
}

// SetActiveCategory selects the active settings tab. UI state only.
func (s *Store) SetActiveCategory(category string) {
	s.mu.Lock()
	s.activeCategory = category
	s.mu.Unlock()
}

// MarkUnsavedChanges sets the unsaved-changes flag. UI state only.
func (s *Store) MarkUnsavedChanges(unsaved bool) {
	s.mu.Lock()
	s.unsavedChanges = unsaved
	s.mu.Unlock()
}

// SettingsOpen reports whether the settings drawer is open
func (s *Store) SettingsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settingsOpen
}

// ActiveCategory returns the active settings tab
func (s *Store) ActiveCategory() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeCategory
}

// UnsavedChanges reports whether the tree has edits not captured by a
// preset or server sync
func (s *Store) UnsavedChanges() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unsavedChanges
}

// SaveToServer is a placeholder for remote profile sync. The envelope is
// already persisted through the KV port on every mutation; pushing it to
// an external profile service is not wired yet.
func (s *Store) SaveToServer(ctx context.Context) error {
	s.logger.Info("Settings save to server requested", "user", s.userID)
	s.MarkUnsavedChanges(false)
	return nil
}

// LoadFromServer is the matching placeholder for pulling a remote profile
func (s *Store) LoadFromServer(ctx context.Context) error {
	s.logger.Info("Settings load from server requested", "user", s.userID)
	return nil
}

// ApplyPartial deep-merges a partial settings document into the tree.
// This backs the PUT body: the partial is flattened to dotted leaf
// paths, every path and value is validated first, and only then is the
// whole batch applied to a single clone with a single persist. One bad
// path or value rejects the entire batch.
func (s *Store) ApplyPartial(raw []byte) error {
	var partial map[string]interface{}
	if err := json.Unmarshal(raw, &partial); err != nil {
		return fmt.Errorf("%w: malformed body: %v", ErrInvalidValue, err)
	}

	leaves := make(map[string]interface{})
	flatten("", partial, leaves)
	if len(leaves) == 0 {
		return nil
	}

	normalized := make(map[string]interface{}, len(leaves))
	for path, value := range leaves {
		nv, err := s.schema.Normalize(path, value)
		if err != nil {
			return err
		}
		normalized[path] = nv
	}

	s.mu.Lock()
	clone := s.settings
	for path, value := range normalized {
		if err := s.schema.setLeaf(&clone, path, value); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.settings = clone
	s.unsavedChanges = true
	s.activePresetID = ""
	s.mu.Unlock()

	s.logger.Info("Applied partial settings update", "fields", len(normalized))
	s.save()
	s.notifyChanged("")
	return nil
}

func flatten(prefix string, node map[string]interface{}, out map[string]interface{}) {
	for key, value := range node {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if child, ok := value.(map[string]interface{}); ok {
			flatten(path, child, out)
			continue
		}
		out[path] = value
	}
}
