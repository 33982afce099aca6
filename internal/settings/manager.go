package settings

import (
	"fmt"
	"sync"

	"nifty-insight-server/internal/events"
	"nifty-insight-server/internal/kv"
	"nifty-insight-server/internal/logging"
)

// DefaultUserID keys the store used when authentication is disabled
const DefaultUserID = "default"

// Manager hands out one Store per user, constructed lazily. Each store
// gets its own envelope key under the configured prefix so users never
// see each other's settings.
type Manager struct {
	persist kv.Store
	prefix  string
	bus     *events.EventBus
	logger  *logging.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

// NewManager creates a manager persisting through the given KV store.
// bus may be nil.
func NewManager(persist kv.Store, prefix string, bus *events.EventBus, logger *logging.Logger) *Manager {
	return &Manager{
		persist: persist,
		prefix:  prefix,
		bus:     bus,
		logger:  logger,
		stores:  make(map[string]*Store),
	}
}

// ForUser returns the store for userID, creating it on first use. An
// empty userID maps to DefaultUserID.
func (m *Manager) ForUser(userID string) *Store {
	if userID == "" {
		userID = DefaultUserID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if store, ok := m.stores[userID]; ok {
		return store
	}

	key := fmt.Sprintf("%s:%s", m.prefix, userID)
	store := NewStore(m.persist, key, userID, m.bus, m.logger)
	m.stores[userID] = store
	return store
}
