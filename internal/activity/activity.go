// Package activity records the dashboard's activity feed: trades taken,
// signals generated, settings changes and errors worth surfacing to the
// user. Entries live in a fixed-capacity in-memory ring so recent reads
// never touch the database, are optionally written through to a store,
// and are published on the event bus for the websocket log channel.
package activity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"nifty-insight-server/internal/events"
	"nifty-insight-server/internal/logging"
)

// Entry levels. Free-form strings are accepted by Record; these cover
// the feed widget's filters.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

const (
	// DefaultCapacity bounds the in-memory ring.
	DefaultCapacity = 1000

	// defaultRecentLimit applies when Recent is called without a limit.
	defaultRecentLimit = 50
)

// Entry is a single activity feed item.
type Entry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context"`
}

// Store persists entries beyond the ring. Implemented by the database
// repository.
type Store interface {
	SaveActivityLog(ctx context.Context, entry Entry) error
}

// Recorder keeps the bounded feed and fans each entry out to the store
// and the event bus.
type Recorder struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	size    int

	store  Store
	bus    *events.EventBus
	logger *logging.Logger
	now    func() time.Time
	newID  func() string
}

// NewRecorder creates a Recorder with the given ring capacity.
// capacity <= 0 selects DefaultCapacity. store may be nil when the
// database is disabled
func NewRecorder(capacity int, store Store, bus *events.EventBus, logger *logging.Logger) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{
		entries: make([]Entry, capacity),
		store:   store,
		bus:     bus,
		logger:  logger.WithComponent("activity"),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Record appends an entry to the feed, publishes it on the bus and
// writes it through to the store. Persist failures are logged and do
// not block the feed
func (r *Recorder) Record(ctx context.Context, level, source, message string, fields map[string]interface{}) Entry {
	entry := Entry{
		ID:        r.newID(),
		Timestamp: r.now().UTC(),
		Level:     level,
		Message:   message,
		Context:   entryContext(source, fields),
	}

	r.mu.Lock()
	r.entries[r.next] = entry
	r.next = (r.next + 1) % len(r.entries)
	if r.size < len(r.entries) {
		r.size++
	}
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.PublishLogEntry(entry.ID, level, source, message)
	}

	if r.store != nil {
		if err := r.store.SaveActivityLog(ctx, entry); err != nil {
			r.logger.Warn("Failed to persist activity log %s: %v", entry.ID, err)
		}
	}

	return entry
}

// Info records an info-level entry.
func (r *Recorder) Info(ctx context.Context, source, message string, fields map[string]interface{}) Entry {
	return r.Record(ctx, LevelInfo, source, message, fields)
}

// Warn records a warn-level entry.
func (r *Recorder) Warn(ctx context.Context, source, message string, fields map[string]interface{}) Entry {
	return r.Record(ctx, LevelWarn, source, message, fields)
}

// Error records an error-level entry.
func (r *Recorder) Error(ctx context.Context, source, message string, fields map[string]interface{}) Entry {
	return r.Record(ctx, LevelError, source, message, fields)
}

// Seed preloads the ring with persisted entries, newest first as the
// repository returns them. Used on startup so the feed survives
// restarts; seeded entries are not republished or rewritten
func (r *Recorder) Seed(entries []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		r.entries[r.next] = entries[i]
		r.next = (r.next + 1) % len(r.entries)
		if r.size < len(r.entries) {
			r.size++
		}
	}
}

// Recent returns up to limit entries, newest first. limit <= 0 falls
// back to the default page size
func (r *Recorder) Recent(limit int) []Entry {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	n := limit
	if n > r.size {
		n = r.size
	}

	out := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.entries)) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out
}

// Len reports how many entries the ring currently holds.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// entryContext copies caller fields so later mutation cannot reach the
// ring, and stamps the originating component
func entryContext(source string, fields map[string]interface{}) map[string]interface{} {
	ctx := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		ctx[k] = v
	}
	if source != "" {
		ctx["source"] = source
	}
	return ctx
}
