package events

import (
	"sync"
	"time"
)

// EventType names the kinds of events flowing through the bus. The
// string values are also the wire values seen by bus subscribers.
type EventType string

const (
	EventPriceUpdate     EventType = "PRICE_UPDATE"
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventLogEntry        EventType = "LOG_ENTRY"
	EventSettingsChanged EventType = "SETTINGS_CHANGED"
	EventGreeksUpdate    EventType = "GREEKS_UPDATE"
	EventHeartbeat       EventType = "HEARTBEAT"
	EventError           EventType = "ERROR"
)

// Event is one bus message.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber handles delivered events. Subscribers run on their own
// goroutines, so a slow one cannot stall publishers.
type Subscriber func(Event)

// EventBus fans events out to type-scoped and catch-all subscribers.
type EventBus struct {
	mu      sync.RWMutex
	byType  map[EventType][]Subscriber
	allSubs []Subscriber
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{byType: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for one event type.
func (b *EventBus) Subscribe(eventType EventType, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byType[eventType] = append(b.byType[eventType], fn)
}

// SubscribeAll registers a subscriber that receives every event.
func (b *EventBus) SubscribeAll(fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, fn)
}

// Publish delivers the event to matching subscribers. A zero timestamp
// is filled with the publish time.
func (b *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, fn := range b.byType[event.Type] {
		go fn(event)
	}
	for _, fn := range b.allSubs {
		go fn(event)
	}
}

// ============================================================================
// TYPED PUBLISH HELPERS
// ============================================================================

// PublishPriceUpdate publishes a price update event. Change values are
// pointers because the first quote of a session has no previous close.
func (b *EventBus) PublishPriceUpdate(symbol string, price float64, change, percentChange *float64) {
	data := map[string]interface{}{
		"symbol": symbol,
		"price":  price,
	}
	if change != nil {
		data["change"] = *change
	}
	if percentChange != nil {
		data["percentChange"] = *percentChange
	}
	b.Publish(Event{Type: EventPriceUpdate, Data: data})
}

// PublishSignalGenerated publishes a trading signal event
func (b *EventBus) PublishSignalGenerated(symbol, direction, reason string, confidence, price float64) {
	b.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"direction":  direction,
			"reason":     reason,
			"confidence": confidence,
			"price":      price,
		},
	})
}

// PublishLogEntry publishes an activity log entry event
func (b *EventBus) PublishLogEntry(id, level, source, message string) {
	b.Publish(Event{
		Type: EventLogEntry,
		Data: map[string]interface{}{
			"id":      id,
			"level":   level,
			"source":  source,
			"message": message,
		},
	})
}

// PublishSettingsChanged publishes a settings change event
func (b *EventBus) PublishSettingsChanged(userID, path string) {
	b.Publish(Event{
		Type: EventSettingsChanged,
		Data: map[string]interface{}{
			"user_id": userID,
			"path":    path,
		},
	})
}

// PublishGreeksUpdate publishes recomputed option greeks
func (b *EventBus) PublishGreeksUpdate(optionSymbol string, delta, theta, vega, impliedVol, optionPrice float64) {
	b.Publish(Event{
		Type: EventGreeksUpdate,
		Data: map[string]interface{}{
			"option":      optionSymbol,
			"delta":       delta,
			"theta":       theta,
			"vega":        vega,
			"iv":          impliedVol,
			"optionPrice": optionPrice,
		},
	})
}

// PublishHeartbeat publishes a heartbeat event for connection liveness
func (b *EventBus) PublishHeartbeat() {
	b.Publish(Event{
		Type: EventHeartbeat,
		Data: map[string]interface{}{"ts": time.Now().UnixMilli()},
	})
}

// PublishError publishes an error event
func (b *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Publish(Event{Type: EventError, Data: data})
}

// ============================================================================
// USER-SCOPED BROADCAST HOOK
// ============================================================================

// BroadcastFunc pushes a payload to one user's connected clients.
type BroadcastFunc func(userID string, data interface{})

// The settings package pushes per-user snapshots through this hook
// instead of importing the api package, which would be an import cycle.
var broadcastSettingsChanged BroadcastFunc

// SetBroadcastSettingsChanged installs the hook. Called once by the
// api package at startup.
func SetBroadcastSettingsChanged(fn BroadcastFunc) {
	broadcastSettingsChanged = fn
}

// BroadcastSettingsChanged forwards a settings snapshot to the hook,
// if one is installed.
func BroadcastSettingsChanged(userID string, data interface{}) {
	if broadcastSettingsChanged != nil && userID != "" {
		go broadcastSettingsChanged(userID, data)
	}
}
