package controller

import (
	"log/slog"
	"sync"
)

// Event types
const (
	EventDeviceAdded          = "device_added"
	EventCommandSet           = "command_set"
	EventCommandTaken         = "command_taken"
	EventStatusReported       = "status_reported"
	EventMaintenanceUpdated   = "maintenance_updated"
	EventMaintenanceTriggered = "maintenance_triggered"
)

// Event is a controller state change. Data is a map keyed by snake_case
// field names and always carries "device_id".
type Event struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// DeviceID returns the device the event refers to.
func (e Event) DeviceID() string {
	id, _ := e.Data["device_id"].(string)
	return id
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus fans controller events out to the websocket hub, the MQTT
// bridge and automation scripts.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[string]map[uint64]EventHandler
	allHandlers map[uint64]EventHandler
	nextID      uint64
	logger      *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers:    make(map[string]map[uint64]EventHandler),
		allHandlers: make(map[uint64]EventHandler),
		logger:      logger,
	}
}

// On registers a handler for one event type and returns its unsubscribe
// function.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	if eb.handlers[eventType] == nil {
		eb.handlers[eventType] = make(map[uint64]EventHandler)
	}
	eb.handlers[eventType][id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.handlers[eventType], id)
	}
}

// OnAll registers a handler that receives every event.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	eb.allHandlers[id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.allHandlers, id)
	}
}

// Emit calls matching handlers synchronously. It must not be called with
// the hub lock held, since handlers may call back into the hub.
func (eb *EventBus) Emit(event Event) {
	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.handlers[event.Type])+len(eb.allHandlers))
	for _, h := range eb.handlers[event.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range eb.allHandlers {
		handlers = append(handlers, h)
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		eb.call(h, event)
	}
}

func (eb *EventBus) call(h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "type", event.Type, "device_id", event.DeviceID(), "panic", r)
		}
	}()
	h(event)
}

func newEvent(typ, deviceID string, kv ...interface{}) Event {
	data := make(map[string]interface{}, 1+len(kv)/2)
	data["device_id"] = deviceID
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			data[k] = kv[i+1]
		}
	}
	return Event{Type: typ, Data: data}
}
