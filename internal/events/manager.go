// Package events provides the in-process event bus that the execution
// router, risk engine and orchestrator emit into, extending the teacher's
// log-only emitter with subscriber dispatch. Outside the tests no listener
// is subscribed, so in the wired application emitted events are only
// logged.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType enumerates the domain events this system emits.
type EventType string

const (
	TradeCreated     EventType = "TRADE_CREATED"
	TradeExecuted    EventType = "TRADE_EXECUTED"
	AlertTriggered   EventType = "ALERT_TRIGGERED"
	RoutingDowngrade EventType = "ROUTING_DOWNGRADE"
	ErrorOccurred    EventType = "ERROR_OCCURRED"
)

// Event is a single emission: a type, the module that raised it, and a
// free-form payload.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// Listener receives every event matching the type(s) it subscribed to.
// Listeners run synchronously on the emitting goroutine — implementations
// must not block or perform slow I/O (§9's ≤10ms-per-event CPU budget does
// not apply to listener I/O, but a slow listener still stalls the caller,
// so listeners that need I/O should hand off to their own worker).
type Listener func(Event)

// Manager handles event emission, logging, and listener dispatch.
type Manager struct {
	log zerolog.Logger

	mu        sync.RWMutex
	listeners map[EventType][]Listener
}

// NewManager creates a new event manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log:       log.With().Str("service", "events").Logger(),
		listeners: make(map[EventType][]Listener),
	}
}

// Subscribe registers a listener for a given event type. Call order is
// preserved: listeners fire in subscription order.
func (m *Manager) Subscribe(eventType EventType, l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[eventType] = append(m.listeners[eventType], l)
}

// Emit logs and dispatches an event to every subscriber of its type.
// Callers must persist the underlying state change before calling Emit —
// this system's ordering invariant (§5) is write-then-notify, never the
// reverse.
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Module:    module,
	}

	eventJSON, _ := json.Marshal(event)
	m.log.Info().
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("event emitted")

	m.mu.RLock()
	listeners := append([]Listener(nil), m.listeners[eventType]...)
	m.mu.RUnlock()

	for _, l := range listeners {
		l(event)
	}
}

// EmitError emits an error event.
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	data := map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	}
	m.Emit(ErrorOccurred, module, data)
}
