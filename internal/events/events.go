package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Event types published by the coordinator.
const (
	BookingCreated  = "booking.created"
	BookingUpdated  = "booking.updated"
	BlockChanged    = "block.changed"
	ScheduleChanged = "schedule.changed"
)

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Change is the payload of every event type. Fields that do not apply stay empty.
type Change struct {
	Action   string   `json:"action"`
	ID       string   `json:"id,omitempty"`
	Kind     string   `json:"kind,omitempty"`
	Status   string   `json:"status,omitempty"`
	Dates    []string `json:"dates,omitempty"`
	Weekdays []int    `json:"weekdays,omitempty"`
	Slots    []string `json:"slots,omitempty"`
}

// Decode unmarshals the payload of an event produced by PublishChange.
func (e Event) Decode() (Change, error) {
	var c Change
	err := json.Unmarshal(e.Payload, &c)
	return c, err
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	seq         atomic.Int64
	logger      zerolog.Logger
}

// NewEventBus constructs an empty bus.
func NewEventBus(logger zerolog.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[string][]EventHandler),
		logger:      logger.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a handler for a given event type. "*" receives every event.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type. Handler errors are logged, not returned.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers["*"]...)
	b.mu.RUnlock()

	if event.ID == 0 {
		event.ID = b.seq.Add(1)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil {
			b.logger.Warn().Err(err).Str("type", event.Type).Int64("id", event.ID).Msg("event handler failed")
		}
	}
}

// PublishChange encodes c and publishes it under eventType.
func (b *EventBus) PublishChange(eventType string, c Change) {
	payload, err := json.Marshal(c)
	if err != nil {
		b.logger.Error().Err(err).Str("type", eventType).Msg("encode event")
		return
	}
	b.Publish(Event{Type: eventType, Payload: payload})
}
