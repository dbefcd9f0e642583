// Package events carries the observable side channel of the driver manager:
// lifecycle transitions, variable updates and write failures. Telemetry and
// the websocket hub consume it; nothing in the core ever blocks on a slow
// subscriber.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type Type string

const (
	TypeDriverState    Type = "driver_state"
	TypeVariableUpdate Type = "variable_update"
	TypeWriteFailure   Type = "write_failure"
)

// Event is one entry on the stream. Fields are populated depending on Type:
// driver state events carry Driver and State, variable updates carry
// Variable, Value and Quality, write failures carry Variable and Error.
type Event struct {
	Type      Type      `json:"type"`
	Driver    string    `json:"driver"`
	State     string    `json:"state,omitempty"`
	Variable  string    `json:"variable,omitempty"`
	Value     any       `json:"value,omitempty"`
	Quality   string    `json:"quality,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus fans events out to subscribers. Publishing never blocks: when a
// subscriber's buffer is full the event is dropped for that subscriber and
// counted, the same policy the websocket hub applies to slow clients.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	closed  bool
	dropped atomic.Uint64
	logger  *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]chan Event),
		logger: logger,
	}
}

// Subscribe registers a new consumer. The returned cancel function must be
// called to release the subscription; the channel is closed afterwards.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers without blocking.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub <- evt:
		default:
			b.dropped.Add(1)
			if b.logger != nil {
				b.logger.Warn("Event subscriber buffer full, event dropped",
					zap.String("type", string(evt.Type)),
					zap.String("driver", evt.Driver))
			}
		}
	}
}

// DriverState publishes a lifecycle transition.
func (b *Bus) DriverState(driver, state string) {
	b.Publish(Event{Type: TypeDriverState, Driver: driver, State: state})
}

// VariableUpdate publishes a committed value change or quality transition.
// A decay pass emits the unchanged value with the downgraded quality, so
// subscribers can tell a stale repeat from a fresh read.
func (b *Bus) VariableUpdate(driver, variable string, value any, quality string) {
	b.Publish(Event{Type: TypeVariableUpdate, Driver: driver, Variable: variable, Value: value, Quality: quality})
}

// WriteFailure publishes a dropped pending write.
func (b *Bus) WriteFailure(driver, variable string, err error) {
	evt := Event{Type: TypeWriteFailure, Driver: driver, Variable: variable}
	if err != nil {
		evt.Error = err.Error()
	}
	b.Publish(evt)
}

// Dropped returns how many events were discarded due to full subscriber
// buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub)
	}
}
