package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Event is the structured record every component publishes.
type Event struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// SessionID returns the session_id field, if any.
func (e Event) SessionID() string {
	if id, ok := e.Fields["session_id"].(string); ok {
		return id
	}
	return ""
}

// Sink persists events outside the process (the Postgres audit log). Emit
// calls Append inline, so a sink doing I/O goes behind an AsyncSink.
type Sink interface {
	Append(ts time.Time, level, event, msg string, fields map[string]interface{}, sessionID string) error
}

// Bus keeps recent events in a ring buffer, fans them out to subscribers and
// appends them to an optional sink. Emit never blocks on a slow consumer.
type Bus struct {
	buffer *RingBuffer

	subMu       sync.RWMutex
	subscribers map[Subscriber]struct{}

	sinkMu          sync.RWMutex
	sink            Sink
	sinkErrorLogged bool
}

// NewBus creates a bus retaining the last size events.
func NewBus(size int) *Bus {
	if size <= 0 {
		size = 256
	}
	return &Bus{
		buffer:      NewRingBuffer(size),
		subscribers: make(map[Subscriber]struct{}),
	}
}

// SetSink sets the sink for event persistence.
func (b *Bus) SetSink(s Sink) {
	b.sinkMu.Lock()
	b.sink = s
	b.sinkErrorLogged = false
	b.sinkMu.Unlock()
}

// Emit validates, records and publishes an event and returns its JSON form.
func (b *Bus) Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	b.buffer.Add(e)
	b.broadcast(e)

	b.sinkMu.RLock()
	sink := b.sink
	b.sinkMu.RUnlock()

	if sink != nil {
		if err := sink.Append(ts, level, name, msg, fields, e.SessionID()); err != nil {
			// Report the first failure only, straight into the buffer so a
			// failing sink cannot recurse through Emit.
			b.sinkMu.Lock()
			first := !b.sinkErrorLogged
			b.sinkErrorLogged = true
			b.sinkMu.Unlock()
			if first {
				errEvent := Event{
					Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
					Level:     "error",
					Name:      "system.error",
					Message:   "event sink append failed",
					Fields: map[string]interface{}{
						"error": err.Error(),
					},
				}
				b.buffer.Add(errEvent)
				b.broadcast(errEvent)
			}
		}
	}

	out, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return out, nil
}

// Snapshot returns every buffered event, oldest first.
func (b *Bus) Snapshot() []Event {
	return b.buffer.Snapshot()
}

// RecentEvents returns the last n buffered events, oldest first. n <= 0
// returns everything retained.
func (b *Bus) RecentEvents(n int) []Event {
	return b.buffer.Last(n, nil)
}

// SessionEvents returns the last n buffered events for one session.
func (b *Bus) SessionEvents(sessionID string, n int) []Event {
	return b.buffer.Last(n, func(e Event) bool { return e.SessionID() == sessionID })
}

// Clear resets the event buffer.
func (b *Bus) Clear() {
	b.buffer.Clear()
}
