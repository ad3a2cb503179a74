package inter

import (
	"sync"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
)

// Event is an on-chain notification emitted by a runtime component.
// Ctx holds alternating key/value pairs, in the style of log contexts.
type Event struct {
	Name  string
	Block idx.Block
	Ctx   []interface{}
}

// Get returns the value stored under key, or nil.
func (e Event) Get(key string) interface{} {
	for i := 0; i+1 < len(e.Ctx); i += 2 {
		if k, ok := e.Ctx[i].(string); ok && k == key {
			return e.Ctx[i+1]
		}
	}
	return nil
}

// Events receives runtime events.
type Events interface {
	Emit(name string, block idx.Block, ctx ...interface{})
}

// EventLog is an in-memory Events sink. Truncate lets a transactional scope
// drop the events of a rolled back call.
type EventLog struct {
	mu     sync.RWMutex
	events []Event
}

// NewEventLog creates an empty log.
func NewEventLog() *EventLog {
	return &EventLog{}
}

// Emit appends an event.
func (l *EventLog) Emit(name string, block idx.Block, ctx ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, Event{Name: name, Block: block, Ctx: ctx})
}

// Len returns the number of recorded events.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Truncate drops every event recorded after the first n.
func (l *EventLog) Truncate(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n < len(l.events) {
		l.events = l.events[:n]
	}
}

// All returns a copy of every recorded event.
func (l *EventLog) All() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Event(nil), l.events...)
}

// Named returns the recorded events with the given name.
func (l *EventLog) Named(name string) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var res []Event
	for _, e := range l.events {
		if e.Name == name {
			res = append(res, e)
		}
	}
	return res
}

// Discard is an Events sink that drops everything.
var Discard Events = discard{}

type discard struct{}

func (discard) Emit(string, idx.Block, ...interface{}) {}
