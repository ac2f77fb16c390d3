// Package lifecycle delivers foreground/background transitions of the host
// application to interested services.
package lifecycle

import (
	"sync"
)

// State is the host application's visibility state.
type State string

const (
	StateActive     State = "active"
	StateBackground State = "background"
	StateInactive   State = "inactive"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateActive, StateBackground, StateInactive:
		return true
	}
	return false
}

// Handler receives state changes.
type Handler func(State)

// Source is a subscribable stream of state changes. The returned function
// removes the handler and is safe to call more than once.
type Source interface {
	Subscribe(handler Handler) (unsubscribe func(), err error)
}

// Broadcaster is an in-process Source. Publish fans a state out to every
// handler registered at the time of the call.
type Broadcaster struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]Handler
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{handlers: make(map[int]Handler)}
}

// Subscribe registers handler.
func (b *Broadcaster) Subscribe(handler Handler) (func(), error) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}, nil
}

// Publish calls every current handler with state.
func (b *Broadcaster) Publish(state State) {
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(state)
	}
}

// Len returns the number of registered handlers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}
