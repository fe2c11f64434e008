package parking

import (
	"fmt"
	"sync"
)

var (
	// registry maps event names to their factory functions. Each factory must
	// return a new, addressable instance of a concrete Event type so stores
	// can unmarshal payloads into it.
	registry = map[string]func() Event{}

	// mu protects the registry for concurrent registration and lookup.
	mu sync.RWMutex
)

// RegisterEvent registers an Event factory under the name reported by the
// event's EventType. Persistent stores use the registry to rebuild concrete
// events from their stored kind names.
//
// Panics if fn is nil, if fn returns nil, or if the name is already taken.
// Registration normally happens from init or package setup, so a panic here
// means a programming error, not a runtime condition.
//
// Example:
//
//	parking.RegisterEvent(func() parking.Event { return &session.Started{} })
func RegisterEvent(fn func() Event) {
	if fn == nil {
		panic("cannot register nil event factory")
	}
	registerEventName(fn().EventType(), fn)
}

// RegisterEventByName registers an Event factory under an explicit name,
// independent of the event's EventType. Use this when a stored kind name
// diverged from the current type, for example after a rename.
func RegisterEventByName(name string, fn func() Event) {
	if fn == nil {
		panic("cannot register nil event factory")
	}
	registerEventName(name, fn)
}

// NewEventByName creates a fresh instance of the event registered under name.
// It returns an error for unregistered names so stores can fail decoding with
// context instead of guessing.
func NewEventByName(name string) (Event, error) {
	mu.RLock()
	factory, ok := registry[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("event not registered: %s", name)
	}
	ev := factory()
	if ev == nil {
		return nil, fmt.Errorf("factory returned nil for event: %s", name)
	}
	return ev, nil
}

func registerEventName(name string, fn func() Event) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("event already registered: %s", name))
	}

	ev := fn()
	if ev == nil {
		panic(fmt.Sprintf("factory returned nil for event: %s", name))
	}

	registry[name] = fn
}
