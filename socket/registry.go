package socket

import (
	"reflect"
	"sync"
)

// registry maps an event type to the set of handlers subscribed to it.
// Empty sets are removed so the key space only holds live subscriptions.
type registry struct {
	mu       sync.RWMutex
	handlers map[string]map[Handler]struct{}
}

func newRegistry() *registry {
	return &registry{
		handlers: make(map[string]map[Handler]struct{}),
	}
}

func (r *registry) add(eventType string, h Handler) error {
	if err := checkComparable(h); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, exists := r.handlers[eventType]
	if !exists {
		set = make(map[Handler]struct{})
		r.handlers[eventType] = set
	}
	set[h] = struct{}{}
	return nil
}

func (r *registry) remove(eventType string, h Handler) {
	if checkComparable(h) != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, exists := r.handlers[eventType]
	if !exists {
		return
	}
	delete(set, h)
	if len(set) == 0 {
		delete(r.handlers, eventType)
	}
}

// snapshot copies the handlers for eventType so delivery runs without the lock
// and handlers may subscribe or unsubscribe while being called.
func (r *registry) snapshot(eventType string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.handlers[eventType]
	if len(set) == 0 {
		return nil
	}

	handlers := make([]Handler, 0, len(set))
	for h := range set {
		handlers = append(handlers, h)
	}
	return handlers
}

func (r *registry) contains(eventType string, h Handler) bool {
	if checkComparable(h) != nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.handlers[eventType][h]
	return exists
}

func (r *registry) count(eventType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.handlers[eventType])
}

func checkComparable(v any) error {
	if v == nil {
		return ErrNotComparable
	}
	if !reflect.ValueOf(v).Comparable() {
		return ErrNotComparable
	}
	return nil
}
