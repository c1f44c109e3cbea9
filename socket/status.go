package socket

import (
	"log/slog"
	"sync"
)

// statusEntry is one registered listener and the transitions not yet
// delivered to it. While active, exactly one goroutine is calling the
// listener; anything queued meanwhile is picked up by that goroutine.
type statusEntry struct {
	listener StatusListener
	pending  []bool
	active   bool
}

// statusBroadcaster fans connected/disconnected transitions out to observers.
//
// Each listener sees its values in transition order and is never called by
// two goroutines at once. A listener that calls back into the client only
// enqueues for itself; it gets the result after its current call returns.
type statusBroadcaster struct {
	logger *slog.Logger

	mu        sync.Mutex
	listeners map[StatusListener]*statusEntry
}

func newStatusBroadcaster(logger *slog.Logger) *statusBroadcaster {
	return &statusBroadcaster{
		logger:    logger,
		listeners: make(map[StatusListener]*statusEntry),
	}
}

// add registers l with its delivery gate closed. Callers hold the lock that
// orders publish calls, so transitions published after add queue behind the
// initial value passed to start. fresh is false when l was already registered.
func (b *statusBroadcaster) add(l StatusListener) (e *statusEntry, fresh bool, err error) {
	if err := checkComparable(l); err != nil {
		return nil, false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.listeners[l]; ok {
		return e, false, nil
	}
	e = &statusEntry{listener: l, active: true}
	b.listeners[l] = e
	return e, true, nil
}

// start delivers the initial value to a fresh entry on the calling goroutine,
// then anything published since add, then opens the gate.
func (b *statusBroadcaster) start(e *statusEntry, connected bool) {
	b.deliver(e.listener, connected)
	b.flush(e)
}

// requeue queues connected for a listener that was registered again. The
// caller drains afterwards; if another goroutine is calling the listener, that
// goroutine delivers it.
func (b *statusBroadcaster) requeue(e *statusEntry, connected bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e.pending = append(e.pending, connected)
}

func (b *statusBroadcaster) remove(l StatusListener) {
	if checkComparable(l) != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.listeners, l)
}

// publish queues a transition for every listener registered right now.
func (b *statusBroadcaster) publish(connected bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range b.listeners {
		e.pending = append(e.pending, connected)
	}
}

// drain delivers queued transitions to every listener nobody else is
// currently calling. Entries are claimed one at a time; a claimed entry
// never blocks another goroutine from claiming the rest.
func (b *statusBroadcaster) drain() {
	for {
		b.mu.Lock()
		var next *statusEntry
		for _, e := range b.listeners {
			if !e.active && len(e.pending) > 0 {
				next = e
				break
			}
		}
		if next == nil {
			b.mu.Unlock()
			return
		}
		next.active = true
		b.mu.Unlock()

		b.flush(next)
	}
}

// flush delivers e's queue until it is empty, then opens the gate. The caller
// must have set e.active.
func (b *statusBroadcaster) flush(e *statusEntry) {
	b.mu.Lock()
	for len(e.pending) > 0 {
		if b.listeners[e.listener] != e {
			e.pending = nil
			break
		}
		connected := e.pending[0]
		e.pending = e.pending[1:]

		b.mu.Unlock()
		b.deliver(e.listener, connected)
		b.mu.Lock()
	}
	e.pending = nil
	e.active = false
	b.mu.Unlock()
}

func (b *statusBroadcaster) deliver(l StatusListener, connected bool) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("status listener panicked", "panic", r)
		}
	}()
	l.ConnectionStatusChanged(connected)
}
