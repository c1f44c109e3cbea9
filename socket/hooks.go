package socket

import (
	"context"
	"sync"
	"sync/atomic"
)

// Subscription ties one event-type subscription to a consumer's lifetime.
// The callback can be swapped with Update; the most recent one always runs.
type Subscription struct {
	client    *Client
	eventType string
	fn        atomic.Pointer[func(Message)]
	once      sync.Once
	done      chan struct{}
}

// Listen subscribes fn to eventType before returning. The subscription ends
// on Close or when ctx is done, whichever comes first.
func (c *Client) Listen(ctx context.Context, eventType string, fn func(Message)) *Subscription {
	s := &Subscription{
		client:    c,
		eventType: eventType,
		done:      make(chan struct{}),
	}
	s.fn.Store(&fn)

	c.Subscribe(eventType, s)

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				s.Close()
			case <-s.done:
			}
		}()
	}

	return s
}

func (s *Subscription) HandleMessage(msg Message) {
	if fn := s.fn.Load(); fn != nil && *fn != nil {
		(*fn)(msg)
	}
}

// Update replaces the callback for subsequent messages.
func (s *Subscription) Update(fn func(Message)) {
	s.fn.Store(&fn)
}

// Send sends payload with the subscription's event type.
func (s *Subscription) Send(payload any) {
	s.client.Send(s.eventType, payload)
}

func (s *Subscription) EventType() string {
	return s.eventType
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.client.Unsubscribe(s.eventType, s)
		close(s.done)
	})
}

// StatusWatcher mirrors the client's connection status. Its value is correct
// from the moment WatchStatus returns.
type StatusWatcher struct {
	client    *Client
	connected atomic.Bool
	once      sync.Once
	done      chan struct{}

	mu      sync.Mutex
	changes chan bool
	closed  bool
}

// WatchStatus registers a watcher that stays registered until Close or until
// ctx is done.
func (c *Client) WatchStatus(ctx context.Context) *StatusWatcher {
	w := &StatusWatcher{
		client:  c,
		done:    make(chan struct{}),
		changes: make(chan bool, 1),
	}

	c.AddConnectionStatusListener(w)

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				w.Close()
			case <-w.done:
			}
		}()
	}

	return w
}

func (w *StatusWatcher) ConnectionStatusChanged(connected bool) {
	w.connected.Store(connected)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	// Keep only the latest value for slow readers.
	select {
	case <-w.changes:
	default:
	}
	w.changes <- connected
}

func (w *StatusWatcher) Connected() bool {
	return w.connected.Load()
}

// Changes yields status updates. Unread values are replaced by newer ones.
// The channel is closed by Close.
func (w *StatusWatcher) Changes() <-chan bool {
	return w.changes
}

// Wait blocks until the status equals connected or ctx is done.
func (w *StatusWatcher) Wait(ctx context.Context, connected bool) error {
	if w.Connected() == connected {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-w.changes:
			if !ok {
				return context.Canceled
			}
			if v == connected {
				return nil
			}
		}
	}
}

func (w *StatusWatcher) Close() {
	w.once.Do(func() {
		w.client.RemoveConnectionStatusListener(w)

		w.mu.Lock()
		w.closed = true
		close(w.changes)
		w.mu.Unlock()

		close(w.done)
	})
}
