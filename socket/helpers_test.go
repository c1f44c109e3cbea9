package socket

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/phlexileads/pushchannel/socket/transport"
)

const waitFor = 2 * time.Second

type fakeConn struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case <-c.closed:
		return nil, io.EOF
	default:
	}
	select {
	case msg := <-c.inbound:
		return msg, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(frame string) {
	c.inbound <- []byte(frame)
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.written))
	for _, w := range c.written {
		out = append(out, string(w))
	}
	return out
}

type fakeDialer struct {
	mu   sync.Mutex
	urls []string
	fail error

	conns chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func newFailingDialer() *fakeDialer {
	d := newFakeDialer()
	d.fail = errors.New("connection refused")
	return d
}

func (d *fakeDialer) Dial(_ context.Context, url string) (transport.Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	fail := d.fail
	d.mu.Unlock()

	if fail != nil {
		return nil, fail
	}
	conn := newFakeConn()
	d.conns <- conn
	return conn, nil
}

func (d *fakeDialer) setFail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

func (d *fakeDialer) attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) lastURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.urls) == 0 {
		return ""
	}
	return d.urls[len(d.urls)-1]
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case conn := <-d.conns:
		return conn
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

// manualScheduler records timers; tests fire them explicitly.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	delay   time.Duration
	fn      func()
	mu      sync.Mutex
	stopped bool
	fired   bool
}

func (s *manualScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	t := &manualTimer{delay: d, fn: fn}
	s.mu.Lock()
	s.timers = append(s.timers, t)
	s.mu.Unlock()
	return t
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (t *manualTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fire runs the callback even if the timer was stopped, like a runtime timer
// whose callback had already started when Stop was called.
func (t *manualTimer) fire() {
	t.mu.Lock()
	t.fired = true
	t.mu.Unlock()
	t.fn()
}

func (s *manualScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *manualScheduler) last(t *testing.T) *manualTimer {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.timers)
	return s.timers[len(s.timers)-1]
}

type statusRecorder struct {
	mu     sync.Mutex
	values []bool
}

func (r *statusRecorder) ConnectionStatusChanged(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, connected)
}

func (r *statusRecorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.values...)
}

type messageRecorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *messageRecorder) HandleMessage(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *messageRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *messageRecorder) last() Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs[len(r.msgs)-1]
}

func testCreds() StaticCredentials {
	return StaticCredentials{
		KeyAuthToken:         "token-1",
		KeySelectedProjectID: "project-1",
	}
}

// connectedClient returns a client connected through a fake dialer.
func connectedClient(t *testing.T, opts ...ClientOption) (*Client, *fakeDialer, *manualScheduler, *fakeConn) {
	t.Helper()

	dialer := newFakeDialer()
	sched := &manualScheduler{}
	opts = append([]ClientOption{WithDialer(dialer), WithScheduler(sched)}, opts...)

	c := NewClient("https://api.phlexileads.test/", testCreds(), opts...)
	t.Cleanup(c.Disconnect)

	conn := dialer.next(t)
	require.Eventually(t, c.IsConnected, waitFor, 5*time.Millisecond)

	return c, dialer, sched, conn
}

// idle reports whether no status value is queued or being delivered.
func (b *statusBroadcaster) idle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.listeners {
		if e.active || len(e.pending) > 0 {
			return false
		}
	}
	return true
}

func (b *statusBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

func (r *registry) types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for eventType := range r.handlers {
		types = append(types, eventType)
	}
	return types
}
