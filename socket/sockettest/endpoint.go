// Package sockettest provides an in-process push endpoint for exercising
// socket.Client against a real websocket connection.
package sockettest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrTimeout    = errors.New("sockettest: timed out")
	ErrPeerClosed = errors.New("sockettest: peer closed")
)

// Endpoint accepts push connections on /ws.
type Endpoint struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	accepted chan *Peer
	reject   atomic.Bool
	attempts atomic.Int64

	mu    sync.Mutex
	peers []*Peer
}

func NewEndpoint() *Endpoint {
	e := &Endpoint{
		accepted: make(chan *Peer, 16),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", e.handleWS)
	e.srv = httptest.NewServer(mux)

	return e
}

// BaseURL is the origin a client appends "ws" to.
func (e *Endpoint) BaseURL() string {
	return e.srv.URL + "/"
}

// Attempts counts upgrade requests, rejected ones included.
func (e *Endpoint) Attempts() int {
	return int(e.attempts.Load())
}

// SetReject makes subsequent upgrade requests fail with 503.
func (e *Endpoint) SetReject(reject bool) {
	e.reject.Store(reject)
}

// Accept waits for the next accepted connection.
func (e *Endpoint) Accept(timeout time.Duration) (*Peer, error) {
	select {
	case p := <-e.accepted:
		return p, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

func (e *Endpoint) Close() {
	e.mu.Lock()
	peers := e.peers
	e.peers = nil
	e.mu.Unlock()

	for _, p := range peers {
		p.Drop()
	}
	e.srv.Close()
}

func (e *Endpoint) handleWS(w http.ResponseWriter, r *http.Request) {
	e.attempts.Add(1)

	if e.reject.Load() {
		http.Error(w, "endpoint unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	p := newPeer(conn, r.URL.Query())

	e.mu.Lock()
	e.peers = append(e.peers, p)
	e.mu.Unlock()

	e.accepted <- p
}

// Peer is the server side of one accepted connection.
type Peer struct {
	conn    *websocket.Conn
	query   url.Values
	sendCh  chan []byte
	inbound chan []byte
	closeCh chan struct{}
	writeWg sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newPeer(conn *websocket.Conn, query url.Values) *Peer {
	p := &Peer{
		conn:    conn,
		query:   query,
		sendCh:  make(chan []byte, 64),
		inbound: make(chan []byte, 64),
		closeCh: make(chan struct{}),
	}

	p.writeWg.Add(1)
	go p.writePump()
	go p.readPump()

	return p
}

// Query returns the query parameters of the upgrade request.
func (p *Peer) Query() url.Values {
	return p.query
}

func (p *Peer) writePump() {
	defer p.writeWg.Done()

	for {
		select {
		case <-p.closeCh:
			return
		case message := <-p.sendCh:
			p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := p.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		}
	}
}

func (p *Peer) readPump() {
	defer close(p.inbound)

	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		p.inbound <- message
	}
}

// Push encodes v as JSON and sends it as one text frame.
func (p *Peer) Push(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.PushRaw(data)
}

// PushRaw sends data verbatim as one text frame.
func (p *Peer) PushRaw(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPeerClosed
	}

	select {
	case p.sendCh <- data:
		return nil
	default:
		return errors.New("sockettest: send buffer full")
	}
}

// Read waits for the next frame sent by the client.
func (p *Peer) Read(timeout time.Duration) ([]byte, error) {
	select {
	case msg, ok := <-p.inbound:
		if !ok {
			return nil, ErrPeerClosed
		}
		return msg, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// Drop closes the TCP connection without a close handshake.
func (p *Peer) Drop() {
	if !p.markClosed() {
		return
	}
	p.writeWg.Wait()
	p.conn.UnderlyingConn().Close()
}

// Close performs a normal websocket close.
func (p *Peer) Close() error {
	if !p.markClosed() {
		return nil
	}
	p.writeWg.Wait()

	p.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return p.conn.Close()
}

func (p *Peer) markClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	p.closed = true
	close(p.closeCh)
	return true
}
