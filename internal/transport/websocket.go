package transport

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn is one WebSocket peer. gorilla/websocket allows a single
// concurrent writer, so data frames go through writeMu.
type wsConn struct {
	ws      *websocket.Conn
	connID  uuid.UUID
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws, connID: uuid.New(), done: make(chan struct{})}
}

func (c *wsConn) write(frame []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(timeout))
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *wsConn) close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

// WSTransport implements Transport over WebSockets. TCP already delivers
// every frame reliably and in order, so all delivery methods behave as
// ReliableOrdered.
type WSTransport struct {
	config Config
	clock  clock.Clock
	logger *zap.Logger
	queue  *eventQueue
	dialer *websocket.Dialer

	server   *http.Server
	listener net.Listener

	mu     sync.Mutex
	conns  map[string]*wsConn
	closed bool
	done   chan struct{}
}

// NewWSTransport creates a new WebSocket transport.
func NewWSTransport(config Config, logger *zap.Logger) *WSTransport {
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSTransport{
		config: config,
		clock:  config.Clock,
		logger: logger,
		queue:  newEventQueue(config.MaxPendingEvents),
		dialer: &websocket.Dialer{HandshakeTimeout: config.DisconnectTimeout},
		conns:  make(map[string]*wsConn),
		done:   make(chan struct{}),
	}
}

// Listen serves WebSocket upgrades on addr.
func (t *WSTransport) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen tcp: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", t.handleWS)
	t.listener = ln
	t.server = &http.Server{Handler: mux, ReadHeaderTimeout: t.config.DisconnectTimeout}

	go func() {
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("websocket server stopped", zap.Error(err))
		}
	}()
	return nil
}

func (t *WSTransport) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	key := ws.RemoteAddr().String()
	ws.SetReadLimit(int64(max(t.config.MaxMessageSize, t.config.MaxOrderedSize)) + 2)

	_ = ws.SetReadDeadline(time.Now().Add(t.config.DisconnectTimeout))
	_, frame, err := ws.ReadMessage()
	if err != nil || len(frame) == 0 || frame[0] != kindConnect || t.queue.full() {
		ws.Close()
		return
	}

	c := newWSConn(ws)
	decision := make(chan bool, 1)
	req := &ConnectionRequest{Addr: key, Payload: frame[1:]}
	req.answer = func(accept bool) error {
		if !accept {
			decision <- false
			return c.write([]byte{kindReject}, t.config.WriteTimeout)
		}
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			decision <- false
			return ErrClosed
		}
		t.conns[key] = c
		t.mu.Unlock()

		t.queue.push(Event{Kind: EventConnected, Addr: key, ConnID: c.connID})
		decision <- true
		return c.write([]byte{kindAccept}, t.config.WriteTimeout)
	}
	t.queue.push(Event{Kind: EventConnectionRequest, Addr: key, Request: req})

	select {
	case ok := <-decision:
		if !ok {
			c.close()
			return
		}
	case <-t.done:
		c.close()
		return
	}
	t.serve(key, c)
}

// Connect dials addr in the background.
func (t *WSTransport) Connect(addr string, payload []byte) error {
	url := addr
	if !strings.Contains(url, "://") {
		url = "ws://" + addr + "/"
	}

	go func() {
		ws, _, err := t.dialer.Dial(url, nil)
		if err != nil {
			t.logger.Debug("websocket dial failed", zap.String("addr", addr), zap.Error(err))
			t.queue.push(Event{Kind: EventDisconnected, Addr: addr, Reason: ReasonConnectFailed})
			return
		}
		ws.SetReadLimit(int64(max(t.config.MaxMessageSize, t.config.MaxOrderedSize)) + 2)
		c := newWSConn(ws)

		if err := c.write(append([]byte{kindConnect}, payload...), t.config.WriteTimeout); err != nil {
			c.close()
			t.queue.push(Event{Kind: EventDisconnected, Addr: addr, Reason: ReasonConnectFailed})
			return
		}

		_ = ws.SetReadDeadline(time.Now().Add(t.config.DisconnectTimeout))
		_, frame, err := ws.ReadMessage()
		switch {
		case err != nil || len(frame) == 0:
			c.close()
			t.queue.push(Event{Kind: EventDisconnected, Addr: addr, Reason: ReasonConnectFailed})
			return
		case frame[0] != kindAccept:
			c.close()
			t.queue.push(Event{Kind: EventDisconnected, Addr: addr, Reason: ReasonRejected})
			return
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			c.close()
			return
		}
		t.conns[addr] = c
		t.mu.Unlock()

		t.queue.push(Event{Kind: EventConnected, Addr: addr, ConnID: c.connID})
		t.serve(addr, c)
	}()
	return nil
}

// serve runs the keep-alive pinger and the read loop of a connected peer.
func (t *WSTransport) serve(key string, c *wsConn) {
	extend := func() {
		_ = c.ws.SetReadDeadline(time.Now().Add(t.config.DisconnectTimeout))
	}
	extend()
	c.ws.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	go func() {
		ticker := t.clock.Ticker(t.config.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-ticker.C:
				deadline := time.Now().Add(t.config.WriteTimeout)
				if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	reason := ReasonRemoteClose
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				reason = ReasonTimeout
			}
			break
		}
		extend()

		if len(frame) == 0 || frame[0] == kindDisconnect {
			break
		}
		if frame[0] != kindReliable || len(frame) < 2 {
			continue
		}
		t.queue.push(Event{
			Kind:   EventMessage,
			Addr:   key,
			ConnID: c.connID,
			Data:   frame[2:],
			Method: DeliveryMethod(frame[1]),
		})
	}
	t.drop(key, c, reason)
}

// drop forgets c and reports the disconnect unless it was already dropped.
func (t *WSTransport) drop(key string, c *wsConn, reason DisconnectReason) {
	t.mu.Lock()
	current, ok := t.conns[key]
	if ok && current == c {
		delete(t.conns, key)
	}
	t.mu.Unlock()

	if ok && current == c {
		t.queue.push(Event{Kind: EventDisconnected, Addr: key, ConnID: c.connID, Reason: reason})
	}
	c.close()
}

// Send writes one frame to a connected peer.
func (t *WSTransport) Send(addr string, data []byte, method DeliveryMethod) error {
	limit := t.config.MaxMessageSize
	if method == ReliableOrdered {
		limit = max(limit, t.config.MaxOrderedSize)
	}
	if len(data)+2 > limit {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}

	t.mu.Lock()
	c, ok := t.conns[addr]
	closed := t.closed
	t.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, addr)
	}

	frame := make([]byte, 2+len(data))
	frame[0] = kindReliable
	frame[1] = byte(method)
	copy(frame[2:], data)
	if err := c.write(frame, t.config.WriteTimeout); err != nil {
		return fmt.Errorf("write websocket %s: %w", addr, err)
	}
	return nil
}

// Poll drains pending events.
func (t *WSTransport) Poll() []Event {
	return t.queue.drain()
}

// Disconnect tells a peer goodbye and closes its connection.
func (t *WSTransport) Disconnect(addr string) error {
	t.mu.Lock()
	c, ok := t.conns[addr]
	delete(t.conns, addr)
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, addr)
	}
	t.queue.push(Event{Kind: EventDisconnected, Addr: addr, ConnID: c.connID, Reason: ReasonLocalClose})

	err := c.write([]byte{kindDisconnect}, t.config.WriteTimeout)
	return multierr.Append(err, c.close())
}

// Peers returns connected peer addresses.
func (t *WSTransport) Peers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	addrs := make([]string, 0, len(t.conns))
	for addr := range t.conns {
		addrs = append(addrs, addr)
	}
	slices.Sort(addrs)
	return addrs
}

// PeerCount returns the number of connected peers.
func (t *WSTransport) PeerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// LocalAddr returns the listening address, if any.
func (t *WSTransport) LocalAddr() string {
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return ""
}

// Close disconnects every peer and stops the server.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := t.conns
	t.conns = make(map[string]*wsConn)
	t.mu.Unlock()
	close(t.done)

	var err error
	for _, c := range conns {
		_ = c.write([]byte{kindDisconnect}, t.config.WriteTimeout)
		err = multierr.Append(err, c.close())
	}
	if t.server != nil {
		err = multierr.Append(err, t.server.Close())
	}
	return err
}
