package transport

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// MockTransport is a mock implementation for testing.
type MockTransport struct {
	addr   string
	queue  *eventQueue
	closed bool

	mu       sync.Mutex
	peers    map[string]uuid.UUID
	sent     []MockMessage
	connects []MockMessage
	sendErr  error
}

// MockMessage records a sent message.
type MockMessage struct {
	Addr   string
	Data   []byte
	Method DeliveryMethod
}

// NewMockTransport creates a new mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		queue: newEventQueue(0),
		peers: make(map[string]uuid.UUID),
	}
}

// Listen does nothing in mock.
func (t *MockTransport) Listen(addr string) error {
	t.addr = addr
	return nil
}

// Connect records the attempt. Use SimulateAccept to complete it.
func (t *MockTransport) Connect(addr string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects = append(t.connects, MockMessage{Addr: addr, Data: payload})
	return nil
}

// Send records the message as sent.
func (t *MockTransport) Send(addr string, data []byte, method DeliveryMethod) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if _, ok := t.peers[addr]; !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, addr)
	}
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, MockMessage{Addr: addr, Data: data, Method: method})
	return nil
}

// Poll drains simulated events.
func (t *MockTransport) Poll() []Event {
	return t.queue.drain()
}

// Disconnect drops a peer and queues the matching event.
func (t *MockTransport) Disconnect(addr string) error {
	t.mu.Lock()
	id, ok := t.peers[addr]
	delete(t.peers, addr)
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, addr)
	}
	t.queue.push(Event{Kind: EventDisconnected, Addr: addr, ConnID: id, Reason: ReasonLocalClose})
	return nil
}

// Peers returns connected peer addresses.
func (t *MockTransport) Peers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	addrs := make([]string, 0, len(t.peers))
	for addr := range t.peers {
		addrs = append(addrs, addr)
	}
	slices.Sort(addrs)
	return addrs
}

// PeerCount returns the number of connected peers.
func (t *MockTransport) PeerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

// LocalAddr returns the mock address.
func (t *MockTransport) LocalAddr() string {
	return t.addr
}

// Close marks the mock closed.
func (t *MockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// --- Test helpers ---

// SimulateConnectionRequest queues an inbound connection attempt. Accepting
// it marks the peer connected and queues EventConnected.
func (t *MockTransport) SimulateConnectionRequest(addr string, payload []byte) *ConnectionRequest {
	req := &ConnectionRequest{Addr: addr, Payload: payload}
	req.answer = func(accept bool) error {
		if accept {
			t.SimulateConnect(addr)
		}
		return nil
	}
	t.queue.push(Event{Kind: EventConnectionRequest, Addr: addr, Request: req})
	return req
}

// SimulateConnect marks a peer connected and queues EventConnected.
func (t *MockTransport) SimulateConnect(addr string) {
	id := uuid.New()
	t.mu.Lock()
	t.peers[addr] = id
	t.mu.Unlock()
	t.queue.push(Event{Kind: EventConnected, Addr: addr, ConnID: id})
}

// SimulateMessage queues an inbound message.
func (t *MockTransport) SimulateMessage(addr string, data []byte, method DeliveryMethod) {
	t.mu.Lock()
	id := t.peers[addr]
	t.mu.Unlock()
	t.queue.push(Event{Kind: EventMessage, Addr: addr, ConnID: id, Data: data, Method: method})
}

// SimulateDisconnect drops a peer as if it went away.
func (t *MockTransport) SimulateDisconnect(addr string, reason DisconnectReason) {
	t.mu.Lock()
	id := t.peers[addr]
	delete(t.peers, addr)
	t.mu.Unlock()
	t.queue.push(Event{Kind: EventDisconnected, Addr: addr, ConnID: id, Reason: reason})
}

// FailSends makes every later Send return err. Nil restores normal sends.
func (t *MockTransport) FailSends(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

// SentMessages returns all sent messages.
func (t *MockTransport) SentMessages() []MockMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]MockMessage{}, t.sent...)
}

// ConnectAttempts returns all recorded Connect calls.
func (t *MockTransport) ConnectAttempts() []MockMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]MockMessage{}, t.connects...)
}

// Clear clears all recorded messages.
func (t *MockTransport) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = t.sent[:0]
	t.connects = t.connects[:0]
}
