package transport

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// MemoryNetwork links MemoryTransports inside one process. Delivery is
// lossless and ordered for every method.
type MemoryNetwork struct {
	mu    sync.Mutex
	nodes map[string]*MemoryTransport
}

// NewMemoryNetwork creates an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{nodes: make(map[string]*MemoryTransport)}
}

// NewTransport attaches a transport with the given address.
func (n *MemoryNetwork) NewTransport(addr string) *MemoryTransport {
	t := &MemoryTransport{
		network: n,
		addr:    addr,
		queue:   newEventQueue(0),
		peers:   make(map[string]uuid.UUID),
	}
	n.mu.Lock()
	n.nodes[addr] = t
	n.mu.Unlock()
	return t
}

func (n *MemoryNetwork) lookup(addr string) *MemoryTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nodes[addr]
}

func (n *MemoryNetwork) remove(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.nodes, addr)
}

// MemoryTransport implements Transport on a MemoryNetwork.
type MemoryTransport struct {
	network *MemoryNetwork
	addr    string
	queue   *eventQueue

	mu        sync.Mutex
	peers     map[string]uuid.UUID
	listening bool
	closed    bool
}

// Listen starts accepting connection attempts. The address is fixed at
// creation, so addr is ignored.
func (t *MemoryTransport) Listen(string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listening = true
	return nil
}

// Connect offers a connection request to the transport at addr.
func (t *MemoryTransport) Connect(addr string, payload []byte) error {
	target := t.network.lookup(addr)
	if target == nil || !target.isListening() {
		t.queue.push(Event{Kind: EventDisconnected, Addr: addr, Reason: ReasonConnectFailed})
		return nil
	}

	req := &ConnectionRequest{Addr: t.addr, Payload: append([]byte(nil), payload...)}
	req.answer = func(accept bool) error {
		if !accept {
			t.queue.push(Event{Kind: EventDisconnected, Addr: addr, Reason: ReasonRejected})
			return nil
		}
		id := uuid.New()
		target.addPeer(t.addr, id)
		t.addPeer(addr, id)
		return nil
	}
	target.queue.push(Event{Kind: EventConnectionRequest, Addr: t.addr, Request: req})
	return nil
}

func (t *MemoryTransport) isListening() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listening && !t.closed
}

func (t *MemoryTransport) addPeer(addr string, id uuid.UUID) {
	t.mu.Lock()
	t.peers[addr] = id
	t.mu.Unlock()
	t.queue.push(Event{Kind: EventConnected, Addr: addr, ConnID: id})
}

// dropPeer removes addr and reports whether it was connected.
func (t *MemoryTransport) dropPeer(addr string, reason DisconnectReason) bool {
	t.mu.Lock()
	id, ok := t.peers[addr]
	delete(t.peers, addr)
	t.mu.Unlock()
	if ok {
		t.queue.push(Event{Kind: EventDisconnected, Addr: addr, ConnID: id, Reason: reason})
	}
	return ok
}

// Send delivers a copy of data to a connected peer.
func (t *MemoryTransport) Send(addr string, data []byte, method DeliveryMethod) error {
	t.mu.Lock()
	id, ok := t.peers[addr]
	closed := t.closed
	t.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, addr)
	}
	target := t.network.lookup(addr)
	if target == nil {
		return fmt.Errorf("%w: %s", ErrNotConnected, addr)
	}
	target.queue.push(Event{
		Kind:   EventMessage,
		Addr:   t.addr,
		ConnID: id,
		Data:   append([]byte(nil), data...),
		Method: method,
	})
	return nil
}

// Poll drains pending events.
func (t *MemoryTransport) Poll() []Event {
	return t.queue.drain()
}

// Disconnect drops a peer on both ends.
func (t *MemoryTransport) Disconnect(addr string) error {
	if !t.dropPeer(addr, ReasonLocalClose) {
		return fmt.Errorf("%w: %s", ErrNotConnected, addr)
	}
	if target := t.network.lookup(addr); target != nil {
		target.dropPeer(t.addr, ReasonRemoteClose)
	}
	return nil
}

// Peers returns connected peer addresses.
func (t *MemoryTransport) Peers() []string {
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
func (t *MemoryTransport) PeerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

// LocalAddr returns the transport's network address.
func (t *MemoryTransport) LocalAddr() string {
	return t.addr
}

// Close disconnects every peer and leaves the network.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	peers := make([]string, 0, len(t.peers))
	for addr := range t.peers {
		peers = append(peers, addr)
	}
	t.peers = make(map[string]uuid.UUID)
	t.mu.Unlock()

	for _, addr := range peers {
		if target := t.network.lookup(addr); target != nil {
			target.dropPeer(t.addr, ReasonRemoteClose)
		}
	}
	t.network.remove(t.addr)
	return nil
}
