package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

/*
UDP packet format:

	kind uint8
	[reliable, fragment, ack] channel uint8, seq uint16
	payload...

A ReliableOrdered message too large for one datagram goes out as a run of
fragment packets closed by an ordinary reliable packet, each with its own
sequence number. The receiver joins them in sequence order.
*/
const (
	kindConnect byte = iota + 1
	kindAccept
	kindReject
	kindDisconnect
	kindPing
	kindPong
	kindUnreliable
	kindReliable
	kindAck
	kindFragment
)

const reliableHeaderSize = 4

type peerState uint8

const (
	stateConnecting peerState = iota
	stateConnected
)

// seqNewer reports whether a comes after b, allowing for wraparound.
func seqNewer(a, b uint16) bool {
	return int16(a-b) > 0
}

type outgoing struct {
	seq    uint16
	packet []byte
	sentAt time.Time
}

// reliableChannel is the per-peer state of one reliable delivery method.
type reliableChannel struct {
	nextSeq uint16
	pending map[uint16]*outgoing

	// ReliableOrdered receive side. buffered holds whole packets that
	// arrived ahead of expected; partial collects fragments.
	expected   uint16
	buffered   map[uint16][]byte
	partial    []byte
	discarding bool

	// ReliableSequenced receive side.
	last    uint16
	hasLast bool
}

func newReliableChannel() *reliableChannel {
	return &reliableChannel{
		pending:  make(map[uint16]*outgoing),
		buffered: make(map[uint16][]byte),
	}
}

// due returns the unacknowledged packets older than interval, oldest first.
func (c *reliableChannel) due(now time.Time, interval time.Duration) []*outgoing {
	var out []*outgoing
	for _, o := range c.pending {
		if now.Sub(o.sentAt) >= interval {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b *outgoing) int {
		switch {
		case a.seq == b.seq:
			return 0
		case seqNewer(a.seq, b.seq):
			return 1
		default:
			return -1
		}
	})
	return out
}

type udpPeer struct {
	addr     *net.UDPAddr
	connID   uuid.UUID
	state    peerState
	payload  []byte // connect payload, resent until answered
	lastRecv time.Time
	lastPing time.Time
	ordered  *reliableChannel
	seqd     *reliableChannel
}

func newUDPPeer(addr *net.UDPAddr, now time.Time) *udpPeer {
	return &udpPeer{
		addr:     addr,
		connID:   uuid.New(),
		lastRecv: now,
		lastPing: now,
		ordered:  newReliableChannel(),
		seqd:     newReliableChannel(),
	}
}

func (p *udpPeer) channel(m DeliveryMethod) *reliableChannel {
	if m == ReliableOrdered {
		return p.ordered
	}
	return p.seqd
}

// UDPTransport implements Transport over a single UDP socket with its own
// acknowledgement and retransmission layer.
type UDPTransport struct {
	config Config
	clock  clock.Clock
	logger *zap.Logger
	conn   *net.UDPConn
	addr   string
	queue  *eventQueue

	mu       sync.Mutex
	peers    map[string]*udpPeer
	requests map[string]*ConnectionRequest
	closed   bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewUDPTransport creates a new UDP transport.
func NewUDPTransport(config Config, logger *zap.Logger) *UDPTransport {
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UDPTransport{
		config:   config,
		clock:    config.Clock,
		logger:   logger,
		queue:    newEventQueue(config.MaxPendingEvents),
		peers:    make(map[string]*udpPeer),
		requests: make(map[string]*ConnectionRequest),
		stopCh:   make(chan struct{}),
	}
}

// Listen starts listening on the given address.
func (t *UDPTransport) Listen(addr string) error {
	if t.conn != nil {
		return errors.New("udp transport already bound")
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve udp addr: %w", err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listen udp: %w", err)
	}

	t.addr = addr
	t.start(conn)
	return nil
}

// Connect starts a connection attempt. An unbound transport binds an
// ephemeral local port first.
func (t *UDPTransport) Connect(addr string, payload []byte) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve udp addr: %w", err)
	}
	if len(payload)+1 > t.config.MaxMessageSize {
		return fmt.Errorf("%w: connect payload %d bytes", ErrMessageTooLarge, len(payload))
	}

	if t.conn == nil {
		conn, err := net.ListenUDP("udp", nil)
		if err != nil {
			return fmt.Errorf("bind udp: %w", err)
		}
		t.start(conn)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	key := raddr.String()
	if _, exists := t.peers[key]; exists {
		return fmt.Errorf("already connected to %s", key)
	}

	p := newUDPPeer(raddr, t.clock.Now())
	p.payload = payload
	t.peers[key] = p

	return t.write(raddr, append([]byte{kindConnect}, payload...))
}

func (t *UDPTransport) start(conn *net.UDPConn) {
	t.conn = conn
	ticker := t.clock.Ticker(t.config.ResendInterval)
	t.wg.Add(2)
	go t.receiveLoop()
	go t.maintainLoop(ticker)
}

// Send sends data to a connected peer.
func (t *UDPTransport) Send(addr string, data []byte, method DeliveryMethod) error {
	chunk := t.config.MaxMessageSize - reliableHeaderSize
	limit := chunk
	if method == ReliableOrdered {
		limit = max(chunk, t.config.MaxOrderedSize)
	}
	if len(data) > limit {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	p, ok := t.peers[addr]
	if !ok || p.state != stateConnected {
		return fmt.Errorf("%w: %s", ErrNotConnected, addr)
	}

	switch method {
	case Unreliable:
		return t.write(p.addr, append([]byte{kindUnreliable}, data...))
	case ReliableOrdered, ReliableSequenced:
		ch := p.channel(method)
		now := t.clock.Now()
		var err error
		for len(data) > chunk {
			err = multierr.Append(err, t.sendReliable(p, ch, kindFragment, method, data[:chunk], now))
			data = data[chunk:]
		}
		return multierr.Append(err, t.sendReliable(p, ch, kindReliable, method, data, now))
	default:
		return fmt.Errorf("unknown delivery method %d", method)
	}
}

// sendReliable numbers one packet on ch and writes it. Callers hold t.mu.
func (t *UDPTransport) sendReliable(p *udpPeer, ch *reliableChannel, kind byte, method DeliveryMethod, data []byte, now time.Time) error {
	seq := ch.nextSeq
	ch.nextSeq++

	packet := make([]byte, reliableHeaderSize+len(data))
	packet[0] = kind
	packet[1] = byte(method)
	binary.BigEndian.PutUint16(packet[2:], seq)
	copy(packet[reliableHeaderSize:], data)

	ch.pending[seq] = &outgoing{seq: seq, packet: packet, sentAt: now}
	return t.write(p.addr, packet)
}

// Poll drains all pending events.
func (t *UDPTransport) Poll() []Event {
	return t.queue.drain()
}

// Disconnect drops a peer and tells it so.
func (t *UDPTransport) Disconnect(addr string) error {
	t.mu.Lock()
	p, ok := t.peers[addr]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotConnected, addr)
	}
	delete(t.peers, addr)
	err := t.write(p.addr, []byte{kindDisconnect})
	t.mu.Unlock()

	t.queue.push(Event{Kind: EventDisconnected, Addr: addr, ConnID: p.connID, Reason: ReasonLocalClose})
	return err
}

// Peers returns the addresses of connected peers.
func (t *UDPTransport) Peers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	addrs := make([]string, 0, len(t.peers))
	for addr, p := range t.peers {
		if p.state == stateConnected {
			addrs = append(addrs, addr)
		}
	}
	slices.Sort(addrs)
	return addrs
}

// PeerCount returns the number of connected peers.
func (t *UDPTransport) PeerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, p := range t.peers {
		if p.state == stateConnected {
			n++
		}
	}
	return n
}

// LocalAddr returns the local address.
func (t *UDPTransport) LocalAddr() string {
	if t.conn != nil {
		return t.conn.LocalAddr().String()
	}
	return t.addr
}

// Close notifies all peers and shuts down the transport.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	var err error
	for addr, p := range t.peers {
		err = multierr.Append(err, t.write(p.addr, []byte{kindDisconnect}))
		delete(t.peers, addr)
	}
	t.mu.Unlock()

	close(t.stopCh)
	if t.conn != nil {
		err = multierr.Append(err, t.conn.Close())
	}
	t.wg.Wait()
	return err
}

// write sends one datagram. Callers hold t.mu.
func (t *UDPTransport) write(addr *net.UDPAddr, packet []byte) error {
	if _, err := t.conn.WriteToUDP(packet, addr); err != nil {
		return fmt.Errorf("write udp %s: %w", addr, err)
	}
	return nil
}

// receiveLoop handles incoming UDP packets.
func (t *UDPTransport) receiveLoop() {
	defer t.wg.Done()

	buf := make([]byte, t.config.MaxMessageSize)

	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			// Check if we're shutting down
			select {
			case <-t.stopCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Debug("udp read failed", zap.Error(err))
			continue
		}
		if n == 0 {
			continue
		}

		// Copy data (buf will be reused)
		data := make([]byte, n)
		copy(data, buf[:n])

		t.handlePacket(addr, data)
	}
}

func (t *UDPTransport) handlePacket(from *net.UDPAddr, packet []byte) {
	key := from.String()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	p := t.peers[key]
	if p != nil {
		p.lastRecv = t.clock.Now()
	}

	var err error
	switch packet[0] {
	case kindConnect:
		err = t.handleConnect(from, key, p, packet[1:])
	case kindAccept:
		if p != nil && p.state == stateConnecting {
			p.state = stateConnected
			p.payload = nil
			t.queue.push(Event{Kind: EventConnected, Addr: key, ConnID: p.connID})
		}
	case kindReject:
		if p != nil && p.state == stateConnecting {
			delete(t.peers, key)
			t.queue.push(Event{Kind: EventDisconnected, Addr: key, ConnID: p.connID, Reason: ReasonRejected})
		}
	case kindDisconnect:
		if p != nil {
			delete(t.peers, key)
			t.queue.push(Event{Kind: EventDisconnected, Addr: key, ConnID: p.connID, Reason: ReasonRemoteClose})
		}
	case kindPing:
		if p != nil && p.state == stateConnected {
			err = t.write(from, []byte{kindPong})
		}
	case kindPong:
		// lastRecv already refreshed
	case kindUnreliable:
		if p == nil || p.state != stateConnected || t.queue.full() {
			return
		}
		t.queue.push(Event{Kind: EventMessage, Addr: key, ConnID: p.connID, Data: packet[1:], Method: Unreliable})
	case kindReliable, kindFragment:
		err = t.handleReliable(p, key, packet)
	case kindAck:
		if p == nil || len(packet) < reliableHeaderSize {
			return
		}
		method := DeliveryMethod(packet[1])
		if method != ReliableOrdered && method != ReliableSequenced {
			return
		}
		delete(p.channel(method).pending, binary.BigEndian.Uint16(packet[2:]))
	default:
		t.logger.Debug("unknown packet kind", zap.String("addr", key), zap.Uint8("kind", packet[0]))
	}

	if err != nil {
		t.logger.Debug("udp reply failed", zap.String("addr", key), zap.Error(err))
	}
}

func (t *UDPTransport) handleConnect(from *net.UDPAddr, key string, p *udpPeer, payload []byte) error {
	if p != nil {
		// Our accept was lost and the peer is retrying.
		if p.state == stateConnected {
			return t.write(from, []byte{kindAccept})
		}
		return nil
	}
	if _, pending := t.requests[key]; pending || t.queue.full() {
		return nil
	}

	req := &ConnectionRequest{Addr: key, Payload: payload}
	req.answer = func(accept bool) error {
		return t.answer(from, key, accept)
	}
	t.requests[key] = req
	t.queue.push(Event{Kind: EventConnectionRequest, Addr: key, Request: req})
	return nil
}

func (t *UDPTransport) answer(from *net.UDPAddr, key string, accept bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.requests, key)
	if t.closed {
		return ErrClosed
	}
	if !accept {
		return t.write(from, []byte{kindReject})
	}

	p := newUDPPeer(from, t.clock.Now())
	p.state = stateConnected
	t.peers[key] = p
	t.queue.push(Event{Kind: EventConnected, Addr: key, ConnID: p.connID})
	return t.write(from, []byte{kindAccept})
}

func (t *UDPTransport) handleReliable(p *udpPeer, key string, packet []byte) error {
	if p == nil || p.state != stateConnected || len(packet) < reliableHeaderSize {
		return nil
	}
	method := DeliveryMethod(packet[1])
	if method != ReliableOrdered && method != ReliableSequenced {
		return nil
	}
	// Leave it unacknowledged so the sender retries once Poll catches up.
	if t.queue.full() {
		return nil
	}

	seq := binary.BigEndian.Uint16(packet[2:])
	ch := p.channel(method)

	switch method {
	case ReliableOrdered:
		switch {
		case seq == ch.expected:
			t.release(p, key, ch, packet)
			for {
				next, ok := ch.buffered[ch.expected]
				if !ok {
					break
				}
				delete(ch.buffered, ch.expected)
				t.release(p, key, ch, next)
			}
		case seqNewer(seq, ch.expected):
			ch.buffered[seq] = packet
		}
	case ReliableSequenced:
		// Sequenced messages are never fragmented.
		if packet[0] == kindFragment {
			return nil
		}
		if !ch.hasLast || seqNewer(seq, ch.last) {
			ch.hasLast = true
			ch.last = seq
			t.queue.push(Event{Kind: EventMessage, Addr: key, ConnID: p.connID, Data: packet[reliableHeaderSize:], Method: method})
		}
	}

	return t.write(p.addr, []byte{kindAck, packet[1], packet[2], packet[3]})
}

// release consumes the next in-order packet of an ordered channel. A
// fragment is held back until the packet closing its message arrives.
func (t *UDPTransport) release(p *udpPeer, key string, ch *reliableChannel, packet []byte) {
	ch.expected++
	data := packet[reliableHeaderSize:]

	if !ch.discarding && len(ch.partial)+len(data) > max(t.config.MaxOrderedSize, t.config.MaxMessageSize) {
		t.logger.Debug("dropping oversized ordered message", zap.String("addr", key), zap.Int("bytes", len(ch.partial)+len(data)))
		ch.partial = nil
		ch.discarding = true
	}
	if packet[0] == kindFragment {
		if !ch.discarding {
			ch.partial = append(ch.partial, data...)
		}
		return
	}
	if ch.discarding {
		ch.discarding = false
		return
	}
	if ch.partial != nil {
		data = append(ch.partial, data...)
		ch.partial = nil
	}
	t.queue.push(Event{Kind: EventMessage, Addr: key, ConnID: p.connID, Data: data, Method: ReliableOrdered})
}

// maintainLoop drives retransmission, keep-alive and timeouts.
func (t *UDPTransport) maintainLoop(ticker *clock.Ticker) {
	defer t.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.maintain()
		}
	}
}

func (t *UDPTransport) maintain() {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	var err error
	for key, p := range t.peers {
		if now.Sub(p.lastRecv) > t.config.DisconnectTimeout {
			delete(t.peers, key)
			reason := ReasonTimeout
			if p.state == stateConnecting {
				reason = ReasonConnectFailed
			}
			t.queue.push(Event{Kind: EventDisconnected, Addr: key, ConnID: p.connID, Reason: reason})
			continue
		}

		if p.state == stateConnecting {
			err = multierr.Append(err, t.write(p.addr, append([]byte{kindConnect}, p.payload...)))
			continue
		}

		for _, ch := range []*reliableChannel{p.ordered, p.seqd} {
			for _, o := range ch.due(now, t.config.ResendInterval) {
				o.sentAt = now
				err = multierr.Append(err, t.write(p.addr, o.packet))
			}
		}

		if now.Sub(p.lastPing) >= t.config.PingInterval {
			p.lastPing = now
			err = multierr.Append(err, t.write(p.addr, []byte{kindPing}))
		}
	}

	if err != nil {
		t.logger.Debug("udp maintenance writes failed", zap.Error(err))
	}
}
