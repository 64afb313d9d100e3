// Package transport provides a network abstraction layer.
// This allows swapping UDP, WebSocket, or in-memory implementations without
// changing replication logic.
package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrClosed          = errors.New("transport closed")
	ErrNotConnected    = errors.New("peer not connected")
	ErrMessageTooLarge = errors.New("message too large")
	ErrAlreadyAnswered = errors.New("connection request already answered")
)

// DeliveryMethod selects the reliability class of a message.
type DeliveryMethod uint8

const (
	// Unreliable messages may be dropped or reordered.
	Unreliable DeliveryMethod = iota
	// ReliableOrdered messages all arrive, in send order.
	ReliableOrdered
	// ReliableSequenced messages are retransmitted until acknowledged, but a
	// message older than the newest one already delivered is dropped.
	//
	// All sequenced traffic to a peer shares one sequence. A lost message
	// overtaken by any later sequenced message is acknowledged on arrival
	// and then discarded, never delivered. Use ReliableOrdered for messages
	// the receiver must see even when something newer got there first.
	ReliableSequenced
)

func (d DeliveryMethod) String() string {
	switch d {
	case Unreliable:
		return "unreliable"
	case ReliableOrdered:
		return "reliable-ordered"
	case ReliableSequenced:
		return "reliable-sequenced"
	default:
		return "unknown"
	}
}

// DisconnectReason says why a peer went away.
type DisconnectReason uint8

const (
	ReasonRemoteClose DisconnectReason = iota + 1
	ReasonLocalClose
	ReasonTimeout
	ReasonRejected
	ReasonConnectFailed
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonRemoteClose:
		return "remote close"
	case ReasonLocalClose:
		return "local close"
	case ReasonTimeout:
		return "timeout"
	case ReasonRejected:
		return "rejected"
	case ReasonConnectFailed:
		return "connect failed"
	default:
		return "unknown"
	}
}

// EventKind discriminates Event.
type EventKind uint8

const (
	EventConnectionRequest EventKind = iota + 1
	EventConnected
	EventMessage
	EventDisconnected
)

// Event is one inbound occurrence, delivered by Poll in arrival order.
type Event struct {
	Kind   EventKind
	Addr   string
	ConnID uuid.UUID

	// Data is the message payload for EventMessage.
	Data   []byte
	Method DeliveryMethod

	// Request is set for EventConnectionRequest.
	Request *ConnectionRequest

	// Reason is set for EventDisconnected.
	Reason DisconnectReason
}

// Transport is the interface for network communication.
//
// Implementations may use background goroutines for I/O, but every event
// is handed to the caller through Poll so that all state changes happen on
// the caller's goroutine.
type Transport interface {
	// Listen starts accepting connection attempts on addr.
	Listen(addr string) error

	// Connect starts a connection attempt carrying payload. The outcome is
	// reported later as EventConnected or EventDisconnected.
	Connect(addr string, payload []byte) error

	// Send queues data for a connected peer.
	Send(addr string, data []byte, method DeliveryMethod) error

	// Poll drains all pending events.
	Poll() []Event

	// Disconnect drops a peer. An EventDisconnected follows.
	Disconnect(addr string) error

	// Peers returns the addresses of all connected peers.
	Peers() []string

	// PeerCount returns the number of connected peers.
	PeerCount() int

	// LocalAddr returns the local address we're bound to.
	LocalAddr() string

	// Close shuts down the transport.
	Close() error
}

// ConnectionRequest is an inbound connection attempt awaiting a decision.
type ConnectionRequest struct {
	Addr    string
	Payload []byte

	answer   func(accept bool) error
	answered bool
}

// Accept admits the peer. EventConnected follows on a later Poll.
func (r *ConnectionRequest) Accept() error {
	return r.respond(true)
}

// Reject refuses the peer. No state is kept for it.
func (r *ConnectionRequest) Reject() error {
	return r.respond(false)
}

func (r *ConnectionRequest) respond(accept bool) error {
	if r.answered {
		return ErrAlreadyAnswered
	}
	r.answered = true
	return r.answer(accept)
}

// Config holds transport configuration.
type Config struct {
	// MaxMessageSize bounds one datagram, headers included.
	MaxMessageSize int
	// MaxOrderedSize bounds a ReliableOrdered message. Larger ones than a
	// datagram are split into fragments and reassembled before delivery.
	MaxOrderedSize    int
	MaxPendingEvents  int
	ResendInterval    time.Duration
	PingInterval      time.Duration
	DisconnectTimeout time.Duration
	WriteTimeout      time.Duration

	// Clock drives resend, keep-alive and timeout timers.
	Clock clock.Clock
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize:    1400, // Safe for UDP
		MaxOrderedSize:    256 * 1024,
		MaxPendingEvents:  1024,
		ResendInterval:    100 * time.Millisecond,
		PingInterval:      time.Second,
		DisconnectTimeout: 5 * time.Second,
		WriteTimeout:      5 * time.Second,
		Clock:             clock.New(),
	}
}

// New creates a transport by kind: "udp" or "ws".
func New(kind string, config Config, logger *zap.Logger) (Transport, error) {
	switch kind {
	case "udp":
		return NewUDPTransport(config, logger), nil
	case "ws":
		return NewWSTransport(config, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}
