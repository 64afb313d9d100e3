package game

import (
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/gammazero/deque"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/LemmyAI/netsync/internal/entity"
	"github.com/LemmyAI/netsync/internal/protocol"
	"github.com/LemmyAI/netsync/internal/transport"
	"github.com/LemmyAI/netsync/internal/world"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	Secret string
	Name   string

	// PlayerPrefab is the descriptor of the entity spawned for this client.
	PlayerPrefab string
	TickRate     int

	Clock clock.Clock
}

// Client mirrors the server's entities. It never creates or moves entities
// itself; it asks the server and applies what the server broadcasts.
type Client struct {
	*Engine

	config    ClientConfig
	transport transport.Transport
	world     world.World
	codec     *protocol.Registry
	logger    *zap.Logger

	server    string
	connected bool

	id       int32
	ready    bool
	entities *entity.Table
	self     int32
	hasSelf  bool

	// deferred holds events received while the scene loads.
	deferred deque.Deque[protocol.Message]

	done     chan struct{}
	doneOnce sync.Once
	reason   transport.DisconnectReason
}

// NewClient creates a client session on t.
func NewClient(config ClientConfig, t transport.Transport, w world.World, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		config:    config,
		transport: t,
		world:     w,
		codec:     protocol.NewRegistry(),
		logger:    logger,
		entities:  entity.NewTable(),
		done:      make(chan struct{}),
	}
	c.Engine = newEngine(t, c.handleEvent, config.TickRate, config.Clock, logger)
	return c
}

// Connect starts connecting to the server at addr. Call it before Run.
func (c *Client) Connect(addr string) error {
	payload, err := c.codec.Encode(&protocol.ConnectionRequest{Key: c.config.Secret})
	if err != nil {
		return err
	}
	c.server = addr
	if err := c.transport.Connect(addr, payload); err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	c.logger.Info("connecting", zap.String("addr", addr))
	return nil
}

// Move asks the server to move this client's player entity.
func (c *Client) Move(movement protocol.Vec3, yaw float32, crouching bool) error {
	if !c.hasSelf {
		return ErrNoPlayer
	}
	return c.send(&protocol.MoveRequest{
		EntityID:  c.self,
		Movement:  movement,
		Yaw:       yaw,
		Crouching: crouching,
	})
}

// Disconnect leaves the server. Done closes once the transport confirms.
func (c *Client) Disconnect() error {
	if !c.connected {
		return ErrNotConnected
	}
	return c.transport.Disconnect(c.server)
}

// Close destroys local representations and closes the transport.
func (c *Client) Close() error {
	destroyAll(c.entities.Clear())
	err := c.transport.Close()
	c.finish(transport.ReasonLocalClose)
	return err
}

// ID returns the id the server assigned, or 0 before the snapshot.
func (c *Client) ID() int32 {
	return c.id
}

// Ready reports whether the handshake has completed.
func (c *Client) Ready() bool {
	return c.ready
}

// SelfEntity returns the id of this client's player entity once it exists.
func (c *Client) SelfEntity() (int32, bool) {
	return c.self, c.hasSelf
}

// Entities returns the local entity table. Only use it on the engine goroutine.
func (c *Client) Entities() *entity.Table {
	return c.entities
}

// Done is closed when the session ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Reason reports why the session ended. Valid after Done is closed.
func (c *Client) Reason() transport.DisconnectReason {
	return c.reason
}

func (c *Client) finish(reason transport.DisconnectReason) {
	c.doneOnce.Do(func() {
		c.reason = reason
		close(c.done)
	})
}

func (c *Client) send(msg protocol.Message) error {
	if !c.connected {
		return ErrNotConnected
	}
	data, err := c.codec.Encode(msg)
	if err != nil {
		return err
	}
	return c.transport.Send(c.server, data, transport.ReliableSequenced)
}

func (c *Client) handleEvent(ev transport.Event) {
	var err error
	switch ev.Kind {
	case transport.EventConnectionRequest:
		err = multierr.Append(fmt.Errorf("%w: client does not accept peers", ErrUnexpectedMessage), ev.Request.Reject())
	case transport.EventConnected:
		c.server = ev.Addr
		c.connected = true
		c.logger.Info("connected", zap.String("addr", ev.Addr), zap.Stringer("conn", ev.ConnID))
	case transport.EventMessage:
		err = c.handleMessage(ev)
	case transport.EventDisconnected:
		c.connected = false
		c.hasSelf = false
		destroyAll(c.entities.Clear())
		c.logger.Info("disconnected", zap.String("addr", ev.Addr), zap.Stringer("reason", ev.Reason))
		c.finish(ev.Reason)
	}
	if err != nil {
		logDropped(c.logger, ev, err)
	}
}

func (c *Client) handleMessage(ev transport.Event) error {
	msg, err := c.codec.Decode(ev.Data)
	if err != nil {
		return err
	}

	switch m := msg.(type) {
	case *protocol.WorldSnapshot:
		return c.handleSnapshot(m)
	case *protocol.EntityCreated, *protocol.EntityMoved, *protocol.ClientDisconnected:
		if !c.ready {
			c.deferred.PushBack(msg)
			return nil
		}
		return c.apply(msg)
	default:
		return fmt.Errorf("%w: %s from server", ErrUnexpectedMessage, protocol.MessageTypeName(msg))
	}
}

func (c *Client) apply(msg protocol.Message) error {
	switch m := msg.(type) {
	case *protocol.EntityCreated:
		return c.track(m.SpawnDescriptor, m.EntityID, m.OwnerID, m.Position, m.Rotation)
	case *protocol.EntityMoved:
		return c.handleEntityMoved(m)
	case *protocol.ClientDisconnected:
		c.handleClientDisconnected(m)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedMessage, protocol.MessageTypeName(msg))
	}
}

// track instantiates an entity the server already committed. The first
// player entity owned by this client becomes its own.
func (c *Client) track(descriptor string, id, owner int32, position protocol.Vec3, rotation protocol.Quat) error {
	if c.entities.Contains(id) {
		return fmt.Errorf("%w: %d", entity.ErrDuplicateEntity, id)
	}
	h, err := c.world.Spawn(descriptor)
	if err != nil {
		return err
	}
	h.SetPose(position, rotation)

	e := &entity.Entity{
		ID:              id,
		OwnerID:         owner,
		SpawnDescriptor: descriptor,
		Position:        position,
		Rotation:        rotation,
		Handle:          h,
	}
	if err := c.entities.Add(e); err != nil {
		h.Destroy()
		return err
	}

	if owner == c.id && descriptor == c.config.PlayerPrefab && !c.hasSelf {
		c.self, c.hasSelf = id, true
		c.logger.Info("player spawned", zap.Int32("entity", id))
	}
	return nil
}

// handleEntityMoved replays a move. Our own entities keep their local yaw.
func (c *Client) handleEntityMoved(m *protocol.EntityMoved) error {
	e, err := c.entities.Get(m.EntityID)
	if err != nil {
		return err
	}
	applyMove(e, m.Movement, m.Yaw, m.Crouching, e.OwnerID != c.id)
	return nil
}

// handleClientDisconnected drops the entities of a departed client. A repeat
// finds nothing left to drop.
func (c *Client) handleClientDisconnected(m *protocol.ClientDisconnected) {
	removed := destroyAll(c.entities.RemoveOwnedBy(m.ClientID))
	if c.hasSelf && !c.entities.Contains(c.self) {
		c.hasSelf = false
	}
	c.logger.Debug("client left", zap.Int32("client", m.ClientID), zap.Int("entities", removed))
}
