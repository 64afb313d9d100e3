package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/LemmyAI/netsync/internal/clients"
	"github.com/LemmyAI/netsync/internal/entity"
	"github.com/LemmyAI/netsync/internal/gateway"
	"github.com/LemmyAI/netsync/internal/ids"
	"github.com/LemmyAI/netsync/internal/protocol"
	"github.com/LemmyAI/netsync/internal/transport"
	"github.com/LemmyAI/netsync/internal/world"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	Secret   string
	Capacity int

	AttemptsPerSecond float64
	AttemptBurst      int

	// Scene is loaded before listening and reported in every snapshot.
	Scene    string
	TickRate int

	// ClientIDs and EntityIDs default to random 8-digit sources.
	ClientIDs ids.Source
	EntityIDs ids.Source

	Clock clock.Clock
}

// Server is the authoritative session. Its registries are only touched on
// the engine goroutine.
type Server struct {
	*Engine

	config    ServerConfig
	transport transport.Transport
	world     world.World
	codec     *protocol.Registry
	logger    *zap.Logger

	gateway     *gateway.Gateway
	clients     *clients.Registry
	entities    *entity.Table
	entityIDs   ids.Source
	broadcaster *Broadcaster
}

// NewServer creates a server session on t.
func NewServer(config ServerConfig, t transport.Transport, w world.World, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ClientIDs == nil {
		config.ClientIDs = ids.NewRandom()
	}
	if config.EntityIDs == nil {
		config.EntityIDs = ids.NewRandom()
	}

	s := &Server{
		config:    config,
		transport: t,
		world:     w,
		codec:     protocol.NewRegistry(),
		logger:    logger,
		gateway: gateway.New(gateway.Config{
			Secret:            config.Secret,
			Capacity:          config.Capacity,
			AttemptsPerSecond: config.AttemptsPerSecond,
			AttemptBurst:      config.AttemptBurst,
			Clock:             config.Clock,
		}),
		clients:   clients.NewRegistry(config.ClientIDs, config.Clock),
		entities:  entity.NewTable(),
		entityIDs: config.EntityIDs,
	}
	s.Engine = newEngine(t, s.handleEvent, config.TickRate, config.Clock, logger)
	s.broadcaster = NewBroadcaster(t, s.codec, s.clients.Endpoints, logger)
	return s
}

// Listen loads the configured scene, then starts accepting peers on addr.
func (s *Server) Listen(ctx context.Context, addr string) error {
	loaded := make(chan error, 1)
	s.world.LoadScene(s.config.Scene, func(err error) { loaded <- err })

	select {
	case err := <-loaded:
		if err != nil {
			return fmt.Errorf("load scene %q: %w", s.config.Scene, err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := s.transport.Listen(addr); err != nil {
		return err
	}
	s.logger.Info("server listening",
		zap.String("addr", s.transport.LocalAddr()),
		zap.String("scene", s.world.ActiveScene()),
		zap.Int("capacity", s.gateway.Capacity()))
	return nil
}

// Close destroys every representation and closes the transport.
func (s *Server) Close() error {
	destroyAll(s.entities.Clear())
	return s.transport.Close()
}

// Clients returns the client registry. Only use it on the engine goroutine.
func (s *Server) Clients() *clients.Registry {
	return s.clients
}

// Entities returns the replication table. Only use it on the engine goroutine.
func (s *Server) Entities() *entity.Table {
	return s.entities
}

func (s *Server) handleEvent(ev transport.Event) {
	var err error
	switch ev.Kind {
	case transport.EventConnectionRequest:
		err = s.handleConnectionRequest(ev.Request)
	case transport.EventConnected:
		err = s.handleConnected(ev)
	case transport.EventMessage:
		err = s.handleMessage(ev)
	case transport.EventDisconnected:
		err = s.handleDisconnected(ev)
	}
	if err != nil {
		logDropped(s.logger, ev, err)
	}
}

func (s *Server) handleConnectionRequest(req *transport.ConnectionRequest) error {
	key, err := s.connectionKey(req.Payload)
	if err == nil {
		err = s.gateway.Admit(req.Addr, key, s.transport.PeerCount())
	}
	if err != nil {
		return multierr.Append(err, req.Reject())
	}
	return req.Accept()
}

func (s *Server) connectionKey(payload []byte) (string, error) {
	msg, err := s.codec.Decode(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %w", gateway.ErrBadKey, err)
	}
	req, ok := msg.(*protocol.ConnectionRequest)
	if !ok {
		return "", fmt.Errorf("%w: connect payload is %s", gateway.ErrBadKey, protocol.MessageTypeName(msg))
	}
	return req.Key, nil
}

func (s *Server) handleMessage(ev transport.Event) error {
	sender, err := s.clients.Lookup(ev.Addr)
	if err != nil {
		return err
	}
	msg, err := s.codec.Decode(ev.Data)
	if err != nil {
		return err
	}

	switch m := msg.(type) {
	case *protocol.ClientIdentification:
		return s.handleIdentification(ev.Addr, sender, m)
	case *protocol.CreateEntityRequest:
		return s.handleCreateEntity(sender, m)
	case *protocol.MoveRequest:
		return s.handleMove(sender, m)
	default:
		return fmt.Errorf("%w: %s from client %d", ErrUnexpectedMessage, protocol.MessageTypeName(msg), sender)
	}
}

// logDropped records a handler error. Rejections are part of the protocol
// and never answered, so they only show at debug level.
func logDropped(logger *zap.Logger, ev transport.Event, err error) {
	fields := []zap.Field{zap.String("addr", ev.Addr), zap.Error(err)}
	if ev.ConnID != uuid.Nil {
		fields = append(fields, zap.Stringer("conn", ev.ConnID))
	}

	switch {
	case errors.Is(err, gateway.ErrAdmissionRejected),
		errors.Is(err, ErrOwnershipViolation),
		errors.Is(err, ErrNotNetworked),
		errors.Is(err, entity.ErrUnknownEntity),
		errors.Is(err, entity.ErrDuplicateEntity),
		errors.Is(err, clients.ErrUnknownPeer),
		errors.Is(err, world.ErrUnknownDescriptor):
		logger.Debug("dropped", fields...)
	default:
		logger.Warn("event failed", fields...)
	}
}
