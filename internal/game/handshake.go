package game

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/LemmyAI/netsync/internal/protocol"
	"github.com/LemmyAI/netsync/internal/transport"
)

// handleConnected registers a new peer and sends it the world snapshot.
func (s *Server) handleConnected(ev transport.Event) error {
	c, err := s.clients.Register(ev.Addr, ev.ConnID)
	if err != nil {
		return err
	}

	snapshot := &protocol.WorldSnapshot{
		AssignedClientID: c.ID,
		SceneID:          s.world.ActiveScene(),
		Entities:         s.entities.Snapshot(),
	}
	if err := s.broadcaster.SendTo(ev.Addr, snapshot, transport.ReliableOrdered); err != nil {
		// A peer without its snapshot can never join; free the slot.
		s.clients.Remove(c.ID)
		err = fmt.Errorf("snapshot for client %d: %w", c.ID, err)
		return multierr.Append(err, s.transport.Disconnect(ev.Addr))
	}

	s.logger.Info("client connected",
		zap.Int32("client", c.ID),
		zap.String("addr", ev.Addr),
		zap.Stringer("conn", ev.ConnID),
		zap.Int("entities", len(snapshot.Entities)))
	return nil
}

// handleSnapshot adopts the assigned id and loads the scene. Nothing is sent
// or spawned until the load completes.
func (c *Client) handleSnapshot(m *protocol.WorldSnapshot) error {
	if c.id != 0 {
		return fmt.Errorf("%w: second snapshot", ErrUnexpectedMessage)
	}
	c.id = m.AssignedClientID
	c.logger.Info("snapshot received",
		zap.Int32("client", c.id),
		zap.String("scene", m.SceneID),
		zap.Int("entities", len(m.Entities)))

	entities := m.Entities
	c.world.LoadScene(m.SceneID, func(err error) {
		c.Post(func() { c.finishHandshake(entities, err) })
	})
	return nil
}

// finishHandshake runs on the engine once the scene is ready.
func (c *Client) finishHandshake(entities []protocol.SnapshotEntity, loadErr error) {
	if loadErr != nil {
		c.logger.Error("scene load failed", zap.Error(loadErr))
		if err := c.transport.Disconnect(c.server); err != nil {
			c.logger.Warn("disconnect failed", zap.Error(err))
		}
		return
	}
	c.ready = true

	if err := c.send(&protocol.ClientIdentification{DisplayName: c.config.Name}); err != nil {
		c.logger.Warn("identification not sent", zap.Error(err))
	}
	if err := c.send(&protocol.CreateEntityRequest{
		OwnerID:         c.id,
		SpawnDescriptor: c.config.PlayerPrefab,
		Rotation:        protocol.Identity,
	}); err != nil {
		c.logger.Warn("spawn request not sent", zap.Error(err))
	}

	for _, se := range entities {
		if err := c.track(se.SpawnDescriptor, se.ID, se.OwnerID, se.Position, protocol.Identity); err != nil {
			c.logger.Debug("snapshot entity skipped", zap.Int32("entity", se.ID), zap.Error(err))
		}
	}

	// Events that arrived during the load apply on top of the snapshot.
	for c.deferred.Len() > 0 {
		m := c.deferred.PopFront()
		if err := c.apply(m); err != nil {
			c.logger.Debug("dropped", zap.String("message", protocol.MessageTypeName(m)), zap.Error(err))
		}
	}
	c.logger.Info("handshake complete", zap.Int32("client", c.id), zap.Int("entities", c.entities.Len()))
}
