package game

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/LemmyAI/netsync/internal/entity"
	"github.com/LemmyAI/netsync/internal/protocol"
	"github.com/LemmyAI/netsync/internal/transport"
)

func (s *Server) handleIdentification(addr string, sender int32, m *protocol.ClientIdentification) error {
	if err := s.clients.SetName(addr, m.DisplayName); err != nil {
		return err
	}
	s.logger.Info("client identified", zap.Int32("client", sender), zap.String("name", m.DisplayName))
	return nil
}

// handleCreateEntity spawns the requested representation and commits it only
// if it is networked and the sender claims itself as owner. A rejected
// representation is destroyed again.
func (s *Server) handleCreateEntity(sender int32, req *protocol.CreateEntityRequest) error {
	h, err := s.world.Spawn(req.SpawnDescriptor)
	if err != nil {
		return fmt.Errorf("create entity for client %d: %w", sender, err)
	}
	if !h.Networked() {
		h.Destroy()
		return fmt.Errorf("%w: %q", ErrNotNetworked, req.SpawnDescriptor)
	}
	if req.OwnerID != sender {
		h.Destroy()
		return fmt.Errorf("%w: client %d claimed owner %d", ErrOwnershipViolation, sender, req.OwnerID)
	}
	h.SetPose(req.Position, req.Rotation)

	e := &entity.Entity{
		ID:              s.entityIDs.Next(s.entities.Contains),
		OwnerID:         sender,
		SpawnDescriptor: req.SpawnDescriptor,
		Position:        req.Position,
		Rotation:        req.Rotation,
		Handle:          h,
	}
	if err := s.entities.Add(e); err != nil {
		h.Destroy()
		return err
	}

	s.logger.Debug("entity created",
		zap.Int32("entity", e.ID),
		zap.Int32("owner", e.OwnerID),
		zap.String("descriptor", e.SpawnDescriptor))

	s.broadcaster.Broadcast(&protocol.EntityCreated{
		SpawnDescriptor: e.SpawnDescriptor,
		OwnerID:         e.OwnerID,
		EntityID:        e.ID,
		Position:        e.Position,
		Rotation:        e.Rotation,
	}, transport.ReliableSequenced)
	return nil
}

// handleMove applies a move to an entity the sender owns and relays it
// unchanged to every client.
func (s *Server) handleMove(sender int32, req *protocol.MoveRequest) error {
	e, err := s.entities.Get(req.EntityID)
	if err != nil {
		return err
	}
	if e.OwnerID != sender {
		return fmt.Errorf("%w: client %d moved entity %d owned by %d", ErrOwnershipViolation, sender, e.ID, e.OwnerID)
	}

	applyMove(e, req.Movement, req.Yaw, req.Crouching, true)

	s.broadcaster.Broadcast(&protocol.EntityMoved{
		EntityID:  req.EntityID,
		Movement:  req.Movement,
		Yaw:       req.Yaw,
		Crouching: req.Crouching,
	}, transport.ReliableSequenced)
	return nil
}

// applyMove updates the record and its representation. The resolved position
// comes from the representation when there is one.
func applyMove(e *entity.Entity, movement protocol.Vec3, yaw float32, crouching, turn bool) {
	if e.Handle != nil {
		e.Position = e.Handle.Move(movement)
		if turn {
			e.Handle.SetYaw(yaw)
		}
		e.Handle.SetCrouching(crouching)
	} else {
		e.Position = e.Position.Add(movement)
	}
	if turn {
		e.Rotation = protocol.YawRotation(yaw)
	}
	e.Crouching = crouching
}
