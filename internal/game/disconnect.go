package game

import (
	"go.uber.org/zap"

	"github.com/LemmyAI/netsync/internal/entity"
	"github.com/LemmyAI/netsync/internal/protocol"
	"github.com/LemmyAI/netsync/internal/transport"
)

// handleDisconnected removes everything the lost client owned and tells the
// remaining clients.
func (s *Server) handleDisconnected(ev transport.Event) error {
	id, err := s.clients.Lookup(ev.Addr)
	if err != nil {
		return err
	}

	removed := destroyAll(s.entities.RemoveOwnedBy(id))
	s.clients.Remove(id)

	s.logger.Info("client disconnected",
		zap.Int32("client", id),
		zap.Stringer("reason", ev.Reason),
		zap.Int("entities", removed))

	s.broadcaster.Broadcast(&protocol.ClientDisconnected{ClientID: id}, transport.ReliableSequenced)
	return nil
}

func destroyAll(entities []*entity.Entity) int {
	for _, e := range entities {
		if e.Handle != nil {
			e.Handle.Destroy()
		}
	}
	return len(entities)
}
