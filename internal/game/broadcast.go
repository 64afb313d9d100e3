package game

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/LemmyAI/netsync/internal/protocol"
	"github.com/LemmyAI/netsync/internal/transport"
)

// Broadcaster fans events out to every registered client.
type Broadcaster struct {
	transport  transport.Transport
	codec      *protocol.Registry
	recipients func() []string
	logger     *zap.Logger
}

// NewBroadcaster creates a broadcaster sending to the endpoints returned by
// recipients at the time of each call.
func NewBroadcaster(t transport.Transport, codec *protocol.Registry, recipients func() []string, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		transport:  t,
		codec:      codec,
		recipients: recipients,
		logger:     logger,
	}
}

// Broadcast encodes msg once and sends it to every recipient. A failed send
// does not stop the fan-out. Failures are logged, never returned: a peer
// that cannot be reached is reaped through its own disconnect event.
func (b *Broadcaster) Broadcast(msg protocol.Message, method transport.DeliveryMethod) {
	data, err := b.codec.Encode(msg)
	if err != nil {
		b.logger.Error("broadcast encode failed",
			zap.String("message", protocol.MessageTypeName(msg)),
			zap.Error(err))
		return
	}

	var errs error
	for _, addr := range b.recipients() {
		errs = multierr.Append(errs, b.transport.Send(addr, data, method))
	}
	if errs != nil {
		b.logger.Warn("broadcast incomplete",
			zap.String("message", protocol.MessageTypeName(msg)),
			zap.Errors("errors", multierr.Errors(errs)))
	}
}

// SendTo sends msg to one peer.
func (b *Broadcaster) SendTo(addr string, msg protocol.Message, method transport.DeliveryMethod) error {
	data, err := b.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", protocol.MessageTypeName(msg), err)
	}
	if err := b.transport.Send(addr, data, method); err != nil {
		return fmt.Errorf("send %s to %s: %w", protocol.MessageTypeName(msg), addr, err)
	}
	return nil
}
