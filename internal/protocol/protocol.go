// Package protocol encodes and decodes replication messages.
//
// A frame is a varint message tag followed by the message body, laid out as
// protobuf wire fields. Tags map to codecs through a Registry that is
// declared once, so decoding never inspects types at runtime.
package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrUnknownTag   = errors.New("unknown message tag")
	ErrMalformed    = errors.New("malformed message")
	ErrTypeMismatch = errors.New("message does not match codec")
)

// Codec encodes and decodes the body of one message type.
type Codec struct {
	Encode func(b []byte, msg Message) ([]byte, error)
	Decode func(body []byte) (Message, error)
}

// Registry maps message tags to codecs.
type Registry struct {
	codecs map[Tag]Codec
}

type wireMessage interface {
	Message
	appendFields(b []byte) []byte
	unmarshal(b []byte) error
}

func codecOf[M wireMessage](newMsg func() M) Codec {
	return Codec{
		Encode: func(b []byte, msg Message) ([]byte, error) {
			m, ok := msg.(M)
			if !ok {
				return nil, fmt.Errorf("%w: %T", ErrTypeMismatch, msg)
			}
			return m.appendFields(b), nil
		},
		Decode: func(body []byte) (Message, error) {
			m := newMsg()
			if err := m.unmarshal(body); err != nil {
				return nil, err
			}
			return m, nil
		},
	}
}

// NewRegistry returns a registry holding the full message catalogue.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[Tag]Codec)}
	r.Register(TagConnectionRequest, codecOf(func() *ConnectionRequest { return &ConnectionRequest{} }))
	r.Register(TagWorldSnapshot, codecOf(func() *WorldSnapshot { return &WorldSnapshot{} }))
	r.Register(TagClientIdentification, codecOf(func() *ClientIdentification { return &ClientIdentification{} }))
	r.Register(TagCreateEntityRequest, codecOf(func() *CreateEntityRequest { return &CreateEntityRequest{} }))
	r.Register(TagEntityCreated, codecOf(func() *EntityCreated { return &EntityCreated{} }))
	r.Register(TagMoveRequest, codecOf(func() *MoveRequest { return &MoveRequest{} }))
	r.Register(TagEntityMoved, codecOf(func() *EntityMoved { return &EntityMoved{} }))
	r.Register(TagClientDisconnected, codecOf(func() *ClientDisconnected { return &ClientDisconnected{} }))
	return r
}

// Register adds a codec. Registering a tag twice is a programming error.
func (r *Registry) Register(tag Tag, c Codec) {
	if _, dup := r.codecs[tag]; dup {
		panic(fmt.Sprintf("protocol: tag %d registered twice", tag))
	}
	r.codecs[tag] = c
}

// Encode serializes msg into a tagged frame.
func (r *Registry) Encode(msg Message) ([]byte, error) {
	c, ok := r.codecs[msg.Tag()]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, msg.Tag())
	}
	b := protowire.AppendVarint(make([]byte, 0, 64), uint64(msg.Tag()))
	return c.Encode(b, msg)
}

// Decode parses a tagged frame.
func (r *Registry) Decode(data []byte) (Message, error) {
	tag, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return nil, fmt.Errorf("%w: tag: %v", ErrMalformed, protowire.ParseError(n))
	}
	if tag > 0xff {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}
	c, ok := r.codecs[Tag(tag)]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}
	msg, err := c.Decode(data[n:])
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", Tag(tag), err)
	}
	return msg, nil
}

// catalogue is built once and only read afterwards.
var catalogue = NewRegistry()

// Encode serializes a message using the standard catalogue.
func Encode(msg Message) ([]byte, error) {
	return catalogue.Encode(msg)
}

// Decode deserializes a frame using the standard catalogue.
func Decode(data []byte) (Message, error) {
	return catalogue.Decode(data)
}

func (t Tag) String() string {
	switch t {
	case TagConnectionRequest:
		return "ConnectionRequest"
	case TagWorldSnapshot:
		return "WorldSnapshot"
	case TagClientIdentification:
		return "ClientIdentification"
	case TagCreateEntityRequest:
		return "CreateEntityRequest"
	case TagEntityCreated:
		return "EntityCreated"
	case TagMoveRequest:
		return "MoveRequest"
	case TagEntityMoved:
		return "EntityMoved"
	case TagClientDisconnected:
		return "ClientDisconnected"
	default:
		return fmt.Sprintf("Tag(%d)", uint8(t))
	}
}
