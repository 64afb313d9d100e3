package protocol

// Tag identifies a message type on the wire.
type Tag uint8

const (
	TagConnectionRequest Tag = iota + 1
	TagWorldSnapshot
	TagClientIdentification
	TagCreateEntityRequest
	TagEntityCreated
	TagMoveRequest
	TagEntityMoved
	TagClientDisconnected
)

// Message is any value in the message catalogue.
type Message interface {
	Tag() Tag
}

// ConnectionRequest is the payload of a transport-level connect attempt.
type ConnectionRequest struct {
	Key string
}

// SnapshotEntity is one row of a WorldSnapshot.
type SnapshotEntity struct {
	SpawnDescriptor string
	ID              int32
	OwnerID         int32
	Position        Vec3
}

// WorldSnapshot is sent to a newly connected client only.
type WorldSnapshot struct {
	AssignedClientID int32
	SceneID          string
	Entities         []SnapshotEntity
}

// ClientIdentification announces a client's display name.
type ClientIdentification struct {
	DisplayName string
}

// CreateEntityRequest asks the server to spawn an entity owned by OwnerID.
type CreateEntityRequest struct {
	OwnerID         int32
	SpawnDescriptor string
	Position        Vec3
	Rotation        Quat
}

// EntityCreated announces a committed entity to every peer.
type EntityCreated struct {
	SpawnDescriptor string
	OwnerID         int32
	EntityID        int32
	Position        Vec3
	Rotation        Quat
}

// MoveRequest asks the server to move an entity the sender owns.
type MoveRequest struct {
	EntityID  int32
	Movement  Vec3
	Yaw       float32
	Crouching bool
}

// EntityMoved relays an accepted MoveRequest to every peer.
type EntityMoved struct {
	EntityID  int32
	Movement  Vec3
	Yaw       float32
	Crouching bool
}

// ClientDisconnected tells remaining peers that a client left.
type ClientDisconnected struct {
	ClientID int32
}

func (*ConnectionRequest) Tag() Tag    { return TagConnectionRequest }
func (*WorldSnapshot) Tag() Tag        { return TagWorldSnapshot }
func (*ClientIdentification) Tag() Tag { return TagClientIdentification }
func (*CreateEntityRequest) Tag() Tag  { return TagCreateEntityRequest }
func (*EntityCreated) Tag() Tag        { return TagEntityCreated }
func (*MoveRequest) Tag() Tag          { return TagMoveRequest }
func (*EntityMoved) Tag() Tag          { return TagEntityMoved }
func (*ClientDisconnected) Tag() Tag   { return TagClientDisconnected }

// MessageTypeName returns a human-readable name for the message type.
func MessageTypeName(msg Message) string {
	if msg == nil {
		return "Unknown"
	}
	return msg.Tag().String()
}
