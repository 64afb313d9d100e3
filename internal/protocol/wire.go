package protocol

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// errNested is returned by field readers when a length-delimited
// sub-message fails to parse.
const errNested = -100

// fieldReader consumes the value of one field and returns the number of
// bytes used, 0 to skip the field, or a negative protowire error code.
type fieldReader func(num protowire.Number, typ protowire.Type, b []byte) int

func consumeFields(b []byte, read fieldReader) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		n = read(num, typ, b)
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		switch {
		case n == errNested:
			return fmt.Errorf("%w: field %d: bad sub-message", ErrMalformed, num)
		case n < 0:
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}

func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVec3(b []byte, num protowire.Number, v Vec3) []byte {
	var sub []byte
	sub = appendFloat(sub, 1, v.X)
	sub = appendFloat(sub, 2, v.Y)
	sub = appendFloat(sub, 3, v.Z)
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, sub)
}

func appendQuat(b []byte, num protowire.Number, q Quat) []byte {
	var sub []byte
	sub = appendFloat(sub, 1, q.X)
	sub = appendFloat(sub, 2, q.Y)
	sub = appendFloat(sub, 3, q.Z)
	sub = appendFloat(sub, 4, q.W)
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, sub)
}

func readInt32(typ protowire.Type, b []byte, dst *int32) int {
	if typ != protowire.VarintType {
		return 0
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = int32(v)
	}
	return n
}

func readBool(typ protowire.Type, b []byte, dst *bool) int {
	if typ != protowire.VarintType {
		return 0
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = protowire.DecodeBool(v)
	}
	return n
}

func readFloat(typ protowire.Type, b []byte, dst *float32) int {
	if typ != protowire.Fixed32Type {
		return 0
	}
	v, n := protowire.ConsumeFixed32(b)
	if n >= 0 {
		*dst = math.Float32frombits(v)
	}
	return n
}

func readString(typ protowire.Type, b []byte, dst *string) int {
	if typ != protowire.BytesType {
		return 0
	}
	v, n := protowire.ConsumeString(b)
	if n >= 0 {
		*dst = v
	}
	return n
}

// readSub consumes a length-delimited field and hands its contents to parse.
func readSub(typ protowire.Type, b []byte, parse func([]byte) error) int {
	if typ != protowire.BytesType {
		return 0
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n
	}
	if err := parse(v); err != nil {
		return errNested
	}
	return n
}

func readVec3(typ protowire.Type, b []byte, dst *Vec3) int {
	return readSub(typ, b, func(sub []byte) error {
		return consumeFields(sub, func(num protowire.Number, typ protowire.Type, b []byte) int {
			switch num {
			case 1:
				return readFloat(typ, b, &dst.X)
			case 2:
				return readFloat(typ, b, &dst.Y)
			case 3:
				return readFloat(typ, b, &dst.Z)
			}
			return 0
		})
	})
}

func readQuat(typ protowire.Type, b []byte, dst *Quat) int {
	return readSub(typ, b, func(sub []byte) error {
		return consumeFields(sub, func(num protowire.Number, typ protowire.Type, b []byte) int {
			switch num {
			case 1:
				return readFloat(typ, b, &dst.X)
			case 2:
				return readFloat(typ, b, &dst.Y)
			case 3:
				return readFloat(typ, b, &dst.Z)
			case 4:
				return readFloat(typ, b, &dst.W)
			}
			return 0
		})
	})
}

// --- per-message field layouts ---

func (m *ConnectionRequest) appendFields(b []byte) []byte {
	return appendString(b, 1, m.Key)
}

func (m *ConnectionRequest) unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 {
			return readString(typ, b, &m.Key)
		}
		return 0
	})
}

func (e *SnapshotEntity) appendFields(b []byte) []byte {
	b = appendString(b, 1, e.SpawnDescriptor)
	b = appendInt32(b, 2, e.ID)
	b = appendInt32(b, 3, e.OwnerID)
	return appendVec3(b, 4, e.Position)
}

func (e *SnapshotEntity) unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return readString(typ, b, &e.SpawnDescriptor)
		case 2:
			return readInt32(typ, b, &e.ID)
		case 3:
			return readInt32(typ, b, &e.OwnerID)
		case 4:
			return readVec3(typ, b, &e.Position)
		}
		return 0
	})
}

func (m *WorldSnapshot) appendFields(b []byte) []byte {
	b = appendInt32(b, 1, m.AssignedClientID)
	b = appendString(b, 2, m.SceneID)
	for i := range m.Entities {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Entities[i].appendFields(nil))
	}
	return b
}

func (m *WorldSnapshot) unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return readInt32(typ, b, &m.AssignedClientID)
		case 2:
			return readString(typ, b, &m.SceneID)
		case 3:
			return readSub(typ, b, func(sub []byte) error {
				var e SnapshotEntity
				if err := e.unmarshal(sub); err != nil {
					return err
				}
				m.Entities = append(m.Entities, e)
				return nil
			})
		}
		return 0
	})
}

func (m *ClientIdentification) appendFields(b []byte) []byte {
	return appendString(b, 1, m.DisplayName)
}

func (m *ClientIdentification) unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 {
			return readString(typ, b, &m.DisplayName)
		}
		return 0
	})
}

func (m *CreateEntityRequest) appendFields(b []byte) []byte {
	b = appendInt32(b, 1, m.OwnerID)
	b = appendString(b, 2, m.SpawnDescriptor)
	b = appendVec3(b, 3, m.Position)
	return appendQuat(b, 4, m.Rotation)
}

func (m *CreateEntityRequest) unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return readInt32(typ, b, &m.OwnerID)
		case 2:
			return readString(typ, b, &m.SpawnDescriptor)
		case 3:
			return readVec3(typ, b, &m.Position)
		case 4:
			return readQuat(typ, b, &m.Rotation)
		}
		return 0
	})
}

func (m *EntityCreated) appendFields(b []byte) []byte {
	b = appendString(b, 1, m.SpawnDescriptor)
	b = appendInt32(b, 2, m.OwnerID)
	b = appendInt32(b, 3, m.EntityID)
	b = appendVec3(b, 4, m.Position)
	return appendQuat(b, 5, m.Rotation)
}

func (m *EntityCreated) unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return readString(typ, b, &m.SpawnDescriptor)
		case 2:
			return readInt32(typ, b, &m.OwnerID)
		case 3:
			return readInt32(typ, b, &m.EntityID)
		case 4:
			return readVec3(typ, b, &m.Position)
		case 5:
			return readQuat(typ, b, &m.Rotation)
		}
		return 0
	})
}

func appendMove(b []byte, id int32, movement Vec3, yaw float32, crouching bool) []byte {
	b = appendInt32(b, 1, id)
	b = appendVec3(b, 2, movement)
	b = appendFloat(b, 3, yaw)
	return appendBool(b, 4, crouching)
}

func consumeMove(b []byte, id *int32, movement *Vec3, yaw *float32, crouching *bool) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return readInt32(typ, b, id)
		case 2:
			return readVec3(typ, b, movement)
		case 3:
			return readFloat(typ, b, yaw)
		case 4:
			return readBool(typ, b, crouching)
		}
		return 0
	})
}

func (m *MoveRequest) appendFields(b []byte) []byte {
	return appendMove(b, m.EntityID, m.Movement, m.Yaw, m.Crouching)
}

func (m *MoveRequest) unmarshal(b []byte) error {
	return consumeMove(b, &m.EntityID, &m.Movement, &m.Yaw, &m.Crouching)
}

func (m *EntityMoved) appendFields(b []byte) []byte {
	return appendMove(b, m.EntityID, m.Movement, m.Yaw, m.Crouching)
}

func (m *EntityMoved) unmarshal(b []byte) error {
	return consumeMove(b, &m.EntityID, &m.Movement, &m.Yaw, &m.Crouching)
}

func (m *ClientDisconnected) appendFields(b []byte) []byte {
	return appendInt32(b, 1, m.ClientID)
}

func (m *ClientDisconnected) unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 {
			return readInt32(typ, b, &m.ClientID)
		}
		return 0
	})
}
