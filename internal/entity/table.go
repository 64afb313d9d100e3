// Package entity holds the replication table of live networked entities.
package entity

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/LemmyAI/netsync/internal/protocol"
	"github.com/LemmyAI/netsync/internal/world"
)

var (
	ErrUnknownEntity   = errors.New("unknown entity")
	ErrDuplicateEntity = errors.New("duplicate entity id")
)

// Entity is one replicated entity and its last authoritative transform.
type Entity struct {
	ID              int32
	OwnerID         int32
	SpawnDescriptor string
	Position        protocol.Vec3
	Rotation        protocol.Quat
	Crouching       bool

	// Handle is the local representation; nil when none was spawned.
	Handle world.Handle
}

// Table indexes entities by id and by owner.
//
// Table is not safe for concurrent use.
type Table struct {
	byID    map[int32]*Entity
	byOwner map[int32]map[int32]struct{}
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		byID:    make(map[int32]*Entity),
		byOwner: make(map[int32]map[int32]struct{}),
	}
}

// Add inserts e.
func (t *Table) Add(e *Entity) error {
	if _, exists := t.byID[e.ID]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateEntity, e.ID)
	}
	t.byID[e.ID] = e

	owned, ok := t.byOwner[e.OwnerID]
	if !ok {
		owned = make(map[int32]struct{})
		t.byOwner[e.OwnerID] = owned
	}
	owned[e.ID] = struct{}{}
	return nil
}

// Get returns the entity with id.
func (t *Table) Get(id int32) (*Entity, error) {
	e, ok := t.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	return e, nil
}

// Contains reports whether id is live.
func (t *Table) Contains(id int32) bool {
	_, ok := t.byID[id]
	return ok
}

// Remove deletes and returns the entity with id.
func (t *Table) Remove(id int32) (*Entity, bool) {
	e, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	delete(t.byID, id)

	if owned := t.byOwner[e.OwnerID]; owned != nil {
		delete(owned, id)
		if len(owned) == 0 {
			delete(t.byOwner, e.OwnerID)
		}
	}
	return e, true
}

// RemoveOwnedBy deletes every entity owned by ownerID and returns them
// ordered by id.
func (t *Table) RemoveOwnedBy(ownerID int32) []*Entity {
	owned := t.byOwner[ownerID]
	if len(owned) == 0 {
		return nil
	}

	removed := make([]*Entity, 0, len(owned))
	for _, id := range slices.Sorted(maps.Keys(owned)) {
		if e, ok := t.Remove(id); ok {
			removed = append(removed, e)
		}
	}
	return removed
}

// Clear deletes every entity and returns them ordered by id.
func (t *Table) Clear() []*Entity {
	all := t.All()
	clear(t.byID)
	clear(t.byOwner)
	return all
}

// OwnedBy returns the entities owned by ownerID ordered by id.
func (t *Table) OwnedBy(ownerID int32) []*Entity {
	owned := t.byOwner[ownerID]
	out := make([]*Entity, 0, len(owned))
	for _, id := range slices.Sorted(maps.Keys(owned)) {
		out = append(out, t.byID[id])
	}
	return out
}

// All returns every entity ordered by id.
func (t *Table) All() []*Entity {
	out := make([]*Entity, 0, len(t.byID))
	for _, e := range t.byID {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *Entity) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Len returns the number of live entities.
func (t *Table) Len() int {
	return len(t.byID)
}

// Snapshot returns every row in wire form, ordered by id.
func (t *Table) Snapshot() []protocol.SnapshotEntity {
	all := t.All()
	out := make([]protocol.SnapshotEntity, len(all))
	for i, e := range all {
		out[i] = protocol.SnapshotEntity{
			SpawnDescriptor: e.SpawnDescriptor,
			ID:              e.ID,
			OwnerID:         e.OwnerID,
			Position:        e.Position,
		}
	}
	return out
}
