// Package world is the boundary to the engine that renders and simulates
// replicated entities. The replication core only spawns, poses and destroys
// representations through it.
package world

import (
	"errors"

	"github.com/LemmyAI/netsync/internal/protocol"
)

var (
	ErrUnknownDescriptor = errors.New("unknown spawn descriptor")
	ErrUnknownScene      = errors.New("unknown scene")
	ErrDestroyed         = errors.New("representation destroyed")
)

// Handle is the local representation of one entity.
type Handle interface {
	// Networked reports whether the representation can be replicated.
	Networked() bool
	Position() protocol.Vec3
	// Move applies a movement vector and returns the resolved position.
	Move(delta protocol.Vec3) protocol.Vec3
	SetPose(position protocol.Vec3, rotation protocol.Quat)
	SetYaw(degrees float32)
	SetCrouching(crouching bool)
	Destroy()
}

// World spawns representations and loads scenes.
type World interface {
	Spawn(descriptor string) (Handle, error)
	// LoadScene starts loading sceneID and calls done when it finishes.
	// done may run on any goroutine.
	LoadScene(sceneID string, done func(error))
	ActiveScene() string
}
