package world

import (
	"fmt"
	"maps"
	"sync"

	"github.com/LemmyAI/netsync/internal/protocol"
)

// DefaultCatalog lists the descriptors a headless world can spawn, mapped to
// whether they carry network capability.
var DefaultCatalog = map[string]bool{
	"Player": true,
	"Crate":  false,
}

// Headless is a World without rendering or physics. Movement is applied as
// plain vector addition.
type Headless struct {
	catalog map[string]bool
	scenes  map[string]bool

	mu     sync.Mutex
	active string
	live   int
}

// NewHeadless creates a headless world spawning from catalog. A nil catalog
// uses DefaultCatalog.
func NewHeadless(catalog map[string]bool) *Headless {
	if catalog == nil {
		catalog = DefaultCatalog
	}
	return &Headless{catalog: maps.Clone(catalog)}
}

// RestrictScenes limits LoadScene to the given scene ids.
func (w *Headless) RestrictScenes(sceneIDs ...string) {
	w.scenes = make(map[string]bool, len(sceneIDs))
	for _, id := range sceneIDs {
		w.scenes[id] = true
	}
}

// Spawn creates a representation for descriptor.
func (w *Headless) Spawn(descriptor string) (Handle, error) {
	networked, ok := w.catalog[descriptor]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDescriptor, descriptor)
	}

	w.mu.Lock()
	w.live++
	w.mu.Unlock()

	return &body{
		world:     w,
		networked: networked,
		rotation:  protocol.Identity,
	}, nil
}

// LoadScene switches the active scene on a separate goroutine.
func (w *Headless) LoadScene(sceneID string, done func(error)) {
	go func() {
		if w.scenes != nil && !w.scenes[sceneID] {
			done(fmt.Errorf("%w: %q", ErrUnknownScene, sceneID))
			return
		}
		w.mu.Lock()
		w.active = sceneID
		w.mu.Unlock()
		done(nil)
	}()
}

// ActiveScene returns the last scene loaded.
func (w *Headless) ActiveScene() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// Live returns the number of spawned, not yet destroyed representations.
func (w *Headless) Live() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.live
}

type body struct {
	world     *Headless
	networked bool

	mu        sync.Mutex
	position  protocol.Vec3
	rotation  protocol.Quat
	crouching bool
	destroyed bool
}

func (b *body) Networked() bool { return b.networked }

func (b *body) Position() protocol.Vec3 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position
}

func (b *body) Move(delta protocol.Vec3) protocol.Vec3 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.destroyed {
		b.position = b.position.Add(delta)
	}
	return b.position
}

func (b *body) SetPose(position protocol.Vec3, rotation protocol.Quat) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.position = position
	b.rotation = rotation
}

func (b *body) SetYaw(degrees float32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rotation = protocol.YawRotation(degrees)
}

func (b *body) SetCrouching(crouching bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.crouching = crouching
}

// Destroy releases the representation. Destroying twice does nothing.
func (b *body) Destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	b.mu.Unlock()

	b.world.mu.Lock()
	b.world.live--
	b.world.mu.Unlock()
}
