package game

import (
	"context"
	"testing"

	"github.com/LemmyAI/netsync/internal/entity"
	"github.com/LemmyAI/netsync/internal/protocol"
	"github.com/LemmyAI/netsync/internal/transport"
	"github.com/LemmyAI/netsync/internal/world"
)

// Scenarios A through D across real sessions on an in-memory network.
func TestSessionsOverMemoryNetwork(t *testing.T) {
	network := transport.NewMemoryNetwork()

	serverWorld := world.NewHeadless(nil)
	server := NewServer(testServerConfig(), network.NewTransport("server"), serverWorld, nil)
	if err := server.Listen(context.Background(), "server"); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer server.Close()

	w1, w2 := world.NewHeadless(nil), world.NewHeadless(nil)
	c1 := NewClient(testClientConfig(), network.NewTransport("c1"), w1, nil)
	c2 := NewClient(ClientConfig{Secret: testSecret, Name: "Bob", PlayerPrefab: "Player"}, network.NewTransport("c2"), w2, nil)
	defer c2.Close()

	if err := c1.Connect("server"); err != nil {
		t.Fatalf("c1 Connect failed: %v", err)
	}
	pump(t, func() bool { _, ok := c1.SelfEntity(); return ok }, server.Engine, c1.Engine)

	if err := c2.Connect("server"); err != nil {
		t.Fatalf("c2 Connect failed: %v", err)
	}
	engines := []*Engine{server.Engine, c1.Engine, c2.Engine}
	pump(t, func() bool {
		_, ok := c2.SelfEntity()
		return ok && c1.Entities().Len() == 2
	}, engines...)

	if c1.ID() != 42 || c2.ID() != 43 {
		t.Fatalf("unexpected ids %d, %d", c1.ID(), c2.ID())
	}
	x, _ := c1.SelfEntity()
	if c2.Entities().Len() != 2 || !c2.Entities().Contains(x) {
		t.Fatalf("c2 did not receive c1's entity in its snapshot")
	}
	c42, _ := server.Clients().Get(42)
	if c42.Name != "Alice" {
		t.Errorf("expected name Alice, got %q", c42.Name)
	}

	// c1 moves its own entity; both clients follow.
	if err := c1.Move(protocol.Vec3{X: 1}, 0, true); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	pump(t, func() bool {
		e1, _ := c1.Entities().Get(x)
		e2, _ := c2.Entities().Get(x)
		return e1.Position.X == 1 && e2.Position.X == 1 && e2.Crouching
	}, engines...)

	// c2 cannot move it.
	if err := c2.send(&protocol.MoveRequest{EntityID: x, Movement: protocol.Vec3{X: 10}}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		for _, e := range engines {
			e.Poll()
		}
	}
	if e, _ := server.Entities().Get(x); e.Position.X != 1 {
		t.Errorf("foreign move applied, position %+v", e.Position)
	}

	// c1 leaves; its entity disappears everywhere.
	if err := c1.Close(); err != nil {
		t.Fatalf("c1 Close failed: %v", err)
	}
	pump(t, func() bool {
		return !server.Entities().Contains(x) && !c2.Entities().Contains(x)
	}, server.Engine, c2.Engine)

	if server.Clients().Count() != 1 {
		t.Errorf("expected 1 client left, got %d", server.Clients().Count())
	}
	if serverWorld.Live() != 1 || w1.Live() != 0 || w2.Live() != 1 {
		t.Errorf("live representations: server %d, c1 %d, c2 %d", serverWorld.Live(), w1.Live(), w2.Live())
	}
}

func TestSessionRejectsWrongSecret(t *testing.T) {
	network := transport.NewMemoryNetwork()
	server := NewServer(testServerConfig(), network.NewTransport("server"), newSyncWorld(), nil)
	if err := server.Listen(context.Background(), "server"); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	c := NewClient(ClientConfig{Secret: "guess", Name: "Eve", PlayerPrefab: "Player"}, network.NewTransport("eve"), newSyncWorld(), nil)
	if err := c.Connect("server"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	pump(t, func() bool {
		select {
		case <-c.Done():
			return true
		default:
			return false
		}
	}, server.Engine, c.Engine)

	if c.Reason() != transport.ReasonRejected {
		t.Errorf("expected rejected, got %s", c.Reason())
	}
	if server.Clients().Count() != 0 {
		t.Errorf("rejected client registered")
	}
}

func TestSessionsOverUDP(t *testing.T) {
	cfg := transport.DefaultConfig()
	serverTransport := transport.NewUDPTransport(cfg, nil)
	server := NewServer(testServerConfig(), serverTransport, newSyncWorld(), nil)
	if err := server.Listen(context.Background(), "127.0.0.1:0"); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer server.Close()

	client := NewClient(testClientConfig(), transport.NewUDPTransport(cfg, nil), newSyncWorld(), nil)
	defer client.Close()
	if err := client.Connect(serverTransport.LocalAddr()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	pump(t, func() bool {
		_, ok := client.SelfEntity()
		return ok
	}, server.Engine, client.Engine)

	self, _ := client.SelfEntity()
	if err := client.Move(protocol.Vec3{Z: 2}, 30, false); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	pump(t, func() bool {
		e, err := client.Entities().Get(self)
		return err == nil && e.Position.Z == 2
	}, server.Engine, client.Engine)
}

func TestLargeSnapshotOverUDP(t *testing.T) {
	cfg := transport.DefaultConfig()
	serverTransport := transport.NewUDPTransport(cfg, nil)
	server := NewServer(testServerConfig(), serverTransport, newSyncWorld(), nil)
	if err := server.Listen(context.Background(), "127.0.0.1:0"); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer server.Close()

	const existing = 120
	for i := range int32(existing) {
		err := server.Entities().Add(&entity.Entity{
			ID:              500 + i,
			OwnerID:         7,
			SpawnDescriptor: "Player",
			Position:        protocol.Vec3{X: float32(i), Z: -float32(i)},
			Rotation:        protocol.Identity,
		})
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	client := NewClient(testClientConfig(), transport.NewUDPTransport(cfg, nil), newSyncWorld(), nil)
	defer client.Close()
	if err := client.Connect(serverTransport.LocalAddr()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	pump(t, func() bool {
		_, ok := client.SelfEntity()
		return ok && client.Entities().Len() == existing+1
	}, server.Engine, client.Engine)

	e, err := client.Entities().Get(500 + existing - 1)
	if err != nil {
		t.Fatalf("last snapshot entity missing: %v", err)
	}
	if e.Position.X != existing-1 || e.OwnerID != 7 {
		t.Errorf("unexpected entity %+v", e)
	}
	if client.ID() != 42 {
		t.Errorf("expected id 42, got %d", client.ID())
	}
}
