package game

import (
	"errors"
	"testing"

	"github.com/LemmyAI/netsync/internal/protocol"
	"github.com/LemmyAI/netsync/internal/transport"
	"github.com/LemmyAI/netsync/internal/world"
)

const serverAddr = "192.168.0.10:4040"

func testClientConfig() ClientConfig {
	return ClientConfig{Secret: testSecret, Name: "Alice", PlayerPrefab: "Player"}
}

func newTestClient(t *testing.T, w world.World) (*Client, *transport.MockTransport) {
	t.Helper()
	mock := transport.NewMockTransport()
	c := NewClient(testClientConfig(), mock, w, nil)
	if err := c.Connect(serverAddr); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	mock.SimulateConnect(serverAddr)
	return c, mock
}

func deliver(t *testing.T, mock *transport.MockTransport, msg protocol.Message) {
	t.Helper()
	method := transport.ReliableSequenced
	if _, ok := msg.(*protocol.WorldSnapshot); ok {
		method = transport.ReliableOrdered
	}
	mock.SimulateMessage(serverAddr, encode(t, msg), method)
}

func TestClientConnectCarriesKey(t *testing.T) {
	_, mock := newTestClient(t, newSyncWorld())

	attempts := mock.ConnectAttempts()
	if len(attempts) != 1 || attempts[0].Addr != serverAddr {
		t.Fatalf("unexpected connect attempts %+v", attempts)
	}
	msg, err := protocol.Decode(attempts[0].Data)
	if err != nil {
		t.Fatalf("decode connect payload: %v", err)
	}
	if req, ok := msg.(*protocol.ConnectionRequest); !ok || req.Key != testSecret {
		t.Errorf("expected key %q, got %+v", testSecret, msg)
	}
}

func TestClientHandshake(t *testing.T) {
	w := newSyncWorld()
	c, mock := newTestClient(t, w)

	deliver(t, mock, &protocol.WorldSnapshot{
		AssignedClientID: 42,
		SceneID:          "Main",
		Entities: []protocol.SnapshotEntity{
			{SpawnDescriptor: "Player", ID: 7, OwnerID: 43, Position: protocol.Vec3{X: 2}},
		},
	})
	c.Poll()

	if c.ID() != 42 || !c.Ready() {
		t.Fatalf("expected ready client 42, got id %d ready %v", c.ID(), c.Ready())
	}
	if w.ActiveScene() != "Main" {
		t.Errorf("scene not loaded: %q", w.ActiveScene())
	}

	msgs := sentTo(t, mock, serverAddr)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	ident, ok := msgs[0].msg.(*protocol.ClientIdentification)
	if !ok || ident.DisplayName != "Alice" {
		t.Errorf("expected identification first, got %+v", msgs[0].msg)
	}
	create, ok := msgs[1].msg.(*protocol.CreateEntityRequest)
	want := protocol.CreateEntityRequest{OwnerID: 42, SpawnDescriptor: "Player", Rotation: protocol.Identity}
	if !ok || *create != want {
		t.Errorf("expected %+v, got %+v", want, msgs[1].msg)
	}
	for _, m := range msgs {
		if m.method != transport.ReliableSequenced {
			t.Errorf("%s sent %s", protocol.MessageTypeName(m.msg), m.method)
		}
	}

	e, err := c.Entities().Get(7)
	if err != nil {
		t.Fatalf("snapshot entity not instantiated: %v", err)
	}
	if e.OwnerID != 43 || e.Handle.Position() != (protocol.Vec3{X: 2}) {
		t.Errorf("unexpected entity %+v", e)
	}
}

func TestClientWaitsForSceneLoad(t *testing.T) {
	w := &manualWorld{Headless: world.NewHeadless(nil)}
	c, mock := newTestClient(t, w)

	deliver(t, mock, &protocol.WorldSnapshot{
		AssignedClientID: 42,
		SceneID:          "Main",
		Entities: []protocol.SnapshotEntity{
			{SpawnDescriptor: "Player", ID: 7, OwnerID: 43},
			{SpawnDescriptor: "Player", ID: 8, OwnerID: 44},
		},
	})
	deliver(t, mock, &protocol.EntityCreated{SpawnDescriptor: "Player", OwnerID: 45, EntityID: 9, Rotation: protocol.Identity})
	deliver(t, mock, &protocol.ClientDisconnected{ClientID: 44})
	c.Poll()

	if len(mock.SentMessages()) != 0 {
		t.Fatalf("sent %d messages before the scene loaded", len(mock.SentMessages()))
	}
	if c.Entities().Len() != 0 || w.Live() != 0 {
		t.Fatalf("instantiated entities before the scene loaded")
	}
	if w.pending == nil {
		t.Fatal("scene load never started")
	}

	w.pending(nil)
	c.Poll()

	if len(sentTo(t, mock, serverAddr)) != 2 {
		t.Errorf("expected identification and spawn request after load")
	}
	if !c.Entities().Contains(7) || !c.Entities().Contains(9) {
		t.Errorf("expected entities 7 and 9, got %+v", c.Entities().All())
	}
	if c.Entities().Contains(8) {
		t.Error("entity of departed client 44 survived the load")
	}
	if w.Live() != c.Entities().Len() {
		t.Errorf("%d live representations for %d entities", w.Live(), c.Entities().Len())
	}
}

func TestClientSceneLoadFailureDisconnects(t *testing.T) {
	w := newSyncWorld()
	w.loadErr = world.ErrUnknownScene
	c, mock := newTestClient(t, w)

	deliver(t, mock, &protocol.WorldSnapshot{AssignedClientID: 42, SceneID: "Missing"})
	c.Poll()
	c.Poll()

	select {
	case <-c.Done():
	default:
		t.Fatal("client still running after failed load")
	}
	if c.Reason() != transport.ReasonLocalClose {
		t.Errorf("expected local close, got %s", c.Reason())
	}
	if len(mock.SentMessages()) != 0 {
		t.Errorf("sent %d messages after failed load", len(mock.SentMessages()))
	}
}

func readyClient(t *testing.T) (*Client, *transport.MockTransport, *syncWorld) {
	t.Helper()
	w := newSyncWorld()
	c, mock := newTestClient(t, w)
	deliver(t, mock, &protocol.WorldSnapshot{AssignedClientID: 42, SceneID: "Main"})
	c.Poll()
	mock.Clear()
	return c, mock, w
}

func TestClientTracksOwnPlayer(t *testing.T) {
	c, mock, _ := readyClient(t)

	if err := c.Move(protocol.Vec3{X: 1}, 0, false); !errors.Is(err, ErrNoPlayer) {
		t.Errorf("expected ErrNoPlayer before spawn, got %v", err)
	}

	deliver(t, mock, &protocol.EntityCreated{SpawnDescriptor: "Player", OwnerID: 43, EntityID: 10, Rotation: protocol.Identity})
	deliver(t, mock, &protocol.EntityCreated{SpawnDescriptor: "Player", OwnerID: 42, EntityID: 11, Rotation: protocol.Identity})
	deliver(t, mock, &protocol.EntityCreated{SpawnDescriptor: "Player", OwnerID: 42, EntityID: 11, Rotation: protocol.Identity})
	c.Poll()

	self, ok := c.SelfEntity()
	if !ok || self != 11 {
		t.Fatalf("expected own entity 11, got %d %v", self, ok)
	}
	if c.Entities().Len() != 2 {
		t.Errorf("duplicate EntityCreated tracked twice: %d entities", c.Entities().Len())
	}

	if err := c.Move(protocol.Vec3{Z: 1}, 45, true); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	msgs := sentTo(t, mock, serverAddr)
	want := protocol.MoveRequest{EntityID: 11, Movement: protocol.Vec3{Z: 1}, Yaw: 45, Crouching: true}
	if len(msgs) != 1 || *msgs[0].msg.(*protocol.MoveRequest) != want {
		t.Errorf("expected %+v, got %+v", want, msgs)
	}
	if e, _ := c.Entities().Get(11); e.Position != (protocol.Vec3{}) {
		t.Errorf("client moved its entity before the server confirmed: %+v", e.Position)
	}
}

func TestClientAppliesMoves(t *testing.T) {
	c, mock, _ := readyClient(t)
	deliver(t, mock, &protocol.EntityCreated{SpawnDescriptor: "Player", OwnerID: 42, EntityID: 11, Rotation: protocol.Identity})
	deliver(t, mock, &protocol.EntityCreated{SpawnDescriptor: "Player", OwnerID: 43, EntityID: 12, Rotation: protocol.Identity})
	deliver(t, mock, &protocol.EntityMoved{EntityID: 11, Movement: protocol.Vec3{X: 1}, Yaw: 90, Crouching: true})
	deliver(t, mock, &protocol.EntityMoved{EntityID: 12, Movement: protocol.Vec3{Y: 2}, Yaw: 90})
	deliver(t, mock, &protocol.EntityMoved{EntityID: 99, Movement: protocol.Vec3{Y: 2}})
	c.Poll()

	own, _ := c.Entities().Get(11)
	if own.Position != (protocol.Vec3{X: 1}) || !own.Crouching {
		t.Errorf("own entity not moved: %+v", own)
	}
	if own.Rotation != protocol.Identity {
		t.Errorf("own entity yaw overwritten: %+v", own.Rotation)
	}

	other, _ := c.Entities().Get(12)
	if other.Position != (protocol.Vec3{Y: 2}) || other.Crouching {
		t.Errorf("other entity not moved: %+v", other)
	}
	if other.Rotation != protocol.YawRotation(90) {
		t.Errorf("other entity yaw not applied: %+v", other.Rotation)
	}
}

func TestClientDisconnectedIdempotent(t *testing.T) {
	c, mock, w := readyClient(t)
	deliver(t, mock, &protocol.EntityCreated{SpawnDescriptor: "Player", OwnerID: 43, EntityID: 12})
	deliver(t, mock, &protocol.EntityCreated{SpawnDescriptor: "Player", OwnerID: 44, EntityID: 13})
	deliver(t, mock, &protocol.ClientDisconnected{ClientID: 43})
	c.Poll()

	first := c.Entities().All()
	if len(first) != 1 || first[0].ID != 13 {
		t.Fatalf("expected only entity 13, got %+v", first)
	}

	deliver(t, mock, &protocol.ClientDisconnected{ClientID: 43})
	c.Poll()

	second := c.Entities().All()
	if len(second) != 1 || second[0] != first[0] {
		t.Errorf("second delivery changed entity set: %+v", second)
	}
	if w.Live() != 1 {
		t.Errorf("expected 1 live representation, got %d", w.Live())
	}
}

func TestClientServerLoss(t *testing.T) {
	c, mock, w := readyClient(t)
	deliver(t, mock, &protocol.EntityCreated{SpawnDescriptor: "Player", OwnerID: 42, EntityID: 11})
	c.Poll()

	mock.SimulateDisconnect(serverAddr, transport.ReasonTimeout)
	c.Poll()

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed")
	}
	if c.Reason() != transport.ReasonTimeout {
		t.Errorf("expected timeout, got %s", c.Reason())
	}
	if c.Entities().Len() != 0 || w.Live() != 0 {
		t.Error("entities survived the disconnect")
	}
	if err := c.Move(protocol.Vec3{X: 1}, 0, false); err == nil {
		t.Error("Move succeeded after disconnect")
	}
}

func TestClientRejectsInboundConnections(t *testing.T) {
	c, mock := newTestClient(t, newSyncWorld())

	req := mock.SimulateConnectionRequest("10.0.0.9:1", nil)
	c.Poll()

	if err := req.Reject(); !errors.Is(err, transport.ErrAlreadyAnswered) {
		t.Errorf("expected request already answered, got %v", err)
	}
	if mock.PeerCount() != 1 {
		t.Errorf("expected only the server as peer, got %d", mock.PeerCount())
	}
}
