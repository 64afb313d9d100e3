package game

import (
	"context"
	"testing"
	"time"

	"github.com/LemmyAI/netsync/internal/ids"
	"github.com/LemmyAI/netsync/internal/protocol"
	"github.com/LemmyAI/netsync/internal/transport"
	"github.com/LemmyAI/netsync/internal/world"
)

const testSecret = "usndbx"

// syncWorld completes scene loads before LoadScene returns.
type syncWorld struct {
	*world.Headless
	scene   string
	loadErr error
}

func newSyncWorld() *syncWorld {
	return &syncWorld{Headless: world.NewHeadless(nil)}
}

func (w *syncWorld) LoadScene(sceneID string, done func(error)) {
	if w.loadErr != nil {
		done(w.loadErr)
		return
	}
	w.scene = sceneID
	done(nil)
}

func (w *syncWorld) ActiveScene() string { return w.scene }

// manualWorld completes scene loads when the test says so.
type manualWorld struct {
	*world.Headless
	pending func(error)
}

func (w *manualWorld) LoadScene(_ string, done func(error)) { w.pending = done }

func testServerConfig() ServerConfig {
	return ServerConfig{
		Secret:    testSecret,
		Scene:     "Main",
		ClientIDs: ids.NewSequential(42),
		EntityIDs: ids.NewSequential(1000),
	}
}

func newTestServer(t *testing.T) (*Server, *transport.MockTransport, *syncWorld) {
	t.Helper()
	mock := transport.NewMockTransport()
	w := newSyncWorld()
	s := NewServer(testServerConfig(), mock, w, nil)
	if err := s.Listen(context.Background(), "0.0.0.0:4040"); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	return s, mock, w
}

func encode(t *testing.T, msg protocol.Message) []byte {
	t.Helper()
	data, err := protocol.Encode(msg)
	if err != nil {
		t.Fatalf("encode %s: %v", protocol.MessageTypeName(msg), err)
	}
	return data
}

// connectPeer runs the full server-side handshake for addr and returns the
// id it was assigned.
func connectPeer(t *testing.T, s *Server, mock *transport.MockTransport, addr string) int32 {
	t.Helper()
	mock.SimulateConnectionRequest(addr, encode(t, &protocol.ConnectionRequest{Key: testSecret}))
	s.Poll() // request -> accept
	s.Poll() // connected -> snapshot
	id, err := s.Clients().Lookup(addr)
	if err != nil {
		t.Fatalf("peer %s not registered: %v", addr, err)
	}
	return id
}

type sent struct {
	msg    protocol.Message
	method transport.DeliveryMethod
}

// sentTo decodes everything the mock sent to addr.
func sentTo(t *testing.T, mock *transport.MockTransport, addr string) []sent {
	t.Helper()
	var out []sent
	for _, m := range mock.SentMessages() {
		if m.Addr != addr {
			continue
		}
		msg, err := protocol.Decode(m.Data)
		if err != nil {
			t.Fatalf("decode frame to %s: %v", addr, err)
		}
		out = append(out, sent{msg: msg, method: m.Method})
	}
	return out
}

// pump polls every engine until cond holds.
func pump(t *testing.T, cond func() bool, engines ...*Engine) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range engines {
			e.Poll()
		}
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}
