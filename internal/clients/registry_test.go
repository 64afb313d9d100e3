package clients

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/LemmyAI/netsync/internal/ids"
)

func TestRegisterLookup(t *testing.T) {
	r := NewRegistry(ids.NewSequential(42), nil)

	c, err := r.Register("127.0.0.1:5000", uuid.New())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if c.ID != 42 {
		t.Errorf("expected id 42, got %d", c.ID)
	}

	id, err := r.Lookup("127.0.0.1:5000")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if id != 42 {
		t.Errorf("expected 42, got %d", id)
	}

	if _, err := r.Register("127.0.0.1:5000", uuid.New()); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestConnectedAtFromClock(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	r := NewRegistry(ids.NewSequential(1), mock)

	first, _ := r.Register("10.0.0.1:1", uuid.New())
	mock.Add(90 * time.Second)
	second, _ := r.Register("10.0.0.2:1", uuid.New())

	if !first.ConnectedAt.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected first ConnectedAt %v", first.ConnectedAt)
	}
	if got := second.ConnectedAt.Sub(first.ConnectedAt); got != 90*time.Second {
		t.Errorf("expected 90s between registrations, got %v", got)
	}
}

func TestLookupUnknownPeer(t *testing.T) {
	r := NewRegistry(ids.NewSequential(1), nil)

	if _, err := r.Lookup("10.0.0.1:1"); !errors.Is(err, ErrUnknownPeer) {
		t.Errorf("expected ErrUnknownPeer, got %v", err)
	}
	if err := r.SetName("10.0.0.1:1", "ghost"); !errors.Is(err, ErrUnknownPeer) {
		t.Errorf("expected ErrUnknownPeer from SetName, got %v", err)
	}
}

func TestSetNameAndRemove(t *testing.T) {
	r := NewRegistry(ids.NewSequential(1), nil)
	a, _ := r.Register("a:1", uuid.New())
	b, _ := r.Register("b:1", uuid.New())

	if err := r.SetName("a:1", "Alice"); err != nil {
		t.Fatalf("SetName failed: %v", err)
	}
	if got, _ := r.Get(a.ID); got.Name != "Alice" {
		t.Errorf("expected Alice, got %q", got.Name)
	}

	r.Remove(a.ID)
	r.Remove(a.ID) // no-op

	if r.Count() != 1 {
		t.Errorf("expected 1 client, got %d", r.Count())
	}
	if _, err := r.Lookup("a:1"); !errors.Is(err, ErrUnknownPeer) {
		t.Errorf("expected removed endpoint to be unknown, got %v", err)
	}
	if eps := r.Endpoints(); len(eps) != 1 || eps[0] != "b:1" {
		t.Errorf("expected [b:1], got %v", eps)
	}
	if _, ok := r.Get(b.ID); !ok {
		t.Error("expected b to remain")
	}
}

func TestAllOrderedByID(t *testing.T) {
	r := NewRegistry(ids.NewSeededRandom(3), nil)
	for _, ep := range []string{"a:1", "b:1", "c:1", "d:1"} {
		if _, err := r.Register(ep, uuid.New()); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	all := r.All()
	for i := 1; i < len(all); i++ {
		if all[i-1].ID >= all[i].ID {
			t.Fatalf("clients not ordered: %d before %d", all[i-1].ID, all[i].ID)
		}
	}
}
