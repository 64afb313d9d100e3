// Package clients tracks the clients connected to a server.
package clients

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/LemmyAI/netsync/internal/ids"
)

// Client is one connected peer.
type Client struct {
	ID          int32
	Endpoint    string
	Name        string
	ConnID      uuid.UUID
	ConnectedAt time.Time
}

// Registry indexes clients by endpoint and by id.
//
// Registry is not safe for concurrent use; the server calls it only from
// its event loop.
type Registry struct {
	ids        ids.Source
	clock      clock.Clock
	byEndpoint map[string]int32
	byID       map[int32]*Client
}

// NewRegistry creates a registry drawing ids from source. A nil clk
// means the wall clock.
func NewRegistry(source ids.Source, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		ids:        source,
		clock:      clk,
		byEndpoint: make(map[string]int32),
		byID:       make(map[int32]*Client),
	}
}

// Register assigns a fresh id to endpoint.
func (r *Registry) Register(endpoint string, connID uuid.UUID) (*Client, error) {
	if id, exists := r.byEndpoint[endpoint]; exists {
		return nil, fmt.Errorf("%w: %s is client %d", ErrAlreadyRegistered, endpoint, id)
	}

	client := &Client{
		ID:          r.ids.Next(r.has),
		Endpoint:    endpoint,
		ConnID:      connID,
		ConnectedAt: r.clock.Now(),
	}
	r.byEndpoint[endpoint] = client.ID
	r.byID[client.ID] = client
	return client, nil
}

func (r *Registry) has(id int32) bool {
	_, ok := r.byID[id]
	return ok
}

// Lookup returns the id registered for endpoint.
func (r *Registry) Lookup(endpoint string) (int32, error) {
	id, ok := r.byEndpoint[endpoint]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPeer, endpoint)
	}
	return id, nil
}

// Get returns a client by id.
func (r *Registry) Get(id int32) (*Client, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// SetName records the display name a client identified with.
func (r *Registry) SetName(endpoint, name string) error {
	id, err := r.Lookup(endpoint)
	if err != nil {
		return err
	}
	r.byID[id].Name = name
	return nil
}

// Remove forgets a client. Removing an unknown id does nothing.
func (r *Registry) Remove(id int32) {
	c, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	delete(r.byEndpoint, c.Endpoint)
}

// Count returns the number of registered clients.
func (r *Registry) Count() int {
	return len(r.byID)
}

// Endpoints returns the endpoints of all clients, ordered by client id.
func (r *Registry) Endpoints() []string {
	all := r.All()
	out := make([]string, len(all))
	for i, c := range all {
		out[i] = c.Endpoint
	}
	return out
}

// All returns every client ordered by id.
func (r *Registry) All() []*Client {
	out := make([]*Client, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *Client) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
