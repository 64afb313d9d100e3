// Package gateway decides which connection attempts a server accepts.
package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

// DefaultCapacity is the number of concurrent peers a server admits.
const DefaultCapacity = 10

// limiterSweep is the limiter count above which idle limiters are pruned.
const limiterSweep = 1024

var (
	ErrAdmissionRejected = errors.New("admission rejected")
	ErrBadKey            = fmt.Errorf("%w: bad key", ErrAdmissionRejected)
	ErrAtCapacity        = fmt.Errorf("%w: at capacity", ErrAdmissionRejected)
	ErrRateLimited       = fmt.Errorf("%w: too many attempts", ErrAdmissionRejected)
)

// Config configures a Gateway.
type Config struct {
	Secret   string
	Capacity int

	// AttemptsPerSecond limits attempts per endpoint. Zero disables the limit.
	AttemptsPerSecond float64
	AttemptBurst      int

	Clock clock.Clock
}

// Gateway admits connection attempts that present the shared secret while
// there is room. It is not safe for concurrent use.
type Gateway struct {
	config   Config
	clock    clock.Clock
	limiters map[string]*rate.Limiter
}

// New creates a gateway. A zero capacity means DefaultCapacity.
func New(config Config) *Gateway {
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	if config.AttemptBurst <= 0 {
		config.AttemptBurst = 1
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	return &Gateway{
		config:   config,
		clock:    config.Clock,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Capacity returns the peer limit.
func (g *Gateway) Capacity() int {
	return g.config.Capacity
}

// Admit returns nil if an attempt from endpoint presenting key may connect
// while peers are already connected.
func (g *Gateway) Admit(endpoint, key string, peers int) error {
	if !g.allow(endpoint) {
		return fmt.Errorf("%w: %s", ErrRateLimited, endpoint)
	}
	if key != g.config.Secret {
		return fmt.Errorf("%w: %s", ErrBadKey, endpoint)
	}
	if peers >= g.config.Capacity {
		return fmt.Errorf("%w: %d/%d peers", ErrAtCapacity, peers, g.config.Capacity)
	}
	return nil
}

func (g *Gateway) allow(endpoint string) bool {
	if g.config.AttemptsPerSecond <= 0 {
		return true
	}
	now := g.clock.Now()

	lim, ok := g.limiters[endpoint]
	if !ok {
		if len(g.limiters) >= limiterSweep {
			g.sweep(now)
		}
		lim = rate.NewLimiter(rate.Limit(g.config.AttemptsPerSecond), g.config.AttemptBurst)
		g.limiters[endpoint] = lim
	}
	return lim.AllowN(now, 1)
}

// sweep drops limiters that have refilled completely.
func (g *Gateway) sweep(now time.Time) {
	for endpoint, lim := range g.limiters {
		if lim.TokensAt(now) >= float64(g.config.AttemptBurst) {
			delete(g.limiters, endpoint)
		}
	}
}
