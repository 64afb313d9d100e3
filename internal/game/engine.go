// Package game implements the replication sessions: the authoritative server
// and the client that mirrors it.
package game

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gammazero/deque"
	"go.uber.org/zap"

	"github.com/LemmyAI/netsync/internal/transport"
)

// DefaultTickRate is the number of polls per second.
const DefaultTickRate = 60

// Engine is the single cooperative context a session runs on. Each tick it
// drains the transport, dispatching every event in arrival order, then runs
// the tasks posted from other goroutines.
type Engine struct {
	transport transport.Transport
	handle    func(transport.Event)
	clock     clock.Clock
	interval  time.Duration
	logger    *zap.Logger

	mu    sync.Mutex
	tasks deque.Deque[func()]

	tick atomic.Uint64
}

func newEngine(t transport.Transport, handle func(transport.Event), tickRate int, clk clock.Clock, logger *zap.Logger) *Engine {
	if tickRate <= 0 {
		tickRate = DefaultTickRate
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Engine{
		transport: t,
		handle:    handle,
		clock:     clk,
		interval:  time.Second / time.Duration(tickRate),
		logger:    logger,
	}
}

// Run polls once per tick until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := e.clock.Ticker(e.interval)
	defer ticker.Stop()

	e.logger.Info("engine started", zap.Duration("interval", e.interval))
	defer e.logger.Info("engine stopped", zap.Uint64("ticks", e.CurrentTick()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Poll()
		}
	}
}

// Poll runs one tick. It must only be called from the goroutine that owns
// the session; tests call it directly instead of Run.
func (e *Engine) Poll() {
	e.tick.Add(1)

	for _, ev := range e.transport.Poll() {
		e.handle(ev)
	}

	e.mu.Lock()
	n := e.tasks.Len()
	e.mu.Unlock()

	// Tasks posted while these run wait for the next tick.
	for i := 0; i < n; i++ {
		e.mu.Lock()
		task := e.tasks.PopFront()
		e.mu.Unlock()
		task()
	}
}

// Post schedules fn to run on the session goroutine. Safe for concurrent use.
func (e *Engine) Post(fn func()) {
	e.mu.Lock()
	e.tasks.PushBack(fn)
	e.mu.Unlock()
}

// CurrentTick returns the number of polls run so far.
func (e *Engine) CurrentTick() uint64 {
	return e.tick.Load()
}
