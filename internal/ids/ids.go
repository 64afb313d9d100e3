// Package ids generates client and entity identifiers.
package ids

import (
	"fmt"
	"math/rand/v2"
)

// Bounds of the random id range, matching the 8-digit ids clients expect.
const (
	Min int32 = 10000000
	Max int32 = 99999999 // exclusive
)

// Source hands out ids. inUse reports ids that are still live and must not
// be returned; it may be nil.
type Source interface {
	Next(inUse func(int32) bool) int32
}

// Random draws 8-digit ids uniformly, redrawing on collision with a live id.
type Random struct {
	rng *rand.Rand
}

// NewRandom returns a Random seeded from the runtime's entropy source.
func NewRandom() *Random {
	return &Random{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeededRandom returns a reproducible Random.
func NewSeededRandom(seed uint64) *Random {
	return &Random{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (r *Random) Next(inUse func(int32) bool) int32 {
	for {
		id := Min + r.rng.Int32N(Max-Min)
		if inUse == nil || !inUse(id) {
			return id
		}
	}
}

// Sequential counts upward from a start value, skipping live ids.
type Sequential struct {
	next int32
}

func NewSequential(start int32) *Sequential {
	return &Sequential{next: start}
}

func (s *Sequential) Next(inUse func(int32) bool) int32 {
	for {
		id := s.next
		s.next++
		if inUse == nil || !inUse(id) {
			return id
		}
	}
}

// New builds a Source by mode name: "random" or "sequential".
func New(mode string) (Source, error) {
	switch mode {
	case "random":
		return NewRandom(), nil
	case "sequential":
		return NewSequential(1), nil
	default:
		return nil, fmt.Errorf("unknown id mode %q", mode)
	}
}
