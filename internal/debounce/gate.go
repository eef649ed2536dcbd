// Package debounce implements the minimum-interval edge filter used on both
// the sensor and the button input.
package debounce

import (
	"sync/atomic"
	"time"

	"crossing/internal/clock"
)

// DefaultInterval is the quiet period required between accepted edges.
const DefaultInterval = 300 * time.Millisecond

// Gate remembers the last accepted edge. It has a single writer (the edge
// callback); the stored value is atomic so readers on other goroutines never
// see a torn timestamp.
type Gate struct {
	interval uint32

	// last accepted edge, tagged with bit 32 so zero means "never".
	last atomic.Uint64
}

func NewGate(interval time.Duration) *Gate {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Gate{interval: uint32(interval.Milliseconds())}
}

// Open reports whether an edge at nowMs would pass: strictly more than the
// interval must have elapsed since the last accepted edge.
func (g *Gate) Open(nowMs uint32) bool {
	v := g.last.Load()
	if v == 0 {
		return true
	}
	return clock.Since(nowMs, uint32(v)) > g.interval
}

// Accept records nowMs as the last accepted edge.
func (g *Gate) Accept(nowMs uint32) {
	g.last.Store(1<<32 | uint64(nowMs))
}

// Try combines Open and Accept.
func (g *Gate) Try(nowMs uint32) bool {
	if !g.Open(nowMs) {
		return false
	}
	g.Accept(nowMs)
	return true
}

// LastMs returns the last accepted edge and whether there was one.
func (g *Gate) LastMs() (uint32, bool) {
	v := g.last.Load()
	return uint32(v), v != 0
}
