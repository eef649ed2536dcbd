// Package clock provides the wrapping millisecond counter both nodes stamp
// edges and reports with.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock returns a monotonic millisecond counter that wraps at 2^32.
type Clock interface {
	NowMs() uint32
}

// Since returns the milliseconds elapsed from then to now, correct across wraparound.
func Since(now, then uint32) uint32 {
	return now - then
}

// System counts milliseconds since it was created.
type System struct {
	start time.Time
}

func NewSystem() *System {
	return &System{start: time.Now()}
}

func (s *System) NowMs() uint32 {
	return uint32(time.Since(s.start).Milliseconds())
}

// Fake is a manually advanced clock for tests and the simulator.
type Fake struct {
	ms atomic.Uint32
}

func NewFake(startMs uint32) *Fake {
	f := &Fake{}
	f.ms.Store(startMs)
	return f
}

func (f *Fake) NowMs() uint32 {
	return f.ms.Load()
}

// Advance moves the clock forward by d, truncated to whole milliseconds.
func (f *Fake) Advance(d time.Duration) uint32 {
	return f.ms.Add(uint32(d.Milliseconds()))
}

func (f *Fake) Set(ms uint32) {
	f.ms.Store(ms)
}
