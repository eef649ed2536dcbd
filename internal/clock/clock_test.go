package clock

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSince_Wraparound(t *testing.T) {
	assert.Equal(t, uint32(20), Since(10, math.MaxUint32-9))
	assert.Equal(t, uint32(300), Since(1300, 1000))
}

func TestFake_Advance(t *testing.T) {
	f := NewFake(100)
	assert.Equal(t, uint32(100), f.NowMs())
	assert.Equal(t, uint32(400), f.Advance(300*time.Millisecond))
	f.Set(5)
	assert.Equal(t, uint32(5), f.NowMs())
}

func TestSystem_Monotonic(t *testing.T) {
	s := NewSystem()
	a := s.NowMs()
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, s.NowMs(), a)
}
