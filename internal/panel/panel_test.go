package panel

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_Fit(t *testing.T) {
	f := Frame{Line1: "Energy produced: lots", Line2: "short"}.Fit()
	assert.Equal(t, "Energy produced:", f.Line1)
	assert.Equal(t, "short", f.Line2)
}

func TestText_Render(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewText(&buf).Render(Frame{Line1: "Awaiting walker", Line2: "[SPEED Mode]"}))

	want := "+----------------+\n" +
		"|Awaiting walker |\n" +
		"|[SPEED Mode]    |\n" +
		"+----------------+\n"
	assert.Equal(t, want, buf.String())
}

type failingSurface struct{}

func (failingSurface) Render(Frame) error { return errors.New("bus error") }

func TestMulti_RendersAllAndJoinsErrors(t *testing.T) {
	var a, b Latest
	m := Multi{&a, failingSurface{}, nil, &b}

	err := m.Render(Frame{Line1: "x"})
	assert.EqualError(t, err, "bus error")

	fa, _, na := a.Frame()
	fb, _, nb := b.Frame()
	assert.Equal(t, "x", fa.Line1)
	assert.Equal(t, "x", fb.Line1)
	assert.Equal(t, uint64(1), na)
	assert.Equal(t, uint64(1), nb)
}
