package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossing/internal/display"
	"crossing/internal/panel"
	"crossing/internal/protocol"
)

func TestRender_KeepsOnlyLatestPending(t *testing.T) {
	m := New(Options{Addr: "127.0.0.1:1"})

	require.NoError(t, m.Render(panel.Frame{Line1: "one"}))
	require.NoError(t, m.Render(panel.Frame{Line1: "two"}))
	require.NoError(t, m.Render(panel.Frame{Line1: "three"}))

	assert.Len(t, m.pending, 1)
	assert.Equal(t, "three", (<-m.pending).Line1)
}

func TestFields(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f := panel.Frame{Line1: "Time: 1.50s", Line2: "Spd: 2.4 km/h"}

	bare := fields(f, nil, now)
	assert.Equal(t, map[string]interface{}{
		"line1":      "Time: 1.50s",
		"line2":      "Spd: 2.4 km/h",
		"updated-at": "2026-05-01T12:00:00Z",
	}, bare)

	snap := &display.Snapshot{
		Mode:         "SPEED",
		HasReport:    true,
		Report:       protocol.Report{Status: protocol.StatusResult, ElapsedSeconds: 1.5, SpeedKmh: 2.4},
		Impulses:     1,
		EnergyJoules: 1.4,
		LinkLost:     true,
		Peer:         "10.0.0.7:4210",
	}
	got := fields(f, snap, now)
	assert.Equal(t, "SPEED", got["mode"])
	assert.Equal(t, "lost", got["link"])
	assert.Equal(t, "RESULT", got["last-status"])
	assert.Equal(t, "10.0.0.7:4210", got["peer"])
	assert.Equal(t, uint64(1), got["impulses"])
}

func TestConnect_Unreachable(t *testing.T) {
	m := New(Options{Addr: "127.0.0.1:1"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.Error(t, m.Connect(ctx))
}
