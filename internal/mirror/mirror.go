// Package mirror copies the display node's panel and state into Redis so
// other processes can watch the crossing without a serial cable.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"crossing/internal/display"
	"crossing/internal/panel"
)

const (
	Key     = "crossing-display"
	Channel = "crossing-display"
)

// StateSource supplies the presentation state written next to the frame.
type StateSource interface {
	Snapshot() display.Snapshot
}

// Mirror is a panel.Surface. Render only hands the frame over; a background
// writer coalesces bursts and keeps the latest frame.
type Mirror struct {
	redis   *redis.Client
	state   StateSource
	logger  *slog.Logger
	pending chan panel.Frame
}

type Options struct {
	Addr   string
	State  StateSource
	Logger *slog.Logger
}

func New(opts Options) *Mirror {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Mirror{
		redis: redis.NewClient(&redis.Options{
			Addr:         opts.Addr,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
		}),
		state:   opts.State,
		logger:  opts.Logger,
		pending: make(chan panel.Frame, 1),
	}
}

// SetState attaches the state source once the display node exists.
func (m *Mirror) SetState(s StateSource) {
	m.state = s
}

// Connect checks the server is reachable.
func (m *Mirror) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (m *Mirror) Render(f panel.Frame) error {
	for {
		select {
		case m.pending <- f:
			return nil
		default:
		}
		// replace the stale frame nobody has written yet
		select {
		case <-m.pending:
		default:
		}
	}
}

// Run writes frames until ctx is done, then closes the client.
func (m *Mirror) Run(ctx context.Context) error {
	defer func() {
		if err := m.redis.Close(); err != nil {
			m.logger.Warn("redis close", "error", err)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-m.pending:
			if err := m.write(ctx, f); err != nil && ctx.Err() == nil {
				m.logger.Warn("mirror write", "error", err)
			}
		}
	}
}

func (m *Mirror) write(ctx context.Context, f panel.Frame) error {
	var snap *display.Snapshot
	if m.state != nil {
		s := m.state.Snapshot()
		snap = &s
	}

	pipe := m.redis.Pipeline()
	pipe.HSet(ctx, Key, fields(f, snap, time.Now()))
	pipe.Publish(ctx, Channel, "frame")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

func fields(f panel.Frame, snap *display.Snapshot, now time.Time) map[string]interface{} {
	out := map[string]interface{}{
		"line1":      f.Line1,
		"line2":      f.Line2,
		"updated-at": now.UTC().Format(time.RFC3339Nano),
	}
	if snap == nil {
		return out
	}
	out["mode"] = snap.Mode
	out["energy-joules"] = snap.EnergyJoules
	out["impulses"] = snap.Impulses
	out["link"] = map[bool]string{true: "lost", false: "ok"}[snap.LinkLost]
	if snap.HasReport {
		out["last-status"] = snap.Report.Status.String()
		out["last-elapsed-s"] = snap.Report.ElapsedSeconds
		out["last-speed-kmh"] = snap.Report.SpeedKmh
	}
	if snap.Peer != "" {
		out["peer"] = string(snap.Peer)
	}
	return out
}
