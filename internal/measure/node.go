// Package measure implements the Measurement Node: edge capture with
// debounce, the speed/energy pulse state machine and its status reports.
//
// The edge callback (OnEdge) and the link receive callback (OnDatagram) run
// on their own goroutines. They only touch atomics: the debounce gate, the
// mode flag, the impulse flag and the session snapshot. Everything else is
// owned by the main loop (Step / Run).
package measure

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"crossing/internal/clock"
	"crossing/internal/debounce"
	"crossing/internal/link"
	"crossing/internal/protocol"
)

// Tuning holds the timing constants of the pulse state machine.
type Tuning struct {
	Debounce       time.Duration `yaml:"debounce"`
	EnergyGuard    time.Duration `yaml:"energy_guard"`
	TimingInterval time.Duration `yaml:"timing_interval"`
	MinElapsed     time.Duration `yaml:"min_elapsed"`
	ResultDwell    time.Duration `yaml:"result_dwell"`
	ArmTimeout     time.Duration `yaml:"arm_timeout"`
	DistanceMeters float64       `yaml:"distance_meters"` // between the two beam crossings
	LoopInterval   time.Duration `yaml:"loop_interval"`
}

func DefaultTuning() Tuning {
	return Tuning{
		Debounce:       debounce.DefaultInterval,
		EnergyGuard:    270 * time.Millisecond,
		TimingInterval: 280 * time.Millisecond,
		MinElapsed:     50 * time.Millisecond,
		ResultDwell:    10 * time.Second,
		ArmTimeout:     10 * time.Second,
		DistanceMeters: 1.0,
		LoopInterval:   10 * time.Millisecond,
	}
}

// State is the main-loop view of the measurement cycle.
type State int

const (
	StateIdle State = iota
	// StateArmed: start captured, waiting for the stop edge (speed mode).
	StateArmed
	// StateComplete: a RESULT was sent and is held on the display for the dwell period.
	StateComplete
	// StateGuard: an impulse was reported and the node waits out the guard delay (energy mode).
	StateGuard
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateComplete:
		return "complete"
	case StateGuard:
		return "guard"
	default:
		return "unknown"
	}
}

// session is an immutable snapshot of the speed-mode capture. The edge
// callback replaces it with CompareAndSwap, so start and stop always travel
// together with their flags and a reset can never be half-observed.
type session struct {
	startMs uint32
	stopMs  uint32
	stopped bool
}

type Options struct {
	Tuning     Tuning
	Clock      clock.Clock
	Link       link.Sender
	Peer       link.Addr
	EnergyMode bool
	Logger     *slog.Logger
}

type Node struct {
	tuning Tuning
	clock  clock.Clock
	link   link.Sender
	peer   link.Addr
	logger *slog.Logger

	gate    *debounce.Gate
	energy  atomic.Bool
	impulse atomic.Bool
	sess    atomic.Pointer[session]

	// main loop only
	state        State
	enteredAt    uint32
	hold         uint32
	lastTimingAt uint32
	timingSent   bool
}

func New(opts Options) *Node {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem()
	}
	n := &Node{
		tuning: opts.Tuning,
		clock:  opts.Clock,
		link:   opts.Link,
		peer:   opts.Peer,
		logger: opts.Logger,
		gate:   debounce.NewGate(opts.Tuning.Debounce),
	}
	n.energy.Store(opts.EnergyMode)
	return n
}

// EnergyMode reports the mode the edge callback currently honours.
func (n *Node) EnergyMode() bool {
	return n.energy.Load()
}

// State returns the main-loop state. Call it from the main loop goroutine only.
func (n *Node) State() State {
	return n.state
}

// OnEdge is the sensor edge callback. It never blocks: it stamps the edge,
// applies the debounce gate and records the event for the main loop.
func (n *Node) OnEdge() {
	now := n.clock.NowMs()
	if !n.gate.Open(now) {
		return
	}

	if n.energy.Load() {
		n.impulse.Store(true)
		n.gate.Accept(now)
		return
	}

	cur := n.sess.Load()
	switch {
	case cur == nil:
		if n.sess.CompareAndSwap(nil, &session{startMs: now}) {
			n.gate.Accept(now)
			n.logger.Info("START detected", "at_ms", now)
		}
	case !cur.stopped:
		next := &session{startMs: cur.startMs, stopMs: now, stopped: true}
		if n.sess.CompareAndSwap(cur, next) {
			n.gate.Accept(now)
			n.logger.Info("STOP detected", "at_ms", now)
		}
	default:
		// Measurement complete and not reset yet: edge is not accepted.
	}
}

// OnDatagram is the link receive callback; it accepts Mode Reports.
func (n *Node) OnDatagram(from link.Addr, payload []byte) {
	m, err := protocol.ParseModeReport(payload)
	if err != nil {
		n.logger.Warn("invalid packet received, ignored", "from", from, "size", len(payload), "error", err)
		return
	}
	n.energy.Store(m.EnergyMode)
	n.logger.Info("mode switched", "mode", protocol.ModeName(m.EnergyMode), "from", from)
}

// Start performs the boot reset, announcing WAITING to the display.
func (n *Node) Start(ctx context.Context) {
	n.reset(ctx, n.clock.NowMs())
}

// Step runs one main-loop iteration.
func (n *Node) Step(ctx context.Context) {
	now := n.clock.NowMs()

	switch n.state {
	case StateComplete, StateGuard:
		if clock.Since(now, n.enteredAt) >= n.hold {
			n.reset(ctx, now)
		}
		return
	}

	if n.energy.Load() {
		n.stepEnergy(ctx, now)
		return
	}
	n.stepSpeed(ctx, now)
}

func (n *Node) stepEnergy(ctx context.Context, now uint32) {
	if !n.impulse.Load() {
		return
	}
	n.send(ctx, protocol.Report{Status: protocol.StatusResult, TimestampMs: now})
	n.logger.Info("energy impulse sent")
	n.enter(StateGuard, now, n.tuning.EnergyGuard)
}

func (n *Node) stepSpeed(ctx context.Context, now uint32) {
	s := n.sess.Load()
	if s == nil {
		return
	}
	if n.state == StateIdle {
		n.state = StateArmed
		n.timingSent = false
	}

	if !s.stopped && (!n.timingSent || clock.Since(now, n.lastTimingAt) >= ms(n.tuning.TimingInterval)) {
		n.send(ctx, protocol.Report{
			Status:         protocol.StatusTiming,
			ElapsedSeconds: float32(clock.Since(now, s.startMs)) / 1000,
			TimestampMs:    now,
		})
		n.lastTimingAt = now
		n.timingSent = true
	}

	if s.stopped {
		elapsedMs := clock.Since(s.stopMs, s.startMs)
		if elapsedMs <= ms(n.tuning.MinElapsed) {
			n.logger.Info("elapsed too short, resetting", "elapsed_ms", elapsedMs)
			n.reset(ctx, now)
			return
		}
		seconds := float32(elapsedMs) / 1000
		speed := float32(n.tuning.DistanceMeters) / seconds * 3.6
		n.send(ctx, protocol.Report{
			Status:         protocol.StatusResult,
			ElapsedSeconds: seconds,
			SpeedKmh:       speed,
			TimestampMs:    now,
		})
		n.logger.Info("measurement complete", "elapsed_s", seconds, "speed_kmh", speed)
		n.enter(StateComplete, now, n.tuning.ResultDwell)
		return
	}

	if clock.Since(now, s.startMs) > ms(n.tuning.ArmTimeout) {
		n.logger.Info("timeout: no second pulse received", "armed_ms", clock.Since(now, s.startMs))
		n.reset(ctx, now)
	}
}

// Run drives the main loop until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	interval := n.tuning.LoopInterval
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}

	n.Start(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n.Step(ctx)
		}
	}
}

func (n *Node) enter(s State, now uint32, hold time.Duration) {
	n.state = s
	n.enteredAt = now
	n.hold = ms(hold)
}

func (n *Node) reset(ctx context.Context, now uint32) {
	n.sess.Store(nil)
	n.impulse.Store(false)
	n.state = StateIdle
	n.timingSent = false

	n.send(ctx, protocol.Report{Status: protocol.StatusWaiting, TimestampMs: now})
	n.logger.Info("waiting for walker")
}

func (n *Node) send(ctx context.Context, r protocol.Report) {
	payload, err := r.MarshalBinary()
	if err != nil {
		n.logger.Error("encode report", "status", r.Status, "error", err)
		return
	}
	if n.link == nil {
		return
	}
	if err := n.link.Send(ctx, n.peer, payload); err != nil {
		n.logger.Warn("send status", "ok", false, "status", r.Status, "peer", n.peer, "error", err)
		return
	}
	n.logger.Debug("send status", "ok", true, "status", r.Status, "peer", n.peer)
}

func ms(d time.Duration) uint32 {
	return uint32(d.Milliseconds())
}
