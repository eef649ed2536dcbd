// Package display implements the Display Node: it aggregates status reports
// from the measurement node, owns the view mode, renders the panel and tells
// the measurement node which mode to honour.
//
// OnReport runs on the link receive goroutine and OnButtonEdge on the button
// goroutine. Shared presentation state sits behind a mutex; the button only
// sets an atomic flag that Step consumes.
package display

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chewxy/math32"

	"crossing/internal/clock"
	"crossing/internal/debounce"
	"crossing/internal/link"
	"crossing/internal/panel"
	"crossing/internal/protocol"
)

type Tuning struct {
	Debounce       time.Duration `yaml:"debounce"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	EnergyQuantum  float32       `yaml:"energy_quantum"` // joules per impulse
	LinkLostNotice time.Duration `yaml:"link_lost_notice"`
	ModeNotice     time.Duration `yaml:"mode_notice"`
	ReadyNotice    time.Duration `yaml:"ready_notice"`
	LoopInterval   time.Duration `yaml:"loop_interval"`
}

func DefaultTuning() Tuning {
	return Tuning{
		Debounce:       debounce.DefaultInterval,
		StaleAfter:     15 * time.Second,
		EnergyQuantum:  1.4,
		LinkLostNotice: 2 * time.Second,
		ModeNotice:     time.Second,
		ReadyNotice:    2 * time.Second,
		LoopInterval:   50 * time.Millisecond,
	}
}

// Result is handed to the Recorder for every RESULT report received.
type Result struct {
	From        link.Addr
	Report      protocol.Report
	EnergyView  bool
	EnergyTotal float32
	ReceivedAt  time.Time
}

// Recorder receives results. Record is called from the receive callback and
// must not block.
type Recorder interface {
	Record(Result)
}

type Options struct {
	Tuning   Tuning
	Clock    clock.Clock
	Link     link.Sender
	Surface  panel.Surface
	Recorder Recorder
	Logger   *slog.Logger
}

// Snapshot is a consistent copy of the presentation state.
type Snapshot struct {
	Mode           string          `json:"mode"`
	Frame          panel.Frame     `json:"frame"`
	Report         protocol.Report `json:"last_report"`
	HasReport      bool            `json:"has_report"`
	Impulses       uint64          `json:"impulses"`
	EnergyJoules   float32         `json:"energy_joules"`
	LinkLost       bool            `json:"link_lost"`
	LastReceivedMs uint32          `json:"last_received_ms"`
	Peer           link.Addr       `json:"peer,omitempty"`
}

type notice struct {
	frame panel.Frame
	at    uint32
	hold  uint32
}

type Node struct {
	tuning   Tuning
	clock    clock.Clock
	link     link.Sender
	surface  panel.Surface
	recorder Recorder
	logger   *slog.Logger

	gate    *debounce.Gate
	pressed atomic.Bool

	mu         sync.Mutex
	energyView bool
	report     protocol.Report
	hasReport  bool
	impulses   uint64
	// receivedAt is only meaningful while live is set; clearing live is
	// the "lastReceived = 0" of a lost link.
	receivedAt uint32
	live       bool
	linkLost   bool
	peer       link.Addr
	notice     *notice
	frame      panel.Frame
}

func New(opts Options) *Node {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem()
	}
	if opts.Tuning.EnergyQuantum == 0 {
		opts.Tuning.EnergyQuantum = DefaultTuning().EnergyQuantum
	}
	return &Node{
		tuning:   opts.Tuning,
		clock:    opts.Clock,
		link:     opts.Link,
		surface:  opts.Surface,
		recorder: opts.Recorder,
		logger:   opts.Logger,
		gate:     debounce.NewGate(opts.Tuning.Debounce),
	}
}

// SetLink attaches the transport used for mode reports. Call it before Run.
func (n *Node) SetLink(l link.Sender) {
	n.link = l
}

// Start shows the ready notice; the speed view follows once it expires.
func (n *Node) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.showNotice(panel.Frame{Line1: "Receiver Ready", Line2: "Mode: " + protocol.ModeName(n.energyView)},
		n.clock.NowMs(), n.tuning.ReadyNotice)
}

// ShowError renders a fatal bring-up error such as a failed link.
func (n *Node) ShowError(line1, line2 string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notice = nil
	n.render(panel.Frame{Line1: line1, Line2: line2})
}

// OnButtonEdge is the mode button callback.
func (n *Node) OnButtonEdge() {
	if n.gate.Try(n.clock.NowMs()) {
		n.pressed.Store(true)
	}
}

// OnReport is the link receive callback. Malformed datagrams are dropped
// without touching any state.
func (n *Node) OnReport(from link.Addr, payload []byte) {
	r, err := protocol.ParseReport(payload)
	if err != nil {
		n.logger.Warn("invalid packet received, ignored", "from", from, "size", len(payload), "error", err)
		return
	}
	now := n.clock.NowMs()

	n.mu.Lock()
	if n.linkLost {
		n.logger.Info("link restored", "from", from)
	}
	n.report = r
	n.hasReport = true
	n.receivedAt = now
	n.live = true
	n.linkLost = false
	n.peer = from
	var res *Result
	if r.Status == protocol.StatusResult {
		n.impulses++
		res = &Result{
			From:        from,
			Report:      r,
			EnergyView:  n.energyView,
			EnergyTotal: n.energyTotal(),
			ReceivedAt:  time.Now(),
		}
	}
	n.notice = nil
	n.render(n.view())
	n.mu.Unlock()

	n.logger.Debug("report received", "from", from, "status", r.Status, "elapsed_s", r.ElapsedSeconds, "speed_kmh", r.SpeedKmh)
	if res != nil && n.recorder != nil {
		n.recorder.Record(*res)
	}
}

// Step runs one main-loop iteration: mode toggle, notice expiry and the
// staleness check.
func (n *Node) Step(ctx context.Context) {
	now := n.clock.NowMs()

	if n.pressed.Swap(false) {
		n.toggle(ctx, now)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.notice != nil && clock.Since(now, n.notice.at) >= n.notice.hold {
		n.notice = nil
		n.render(n.view())
	}

	if n.live && clock.Since(now, n.receivedAt) > ms(n.tuning.StaleAfter) {
		n.logger.Warn("link lost", "silent_ms", clock.Since(now, n.receivedAt), "peer", n.peer)
		n.live = false
		n.linkLost = true
		n.showNotice(panel.Frame{Line1: "Link", Line2: "lost!"}, now, n.tuning.LinkLostNotice)
	}
}

// Run drives the main loop until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	interval := n.tuning.LoopInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}

	n.Start()

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

func (n *Node) toggle(ctx context.Context, now uint32) {
	n.mu.Lock()
	n.energyView = !n.energyView
	energy := n.energyView
	peer := n.peer
	banner := ">>> SPEED <<<"
	if energy {
		banner = ">>> ENERGY <<<"
	}
	n.showNotice(panel.Frame{Line1: "Mode switched:", Line2: banner}, now, n.tuning.ModeNotice)
	n.mu.Unlock()

	n.logger.Info("mode switched", "mode", protocol.ModeName(energy))
	n.sendMode(ctx, peer, energy)
}

func (n *Node) sendMode(ctx context.Context, peer link.Addr, energy bool) {
	if n.link == nil {
		return
	}
	payload, err := protocol.ModeReport{EnergyMode: energy}.MarshalBinary()
	if err != nil {
		n.logger.Error("encode mode report", "error", err)
		return
	}
	err = n.link.Send(ctx, peer, payload)
	switch {
	case errors.Is(err, link.ErrNoPeer):
		n.logger.Info("no measurement node heard yet, mode change is local", "mode", protocol.ModeName(energy))
	case err != nil:
		n.logger.Warn("send mode", "ok", false, "peer", peer, "error", err)
	default:
		n.logger.Debug("send mode", "ok", true, "peer", peer)
	}
}

// Mode returns the current view mode name.
func (n *Node) Mode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return protocol.ModeName(n.energyView)
}

// EnergyTotal is the number of RESULT reports received times the energy quantum.
func (n *Node) EnergyTotal() float32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.energyTotal()
}

func (n *Node) Snapshot() Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Snapshot{
		Mode:           protocol.ModeName(n.energyView),
		Frame:          n.frame,
		Report:         n.report,
		HasReport:      n.hasReport,
		Impulses:       n.impulses,
		EnergyJoules:   n.energyTotal(),
		LinkLost:       n.linkLost,
		LastReceivedMs: n.receivedAtOrZero(),
		Peer:           n.peer,
	}
}

func (n *Node) receivedAtOrZero() uint32 {
	if !n.live {
		return 0
	}
	return n.receivedAt
}

func (n *Node) energyTotal() float32 {
	return float32(n.impulses) * n.tuning.EnergyQuantum
}

// view renders the current mode from the last report. A lost link keeps
// the last report on screen; only a new report replaces it. Caller holds mu.
func (n *Node) view() panel.Frame {
	if n.energyView {
		return panel.Frame{
			Line1: "Energy produced:",
			Line2: fmt.Sprintf("%d J", int64(math32.Floor(n.energyTotal()))),
		}
	}
	if !n.hasReport {
		return idleFrame
	}
	switch n.report.Status {
	case protocol.StatusTiming:
		return panel.Frame{
			Line1: "-> TIMER",
			Line2: fmt.Sprintf("Time: %.1fs", n.report.ElapsedSeconds),
		}
	case protocol.StatusResult:
		return panel.Frame{
			Line1: fmt.Sprintf("Time: %.2fs", n.report.ElapsedSeconds),
			Line2: fmt.Sprintf("Spd: %.1f km/h", n.report.SpeedKmh),
		}
	default:
		return idleFrame
	}
}

var idleFrame = panel.Frame{Line1: "Awaiting walker", Line2: "[SPEED Mode]"}

// showNotice renders a transient frame. Caller holds mu.
func (n *Node) showNotice(f panel.Frame, now uint32, hold time.Duration) {
	n.notice = &notice{frame: f, at: now, hold: ms(hold)}
	n.render(f)
}

// render pushes f to the surface. Caller holds mu.
func (n *Node) render(f panel.Frame) {
	f = f.Fit()
	n.frame = f
	if n.surface == nil {
		return
	}
	if err := n.surface.Render(f); err != nil {
		n.logger.Warn("render", "frame", f.String(), "error", err)
	}
}

func ms(d time.Duration) uint32 {
	return uint32(d.Milliseconds())
}
