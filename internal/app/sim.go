package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"crossing/internal/config"
	"crossing/internal/display"
	"crossing/internal/edge"
	"crossing/internal/link/memory"
	"crossing/internal/measure"
	"crossing/internal/panel"
)

type SimAction int

const (
	SimBeam SimAction = iota
	SimButton
)

func (a SimAction) String() string {
	if a == SimButton {
		return "button"
	}
	return "beam"
}

// SimStep fires Action After the previous step.
type SimStep struct {
	After  time.Duration
	Action SimAction
	Note   string
}

// DefaultScript walks two pedestrians through in speed mode, switches to
// energy mode for five footsteps, switches back and ends with a walker who
// never reaches the second beam.
func DefaultScript() []SimStep {
	script := []SimStep{
		{After: 2500 * time.Millisecond, Action: SimBeam, Note: "walker 1 enters"},
		{After: 1200 * time.Millisecond, Action: SimBeam, Note: "walker 1 leaves"},
		{After: 11 * time.Second, Action: SimBeam, Note: "walker 2 enters"},
		{After: 800 * time.Millisecond, Action: SimBeam, Note: "walker 2 leaves"},
		{After: 11 * time.Second, Action: SimButton, Note: "switch to energy"},
	}
	for i := 0; i < 5; i++ {
		script = append(script, SimStep{After: 600 * time.Millisecond, Action: SimBeam, Note: "footstep"})
	}
	return append(script,
		SimStep{After: 2 * time.Second, Action: SimButton, Note: "switch to speed"},
		SimStep{After: 2 * time.Second, Action: SimBeam, Note: "walker 3 enters and turns back"},
	)
}

const (
	simMeasureAddr = "measure"
	simDisplayAddr = "display"
)

// RunSim runs both nodes over a lossy in-memory link, plays script and
// returns the display state once the script has finished and tail has
// elapsed.
func RunSim(ctx context.Context, cfg config.Sim, script []SimStep, tail time.Duration, logger *slog.Logger, out io.Writer) (display.Snapshot, error) {
	logger.Info("initializing simulation",
		"loss_rate", cfg.LossRate,
		"latency", cfg.Latency,
		"seed", cfg.Seed,
		"steps", len(script),
	)

	hub := memory.NewHub(memory.Options{LossRate: cfg.LossRate, Latency: cfg.Latency, Seed: cfg.Seed})
	measureEp := hub.Endpoint(simMeasureAddr)
	displayEp := hub.Endpoint(simDisplayAddr)
	defer func() {
		_ = measureEp.Close()
		_ = displayEp.Close()
	}()

	measureLog := logger.With("role", "measure")
	displayLog := logger.With("role", "display")

	mnode := measure.New(measure.Options{
		Tuning: cfg.Measure,
		Link:   measureEp,
		Peer:   simDisplayAddr,
		Logger: measureLog,
	})

	stack, err := newDisplayStack(ctx, displayStackOptions{
		Tuning:       cfg.Display,
		Panel:        panel.NewText(out),
		HTTPAddr:     cfg.HTTPAddr,
		RedisAddr:    cfg.RedisAddr,
		HistoryLimit: cfg.HistoryLimit,
	}, displayLog)
	if err != nil {
		return display.Snapshot{}, err
	}
	defer stack.close(logger)
	stack.node.SetLink(displayEp)

	sensor := edge.NewManual()
	button := edge.NewManual()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	stack.run(gctx, g, displayLog)
	g.Go(func() error { return measureEp.Listen(gctx, mnode.OnDatagram) })
	g.Go(func() error { return displayEp.Listen(gctx, stack.node.OnReport) })
	g.Go(func() error { return sensor.Run(gctx, mnode.OnEdge) })
	g.Go(func() error { return button.Run(gctx, stack.node.OnButtonEdge) })
	g.Go(func() error { return mnode.Run(gctx) })
	g.Go(func() error { return stack.node.Run(gctx) })

	played := make(chan error, 1)
	go func() {
		played <- play(gctx, script, tail, sensor, button, logger)
		cancel()
	}()

	err = g.Wait()
	scriptErr := <-played
	snap := stack.node.Snapshot()

	if scriptErr != nil {
		// interrupted by the caller, or a node failed first
		if err != nil && ctx.Err() == nil {
			return snap, err
		}
		return snap, scriptErr
	}
	logger.Info("simulation finished",
		"mode", snap.Mode,
		"impulses", snap.Impulses,
		"energy_j", snap.EnergyJoules,
		"frame", snap.Frame.String(),
	)
	return snap, nil
}

func play(ctx context.Context, script []SimStep, tail time.Duration, sensor, button *edge.Manual, logger *slog.Logger) error {
	for i, step := range script {
		if err := sleep(ctx, step.After); err != nil {
			return err
		}
		src := sensor
		if step.Action == SimButton {
			src = button
		}
		if !src.Trigger() {
			return fmt.Errorf("step %d: %s queue full", i, step.Action)
		}
		logger.Info("sim step", "step", i, "action", step.Action.String(), "note", step.Note)
	}
	return sleep(ctx, tail)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
