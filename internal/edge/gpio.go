package edge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// GPIO watches a header pin through periph.io.
type GPIO struct {
	pin    string
	pull   gpio.Pull
	edge   gpio.Edge
	logger *slog.Logger
}

// NewSensorPin is the beam sensor input: rising edge, no pull.
func NewSensorPin(pin string, logger *slog.Logger) *GPIO {
	return newGPIO(pin, gpio.Float, gpio.RisingEdge, logger)
}

// NewButtonPin is the mode button: pulled up, active low.
func NewButtonPin(pin string, logger *slog.Logger) *GPIO {
	return newGPIO(pin, gpio.PullUp, gpio.FallingEdge, logger)
}

func newGPIO(pin string, pull gpio.Pull, edge gpio.Edge, logger *slog.Logger) *GPIO {
	if logger == nil {
		logger = slog.Default()
	}
	return &GPIO{pin: pin, pull: pull, edge: edge, logger: logger}
}

func (g *GPIO) Run(ctx context.Context, onEdge func()) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("host init: %w", err)
	}
	p := gpioreg.ByName(g.pin)
	if p == nil {
		return fmt.Errorf("gpio pin %q not found", g.pin)
	}
	if err := p.In(g.pull, g.edge); err != nil {
		return fmt.Errorf("gpio pin %q: %w", g.pin, err)
	}
	defer func() {
		if err := p.Halt(); err != nil {
			g.logger.Warn("gpio halt", "pin", g.pin, "error", err)
		}
	}()
	g.logger.Info("gpio edge source ready", "pin", p.Name(), "edge", g.edge.String())

	for {
		if ctx.Err() != nil {
			return nil
		}
		// Bounded wait so cancellation is noticed.
		if p.WaitForEdge(100 * time.Millisecond) {
			onEdge()
		}
	}
}
