// Package edge delivers hardware edges (sensor beam, mode button) to the
// node callbacks. Sources call onEdge from their own goroutine; callbacks
// must be non-blocking.
package edge

import (
	"bufio"
	"context"
	"io"
)

type Source interface {
	// Run delivers edges until ctx is done or the source fails.
	Run(ctx context.Context, onEdge func()) error
}

// Manual is triggered programmatically, for simulations and tests.
type Manual struct {
	ch chan struct{}
}

func NewManual() *Manual {
	return &Manual{ch: make(chan struct{}, 16)}
}

// Trigger queues one edge. It drops the edge when the queue is full, like
// an interrupt that fires while the previous one is still pending.
func (m *Manual) Trigger() bool {
	select {
	case m.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (m *Manual) Run(ctx context.Context, onEdge func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.ch:
			onEdge()
		}
	}
}

// Lines turns every line read from r into an edge. Pressing Enter on a
// terminal stands in for a beam crossing or a button press.
type Lines struct {
	r io.Reader
}

func NewLines(r io.Reader) *Lines {
	return &Lines{r: r}
}

func (l *Lines) Run(ctx context.Context, onEdge func()) error {
	lines := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(l.r)
		for sc.Scan() {
			select {
			case lines <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-lines:
			onEdge()
		case err := <-errc:
			return err
		}
	}
}
