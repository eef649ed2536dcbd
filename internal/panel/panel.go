// Package panel is the Display Surface: two lines of text, 16 columns each.
package panel

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const Columns = 16

// Frame is the full content of the panel.
type Frame struct {
	Line1 string `json:"line1"`
	Line2 string `json:"line2"`
}

// Fit truncates both lines to the panel width.
func (f Frame) Fit() Frame {
	return Frame{Line1: fit(f.Line1), Line2: fit(f.Line2)}
}

func (f Frame) String() string {
	return f.Line1 + " | " + f.Line2
}

func fit(s string) string {
	if utf8.RuneCountInString(s) <= Columns {
		return s
	}
	return string([]rune(s)[:Columns])
}

// Surface renders frames. Implementations must not block for long: the
// display node renders from its receive callback.
type Surface interface {
	Render(Frame) error
}

// Text draws the panel as a boxed 16x2 block on w.
type Text struct {
	mu sync.Mutex
	w  io.Writer
}

func NewText(w io.Writer) *Text {
	return &Text{w: w}
}

func (t *Text) Render(f Frame) error {
	f = f.Fit()
	border := "+" + strings.Repeat("-", Columns) + "+"
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintf(t.w, "%s\n|%-16s|\n|%-16s|\n%s\n", border, f.Line1, f.Line2, border)
	return err
}

// Multi renders to every surface and joins their errors.
type Multi []Surface

func (m Multi) Render(f Frame) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Render(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Latest keeps the most recently rendered frame for status endpoints.
type Latest struct {
	mu      sync.RWMutex
	frame   Frame
	updated time.Time
	renders uint64
}

func (l *Latest) Render(f Frame) error {
	l.mu.Lock()
	l.frame = f.Fit()
	l.updated = time.Now()
	l.renders++
	l.mu.Unlock()
	return nil
}

// Frame returns the last frame, when it was rendered and the total render count.
func (l *Latest) Frame() (Frame, time.Time, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frame, l.updated, l.renders
}
