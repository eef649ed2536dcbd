// Package memory is an in-process datagram link with configurable loss and
// latency, used by the simulator and tests.
package memory

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"crossing/internal/link"
)

const defaultQueueSize = 64

type Options struct {
	// LossRate is the probability in [0,1] that a datagram is silently dropped.
	LossRate float64
	Latency  time.Duration
	Seed     uint64
}

type datagram struct {
	from    link.Addr
	payload []byte
	dueAt   time.Time
}

// Hub connects in-memory endpoints by address.
type Hub struct {
	opts Options

	mu        sync.RWMutex
	endpoints map[link.Addr]*Endpoint

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewHub(opts Options) *Hub {
	return &Hub{
		opts:      opts,
		endpoints: make(map[link.Addr]*Endpoint),
		rnd:       rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
	}
}

// Endpoint returns the endpoint registered at addr, creating it if needed.
func (h *Hub) Endpoint(addr link.Addr) *Endpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ep, ok := h.endpoints[addr]; ok {
		return ep
	}
	ep := &Endpoint{
		hub:   h,
		addr:  addr,
		inbox: make(chan datagram, defaultQueueSize),
		done:  make(chan struct{}),
	}
	h.endpoints[addr] = ep
	return ep
}

func (h *Hub) lookup(addr link.Addr) (*Endpoint, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ep, ok := h.endpoints[addr]
	return ep, ok
}

func (h *Hub) drop() bool {
	if h.opts.LossRate <= 0 {
		return false
	}
	h.rndMu.Lock()
	defer h.rndMu.Unlock()
	return h.rnd.Float64() < h.opts.LossRate
}

// Endpoint is one node's attachment to a Hub.
type Endpoint struct {
	hub   *Hub
	addr  link.Addr
	inbox chan datagram

	closeOnce sync.Once
	done      chan struct{}
}

var _ link.Link = (*Endpoint)(nil)

func (e *Endpoint) LocalAddr() link.Addr {
	return e.addr
}

// Send queues a copy of payload for the peer. Lost datagrams still report
// success, just like a radio without acknowledgement.
func (e *Endpoint) Send(ctx context.Context, to link.Addr, payload []byte) error {
	select {
	case <-e.done:
		return link.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if to == "" {
		return link.ErrNoPeer
	}
	peer, ok := e.hub.lookup(to)
	if !ok {
		return fmt.Errorf("%w: %s", link.ErrUnreachable, to)
	}
	if e.hub.drop() {
		return nil
	}

	peer.enqueue(datagram{
		from:    e.addr,
		payload: append([]byte(nil), payload...),
		dueAt:   time.Now().Add(e.hub.opts.Latency),
	})
	return nil
}

func (e *Endpoint) enqueue(dg datagram) {
	select {
	case <-e.done:
	case e.inbox <- dg:
	default:
		// receiver not keeping up; the datagram is lost
	}
}

// Listen delivers datagrams in send order, each no earlier than its due time.
func (e *Endpoint) Listen(ctx context.Context, h link.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.done:
			return nil
		case dg := <-e.inbox:
			if !e.wait(ctx, dg.dueAt) {
				return nil
			}
			h(dg.from, dg.payload)
		}
	}
}

func (e *Endpoint) wait(ctx context.Context, dueAt time.Time) bool {
	d := time.Until(dueAt)
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-e.done:
		return false
	case <-t.C:
		return true
	}
}

func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() { close(e.done) })
	return nil
}
