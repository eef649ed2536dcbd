// Package link defines the point-to-point datagram link between the nodes.
// Delivery is best effort: no acknowledgement, no retry, no ordering beyond
// what the transport happens to give.
package link

import (
	"context"
	"errors"
)

var (
	ErrClosed      = errors.New("link closed")
	ErrNoPeer      = errors.New("no peer address")
	ErrUnreachable = errors.New("peer unreachable")
)

// Addr identifies a node on a link (host:port, node id, ...).
type Addr string

// Handler is invoked for each received datagram. It runs on the link's
// receive goroutine and must not block.
type Handler func(from Addr, payload []byte)

// Sender sends one datagram. The returned error is advisory only.
type Sender interface {
	Send(ctx context.Context, to Addr, payload []byte) error
}

// Link is a bidirectional datagram endpoint.
type Link interface {
	Sender
	LocalAddr() Addr
	// Listen delivers datagrams to h until ctx is done or the link is closed.
	Listen(ctx context.Context, h Handler) error
	Close() error
}
