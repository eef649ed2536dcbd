// Package udp carries datagrams as UDP packets; addresses are host:port.
package udp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"crossing/internal/link"
)

// Datagrams are tiny (32 bytes at most); anything larger is read truncated
// and rejected by the payload length check upstream.
const maxDatagram = 512

type Link struct {
	conn   *net.UDPConn
	logger *slog.Logger

	closeOnce sync.Once
}

var _ link.Link = (*Link)(nil)

// Listen binds a UDP socket on listenAddr (e.g. ":47001").
func Listen(listenAddr string, logger *slog.Logger) (*Link, error) {
	if logger == nil {
		logger = slog.Default()
	}
	laddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", listenAddr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", listenAddr, err)
	}
	logger.Info("udp link up", "addr", conn.LocalAddr().String())
	return &Link{conn: conn, logger: logger}, nil
}

func (l *Link) LocalAddr() link.Addr {
	return link.Addr(l.conn.LocalAddr().String())
}

func (l *Link) Send(ctx context.Context, to link.Addr, payload []byte) error {
	if to == "" {
		return link.ErrNoPeer
	}
	raddr, err := net.ResolveUDPAddr("udp", string(to))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", link.ErrUnreachable, to, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = l.conn.SetWriteDeadline(deadline)
	} else {
		_ = l.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := l.conn.WriteToUDP(payload, raddr); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return link.ErrClosed
		}
		return fmt.Errorf("udp send to %s: %w", to, err)
	}
	return nil
}

func (l *Link) Listen(ctx context.Context, h link.Handler) error {
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("udp receive: %w", err)
		}
		payload := append([]byte(nil), buf[:n]...)
		h(link.Addr(from.String()), payload)
	}
}

func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() { err = l.conn.Close() })
	return err
}
