package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossing/internal/link"
)

type received struct {
	from    link.Addr
	payload []byte
}

func listen(t *testing.T, ep *Endpoint) (<-chan received, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan received, 16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = ep.Listen(ctx, func(from link.Addr, payload []byte) {
			ch <- received{from: from, payload: payload}
		})
	}()
	return ch, func() {
		cancel()
		wg.Wait()
	}
}

func TestEndpoint_SendReceive(t *testing.T) {
	hub := NewHub(Options{})
	a := hub.Endpoint("a")
	b := hub.Endpoint("b")
	ch, stop := listen(t, b)
	defer stop()

	payload := []byte{1, 2, 3}
	require.NoError(t, a.Send(context.Background(), "b", payload))
	payload[0] = 9 // sender reuses its buffer

	select {
	case got := <-ch:
		assert.Equal(t, link.Addr("a"), got.from)
		assert.Equal(t, []byte{1, 2, 3}, got.payload)
	case <-time.After(time.Second):
		t.Fatal("datagram not delivered")
	}
}

func TestEndpoint_SendErrors(t *testing.T) {
	hub := NewHub(Options{})
	a := hub.Endpoint("a")

	assert.ErrorIs(t, a.Send(context.Background(), "", []byte{1}), link.ErrNoPeer)
	assert.ErrorIs(t, a.Send(context.Background(), "nobody", []byte{1}), link.ErrUnreachable)

	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Send(context.Background(), "a", []byte{1}), link.ErrClosed)
}

func TestHub_TotalLoss(t *testing.T) {
	hub := NewHub(Options{LossRate: 1})
	a := hub.Endpoint("a")
	b := hub.Endpoint("b")
	ch, stop := listen(t, b)
	defer stop()

	for i := 0; i < 10; i++ {
		assert.NoError(t, a.Send(context.Background(), "b", []byte{byte(i)}))
	}
	select {
	case <-ch:
		t.Fatal("datagram delivered despite total loss")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_EndpointIsReused(t *testing.T) {
	hub := NewHub(Options{})
	assert.Same(t, hub.Endpoint("x"), hub.Endpoint("x"))
	assert.Equal(t, link.Addr("x"), hub.Endpoint("x").LocalAddr())
}

func TestHub_LatencyKeepsOrder(t *testing.T) {
	const n = 50
	hub := NewHub(Options{Latency: 5 * time.Millisecond})
	a := hub.Endpoint("a")
	b := hub.Endpoint("b")
	ch, stop := listen(t, b)
	defer stop()

	start := time.Now()
	for i := 0; i < n; i++ {
		require.NoError(t, a.Send(context.Background(), "b", []byte{byte(i)}))
	}
	for i := 0; i < n; i++ {
		select {
		case got := <-ch:
			require.Equal(t, []byte{byte(i)}, got.payload)
		case <-time.After(time.Second):
			t.Fatalf("datagram %d not delivered", i)
		}
	}
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}
