//go:build e2e

package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"crossing/internal/link"
	"crossing/internal/protocol"
)

const brokerPort = nat.Port("1883/tcp")

func startBroker(t *testing.T) (string, int) {
	t.Helper()
	ctx := context.Background()

	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2",
		ExposedPorts: []string{string(brokerPort)},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		WaitingFor:   wait.ForListeningPort(brokerPort).WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start mosquitto: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("broker host: %v", err)
	}
	port, err := c.MappedPort(ctx, brokerPort)
	if err != nil {
		t.Fatalf("broker port: %v", err)
	}
	return host, port.Int()
}

func TestE2E_ReportAndModeRoundTrip(t *testing.T) {
	host, port := startBroker(t)

	measure, err := New(Options{Broker: host, Port: port, NodeID: "measure"}, nil)
	require.NoError(t, err)
	defer measure.Close()
	display, err := New(Options{Broker: host, Port: port, NodeID: "display"}, nil)
	require.NoError(t, err)
	defer display.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, measure.Connect(ctx))
	require.NoError(t, display.Connect(ctx))

	type got struct {
		from    link.Addr
		payload []byte
	}
	atDisplay := make(chan got, 4)
	atMeasure := make(chan got, 4)
	go func() {
		_ = display.Listen(ctx, func(from link.Addr, p []byte) { atDisplay <- got{from, p} })
	}()
	go func() {
		_ = measure.Listen(ctx, func(from link.Addr, p []byte) { atMeasure <- got{from, p} })
	}()
	time.Sleep(500 * time.Millisecond) // let subscriptions settle

	report, err := protocol.Report{Status: protocol.StatusWaiting, TimestampMs: 7}.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, measure.Send(ctx, "display", report))

	select {
	case g := <-atDisplay:
		assert.Equal(t, link.Addr("measure"), g.from)
		r, err := protocol.ParseReport(g.payload)
		require.NoError(t, err)
		assert.Equal(t, protocol.StatusWaiting, r.Status)

		mode, err := protocol.ModeReport{EnergyMode: true}.MarshalBinary()
		require.NoError(t, err)
		require.NoError(t, display.Send(ctx, g.from, mode))
	case <-ctx.Done():
		t.Fatal("report not delivered")
	}

	select {
	case g := <-atMeasure:
		m, err := protocol.ParseModeReport(g.payload)
		require.NoError(t, err)
		assert.True(t, m.EnergyMode)
	case <-ctx.Done():
		t.Fatal("mode report not delivered")
	}
}
