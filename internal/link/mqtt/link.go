// Package mqtt carries datagrams over an MQTT broker at QoS 0 (at most once).
// A datagram for node B from node A is published to
// <prefix>/B/from/A; each node subscribes to <prefix>/<self>/from/+.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"crossing/internal/link"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	qos            = byte(0)
	publishTimeout = 2 * time.Second
)

type Options struct {
	Broker      string
	Port        int
	NodeID      string
	TopicPrefix string
}

type Link struct {
	client mqtt.Client
	opts   Options
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool
	handler   link.Handler

	stopCh   chan struct{}
	stopOnce sync.Once
}

var _ link.Link = (*Link)(nil)

func New(opts Options, logger *slog.Logger) (*Link, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.NodeID == "" {
		return nil, fmt.Errorf("mqtt link: node id is required")
	}
	if strings.ContainsAny(opts.NodeID, "/+#") {
		return nil, fmt.Errorf("mqtt link: invalid node id %q", opts.NodeID)
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "crossing"
	}
	l := &Link{
		opts:   opts,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(fmt.Sprintf("tcp://%s:%d", opts.Broker, opts.Port))
	co.SetClientID("crossing-" + opts.NodeID)

	co.SetCleanSession(true)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(5 * time.Second)
	co.SetMaxReconnectInterval(60 * time.Second)

	co.SetKeepAlive(30 * time.Second)
	co.SetPingTimeout(10 * time.Second)

	co.SetOnConnectHandler(func(_ mqtt.Client) {
		l.setConnected(true)
		logger.Info("mqtt connected", "broker", opts.Broker, "port", opts.Port, "node", opts.NodeID)
		// Clean sessions drop subscriptions on reconnect.
		if err := l.subscribe(); err != nil {
			logger.Warn("mqtt resubscribe failed", "error", err)
		}
	})

	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		l.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	l.client = mqtt.NewClient(co)
	return l, nil
}

// Connect waits for the initial broker connection, respecting ctx and Close().
func (l *Link) Connect(ctx context.Context) error {
	select {
	case <-l.stopCh:
		return link.ErrClosed
	default:
	}

	if l.IsConnected() {
		return nil
	}

	token := l.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			l.client.Disconnect(0)
			return ctx.Err()
		case <-l.stopCh:
			l.client.Disconnect(0)
			return link.ErrClosed
		default:
		}
	}
}

func (l *Link) LocalAddr() link.Addr {
	return link.Addr(l.opts.NodeID)
}

func (l *Link) Send(ctx context.Context, to link.Addr, payload []byte) error {
	if to == "" {
		return link.ErrNoPeer
	}
	select {
	case <-l.stopCh:
		return link.ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !l.IsConnected() {
		return fmt.Errorf("%w: mqtt client not connected", link.ErrUnreachable)
	}

	topic := l.topicFor(to, l.LocalAddr())
	token := l.client.Publish(topic, qos, false, payload)

	timeout := publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Listen subscribes to this node's inbox and blocks until ctx is done.
func (l *Link) Listen(ctx context.Context, h link.Handler) error {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()

	if l.IsConnected() {
		if err := l.subscribe(); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
	case <-l.stopCh:
	}
	return nil
}

func (l *Link) subscribe() error {
	l.mu.RLock()
	h := l.handler
	l.mu.RUnlock()
	if h == nil {
		return nil
	}

	pattern := l.inboxPattern()
	token := l.client.Subscribe(pattern, qos, func(_ mqtt.Client, msg mqtt.Message) {
		from, ok := l.senderFrom(msg.Topic())
		if !ok {
			l.logger.Debug("mqtt: ignore message on unexpected topic", "topic", msg.Topic())
			return
		}
		h(from, append([]byte(nil), msg.Payload()...))
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for topic %s", pattern)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", pattern, err)
	}
	l.logger.Info("subscribed to mqtt topic", "topic", pattern, "qos", qos)
	return nil
}

func (l *Link) topicFor(to, from link.Addr) string {
	return fmt.Sprintf("%s/%s/from/%s", l.opts.TopicPrefix, to, from)
}

func (l *Link) inboxPattern() string {
	return fmt.Sprintf("%s/%s/from/+", l.opts.TopicPrefix, l.opts.NodeID)
}

func (l *Link) senderFrom(topic string) (link.Addr, bool) {
	prefix := fmt.Sprintf("%s/%s/from/", l.opts.TopicPrefix, l.opts.NodeID)
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	from := strings.TrimPrefix(topic, prefix)
	if from == "" || strings.Contains(from, "/") {
		return "", false
	}
	return link.Addr(from), true
}

func (l *Link) IsConnected() bool {
	l.mu.RLock()
	connected := l.connected
	l.mu.RUnlock()
	return connected && l.client.IsConnected()
}

// Close unsubscribes and disconnects. Idempotent.
func (l *Link) Close() error {
	l.stopOnce.Do(func() {
		close(l.stopCh)

		if l.client != nil && l.IsConnected() {
			token := l.client.Unsubscribe(l.inboxPattern())
			token.WaitTimeout(2 * time.Second)
		}
		if l.client != nil {
			l.client.Disconnect(250)
		}
		l.setConnected(false)
		l.logger.Info("mqtt link closed")
	})
	return nil
}

func (l *Link) setConnected(v bool) {
	l.mu.Lock()
	l.connected = v
	l.mu.Unlock()
}
