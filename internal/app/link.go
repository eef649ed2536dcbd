package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"crossing/internal/config"
	"crossing/internal/link"
	"crossing/internal/link/mqtt"
	"crossing/internal/link/udp"
)

// openLink brings up the configured transport. A failure here is fatal for
// the node, just like a radio that does not initialise.
func openLink(ctx context.Context, cfg config.Link, logger *slog.Logger) (link.Link, error) {
	switch cfg.Kind {
	case config.LinkUDP:
		l, err := udp.Listen(cfg.UDPListen, logger)
		if err != nil {
			return nil, fmt.Errorf("link init: %w", err)
		}
		return l, nil

	case config.LinkMQTT:
		l, err := mqtt.New(mqtt.Options{
			Broker:      cfg.MQTTBroker,
			Port:        cfg.MQTTPort,
			NodeID:      cfg.NodeID,
			TopicPrefix: cfg.MQTTTopicPrefix,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("link init: %w", err)
		}
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := l.Connect(connectCtx); err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("link init: %w", err)
		}
		return l, nil

	default:
		return nil, fmt.Errorf("link init: unknown link %q", cfg.Kind)
	}
}
