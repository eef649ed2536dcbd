package app

import (
	"context"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"crossing/internal/config"
	"crossing/internal/edge"
	"crossing/internal/link"
	"crossing/internal/measure"
)

func RunMeasure(ctx context.Context, cfg config.Measure, logger *slog.Logger) error {
	logger.Info("initializing measurement node",
		"link", cfg.Kind,
		"node_id", cfg.NodeID,
		"peer", cfg.PeerAddr,
		"sensor_pin", cfg.SensorPin,
		"mode", modeName(cfg.EnergyMode),
	)

	lk, err := openLink(ctx, cfg.Link, logger)
	if err != nil {
		logger.Error("link init", "ok", false, "error", err)
		return err
	}
	defer func() { _ = lk.Close() }()
	logger.Info("link init", "ok", true, "local", lk.LocalAddr())

	node := measure.New(measure.Options{
		Tuning:     cfg.Tuning,
		Link:       lk,
		Peer:       link.Addr(cfg.PeerAddr),
		EnergyMode: cfg.EnergyMode,
		Logger:     logger,
	})

	var sensor edge.Source
	if cfg.SensorPin != "" {
		sensor = edge.NewSensorPin(cfg.SensorPin, logger)
	} else {
		logger.Info("no SENSOR_PIN set, each line on stdin is a beam edge")
		sensor = edge.NewLines(os.Stdin)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return lk.Listen(gctx, node.OnDatagram) })
	g.Go(func() error { return sensor.Run(gctx, node.OnEdge) })
	g.Go(func() error { return node.Run(gctx) })
	return g.Wait()
}
