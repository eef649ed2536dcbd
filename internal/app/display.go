package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"crossing/internal/config"
	"crossing/internal/display"
	"crossing/internal/edge"
	"crossing/internal/history"
	"crossing/internal/httpapi"
	"crossing/internal/mirror"
	"crossing/internal/panel"
)

// displayStack is the display node with its optional status surfaces.
type displayStack struct {
	node     *display.Node
	db       *sql.DB
	recorder *history.Recorder
	mirror   *mirror.Mirror
	server   *http.Server
}

type displayStackOptions struct {
	Tuning       display.Tuning
	Panel        panel.Surface
	HTTPAddr     string
	RedisAddr    string
	HistoryLimit int
}

func newDisplayStack(ctx context.Context, opts displayStackOptions, logger *slog.Logger) (*displayStack, error) {
	s := &displayStack{}

	db, err := history.Open(ctx, logger)
	if err != nil {
		return nil, err
	}
	s.db = db
	repo := history.NewRepository(db, logger)
	s.recorder = history.NewRecorder(repo, opts.HistoryLimit, logger)

	surfaces := panel.Multi{opts.Panel}
	if opts.RedisAddr != "" {
		m := mirror.New(mirror.Options{Addr: opts.RedisAddr, Logger: logger})
		if err := m.Connect(ctx); err != nil {
			logger.Warn("redis mirror unavailable, continuing without it", "addr", opts.RedisAddr, "error", err)
		} else {
			logger.Info("redis mirror connected", "addr", opts.RedisAddr)
			s.mirror = m
			surfaces = append(surfaces, m)
		}
	}

	s.node = display.New(display.Options{
		Tuning:   opts.Tuning,
		Surface:  surfaces,
		Recorder: s.recorder,
		Logger:   logger,
	})
	if s.mirror != nil {
		s.mirror.SetState(s.node)
	}

	if opts.HTTPAddr != "" {
		mux := httpapi.NewMux(httpapi.Deps{State: s.node, Results: repo, DB: db})
		s.server = httpapi.NewServer(opts.HTTPAddr, mux, logger)
	}
	return s, nil
}

// run starts the background parts of the stack in g.
func (s *displayStack) run(ctx context.Context, g *errgroup.Group, logger *slog.Logger) {
	g.Go(func() error { return s.recorder.Run(ctx) })
	if s.mirror != nil {
		g.Go(func() error { return s.mirror.Run(ctx) })
	}
	if s.server != nil {
		g.Go(func() error {
			logger.Info("http listening", "addr", s.server.Addr)
			if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			logger.Info("http shutting down")
			return s.server.Shutdown(shutdownCtx)
		})
	}
}

func (s *displayStack) close(logger *slog.Logger) {
	if err := s.db.Close(); err != nil {
		logger.Error("db close", "error", err)
	}
}

func RunDisplay(ctx context.Context, cfg config.Display, logger *slog.Logger) error {
	logger.Info("initializing display node",
		"link", cfg.Kind,
		"node_id", cfg.NodeID,
		"button_pin", cfg.ButtonPin,
		"http_addr", cfg.HTTPAddr,
		"redis_addr", cfg.RedisAddr,
	)

	stack, err := newDisplayStack(ctx, displayStackOptions{
		Tuning:       cfg.Tuning,
		Panel:        panel.NewText(os.Stdout),
		HTTPAddr:     cfg.HTTPAddr,
		RedisAddr:    cfg.RedisAddr,
		HistoryLimit: cfg.HistoryLimit,
	}, logger)
	if err != nil {
		return err
	}
	defer stack.close(logger)

	lk, err := openLink(ctx, cfg.Link, logger)
	if err != nil {
		logger.Error("link init", "ok", false, "error", err)
		stack.node.ShowError("Link error!", "")
		return err
	}
	defer func() { _ = lk.Close() }()
	logger.Info("link init", "ok", true, "local", lk.LocalAddr())
	stack.node.SetLink(lk)

	var button edge.Source
	if cfg.ButtonPin != "" {
		button = edge.NewButtonPin(cfg.ButtonPin, logger)
	} else {
		logger.Info("no BUTTON_PIN set, each line on stdin toggles the mode")
		button = edge.NewLines(os.Stdin)
	}

	g, gctx := errgroup.WithContext(ctx)
	stack.run(gctx, g, logger)
	g.Go(func() error { return lk.Listen(gctx, stack.node.OnReport) })
	g.Go(func() error { return button.Run(gctx, stack.node.OnButtonEdge) })
	g.Go(func() error { return stack.node.Run(gctx) })
	return g.Wait()
}

func modeName(energy bool) string {
	if energy {
		return "energy"
	}
	return "speed"
}
