package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"crossing/internal/config"
)

// New builds the process logger on stdout. Dev builds get tint's colored
// output; release builds log JSON.
func New(cfg config.Logging, version string, appName string) *slog.Logger {
	return NewTo(os.Stdout, cfg, version, appName)
}

// NewTo is New with an explicit destination. The simulator logs to stderr so
// that rendered frames own stdout.
func NewTo(w io.Writer, cfg config.Logging, version string, appName string) *slog.Logger {
	if version == "dev" {
		h := tint.NewHandler(w, &tint.Options{
			Level:      cfg.LogLevel,
			AddSource:  cfg.LogLevel <= slog.LevelDebug,
			TimeFormat: time.Kitchen,
			NoColor:    cfg.AppEnv == "prod",
		})
		return slog.New(h).With("app", appName)
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})
	return slog.New(h).With(
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
	)
}

// Node tags every record with the node identity and role.
func Node(l *slog.Logger, role, nodeID string) *slog.Logger {
	return l.With("role", role, "node", nodeID)
}
