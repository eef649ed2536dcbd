package history

import (
	"context"
	"log/slog"
	"sync/atomic"

	"crossing/internal/display"
	"crossing/internal/protocol"
)

// Recorder writes display results to the repository from its own goroutine
// so the receive callback never waits on the database.
type Recorder struct {
	repo    Repository
	limit   int
	logger  *slog.Logger
	queue   chan Entry
	dropped atomic.Uint64
}

func NewRecorder(repo Repository, limit int, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		repo:   repo,
		limit:  limit,
		logger: logger,
		queue:  make(chan Entry, 64),
	}
}

// Record implements display.Recorder. It drops the entry when the writer
// is behind.
func (r *Recorder) Record(res display.Result) {
	e := Entry{
		ReceivedAt:     res.ReceivedAt,
		From:           string(res.From),
		ElapsedSeconds: res.Report.ElapsedSeconds,
		SpeedKmh:       res.Report.SpeedKmh,
		SenderMs:       res.Report.TimestampMs,
		ViewMode:       protocol.ModeName(res.EnergyView),
		EnergyJoules:   res.EnergyTotal,
	}
	select {
	case r.queue <- e:
	default:
		n := r.dropped.Add(1)
		r.logger.Warn("history queue full, result dropped", "dropped_total", n)
	}
}

// Dropped is the number of results lost to a full queue.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Run drains the queue until ctx is done.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-r.queue:
			r.write(ctx, e)
		}
	}
}

func (r *Recorder) write(ctx context.Context, e Entry) {
	id, err := r.repo.Insert(ctx, e)
	if err != nil {
		r.logger.Error("record result", "error", err)
		return
	}
	if r.limit > 0 {
		if n, err := r.repo.Prune(ctx, r.limit); err != nil {
			r.logger.Error("prune results", "error", err)
		} else if n > 0 {
			r.logger.Debug("results pruned", "removed", n)
		}
	}
	r.logger.Debug("result recorded", "id", id, "from", e.From, "elapsed_s", e.ElapsedSeconds)
}
