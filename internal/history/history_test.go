package history

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossing/internal/display"
	"crossing/internal/protocol"
)

// captureHandler records log records for assertion in tests.
type captureHandler struct {
	mu      sync.Mutex
	records []map[string]slog.Value
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := map[string]slog.Value{"msg": slog.StringValue(r.Message)}
	r.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a.Value
		return true
	})
	h.records = append(h.records, m)
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

func (h *captureHandler) sqlFor(op string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, m := range h.records {
		if m["msg"].String() == "sql" && m["op"].String() == op {
			out = append(out, m["sql"].String())
		}
	}
	return out
}

func openTestDB(t *testing.T, logger *slog.Logger) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func entry(from string, elapsed float32) Entry {
	return Entry{
		ReceivedAt:     time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		From:           from,
		ElapsedSeconds: elapsed,
		SpeedKmh:       3.6 / elapsed,
		SenderMs:       4294967000,
		ViewMode:       "SPEED",
		EnergyJoules:   1.4,
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, nil)

	require.NoError(t, Migrate(ctx, db, slog.Default()))

	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestRepository_InsertLatestCount(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(openTestDB(t, nil), nil)

	empty, err := repo.Latest(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, e := range []Entry{entry("a", 1), entry("a", 2), entry("b", 4)} {
		_, err := repo.Insert(ctx, e)
		require.NoError(t, err)
	}

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := repo.Latest(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].From)
	assert.Equal(t, float32(4), got[0].ElapsedSeconds)
	assert.Equal(t, uint32(4294967000), got[0].SenderMs)
	assert.True(t, got[0].ReceivedAt.Equal(entry("", 1).ReceivedAt))
	assert.Equal(t, float32(2), got[1].ElapsedSeconds)
}

func TestRepository_RejectsUnknownViewMode(t *testing.T) {
	repo := NewRepository(openTestDB(t, nil), nil)
	e := entry("a", 1)
	e.ViewMode = "TURBO"

	_, err := repo.Insert(context.Background(), e)
	assert.Error(t, err)
}

func TestRepository_PruneKeepsNewest(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(openTestDB(t, nil), nil)
	for i := 1; i <= 5; i++ {
		_, err := repo.Insert(ctx, entry("a", float32(i)))
		require.NoError(t, err)
	}

	removed, err := repo.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	got, err := repo.Latest(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, float32(5), got[0].ElapsedSeconds)
	assert.Equal(t, float32(4), got[1].ElapsedSeconds)
}

func TestLoggingConnector_LogsStatements(t *testing.T) {
	h := &captureHandler{}
	repo := NewRepository(openTestDB(t, slog.New(h)), nil)

	_, err := repo.Insert(context.Background(), entry("a", 1))
	require.NoError(t, err)
	_, err = repo.Count(context.Background())
	require.NoError(t, err)

	assert.Contains(t, h.sqlFor("exec"), insertResultSQL)
	assert.Contains(t, h.sqlFor("query"), getResultsCountSQL)
}

func TestRecorder_WritesAndPrunes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo := NewRepository(openTestDB(t, nil), nil)
	rec := NewRecorder(repo, 2, nil)

	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	for i := 1; i <= 3; i++ {
		rec.Record(display.Result{
			From:        "measure",
			Report:      protocol.Report{Status: protocol.StatusResult, ElapsedSeconds: float32(i), SpeedKmh: 1},
			EnergyView:  i == 3,
			EnergyTotal: float32(i) * 1.4,
			ReceivedAt:  time.Now(),
		})
	}

	var got []Entry
	require.Eventually(t, func() bool {
		var err error
		got, err = repo.Latest(ctx, 10)
		return err == nil && len(got) == 2 && got[0].ElapsedSeconds == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "ENERGY", got[0].ViewMode)
	assert.Equal(t, "SPEED", got[1].ViewMode)
	assert.Zero(t, rec.Dropped())

	cancel()
	assert.NoError(t, <-done)
}
