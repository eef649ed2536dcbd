package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossing/internal/clock"
	"crossing/internal/display"
	"crossing/internal/history"
	"crossing/internal/protocol"
)

type failingPinger struct{}

func (failingPinger) PingContext(context.Context) error { return errors.New("gone") }

type testServer struct {
	*httptest.Server
	node *display.Node
	repo history.Repository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := history.Open(context.Background(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := history.NewRepository(db, nil)
	node := display.New(display.Options{Tuning: display.DefaultTuning(), Clock: clock.NewFake(5000)})
	node.Start()

	ts := httptest.NewServer(NewServer(":0", NewMux(Deps{State: node, Results: repo, DB: db}), nil).Handler)
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, node: node, repo: repo}
}

func getJSON(t *testing.T, ts *httptest.Server, path string, out any) *http.Response {
	t.Helper()
	resp, err := ts.Client().Get(ts.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	var body map[string]string
	resp := getJSON(t, ts.Server, "/healthz", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestHealthz_DatabaseDown(t *testing.T) {
	ts := httptest.NewServer(NewMux(Deps{DB: failingPinger{}}))
	t.Cleanup(ts.Close)

	var body map[string]any
	resp := getJSON(t, ts, "/healthz", &body)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body, "message")
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t)
	payload, err := protocol.Report{Status: protocol.StatusResult, ElapsedSeconds: 1.5, SpeedKmh: 2.4}.MarshalBinary()
	require.NoError(t, err)
	ts.node.OnReport("10.0.0.7:4210", payload)

	var snap display.Snapshot
	resp := getJSON(t, ts.Server, "/status", &snap)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SPEED", snap.Mode)
	assert.Equal(t, "Time: 1.50s", snap.Frame.Line1)
	assert.Equal(t, protocol.StatusResult, snap.Report.Status)
	assert.Equal(t, uint64(1), snap.Impulses)
	assert.False(t, snap.LinkLost)
}

func TestResults(t *testing.T) {
	ts := newTestServer(t)
	for i := 1; i <= 3; i++ {
		_, err := ts.repo.Insert(context.Background(), history.Entry{
			ReceivedAt:     time.Now(),
			From:           "measure",
			ElapsedSeconds: float32(i),
			ViewMode:       "SPEED",
		})
		require.NoError(t, err)
	}

	var body struct {
		Limit int             `json:"limit"`
		Total int             `json:"total"`
		Items []history.Entry `json:"items"`
	}
	resp := getJSON(t, ts.Server, "/results?limit=2", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, body.Limit)
	assert.Equal(t, 3, body.Total)
	require.Len(t, body.Items, 2)
	assert.Equal(t, float32(3), body.Items[0].ElapsedSeconds)
}

func TestResults_InvalidLimit(t *testing.T) {
	ts := newTestServer(t)

	for _, q := range []string{"limit=abc", "limit=0", "limit=5000"} {
		t.Run(q, func(t *testing.T) {
			var body map[string]any
			resp := getJSON(t, ts.Server, "/results?"+q, &body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, body, "error")
		})
	}
}

func TestResults_HistoryDisabled(t *testing.T) {
	ts := httptest.NewServer(NewMux(Deps{}))
	t.Cleanup(ts.Close)

	var body map[string]any
	resp := getJSON(t, ts, "/results", &body)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRouting_WrongMethod(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.Client().Post(ts.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
