package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/csi.report/internal/csi/chanspec"
	"github.com/banshee-data/csi.report/internal/csi/estimate"
	"github.com/banshee-data/csi.report/internal/csi/grouper"
	"github.com/banshee-data/csi.report/internal/csi/network"
	"github.com/banshee-data/csi.report/internal/db"
	"github.com/banshee-data/csi.report/internal/monitoring"
	"github.com/banshee-data/csi.report/internal/testutil"
)

type fixedTotals network.Totals

func (f fixedTotals) Totals() network.Totals { return network.Totals(f) }

func quiet(t *testing.T) {
	t.Helper()
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = orig })
}

func snapshot(t *testing.T, seq uint16) *grouper.WifiCsi {
	t.Helper()
	cs, err := chanspec.Decode(testutil.ChanSpec5G20)
	require.NoError(t, err)
	w := &grouper.WifiCsi{ChanSpec: cs, RSSI: -55, SeqCnt: seq}
	csi := make([]complex128, 64)
	for i := range csi {
		csi[i] = complex(float64(i), 0)
	}
	w.Frames[0][0] = csi
	w.Frames[3][0] = csi
	w.Frames[1][0] = csi
	return w
}

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	quiet(t)
	s, err := NewServer(cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(s.server.Handler)
	t.Cleanup(ts.Close)
	return s, ts
}

func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, Config{Stats: fixedTotals{Packets: 12, Snapshots: 3}})

	var got struct {
		Status  string         `json:"status"`
		Capture network.Totals `json:"capture"`
		LastSeq *uint16        `json:"last_seq"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/healthz", &got))
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, int64(12), got.Capture.Packets)
	assert.Equal(t, int64(3), got.Capture.Snapshots)
	assert.Nil(t, got.LastSeq)
}

func TestObserveAndAPIs(t *testing.T) {
	s, ts := newTestServer(t, Config{History: 2})

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/snapshot", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/debug/csi/amplitude", nil))

	for seq := uint16(1); seq <= 3; seq++ {
		w := snapshot(t, seq)
		s.Observe(w, estimate.Summarize(w, 0.028, time.Time{}))
	}

	var summaries []estimate.Summary
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/summaries", &summaries))
	require.Len(t, summaries, 2, "history is capped")
	assert.Equal(t, uint16(2), summaries[0].SeqCnt)
	assert.Equal(t, uint16(3), summaries[1].SeqCnt)

	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/summaries?limit=1", &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, uint16(3), summaries[0].SeqCnt)

	var snap snapshotResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/snapshot", &snap))
	assert.Equal(t, uint16(3), snap.SeqCnt)
	assert.Equal(t, "100/20", snap.ChanSpec)
	require.Len(t, snap.Amplitude["0/0"], 64)
	assert.Equal(t, 5.0, snap.Amplitude["0/0"][5])
	assert.Len(t, snap.Amplitude, 3)
}

func TestCharts(t *testing.T) {
	s, ts := newTestServer(t, Config{})
	w := snapshot(t, 9)
	s.Observe(w, estimate.Summarize(w, 0.028, time.Time{}))

	for _, path := range []string{"/debug/csi/amplitude", "/debug/csi/aoa", "/debug/csi/tof"} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + path)
			require.NoError(t, err)
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
			assert.Contains(t, string(body), "echarts")
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	m := monitoring.NewMetrics()
	m.Frame()
	_, ts := newTestServer(t, Config{Metrics: m})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "csi_frames_total 1")
}

func TestWebsocketBroadcast(t *testing.T) {
	m := monitoring.NewMetrics()
	s, ts := newTestServer(t, Config{Metrics: m})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/csi"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.Hub().Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	w := snapshot(t, 77)
	s.Observe(w, estimate.Summarize(w, 0.028, time.Time{}))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type string           `json:"type"`
		Data estimate.Summary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "summary", msg.Type)
	assert.Equal(t, uint16(77), msg.Data.SeqCnt)

	conn.Close()
	require.Eventually(t, func() bool { return s.Hub().Clients() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestSessionRoutes(t *testing.T) {
	quiet(t)
	store, err := db.NewDB(filepath.Join(t.TempDir(), "csi.db"))
	require.NoError(t, err)
	defer store.Close()
	sess, err := store.StartSession("router", "36/80")
	require.NoError(t, err)

	_, ts := newTestServer(t, Config{DB: store})

	var sessions []db.Session
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/sessions", &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, sess.ID, sessions[0].ID)

	var sum db.SessionSummary
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/sessions/"+sess.ID, &sum))
	assert.Equal(t, "router", sum.Session.Source)

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/sessions/unknown", nil))
}

func TestServerStartStop(t *testing.T) {
	quiet(t)
	s, err := NewServer(Config{Address: "127.0.0.1:0"})
	require.NoError(t, err)
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + s.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestListenError(t *testing.T) {
	quiet(t)
	s, err := NewServer(Config{Address: "256.0.0.1:bad"})
	require.NoError(t, err)
	assert.Error(t, s.Listen())
	assert.Nil(t, s.Addr())
	assert.False(t, errors.Is(s.Start(context.Background()), context.Canceled))
}
