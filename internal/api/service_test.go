package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmdmdm-nz/netusage/internal/usage"
)

// mockMonitor is a hand-driven Monitor for testing
type mockMonitor struct {
	mu     sync.Mutex
	latest *usage.Snapshot
	ready  chan struct{}
	feed   chan usage.Snapshot

	unsubscribed chan struct{}
}

func newMockMonitor() *mockMonitor {
	return &mockMonitor{
		ready:        make(chan struct{}),
		feed:         make(chan usage.Snapshot, 4),
		unsubscribed: make(chan struct{}),
	}
}

func (m *mockMonitor) Latest() (usage.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return usage.Snapshot{}, false
	}
	return *m.latest, true
}

func (m *mockMonitor) Ready() <-chan struct{} { return m.ready }

func (m *mockMonitor) Subscribe() (<-chan usage.Snapshot, func()) {
	var once sync.Once
	return m.feed, func() { once.Do(func() { close(m.unsubscribed) }) }
}

func (m *mockMonitor) set(snap usage.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		close(m.ready)
	}
	m.latest = &snap
}

func get(t *testing.T, srv *httptest.Server, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(NewService(newMockMonitor(), Options{}).Handler())
	defer srv.Close()

	resp, _ := get(t, srv, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	post, err := http.Post(srv.URL+"/health", "text/plain", nil)
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}

func TestReady(t *testing.T) {
	mon := newMockMonitor()
	srv := httptest.NewServer(NewService(mon, Options{}).Handler())
	defer srv.Close()

	resp, _ := get(t, srv, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	mon.set(usage.Snapshot{Speeds: map[string]usage.Speed{}})

	resp, _ = get(t, srv, "/ready")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUsage(t *testing.T) {
	mon := newMockMonitor()
	srv := httptest.NewServer(NewService(mon, Options{}).Handler())
	defer srv.Close()

	resp, _ := get(t, srv, "/usage")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	mon.set(usage.Snapshot{
		Time:    time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Elapsed: time.Second,
		Speeds:  map[string]usage.Speed{"en0": {RxBytesPerSec: 1536, TxBytesPerSec: 512}},
	})

	resp, body := get(t, srv, "/usage")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap usage.Snapshot
	require.NoError(t, json.Unmarshal([]byte(body), &snap))
	assert.Equal(t, usage.Speed{RxBytesPerSec: 1536, TxBytesPerSec: 512}, snap.Speeds["en0"])
	assert.Equal(t, time.Second, snap.Elapsed)
	assert.Contains(t, body, `"rxBytesPerSec":1536`)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "netusage_test_gauge", Help: "test"})
	g.Set(3)
	reg.MustRegister(g)

	srv := httptest.NewServer(NewService(newMockMonitor(), Options{Metrics: reg}).Handler())
	defer srv.Close()

	resp, body := get(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "netusage_test_gauge 3")
}

func TestMetricsDisabled(t *testing.T) {
	srv := httptest.NewServer(NewService(newMockMonitor(), Options{}).Handler())
	defer srv.Close()

	resp, _ := get(t, srv, "/metrics")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamUsage(t *testing.T) {
	mon := newMockMonitor()
	srv := httptest.NewServer(NewService(mon, Options{}).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/usage", nil)
	require.NoError(t, err)

	mon.feed <- usage.Snapshot{Speeds: map[string]usage.Speed{"en0": {RxBytesPerSec: 1}}}
	mon.feed <- usage.Snapshot{Speeds: map[string]usage.Speed{"en0": {RxBytesPerSec: 2}}}

	for _, want := range []float64{1, 2} {
		var snap usage.Snapshot
		require.NoError(t, wsjson.Read(ctx, c, &snap))
		assert.Equal(t, want, snap.Speeds["en0"].RxBytesPerSec)
	}

	require.NoError(t, c.Close(websocket.StatusNormalClosure, "done"))

	select {
	case <-mon.unsubscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not unsubscribe after client left")
	}
}

func TestStreamUsageEndsWhenMonitorStops(t *testing.T) {
	mon := newMockMonitor()
	srv := httptest.NewServer(NewService(mon, Options{}).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/usage", nil)
	require.NoError(t, err)
	defer c.CloseNow()

	close(mon.feed)

	_, _, err = c.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func TestService_StartAndStop(t *testing.T) {
	svc := NewService(newMockMonitor(), Options{Listen: "127.0.0.1:0", MaxConns: 4})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	require.Eventually(t, func() bool { return svc.Addr() != nil }, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + svc.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("timeout waiting for Start to return")
	}

	assert.NoError(t, svc.Close())
	assert.NoError(t, svc.Close())
}

func TestService_StartFailsOnBadAddress(t *testing.T) {
	svc := NewService(newMockMonitor(), Options{Listen: "127.0.0.1:-1"})
	assert.Error(t, svc.Start(context.Background()))
}

func TestService_CloseBeforeStart(t *testing.T) {
	svc := NewService(newMockMonitor(), Options{Listen: "127.0.0.1:0"})
	require.NoError(t, svc.Close())
	assert.NoError(t, svc.Start(context.Background()))
	assert.Nil(t, svc.Addr())
}

func TestAdvertiseTXT(t *testing.T) {
	txt := advertiseTXT()
	assert.Contains(t, txt, "usage=/usage")
	assert.Contains(t, txt, "stream=/ws/usage")
	assert.True(t, strings.HasPrefix(txt[0], "version="))
}
