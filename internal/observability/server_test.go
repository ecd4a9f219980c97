package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"escar/internal/task/scheduler"
	logx "escar/pkg/logx"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	b, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(b)
}

func testRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	snap := scheduler.Snapshot{
		Started: 4, Skipped: 1, Failed: 2, InFlight: 1,
		Schedules: []scheduler.ScheduleInfo{{Name: "fs-stats-monitor", Next: time.Unix(1700000000, 0), Running: true}},
	}
	reg, err := NewRegistry(NewSchedulerCollector(func() scheduler.Snapshot { return snap }))
	require.NoError(t, err)
	return reg
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	s := New(Config{}, testRegistry(t), nil, logx.Nop())
	code, body := get(t, s.Handler(Config{}), "/metrics")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "escar_tasks_started_total 4")
	require.Contains(t, body, "escar_tasks_skipped_total 1")
	require.Contains(t, body, `escar_tasks_running{task="fs-stats-monitor"} 1`)
	require.Contains(t, body, "go_goroutines")
}

func TestCustomMetricsPath(t *testing.T) {
	t.Parallel()
	s := New(Config{}, testRegistry(t), nil, logx.Nop())
	h := s.Handler(Config{MetricsPath: "prom"})
	code, _ := get(t, h, "/prom")
	require.Equal(t, http.StatusOK, code)
	code, _ = get(t, h, "/metrics")
	require.Equal(t, http.StatusNotFound, code)
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	healthy := true
	s := New(Config{}, prometheus.NewRegistry(), func() (bool, any) {
		return healthy, map[string]bool{"server_live": healthy}
	}, logx.Nop())
	h := s.Handler(Config{})

	code, body := get(t, h, "/healthz")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"ok":true,"detail":{"server_live":true}}`, body)

	healthy = false
	code, _ = get(t, h, "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestPprofOnlyOnLoopback(t *testing.T) {
	t.Parallel()
	s := New(Config{}, prometheus.NewRegistry(), nil, logx.Nop())

	code, _ := get(t, s.Handler(Config{Addr: "127.0.0.1:0", Pprof: true}), "/debug/pprof/cmdline")
	require.Equal(t, http.StatusOK, code)

	code, _ = get(t, s.Handler(Config{Addr: "0.0.0.0:9108", Pprof: true}), "/debug/pprof/cmdline")
	require.Equal(t, http.StatusNotFound, code)

	code, _ = get(t, s.Handler(Config{Addr: "127.0.0.1:0"}), "/debug/pprof/cmdline")
	require.Equal(t, http.StatusNotFound, code)
}

func TestServeAndStop(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, testRegistry(t), nil, logx.Nop())
	s.Start(context.Background())

	require.Eventually(t, func() bool { return s.Addr() != "" }, 5*time.Second, 10*time.Millisecond)
	res, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	b, _ := io.ReadAll(res.Body)
	res.Body.Close()
	require.True(t, strings.Contains(string(b), "escar_tasks_in_flight 1"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
	require.Empty(t, s.Addr())
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:9108": true,
		"localhost:1":    true,
		"[::1]:9108":     true,
		":9108":          false,
		"10.0.0.1:9108":  false,
		"garbage":        false,
	}
	for addr, want := range tests {
		require.Equal(t, want, isLoopbackAddr(addr), addr)
	}
}
