package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portscout/internal/api/handlers"
	"github.com/anstrom/portscout/internal/config"
	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/metrics"
	"github.com/anstrom/portscout/internal/scanning"
)

type stubScanner struct {
	progress scanning.ProgressFunc
}

func (s *stubScanner) Run(_ context.Context, req *scanning.ScanRequest) (*scanning.ScanSummary, error) {
	if s.progress != nil {
		s.progress(len(req.Ports), len(req.Ports))
	}
	open := make([]scanning.PortResult, 0, len(req.Ports))
	for _, p := range req.Ports {
		open = append(open, scanning.PortResult{Port: p, Status: scanning.StatusOpen})
	}
	return scanning.BuildSummary(req.Target, "127.0.0.1", open, nil, nil, 10*time.Millisecond), nil
}

func stubFactory(progress scanning.ProgressFunc) handlers.Scanner {
	return &stubScanner{progress: progress}
}

func createTestConfig() *config.Config {
	cfg := config.Default()
	cfg.API.Host = "localhost"
	cfg.API.Port = 8080
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()
	server, err := New(cfg, nil,
		WithLogger(logging.NewDiscard()),
		WithMetrics(metrics.NewPrometheusMetrics()),
		WithScannerFactory(stubFactory),
	)
	require.NoError(t, err)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		ts.Close()
		server.Hub().Close()
	})
	return server, ts
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestNewServer(t *testing.T) {
	t.Run("requires configuration", func(t *testing.T) {
		server, err := New(nil, nil)
		assert.Error(t, err)
		assert.Nil(t, server)
	})

	t.Run("configures HTTP server", func(t *testing.T) {
		cfg := createTestConfig()
		server, err := New(cfg, nil, WithMetrics(metrics.NewPrometheusMetrics()))
		require.NoError(t, err)
		defer server.Hub().Close()

		assert.Equal(t, "localhost:8080", server.GetAddress())
		assert.Equal(t, cfg.API.ReadTimeout, server.httpServer.ReadTimeout)
		assert.Equal(t, cfg.API.WriteTimeout, server.httpServer.WriteTimeout)
		assert.Equal(t, cfg.API.IdleTimeout, server.httpServer.IdleTimeout)
		assert.NotNil(t, server.GetRouter())
		assert.NotNil(t, server.newScanner)
	})

	t.Run("formats IPv6 hosts", func(t *testing.T) {
		cfg := createTestConfig()
		cfg.API.Host = "::1"
		server, err := New(cfg, nil, WithMetrics(metrics.NewPrometheusMetrics()))
		require.NoError(t, err)
		defer server.Hub().Close()

		assert.Equal(t, "[::1]:8080", server.GetAddress())
	})
}

func TestRoutes(t *testing.T) {
	_, ts := newTestServer(t, createTestConfig())

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{name: "health", method: http.MethodGet, path: "/api/v1/health", status: http.StatusOK},
		{name: "create scan", method: http.MethodPost, path: "/api/v1/scans",
			body: `{"target":"localhost","ports":"22"}`, status: http.StatusCreated},
		{name: "scan history without database", method: http.MethodGet, path: "/api/v1/scans", status: http.StatusServiceUnavailable},
		{name: "profiles without database", method: http.MethodGet, path: "/api/v1/profiles", status: http.StatusServiceUnavailable},
		{name: "delete profile without database", method: http.MethodDelete, path: "/api/v1/profiles/web", status: http.StatusServiceUnavailable},
		{name: "metrics", method: http.MethodGet, path: "/metrics", status: http.StatusOK},
		{name: "unknown route", method: http.MethodGet, path: "/api/v1/hosts", status: http.StatusNotFound},
		{name: "wrong method", method: http.MethodPut, path: "/api/v1/scans", status: http.StatusMethodNotAllowed},
		{name: "wrong method on scan", method: http.MethodDelete, path: "/api/v1/scans/abc", status: http.StatusMethodNotAllowed},
		{name: "wrong method on profiles", method: http.MethodPatch, path: "/api/v1/profiles", status: http.StatusMethodNotAllowed},
		{name: "wrong method on profile", method: http.MethodPost, path: "/api/v1/profiles/web", status: http.StatusMethodNotAllowed},
		{name: "wrong method on health", method: http.MethodPost, path: "/api/v1/health", status: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, body)
			require.NoError(t, err)
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestMethodNotAllowedListsAllowedMethods(t *testing.T) {
	_, ts := newTestServer(t, createTestConfig())

	tests := []struct {
		path  string
		allow string
	}{
		{path: "/api/v1/scans", allow: "GET, POST"},
		{path: "/api/v1/scans/abc", allow: "GET"},
		{path: "/api/v1/profiles/web", allow: "DELETE, GET"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPut, ts.URL+tt.path, nil)
			require.NoError(t, err)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
			assert.Equal(t, tt.allow, resp.Header.Get("Allow"))
		})
	}
}

func TestCreateScanThroughServer(t *testing.T) {
	_, ts := newTestServer(t, createTestConfig())

	resp := postJSON(t, ts.URL+"/api/v1/scans", `{"target":"localhost","ports":"80,22"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var body handlers.ScanResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Nil(t, body.ID)
	require.Len(t, body.Summary.Open, 2)
	assert.Equal(t, 22, body.Summary.Open[0].Port)
	assert.Equal(t, 80, body.Summary.Open[1].Port)
}

func TestRejectsNonJSONBodies(t *testing.T) {
	_, ts := newTestServer(t, createTestConfig())

	resp, err := http.Post(ts.URL+"/api/v1/scans", "text/plain", strings.NewReader("target=localhost"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestRequestBodyLimit(t *testing.T) {
	cfg := createTestConfig()
	cfg.API.MaxRequestSize = 64
	_, ts := newTestServer(t, cfg)

	resp := postJSON(t, ts.URL+"/api/v1/scans", `{"target":"`+strings.Repeat("a", 200)+`","ports":"22"}`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body handlers.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Message, "too large")
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, createTestConfig())

	get(t, ts.URL+"/api/v1/health")

	resp := get(t, ts.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(raw)
	assert.Contains(t, text, "portscout_api_requests_total")
	assert.Contains(t, text, `route="/api/v1/health"`)
}

func TestCORS(t *testing.T) {
	t.Run("preflight answered", func(t *testing.T) {
		_, ts := newTestServer(t, createTestConfig())

		req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/scans", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "http://dashboard.local")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	})

	t.Run("disabled", func(t *testing.T) {
		cfg := createTestConfig()
		cfg.API.CORS.Enabled = false
		_, ts := newTestServer(t, cfg)

		req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/health", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "http://dashboard.local")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	})
}

func TestProgressFeed(t *testing.T) {
	server, ts := newTestServer(t, createTestConfig())

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws/progress"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	require.Eventually(t, func() bool { return server.Hub().ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	scanResp := postJSON(t, ts.URL+"/api/v1/scans", `{"target":"localhost","ports":"22,80,443"}`)
	require.Equal(t, http.StatusCreated, scanResp.StatusCode)

	var types []string
	for range 3 {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg handlers.WebSocketMessage
		require.NoError(t, conn.ReadJSON(&msg))
		types = append(types, msg.Type)
	}
	assert.Equal(t, []string{
		handlers.MessageScanStarted,
		handlers.MessageScanProgress,
		handlers.MessageScanCompleted,
	}, types)
}

func TestServerStartStop(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	cfg := createTestConfig()
	cfg.API.Host = "127.0.0.1"
	cfg.API.Port = port
	cfg.API.ShutdownTimeout = 2 * time.Second

	server, err := New(cfg, nil,
		WithLogger(logging.NewDiscard()),
		WithMetrics(metrics.NewPrometheusMetrics()),
		WithScannerFactory(stubFactory),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()

	healthURL := "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(port)) + "/api/v1/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(healthURL)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerStartPortInUse(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	cfg := createTestConfig()
	cfg.API.Host = "127.0.0.1"
	cfg.API.Port = listener.Addr().(*net.TCPAddr).Port

	server, err := New(cfg, nil, WithLogger(logging.NewDiscard()), WithMetrics(metrics.NewPrometheusMetrics()))
	require.NoError(t, err)

	err = server.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API server failed")
}
