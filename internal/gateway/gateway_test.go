// ABOUTME: Tests for Gateway construction, lifecycle, health endpoints and dispatcher selection
// ABOUTME: Uses a real SQLite store in a temp dir and httptest recorders

package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/centinai-gateway/internal/config"
	"github.com/2389/centinai-gateway/internal/export"
	"github.com/2389/centinai-gateway/internal/store"
)

// testJWTSecret is 32 bytes, the minimum the verifier accepts.
const testJWTSecret = "gateway-test-jwt-secret-32bytes!"

// testConfig creates a minimal config backed by a temp-dir database.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			HTTPAddr: "127.0.0.1:0",
		},
		Database: config.DatabaseConfig{
			Path: filepath.Join(t.TempDir(), "gateway.db"),
		},
		Auth: config.AuthConfig{
			JWTSecret: testJWTSecret,
		},
		Conversations: config.ConversationsConfig{
			Timeout:       120 * time.Minute,
			SweepSchedule: "@every 1h",
		},
		Analyzer: config.AnalyzerConfig{
			Timeout: time.Second,
		},
		Webhook: config.WebhookConfig{
			MaxBodyBytes: 1 << 20,
			DedupeSize:   1000,
		},
	}
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestGateway builds a gateway that is shut down when the test ends.
func newTestGateway(t *testing.T, cfg *config.Config) *Gateway {
	t.Helper()
	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw
}

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t)
	gw := newTestGateway(t, cfg)

	assert.Same(t, cfg, gw.config)
	assert.NotNil(t, gw.store)
	assert.NotNil(t, gw.lifecycle)
	assert.NotNil(t, gw.router)
	assert.NotNil(t, gw.reaper)
	assert.NotNil(t, gw.verifier)
	assert.Nil(t, gw.dedupe, "duplicate suppression is off by default")
	assert.Equal(t, 120*time.Minute, gw.lifecycle.Timeout())
}

func TestGatewayNew_DedupeWindow(t *testing.T) {
	cfg := testConfig(t)
	cfg.Webhook.DedupeWindow = time.Minute

	gw := newTestGateway(t, cfg)
	assert.NotNil(t, gw.dedupe)
}

func TestGatewayNew_WeakJWTSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = "short"

	_, err := New(cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT verifier")
}

func TestGatewayNew_NoJWTSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = ""

	gw := newTestGateway(t, cfg)
	assert.Nil(t, gw.verifier)
}

func TestGatewayRunAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	gw, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(ctx)
	}()

	// Give it time to start
	time.Sleep(100 * time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("gateway did not shutdown in time")
	}
}

func TestGatewayRun_BadAddress(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.HTTPAddr = "not-an-address"
	gw := newTestGateway(t, cfg)

	err := gw.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on HTTP address")
}

func TestHealthEndpoint(t *testing.T) {
	gw := newTestGateway(t, testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	gw.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestReadyEndpoint(t *testing.T) {
	gw := newTestGateway(t, testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()
	gw.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", w.Body.String())
}

func TestReadyEndpoint_StoreClosed(t *testing.T) {
	gw, err := New(testConfig(t), testLogger())
	require.NoError(t, err)
	require.NoError(t, gw.store.Close())

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()
	gw.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNewDispatcher(t *testing.T) {
	tests := []struct {
		name  string
		setup func(cfg *config.Config)
		check func(t *testing.T, d export.Dispatcher)
	}{
		{
			name:  "nothing configured",
			setup: func(cfg *config.Config) {},
			check: func(t *testing.T, d export.Dispatcher) {
				assert.IsType(t, export.NopDispatcher{}, d)
			},
		},
		{
			name:  "analyzer only",
			setup: func(cfg *config.Config) { cfg.Analyzer.URL = "http://analyzer:8000" },
			check: func(t *testing.T, d export.Dispatcher) {
				assert.IsType(t, &export.HTTPDispatcher{}, d)
			},
		},
		{
			name:  "export dir only",
			setup: func(cfg *config.Config) { cfg.Export.Dir = filepath.Join(t.TempDir(), "exports") },
			check: func(t *testing.T, d export.Dispatcher) {
				assert.IsType(t, &export.FileDispatcher{}, d)
			},
		},
		{
			name: "both",
			setup: func(cfg *config.Config) {
				cfg.Analyzer.URL = "http://analyzer:8000"
				cfg.Export.Dir = filepath.Join(t.TempDir(), "exports")
			},
			check: func(t *testing.T, d export.Dispatcher) {
				multi, ok := d.(export.MultiDispatcher)
				require.True(t, ok)
				assert.Len(t, multi, 2)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.setup(cfg)
			d, err := NewDispatcher(cfg, testLogger())
			require.NoError(t, err)
			tt.check(t, d)
		})
	}
}

func TestGateway_SweepExportsIdleConversations(t *testing.T) {
	cfg := testConfig(t)
	cfg.Export.Dir = filepath.Join(t.TempDir(), "exports")
	gw := newTestGateway(t, cfg)
	seedAgent(t, gw, testAgent{})

	// A message from 2024 is long past the idle timeout
	w := postWebhook(t, gw.Handler(), "/webhook", map[string]string{"x-agent-secret": headerSecret},
		`{"from": "user-111", "text": "hola", "timestamp": 1718000000, "userName": "Ana"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res, err := gw.reaper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Closed)
	assert.Equal(t, 1, res.Exported)

	entries, err := os.ReadDir(cfg.Export.Dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "conversations-"))

	convs, err := gw.store.ListConversations(context.Background(), store.ConversationFilter{AccountID: "acct-1"})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, store.ConversationClosed, convs[0].Status)
	assert.NotNil(t, convs[0].ExportedAt)
}

func TestResolveTailscaleStateDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tests := []struct {
		name       string
		configured string
		want       string
	}{
		{"configured", "/var/lib/centinai/ts", "/var/lib/centinai/ts"},
		{"default under home", "", filepath.Join(home, ".local", "share", "centinai-gateway", "tailscale")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveTailscaleStateDir(tt.configured)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		env        string
		want       string
		wantErr    bool
	}{
		{"configured wins", "tskey-config", "tskey-env", "tskey-config", false},
		{"environment fallback", "", "tskey-env", "tskey-env", false},
		{"neither", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TS_AUTHKEY", tt.env)
			got, err := resolveTailscaleAuthKey(tt.configured)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "TS_AUTHKEY")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectTailnetListener(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TailscaleConfig
		want tailnetListener
	}{
		{"plain", config.TailscaleConfig{}, tailnetListener{addr: ":80"}},
		{"https", config.TailscaleConfig{HTTPS: true}, tailnetListener{addr: ":443", tls: true}},
		{"funnel", config.TailscaleConfig{Funnel: true}, tailnetListener{addr: ":443", funnel: true}},
		{"funnel wins over https", config.TailscaleConfig{Funnel: true, HTTPS: true}, tailnetListener{addr: ":443", funnel: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, selectTailnetListener(tt.cfg))
		})
	}
}
