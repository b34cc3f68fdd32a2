package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"callbox/internal/core/domain"
	"callbox/internal/core/services"
	"callbox/internal/infrastructure/monitoring"
	"callbox/internal/infrastructure/transport"
	"callbox/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingSink struct {
	mu     sync.Mutex
	frames int
}

func (s *countingSink) Send(domain.AudioFrame) {
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
}

func (s *countingSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func TestLoadConfig_ExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "callbox.yaml")
	require.NoError(t, os.WriteFile(path, []byte("broadcast:\n  default_name: Booth\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "Booth", cfg.Broadcast.DefaultName)
}

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Server.Address, cfg.Server.Address)
}

func TestWebRTCConfig_FallsBackToPublicSTUN(t *testing.T) {
	wc := WebRTCConfig(config.DefaultConfig())

	require.Len(t, wc.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, wc.ICEServers[0].URLs)
}

func TestIngestConfig_RateLimitsOnlyWhenEnabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 3

	assert.Equal(t, transport.DefaultIngestConfig().MessagesPerSecond, IngestConfig(cfg).MessagesPerSecond)

	cfg.RateLimiting.Enabled = true
	assert.Equal(t, 3.0, IngestConfig(cfg).MessagesPerSecond)
}

func TestUplinkConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	uc, err := UplinkConfig(cfg, "session-1")
	require.NoError(t, err)
	assert.Equal(t, transport.DropOldest, uc.Policy)
	assert.Equal(t, cfg.Transport.HostURL, uc.URL)
	assert.Equal(t, "session-1", uc.SessionID)
	assert.Equal(t, cfg.Transport.Reconnect.MaxDelay, uc.Retry.MaxDelay)

	cfg.Transport.DropPolicy = "block"
	_, err = UplinkConfig(cfg, "session-1")
	assert.Error(t, err)
}

func TestCapture_RunEmitsBlocksOnceEnabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Capture.BlockSize = 480 // 10ms at 48kHz
	sink := &countingSink{}

	capture, err := NewCapture(cfg, sink, nil, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer capture.Shutdown()
	require.NoError(t, capture.Service.Enable())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		capture.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return sink.Count() >= 3 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, capture.Service.Status().Enabled)

	cancel()
	<-done
}

func TestCapture_RunStaysIdleUntilEnabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Capture.BlockSize = 480
	sink := &countingSink{}

	capture, err := NewCapture(cfg, sink, nil, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	capture.Run(ctx)

	assert.Zero(t, sink.Count())
	assert.NoError(t, capture.Shutdown())
}

func TestOperationalRoutes(t *testing.T) {
	cfg := config.DefaultConfig()
	router := NewRouter(cfg, zaptest.NewLogger(t))

	checker := monitoring.NewHealthChecker()
	healthy := true
	checker.AddCheck("pipeline", func(ctx context.Context) (bool, error) { return healthy, nil }, time.Second)
	RegisterOperationalRoutes(router, cfg, checker, services.NewMetricsService(nil), time.Now())

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	healthy = false
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestControlRoutes_ProtectControl(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Auth.ProtectControl = true
	auth := transport.NewTokenAuthority(cfg.Auth.JWTSecret, time.Minute)

	router := NewRouter(cfg, zaptest.NewLogger(t))
	ControlRoutes(router, cfg, auth).GET("/api/v1/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := auth.Issue("operator")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
