package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func newTestManager(t *testing.T, handler http.Handler, mutate func(*Config)) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	m := NewManager(handler, cfg, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 120*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
	assert.Equal(t, 1024, cfg.MaxConnections)
	assert.False(t, cfg.TLSEnabled())

	cfg.TLSCertFile = "cert.pem"
	assert.False(t, cfg.TLSEnabled())
	cfg.TLSKeyFile = "key.pem"
	assert.True(t, cfg.TLSEnabled())
}

func TestNewManager_TLSConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TLSCertFile, cfg.TLSKeyFile = "cert.pem", "key.pem"
	m := NewManager(http.NewServeMux(), cfg, nil)
	require.NotNil(t, m.server.TLSConfig)

	plain := NewManager(http.NewServeMux(), DefaultConfig(), nil)
	assert.Nil(t, plain.server.TLSConfig)
	assert.False(t, plain.IsRunning())
	assert.Equal(t, ":8080", plain.Addr())
}

func TestManager_StartAndShutdown(t *testing.T) {
	m := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}), nil)

	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())
	assert.NotEqual(t, "127.0.0.1:0", m.Addr())

	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_DoubleStart(t *testing.T) {
	m := newTestManager(t, http.NewServeMux(), nil)
	require.NoError(t, m.Start())
	assert.ErrorContains(t, m.Start(), "already started")
}

func TestManager_StartAfterShutdown(t *testing.T) {
	m := newTestManager(t, http.NewServeMux(), nil)
	require.NoError(t, m.Start())
	require.NoError(t, m.Shutdown(context.Background()))
	assert.ErrorIs(t, m.Start(), ErrServerClosed)
}

func TestManager_ListenError(t *testing.T) {
	first := newTestManager(t, http.NewServeMux(), nil)
	require.NoError(t, first.Start())

	second := newTestManager(t, http.NewServeMux(), func(c *Config) { c.Addr = first.Addr() })
	assert.ErrorContains(t, second.Start(), "failed to listen")
}

func TestManager_MaxConnections(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	m := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
		w.WriteHeader(http.StatusNoContent)
	}), func(c *Config) { c.MaxConnections = 1 })
	require.NoError(t, m.Start())

	client := func(timeout time.Duration) *http.Client {
		return &http.Client{Timeout: timeout, Transport: &http.Transport{DisableKeepAlives: true}}
	}

	firstDone := make(chan error, 1)
	go func() {
		resp, err := client(5 * time.Second).Get("http://" + m.Addr() + "/")
		if err == nil {
			resp.Body.Close()
		}
		firstDone <- err
	}()
	<-entered

	// The second connection is never accepted while the first is held.
	_, err := client(200 * time.Millisecond).Get("http://" + m.Addr() + "/")
	assert.Error(t, err)

	close(release)
	require.NoError(t, <-firstDone)
}

func TestManager_WaitForShutdownOnContext(t *testing.T) {
	m := newTestManager(t, http.NewServeMux(), nil)
	require.NoError(t, m.Start())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.WaitForShutdown(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("WaitForShutdown did not return")
	}
	assert.False(t, m.IsRunning())
}

func TestManager_Errors(t *testing.T) {
	m := NewManager(http.NewServeMux(), DefaultConfig(), zap.NewNop())
	select {
	case <-m.Errors():
		t.Fatal("should not have received an error")
	default:
	}
}
