package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/agentrewind/persistence"
)

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) ServiceHealthResponse {
	t.Helper()
	var status ServiceHealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	return status
}

func TestHealthHandler_Liveness(t *testing.T) {
	h := NewHealthHandler(zaptest.NewLogger(t))
	// 存活探针不运行依赖检查
	h.RegisterCheck(NewPingCheck("broken", func(context.Context) error { return errors.New("down") }))

	for _, path := range []string{"/health", "/healthz"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, path, nil)
			if path == "/health" {
				h.HandleHealth(w, r)
			} else {
				h.HandleHealthz(w, r)
			}

			assert.Equal(t, http.StatusOK, w.Code)
			status := decodeHealth(t, w)
			assert.Equal(t, "healthy", status.Status)
			assert.False(t, status.Timestamp.IsZero())
			assert.Empty(t, status.Checks)
		})
	}
}

func TestHealthHandler_HandleReady(t *testing.T) {
	fileDir := t.TempDir()
	fileRepo, err := persistence.NewFileRepository(fileDir, zap.NewNop())
	require.NoError(t, err)

	goneDir := t.TempDir()
	goneRepo, err := persistence.NewFileRepository(goneDir, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(goneDir))

	tests := []struct {
		name       string
		checks     map[string]func(context.Context) error
		wantStatus int
		wantHealth string
		wantFailed []string
	}{
		{
			name:       "no checks",
			wantStatus: http.StatusOK,
			wantHealth: "healthy",
		},
		{
			name: "memory and file stores",
			checks: map[string]func(context.Context) error{
				"memory_store": persistence.NewMemoryRepository().Ping,
				"file_store":   fileRepo.Ping,
			},
			wantStatus: http.StatusOK,
			wantHealth: "healthy",
		},
		{
			name: "file store directory removed",
			checks: map[string]func(context.Context) error{
				"memory_store": persistence.NewMemoryRepository().Ping,
				"file_store":   goneRepo.Ping,
			},
			wantStatus: http.StatusServiceUnavailable,
			wantHealth: "unhealthy",
			wantFailed: []string{"file_store"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(zaptest.NewLogger(t))
			for name, ping := range tt.checks {
				h.RegisterCheck(NewPingCheck(name, ping))
			}

			w := httptest.NewRecorder()
			h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			status := decodeHealth(t, w)
			assert.Equal(t, tt.wantHealth, status.Status)
			assert.Len(t, status.Checks, len(tt.checks))

			var failed []string
			for name, res := range status.Checks {
				assert.NotEmpty(t, res.Latency, name)
				if res.Status == "fail" {
					assert.NotEmpty(t, res.Message, name)
					failed = append(failed, name)
				}
			}
			assert.ElementsMatch(t, tt.wantFailed, failed)
		})
	}
}

func TestHealthHandler_ReadyTimeout(t *testing.T) {
	h := NewHealthHandler(zaptest.NewLogger(t))
	h.timeout = 50 * time.Millisecond
	h.RegisterCheck(NewPingCheck("hanging", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	h.RegisterCheck(NewPingCheck("fast", func(context.Context) error { return nil }))

	start := time.Now()
	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	status := decodeHealth(t, w)
	assert.Equal(t, "fail", status.Checks["hanging"].Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["hanging"].Message)
	assert.Equal(t, "pass", status.Checks["fast"].Status)
}

func TestHealthHandler_ChecksRunConcurrently(t *testing.T) {
	h := NewHealthHandler(nil)

	// 每个检查都等待其余检查开始，串行执行会超时
	const n = 4
	var started sync.WaitGroup
	started.Add(n)
	for i := 0; i < n; i++ {
		h.RegisterCheck(NewPingCheck(string(rune('a'+i)), func(ctx context.Context) error {
			started.Done()
			done := make(chan struct{})
			go func() { started.Wait(); close(done) }()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}))
	}

	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	h := NewHealthHandler(nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/version", nil)
	r.Header.Set("X-Request-ID", "req-v")
	h.HandleVersion("1.2.0", "2026-01-01T00:00:00Z", "abc123")(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp envelope[map[string]string]
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "req-v", resp.RequestID)
	assert.Equal(t, map[string]string{
		"version":    "1.2.0",
		"build_time": "2026-01-01T00:00:00Z",
		"git_commit": "abc123",
	}, resp.Data)
}

func TestPingCheck(t *testing.T) {
	calls := 0
	check := NewPingCheck("snapshot_store", func(ctx context.Context) error {
		calls++
		return errors.New("unreachable")
	})
	assert.Equal(t, "snapshot_store", check.Name())
	assert.EqualError(t, check.Check(context.Background()), "unreachable")
	assert.Equal(t, 1, calls)
}
