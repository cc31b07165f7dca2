package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/agentrewind/api"
	"github.com/BaSui01/agentrewind/controller"
	"github.com/BaSui01/agentrewind/persistence"
	"github.com/BaSui01/agentrewind/runtime/groupchat"
	"github.com/BaSui01/agentrewind/testutil"
	"github.com/BaSui01/agentrewind/types"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

type envelope[T any] struct {
	Success   bool       `json:"success"`
	Data      T          `json:"data"`
	Error     *ErrorInfo `json:"error"`
	RequestID string     `json:"request_id"`
}

type testAPI struct {
	srv     *httptest.Server
	manager *controller.Manager
	repo    persistence.Repository
}

// newTestAPI 启动一个使用 alice/bob 双人团队的 API；每次对话共 5 个事件：
// 任务、三条回复、终止。
func newTestAPI(t *testing.T, repo persistence.Repository) *testAPI {
	t.Helper()
	logger := zaptest.NewLogger(t)
	factory, err := groupchat.NewFactory(groupchat.Config{
		TeamID:       "api-test",
		Participants: []string{"alice", "bob"},
		MaxMessages:  4,
	}, groupchat.EchoResponder{}, logger)
	require.NoError(t, err)

	manager, err := controller.NewManager(factory, controller.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Shutdown(context.Background()) })

	mux := http.NewServeMux()
	NewHistoryHandler(manager, repo, logger).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testAPI{srv: srv, manager: manager, repo: repo}
}

func call[T any](t *testing.T, a *testAPI, method, path string, body any) (int, envelope[T]) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(testutil.MustJSON(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(testutil.TestContext(t), method, a.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope[T]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

// runToEnd 在根分支上完成一次对话
func (a *testAPI) runToEnd(t *testing.T) {
	t.Helper()
	status, env := call[api.BranchRef](t, a, http.MethodPost, "/api/v1/runs", api.RunRequest{Task: "plan a trip"})
	require.Equal(t, http.StatusAccepted, status)
	require.True(t, env.Success)
	require.Equal(t, types.BranchID(0), env.Data.BranchID)
	require.NoError(t, a.manager.Wait(testutil.TestContext(t), 0))
}

// =============================================================================
// 🧪 运行与查询
// =============================================================================

func TestHistoryHandler_RunAndInspect(t *testing.T) {
	a := newTestAPI(t, nil)
	a.runToEnd(t)

	status, hist := call[api.HistoryResponse](t, a, http.MethodGet, "/api/v1/branches/0/history", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, hist.Data.Events, 5)
	assert.Equal(t, types.KindConversationStart, hist.Data.Events[0].Kind)
	assert.Equal(t, types.KindTermination, hist.Data.Events[4].Kind)

	status, transcript := call[api.TranscriptResponse](t, a, http.MethodGet, "/api/v1/branches/0/transcript", nil)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, transcript.Data.Entries)
	assert.Equal(t, "plan a trip", transcript.Data.Entries[0].Content)

	status, info := call[api.BranchInfo](t, a, http.MethodGet, "/api/v1/branches/0", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "paused", info.Data.State)
	assert.Equal(t, 5, info.Data.Events)
	assert.Equal(t, types.Sequence(5), info.Data.CurrentSequence)
	assert.False(t, info.Data.Degraded)
	assert.Nil(t, info.Data.Parent)

	status, cp := call[api.CheckpointResponse](t, a, http.MethodGet, "/api/v1/branches/0/checkpoints/3", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, types.Sequence(3), cp.Data.Sequence)
	assert.Len(t, cp.Data.Agents, 3)

	status, tree := call[api.TreeResponse](t, a, http.MethodGet, "/api/v1/tree", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, tree.Data.Branches, 1)
	assert.Equal(t, controller.RootLabel, tree.Data.Branches[0].Label)
}

func TestHistoryHandler_RequestErrors(t *testing.T) {
	a := newTestAPI(t, nil)
	a.runToEnd(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{"empty task", http.MethodPost, "/api/v1/runs", api.RunRequest{Task: "  "}, http.StatusBadRequest, types.ErrInvalidRequest},
		{"bad branch id", http.MethodGet, "/api/v1/branches/abc", nil, http.StatusBadRequest, types.ErrInvalidRequest},
		{"unknown branch", http.MethodGet, "/api/v1/branches/7/history", nil, http.StatusNotFound, types.ErrBranchNotFound},
		{"unknown sequence", http.MethodPost, "/api/v1/branches/0/revert", api.RevertRequest{Sequence: 99}, http.StatusNotFound, types.ErrSequenceNotFound},
		{"bad checkpoint sequence", http.MethodGet, "/api/v1/branches/0/checkpoints/-1", nil, http.StatusBadRequest, types.ErrInvalidRequest},
		{"unknown field", http.MethodPost, "/api/v1/branches/0/branch", map[string]any{"seq": 1}, http.StatusBadRequest, types.ErrInvalidRequest},
		{"no store", http.MethodPost, "/api/v1/snapshots/save", nil, http.StatusServiceUnavailable, types.ErrStoreUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := call[json.RawMessage](t, a, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, status)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, string(tt.wantCode), env.Error.Code)
		})
	}
}

// =============================================================================
// 🧪 回退、分叉与继续
// =============================================================================

func TestHistoryHandler_RevertThenResume(t *testing.T) {
	a := newTestAPI(t, nil)
	a.runToEnd(t)

	status, info := call[api.BranchInfo](t, a, http.MethodPost, "/api/v1/branches/0/revert", api.RevertRequest{Sequence: 2})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, info.Data.Events)
	assert.Equal(t, types.Sequence(2), info.Data.CurrentSequence)

	status, _ = call[api.BranchRef](t, a, http.MethodPost, "/api/v1/branches/0/resume", nil)
	require.Equal(t, http.StatusAccepted, status)
	require.NoError(t, a.manager.Wait(testutil.TestContext(t), 0))

	events, err := a.manager.History(0)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, evt := range events {
		assert.Equal(t, types.Sequence(i+1), evt.Sequence)
	}
}

func TestHistoryHandler_ForkAndResumeChild(t *testing.T) {
	a := newTestAPI(t, nil)
	a.runToEnd(t)

	status, ref := call[api.BranchRef](t, a, http.MethodPost, "/api/v1/branches/0/branch",
		api.ForkRequest{Sequence: 3, Label: "alternative"})
	require.Equal(t, http.StatusCreated, status)
	child := ref.Data.BranchID
	assert.Equal(t, types.BranchID(1), child)

	_, tree := call[api.TreeResponse](t, a, http.MethodGet, "/api/v1/tree", nil)
	require.Len(t, tree.Data.Branches, 2)
	node := tree.Data.Branches[1]
	require.NotNil(t, node.Parent)
	assert.Equal(t, types.BranchID(0), *node.Parent)
	assert.Equal(t, types.Sequence(3), node.ForkSequence)
	assert.Equal(t, "alternative", node.Label)
	assert.Equal(t, "paused", node.State)

	task := "now plan a return trip"
	status, _ = call[api.BranchRef](t, a, http.MethodPost, "/api/v1/branches/1/resume", api.ResumeRequest{Task: &task})
	require.Equal(t, http.StatusAccepted, status)
	require.NoError(t, a.manager.Wait(testutil.TestContext(t), child))

	childEvents, err := a.manager.History(child)
	require.NoError(t, err)
	require.Greater(t, len(childEvents), 3)
	assert.Equal(t, types.KindConversationStart, childEvents[3].Kind)

	parentEvents, err := a.manager.History(0)
	require.NoError(t, err)
	assert.Len(t, parentEvents, 5)
}

func TestHistoryHandler_PauseIdleBranch(t *testing.T) {
	a := newTestAPI(t, nil)
	a.runToEnd(t)

	status, info := call[api.BranchInfo](t, a, http.MethodPost, "/api/v1/branches/0/pause", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "paused", info.Data.State)
}

func TestHistoryHandler_RetryCaptureOnHealthyBranch(t *testing.T) {
	a := newTestAPI(t, nil)
	a.runToEnd(t)

	status, cp := call[api.CheckpointResponse](t, a, http.MethodPost, "/api/v1/branches/0/retry-capture", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, types.Sequence(5), cp.Data.Sequence)
	assert.Len(t, cp.Data.Agents, 3)
}

// =============================================================================
// 🧪 导入导出与快照
// =============================================================================

func TestHistoryHandler_ExportImportRoundTrip(t *testing.T) {
	a := newTestAPI(t, nil)
	a.runToEnd(t)

	status, exported := call[api.BranchExport](t, a, http.MethodGet, "/api/v1/branches/0/export", nil)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, exported.Data.Log)
	require.NotEmpty(t, exported.Data.Checkpoints)

	_, _ = call[api.BranchInfo](t, a, http.MethodPost, "/api/v1/branches/0/revert", api.RevertRequest{Sequence: 1})

	status, info := call[api.BranchInfo](t, a, http.MethodPut, "/api/v1/branches/0/export", exported.Data)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 5, info.Data.Events)
	assert.Equal(t, types.Sequence(5), info.Data.CurrentSequence)

	status, env := call[json.RawMessage](t, a, http.MethodPut, "/api/v1/branches/3/export", exported.Data)
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Message, "belongs to branch 0")
}

func TestHistoryHandler_SaveAndLoadSnapshots(t *testing.T) {
	repo := persistence.NewMemoryRepository()
	a := newTestAPI(t, repo)
	a.runToEnd(t)
	_, _ = call[api.BranchRef](t, a, http.MethodPost, "/api/v1/branches/0/branch", api.ForkRequest{Sequence: 2})

	status, saved := call[api.SnapshotResponse](t, a, http.MethodPost, "/api/v1/snapshots/save", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, saved.Data.Branches)

	fresh := newTestAPI(t, repo)
	status, loaded := call[api.SnapshotResponse](t, fresh, http.MethodPost, "/api/v1/snapshots/load", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, loaded.Data.Branches)

	events, err := fresh.manager.History(0)
	require.NoError(t, err)
	assert.Len(t, events, 5)

	// 非空管理器拒绝再次加载
	status, env := call[json.RawMessage](t, fresh, http.MethodPost, "/api/v1/snapshots/load", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(types.ErrInvalidState), env.Error.Code)
}

// =============================================================================
// 🧪 事件流
// =============================================================================

func dialEvents(t *testing.T, a *testAPI, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(a.srv.URL, "http") + "/api/v1/branches/0/events" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) types.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg api.StreamMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, "event", msg.Type)
	require.NotNil(t, msg.Event)
	return *msg.Event
}

func TestHistoryHandler_EventStreamReplay(t *testing.T) {
	a := newTestAPI(t, nil)
	a.runToEnd(t)

	conn := dialEvents(t, a, "?from=2")
	for want := types.Sequence(3); want <= 5; want++ {
		assert.Equal(t, want, readEvent(t, conn).Sequence)
	}
}

func TestHistoryHandler_EventStreamLive(t *testing.T) {
	a := newTestAPI(t, nil)
	a.runToEnd(t)
	require.NoError(t, a.manager.Revert(testutil.TestContext(t), 0, 2))

	conn := dialEvents(t, a, "")
	require.NoError(t, a.manager.Resume(testutil.TestContext(t), 0, nil))

	for want := types.Sequence(3); want <= 5; want++ {
		evt := readEvent(t, conn)
		assert.Equal(t, want, evt.Sequence)
		assert.Equal(t, types.BranchID(0), evt.BranchID)
	}
}

func TestHistoryHandler_EventStreamUnknownBranch(t *testing.T) {
	a := newTestAPI(t, nil)

	resp, err := a.srv.Client().Get(a.srv.URL + "/api/v1/branches/0/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
