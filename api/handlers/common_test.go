package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentrewind/internal/ctxkeys"
	"github.com/BaSui01/agentrewind/types"
)

// =============================================================================
// 🧪 Common 函数测试
// =============================================================================

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name       string
		data       any
		wantStatus int
	}{
		{name: "simple object", data: map[string]string{"message": "hello"}, wantStatus: http.StatusOK},
		{name: "array", data: []int{1, 2, 3}, wantStatus: http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, tt.wantStatus, tt.data)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		})
	}
}

func TestWriteSuccess_CarriesRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(ctxkeys.WithRequestID(r.Context(), "req-42"))

	WriteSuccess(w, r, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, w.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "req-42", resp.RequestID)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   types.ErrorCode
	}{
		{
			name:           "invalid request",
			err:            types.NewError(types.ErrInvalidRequest, "task is required"),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   types.ErrInvalidRequest,
		},
		{
			name:           "sequence not found",
			err:            types.Errorf(types.ErrSequenceNotFound, "no checkpoint at %d", 9),
			expectedStatus: http.StatusNotFound,
			expectedCode:   types.ErrSequenceNotFound,
		},
		{
			name:           "invalid state",
			err:            types.NewError(types.ErrInvalidState, "branch is running"),
			expectedStatus: http.StatusConflict,
			expectedCode:   types.ErrInvalidState,
		},
		{
			name:           "explicit status wins",
			err:            types.NewError(types.ErrInvalidRequest, "too large").WithHTTPStatus(http.StatusRequestEntityTooLarge),
			expectedStatus: http.StatusRequestEntityTooLarge,
			expectedCode:   types.ErrInvalidRequest,
		},
		{
			name:           "plain error",
			err:            errors.New("boom"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   types.ErrInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			WriteError(w, r, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.False(t, resp.Success)
			assert.Nil(t, resp.Data)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.expectedCode), resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestWriteError_CaptureAndRestoreDetails(t *testing.T) {
	t.Run("partial checkpoint lists agents", func(t *testing.T) {
		err := types.NewPartialCheckpointError(4, []types.AgentFailure{
			{AgentID: "critic", Err: errors.New("closed")},
			{AgentID: "alpha", Err: errors.New("closed")},
		})
		w := httptest.NewRecorder()
		WriteError(w, httptest.NewRequest(http.MethodPost, "/", nil), err, zap.NewNop())

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var resp Response
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, string(types.ErrPartialCheckpoint), resp.Error.Code)
		assert.Equal(t, []string{"alpha", "critic"}, resp.Error.Agents)
		assert.Nil(t, resp.Error.RolledBack)
	})

	t.Run("restore failure reports rollback", func(t *testing.T) {
		err := &types.AgentRestoreError{AgentID: "planner", Sequence: 2, Cause: errors.New("corrupt")}
		w := httptest.NewRecorder()
		WriteError(w, httptest.NewRequest(http.MethodPost, "/", nil), err, zap.NewNop())

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var resp Response
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, []string{"planner"}, resp.Error.Agents)
		require.NotNil(t, resp.Error.RolledBack)
		assert.True(t, *resp.Error.RolledBack)
	})
}

func TestDecodeJSONBody(t *testing.T) {
	logger := zap.NewNop()

	type TestStruct struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	tests := []struct {
		name       string
		body       string
		allowEmpty bool
		wantErr    bool
		checkFunc  func(*testing.T, *TestStruct)
	}{
		{
			name: "valid JSON",
			body: `{"name":"test","value":123}`,
			checkFunc: func(t *testing.T, ts *TestStruct) {
				assert.Equal(t, "test", ts.Name)
				assert.Equal(t, 123, ts.Value)
			},
		},
		{name: "invalid JSON", body: `{"name":"test",}`, wantErr: true},
		{name: "unknown field", body: `{"name":"test","unknown":"field"}`, wantErr: true},
		{name: "empty body rejected", body: "", wantErr: true},
		{
			name:       "empty body allowed",
			body:       "",
			allowEmpty: true,
			checkFunc: func(t *testing.T, ts *TestStruct) {
				assert.Empty(t, ts.Name)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(tt.body))

			var result TestStruct
			err := DecodeJSONBody(w, r, &result, tt.allowEmpty, logger)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, http.StatusBadRequest, w.Code)
				return
			}
			assert.NoError(t, err)
			if tt.checkFunc != nil {
				tt.checkFunc(t, &result)
			}
		})
	}
}

func TestDecodeJSONBody_MaxBodySize(t *testing.T) {
	oversized := `{"name":"` + strings.Repeat("x", maxBodyBytes+1) + `"}`

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(oversized))

	var result struct {
		Name string `json:"name"`
	}
	err := DecodeJSONBody(w, r, &result, false, zap.NewNop())

	require.Error(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestReadBody(t *testing.T) {
	w := httptest.NewRecorder()
	data, ok := ReadBody(w, httptest.NewRequest(http.MethodPut, "/", strings.NewReader("abc")), zap.NewNop())
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), data)

	w = httptest.NewRecorder()
	_, ok = ReadBody(w, httptest.NewRequest(http.MethodPut, "/", strings.NewReader("")), zap.NewNop())
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		want        bool
	}{
		{"valid application/json", "application/json", true},
		{"valid with charset", "application/json; charset=utf-8", true},
		{"valid with uppercase charset", "application/json; charset=UTF-8", true},
		{"valid with extra whitespace", "application/json;  charset=utf-8", true},
		{"invalid text/plain", "text/plain", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/test", nil)
			r.Header.Set("Content-Type", tt.contentType)

			assert.Equal(t, tt.want, ValidateContentType(w, r, zap.NewNop()))
		})
	}
}

func TestResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	rw := NewResponseWriter(w)

	assert.Equal(t, http.StatusOK, rw.StatusCode)
	assert.False(t, rw.Written)

	rw.WriteHeader(http.StatusCreated)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)
	assert.True(t, rw.Written)

	// 再次写入应该被忽略
	rw.WriteHeader(http.StatusBadRequest)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)

	n, err := rw.Write([]byte("test"))
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Same(t, w, rw.Unwrap())
}
