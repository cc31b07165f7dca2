package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/BaSui01/agentrewind/internal/ctxkeys"
	"github.com/BaSui01/agentrewind/types"
	"go.uber.org/zap"
)

// maxBodyBytes caps request bodies. Imports carry whole logs, so the limit
// is larger than a plain control request would need.
const maxBodyBytes = 8 << 20

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	Retryable bool     `json:"retryable,omitempty"`
	Agents    []string `json:"agents,omitempty"`
	// RolledBack 仅在 AGENT_RESTORE 错误时出现
	RolledBack *bool `json:"rolled_back,omitempty"`
}

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入成功响应
func WriteSuccess(w http.ResponseWriter, r *http.Request, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: requestID(r),
	})
}

// WriteError 将任意错误写为统一错误响应。状态码取自错误码。
func WriteError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	info := errorInfo(err)
	status := types.HTTPStatusFor(types.ErrorCode(info.Code))
	if e, ok := types.AsError(err); ok && e.HTTPStatus != 0 {
		status = e.HTTPStatus
	}

	if logger != nil {
		level := zap.WarnLevel
		if status >= http.StatusInternalServerError {
			level = zap.ErrorLevel
		}
		logger.Log(level, "API error",
			zap.String("code", info.Code),
			zap.Int("status", status),
			zap.String("request_id", requestID(r)),
			zap.Error(err),
		)
	}

	WriteJSON(w, status, Response{
		Success:   false,
		Error:     info,
		Timestamp: time.Now(),
		RequestID: requestID(r),
	})
}

// WriteErrorMessage 写入简单错误消息
func WriteErrorMessage(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, r, types.NewError(code, message), logger)
}

func errorInfo(err error) *ErrorInfo {
	code := types.GetErrorCode(err)
	if code == "" {
		code = types.ErrInternalError
	}
	info := &ErrorInfo{Code: string(code), Message: err.Error(), Retryable: types.IsRetryable(err)}

	var partial *types.PartialCheckpointError
	if errors.As(err, &partial) {
		info.Agents = partial.Agents()
	}
	var restore *types.AgentRestoreError
	if errors.As(err, &restore) {
		info.Agents = []string{restore.AgentID}
		rolledBack := restore.RolledBack()
		info.RolledBack = &rolledBack
	}
	if e, ok := types.AsError(err); ok && e.Code == code {
		info.Message = e.Message
	}
	return info
}

func requestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	if id, ok := ctxkeys.RequestID(r.Context()); ok {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体。空请求体在 allowEmpty 时保留 dst 的零值。
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool, logger *zap.Logger) error {
	if r.Body == nil || r.Body == http.NoBody {
		if allowEmpty {
			return nil
		}
		err := types.NewError(types.ErrInvalidRequest, "request body is empty")
		WriteError(w, r, err, logger)
		return err
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		apiErr := types.NewError(types.ErrInvalidRequest, "invalid JSON body").WithCause(err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apiErr = types.NewError(types.ErrInvalidRequest, "request body too large").
				WithCause(err).
				WithHTTPStatus(http.StatusRequestEntityTooLarge)
		}
		WriteError(w, r, apiErr, logger)
		return apiErr
	}

	return nil
}

// ReadBody 读取原始请求体（用于导入），受同样的大小限制。
func ReadBody(w http.ResponseWriter, r *http.Request, logger *zap.Logger) ([]byte, bool) {
	if r.Body == nil {
		WriteErrorMessage(w, r, types.ErrInvalidRequest, "request body is empty", logger)
		return nil, false
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrInvalidRequest, "unreadable request body").
			WithCause(err).
			WithHTTPStatus(http.StatusRequestEntityTooLarge), logger)
		return nil, false
	}
	if len(data) == 0 {
		WriteErrorMessage(w, r, types.ErrInvalidRequest, "request body is empty", logger)
		return nil, false
	}
	return data, true
}

// ValidateContentType 验证 Content-Type
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		WriteErrorMessage(w, r, types.ErrInvalidRequest, "Content-Type must be application/json", logger)
		return false
	}
	return true
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader 重写 WriteHeader 以捕获状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write 重写 Write 以标记已写入
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap 供 http.ResponseController 与 WebSocket 升级访问底层连接
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
