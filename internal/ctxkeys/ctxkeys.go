package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	principalKey contextKey = "principal"
)

// WithRequestID 设置请求 ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID 获取请求 ID
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithPrincipal records who made the request: "jwt:<subject>" for bearer
// tokens, or "apikey:<digest>" for key authentication.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

// Principal 获取调用方身份
func Principal(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(principalKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
