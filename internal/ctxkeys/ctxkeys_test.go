package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestID(t *testing.T) {
	_, ok := RequestID(context.Background())
	assert.False(t, ok)

	_, ok = RequestID(WithRequestID(context.Background(), ""))
	assert.False(t, ok, "empty ids are treated as absent")

	id, ok := RequestID(WithRequestID(context.Background(), "req-1"))
	assert.True(t, ok)
	assert.Equal(t, "req-1", id)
}

func TestPrincipal(t *testing.T) {
	ctx := WithPrincipal(WithRequestID(context.Background(), "req-1"), "operator")
	p, ok := Principal(ctx)
	assert.True(t, ok)
	assert.Equal(t, "operator", p)

	id, _ := RequestID(ctx)
	assert.Equal(t, "req-1", id)
}
