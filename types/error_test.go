package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrStoreUnavailable, "redis down").
		WithCause(root).
		WithHTTPStatus(503).
		WithRetryable(true)

	if GetErrorCode(err) != ErrStoreUnavailable {
		t.Fatalf("expected code %s, got %s", ErrStoreUnavailable, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestGetErrorCode_OutermostWins(t *testing.T) {
	t.Parallel()

	inner := NewPartialCheckpointError(4, []AgentFailure{{AgentID: "b", Err: errors.New("boom")}})
	wrapped := NewError(ErrInvalidState, "branch degraded").WithCause(inner)

	if got := GetErrorCode(wrapped); got != ErrInvalidState {
		t.Fatalf("expected %s, got %s", ErrInvalidState, got)
	}
	if got := GetErrorCode(fmt.Errorf("ctx: %w", inner)); got != ErrPartialCheckpoint {
		t.Fatalf("expected %s through fmt wrapping, got %s", ErrPartialCheckpoint, got)
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Fatalf("plain errors carry no code")
	}
}

func TestPartialCheckpointError_NamesEveryAgent(t *testing.T) {
	t.Parallel()

	causeA := errors.New("a failed")
	err := NewPartialCheckpointError(7, []AgentFailure{
		{AgentID: "writer", Err: causeA},
		{AgentID: "critic", Err: errors.New("c failed")},
	})

	agents := err.Agents()
	if len(agents) != 2 || agents[0] != "critic" || agents[1] != "writer" {
		t.Fatalf("unexpected agents %v", agents)
	}
	if !errors.Is(err, causeA) {
		t.Fatalf("expected per-agent cause to be reachable")
	}
	if !IsErrorCode(err, ErrPartialCheckpoint) {
		t.Fatalf("expected partial checkpoint code")
	}
}

func TestAgentRestoreError(t *testing.T) {
	t.Parallel()

	cause := errors.New("bad blob")
	err := &AgentRestoreError{AgentID: "writer", Sequence: 3, Cause: cause}
	if !err.RolledBack() {
		t.Fatalf("no rollback error means rolled back")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to unwrap")
	}
	var target *AgentRestoreError
	if !errors.As(fmt.Errorf("revert: %w", err), &target) || target.AgentID != "writer" {
		t.Fatalf("expected errors.As to find the restore error")
	}
}

func TestHTTPStatusFor(t *testing.T) {
	t.Parallel()

	cases := map[ErrorCode]int{
		ErrSequenceNotFound:  http.StatusNotFound,
		ErrInvalidState:      http.StatusConflict,
		ErrInvalidEventKind:  http.StatusBadRequest,
		ErrPartialCheckpoint: http.StatusUnprocessableEntity,
		ErrStoreUnavailable:  http.StatusServiceUnavailable,
		"SOMETHING_ELSE":     http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := HTTPStatusFor(code); got != want {
			t.Errorf("%s: expected %d, got %d", code, want, got)
		}
	}
}

func TestWrapError(t *testing.T) {
	t.Parallel()

	if WrapError(nil, ErrInternalError, "x") != nil {
		t.Fatalf("nil in, nil out")
	}
	coded := NewError(ErrBranchNotFound, "missing")
	if got := WrapError(fmt.Errorf("lookup: %w", coded), ErrInternalError, "x"); got.Code != ErrBranchNotFound {
		t.Fatalf("expected existing code to be kept, got %s", got.Code)
	}
	if got := WrapError(errors.New("io"), ErrStoreUnavailable, "save"); got.Code != ErrStoreUnavailable {
		t.Fatalf("expected new code, got %s", got.Code)
	}
}
