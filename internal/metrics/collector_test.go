package metrics

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.eventsAppended)
	assert.NotNil(t, collector.captureTotal)
	assert.NotNil(t, collector.snapshotOpsTotal)
}

func TestNewCollector_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() { NewCollector(nextTestNamespace(), nil) })
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("GET", "/api/v1/tree", 200, 100*time.Millisecond, 1024, 2048)
	collector.RecordHTTPRequest("GET", "/api/v1/tree", 200, 50*time.Millisecond, 512, 1024)

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/api/v1/tree", "2xx")))
}

func TestCollector_RecordHistoryOperations(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordEventAppended("agent-message")
	collector.RecordEventAppended("agent-message")
	collector.RecordCapture(true, 3, time.Millisecond)
	collector.RecordCapture(false, 3, time.Millisecond)
	collector.RecordRevert(true)
	collector.RecordBranch(false)
	collector.SetActiveBranches(4)
	collector.RecordStateTransition("running", "paused")
	collector.RecordReseedFailure("revert")

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.eventsAppended.WithLabelValues("agent-message")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.captureTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.captureTotal.WithLabelValues("partial")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.revertsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.branchesTotal.WithLabelValues("failure")))
	assert.Equal(t, float64(4), testutil.ToFloat64(collector.branchesActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.controllerState.WithLabelValues("running", "paused")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.captureAgents))
}

func TestCollector_RecordSnapshotOperation(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordSnapshotOperation("redis", "save_branch", nil, 2*time.Millisecond)
	collector.RecordSnapshotOperation("redis", "save_branch", errors.New("down"), time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.snapshotOpsTotal.WithLabelValues("redis", "save_branch", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.snapshotOpsTotal.WithLabelValues("redis", "save_branch", "error")))
}

func TestCollector_UpdateConnectionPool(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDBConnections("postgres", 10, 5)

	assert.Equal(t, float64(10), testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, float64(5), testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("postgres")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)
			collector.RecordEventAppended("control")
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(10), testutil.ToFloat64(collector.eventsAppended.WithLabelValues("control")))
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"}, {302, "3xx"}, {404, "4xx"}, {503, "5xx"}, {100, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCode(tt.code))
	}
}
