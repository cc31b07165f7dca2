package controller

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/BaSui01/agentrewind/internal/metrics"
	"github.com/BaSui01/agentrewind/types"
)

const instrumentationName = "github.com/BaSui01/agentrewind/controller"

// instruments 汇总 OTel 追踪/指标与 Prometheus 收集器
type instruments struct {
	tracer trace.Tracer
	// 计数器
	operationTotal metric.Int64Counter
	eventTotal     metric.Int64Counter
	// 直方图
	operationDuration metric.Float64Histogram
	captureDuration   metric.Float64Histogram
	// 仪表
	runningBranches metric.Int64UpDownCounter

	collector *metrics.Collector
}

func newInstruments(collector *metrics.Collector) (*instruments, error) {
	meter := otel.Meter(instrumentationName)
	in := &instruments{
		tracer:    otel.Tracer(instrumentationName),
		collector: collector,
	}

	var err error

	in.operationTotal, err = meter.Int64Counter("controller.operation.total",
		metric.WithDescription("Total number of controller operations"),
		metric.WithUnit("{operation}"))
	if err != nil {
		return nil, err
	}

	in.eventTotal, err = meter.Int64Counter("controller.event.total",
		metric.WithDescription("Total number of intercepted events"),
		metric.WithUnit("{event}"))
	if err != nil {
		return nil, err
	}

	in.operationDuration, err = meter.Float64Histogram("controller.operation.duration",
		metric.WithDescription("Controller operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5))
	if err != nil {
		return nil, err
	}

	in.captureDuration, err = meter.Float64Histogram("controller.capture.duration",
		metric.WithDescription("Checkpoint capture duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5))
	if err != nil {
		return nil, err
	}

	in.runningBranches, err = meter.Int64UpDownCounter("controller.running",
		metric.WithDescription("Number of branches currently running"),
		metric.WithUnit("{branch}"))
	if err != nil {
		return nil, err
	}

	return in, nil
}

// start 开始一个操作 span
func (in *instruments) start(ctx context.Context, op string, branch types.BranchID, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	attrs = append(attrs, attribute.Int64("branch.id", int64(branch)))
	ctx, span := in.tracer.Start(ctx, "controller."+op, trace.WithAttributes(attrs...))
	return ctx, span, time.Now()
}

// end 结束操作 span 并记录指标
func (in *instruments) end(ctx context.Context, span trace.Span, op string, started time.Time, err error) {
	defer span.End()

	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.code", string(types.GetErrorCode(err))))
	}
	attrs := metric.WithAttributes(attribute.String("operation", op), attribute.String("status", status))
	in.operationTotal.Add(ctx, 1, attrs)
	in.operationDuration.Record(ctx, time.Since(started).Seconds(), attrs)

	if in.collector == nil {
		return
	}
	switch op {
	case "revert":
		in.collector.RecordRevert(err == nil)
	case "branch":
		in.collector.RecordBranch(err == nil)
	}
}

func (in *instruments) event(ctx context.Context, kind types.EventKind) {
	in.eventTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
	if in.collector != nil {
		in.collector.RecordEventAppended(string(kind))
	}
}

func (in *instruments) capture(ctx context.Context, agents int, started time.Time, err error) {
	elapsed := time.Since(started)
	in.captureDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.Bool("success", err == nil)))
	if in.collector != nil {
		in.collector.RecordCapture(err == nil, agents, elapsed)
	}
}

func (in *instruments) transition(ctx context.Context, from, to State) {
	switch {
	case to == StateRunning && from != StateRunning:
		in.runningBranches.Add(ctx, 1)
	case from == StateRunning && to != StateRunning:
		in.runningBranches.Add(ctx, -1)
	}
	if in.collector != nil {
		in.collector.RecordStateTransition(from.String(), to.String())
	}
}

func (in *instruments) reseedFailed(op string) {
	if in.collector != nil {
		in.collector.RecordReseedFailure(op)
	}
}

func (in *instruments) branches(n int) {
	if in.collector != nil {
		in.collector.SetActiveBranches(n)
	}
}
