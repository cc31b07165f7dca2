// Copyright (c) AgentRewind Authors.
// Licensed under the MIT License.

// Package telemetry 初始化 OpenTelemetry SDK，把 OTLP/gRPC 的
// TracerProvider 与 MeterProvider 注册为全局实现。controller 的
// span（controller.revert 等）与 OTel 指标通过全局 provider 导出；
// 遥测关闭时保持 noop，不连接任何外部服务。
package telemetry
