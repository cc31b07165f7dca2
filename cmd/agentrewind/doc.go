// Copyright (c) AgentRewind Authors.
// Licensed under the MIT License.

/*
Package main 提供 AgentRewind 服务端程序入口。

# 概述

cmd/agentrewind 是检查点 / 回退 / 分支引擎的可执行入口，提供 HTTP API
服务、进程内演示、数据库迁移、健康检查和版本查询等子命令。程序支持 YAML
配置文件与环境变量加载、结构化日志（zap）、Prometheus 指标、OpenTelemetry
链路追踪，以及日志级别热重载。

# 核心类型

  - Server      — 组装快照存储、分支管理器与 HTTP 服务，负责优雅关闭
  - Middleware  — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、demo、migrate、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    MetricsMiddleware、OTelTracing、CORS、RateLimiter（基于 IP）、
    Authenticate（X-API-Key 或 HS256 Bearer JWT）
  - 快照：store.load_on_start 启动时恢复全部分支，store.save_on_shutdown
    关闭时保存
  - Metrics 服务器：独立端口暴露 /metrics，metrics_port 为 0 时不启动
  - 优雅关闭：信号监听 → 停止配置监听 → 关闭 HTTP → 暂停分支并保存快照
    → 关闭存储 → 关闭 Metrics → 刷新遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置

所有包装 http.ResponseWriter 的中间件都实现 Unwrap，事件流的 WebSocket
升级依赖它找到底层连接。
*/
package main
