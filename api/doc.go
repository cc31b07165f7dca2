// Copyright (c) AgentRewind Authors.
// Licensed under the MIT License.

// Package api 定义 AgentRewind 运维 HTTP API 的请求与响应类型。
//
// # API 概览
//
// 所有业务端点位于 /api/v1 之下：
//   - POST /runs：启动对话
//   - GET  /tree、/branches/{id}：分支树与分支状态
//   - GET  /branches/{id}/history、/transcript、/checkpoints/{seq}
//   - POST /branches/{id}/revert、/branch、/resume、/pause、/retry-capture
//   - GET|PUT /branches/{id}/export：日志与检查点导出/导入
//   - POST /snapshots/save、/snapshots/load：整棵分支树持久化
//   - GET  /branches/{id}/events：WebSocket 事件流
//
// # 认证
//
// 配置 server.api_keys 后使用 X-API-Key 头；配置 jwt.secret 后使用
// Authorization: Bearer <token>。/health、/healthz、/ready、/version
// 不需要认证。
package api
