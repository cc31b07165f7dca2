// Copyright (c) AgentRewind Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 AgentRewind 运维 HTTP API 的请求处理器实现。

# 概述

handlers 包把 controller.Manager 的分支操作（启动、回退、分叉、继续、
暂停、重试捕获、导入导出、快照保存与加载）暴露为 /api/v1 下的 JSON
端点，并提供基于 WebSocket 的事件流与健康检查。所有 Handler 均遵循
标准 net/http 接口，路由使用 Go 1.22 的方法 + 路径模式。

# 核心类型

  - HistoryHandler   — 分支控制与查询端点，Register 一次性挂载到 ServeMux
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready, /version）
  - PingCheck        — 以 ping 函数实现的可插拔健康检查（快照仓库等）
  - Response         — 统一 JSON 响应结构（success + data + error + request_id）
  - ErrorInfo        — 结构化错误信息；部分检查点与恢复失败附带智能体列表
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码

# 错误映射

WriteError 接受任意 error，按 types.GetErrorCode 提取错误码并通过
types.HTTPStatusFor 映射状态码：BRANCH_NOT_FOUND / SEQUENCE_NOT_FOUND → 404，
INVALID_STATE → 409，PARTIAL_CHECKPOINT / AGENT_RESTORE → 422，
STORE_UNAVAILABLE → 503。
*/
package handlers
