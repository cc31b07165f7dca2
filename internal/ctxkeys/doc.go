// Copyright (c) AgentRewind Authors.
// Licensed under the MIT License.

// Package ctxkeys 定义在请求 context 中传递的键：请求 ID 由中间件写入、
// 由统一响应读取；调用方身份由鉴权中间件写入、由变更操作的日志读取。
package ctxkeys
