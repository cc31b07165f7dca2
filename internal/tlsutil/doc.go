// Copyright (c) AgentRewind Authors.
// Licensed under the MIT License.

// Package tlsutil 提供集中式 TLS 配置：API 服务端、Redis 快照客户端
// 与 health 子命令共用同一份加固设置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
