// Copyright (c) AgentRewind Authors.
// Licensed under the MIT License.

/*
Package config 提供 AgentRewind 的配置加载、验证与热重载。

# 加载顺序

默认值 → YAML 文件（gopkg.in/yaml.v3）→ 环境变量（AGENTREWIND_ 前缀，
按 env 标签逐层拼接，例如 AGENTREWIND_STORE_TYPE、
AGENTREWIND_SERVER_API_KEYS=a,b）→ 验证器。

# 配置段

server、log、telemetry、redis、database、mongo、store、capture、
groupchat、jwt。Config 提供到各组件配置的转换：PersistenceConfig、
DatabaseConfig、CacheConfig、ServerConfig、GroupChatConfig。

# 热重载

Reloader 基于 FileWatcher 轮询配置文件，变更后重新加载并验证；
失败时保留旧配置。只有 log 段可以在线生效（日志级别），
其余段的变更会记录告警，重启后生效。
*/
package config
