// Copyright (c) AgentRewind Authors.
// Licensed under the MIT License.

/*
Package cache 封装 Redis 客户端，为 Redis 快照存储提供连接管理。

# 概述

Manager 负责连接生命周期：初始化时 Ping 验证可达、可选 TLS、
后台健康检查以及优雅关闭。所有键都通过 Key 拼接统一前缀，
不同部署共享同一 Redis 时互不干扰。

# 核心类型

  - Manager：持有 go-redis 客户端，提供 Get/Set/Members/Tx/Delete
  - Config：地址、密码、键前缀、连接池与 TLS 配置
  - Stats：连接池命中与键数量统计

# 错误语义

键不存在时返回 ErrCacheMiss，可用 IsCacheMiss 判断；
关闭后的调用返回 ErrClosed。
*/
package cache
