// Copyright (c) AgentRewind Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、
历史引擎、快照仓库与数据库四个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 指标，按业务域分组管理。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    按 method/path/status 分组，状态码归类为 2xx/3xx/4xx/5xx。
  - 历史引擎指标：事件追加数（按 kind）、检查点捕获结果与耗时、
    回滚与分叉结果、活跃分支数、控制器状态转换、重新注入失败。
  - 快照仓库指标：按 backend/operation 统计操作次数与耗时。
  - 数据库指标：活跃/空闲连接数 Gauge。
*/
package metrics
