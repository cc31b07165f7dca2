// Copyright (c) AgentRewind Authors.
// Licensed under the MIT License.

/*
Package server 管理运维 HTTP API 的服务器生命周期：非阻塞启动、
连接数限制、可选 TLS、优雅关闭与信号监听。

# 核心类型

  - Manager：持有 http.Server 与 net.Listener，提供 Start/Shutdown/
    WaitForShutdown/Errors/Addr/IsRunning。
  - Config：监听地址、读写与空闲超时、请求头上限、关闭超时、
    最大并发连接数（golang.org/x/net/netutil.LimitListener）以及
    TLS 证书路径（启用时使用 tlsutil 的加固配置）。

# 使用方式

agentrewind serve 子命令构建路由后交给 Manager.Start，然后调用
WaitForShutdown 等待 SIGINT/SIGTERM、服务异常或上下文取消。
*/
package server
