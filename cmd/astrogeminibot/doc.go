// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 AstroGeminiBot 的程序入口。

# 概述

cmd/astrogeminibot 在一个进程内运行 Telegram 长轮询、HTTP API 与
Prometheus 指标服务，并提供账本数据库迁移、健康检查和版本查询子命令。
所有组件共享同一个 Dispatcher，因此 Telegram、HTTP 与 WebSocket
上的消息受同一个每用户准入窗口约束，并读写同一份对话历史。

# 核心类型

  - App：构建并持有全部组件，Run 用 errgroup 驱动后台循环
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、migrate、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、Observe（span + 指标 + 访问日志）、
    CORS、RateLimiter（基于 IP）、
    APIKeyAuth（/api/ 前缀）、JWTAuth（/api/v1/admin/ 前缀，需要 admin 角色）
  - 降级：Redis 不可用时偏好保存在内存，数据库不可用时关闭用量账本
  - 优雅关闭：SIGINT/SIGTERM 取消上下文，各服务在 ShutdownTimeout 内退出
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
