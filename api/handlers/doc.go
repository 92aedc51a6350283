// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供机器人 HTTP API 的请求处理器实现。

# 概述

HTTP 与 WebSocket 入口和 Telegram 轮询器共用同一个分发器：
聊天请求经过同样的准入、历史与 Provider 路由。所有 Handler
遵循标准 net/http 接口，路径参数通过 Go 1.22 的 PathValue 读取。

# 核心类型

  - ChatHandler   ：POST /api/v1/chat
  - WSHandler     ：GET /api/v1/ws，每个文本帧一条消息，回复以 JSON 帧写回
  - UserHandler   ：单用户统计与清空对话
  - AdminHandler  ：全局统计、准入重置、用量账本查询
  - HealthHandler ：/health、/healthz、/ready、/version
  - Response      ：统一 JSON 响应结构（success + data + error + timestamp）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON
  - 请求解码：Content-Type 校验、1 MB 上限、拒绝未知字段
  - ErrorCode 到 HTTP 状态码的映射
  - StatusRecorder：中间件共用的状态码与字节数记录
  - 可插拔就绪检查：Provider、Redis、数据库
*/
package handlers
