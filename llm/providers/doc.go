// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 providers 提供跨模型服务商的通用适配与辅助能力，是 openai、gemini、
together 等具体 Provider 实现的公共基础层。

# 核心类型

  - BaseProviderConfig：所有 Provider 共享的基础配置（APIKey、BaseURL、Model、Timeout）
  - ChatCompletion* 系列：OpenAI 与 Together 共用的 chat-completions 线格式

# 核心函数

  - MapHTTPError：将 HTTP 状态码映射为语义化的 llm.Error（含 Retryable 标记）
  - MapTransportError：将超时、连接失败等传输层错误映射为 llm.Error
  - FormatError：将 Provider 错误转换为面向用户的提示文本
  - ToWireMessages / ChatCompletionResponse.ToChatResponse：线格式与 llm 类型互转
  - SetBearer：Authorization: Bearer 鉴权头
  - ChooseModel：按优先级选择模型（请求 > 默认 > 兜底）
*/
package providers
