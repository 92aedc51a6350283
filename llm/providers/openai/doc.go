// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 openai 提供 OpenAI 模型的 Provider 适配实现，基于 openaicompat
调用 /v1/chat/completions。

# 核心结构体

  - OpenAIProvider：嵌入 openaicompat.Provider，默认 BaseURL
    https://api.openai.com，默认模型 gpt-4o-mini

# 支持能力

  - Chat Completion（同步，委托 openaicompat）
  - 健康检查（GET /v1/models）
  - Organization header 支持
*/
package openai
