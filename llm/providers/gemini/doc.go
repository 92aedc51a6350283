// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 gemini 提供 Google Gemini 模型的 Provider 适配实现。该包直接对接
Gemini REST API（generativelanguage.googleapis.com），自行处理请求构建
与响应解析，不依赖 openaicompat 兼容层。

# 核心结构体

  - GeminiProvider：独立实现，持有 http.Client 与 GeminiConfig；
    使用 x-goog-api-key 请求头认证
  - geminiRequest / geminiResponse：Gemini 原生请求/响应结构

# 定制行为

  - system 消息转换为 systemInstruction，未提供时使用默认指令
  - assistant 角色映射为 model
  - 响应缺少 usageMetadata 时用 tokenizer 估算用量
  - 无文本输出时返回 "No response generated"
  - 健康检查发送一次 max_tokens=10 的最小补全
*/
package gemini
