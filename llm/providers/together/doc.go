// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 together 提供 Together AI 推理平台的 Provider 适配实现，用于调用
Meta Llama 与 Mistral 系列开源模型。平台使用 OpenAI 兼容 API 格式，
通过嵌入 openaicompat.Provider 复用通用逻辑。

# 定制行为

  - 默认 BaseURL: https://api.together.xyz
  - 默认模型: meta-llama/Meta-Llama-3.1-8B-Instruct-Turbo
  - 请求固定 top_p=0.9，并附加 Llama 3 的停止标记
    <|eot_id|>、<|end_of_text|>
  - 默认超时 30 秒
*/
package together
