// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供机器人访问大语言模型的统一接入层：Provider 抽象、
模型目录与重试熔断包装。

# 概述

各服务商在鉴权、请求格式和错误语义上各不相同。本包对上层（bot 分发器、
HTTP 健康检查）只暴露一组请求/响应类型与 [Provider] 接口，具体适配
位于 llm/providers 子包。

# 核心接口

  - [Provider]：Completion / HealthCheck / Name

# 核心类型

  - [ChatRequest] / [ChatResponse] / [ChatUsage]：聊天请求、响应与 token 用量
  - [Error] / [ErrorCode]：Provider 错误，携带 HTTP 状态与 Retryable 标记
  - [Catalog]：已配置 Provider 的集合，负责模型菜单与偏好解析
  - [ModelInfo]：菜单中的一个模型条目
  - [ResilientProvider]：为 Provider 叠加重试与熔断

# 模型选择

偏好为 [AutoModel] 时按 openai、gemini、together 的顺序选第一个已配置的
Provider 及其默认模型；显式模型名通过 [ProviderForModel] 按子串映射到
Provider，对应 Provider 未配置时 [Catalog.Resolve] 返回 false。

# 相关子包

  - llm/providers：openai、gemini、together 适配与 OpenAI 兼容层
  - llm/retry：指数退避重试
  - llm/circuitbreaker：熔断器
  - llm/tokenizer：上游未返回用量时的 token 估算
*/
package llm
