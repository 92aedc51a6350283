// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 AstroGeminiBot 的全局共享类型定义。

types 是最底层的公共包，不依赖任何内部包，为 llm、bot、api 等上层模块
提供统一的错误码与 Context 传播工具，以避免循环依赖。

  - Error / ErrorCode：对外错误体系，含 HTTP 状态码与 Retryable 标记
  - Context 传播：WithTraceID / WithUserID / WithRoles
*/
package types
