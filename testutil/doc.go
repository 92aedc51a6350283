// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 AstroGeminiBot 测试的共享工具和辅助函数。

# 核心能力

  - 可控时钟: Clock 可注入 ratelimit、conversation 与 bot 的 WithClock
  - 断言工具: AssertMessagesEqual 逐条比较 Role 与 Content
  - TLS: SelfSignedCert 生成 localhost 证书供 tlsutil 与 server 测试

# 子包

  - testutil/mocks: MockProvider（llm.Provider），Builder 方式设置回复、
    错误、用量与自定义 CompletionFunc，并记录每次调用
  - testutil/fixtures: 带用量、无用量与超长的 ChatResponse 样例

# 使用示例

	clock := testutil.NewClock(time.Unix(0, 0))
	provider := mocks.NewSuccessProvider("openai", "hello")
	resp, err := provider.Completion(ctx, req)
*/
package testutil
