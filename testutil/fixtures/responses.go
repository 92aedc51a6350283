// Package fixtures 提供 Provider 响应样例。
package fixtures

import (
	"strings"
	"time"

	"github.com/BaSui01/astrogeminibot/llm"
)

func response(provider, model, content string, usage llm.ChatUsage) *llm.ChatResponse {
	return &llm.ChatResponse{
		ID:       "resp-001",
		Provider: provider,
		Model:    model,
		Choices: []llm.ChatChoice{{
			FinishReason: "stop",
			Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
		}},
		Usage:     usage,
		CreatedAt: time.Now(),
	}
}

// ResponseWithUsage TotalTokens 为两者之和
func ResponseWithUsage(provider, model, content string, prompt, completion int) *llm.ChatResponse {
	return response(provider, model, content, llm.ChatUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	})
}

// ResponseWithoutUsage 上游未报告用量，页脚不显示 token 数
func ResponseWithoutUsage(provider, model, content string) *llm.ChatResponse {
	return response(provider, model, content, llm.ChatUsage{})
}

// LongResponse n 个字符，用于测试超过 Telegram 长度上限的拆分
func LongResponse(provider, model string, n int) *llm.ChatResponse {
	return ResponseWithUsage(provider, model, strings.Repeat("a", n), 10, 20)
}
