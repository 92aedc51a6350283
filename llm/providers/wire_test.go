package providers

import (
	"testing"

	"github.com/BaSui01/astrogeminibot/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChooseModel_Priority(t *testing.T) {
	tests := []struct {
		name          string
		req           *llm.ChatRequest
		defaultModel  string
		fallbackModel string
		expected      string
	}{
		{"request wins", &llm.ChatRequest{Model: "request-model"}, "config-model", "fallback", "request-model"},
		{"config when request empty", &llm.ChatRequest{}, "config-model", "fallback", "config-model"},
		{"fallback when both empty", &llm.ChatRequest{}, "", "fallback", "fallback"},
		{"nil request", nil, "", "fallback", "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ChooseModel(tt.req, tt.defaultModel, tt.fallbackModel))
		})
	}
}

func TestChatCompletionResponse_ToChatResponse(t *testing.T) {
	resp := ChatCompletionResponse{
		ID:    "chatcmpl-1",
		Model: "gpt-4o-mini",
		Choices: []ChatCompletionChoice{
			{Index: 0, FinishReason: "stop", Message: ChatCompletionMessage{Role: "assistant", Content: "Hello!"}},
		},
		Usage: &ChatCompletionUsage{PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13},
	}.ToChatResponse("openai")

	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, "Hello!", resp.Content())
	assert.Equal(t, llm.RoleAssistant, resp.Choices[0].Message.Role)
	assert.Equal(t, 13, resp.Usage.TotalTokens)
	assert.False(t, resp.Usage.Estimated)
}

func TestToWireMessages(t *testing.T) {
	out := ToWireMessages([]llm.Message{
		{Role: llm.RoleSystem, Content: "be nice"},
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello"},
	})
	require.Len(t, out, 3)
	assert.Equal(t, ChatCompletionMessage{Role: "system", Content: "be nice"}, out[0])
	assert.Equal(t, "assistant", out[2].Role)
}
