package providers

import (
	"net/http"

	"github.com/BaSui01/astrogeminibot/llm"
)

// ChatCompletionMessage chat-completions 接口的一条消息，OpenAI 与 Together 共用
type ChatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionRequest struct {
	Model       string                  `json:"model"`
	Messages    []ChatCompletionMessage `json:"messages"`
	MaxTokens   int                     `json:"max_tokens,omitempty"`
	Temperature float32                 `json:"temperature,omitempty"`
	TopP        float32                 `json:"top_p,omitempty"`
	Stop        []string                `json:"stop,omitempty"`
	User        string                  `json:"user,omitempty"`
}

type ChatCompletionChoice struct {
	Index        int                   `json:"index"`
	FinishReason string                `json:"finish_reason"`
	Message      ChatCompletionMessage `json:"message"`
}

type ChatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Model   string                 `json:"model"`
	Created int64                  `json:"created,omitempty"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   *ChatCompletionUsage   `json:"usage,omitempty"`
}

// ToWireMessages llm.Role 的取值就是线上的 role 字符串
func ToWireMessages(msgs []llm.Message) []ChatCompletionMessage {
	out := make([]ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// ToChatResponse 上游没给 usage 时 Usage 为零值，是否估算由调用方决定
func (r ChatCompletionResponse) ToChatResponse(provider string) *llm.ChatResponse {
	out := &llm.ChatResponse{ID: r.ID, Provider: provider, Model: r.Model}
	for _, c := range r.Choices {
		out.Choices = append(out.Choices, llm.ChatChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message:      llm.Message{Role: llm.RoleAssistant, Content: c.Message.Content},
		})
	}
	if r.Usage != nil {
		out.Usage = llm.ChatUsage{
			PromptTokens:     r.Usage.PromptTokens,
			CompletionTokens: r.Usage.CompletionTokens,
			TotalTokens:      r.Usage.TotalTokens,
		}
	}
	return out
}

// ChooseModel 请求指定 > 配置默认 > Provider 兜底
func ChooseModel(req *llm.ChatRequest, configured, fallback string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	if configured != "" {
		return configured
	}
	return fallback
}

// SetBearer 写入 Authorization: Bearer 与 JSON Content-Type
func SetBearer(r *http.Request, apiKey string) {
	r.Header.Set("Authorization", "Bearer "+apiKey)
	r.Header.Set("Content-Type", "application/json")
}
