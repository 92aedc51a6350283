package gemini

import (
	"strings"
	"time"

	"github.com/BaSui01/astrogeminibot/llm"
	"github.com/BaSui01/astrogeminibot/llm/tokenizer"
)

// generateContent 请求与响应，只声明用到的字段

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

// geminiContent Role 为 user 或 model；systemInstruction 不带 Role
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float32  `json:"temperature,omitempty"`
	TopP            float32  `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	ResponseID   string `json:"responseId,omitempty"`
	ModelVersion string `json:"modelVersion,omitempty"`
	Candidates   []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata,omitempty"`
}

func textContent(role, text string) geminiContent {
	return geminiContent{Role: role, Parts: []geminiPart{{Text: text}}}
}

// convertToGeminiContents 多条 system 以最后一条为准，没有时用默认指令
func convertToGeminiContents(msgs []llm.Message) (*geminiContent, []geminiContent) {
	system := defaultSystemInstruction
	contents := make([]geminiContent, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			if m.Content != "" {
				system = m.Content
			}
		case llm.RoleUser:
			contents = append(contents, textContent("user", m.Content))
		case llm.RoleAssistant:
			contents = append(contents, textContent("model", m.Content))
		}
	}
	sys := textContent("", system)
	return &sys, contents
}

func newGeminiRequest(req *llm.ChatRequest) geminiRequest {
	sys, contents := convertToGeminiContents(req.Messages)
	out := geminiRequest{Contents: contents, SystemInstruction: sys}
	if req.Temperature > 0 || req.TopP > 0 || req.MaxTokens > 0 || len(req.Stop) > 0 {
		out.GenerationConfig = &geminiGenerationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
			StopSequences:   req.Stop,
		}
	}
	return out
}

// toChatResponse 拼接首个候选的全部文本；没有 usageMetadata 时估算用量
func (gr geminiResponse) toChatResponse(prompt []llm.Message, provider, model string) *llm.ChatResponse {
	var text, finish string
	if len(gr.Candidates) > 0 {
		c := gr.Candidates[0]
		finish = c.FinishReason
		var sb strings.Builder
		for _, part := range c.Content.Parts {
			sb.WriteString(part.Text)
		}
		text = sb.String()
	}
	if text == "" {
		text = emptyResponseText
	}

	resp := &llm.ChatResponse{
		ID:       gr.ResponseID,
		Provider: provider,
		Model:    model,
		Choices: []llm.ChatChoice{{
			FinishReason: finish,
			Message:      llm.Message{Role: llm.RoleAssistant, Content: text},
		}},
		CreatedAt: time.Now(),
	}

	if u := gr.UsageMetadata; u != nil && u.TotalTokenCount > 0 {
		resp.Usage = llm.ChatUsage{
			PromptTokens:     u.PromptTokenCount,
			CompletionTokens: u.CandidatesTokenCount,
			TotalTokens:      u.TotalTokenCount,
		}
		return resp
	}

	contents := make([]string, len(prompt))
	for i, m := range prompt {
		contents[i] = m.Content
	}
	in := tokenizer.Estimate(strings.Join(contents, " "))
	out := tokenizer.Estimate(text)
	resp.Usage = llm.ChatUsage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out, Estimated: true}
	return resp
}
