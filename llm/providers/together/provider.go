package together

import (
	"time"

	"github.com/BaSui01/astrogeminibot/llm"
	"github.com/BaSui01/astrogeminibot/llm/providers"
	"github.com/BaSui01/astrogeminibot/llm/providers/openaicompat"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://api.together.xyz"
	defaultModel   = "meta-llama/Meta-Llama-3.1-8B-Instruct-Turbo"
	defaultTimeout = 30 * time.Second
	defaultTopP    = 0.9
)

// stopTokens Llama 3 的对话结束标记
var stopTokens = []string{"<|eot_id|>", "<|end_of_text|>"}

// TogetherProvider 通过 Together AI 的 OpenAI 兼容 API 调用开源模型.
type TogetherProvider struct {
	*openaicompat.Provider
}

// NewTogetherProvider 创建新的 Together 提供者实例.
func NewTogetherProvider(cfg providers.TogetherConfig, logger *zap.Logger) *TogetherProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &TogetherProvider{
		Provider: openaicompat.New(openaicompat.Config{
			ProviderName:  llm.ProviderTogether,
			APIKey:        cfg.APIKey,
			BaseURL:       cfg.BaseURL,
			DefaultModel:  cfg.Model,
			FallbackModel: defaultModel,
			Timeout:       cfg.Timeout,
			RequestHook:   applyLlamaDefaults,
		}, logger),
	}
}

// applyLlamaDefaults 请求未显式指定时补齐 top_p 与停止标记
func applyLlamaDefaults(req *llm.ChatRequest, body *providers.ChatCompletionRequest) {
	if req.TopP == 0 {
		body.TopP = defaultTopP
	}
	if len(req.Stop) == 0 {
		body.Stop = append([]string(nil), stopTokens...)
	}
}
