package openai

import (
	"net/http"

	"github.com/BaSui01/astrogeminibot/llm"
	"github.com/BaSui01/astrogeminibot/llm/providers"
	"github.com/BaSui01/astrogeminibot/llm/providers/openaicompat"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://api.openai.com"
	defaultModel   = "gpt-4o-mini"
)

// OpenAIProvider 实现 OpenAI LLM 提供者.
// Chat Completions 通过嵌入的 openaicompat.Provider 处理.
type OpenAIProvider struct {
	*openaicompat.Provider
	openaiCfg providers.OpenAIConfig
}

// NewOpenAIProvider 创建新的 OpenAI 提供者实例.
func NewOpenAIProvider(cfg providers.OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	p := &OpenAIProvider{
		Provider: openaicompat.New(openaicompat.Config{
			ProviderName:  llm.ProviderOpenAI,
			APIKey:        cfg.APIKey,
			BaseURL:       cfg.BaseURL,
			DefaultModel:  cfg.Model,
			FallbackModel: defaultModel,
			Timeout:       cfg.Timeout,
		}, logger),
		openaiCfg: cfg,
	}

	// Organization header 支持
	p.SetBuildHeaders(func(req *http.Request, apiKey string) {
		providers.SetBearer(req, apiKey)
		if cfg.Organization != "" {
			req.Header.Set("OpenAI-Organization", cfg.Organization)
		}
	})

	return p
}
