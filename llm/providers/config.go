package providers

import "time"

// BaseProviderConfig 由 config.ProviderConfig 转换而来，Model 为空时用各 Provider 的内置默认
type BaseProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type OpenAIConfig struct {
	BaseProviderConfig
	// Organization 非空时发送 OpenAI-Organization 头
	Organization string
}

type GeminiConfig struct {
	BaseProviderConfig
}

type TogetherConfig struct {
	BaseProviderConfig
}
