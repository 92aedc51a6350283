package llm

import "strings"

// Provider 标识
const (
	ProviderOpenAI   = "openai"
	ProviderGemini   = "gemini"
	ProviderTogether = "together"
)

// AutoModel 是“自动选择”偏好的取值
const AutoModel = "auto"

// providerOrder 决定展示顺序与自动选择的优先级
var providerOrder = []string{ProviderOpenAI, ProviderGemini, ProviderTogether}

var displayNames = map[string]string{
	ProviderOpenAI:   "OpenAI",
	ProviderGemini:   "Gemini",
	ProviderTogether: "Together",
}

// autoModels 每个 Provider 在自动选择时使用的模型
var autoModels = map[string]string{
	ProviderOpenAI:   "gpt-4o-mini",
	ProviderGemini:   "gemini-2.5-flash",
	ProviderTogether: "meta-llama/Meta-Llama-3.1-8B-Instruct-Turbo",
}

// ModelInfo 描述一个可供用户选择的模型
type ModelInfo struct {
	ID          string `json:"id"`
	Provider    string `json:"provider"`
	Description string `json:"description"`
	Emoji       string `json:"emoji"`
}

// DefaultModels 返回内置模型目录（按展示顺序）
func DefaultModels() []ModelInfo {
	return []ModelInfo{
		{ID: "gpt-4o", Provider: ProviderOpenAI, Description: "Most capable GPT model", Emoji: "🚀"},
		{ID: "gpt-4o-mini", Provider: ProviderOpenAI, Description: "Fast and cost-effective", Emoji: "⚡"},
		{ID: "gemini-2.5-flash", Provider: ProviderGemini, Description: "Fast Gemini model", Emoji: "💎"},
		{ID: "gemini-2.5-pro", Provider: ProviderGemini, Description: "Most capable Gemini model", Emoji: "💠"},
		{ID: "meta-llama/Meta-Llama-3.1-70B-Instruct-Turbo", Provider: ProviderTogether, Description: "Llama 3.1 70B", Emoji: "🦙"},
		{ID: "meta-llama/Meta-Llama-3.1-8B-Instruct-Turbo", Provider: ProviderTogether, Description: "Llama 3.1 8B (Fast)", Emoji: "🐎"},
	}
}

// DisplayName 返回 Provider 的展示名称，未知名称原样返回
func DisplayName(provider string) string {
	if name, ok := displayNames[provider]; ok {
		return name
	}
	return provider
}

// ProviderForModel 按模型名子串推断 Provider；无法识别时返回空串
func ProviderForModel(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "gpt"), strings.Contains(m, "openai"):
		return ProviderOpenAI
	case strings.Contains(m, "gemini"):
		return ProviderGemini
	case strings.Contains(m, "llama"), strings.Contains(m, "mistral"):
		return ProviderTogether
	}
	return ""
}

// Catalog 是按已配置 Provider 过滤后的模型目录与路由表
type Catalog struct {
	providers map[string]Provider
	models    []ModelInfo
}

// NewCatalog 使用已配置的 Provider 构建目录；nil 项会被忽略
func NewCatalog(providers ...Provider) *Catalog {
	c := &Catalog{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p != nil {
			c.providers[p.Name()] = p
		}
	}
	for _, m := range DefaultModels() {
		if _, ok := c.providers[m.Provider]; ok {
			c.models = append(c.models, m)
		}
	}
	return c
}

// Models 返回可用模型（仅包含已配置 Provider 的模型）
func (c *Catalog) Models() []ModelInfo {
	out := make([]ModelInfo, len(c.models))
	copy(out, c.models)
	return out
}

// Lookup 按 ID 查找可用模型
func (c *Catalog) Lookup(id string) (ModelInfo, bool) {
	for _, m := range c.models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// Providers 按优先级返回已配置的 Provider 名称
func (c *Catalog) Providers() []string {
	var out []string
	for _, name := range providerOrder {
		if _, ok := c.providers[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// ProviderNames 返回已配置 Provider 的展示名称
func (c *Catalog) ProviderNames() []string {
	names := c.Providers()
	for i, n := range names {
		names[i] = DisplayName(n)
	}
	return names
}

// Provider 按名称返回已配置的 Provider
func (c *Catalog) Provider(name string) (Provider, bool) {
	p, ok := c.providers[name]
	return p, ok
}

// Empty 报告是否没有任何可用 Provider
func (c *Catalog) Empty() bool { return len(c.providers) == 0 }

// AutoSelect 依次尝试 openai、gemini、together，返回第一个可用的 Provider 与其默认模型
func (c *Catalog) AutoSelect() (Provider, string, bool) {
	for _, name := range providerOrder {
		if p, ok := c.providers[name]; ok {
			return p, autoModels[name], true
		}
	}
	return nil, "", false
}

// Resolve 把用户偏好解析为 Provider 与模型。
// auto（或空）走自动选择；显式模型按子串路由，对应 Provider 未配置时返回 false。
func (c *Catalog) Resolve(preference string) (Provider, string, bool) {
	if preference == "" || preference == AutoModel {
		return c.AutoSelect()
	}
	p, ok := c.providers[ProviderForModel(preference)]
	if !ok {
		return nil, preference, false
	}
	return p, preference, true
}
