package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedProvider string

func (n namedProvider) Completion(context.Context, *ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{}, nil
}

func (n namedProvider) HealthCheck(context.Context) (*HealthStatus, error) {
	return &HealthStatus{Healthy: true}, nil
}

func (n namedProvider) Name() string { return string(n) }

func TestProviderForModel(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4o", ProviderOpenAI},
		{"GPT-4o-mini", ProviderOpenAI},
		{"openai/whatever", ProviderOpenAI},
		{"gemini-2.5-pro", ProviderGemini},
		{"meta-llama/Meta-Llama-3.1-8B-Instruct-Turbo", ProviderTogether},
		{"mistralai/Mixtral-8x7B", ProviderTogether},
		{"claude-3", ""},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, ProviderForModel(tt.model))
		})
	}
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "OpenAI", DisplayName(ProviderOpenAI))
	assert.Equal(t, "Gemini", DisplayName(ProviderGemini))
	assert.Equal(t, "Together", DisplayName(ProviderTogether))
	assert.Equal(t, "custom", DisplayName("custom"))
}

func TestCatalog_FiltersByConfiguredProviders(t *testing.T) {
	c := NewCatalog(namedProvider(ProviderGemini), nil)

	models := c.Models()
	require.Len(t, models, 2)
	assert.Equal(t, "gemini-2.5-flash", models[0].ID)
	assert.Equal(t, "💎", models[0].Emoji)
	assert.Equal(t, "gemini-2.5-pro", models[1].ID)

	_, ok := c.Lookup("gpt-4o")
	assert.False(t, ok)
	info, ok := c.Lookup("gemini-2.5-pro")
	require.True(t, ok)
	assert.Equal(t, "Most capable Gemini model", info.Description)

	assert.Equal(t, []string{"Gemini"}, c.ProviderNames())
	assert.False(t, c.Empty())
}

func TestCatalog_AutoSelectOrder(t *testing.T) {
	tests := []struct {
		name      string
		providers []Provider
		wantName  string
		wantModel string
	}{
		{"all", []Provider{namedProvider(ProviderTogether), namedProvider(ProviderGemini), namedProvider(ProviderOpenAI)}, ProviderOpenAI, "gpt-4o-mini"},
		{"gemini and together", []Provider{namedProvider(ProviderTogether), namedProvider(ProviderGemini)}, ProviderGemini, "gemini-2.5-flash"},
		{"together only", []Provider{namedProvider(ProviderTogether)}, ProviderTogether, "meta-llama/Meta-Llama-3.1-8B-Instruct-Turbo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, model, ok := NewCatalog(tt.providers...).AutoSelect()
			require.True(t, ok)
			assert.Equal(t, tt.wantName, p.Name())
			assert.Equal(t, tt.wantModel, model)
		})
	}

	_, _, ok := NewCatalog().AutoSelect()
	assert.False(t, ok)
	assert.True(t, NewCatalog().Empty())
}

func TestCatalog_Resolve(t *testing.T) {
	c := NewCatalog(namedProvider(ProviderOpenAI), namedProvider(ProviderTogether))

	p, model, ok := c.Resolve(AutoModel)
	require.True(t, ok)
	assert.Equal(t, ProviderOpenAI, p.Name())
	assert.Equal(t, "gpt-4o-mini", model)

	p, model, ok = c.Resolve("meta-llama/Meta-Llama-3.1-70B-Instruct-Turbo")
	require.True(t, ok)
	assert.Equal(t, ProviderTogether, p.Name())
	assert.Equal(t, "meta-llama/Meta-Llama-3.1-70B-Instruct-Turbo", model)

	_, model, ok = c.Resolve("gemini-2.5-pro")
	assert.False(t, ok)
	assert.Equal(t, "gemini-2.5-pro", model)

	_, _, ok = c.Resolve("unknown-model")
	assert.False(t, ok)
}
