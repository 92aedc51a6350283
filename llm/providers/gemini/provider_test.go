package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/BaSui01/astrogeminibot/llm"
	"github.com/BaSui01/astrogeminibot/llm/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestProvider(url string) *GeminiProvider {
	return NewGeminiProvider(providers.GeminiConfig{
		BaseProviderConfig: providers.BaseProviderConfig{APIKey: "g-key", BaseURL: url},
	}, zap.NewNop())
}

func TestGeminiProvider_Name(t *testing.T) {
	provider := NewGeminiProvider(providers.GeminiConfig{}, nil)
	assert.Equal(t, "gemini", provider.Name())
	assert.Equal(t, "https://generativelanguage.googleapis.com", provider.cfg.BaseURL)
	assert.Equal(t, 60*time.Second, provider.client.Timeout)
}

func TestConvertToGeminiContents(t *testing.T) {
	t.Run("system and roles", func(t *testing.T) {
		sys, contents := convertToGeminiContents([]llm.Message{
			{Role: llm.RoleSystem, Content: "first"},
			{Role: llm.RoleUser, Content: "hi"},
			{Role: llm.RoleAssistant, Content: "hello"},
			{Role: llm.RoleSystem, Content: "second"},
		})
		require.NotNil(t, sys)
		assert.Equal(t, "second", sys.Parts[0].Text)
		require.Len(t, contents, 2)
		assert.Equal(t, "user", contents[0].Role)
		assert.Equal(t, "model", contents[1].Role)
		assert.Equal(t, "hello", contents[1].Parts[0].Text)
	})

	t.Run("default system instruction", func(t *testing.T) {
		sys, _ := convertToGeminiContents([]llm.Message{{Role: llm.RoleUser, Content: "hi"}})
		assert.Equal(t, "You are a helpful AI assistant.", sys.Parts[0].Text)
	})
}

func TestGeminiProvider_Completion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.5-pro:generateContent", r.URL.Path)
		assert.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))

		var body geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "be helpful", body.SystemInstruction.Parts[0].Text)
		require.NotNil(t, body.GenerationConfig)
		assert.Equal(t, 1500, body.GenerationConfig.MaxOutputTokens)

		_, _ = w.Write([]byte(`{
			"responseId": "resp-1",
			"candidates": [{"content": {"role": "model", "parts": [{"text": "Hello "}, {"text": "world"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 7, "candidatesTokenCount": 2, "totalTokenCount": 9}
		}`))
	}))
	defer server.Close()

	resp, err := newTestProvider(server.URL).Completion(context.Background(), &llm.ChatRequest{
		Model: "gemini-2.5-pro",
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be helpful"},
			{Role: llm.RoleUser, Content: "hi"},
		},
		MaxTokens:   1500,
		Temperature: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", resp.Content())
	assert.Equal(t, "gemini", resp.Provider)
	assert.Equal(t, "gemini-2.5-pro", resp.Model)
	assert.Equal(t, "STOP", resp.Choices[0].FinishReason)
	assert.Equal(t, 9, resp.Usage.TotalTokens)
	assert.False(t, resp.Usage.Estimated)
}

func TestGeminiProvider_Completion_EstimatesUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", r.URL.Path)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"abcdefghijkl"}]}}]}`))
	}))
	defer server.Close()

	resp, err := newTestProvider(server.URL).Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "abcdefgh"}},
	})
	require.NoError(t, err)
	assert.True(t, resp.Usage.Estimated)
	assert.Equal(t, 2, resp.Usage.PromptTokens)
	assert.Equal(t, 3, resp.Usage.CompletionTokens)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestGeminiProvider_Completion_EmptyOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	resp, err := newTestProvider(server.URL).Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "No response generated", resp.Content())
}

func TestGeminiProvider_Completion_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`))
	}))
	defer server.Close()

	_, err := newTestProvider(server.URL).Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})

	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrInvalidRequest, llmErr.Code)
	assert.Equal(t, "❌ Gemini API key is invalid or missing", providers.FormatError("Gemini", err))
}

func TestGeminiProvider_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Contents, 1)
		assert.Equal(t, "Hi", body.Contents[0].Parts[0].Text)
		assert.Equal(t, 10, body.GenerationConfig.MaxOutputTokens)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Hello"}]}}]}`))
	}))
	defer server.Close()

	hs, err := newTestProvider(server.URL).HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, hs.Healthy)
}

func TestGeminiProvider_Integration(t *testing.T) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("GEMINI_API_KEY not set, skipping integration test")
	}

	provider := NewGeminiProvider(providers.GeminiConfig{
		BaseProviderConfig: providers.BaseProviderConfig{APIKey: apiKey, Timeout: 30 * time.Second},
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := provider.Completion(ctx, &llm.ChatRequest{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "Say hello in one word."}},
		MaxTokens: 10,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Content())
}
