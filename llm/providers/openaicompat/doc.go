// Package openaicompat provides a shared base implementation for
// OpenAI-compatible chat-completions providers.
//
// OpenAI and Together AI share the same API format. Instead of duplicating
// HTTP handling, message conversion, and error mapping in each provider,
// they embed openaicompat.Provider and only override what differs:
//
//   - Provider name and default model
//   - Base URL
//   - Custom headers (if any)
//   - Request hooks for provider-specific fields
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName:  "together",
//	    APIKey:        cfg.APIKey,
//	    BaseURL:       "https://api.together.xyz",
//	    DefaultModel:  "meta-llama/Meta-Llama-3.1-8B-Instruct-Turbo",
//	    RequestHook: func(req *llm.ChatRequest, body *providers.ChatCompletionRequest) {
//	        body.TopP = 0.9
//	    },
//	}, logger)
package openaicompat
