// Package mocks 提供测试用的 llm.Provider 实现。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/astrogeminibot/llm"
)

// CompletionFunc 替换默认的固定回复
type CompletionFunc func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

// MockProviderCall 一次 Completion 的入参与结果
type MockProviderCall struct {
	Request  *llm.ChatRequest
	Response *llm.ChatResponse
	Error    error
}

// MockProvider 可编排的 llm.Provider；Builder 方法可在并发调用前后随时修改行为
type MockProvider struct {
	mu sync.Mutex

	name       string
	reply      string
	err        error
	healthy    bool
	prompt     int
	completion int
	fn         CompletionFunc

	calls []MockProviderCall
}

// NewMockProvider 名为 mock、回复固定文本、用量 10/20
func NewMockProvider() *MockProvider {
	return &MockProvider{name: "mock", reply: "Mock response", healthy: true, prompt: 10, completion: 20}
}

// NewSuccessProvider 总是以 response 回复
func NewSuccessProvider(name, response string) *MockProvider {
	return NewMockProvider().WithName(name).WithResponse(response)
}

// NewErrorProvider 总是返回 err
func NewErrorProvider(name string, err error) *MockProvider {
	return NewMockProvider().WithName(name).WithError(err)
}

func (m *MockProvider) set(f func()) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	f()
	return m
}

func (m *MockProvider) WithName(name string) *MockProvider {
	return m.set(func() { m.name = name })
}

func (m *MockProvider) WithResponse(text string) *MockProvider {
	return m.set(func() { m.reply = text })
}

// WithError 优先于 WithCompletionFunc
func (m *MockProvider) WithError(err error) *MockProvider {
	return m.set(func() { m.err = err })
}

// WithTokenUsage 都为 0 时响应不带用量，触发调用方的估算路径
func (m *MockProvider) WithTokenUsage(prompt, completion int) *MockProvider {
	return m.set(func() { m.prompt, m.completion = prompt, completion })
}

func (m *MockProvider) WithHealthy(ok bool) *MockProvider {
	return m.set(func() { m.healthy = ok })
}

func (m *MockProvider) WithCompletionFunc(fn CompletionFunc) *MockProvider {
	return m.set(func() { m.fn = fn })
}

// =============================================================================
// llm.Provider
// =============================================================================

func (m *MockProvider) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

func (m *MockProvider) HealthCheck(context.Context) (*llm.HealthStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &llm.HealthStatus{Healthy: m.healthy, Latency: time.Millisecond}
	if !m.healthy {
		st.Message = "mock provider marked unhealthy"
	}
	return st, nil
}

func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	name, reply, err, fn := m.name, m.reply, m.err, m.fn
	usage := llm.ChatUsage{PromptTokens: m.prompt, CompletionTokens: m.completion, TotalTokens: m.prompt + m.completion}
	m.mu.Unlock()

	var resp *llm.ChatResponse
	switch {
	case err != nil:
	case fn != nil:
		resp, err = fn(ctx, req)
	default:
		resp = &llm.ChatResponse{
			ID:       "mock-response-id",
			Provider: name,
			Model:    req.Model,
			Choices: []llm.ChatChoice{{
				FinishReason: "stop",
				Message:      llm.Message{Role: llm.RoleAssistant, Content: reply},
			}},
			Usage:     usage,
			CreatedAt: time.Now(),
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, MockProviderCall{Request: req, Response: resp, Error: err})
	m.mu.Unlock()
	return resp, err
}

// GetCallCount 包括失败的调用
func (m *MockProvider) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// GetLastCall 尚无调用时返回 nil
func (m *MockProvider) GetLastCall() *MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	c := m.calls[len(m.calls)-1]
	return &c
}
