package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/astrogeminibot/internal/tlsutil"
	"github.com/BaSui01/astrogeminibot/llm"
	"github.com/BaSui01/astrogeminibot/llm/providers"
	"github.com/BaSui01/astrogeminibot/llm/tokenizer"
)

// Config 一个 OpenAI 兼容端点的配置
type Config struct {
	// ProviderName openai、together 等，同时用作日志与错误里的 provider 字段
	ProviderName string
	APIKey       string
	BaseURL      string

	// 模型选择顺序：请求 > DefaultModel > FallbackModel
	DefaultModel  string
	FallbackModel string

	// Timeout 默认 30s
	Timeout time.Duration

	// EndpointPath 默认 /v1/chat/completions；ModelsEndpoint 默认 /v1/models，用于探活
	EndpointPath   string
	ModelsEndpoint string

	// BuildHeaders 为空时发送 Authorization: Bearer
	BuildHeaders func(req *http.Request, apiKey string)

	// RequestHook 发送前修改请求体
	RequestHook func(req *llm.ChatRequest, body *providers.ChatCompletionRequest)
}

// Provider OpenAI 兼容协议的通用实现，具体服务商嵌入它
type Provider struct {
	Cfg    Config
	Client *http.Client
	Logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ModelsEndpoint == "" {
		cfg.ModelsEndpoint = "/v1/models"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		Cfg:    cfg,
		Client: tlsutil.SecureHTTPClient(cfg.Timeout),
		Logger: logger.With(zap.String("provider", cfg.ProviderName)),
	}
}

func (p *Provider) Name() string { return p.Cfg.ProviderName }

// SetBuildHeaders 供嵌入方在构造后替换鉴权头
func (p *Provider) SetBuildHeaders(fn func(req *http.Request, apiKey string)) {
	p.Cfg.BuildHeaders = fn
}

func (p *Provider) buildHeaders(req *http.Request, apiKey string) {
	if fn := p.Cfg.BuildHeaders; fn != nil {
		fn(req, apiKey)
		return
	}
	providers.SetBearer(req, apiKey)
}

// send 发出请求；非 2xx 时读取错误体并映射为 llm.Error，调用方负责关闭成功响应的 Body
func (p *Provider) send(ctx context.Context, method, path string, body io.Reader) (*http.Response, string, error) {
	url := strings.TrimRight(p.Cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(req, p.Cfg.APIKey)
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err.Error(), providers.MapTransportError(err, p.Name())
	}
	if resp.StatusCode/100 != 2 {
		defer providers.SafeCloseBody(resp.Body)
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, msg, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}
	return resp, "", nil
}

// HealthCheck 以列出模型作为探活
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	resp, msg, err := p.send(ctx, http.MethodGet, p.Cfg.ModelsEndpoint, nil)
	status := &llm.HealthStatus{Latency: time.Since(start)}
	if err != nil {
		status.Message = msg
		return status, err
	}
	providers.SafeCloseBody(resp.Body)
	status.Healthy = true
	return status, nil
}

// Completion 非流式聊天补全；上游未返回用量时按分词器估算
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, &llm.Error{
			Code:       llm.ErrInvalidRequest,
			Message:    "messages must not be empty",
			HTTPStatus: http.StatusBadRequest,
			Provider:   p.Name(),
		}
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	model := providers.ChooseModel(req, p.Cfg.DefaultModel, p.Cfg.FallbackModel)
	payload := providers.ChatCompletionRequest{
		Model:       model,
		Messages:    providers.ToWireMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		User:        req.UserID,
	}
	if p.Cfg.RequestHook != nil {
		p.Cfg.RequestHook(req, &payload)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	log := p.Logger.With(zap.String("trace_id", req.TraceID), zap.String("model", model))
	start := time.Now()
	resp, msg, err := p.send(ctx, http.MethodPost, p.Cfg.EndpointPath, bytes.NewReader(raw))
	if err != nil {
		log.Warn("completion failed", zap.String("error", msg), zap.Error(err))
		return nil, err
	}
	defer providers.SafeCloseBody(resp.Body)

	var wire providers.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, providers.DecodeError(err, p.Name())
	}
	if len(wire.Choices) == 0 {
		return nil, &llm.Error{
			Code:       llm.ErrUpstreamError,
			Message:    "No response choices returned",
			HTTPStatus: http.StatusBadGateway,
			Provider:   p.Name(),
		}
	}

	out := wire.ToChatResponse(p.Name())
	if out.Model == "" {
		out.Model = model
	}
	out.CreatedAt = time.Now()
	if wire.Created != 0 {
		out.CreatedAt = time.Unix(wire.Created, 0)
	}
	if out.Usage.TotalTokens == 0 {
		out.Usage = estimateUsage(out.Model, req.Messages, out.Content())
	}

	log.Debug("completion succeeded",
		zap.Int("total_tokens", out.Usage.TotalTokens),
		zap.Bool("estimated", out.Usage.Estimated),
		zap.Duration("latency", time.Since(start)),
	)
	return out, nil
}

func estimateUsage(model string, messages []llm.Message, completion string) llm.ChatUsage {
	prompt := make([]tokenizer.Message, len(messages))
	for i, m := range messages {
		prompt[i] = tokenizer.Message{Role: string(m.Role), Content: m.Content}
	}
	in := tokenizer.CountMessages(model, prompt)
	out := tokenizer.CountMessages(model, []tokenizer.Message{{Role: string(llm.RoleAssistant), Content: completion}})
	return llm.ChatUsage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out, Estimated: true}
}

var _ llm.Provider = (*Provider)(nil)
