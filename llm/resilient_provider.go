package llm

import (
	"context"
	"errors"
	"net/http"

	"github.com/BaSui01/astrogeminibot/llm/circuitbreaker"
	"github.com/BaSui01/astrogeminibot/llm/retry"
	"go.uber.org/zap"
)

// ResilientProvider 给 Provider 加上重试与熔断：重试包在熔断外层，
// 熔断拒绝的调用按 ErrProviderUnavailable 返回
type ResilientProvider struct {
	provider Provider
	retryer  *retry.Retryer
	breaker  *circuitbreaker.Breaker
	logger   *zap.Logger
}

// ResilientProviderConfig 弹性 Provider 配置
type ResilientProviderConfig struct {
	// RetryPolicy 重试策略；为空则不重试
	RetryPolicy *retry.Policy

	// CircuitBreaker 熔断器配置；为空则不熔断
	CircuitBreaker *circuitbreaker.Config
}

// DefaultResilientProviderConfig 返回默认配置
func DefaultResilientProviderConfig() *ResilientProviderConfig {
	return &ResilientProviderConfig{
		RetryPolicy:    retry.DefaultPolicy(),
		CircuitBreaker: circuitbreaker.DefaultConfig(),
	}
}

// NewResilientProvider 创建具有弹性能力的 Provider
func NewResilientProvider(provider Provider, config *ResilientProviderConfig, logger *zap.Logger) *ResilientProvider {
	if config == nil {
		config = DefaultResilientProviderConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "resilient_provider"), zap.String("provider", provider.Name()))

	rp := &ResilientProvider{provider: provider, logger: logger}

	if config.RetryPolicy != nil {
		policy := *config.RetryPolicy
		if policy.ShouldRetry == nil {
			policy.ShouldRetry = shouldRetry
		}
		rp.retryer = retry.New(&policy, logger)
	}
	if config.CircuitBreaker != nil {
		cbCfg := *config.CircuitBreaker
		if cbCfg.Name == "" {
			cbCfg.Name = provider.Name()
		}
		if cbCfg.IsFailure == nil {
			cbCfg.IsFailure = countsAsProviderFailure
		}
		rp.breaker = circuitbreaker.New(&cbCfg, logger)
	}
	return rp
}

// Completion 实现 Provider.Completion：重试包裹熔断，熔断包裹实际调用
func (rp *ResilientProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	call := func(ctx context.Context) (*ChatResponse, error) {
		return rp.provider.Completion(ctx, req)
	}

	guarded := call
	if rp.breaker != nil {
		guarded = func(ctx context.Context) (*ChatResponse, error) {
			resp, err := circuitbreaker.Do(ctx, rp.breaker, call)
			return resp, rp.normalize(err)
		}
	}

	var (
		resp *ChatResponse
		err  error
	)
	if rp.retryer != nil {
		resp, err = retry.Do(ctx, rp.retryer, guarded)
	} else {
		resp, err = guarded(ctx)
	}
	if err != nil {
		return nil, rp.unwrapLLMError(err)
	}
	return resp, nil
}

// HealthCheck 透传底层 Provider；熔断打开时直接报告不健康
func (rp *ResilientProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	if rp.breaker != nil && rp.breaker.State() == circuitbreaker.StateOpen {
		return &HealthStatus{Healthy: false, Message: "circuit breaker is open"}, nil
	}
	return rp.provider.HealthCheck(ctx)
}

// Name 返回底层 Provider 名称
func (rp *ResilientProvider) Name() string { return rp.provider.Name() }

// BreakerState 返回熔断器当前状态；未启用熔断时恒为 Closed
func (rp *ResilientProvider) BreakerState() circuitbreaker.State {
	if rp.breaker == nil {
		return circuitbreaker.StateClosed
	}
	return rp.breaker.State()
}

// normalize 把熔断器自身的错误转换为 llm.Error
func (rp *ResilientProvider) normalize(err error) error {
	if err == nil {
		return nil
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return err
	}
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyCallsInHalfOpen):
		rp.logger.Warn("provider call rejected by circuit breaker", zap.Error(err))
		return &Error{
			Code:       ErrProviderUnavailable,
			Message:    rp.provider.Name() + " is temporarily unavailable (circuit breaker open)",
			HTTPStatus: http.StatusServiceUnavailable,
			Provider:   rp.provider.Name(),
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{
			Code:       ErrUpstreamTimeout,
			Message:    rp.provider.Name() + " request timeout",
			HTTPStatus: http.StatusGatewayTimeout,
			Retryable:  true,
			Provider:   rp.provider.Name(),
		}
	}
	return err
}

// unwrapLLMError 去掉重试器的包装，保证调用方拿到的是 *Error
func (rp *ResilientProvider) unwrapLLMError(err error) error {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}
	return err
}

// shouldRetry 只重试被标记为可重试的上游错误
func shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return retry.IsRetryableError(err)
}

// countsAsProviderFailure 客户端类错误（密钥、参数、配额）不代表 Provider 故障
func countsAsProviderFailure(err error) bool {
	var llmErr *Error
	if !errors.As(err, &llmErr) {
		return true
	}
	switch llmErr.Code {
	case ErrUnauthorized, ErrForbidden, ErrInvalidRequest, ErrQuotaExceeded:
		return false
	}
	return true
}

// 编译期接口检查
var _ Provider = (*ResilientProvider)(nil)

