// Package retry 为 Provider 调用提供指数退避重试，退避计算交给 cenkalti/backoff。
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// jitterFactor 开启抖动时每次延迟在 ±25% 内随机
const jitterFactor = 0.25

// Policy 指数退避重试策略
type Policy struct {
	// MaxRetries 首次调用之外的最大重试次数，0 表示不重试
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool

	// ShouldRetry 为空时所有错误都重试
	ShouldRetry func(err error) bool

	// OnRetry 每次等待前调用，attempt 从 1 开始
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy 3 次重试，1s 起步，翻倍，封顶 30s
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}

// Retryer 基于 cenkalti/backoff 的重试器，可并发使用
type Retryer struct {
	policy Policy
	logger *zap.Logger
}

// New policy 为 nil 时使用 DefaultPolicy，非法字段取默认值
func New(policy *Policy, logger *zap.Logger) *Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p, d := *policy, DefaultPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	return &Retryer{policy: p, logger: logger}
}

// backOff 每次 Do 一个新实例，ExponentialBackOff 自身有状态
func (r *Retryer) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialDelay
	b.MaxInterval = r.policy.MaxDelay
	b.Multiplier = r.policy.Multiplier
	b.RandomizationFactor = 0
	if r.policy.Jitter {
		b.RandomizationFactor = jitterFactor
	}
	return b
}

func (r *Retryer) retryable(err error) bool {
	return r.policy.ShouldRetry == nil || r.policy.ShouldRetry(err)
}

// Do 执行 fn，失败且可重试时按策略等待后重试。
// 返回最后一次的错误；ctx 在等待期间结束时返回 ctx 的错误。
func Do[T any](ctx context.Context, r *Retryer, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := 0
	op := func() (T, error) {
		attempts++
		v, err := fn(ctx)
		if err != nil && !r.retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, delay time.Duration) {
		r.logger.Debug("retrying",
			zap.Int("attempt", attempts),
			zap.Int("max_retries", r.policy.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err))
		if r.policy.OnRetry != nil {
			r.policy.OnRetry(attempts, err, delay)
		}
	}

	v, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(r.backOff()),
		backoff.WithMaxTries(uint(r.policy.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify))
	if err == nil {
		if attempts > 1 {
			r.logger.Info("retry succeeded", zap.Int("attempts", attempts))
		}
		return v, nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	if attempts > r.policy.MaxRetries {
		r.logger.Warn("retries exhausted", zap.Int("attempts", attempts), zap.Error(err))
	}
	var zero T
	return zero, err
}

// RetryableError 标记一个可以重试的错误
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// WrapRetryable nil 保持为 nil
func WrapRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryableError err 链中是否有 RetryableError
func IsRetryableError(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
