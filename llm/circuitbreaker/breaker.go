package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrCircuitOpen 熔断中，调用未执行
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyCallsInHalfOpen 半开状态的试探名额已用完
	ErrTooManyCallsInHalfOpen = errors.New("too many calls in half-open state")
)

// State 熔断器状态
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{StateClosed: "Closed", StateOpen: "Open", StateHalfOpen: "HalfOpen"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// Config 熔断器配置，非正数字段取默认值
type Config struct {
	// Name 通常是 provider 名，出现在日志与回调里
	Name string

	// Threshold 连续失败多少次后打开
	Threshold int

	// Timeout 单次调用的超时
	Timeout time.Duration

	// ResetTimeout 打开多久后进入半开
	ResetTimeout time.Duration

	// HalfOpenMaxCalls 半开时最多放行的试探调用数
	HalfOpenMaxCalls int

	// IsFailure 为空时所有错误都计为失败
	IsFailure func(error) bool

	// OnStateChange 在独立 goroutine 中调用
	OnStateChange func(name string, from, to State)
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Threshold:        5,
		Timeout:          30 * time.Second,
		ResetTimeout:     time.Minute,
		HalfOpenMaxCalls: 3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = d.HalfOpenMaxCalls
	}
	return c
}

// =============================================================================
// 🔌 Breaker
// =============================================================================

// Breaker 连续失败计数的三态熔断器
type Breaker struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int
}

// New cfg 为 nil 时使用 DefaultConfig
func New(cfg *Config, logger *zap.Logger) *Breaker {
	return newBreaker(cfg, logger, time.Now)
}

func newBreaker(cfg *Config, logger *zap.Logger, now func() time.Time) *Breaker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cfg.withDefaults()
	return &Breaker{cfg: c, logger: logger.With(zap.String("breaker", c.Name)), now: now}
}

// Call 放行时以带 Timeout 的 ctx 同步执行 fn，fn 需要遵守 ctx。
// 调用方自己取消的调用不计入失败。
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	err := fn(callCtx)

	switch {
	case err == nil:
		b.record(false)
	case ctx.Err() != nil:
		b.release()
	default:
		b.record(callCtx.Err() != nil || b.isFailure(err))
	}
	return err
}

// Do 带返回值的 Call
func Do[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := b.Call(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

// State 当前状态；打开超过 ResetTimeout 但还没有新调用时仍报告 Open
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset 手动关闭熔断器
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger.Info("circuit breaker reset", zap.Stringer("from", b.state))
	b.transition(StateClosed)
	b.failures = 0
}

func (b *Breaker) isFailure(err error) bool {
	return b.cfg.IsFailure == nil || b.cfg.IsFailure(err)
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) <= b.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
	}
	if b.state == StateHalfOpen {
		if b.probes >= b.cfg.HalfOpenMaxCalls {
			return ErrTooManyCallsInHalfOpen
		}
		b.probes++
	}
	return nil
}

// release 归还未得出结论的试探名额
func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen && b.probes > 0 {
		b.probes--
	}
}

func (b *Breaker) record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !failed {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.transition(StateClosed)
		}
		return
	}

	b.failures++
	if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= b.cfg.Threshold) {
		b.openedAt = b.now()
		b.transition(StateOpen)
	}
}

// transition 调用方持有 mu
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.probes = 0

	switch to {
	case StateOpen:
		b.logger.Warn("circuit breaker opened",
			zap.Stringer("from", from),
			zap.Int("consecutive_failures", b.failures))
	case StateHalfOpen:
		b.logger.Info("circuit breaker half-open")
	case StateClosed:
		b.failures = 0
		b.logger.Info("circuit breaker closed", zap.Stringer("from", from))
	}

	if b.cfg.OnStateChange != nil {
		go b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}
