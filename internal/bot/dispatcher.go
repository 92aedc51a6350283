// Package bot turns inbound chat messages into provider calls and replies.
//
// The Dispatcher is transport-agnostic: the Telegram poller, the HTTP chat
// endpoint and the WebSocket endpoint all feed it the same Inbound values and
// deliver the Reply values it returns.
package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/astrogeminibot/internal/conversation"
	"github.com/BaSui01/astrogeminibot/internal/ratelimit"
	"github.com/BaSui01/astrogeminibot/internal/usage"
	"github.com/BaSui01/astrogeminibot/llm"
	"github.com/BaSui01/astrogeminibot/llm/providers"
	"github.com/BaSui01/astrogeminibot/llm/tokenizer"
	"github.com/BaSui01/astrogeminibot/types"
)

const instrumentationName = "github.com/BaSui01/astrogeminibot/internal/bot"

// =============================================================================
// 🎯 配置
// =============================================================================

// Config 分发层配置
type Config struct {
	MaxTokens      int           `json:"max_tokens" yaml:"max_tokens"`
	Temperature    float32       `json:"temperature" yaml:"temperature"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`
	AdminIDs       []int64       `json:"admin_user_ids" yaml:"admin_user_ids"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxTokens:   1500,
		Temperature: 0.7,
	}
}

// Metrics 接收每次 Provider 调用的结果。internal/metrics.Collector 实现了它。
type Metrics interface {
	RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int)
}

// Ledger 持久化调用记录。*usage.Ledger 实现了它。
type Ledger interface {
	Record(ctx context.Context, rec *usage.Record) error
}

// TypingFunc 在准入通过后调用，用于显示“正在输入”
type TypingFunc func(ctx context.Context, chatID int64)

// Option 配置 Dispatcher
type Option func(*Dispatcher)

// WithMetrics 挂载调用指标
func WithMetrics(m Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

// WithLedger 挂载用量账本
func WithLedger(l Ledger) Option { return func(d *Dispatcher) { d.ledger = l } }

// WithTracer 替换默认的全局 tracer
func WithTracer(t trace.Tracer) Option { return func(d *Dispatcher) { d.tracer = t } }

// WithClock 替换时间源
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

// WithTyping 挂载输入状态回调
func WithTyping(fn TypingFunc) Option { return func(d *Dispatcher) { d.typing = fn } }

// =============================================================================
// 🤖 Dispatcher
// =============================================================================

// Dispatcher 串联准入、偏好、对话历史与 Provider 调用。可并发使用。
type Dispatcher struct {
	cfg     Config
	admins  map[int64]struct{}
	limiter *ratelimit.Limiter
	store   *conversation.Store
	catalog *llm.Catalog
	prefs   PreferenceStore
	logger  *zap.Logger

	metrics Metrics
	ledger  Ledger
	tracer  trace.Tracer
	typing  TypingFunc
	now     func() time.Time
}

// NewDispatcher 创建分发器；prefs 为 nil 时使用内存存储
func NewDispatcher(
	cfg Config,
	limiter *ratelimit.Limiter,
	store *conversation.Store,
	catalog *llm.Catalog,
	prefs PreferenceStore,
	logger *zap.Logger,
	opts ...Option,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefs == nil {
		prefs = NewMemoryPreferenceStore(llm.AutoModel)
	}
	d := &Dispatcher{
		cfg:     cfg,
		admins:  make(map[int64]struct{}, len(cfg.AdminIDs)),
		limiter: limiter,
		store:   store,
		catalog: catalog,
		prefs:   prefs,
		logger:  logger.With(zap.String("component", "dispatcher")),
		tracer:  otel.Tracer(instrumentationName),
		now:     time.Now,
	}
	for _, id := range cfg.AdminIDs {
		d.admins[id] = struct{}{}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// IsAdmin 管理员不受准入限制
func (d *Dispatcher) IsAdmin(userID int64) bool {
	_, ok := d.admins[userID]
	return ok
}

// Limiter 返回准入控制器
func (d *Dispatcher) Limiter() *ratelimit.Limiter { return d.limiter }

// Store 返回对话存储
func (d *Dispatcher) Store() *conversation.Store { return d.store }

// Catalog 返回模型目录
func (d *Dispatcher) Catalog() *llm.Catalog { return d.catalog }

// Preference 返回用户当前偏好，读取失败时退回 auto
func (d *Dispatcher) Preference(ctx context.Context, userID int64) string {
	pref, err := d.prefs.Get(ctx, userID)
	if err != nil {
		d.logger.Warn("preference lookup failed, using auto selection",
			zap.Int64("user_id", userID), zap.Error(err))
		return llm.AutoModel
	}
	if pref == "" {
		return llm.AutoModel
	}
	return pref
}

// HandleText 处理一条普通文本消息。Provider 失败会转换成回复，
// 只有非法输入返回 error。
func (d *Dispatcher) HandleText(ctx context.Context, in Inbound) ([]Reply, error) {
	if in.UserID == 0 {
		return nil, types.NewInvalidRequestError("user_id is required")
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, types.NewInvalidRequestError("text is required")
	}

	ctx, span := d.tracer.Start(ctx, "bot.HandleText",
		trace.WithAttributes(attribute.Int64("user.id", in.UserID)))
	defer span.End()

	admin := d.IsAdmin(in.UserID)
	if !admin {
		decision := d.limiter.CheckAndRecord(in.UserID)
		if !decision.Allowed {
			span.SetAttributes(attribute.Bool("bot.rate_limited", true))
			d.logger.Info("request denied by rate limiter",
				zap.Int64("user_id", in.UserID),
				zap.Duration("retry_after", decision.RetryAfter))
			return []Reply{plain(d.rateLimitText(decision))}, nil
		}
	}

	if d.typing != nil {
		d.typing(ctx, in.ChatID)
	}

	pref := d.Preference(ctx, in.UserID)
	explicit := pref != llm.AutoModel
	provider, model, ok := d.catalog.Resolve(pref)
	if !ok {
		if !explicit {
			return []Reply{plain("❌ No AI services are currently available. Please contact an administrator.")}, nil
		}
		return []Reply{plain(fmt.Sprintf(
			"❌ The selected model `%s` is not available.\nAvailable services: %s\n\nUse `/model` to select a different model or choose auto-select.",
			pref, strings.Join(d.catalog.Providers(), ", ")))}, nil
	}
	span.SetAttributes(
		attribute.String("llm.provider", provider.Name()),
		attribute.String("llm.model", model),
	)

	history := d.store.Read(in.UserID)
	d.store.Append(in.UserID, conversation.RoleUser, in.Text)

	req := &llm.ChatRequest{
		TraceID:     traceID(ctx),
		UserID:      strconv.FormatInt(in.UserID, 10),
		Model:       model,
		Messages:    buildMessages(model, in.FirstName, history, in.Text),
		MaxTokens:   d.cfg.MaxTokens,
		Temperature: d.cfg.Temperature,
		Timeout:     d.cfg.RequestTimeout,
	}
	d.logger.Debug("prompt assembled",
		zap.Int64("user_id", in.UserID),
		zap.Int("messages", len(req.Messages)),
		zap.Int("estimated_tokens", promptSize(model, req.Messages)))

	start := d.now()
	resp, err := provider.Completion(ctx, req)
	elapsed := d.now().Sub(start)
	d.report(ctx, in.UserID, provider.Name(), model, resp, err, elapsed)

	display := llm.DisplayName(provider.Name())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider call failed")
		d.logger.Warn("provider call failed",
			zap.Int64("user_id", in.UserID),
			zap.String("provider", provider.Name()),
			zap.String("model", model),
			zap.Duration("latency", elapsed),
			zap.Error(err))

		replies := []Reply{plain(providers.FormatError(display, err))}
		if explicit {
			replies = append(replies, plain("💡 **Tip**: Try using `/model` and selecting 'Auto Select' for better reliability."))
		}
		return replies, nil
	}

	content := resp.Content()
	d.store.Append(in.UserID, conversation.RoleAssistant, content)

	footer := fmt.Sprintf("\n\n`%s • %s • %.1fs", display, model, elapsed.Seconds())
	if resp.Usage.TotalTokens > 0 {
		footer += fmt.Sprintf(" • %d tokens`", resp.Usage.TotalTokens)
	} else {
		footer += "`"
	}

	d.logger.Debug("reply generated",
		zap.Int64("user_id", in.UserID),
		zap.String("provider", provider.Name()),
		zap.String("model", model),
		zap.Int("tokens", resp.Usage.TotalTokens),
		zap.Duration("latency", elapsed))

	if utf8.RuneCountInString(content)+utf8.RuneCountInString(footer) > MaxMessageLength {
		return []Reply{plain(content), markdown(strings.TrimPrefix(footer, "\n\n"))}, nil
	}
	return []Reply{markdown(content + footer)}, nil
}

func (d *Dispatcher) rateLimitText(decision ratelimit.Decision) string {
	secs := int(math.Ceil(decision.RetryAfter.Seconds()))
	return fmt.Sprintf(
		"⏱️ **Rate Limit Exceeded**\n\nYou've reached the limit of %d messages per hour.\nPlease try again in %d minutes and %d seconds.\n\nRemaining requests: %d",
		d.limiter.Config().MaxRequests, secs/60, secs%60, decision.Remaining)
}

// report 把调用结果写入指标与账本；账本写入失败只记日志
func (d *Dispatcher) report(ctx context.Context, userID int64, provider, model string, resp *llm.ChatResponse, err error, elapsed time.Duration) {
	status := "success"
	var u llm.ChatUsage
	if err != nil {
		status = "error"
	} else if resp != nil {
		u = resp.Usage
	}

	if d.metrics != nil {
		d.metrics.RecordLLMRequest(provider, model, status, elapsed, u.PromptTokens, u.CompletionTokens)
	}
	if d.ledger == nil {
		return
	}
	rec := &usage.Record{
		UserID:           userID,
		Provider:         provider,
		Model:            model,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		Estimated:        u.Estimated,
		LatencyMS:        elapsed.Milliseconds(),
		Success:          err == nil,
		ErrorCode:        errorCode(err),
	}
	if lerr := d.ledger.Record(context.WithoutCancel(ctx), rec); lerr != nil {
		d.logger.Warn("usage ledger write failed", zap.Error(lerr))
	}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func systemPrompt(model, firstName string) string {
	return fmt.Sprintf(
		"You are AstroGeminiBot, a helpful AI assistant. You're currently using the %s model. Be conversational, helpful, and concise. The user's name is %s.",
		model, firstName)
}

// promptSize 用估算器计数，不触发 tiktoken 编码加载
func promptSize(model string, messages []llm.Message) int {
	msgs := make([]tokenizer.Message, len(messages))
	for i, m := range messages {
		msgs[i] = tokenizer.Message{Role: string(m.Role), Content: m.Content}
	}
	n, _ := tokenizer.NewEstimatorTokenizer(model).CountMessages(msgs)
	return n
}

// buildMessages 组装 system + 历史 + 当前消息
func buildMessages(model, firstName string, history []conversation.Message, text string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: systemPrompt(model, firstName)})
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: text})
}

func traceID(ctx context.Context) string {
	if id, ok := types.TraceID(ctx); ok && id != "" {
		return id
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return uuid.NewString()
}

func errorCode(err error) string {
	if err == nil {
		return ""
	}
	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		return string(llmErr.Code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return string(llm.ErrUpstreamTimeout)
	}
	return "UNKNOWN"
}
