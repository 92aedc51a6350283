package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/astrogeminibot/internal/conversation"
	"github.com/BaSui01/astrogeminibot/internal/ratelimit"
	"github.com/BaSui01/astrogeminibot/internal/usage"
	"github.com/BaSui01/astrogeminibot/llm"
	"github.com/BaSui01/astrogeminibot/llm/providers"
	"github.com/BaSui01/astrogeminibot/testutil"
	"github.com/BaSui01/astrogeminibot/testutil/fixtures"
	"github.com/BaSui01/astrogeminibot/testutil/mocks"
	"github.com/BaSui01/astrogeminibot/types"
)

// =============================================================================
// 🧪 测试夹具
// =============================================================================

type metricCall struct {
	provider, model, status string
	prompt, completion      int
}

type fakeMetrics struct {
	mu    sync.Mutex
	calls []metricCall
}

func (f *fakeMetrics) RecordLLMRequest(provider, model, status string, _ time.Duration, prompt, completion int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, metricCall{provider, model, status, prompt, completion})
}

type fakeLedger struct {
	mu      sync.Mutex
	records []usage.Record
	err     error
}

func (f *fakeLedger) Record(_ context.Context, rec *usage.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, *rec)
	return f.err
}

type failingPrefs struct{}

func (failingPrefs) Get(context.Context, int64) (string, error) { return "", errors.New("redis down") }
func (failingPrefs) Set(context.Context, int64, string) error   { return errors.New("redis down") }

type harness struct {
	clock   *testutil.Clock
	limiter *ratelimit.Limiter
	store   *conversation.Store
	prefs   PreferenceStore
	metrics *fakeMetrics
	ledger  *fakeLedger
	d       *Dispatcher
}

func newHarness(t *testing.T, cfg Config, prefs PreferenceStore, ps ...llm.Provider) *harness {
	t.Helper()
	clock := testutil.NewClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))

	limiter, err := ratelimit.New(ratelimit.Config{MaxRequests: 3, Window: time.Hour}, zap.NewNop(), ratelimit.WithClock(clock.Now))
	require.NoError(t, err)
	store, err := conversation.New(conversation.Config{MaxHistory: 4, Timeout: time.Hour}, zap.NewNop(), conversation.WithClock(clock.Now))
	require.NoError(t, err)
	if prefs == nil {
		prefs = NewMemoryPreferenceStore(llm.AutoModel)
	}

	h := &harness{
		clock:   clock,
		limiter: limiter,
		store:   store,
		prefs:   prefs,
		metrics: &fakeMetrics{},
		ledger:  &fakeLedger{},
	}
	h.d = NewDispatcher(cfg, limiter, store, llm.NewCatalog(ps...), prefs, zap.NewNop(),
		WithClock(clock.Now),
		WithMetrics(h.metrics),
		WithLedger(h.ledger),
	)
	return h
}

// slowProvider 在调用期间把时钟推进 1.5 秒
func slowProvider(clock *testutil.Clock, name string, resp func(req *llm.ChatRequest) *llm.ChatResponse) *mocks.MockProvider {
	return mocks.NewMockProvider().WithName(name).WithCompletionFunc(
		func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			clock.Advance(1500 * time.Millisecond)
			return resp(req), nil
		})
}

func inbound(text string) Inbound {
	return Inbound{UserID: 42, ChatID: 4242, FirstName: "Ada", Text: text}
}

// =============================================================================
// 🎯 HandleText
// =============================================================================

func TestHandleText_Success(t *testing.T) {
	var h *harness
	provider := mocks.NewMockProvider().WithName(llm.ProviderOpenAI)
	h = newHarness(t, Config{MaxTokens: 1500, Temperature: 0.7, RequestTimeout: 20 * time.Second}, nil, provider)
	provider.WithCompletionFunc(func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		h.clock.Advance(1500 * time.Millisecond)
		return fixtures.ResponseWithUsage(llm.ProviderOpenAI, req.Model, "Hello there", 10, 20), nil
	})

	replies, err := h.d.HandleText(context.Background(), inbound("hi"))
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "Hello there\n\n`OpenAI • gpt-4o-mini • 1.5s • 30 tokens`", replies[0].Text)
	assert.Equal(t, ParseModeMarkdown, replies[0].ParseMode)

	call := provider.GetLastCall()
	require.NotNil(t, call)
	assert.Equal(t, "gpt-4o-mini", call.Request.Model)
	assert.Equal(t, 1500, call.Request.MaxTokens)
	assert.InDelta(t, 0.7, call.Request.Temperature, 1e-6)
	assert.Equal(t, 20*time.Second, call.Request.Timeout)
	assert.Equal(t, "42", call.Request.UserID)
	assert.NotEmpty(t, call.Request.TraceID)
	testutil.AssertMessagesEqual(t, []llm.Message{
		{Role: llm.RoleSystem, Content: "You are AstroGeminiBot, a helpful AI assistant. You're currently using the gpt-4o-mini model. Be conversational, helpful, and concise. The user's name is Ada."},
		{Role: llm.RoleUser, Content: "hi"},
	}, call.Request.Messages)

	assert.Equal(t, []conversation.Message{
		{Role: conversation.RoleUser, Content: "hi"},
		{Role: conversation.RoleAssistant, Content: "Hello there"},
	}, h.store.Read(42))

	require.Len(t, h.metrics.calls, 1)
	assert.Equal(t, metricCall{"openai", "gpt-4o-mini", "success", 10, 20}, h.metrics.calls[0])
	require.Len(t, h.ledger.records, 1)
	rec := h.ledger.records[0]
	assert.True(t, rec.Success)
	assert.Equal(t, int64(42), rec.UserID)
	assert.Equal(t, 30, rec.TotalTokens)
	assert.Equal(t, int64(1500), rec.LatencyMS)
}

func TestHandleText_HistoryPrecedesCurrentMessage(t *testing.T) {
	provider := mocks.NewSuccessProvider(llm.ProviderOpenAI, "ok")
	h := newHarness(t, DefaultConfig(), nil, provider)
	ctx := context.Background()

	_, err := h.d.HandleText(ctx, inbound("first"))
	require.NoError(t, err)
	_, err = h.d.HandleText(ctx, inbound("second"))
	require.NoError(t, err)

	msgs := provider.GetLastCall().Request.Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "first"}, msgs[1])
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "ok"}, msgs[2])
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "second"}, msgs[3])
}

func TestHandleText_KeepsTextVerbatim(t *testing.T) {
	provider := mocks.NewSuccessProvider(llm.ProviderOpenAI, "ok")
	h := newHarness(t, DefaultConfig(), nil, provider)

	const text = "  line one\n  indented line  \n"
	_, err := h.d.HandleText(context.Background(), inbound(text))
	require.NoError(t, err)

	msgs := provider.GetLastCall().Request.Messages
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: text}, msgs[len(msgs)-1])
	stored := h.store.Read(42)
	require.NotEmpty(t, stored)
	assert.Equal(t, text, stored[0].Content)
}

func TestHandleText_FooterWithoutTokens(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	provider := slowProvider(h.clock, llm.ProviderGemini, func(req *llm.ChatRequest) *llm.ChatResponse {
		return fixtures.ResponseWithoutUsage(llm.ProviderGemini, req.Model, "Bonjour")
	})
	h.d.catalog = llm.NewCatalog(provider)

	replies, err := h.d.HandleText(context.Background(), inbound("salut"))
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "Bonjour\n\n`Gemini • gemini-2.5-flash • 1.5s`", replies[0].Text)
}

func TestHandleText_LongReplySplitsFooter(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	provider := slowProvider(h.clock, llm.ProviderOpenAI, func(req *llm.ChatRequest) *llm.ChatResponse {
		return fixtures.LongResponse(llm.ProviderOpenAI, req.Model, 4090)
	})
	h.d.catalog = llm.NewCatalog(provider)

	replies, err := h.d.HandleText(context.Background(), inbound("write a lot"))
	require.NoError(t, err)
	require.Len(t, replies, 2)
	assert.Equal(t, strings.Repeat("a", 4090), replies[0].Text)
	assert.Empty(t, replies[0].ParseMode)
	assert.Equal(t, "`OpenAI • gpt-4o-mini • 1.5s • 30 tokens`", replies[1].Text)
	assert.Equal(t, ParseModeMarkdown, replies[1].ParseMode)
}

func TestHandleText_RateLimited(t *testing.T) {
	provider := mocks.NewSuccessProvider(llm.ProviderOpenAI, "ok")
	h := newHarness(t, DefaultConfig(), nil, provider)
	ctx := context.Background()

	var typed []int64
	h.d.typing = func(_ context.Context, chatID int64) { typed = append(typed, chatID) }

	for i := 0; i < 3; i++ {
		_, err := h.d.HandleText(ctx, inbound("hello"))
		require.NoError(t, err)
	}
	h.clock.Advance(10*time.Minute + 30*time.Second + 500*time.Millisecond)

	replies, err := h.d.HandleText(ctx, inbound("one more"))
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t,
		"⏱️ **Rate Limit Exceeded**\n\nYou've reached the limit of 3 messages per hour.\nPlease try again in 49 minutes and 30 seconds.\n\nRemaining requests: 0",
		replies[0].Text)
	assert.Empty(t, replies[0].ParseMode)

	assert.Equal(t, 3, provider.GetCallCount())
	assert.Equal(t, []int64{4242, 4242, 4242}, typed)
	// 被拒绝的消息不进入历史
	assert.Len(t, h.store.Read(42), 4)
}

func TestHandleText_AdminBypassesLimiter(t *testing.T) {
	provider := mocks.NewSuccessProvider(llm.ProviderOpenAI, "ok")
	h := newHarness(t, Config{AdminIDs: []int64{42}}, nil, provider)

	for i := 0; i < 5; i++ {
		replies, err := h.d.HandleText(context.Background(), inbound("hello"))
		require.NoError(t, err)
		require.Len(t, replies, 1)
		assert.True(t, strings.HasPrefix(replies[0].Text, "ok"))
	}
	assert.Equal(t, 5, provider.GetCallCount())
	assert.Zero(t, h.limiter.StatsFor(42).TotalRequests)
}

func TestHandleText_NoProviders(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)

	replies, err := h.d.HandleText(context.Background(), inbound("hello"))
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "❌ No AI services are currently available. Please contact an administrator.", replies[0].Text)
	assert.Empty(t, h.store.Read(42))
	assert.Empty(t, h.metrics.calls)
}

func TestHandleText_SelectedModelUnavailable(t *testing.T) {
	provider := mocks.NewSuccessProvider(llm.ProviderOpenAI, "ok")
	h := newHarness(t, DefaultConfig(), nil, provider)
	require.NoError(t, h.prefs.Set(context.Background(), 42, "gemini-2.5-pro"))

	replies, err := h.d.HandleText(context.Background(), inbound("hello"))
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t,
		"❌ The selected model `gemini-2.5-pro` is not available.\nAvailable services: openai\n\nUse `/model` to select a different model or choose auto-select.",
		replies[0].Text)
	assert.Zero(t, provider.GetCallCount())
	assert.Empty(t, h.store.Read(42))
}

func TestHandleText_ExplicitModelRoutesBySubstring(t *testing.T) {
	openai := mocks.NewSuccessProvider(llm.ProviderOpenAI, "from openai")
	together := mocks.NewSuccessProvider(llm.ProviderTogether, "from together")
	h := newHarness(t, DefaultConfig(), nil, openai, together)
	model := "meta-llama/Meta-Llama-3.1-70B-Instruct-Turbo"
	require.NoError(t, h.prefs.Set(context.Background(), 42, model))

	replies, err := h.d.HandleText(context.Background(), inbound("hello"))
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "from together")
	assert.Contains(t, replies[0].Text, "`Together • "+model)
	assert.Zero(t, openai.GetCallCount())
	assert.Equal(t, model, together.GetLastCall().Request.Model)
}

func TestHandleText_ProviderErrorAutoMode(t *testing.T) {
	upstream := &llm.Error{Code: llm.ErrRateLimited, Message: "slow down", HTTPStatus: 429, Retryable: true}
	provider := mocks.NewErrorProvider(llm.ProviderOpenAI, upstream)
	h := newHarness(t, DefaultConfig(), nil, provider)

	replies, err := h.d.HandleText(context.Background(), inbound("hello"))
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, providers.FormatError("OpenAI", upstream), replies[0].Text)
	assert.Empty(t, replies[0].ParseMode)

	// 只保留用户消息
	assert.Equal(t, []conversation.Message{{Role: conversation.RoleUser, Content: "hello"}}, h.store.Read(42))

	require.Len(t, h.metrics.calls, 1)
	assert.Equal(t, "error", h.metrics.calls[0].status)
	require.Len(t, h.ledger.records, 1)
	assert.False(t, h.ledger.records[0].Success)
	assert.Equal(t, "LLM_RATE_LIMITED", h.ledger.records[0].ErrorCode)
}

func TestHandleText_ProviderErrorExplicitModelAddsTip(t *testing.T) {
	provider := mocks.NewErrorProvider(llm.ProviderGemini, context.DeadlineExceeded)
	h := newHarness(t, DefaultConfig(), nil, provider)
	require.NoError(t, h.prefs.Set(context.Background(), 42, "gemini-2.5-pro"))

	replies, err := h.d.HandleText(context.Background(), inbound("hello"))
	require.NoError(t, err)
	require.Len(t, replies, 2)
	assert.Equal(t, providers.FormatError("Gemini", context.DeadlineExceeded), replies[0].Text)
	assert.Equal(t, "💡 **Tip**: Try using `/model` and selecting 'Auto Select' for better reliability.", replies[1].Text)
	assert.Equal(t, "LLM_UPSTREAM_TIMEOUT", h.ledger.records[0].ErrorCode)
}

func TestHandleText_LedgerFailureDoesNotAffectReply(t *testing.T) {
	provider := mocks.NewSuccessProvider(llm.ProviderOpenAI, "ok")
	h := newHarness(t, DefaultConfig(), nil, provider)
	h.ledger.err = errors.New("disk full")

	replies, err := h.d.HandleText(context.Background(), inbound("hello"))
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.True(t, strings.HasPrefix(replies[0].Text, "ok\n\n`OpenAI"))
}

func TestHandleText_PreferenceFailureFallsBackToAuto(t *testing.T) {
	provider := mocks.NewSuccessProvider(llm.ProviderOpenAI, "ok")
	h := newHarness(t, DefaultConfig(), failingPrefs{}, provider)

	replies, err := h.d.HandleText(context.Background(), inbound("hello"))
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "gpt-4o-mini", provider.GetLastCall().Request.Model)
}

func TestHandleText_InvalidInput(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil, mocks.NewMockProvider().WithName(llm.ProviderOpenAI))

	_, err := h.d.HandleText(context.Background(), Inbound{Text: "hello"})
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	_, err = h.d.HandleText(context.Background(), Inbound{UserID: 1, Text: "   "})
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	assert.Zero(t, h.limiter.StatsFor(1).TotalRequests)
}

func TestHandleText_ConcurrentUsersStayIsolated(t *testing.T) {
	provider := mocks.NewSuccessProvider(llm.ProviderOpenAI, "ok")
	h := newHarness(t, DefaultConfig(), nil, provider)

	var wg sync.WaitGroup
	for u := int64(1); u <= 8; u++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				_, _ = h.d.HandleText(context.Background(), Inbound{UserID: userID, FirstName: "U", Text: "hi"})
			}
		}(u)
	}
	wg.Wait()

	// 每个用户只有 3 次被准入，历史上限 4 条
	assert.Equal(t, 24, provider.GetCallCount())
	for u := int64(1); u <= 8; u++ {
		stats := h.limiter.StatsFor(u)
		assert.Equal(t, int64(5), stats.TotalRequests)
		assert.Equal(t, int64(2), stats.BlockedRequests)
		assert.Len(t, h.store.Read(u), 4)
	}
}

func TestErrorCode(t *testing.T) {
	assert.Empty(t, errorCode(nil))
	assert.Equal(t, "LLM_QUOTA_EXCEEDED", errorCode(&llm.Error{Code: llm.ErrQuotaExceeded}))
	assert.Equal(t, "LLM_UPSTREAM_TIMEOUT", errorCode(context.DeadlineExceeded))
	assert.Equal(t, "UNKNOWN", errorCode(errors.New("boom")))
}

func TestTraceIDPrefersContext(t *testing.T) {
	ctx := types.WithTraceID(context.Background(), "trace-123")
	assert.Equal(t, "trace-123", traceID(ctx))
	assert.Len(t, traceID(context.Background()), 36)
}

func TestPromptSizeGrowsWithHistory(t *testing.T) {
	short := buildMessages("gpt-4o-mini", "Ada", nil, "hi")
	long := buildMessages("gpt-4o-mini", "Ada", []conversation.Message{
		{Role: conversation.RoleUser, Content: "tell me about the andromeda galaxy"},
		{Role: conversation.RoleAssistant, Content: "it is the nearest large spiral galaxy to the milky way"},
	}, "hi")

	assert.Positive(t, promptSize("gpt-4o-mini", short))
	assert.Greater(t, promptSize("gpt-4o-mini", long), promptSize("gpt-4o-mini", short))
}
