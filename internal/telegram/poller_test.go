package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/astrogeminibot/internal/bot"
)

// =============================================================================
// 🧪 测试夹具
// =============================================================================

type fakeHandler struct {
	mu       sync.Mutex
	texts    []bot.Inbound
	commands []string
	cbs      []bot.Callback

	onText func(bot.Inbound) ([]bot.Reply, error)
}

func (h *fakeHandler) HandleText(_ context.Context, in bot.Inbound) ([]bot.Reply, error) {
	h.mu.Lock()
	h.texts = append(h.texts, in)
	fn := h.onText
	h.mu.Unlock()
	if fn != nil {
		return fn(in)
	}
	return []bot.Reply{{Text: "echo: " + in.Text, ParseMode: bot.ParseModeMarkdown}}, nil
}

func (h *fakeHandler) HandleCommand(_ context.Context, _ bot.Inbound, command string) ([]bot.Reply, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, command)
	return []bot.Reply{{
		Text:     "menu",
		Keyboard: [][]bot.Button{{{Text: "Auto", Data: "model_auto"}}},
	}}, nil
}

func (h *fakeHandler) HandleCallback(_ context.Context, cb bot.Callback) ([]bot.Reply, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cbs = append(h.cbs, cb)
	return []bot.Reply{{Text: "selected", Edit: true}}, nil
}

type updateRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *updateRecorder) RecordTelegramUpdate(kind string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	r.counts[kind+"/"+status]++
}

func (r *updateRecorder) get(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

func message(updateID int64, text string) map[string]any {
	return map[string]any{
		"update_id": updateID,
		"message": map[string]any{
			"message_id": updateID,
			"from":       map[string]any{"id": 42, "first_name": "Ada", "username": "ada"},
			"chat":       map[string]any{"id": 4242, "type": "private"},
			"text":       text,
		},
	}
}

func callback(updateID int64, data string) map[string]any {
	return map[string]any{
		"update_id": updateID,
		"callback_query": map[string]any{
			"id":      "cb-1",
			"from":    map[string]any{"id": 42, "first_name": "Ada"},
			"data":    data,
			"message": map[string]any{"message_id": 77, "chat": map[string]any{"id": 4242, "type": "private"}},
		},
	}
}

// serveBatch 第一次 getUpdates 返回 batch，之后短暂等待并返回空
func serveBatch(api *fakeAPI, batch []map[string]any) {
	var served atomic.Bool
	api.on("getMe", func(map[string]any, *http.Request) (any, int, string) {
		return map[string]any{"id": 99, "is_bot": true, "first_name": "Astro", "username": "AstroGeminiBot"}, http.StatusOK, ""
	})
	api.on("getUpdates", func(_ map[string]any, r *http.Request) (any, int, string) {
		if served.CompareAndSwap(false, true) {
			return batch, http.StatusOK, ""
		}
		select {
		case <-r.Context().Done():
		case <-time.After(20 * time.Millisecond):
		}
		return []any{}, http.StatusOK, ""
	})
	api.on("sendMessage", sentMessage)
}

func runPoller(t *testing.T, p *Poller) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	return func() error {
		stop()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("poller did not stop")
			return nil
		}
	}
}

// =============================================================================
// 🎯 Poller
// =============================================================================

func TestPoller_DispatchesUpdates(t *testing.T) {
	api := newFakeAPI(t)
	serveBatch(api, []map[string]any{
		message(100, "hello"),
		message(101, "/model@AstroGeminiBot"),
		callback(102, "model_auto"),
	})
	handler := &fakeHandler{}
	rec := &updateRecorder{}
	p := NewPoller(api.client(t, 100), handler, PollerConfig{PollTimeout: time.Second}, zap.NewNop(), WithUpdateRecorder(rec))

	stop := runPoller(t, p)
	require.Eventually(t, func() bool {
		return len(api.callsFor("editMessageText")) == 1 && len(api.callsFor("sendMessage")) == 2
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(api.callsFor("getUpdates")) >= 2 }, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, stop())

	// 启动时丢弃积压更新
	hooks := api.callsFor("deleteWebhook")
	require.Len(t, hooks, 1)
	assert.Equal(t, true, hooks[0].Params["drop_pending_updates"])

	polls := api.callsFor("getUpdates")
	assert.NotContains(t, polls[0].Params, "offset")
	assert.Equal(t, float64(1), polls[0].Params["timeout"])
	assert.Equal(t, float64(103), polls[1].Params["offset"])

	handler.mu.Lock()
	require.Len(t, handler.texts, 1)
	assert.Equal(t, bot.Inbound{UserID: 42, ChatID: 4242, FirstName: "Ada", Username: "ada", Text: "hello"}, handler.texts[0])
	assert.Equal(t, []string{"model"}, handler.commands)
	require.Len(t, handler.cbs, 1)
	assert.Equal(t, bot.Callback{ID: "cb-1", UserID: 42, ChatID: 4242, MessageID: 77, Data: "model_auto"}, handler.cbs[0])
	handler.mu.Unlock()

	var texts []string
	for _, c := range api.callsFor("sendMessage") {
		texts = append(texts, c.Params["text"].(string))
		if c.Params["text"] == "menu" {
			assert.Contains(t, c.Params, "reply_markup")
		}
	}
	assert.ElementsMatch(t, []string{"echo: hello", "menu"}, texts)

	edit := api.callsFor("editMessageText")[0]
	assert.Equal(t, float64(77), edit.Params["message_id"])
	assert.Equal(t, "selected", edit.Params["text"])
	assert.Len(t, api.callsFor("answerCallbackQuery"), 1)

	assert.Equal(t, 1, rec.get("message/ok"))
	assert.Equal(t, 1, rec.get("command/ok"))
	assert.Equal(t, 1, rec.get("callback/ok"))
}

func TestPoller_RecoversFromPanics(t *testing.T) {
	api := newFakeAPI(t)
	serveBatch(api, []map[string]any{message(1, "boom"), message(2, "fine")})
	handler := &fakeHandler{onText: func(in bot.Inbound) ([]bot.Reply, error) {
		if in.Text == "boom" {
			panic("handler exploded")
		}
		return []bot.Reply{{Text: "ok"}}, nil
	}}
	rec := &updateRecorder{}
	p := NewPoller(api.client(t, 100), handler, PollerConfig{PollTimeout: time.Second}, zap.NewNop(), WithUpdateRecorder(rec))

	stop := runPoller(t, p)
	require.Eventually(t, func() bool {
		return rec.get("message/ok") == 1 && rec.get("message/error") == 1
	}, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, stop())
}

func TestPoller_HandlerErrorIsReported(t *testing.T) {
	api := newFakeAPI(t)
	serveBatch(api, []map[string]any{message(1, "hello")})
	handler := &fakeHandler{onText: func(bot.Inbound) ([]bot.Reply, error) {
		return nil, errors.New(strings.Repeat("x", 150))
	}}
	p := NewPoller(api.client(t, 100), handler, PollerConfig{PollTimeout: time.Second}, zap.NewNop())

	stop := runPoller(t, p)
	require.Eventually(t, func() bool { return len(api.callsFor("sendMessage")) == 1 }, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, stop())

	want := "❌ Sorry, I encountered an error: " + strings.Repeat("x", 100) + "..."
	assert.Equal(t, want, api.callsFor("sendMessage")[0].Params["text"])
}

func TestPoller_RetriesAfterPollError(t *testing.T) {
	api := newFakeAPI(t)
	serveBatch(api, nil)
	var polls atomic.Int32
	api.on("getUpdates", func(_ map[string]any, r *http.Request) (any, int, string) {
		switch polls.Add(1) {
		case 1:
			return nil, http.StatusBadGateway, "Bad Gateway"
		case 2:
			return []map[string]any{message(5, "after retry")}, http.StatusOK, ""
		}
		select {
		case <-r.Context().Done():
		case <-time.After(20 * time.Millisecond):
		}
		return []any{}, http.StatusOK, ""
	})
	handler := &fakeHandler{}
	p := NewPoller(api.client(t, 100), handler, PollerConfig{PollTimeout: time.Second, RetryDelay: 10 * time.Millisecond}, zap.NewNop())

	stop := runPoller(t, p)
	require.Eventually(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.texts) > 0
	}, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, stop())
}

func TestPoller_InvalidTokenFailsFast(t *testing.T) {
	api := newFakeAPI(t)
	api.on("getMe", func(map[string]any, *http.Request) (any, int, string) {
		return nil, http.StatusUnauthorized, "Unauthorized"
	})
	p := NewPoller(api.client(t, 100), &fakeHandler{}, PollerConfig{}, zap.NewNop())

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verify bot token")
	assert.Empty(t, api.callsFor("getUpdates"))
}

func TestPoller_IgnoresEmptyMessages(t *testing.T) {
	api := newFakeAPI(t)
	serveBatch(api, []map[string]any{message(1, "   "), {"update_id": 2}})
	handler := &fakeHandler{}
	rec := &updateRecorder{}
	p := NewPoller(api.client(t, 100), handler, PollerConfig{PollTimeout: time.Second}, zap.NewNop(), WithUpdateRecorder(rec))

	stop := runPoller(t, p)
	require.Eventually(t, func() bool { return rec.get("message/ok")+rec.get("other/ok") == 2 }, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, stop())
	assert.Empty(t, handler.texts)
	assert.Empty(t, api.callsFor("sendMessage"))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func TestUpdateKind(t *testing.T) {
	tests := []struct {
		name string
		u    Update
		want string
	}{
		{"message", Update{Message: &Message{Text: "hi"}}, KindMessage},
		{"command", Update{Message: &Message{Text: "/start"}}, KindCommand},
		{"callback", Update{CallbackQuery: &CallbackQuery{}}, KindCallback},
		{"other", Update{}, KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.u.Kind())
		})
	}
}

func TestSplitText(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitText("short", 10))

	chunks := splitText(strings.Repeat("a", 25), 10)
	assert.Equal(t, []string{strings.Repeat("a", 10), strings.Repeat("a", 10), strings.Repeat("a", 5)}, chunks)

	withBreak := "aaaaaaa\nbbbbbbbbbb"
	assert.Equal(t, []string{"aaaaaaa\n", "bbbbbbbbbb"}, splitText(withBreak, 10))

	multibyte := strings.Repeat("é", 12)
	for _, c := range splitText(multibyte, 5) {
		assert.LessOrEqual(t, len([]rune(c)), 5)
	}
}

func TestToKeyboard(t *testing.T) {
	assert.Nil(t, toKeyboard(nil))
	kb := toKeyboard([][]bot.Button{{{Text: "A", Data: "model_a"}, {Text: "B", Data: "model_b"}}})
	require.NotNil(t, kb)
	assert.Equal(t, [][]InlineKeyboardButton{{{Text: "A", CallbackData: "model_a"}, {Text: "B", CallbackData: "model_b"}}}, kb.InlineKeyboard)
}
