package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/astrogeminibot/internal/bot"
	"github.com/BaSui01/astrogeminibot/internal/conversation"
	"github.com/BaSui01/astrogeminibot/internal/ratelimit"
	"github.com/BaSui01/astrogeminibot/internal/usage"
	"github.com/BaSui01/astrogeminibot/llm"
	"github.com/BaSui01/astrogeminibot/testutil/mocks"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const adminID = 7

// apiEnv 真实分发器 + mock Provider，路由与 cmd 中注册的一致
type apiEnv struct {
	provider   *mocks.MockProvider
	dispatcher *bot.Dispatcher
	usage      *fakeUsage
	mux        *http.ServeMux
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	limiter, err := ratelimit.New(ratelimit.Config{MaxRequests: 2, Window: time.Hour}, zap.NewNop())
	require.NoError(t, err)
	store, err := conversation.New(conversation.Config{MaxHistory: 4, Timeout: time.Hour}, zap.NewNop())
	require.NoError(t, err)

	provider := mocks.NewSuccessProvider(llm.ProviderOpenAI, "Hello from the API").WithTokenUsage(5, 7)
	cfg := bot.DefaultConfig()
	cfg.AdminIDs = []int64{adminID}
	d := bot.NewDispatcher(cfg, limiter, store, llm.NewCatalog(provider), nil, zap.NewNop())

	env := &apiEnv{
		provider:   provider,
		dispatcher: d,
		usage:      &fakeUsage{},
		mux:        http.NewServeMux(),
	}

	chat := NewChatHandler(d, zap.NewNop())
	users := NewUserHandler(d, zap.NewNop())
	admin := NewAdminHandler(d, env.usage, zap.NewNop())
	ws := NewWSHandler(d, nil, zap.NewNop())

	env.mux.HandleFunc("POST /api/v1/chat", chat.HandleChat)
	env.mux.HandleFunc("GET /api/v1/ws", ws.HandleWS)
	env.mux.HandleFunc("GET /api/v1/users/{id}/stats", users.HandleStats)
	env.mux.HandleFunc("DELETE /api/v1/users/{id}/conversation", users.HandleClearConversation)
	env.mux.HandleFunc("GET /api/v1/admin/stats", admin.HandleStats)
	env.mux.HandleFunc("POST /api/v1/admin/users/{id}/reset", admin.HandleResetUser)
	env.mux.HandleFunc("GET /api/v1/admin/users/{id}/usage", admin.HandleUsage)
	return env
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, r)
	return w
}

// decodeData 解出 Response.Data 到 dst
func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst any) Response {
	t.Helper()
	var raw struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	if dst != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, dst))
	}
	return raw.Response
}

type fakeUsage struct {
	summary *usage.Summary
	recent  []usage.Record
	err     error
	limit   int
}

func (f *fakeUsage) Summary(_ context.Context, userID int64) (*usage.Summary, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.summary != nil {
		return f.summary, nil
	}
	return &usage.Summary{UserID: userID}, nil
}

func (f *fakeUsage) Recent(_ context.Context, _ int64, limit int) ([]usage.Record, error) {
	f.limit = limit
	return f.recent, f.err
}
