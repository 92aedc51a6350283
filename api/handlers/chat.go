package handlers

import (
	"context"
	"net/http"

	"github.com/BaSui01/astrogeminibot/internal/bot"
	"go.uber.org/zap"
)

// =============================================================================
// 💬 聊天接口 Handler
// =============================================================================

// Bot 是 HTTP 与 WebSocket 入口共用的分发接口，*bot.Dispatcher 实现它
type Bot interface {
	HandleText(ctx context.Context, in bot.Inbound) ([]bot.Reply, error)
	HandleCommand(ctx context.Context, in bot.Inbound, command string) ([]bot.Reply, error)
}

// ChatRequest POST /api/v1/chat 请求体
type ChatRequest struct {
	UserID    int64  `json:"user_id"`
	ChatID    int64  `json:"chat_id,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	Username  string `json:"username,omitempty"`
	Text      string `json:"text"`
}

// ChatResponse 分发层产生的回复，顺序与 Telegram 发送顺序一致
type ChatResponse struct {
	Replies []bot.Reply `json:"replies"`
}

// ChatHandler 聊天接口处理器
type ChatHandler struct {
	bot    Bot
	logger *zap.Logger
}

// NewChatHandler 创建聊天处理器
func NewChatHandler(b Bot, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		bot:    b,
		logger: logger.With(zap.String("handler", "chat")),
	}
}

// HandleChat POST /api/v1/chat
//
// 与 Telegram 文本消息走同一条分发路径：斜杠命令交给 HandleCommand，
// 其余交给 HandleText（准入、历史、Provider 调用）。
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		WriteError(w, apiErr, h.logger)
		return
	}

	replies, err := dispatch(r.Context(), h.bot, req.toInbound())
	if err != nil {
		writeErr(w, err, h.logger)
		return
	}

	WriteSuccess(w, ChatResponse{Replies: replies})
}

func (req ChatRequest) toInbound() bot.Inbound {
	chatID := req.ChatID
	if chatID == 0 {
		chatID = req.UserID
	}
	return bot.Inbound{
		UserID:    req.UserID,
		ChatID:    chatID,
		FirstName: req.FirstName,
		Username:  req.Username,
		Text:      req.Text,
	}
}

// dispatch 按是否为命令路由；返回非 nil 切片
func dispatch(ctx context.Context, b Bot, in bot.Inbound) ([]bot.Reply, error) {
	var (
		replies []bot.Reply
		err     error
	)
	if cmd, ok := bot.ParseCommand(in.Text); ok && in.UserID != 0 {
		replies, err = b.HandleCommand(ctx, in, cmd)
	} else {
		replies, err = b.HandleText(ctx, in)
	}
	if err != nil {
		return nil, err
	}
	if replies == nil {
		replies = []bot.Reply{}
	}
	return replies, nil
}
