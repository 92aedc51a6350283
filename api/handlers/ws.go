package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/BaSui01/astrogeminibot/internal/bot"
	"github.com/BaSui01/astrogeminibot/types"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// =============================================================================
// 🔌 WebSocket 聊天 Handler
// =============================================================================

// WSFrame 服务端写回的 JSON 帧：一条回复或一个错误
type WSFrame struct {
	Reply *bot.Reply `json:"reply,omitempty"`
	Error *ErrorInfo `json:"error,omitempty"`
}

// WSHandler GET /api/v1/ws?user_id=N&first_name=X
//
// 每个文本帧是一条入站消息，按收到顺序串行处理，
// 每条回复写回一个 JSON 帧。
type WSHandler struct {
	bot            Bot
	originPatterns []string
	writeTimeout   time.Duration
	logger         *zap.Logger
}

// NewWSHandler 创建 WebSocket 处理器；originPatterns 为空时只接受同源
func NewWSHandler(b Bot, originPatterns []string, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		bot:            b,
		originPatterns: originPatterns,
		writeTimeout:   10 * time.Second,
		logger:         logger.With(zap.String("handler", "ws")),
	}
}

// HandleWS 升级连接并进入读循环
func (h *WSHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		WriteError(w, types.NewInvalidRequestError("user_id query parameter must be a positive integer"), h.logger)
		return
	}
	firstName := r.URL.Query().Get("first_name")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(4 * bot.MaxMessageLength)

	logger := h.logger.With(zap.Int64("user_id", userID))
	logger.Debug("websocket connected")

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		if typ != websocket.MessageText {
			_ = conn.Close(websocket.StatusUnsupportedData, "text frames only")
			return
		}

		in := bot.Inbound{UserID: userID, ChatID: userID, FirstName: firstName, Text: string(data)}
		if err := h.respond(ctx, conn, in); err != nil {
			logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

func (h *WSHandler) respond(ctx context.Context, conn *websocket.Conn, in bot.Inbound) error {
	replies, err := dispatch(ctx, h.bot, in)
	if err != nil {
		info := &ErrorInfo{Code: string(types.ErrInternalError), Message: "internal error"}
		if typed, ok := types.AsError(err); ok {
			info = &ErrorInfo{Code: string(typed.Code), Message: typed.Message, Retryable: typed.Retryable}
		} else {
			h.logger.Error("dispatch failed", zap.Error(err))
		}
		return h.write(ctx, conn, WSFrame{Error: info})
	}
	for i := range replies {
		if err := h.write(ctx, conn, WSFrame{Reply: &replies[i]}); err != nil {
			return err
		}
	}
	return nil
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, frame WSFrame) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, frame)
}
