package handlers

import (
	"net/http"

	"github.com/BaSui01/astrogeminibot/internal/bot"
	"github.com/BaSui01/astrogeminibot/internal/conversation"
	"github.com/BaSui01/astrogeminibot/internal/ratelimit"
	"go.uber.org/zap"
)

// =============================================================================
// 👤 用户接口 Handler
// =============================================================================

// UserStatsResponse GET /api/v1/users/{id}/stats
type UserStatsResponse struct {
	UserID       int64                  `json:"user_id"`
	Model        string                 `json:"model"`
	IsAdmin      bool                   `json:"is_admin"`
	RateLimit    ratelimit.UserStats    `json:"rate_limit"`
	Conversation conversation.UserStats `json:"conversation"`
}

// UserHandler 单用户统计与对话管理
type UserHandler struct {
	dispatcher *bot.Dispatcher
	logger     *zap.Logger
}

// NewUserHandler 创建用户处理器
func NewUserHandler(d *bot.Dispatcher, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		dispatcher: d,
		logger:     logger.With(zap.String("handler", "users")),
	}
}

// HandleStats GET /api/v1/users/{id}/stats
func (h *UserHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	userID, apiErr := userIDFromPath(r)
	if apiErr != nil {
		WriteError(w, apiErr, h.logger)
		return
	}

	WriteSuccess(w, UserStatsResponse{
		UserID:       userID,
		Model:        h.dispatcher.Preference(r.Context(), userID),
		IsAdmin:      h.dispatcher.IsAdmin(userID),
		RateLimit:    h.dispatcher.Limiter().StatsFor(userID),
		Conversation: h.dispatcher.Store().StatsFor(userID),
	})
}

// HandleClearConversation DELETE /api/v1/users/{id}/conversation
func (h *UserHandler) HandleClearConversation(w http.ResponseWriter, r *http.Request) {
	userID, apiErr := userIDFromPath(r)
	if apiErr != nil {
		WriteError(w, apiErr, h.logger)
		return
	}

	h.dispatcher.Store().Clear(userID)
	h.logger.Info("conversation cleared via API", zap.Int64("user_id", userID))

	WriteSuccess(w, map[string]any{"user_id": userID, "cleared": true})
}
