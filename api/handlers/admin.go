package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/BaSui01/astrogeminibot/internal/bot"
	"github.com/BaSui01/astrogeminibot/internal/conversation"
	"github.com/BaSui01/astrogeminibot/internal/ratelimit"
	"github.com/BaSui01/astrogeminibot/internal/usage"
	"github.com/BaSui01/astrogeminibot/llm"
	"github.com/BaSui01/astrogeminibot/types"
	"go.uber.org/zap"
)

const (
	defaultUsageLimit = 20
	maxUsageLimit     = 100
)

// =============================================================================
// 🛠️ 管理接口 Handler
// =============================================================================

// UsageReader 读取用量账本，*usage.Ledger 实现它
type UsageReader interface {
	Summary(ctx context.Context, userID int64) (*usage.Summary, error)
	Recent(ctx context.Context, userID int64, limit int) ([]usage.Record, error)
}

// GlobalStatsResponse GET /api/v1/admin/stats
type GlobalStatsResponse struct {
	RateLimit    ratelimit.GlobalStats    `json:"rate_limit"`
	Conversation conversation.GlobalStats `json:"conversation"`
	Providers    []string                 `json:"providers"`
	Models       []llm.ModelInfo          `json:"models"`
}

// UsageResponse GET /api/v1/admin/users/{id}/usage
type UsageResponse struct {
	Summary *usage.Summary `json:"summary"`
	Recent  []usage.Record `json:"recent"`
}

// AdminHandler 全局统计、准入重置与用量查询
type AdminHandler struct {
	dispatcher *bot.Dispatcher
	usage      UsageReader
	logger     *zap.Logger
}

// NewAdminHandler 创建管理处理器；usage 为 nil 表示账本未启用
func NewAdminHandler(d *bot.Dispatcher, usage UsageReader, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		dispatcher: d,
		usage:      usage,
		logger:     logger.With(zap.String("handler", "admin")),
	}
}

// HandleStats GET /api/v1/admin/stats
func (h *AdminHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	catalog := h.dispatcher.Catalog()
	models := catalog.Models()
	if models == nil {
		models = []llm.ModelInfo{}
	}
	providers := catalog.Providers()
	if providers == nil {
		providers = []string{}
	}

	WriteSuccess(w, GlobalStatsResponse{
		RateLimit:    h.dispatcher.Limiter().GlobalStats(),
		Conversation: h.dispatcher.Store().GlobalStats(),
		Providers:    providers,
		Models:       models,
	})
}

// HandleResetUser POST /api/v1/admin/users/{id}/reset
func (h *AdminHandler) HandleResetUser(w http.ResponseWriter, r *http.Request) {
	userID, apiErr := userIDFromPath(r)
	if apiErr != nil {
		WriteError(w, apiErr, h.logger)
		return
	}

	h.dispatcher.Limiter().Reset(userID)
	h.logger.Info("rate limit reset via API", zap.Int64("user_id", userID))

	WriteSuccess(w, map[string]any{
		"user_id":    userID,
		"reset":      true,
		"rate_limit": h.dispatcher.Limiter().StatsFor(userID),
	})
}

// HandleUsage GET /api/v1/admin/users/{id}/usage?limit=N
func (h *AdminHandler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	userID, apiErr := userIDFromPath(r)
	if apiErr != nil {
		WriteError(w, apiErr, h.logger)
		return
	}
	if h.usage == nil {
		WriteError(w, types.NewError(types.ErrServiceUnavailable, "usage ledger is disabled"), h.logger)
		return
	}

	limit := defaultUsageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteError(w, types.NewInvalidRequestError("limit must be a positive integer"), h.logger)
			return
		}
		limit = min(n, maxUsageLimit)
	}

	summary, err := h.usage.Summary(r.Context(), userID)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "failed to read usage").WithCause(err), h.logger)
		return
	}
	recent, err := h.usage.Recent(r.Context(), userID, limit)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "failed to read usage").WithCause(err), h.logger)
		return
	}
	if recent == nil {
		recent = []usage.Record{}
	}

	WriteSuccess(w, UsageResponse{Summary: summary, Recent: recent})
}
