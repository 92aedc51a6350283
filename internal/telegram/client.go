package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/astrogeminibot/internal/tlsutil"
	"github.com/BaSui01/astrogeminibot/llm/providers"
)

// DefaultBaseURL Bot API 地址
const DefaultBaseURL = "https://api.telegram.org"

// ChatActionTyping “正在输入”状态
const ChatActionTyping = "typing"

// =============================================================================
// 🎯 配置
// =============================================================================

// Config Bot API 客户端配置
type Config struct {
	Token             string        `yaml:"token" json:"-"`
	BaseURL           string        `yaml:"base_url" json:"base_url"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	MessagesPerSecond int           `yaml:"messages_per_second" json:"messages_per_second"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		Timeout:           60 * time.Second,
		MessagesPerSecond: 30,
	}
}

// ClientOption 配置 Client
type ClientOption func(*Client)

// WithHTTPClient 替换 HTTP 客户端
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// =============================================================================
// 📡 Client
// =============================================================================

// Client 是 Telegram Bot API 的最小客户端。发送类调用按 MessagesPerSecond 限速。
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	pacer   *rate.Limiter
	logger  *zap.Logger
}

// NewClient 创建客户端，Token 必填
func NewClient(cfg Config, logger *zap.Logger, opts ...ClientOption) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	defaults := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = defaults.MessagesPerSecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    tlsutil.SecureHTTPClient(cfg.Timeout),
		pacer:   rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.MessagesPerSecond),
		logger:  logger.With(zap.String("component", "telegram")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(method string) string {
	return c.baseURL + "/bot" + c.token + "/" + method
}

// call 发送 JSON 请求并解包 {"ok":..,"result":..}
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("telegram %s: encode params: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(method), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, stripURL(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, stripURL(err))
	}
	defer providers.SafeCloseBody(resp.Body)

	var env apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("telegram %s: decode response (status %d): %w", method, resp.StatusCode, err)
	}
	if !env.OK {
		apiErr := &APIError{Method: method, Code: env.ErrorCode, Description: env.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode
		}
		if env.Parameters != nil {
			apiErr.RetryAfter = env.Parameters.RetryAfter
		}
		return apiErr
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

// paced 先等待发送配额再调用
func (c *Client) paced(ctx context.Context, method string, params any, out any) error {
	if err := c.pacer.Wait(ctx); err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	return c.call(ctx, method, params, out)
}

// stripURL 去掉 *url.Error 中带 token 的 URL
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

// =============================================================================
// 📬 Bot API 方法
// =============================================================================

// GetMe 返回机器人自身信息，可用于校验 token
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var me User
	if err := c.call(ctx, "getMe", struct{}{}, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// DeleteWebhook 切换到长轮询；dropPending 为 true 时丢弃积压的更新
func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	return c.call(ctx, "deleteWebhook", map[string]any{"drop_pending_updates": dropPending}, nil)
}

// GetUpdates 长轮询，timeout 为秒
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int, allowed []string) ([]Update, error) {
	params := map[string]any{"timeout": timeout}
	if offset != 0 {
		params["offset"] = offset
	}
	if len(allowed) > 0 {
		params["allowed_updates"] = allowed
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

type sendMessageParams struct {
	ChatID      int64                 `json:"chat_id"`
	MessageID   int                   `json:"message_id,omitempty"`
	Text        string                `json:"text"`
	ParseMode   string                `json:"parse_mode,omitempty"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// SendMessage 发送消息。带 parseMode 发送被拒（400）时去掉 parseMode 重试一次。
func (c *Client) SendMessage(ctx context.Context, chatID int64, text, parseMode string, keyboard *InlineKeyboardMarkup) (*Message, error) {
	params := sendMessageParams{ChatID: chatID, Text: text, ParseMode: parseMode, ReplyMarkup: keyboard}
	var msg Message
	if err := c.withPlainFallback(ctx, "sendMessage", &params, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EditMessageText 编辑已发送的消息，降级规则同 SendMessage
func (c *Client) EditMessageText(ctx context.Context, chatID int64, messageID int, text, parseMode string, keyboard *InlineKeyboardMarkup) error {
	params := sendMessageParams{ChatID: chatID, MessageID: messageID, Text: text, ParseMode: parseMode, ReplyMarkup: keyboard}
	return c.withPlainFallback(ctx, "editMessageText", &params, nil)
}

func (c *Client) withPlainFallback(ctx context.Context, method string, params *sendMessageParams, out any) error {
	err := c.paced(ctx, method, params, out)
	if err == nil || params.ParseMode == "" || !isBadRequest(err) {
		return err
	}
	c.logger.Debug("formatted send rejected, retrying as plain text",
		zap.String("method", method), zap.Int64("chat_id", params.ChatID), zap.Error(err))
	params.ParseMode = ""
	return c.paced(ctx, method, params, out)
}

// SendChatAction 设置聊天状态，例如 typing
func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	return c.paced(ctx, "sendChatAction", map[string]any{"chat_id": chatID, "action": action}, nil)
}

// AnswerCallbackQuery 确认回调，text 可为空
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	params := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		params["text"] = text
	}
	return c.paced(ctx, "answerCallbackQuery", params, nil)
}

// Typing 满足 bot.TypingFunc，失败只记日志
func (c *Client) Typing(ctx context.Context, chatID int64) {
	if chatID == 0 {
		return
	}
	if err := c.SendChatAction(ctx, chatID, ChatActionTyping); err != nil {
		c.logger.Debug("send chat action failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func isBadRequest(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusBadRequest
}
