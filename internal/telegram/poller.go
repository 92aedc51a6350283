package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/astrogeminibot/internal/bot"
)

// allowedUpdates 只订阅消息与回调
var allowedUpdates = []string{"message", "callback_query"}

// Handler 处理解析后的更新。*bot.Dispatcher 实现了它。
type Handler interface {
	HandleText(ctx context.Context, in bot.Inbound) ([]bot.Reply, error)
	HandleCommand(ctx context.Context, in bot.Inbound, command string) ([]bot.Reply, error)
	HandleCallback(ctx context.Context, cb bot.Callback) ([]bot.Reply, error)
}

// Recorder 观察每个更新的处理结果。internal/metrics.Collector 实现了它。
type Recorder interface {
	RecordTelegramUpdate(kind string, ok bool)
}

// PollerConfig 长轮询配置
type PollerConfig struct {
	PollTimeout   time.Duration `yaml:"poll_timeout" json:"poll_timeout"`
	Concurrency   int           `yaml:"concurrency" json:"concurrency"`
	HandleTimeout time.Duration `yaml:"handle_timeout" json:"handle_timeout"`
	RetryDelay    time.Duration `yaml:"retry_delay" json:"retry_delay"`
}

// DefaultPollerConfig 返回默认配置
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		PollTimeout:   30 * time.Second,
		Concurrency:   16,
		HandleTimeout: 2 * time.Minute,
		RetryDelay:    time.Second,
	}
}

// PollerOption 配置 Poller
type PollerOption func(*Poller)

// WithUpdateRecorder 挂载更新指标
func WithUpdateRecorder(r Recorder) PollerOption {
	return func(p *Poller) { p.recorder = r }
}

// Poller 拉取更新并以有限并发分发给 Handler
type Poller struct {
	client   *Client
	handler  Handler
	cfg      PollerConfig
	logger   *zap.Logger
	recorder Recorder
}

// NewPoller 创建轮询器，零值配置项取默认值
func NewPoller(client *Client, handler Handler, cfg PollerConfig, logger *zap.Logger, opts ...PollerOption) *Poller {
	defaults := DefaultPollerConfig()
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaults.PollTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = defaults.HandleTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaults.RetryDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Poller{
		client:  client,
		handler: handler,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "telegram_poller")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run 阻塞直到 ctx 取消，返回前等待进行中的更新处理完。
// 启动时校验 token 并丢弃积压的更新。
func (p *Poller) Run(ctx context.Context) error {
	me, err := p.client.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("verify bot token: %w", err)
	}
	if err := p.client.DeleteWebhook(ctx, true); err != nil {
		return fmt.Errorf("drop pending updates: %w", err)
	}
	p.logger.Info("telegram poller started",
		zap.String("bot", me.Username),
		zap.Int("concurrency", p.cfg.Concurrency))

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)

	var offset int64
	pollSecs := int(p.cfg.PollTimeout / time.Second)
	for ctx.Err() == nil {
		updates, err := p.client.GetUpdates(ctx, offset, pollSecs, allowedUpdates)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			p.logger.Warn("get updates failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(p.cfg.RetryDelay):
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			g.Go(func() error {
				p.dispatch(ctx, u)
				return nil
			})
		}
	}

	_ = g.Wait()
	p.logger.Info("telegram poller stopped")
	return nil
}

// dispatch 处理单个更新；panic 被恢复并计为失败
func (p *Poller) dispatch(parent context.Context, u Update) {
	kind := u.Kind()
	ok := false
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while handling update",
				zap.Int64("update_id", u.UpdateID),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
		if p.recorder != nil {
			p.recorder.RecordTelegramUpdate(kind, ok)
		}
	}()

	// 关停时让进行中的更新完成回复
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), p.cfg.HandleTimeout)
	defer cancel()

	err := p.handle(ctx, u)
	if err != nil {
		p.logger.Error("update handling failed",
			zap.Int64("update_id", u.UpdateID),
			zap.String("kind", kind),
			zap.Error(err))
		return
	}
	ok = true
}

func (p *Poller) handle(ctx context.Context, u Update) error {
	switch {
	case u.CallbackQuery != nil:
		return p.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		return p.handleMessage(ctx, u.Message)
	default:
		return nil
	}
}

func (p *Poller) handleMessage(ctx context.Context, msg *Message) error {
	text := strings.TrimSpace(msg.Text)
	if msg.From == nil || text == "" {
		return nil
	}
	in := bot.Inbound{
		UserID:    msg.From.ID,
		ChatID:    msg.Chat.ID,
		FirstName: msg.From.FirstName,
		Username:  msg.From.Username,
		Text:      text,
	}

	var (
		replies []bot.Reply
		err     error
	)
	if command, isCommand := bot.ParseCommand(text); isCommand {
		replies, err = p.handler.HandleCommand(ctx, in, command)
	} else {
		replies, err = p.handler.HandleText(ctx, in)
	}
	if err != nil {
		p.sendFailure(ctx, msg.Chat.ID, err)
		return err
	}
	return p.deliver(ctx, msg.Chat.ID, 0, replies)
}

func (p *Poller) handleCallback(ctx context.Context, q *CallbackQuery) error {
	if err := p.client.AnswerCallbackQuery(ctx, q.ID, ""); err != nil {
		p.logger.Debug("answer callback failed", zap.String("callback_id", q.ID), zap.Error(err))
	}
	cb := bot.Callback{ID: q.ID, UserID: q.From.ID, Data: q.Data}
	if q.Message != nil {
		cb.ChatID = q.Message.Chat.ID
		cb.MessageID = q.Message.MessageID
	}

	replies, err := p.handler.HandleCallback(ctx, cb)
	if err != nil {
		p.sendFailure(ctx, cb.ChatID, err)
		return err
	}
	if cb.ChatID == 0 {
		return nil
	}
	return p.deliver(ctx, cb.ChatID, cb.MessageID, replies)
}

// deliver 逐条发送回复；Edit 回复在有原消息时改为编辑
func (p *Poller) deliver(ctx context.Context, chatID int64, messageID int, replies []bot.Reply) error {
	var errs []error
	for _, r := range replies {
		keyboard := toKeyboard(r.Keyboard)
		if r.Edit && messageID != 0 {
			if err := p.client.EditMessageText(ctx, chatID, messageID, r.Text, r.ParseMode, keyboard); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		chunks := splitText(r.Text, bot.MaxMessageLength)
		for i, chunk := range chunks {
			var kb *InlineKeyboardMarkup
			if i == len(chunks)-1 {
				kb = keyboard
			}
			if _, err := p.client.SendMessage(ctx, chatID, chunk, r.ParseMode, kb); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (p *Poller) sendFailure(ctx context.Context, chatID int64, cause error) {
	if chatID == 0 {
		return
	}
	if _, err := p.client.SendMessage(ctx, chatID, failureText(cause), "", nil); err != nil {
		p.logger.Warn("failed to report error to chat", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func failureText(err error) string {
	msg := err.Error()
	if utf8.RuneCountInString(msg) > 100 {
		msg = string([]rune(msg)[:100])
	}
	return fmt.Sprintf("❌ Sorry, I encountered an error: %s...", msg)
}

func toKeyboard(rows [][]bot.Button) *InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	kb := &InlineKeyboardMarkup{InlineKeyboard: make([][]InlineKeyboardButton, 0, len(rows))}
	for _, row := range rows {
		out := make([]InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			out = append(out, InlineKeyboardButton{Text: b.Text, CallbackData: b.Data})
		}
		kb.InlineKeyboard = append(kb.InlineKeyboard, out)
	}
	return kb
}

// splitText 按 rune 切分超长文本，优先在换行处断开
func splitText(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var chunks []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
