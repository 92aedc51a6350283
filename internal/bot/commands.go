package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/astrogeminibot/llm"
)

const timeLayout = "2006-01-02 15:04"

// HandleCommand 处理斜杠命令；未知命令返回 nil
func (d *Dispatcher) HandleCommand(ctx context.Context, in Inbound, command string) ([]Reply, error) {
	switch command {
	case "start":
		return []Reply{markdown(d.startText(in.FirstName))}, nil
	case "help":
		return []Reply{markdown(d.helpText())}, nil
	case "model":
		return []Reply{d.modelMenu(ctx, in.UserID)}, nil
	case "stats":
		return []Reply{markdown(d.statsText(ctx, in.UserID))}, nil
	case "clear":
		d.store.Clear(in.UserID)
		d.logger.Info("conversation cleared", zap.Int64("user_id", in.UserID))
		return []Reply{plain("🗑️ **Conversation Cleared**\n\nYour conversation history has been cleared. We can start fresh!")}, nil
	default:
		return nil, nil
	}
}

// HandleCallback 处理 model_* 回调：保存偏好并编辑原消息
func (d *Dispatcher) HandleCallback(ctx context.Context, cb Callback) ([]Reply, error) {
	model, ok := strings.CutPrefix(cb.Data, "model_")
	if !ok {
		return nil, nil
	}
	if err := d.prefs.Set(ctx, cb.UserID, model); err != nil {
		return nil, err
	}
	d.logger.Info("model preference updated",
		zap.Int64("user_id", cb.UserID), zap.String("model", model))

	if model == llm.AutoModel {
		return []Reply{{
			Text:      "🤖 **Auto Model Selection Enabled**\n\nI'll automatically choose the best available model for each conversation.",
			ParseMode: ParseModeMarkdown,
			Edit:      true,
		}}, nil
	}

	provider, description, emoji := "Unknown", "AI Model", "🤖"
	if info, found := d.catalog.Lookup(model); found {
		provider = llm.DisplayName(info.Provider)
		description = info.Description
		emoji = info.Emoji
	}
	return []Reply{{
		Text: fmt.Sprintf(
			"%s **Model Selected: %s**\n\nProvider: %s\nDescription: %s\n\nAll future conversations will use this model until you change it.",
			emoji, model, provider, description),
		ParseMode: ParseModeMarkdown,
		Edit:      true,
	}}, nil
}

func (d *Dispatcher) startText(firstName string) string {
	return fmt.Sprintf(`🤖 **Welcome to AstroGeminiBot, %s!**

I'm an AI-powered bot that can chat with you using multiple AI providers:
%s

**Available Commands:**
• `+"`/help`"+` - Show detailed help
• `+"`/model`"+` - Choose AI model
• `+"`/stats`"+` - View your usage stats
• `+"`/clear`"+` - Clear conversation history

**Features:**
✨ Multiple AI models support
🛡️ Rate limiting protection
💬 Conversation context memory
📊 Usage statistics

Just send me any message to start chatting!`, firstName, strings.Join(d.catalog.ProviderNames(), ", "))
}

func (d *Dispatcher) helpText() string {
	var models strings.Builder
	for i, m := range d.catalog.Models() {
		if i > 0 {
			models.WriteByte('\n')
		}
		fmt.Fprintf(&models, "• `%s` %s - %s", m.ID, m.Emoji, m.Description)
	}
	limits := d.limiter.Config()

	return fmt.Sprintf(`🔍 **AstroGeminiBot Help**

**Available AI Models:**
%s

**Commands:**
• `+"`/start`"+` - Welcome message
• `+"`/help`"+` - This help message
• `+"`/model`"+` - Select AI model to use
• `+"`/stats`"+` - View usage statistics
• `+"`/clear`"+` - Clear conversation history

**Features:**
🔄 **Auto Model Selection**: I'll choose the best available model
💬 **Context Aware**: I remember our conversation
⚡ **Rate Limited**: %d messages per hour
🔒 **Privacy**: Conversations are stored temporarily

**Usage:**
Simply send me any message and I'll respond using AI. You can ask questions, have conversations, or request help with various topics.

**Rate Limits:**
• %d messages per %d minutes
• Admins have unlimited access

Need more help? Just ask me anything!`,
		models.String(), limits.MaxRequests, limits.MaxRequests, int(limits.Window/time.Minute))
}

func (d *Dispatcher) modelMenu(ctx context.Context, userID int64) Reply {
	models := d.catalog.Models()
	if len(models) == 0 {
		return plain("❌ No AI models are currently available.")
	}

	keyboard := make([][]Button, 0, len(models)+1)
	for _, m := range models {
		keyboard = append(keyboard, []Button{{
			Text: fmt.Sprintf("%s %s (%s)", m.Emoji, m.ID, llm.DisplayName(m.Provider)),
			Data: "model_" + m.ID,
		}})
	}
	keyboard = append(keyboard, []Button{{Text: "🤖 Auto Select (Recommended)", Data: "model_" + llm.AutoModel}})

	return Reply{
		Text: fmt.Sprintf("🔧 **Model Selection**\n\nCurrent: `%s`\n\nChoose an AI model to use for our conversations:",
			d.Preference(ctx, userID)),
		ParseMode: ParseModeMarkdown,
		Keyboard:  keyboard,
	}
}

func (d *Dispatcher) statsText(ctx context.Context, userID int64) string {
	us := d.limiter.StatsFor(userID)
	cs := d.store.StatsFor(userID)
	admin := d.IsAdmin(userID)

	successRate := 100.0
	if us.TotalRequests > 0 {
		successRate = float64(us.TotalRequests-us.BlockedRequests) / float64(us.TotalRequests) * 100
	}
	adminStatus := "❌ No"
	if admin {
		adminStatus = "✅ Yes"
	}

	var b strings.Builder
	fmt.Fprintf(&b, `📊 **Your Usage Statistics**

**Rate Limiting:**
• Remaining requests: %d/%d
• Total requests: %d
• Blocked requests: %d
• Success rate: %.1f%%

**Conversation:**
• Messages in history: %d
• Active since: %s
• Last activity: %s

**Account:**
• User ID: `+"`%d`"+`
• Admin status: %s
• First request: %s
• Last request: %s

**Current Settings:**
• Selected model: `+"`%s`"+`
• Max conversation history: %d messages`,
		us.RemainingRequests, d.limiter.Config().MaxRequests,
		us.TotalRequests, us.BlockedRequests, successRate,
		cs.MessageCount, cs.CreatedAt.Format(timeLayout), cs.LastActivityAt.Format(timeLayout),
		userID, adminStatus, formatOptional(us.FirstRequestAt), formatOptional(us.LastRequestAt),
		d.Preference(ctx, userID), d.store.Config().MaxHistory)

	if admin {
		gs := d.limiter.GlobalStats()
		cg := d.store.GlobalStats()
		fmt.Fprintf(&b, `

**Global Stats (Admin):**
• Total users: %d
• Active users: %d
• Global requests: %d
• Global success rate: %.1f%%
• Conversations in memory: %d
• Active conversations: %d`,
			gs.TotalUsers, gs.ActiveUsers, gs.TotalRequests, gs.SuccessRate*100,
			cg.TotalUsers, cg.ActiveUsers)
	}
	return b.String()
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return "Never"
	}
	return t.Format(timeLayout)
}
