package bot

import "strings"

// ParseModeMarkdown is the legacy Telegram Markdown mode.
const ParseModeMarkdown = "Markdown"

// MaxMessageLength is the longest text a single chat message may carry.
const MaxMessageLength = 4096

// Inbound 一条用户文本消息
type Inbound struct {
	UserID    int64  `json:"user_id"`
	ChatID    int64  `json:"chat_id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
	Text      string `json:"text"`
}

// Callback 一次内联键盘回调
type Callback struct {
	ID        string `json:"id"`
	UserID    int64  `json:"user_id"`
	ChatID    int64  `json:"chat_id"`
	MessageID int    `json:"message_id"`
	Data      string `json:"data"`
}

// Button 内联键盘按钮
type Button struct {
	Text string `json:"text"`
	Data string `json:"callback_data"`
}

// Reply 一条待发送的回复。Edit 为 true 时替换触发回调的那条消息。
type Reply struct {
	Text      string     `json:"text"`
	ParseMode string     `json:"parse_mode,omitempty"`
	Keyboard  [][]Button `json:"keyboard,omitempty"`
	Edit      bool       `json:"edit,omitempty"`
}

func plain(text string) Reply { return Reply{Text: text} }

func markdown(text string) Reply { return Reply{Text: text, ParseMode: ParseModeMarkdown} }

// ParseCommand 从 "/model@AstroBot args" 中取出 "model"
func ParseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	cmd := strings.Fields(text[1:])
	if len(cmd) == 0 {
		return "", false
	}
	name, _, _ := strings.Cut(cmd[0], "@")
	if name == "" {
		return "", false
	}
	return strings.ToLower(name), true
}
