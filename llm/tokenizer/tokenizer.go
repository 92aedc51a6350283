package tokenizer

import "strings"

// Tokenizer 是统一的 token 计数接口。
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数,
	// 包括每条消息的开销（角色标记、分隔符等）。
	CountMessages(messages []Message) (int, error)

	// Name 返回分词器的名称.
	Name() string
}

// Message 是一个轻量级消息结构, 由 tokenizer 包使用
// 以避免与 llm 包的循环依赖。
type Message struct {
	Role    string
	Content string
}

// ForModel 为 OpenAI 系列模型返回 tiktoken 分词器，其余模型返回估算器。
func ForModel(model string) Tokenizer {
	m := strings.ToLower(model)
	if strings.HasPrefix(m, "gpt-") || strings.HasPrefix(m, "text-embedding-") {
		return NewTiktokenTokenizer(m)
	}
	return NewEstimatorTokenizer(model)
}

// CountMessages 使用模型对应的分词器计数；tiktoken 不可用时（编码数据缺失等）
// 回退到估算器，因此总能给出一个数。
func CountMessages(model string, messages []Message) int {
	if n, err := ForModel(model).CountMessages(messages); err == nil {
		return n
	}
	n, _ := NewEstimatorTokenizer(model).CountMessages(messages)
	return n
}

// Estimate 返回文本的估算 token 数
func Estimate(text string) int {
	n, _ := NewEstimatorTokenizer("").CountTokens(text)
	return n
}
