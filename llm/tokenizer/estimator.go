package tokenizer

import "unicode"

const (
	// 约 4 个拉丁字符合 1 token，CJK 约 1.5 个字符合 1 token
	latinPerToken = 4.0
	widePerToken  = 1.5

	perMessageOverhead = 4
	replyPrimer        = 3
)

// EstimatorTokenizer 按字符类别估算 token，用于没有公开分词表的模型
type EstimatorTokenizer struct {
	model string
}

func NewEstimatorTokenizer(model string) *EstimatorTokenizer {
	return &EstimatorTokenizer{model: model}
}

// CountTokens 非空文本至少计 1
func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	var wide, latin int
	for _, r := range text {
		if isWide(r) {
			wide++
		} else {
			latin++
		}
	}
	n := int(float64(wide)/widePerToken + float64(latin)/latinPerToken)
	return max(n, 1), nil
}

func (e *EstimatorTokenizer) CountMessages(messages []Message) (int, error) {
	total := replyPrimer
	for _, m := range messages {
		n, err := e.CountTokens(m.Content)
		if err != nil {
			return 0, err
		}
		total += n + perMessageOverhead
	}
	return total, nil
}

func (e *EstimatorTokenizer) Name() string { return "estimator" }

// isWide 汉字、假名、谚文以及全角标点
func isWide(r rune) bool {
	switch {
	case r >= 0x3000 && r <= 0x303F, r >= 0xFF00 && r <= 0xFFEF:
		return true
	}
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}
