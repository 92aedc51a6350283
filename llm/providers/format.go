package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BaSui01/astrogeminibot/llm"
)

const maxErrorExcerpt = 100

// FormatError 将 Provider 错误转换为面向用户的提示文本。
// 先按 llm.Error 错误码匹配，再回退到对错误文本的大小写无关匹配。
func FormatError(providerName string, err error) string {
	if err == nil {
		return ""
	}

	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		switch llmErr.Code {
		case llm.ErrUnauthorized, llm.ErrForbidden:
			return fmt.Sprintf("❌ %s API key is invalid or missing", providerName)
		case llm.ErrQuotaExceeded:
			return fmt.Sprintf("❌ %s quota exceeded or billing issue", providerName)
		case llm.ErrRateLimited:
			return fmt.Sprintf("❌ %s rate limit exceeded. Please try again later", providerName)
		case llm.ErrUpstreamTimeout:
			return fmt.Sprintf("❌ %s request timed out. Please try again", providerName)
		case llm.ErrProviderUnavailable:
			return fmt.Sprintf("❌ %s is temporarily unavailable. Please try again later", providerName)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("❌ %s request timed out. Please try again", providerName)
	}

	text := err.Error()
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "api key"), strings.Contains(lower, "unauthorized"):
		return fmt.Sprintf("❌ %s API key is invalid or missing", providerName)
	case strings.Contains(lower, "quota"), strings.Contains(lower, "billing"):
		return fmt.Sprintf("❌ %s quota exceeded or billing issue", providerName)
	case strings.Contains(lower, "rate limit"):
		return fmt.Sprintf("❌ %s rate limit exceeded. Please try again later", providerName)
	case strings.Contains(lower, "timeout"):
		return fmt.Sprintf("❌ %s request timed out. Please try again", providerName)
	case strings.Contains(lower, "network"), strings.Contains(lower, "connection"):
		return fmt.Sprintf("❌ Network error connecting to %s", providerName)
	}

	runes := []rune(text)
	if len(runes) > maxErrorExcerpt {
		runes = runes[:maxErrorExcerpt]
	}
	return fmt.Sprintf("❌ %s error: %s...", providerName, string(runes))
}
