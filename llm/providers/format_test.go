package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/BaSui01/astrogeminibot/llm"
	"github.com/stretchr/testify/assert"
)

func TestFormatError_TextMatching(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"api key", errors.New("Incorrect API key provided"), "❌ OpenAI API key is invalid or missing"},
		{"unauthorized", errors.New("401 UNAUTHORIZED"), "❌ OpenAI API key is invalid or missing"},
		{"quota", errors.New("You exceeded your current Quota"), "❌ OpenAI quota exceeded or billing issue"},
		{"billing", errors.New("billing not active"), "❌ OpenAI quota exceeded or billing issue"},
		{"rate limit", errors.New("Rate limit reached"), "❌ OpenAI rate limit exceeded. Please try again later"},
		{"timeout", errors.New("read Timeout"), "❌ OpenAI request timed out. Please try again"},
		{"network", errors.New("network unreachable"), "❌ Network error connecting to OpenAI"},
		{"connection", errors.New("Connection reset by peer"), "❌ Network error connecting to OpenAI"},
		{"other", errors.New("something odd"), "❌ OpenAI error: something odd..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatError("OpenAI", tt.err))
		})
	}
}

func TestFormatError_Precedence(t *testing.T) {
	// api key 优先于 quota
	assert.Equal(t, "❌ Gemini API key is invalid or missing",
		FormatError("Gemini", errors.New("api key quota problem")))
}

func TestFormatError_Truncates(t *testing.T) {
	long := strings.Repeat("x", 150)
	got := FormatError("Together", errors.New(long))
	assert.Equal(t, "❌ Together error: "+strings.Repeat("x", 100)+"...", got)
}

func TestFormatError_ErrorCodes(t *testing.T) {
	tests := []struct {
		code llm.ErrorCode
		want string
	}{
		{llm.ErrUnauthorized, "❌ Gemini API key is invalid or missing"},
		{llm.ErrForbidden, "❌ Gemini API key is invalid or missing"},
		{llm.ErrQuotaExceeded, "❌ Gemini quota exceeded or billing issue"},
		{llm.ErrRateLimited, "❌ Gemini rate limit exceeded. Please try again later"},
		{llm.ErrUpstreamTimeout, "❌ Gemini request timed out. Please try again"},
		{llm.ErrProviderUnavailable, "❌ Gemini is temporarily unavailable. Please try again later"},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", &llm.Error{Code: tt.code, Message: "opaque"})
			assert.Equal(t, tt.want, FormatError("Gemini", err))
		})
	}
}

func TestFormatError_DeadlineExceeded(t *testing.T) {
	err := fmt.Errorf("retry cancelled: %w", context.DeadlineExceeded)
	assert.Equal(t, "❌ OpenAI request timed out. Please try again", FormatError("OpenAI", err))
	assert.Empty(t, FormatError("OpenAI", nil))
}
