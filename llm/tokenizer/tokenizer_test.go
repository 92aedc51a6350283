package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimator_CountTokens(t *testing.T) {
	e := NewEstimatorTokenizer("gemini-2.5-flash")

	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"short ascii rounds up to one", "hi", 1},
		{"ascii", "abcdefghijklmnop", 4},
		{"cjk", "你好世界你好", 4},
		{"mixed", "hello你好", 2},
		{"kana", "こんにちは", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.CountTokens(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEstimator_CountMessages(t *testing.T) {
	e := NewEstimatorTokenizer("")
	n, err := e.CountMessages([]Message{
		{Role: "system", Content: "abcdefgh"},
		{Role: "user", Content: "abcd"},
	})
	require.NoError(t, err)
	// (2+4) + (1+4) + 3
	assert.Equal(t, 14, n)
}

func TestForModel(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4o-mini", "tiktoken[o200k_base]"},
		{"gpt-4", "tiktoken[cl100k_base]"},
		{"gemini-2.5-flash", "estimator"},
		{"meta-llama/Meta-Llama-3.1-8B-Instruct-Turbo", "estimator"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, ForModel(tt.model).Name())
		})
	}
}

func TestEstimate(t *testing.T) {
	assert.Equal(t, 0, Estimate(""))
	assert.Equal(t, 3, Estimate("twelve chars"))
}

func TestCountMessages_NonOpenAI(t *testing.T) {
	n := CountMessages("gemini-2.5-pro", []Message{{Role: "user", Content: "abcd"}})
	assert.Equal(t, 8, n)
}
