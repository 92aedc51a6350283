package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/BaSui01/astrogeminibot/llm"
)

// statusClass 一个 HTTP 状态码对应的错误码与是否可重试
type statusClass struct {
	code      llm.ErrorCode
	retryable bool
}

var statusClasses = map[int]statusClass{
	http.StatusBadRequest:         {llm.ErrInvalidRequest, false},
	http.StatusUnauthorized:       {llm.ErrUnauthorized, false},
	http.StatusForbidden:          {llm.ErrForbidden, false},
	http.StatusRequestTimeout:     {llm.ErrUpstreamTimeout, true},
	http.StatusTooManyRequests:    {llm.ErrRateLimited, true},
	http.StatusBadGateway:         {llm.ErrUpstreamError, true},
	http.StatusServiceUnavailable: {llm.ErrUpstreamError, true},
	http.StatusGatewayTimeout:     {llm.ErrUpstreamTimeout, true},
	529:                           {llm.ErrModelOverloaded, true},
}

// MapHTTPError 把上游 HTTP 失败归类为 llm.Error。
// 400 与 429 的消息提到额度或账单时归为 ErrQuotaExceeded，且不重试。
func MapHTTPError(status int, msg string, provider string) *llm.Error {
	class, ok := statusClasses[status]
	if !ok {
		class = statusClass{llm.ErrUpstreamError, status >= 500}
	}
	if (status == http.StatusBadRequest || status == http.StatusTooManyRequests) && mentionsQuota(msg) {
		class = statusClass{llm.ErrQuotaExceeded, false}
	}
	return &llm.Error{
		Code:       class.code,
		Message:    msg,
		HTTPStatus: status,
		Retryable:  class.retryable,
		Provider:   provider,
	}
}

func mentionsQuota(msg string) bool {
	m := strings.ToLower(msg)
	for _, w := range []string{"quota", "credit", "billing"} {
		if strings.Contains(m, w) {
			return true
		}
	}
	return false
}

// MapTransportError 处理 http.Client.Do 的失败。调用方取消时原样返回。
func MapTransportError(err error, provider string) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &llm.Error{
			Code:       llm.ErrUpstreamTimeout,
			Message:    fmt.Sprintf("%s request timeout: %v", provider, err),
			HTTPStatus: http.StatusGatewayTimeout,
			Retryable:  true,
			Provider:   provider,
		}
	}
	return &llm.Error{
		Code:       llm.ErrUpstreamError,
		Message:    fmt.Sprintf("connection error: %v", err),
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
		Provider:   provider,
	}
}

// DecodeError 响应体不是预期的 JSON
func DecodeError(err error, provider string) *llm.Error {
	return &llm.Error{
		Code:       llm.ErrUpstreamError,
		Message:    fmt.Sprintf("invalid response from %s: %v", provider, err),
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
		Provider:   provider,
	}
}

// upstreamError 覆盖 OpenAI（type）与 Gemini（status）两种错误体
type upstreamError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Status  string `json:"status"`
	} `json:"error"`
}

// ReadErrorMessage 从错误响应体中取出可读消息，最多读 64 KiB；
// 不是已知 JSON 结构时返回去掉首尾空白的原文。
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}

	var ue upstreamError
	if json.Unmarshal(data, &ue) != nil || ue.Error.Message == "" {
		return strings.TrimSpace(string(data))
	}
	switch e := ue.Error; {
	case e.Type != "":
		return fmt.Sprintf("%s (type: %s)", e.Message, e.Type)
	case e.Status != "":
		return fmt.Sprintf("%s (status: %s)", e.Message, e.Status)
	default:
		return e.Message
	}
}

// SafeCloseBody 丢弃少量剩余数据以便连接复用，然后关闭
func SafeCloseBody(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4<<10))
	_ = body.Close()
}
