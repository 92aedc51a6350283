package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/BaSui01/astrogeminibot/types"
	"go.uber.org/zap"
)

// RequestIDHeader 由 RequestID 中间件写入响应头，响应体中回显
const RequestIDHeader = "X-Request-ID"

// =============================================================================
// 📦 响应信封
// =============================================================================

// Response 所有 JSON 接口共用的信封
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 信封中的错误部分
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func envelope(w http.ResponseWriter) Response {
	return Response{Timestamp: time.Now(), RequestID: w.Header().Get(RequestIDHeader)}
}

// WriteJSON 写出任意 JSON 值
func WriteJSON(w http.ResponseWriter, status int, data any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	// 头已写出，编码失败无法再改状态码
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 200 + {success:true,data}
func WriteSuccess(w http.ResponseWriter, data any) {
	resp := envelope(w)
	resp.Success = true
	resp.Data = data
	WriteJSON(w, http.StatusOK, resp)
}

// WriteError 按错误码选择状态码；err.HTTPStatus 非 0 时优先。5xx 记 Error 日志，其余记 Debug。
func WriteError(w http.ResponseWriter, err *types.Error, logger *zap.Logger) {
	status := httpStatus(err)
	if logger != nil {
		level := zap.DebugLevel
		if status >= http.StatusInternalServerError {
			level = zap.ErrorLevel
		}
		logger.Log(level, "api error",
			zap.String("code", string(err.Code)),
			zap.String("message", err.Message),
			zap.Int("status", status),
			zap.NamedError("cause", err.Cause))
	}

	resp := envelope(w)
	resp.Error = &ErrorInfo{Code: string(err.Code), Message: err.Message, Retryable: err.Retryable}
	WriteJSON(w, status, resp)
}

// writeErr 非 *types.Error 一律按内部错误处理，原因只进日志
func writeErr(w http.ResponseWriter, err error, logger *zap.Logger) {
	typed, ok := types.AsError(err)
	if !ok {
		typed = types.NewError(types.ErrInternalError, "internal error").WithCause(err)
	}
	WriteError(w, typed, logger)
}

// statusByCode 错误码到 HTTP 状态码；未列出的为 500
var statusByCode = map[types.ErrorCode]int{
	types.ErrInvalidRequest:      http.StatusBadRequest,
	types.ErrUnauthorized:        http.StatusUnauthorized,
	types.ErrForbidden:           http.StatusForbidden,
	types.ErrNotFound:            http.StatusNotFound,
	types.ErrModelNotFound:       http.StatusNotFound,
	types.ErrRateLimited:         http.StatusTooManyRequests,
	types.ErrQuotaExceeded:       http.StatusPaymentRequired,
	types.ErrUpstreamTimeout:     http.StatusGatewayTimeout,
	types.ErrUpstreamError:       http.StatusBadGateway,
	types.ErrServiceUnavailable:  http.StatusServiceUnavailable,
	types.ErrProviderUnavailable: http.StatusServiceUnavailable,
}

func httpStatus(err *types.Error) int {
	if err.HTTPStatus != 0 {
		return err.HTTPStatus
	}
	if s, ok := statusByCode[err.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// =============================================================================
// 📊 StatusRecorder
// =============================================================================

// StatusRecorder 记录首个状态码与写出的字节数，供访问日志、指标与 tracing 使用
type StatusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

// NewStatusRecorder 未显式写头时状态码视为 200
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w}
}

func (r *StatusRecorder) WriteHeader(code int) {
	if r.status != 0 {
		return
	}
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *StatusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

// Status 已写出的状态码；handler 什么都没写时为 200
func (r *StatusRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// BytesWritten 响应体字节数
func (r *StatusRecorder) BytesWritten() int64 { return r.bytes }

// Unwrap 供 http.ResponseController 与 websocket 握手取得底层连接
func (r *StatusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
