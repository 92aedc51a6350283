package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BaSui01/astrogeminibot/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestWriteSuccess_Envelope(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set(RequestIDHeader, "req-42")

	WriteSuccess(w, map[string]int{"remaining": 3})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	resp := decodeEnvelope(t, w)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "req-42", resp.RequestID)
	assert.False(t, resp.Timestamp.IsZero())
	assert.Equal(t, map[string]any{"remaining": float64(3)}, resp.Data)
}

func TestWriteError_StatusSelection(t *testing.T) {
	tests := []struct {
		name string
		err  *types.Error
		want int
	}{
		{"invalid request", types.NewInvalidRequestError("text is required"), http.StatusBadRequest},
		{"unauthorized", types.NewError(types.ErrUnauthorized, "no key"), http.StatusUnauthorized},
		{"forbidden", types.NewError(types.ErrForbidden, "admin only"), http.StatusForbidden},
		{"not found", types.NewNotFoundError("user not found"), http.StatusNotFound},
		{"unknown model", types.NewError(types.ErrModelNotFound, "no such model"), http.StatusNotFound},
		{"rate limited", types.NewError(types.ErrRateLimited, "slow down"), http.StatusTooManyRequests},
		{"quota", types.NewError(types.ErrQuotaExceeded, "quota"), http.StatusPaymentRequired},
		{"upstream timeout", types.NewError(types.ErrUpstreamTimeout, "timeout"), http.StatusGatewayTimeout},
		{"upstream error", types.NewError(types.ErrUpstreamError, "bad gateway"), http.StatusBadGateway},
		{"provider down", types.NewError(types.ErrProviderUnavailable, "open breaker"), http.StatusServiceUnavailable},
		{"ledger disabled", types.NewError(types.ErrServiceUnavailable, "disabled"), http.StatusServiceUnavailable},
		{"internal", types.NewError(types.ErrInternalError, "boom"), http.StatusInternalServerError},
		{"unmapped code", types.NewError("SOMETHING_ELSE", "?"), http.StatusInternalServerError},
		{"explicit status wins", types.NewInvalidRequestError("json only").WithHTTPStatus(http.StatusUnsupportedMediaType), http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err, zap.NewNop())

			assert.Equal(t, tt.want, w.Code)
			resp := decodeEnvelope(t, w)
			assert.False(t, resp.Success)
			assert.Nil(t, resp.Data)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.err.Code), resp.Error.Code)
			assert.Equal(t, tt.err.Message, resp.Error.Message)
		})
	}
}

func TestWriteError_LogLevelFollowsStatus(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	WriteError(httptest.NewRecorder(), types.NewInvalidRequestError("bad"), logger)
	WriteError(httptest.NewRecorder(), types.NewError(types.ErrUpstreamError, "down").WithCause(errors.New("dial tcp")), logger)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.DebugLevel, entries[0].Level)
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
	assert.Equal(t, "dial tcp", entries[1].ContextMap()["cause"])
}

func TestWriteErr_HidesUntypedCause(t *testing.T) {
	w := httptest.NewRecorder()
	writeErr(w, errors.New("pq: password authentication failed"), zap.NewNop())

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeEnvelope(t, w)
	assert.Equal(t, string(types.ErrInternalError), resp.Error.Code)
	assert.Equal(t, "internal error", resp.Error.Message)
}

func TestWriteErr_KeepsTypedError(t *testing.T) {
	w := httptest.NewRecorder()
	wrapped := errors.Join(errors.New("context"), types.NewError(types.ErrRateLimited, "wait 10s").WithRetryable(true))
	writeErr(w, wrapped, nil)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	resp := decodeEnvelope(t, w)
	assert.True(t, resp.Error.Retryable)
}

func TestStatusRecorder(t *testing.T) {
	t.Run("implicit 200", func(t *testing.T) {
		rec := NewStatusRecorder(httptest.NewRecorder())
		assert.Equal(t, http.StatusOK, rec.Status())

		n, err := rec.Write([]byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		assert.Equal(t, http.StatusOK, rec.Status())
		assert.Equal(t, int64(5), rec.BytesWritten())
	})

	t.Run("first status sticks", func(t *testing.T) {
		inner := httptest.NewRecorder()
		rec := NewStatusRecorder(inner)
		rec.WriteHeader(http.StatusCreated)
		rec.WriteHeader(http.StatusBadRequest)
		_, _ = rec.Write([]byte("ab"))
		_, _ = rec.Write([]byte("cd"))

		assert.Equal(t, http.StatusCreated, rec.Status())
		assert.Equal(t, http.StatusCreated, inner.Code)
		assert.Equal(t, int64(4), rec.BytesWritten())
	})

	t.Run("unwrap", func(t *testing.T) {
		inner := httptest.NewRecorder()
		assert.Same(t, inner, NewStatusRecorder(inner).Unwrap())
	})
}
