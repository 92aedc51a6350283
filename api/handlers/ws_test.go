package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, env *apiEnv, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(env.mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) WSFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var frame WSFrame
	require.NoError(t, wsjson.Read(ctx, conn, &frame))
	return frame
}

func writeText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(text)))
}

func TestWSHandler_ChatRoundTrip(t *testing.T) {
	env := newAPIEnv(t)
	conn := dialWS(t, env, "?user_id=42&first_name=Ada")

	writeText(t, conn, "hello there")
	frame := readFrame(t, conn)
	require.NotNil(t, frame.Reply)
	assert.Nil(t, frame.Error)
	assert.Contains(t, frame.Reply.Text, "Hello from the API")

	// 同一连接上的第二条消息带上历史
	writeText(t, conn, "and again")
	frame = readFrame(t, conn)
	require.NotNil(t, frame.Reply)

	call := env.provider.GetLastCall()
	require.NotNil(t, call)
	// system + user + assistant + user
	assert.Len(t, call.Request.Messages, 4)
	assert.Contains(t, call.Request.Messages[0].Content, "Ada")
}

func TestWSHandler_CommandsAndRateLimit(t *testing.T) {
	env := newAPIEnv(t)
	conn := dialWS(t, env, "?user_id=42")

	writeText(t, conn, "/help")
	frame := readFrame(t, conn)
	require.NotNil(t, frame.Reply)
	assert.Contains(t, frame.Reply.Text, "2 messages per 60 minutes")

	for range 2 {
		writeText(t, conn, "hi")
		require.NotNil(t, readFrame(t, conn).Reply)
	}
	writeText(t, conn, "one more")
	frame = readFrame(t, conn)
	require.NotNil(t, frame.Reply)
	assert.Contains(t, frame.Reply.Text, "Rate Limit Exceeded")
}

func TestWSHandler_InvalidFrameReportsError(t *testing.T) {
	env := newAPIEnv(t)
	conn := dialWS(t, env, "?user_id=42")

	writeText(t, conn, "   ")
	frame := readFrame(t, conn)
	assert.Nil(t, frame.Reply)
	require.NotNil(t, frame.Error)
	assert.Equal(t, "INVALID_REQUEST", frame.Error.Code)
	assert.Equal(t, "text is required", frame.Error.Message)

	// 连接保持可用
	writeText(t, conn, "hi")
	require.NotNil(t, readFrame(t, conn).Reply)
}

func TestWSHandler_BinaryFrameClosesConnection(t *testing.T) {
	env := newAPIEnv(t)
	conn := dialWS(t, env, "?user_id=42")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageBinary, []byte{0x01}))

	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusUnsupportedData, websocket.CloseStatus(err))
}

func TestWSHandler_RequiresUserID(t *testing.T) {
	env := newAPIEnv(t)

	for _, q := range []string{"", "?user_id=abc", "?user_id=0"} {
		w := env.do(t, http.MethodGet, "/api/v1/ws"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
		assert.Contains(t, w.Body.String(), "user_id query parameter")
	}
}
