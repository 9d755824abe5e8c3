package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/voicegate/types"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWebSocketConn_ReadWriteClose(t *testing.T) {
	readErr := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		wc := NewWebSocketConn(c, 1024, zaptest.NewLogger(t))
		defer wc.Close("done")

		ctx := r.Context()
		data, err := wc.Read(ctx)
		if !assert.NoError(t, err) {
			return
		}
		assert.NoError(t, wc.Write(ctx, append([]byte("echo:"), data...)))

		_, err = wc.Read(ctx)
		readErr <- err
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	require.NoError(t, client.Write(ctx, websocket.MessageText, []byte(`{"type":"text"}`)))
	_, data, err := client.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, `echo:{"type":"text"}`, string(data))

	require.NoError(t, client.Close(websocket.StatusNormalClosure, "bye"))

	select {
	case err := <-readErr:
		assert.True(t, types.IsCode(err, types.ErrConnectionLost))
	case <-time.After(3 * time.Second):
		t.Fatal("server read did not observe close")
	}
}

func TestWebSocketConn_CloseIdempotent(t *testing.T) {
	closed := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		wc := NewWebSocketConn(c, 0, nil)
		_ = wc.Close("first")
		assert.NoError(t, wc.Close("second"))
		assert.True(t, types.IsCode(wc.Write(r.Context(), []byte("x")), types.ErrConnectionLost))
		close(closed)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.CloseNow()

	_, _, err = client.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
	<-closed
}
