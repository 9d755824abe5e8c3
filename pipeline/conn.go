package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/BaSui01/voicegate/types"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Conn 是客户端连接的最小抽象. Read 只由读循环调用，Write 只由 Dispatcher 调用.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(reason string) error
}

// WebSocketConn 将 coder/websocket 连接适配为 Conn.
// 写操作通过 mutex 保护，因为 WebSocket 不支持并发写。
type WebSocketConn struct {
	conn   *websocket.Conn
	logger *zap.Logger
	mu     sync.Mutex
	closed bool
}

// NewWebSocketConn 从已建立的 WebSocket 连接创建适配器.
func NewWebSocketConn(conn *websocket.Conn, readLimit int64, logger *zap.Logger) *WebSocketConn {
	if logger == nil {
		logger = zap.NewNop()
	}
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}
	return &WebSocketConn{
		conn:   conn,
		logger: logger.With(zap.String("component", "ws_conn")),
	}
}

// Read 读取一个完整的消息帧. 对端关闭时返回 CONNECTION_LOST.
func (w *WebSocketConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		status := websocket.CloseStatus(err)
		w.logger.Debug("websocket read ended", zap.Int("status", int(status)), zap.Error(err))
		return nil, types.NewError(types.ErrConnectionLost, "client connection closed").WithCause(err)
	}
	return data, nil
}

// Write 发送一个文本帧.
func (w *WebSocketConn) Write(ctx context.Context, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return types.NewError(types.ErrConnectionLost, "connection closed")
	}
	if err := w.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return types.NewError(types.ErrConnectionLost, fmt.Sprintf("websocket write: %v", err)).WithCause(err)
	}
	return nil
}

// Close 以正常状态码关闭连接，可重复调用.
func (w *WebSocketConn) Close(reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	err := w.conn.Close(websocket.StatusNormalClosure, reason)
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return nil
	}
	return err
}
