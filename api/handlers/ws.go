package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/BaSui01/voicegate/pipeline"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// =============================================================================
// 🔌 WebSocket 会话入口
// =============================================================================

// SessionServer 运行一个客户端会话直到结束，*pipeline.Manager 实现了该接口.
type SessionServer interface {
	Serve(ctx context.Context, conn pipeline.Conn) error
}

// WSConfig websocket 端点配置
type WSConfig struct {
	// ReadLimit 单条入站消息最大字节数
	ReadLimit int64
	// AllowedOrigins 允许的跨域 Origin 模式，空表示只接受同源
	AllowedOrigins []string
	// PingInterval 心跳间隔，0 表示关闭
	PingInterval time.Duration
}

// WSHandler 将 /ws 升级为 websocket 并交给会话管理器
type WSHandler struct {
	sessions SessionServer
	cfg      WSConfig
	logger   *zap.Logger
}

// NewWSHandler 创建 websocket 处理器
func NewWSHandler(sessions SessionServer, cfg WSConfig, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		sessions: sessions,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "ws_handler")),
	}
}

// ServeHTTP 完成握手后阻塞直到会话结束
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.AllowedOrigins,
	})
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Debug("websocket upgrade rejected",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := pipeline.NewWebSocketConn(c, h.cfg.ReadLimit, h.logger)
	if h.cfg.PingInterval > 0 {
		go h.keepAlive(ctx, c)
	}

	h.logger.Info("client connected", zap.String("remote_addr", r.RemoteAddr))
	err = h.sessions.Serve(ctx, conn)
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrManagerClosed):
		h.logger.Info("rejected connection during shutdown", zap.String("remote_addr", r.RemoteAddr))
	default:
		h.logger.Warn("session ended with error", zap.Error(err))
	}
	h.logger.Info("client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

// keepAlive 定期发送 ping. 失败时放弃，读循环会观察到断连.
func (h *WSHandler) keepAlive(ctx context.Context, c *websocket.Conn) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.cfg.PingInterval)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					h.logger.Debug("websocket ping failed", zap.Error(err))
				}
				return
			}
		}
	}
}
