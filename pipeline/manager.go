package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Manager tracks live sessions so the server can report them and shut them
// down together.
type Manager struct {
	cfg  Config
	deps Deps

	mu       sync.Mutex
	sessions map[string]*managedSession
	closed   bool
	wg       sync.WaitGroup

	logger *zap.Logger
}

type managedSession struct {
	session *Session
	cancel  context.CancelFunc
}

// NewManager 创建会话管理器. deps 中的协作者被所有会话共享.
func NewManager(cfg Config, deps Deps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		sessions: make(map[string]*managedSession),
		logger:   logger.With(zap.String("component", "session_manager")),
	}
}

// Serve runs a new session on conn and blocks until it ends. The connection is
// closed on return. After Shutdown it returns ErrManagerClosed.
func (m *Manager) Serve(ctx context.Context, conn Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session := NewSession(conn, m.cfg, m.deps)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close("server shutting down")
		return ErrManagerClosed
	}
	m.sessions[session.ID()] = &managedSession{session: session, cancel: cancel}
	m.wg.Add(1)
	m.mu.Unlock()

	m.deps.Metrics.SessionOpened()
	defer func() {
		m.mu.Lock()
		delete(m.sessions, session.ID())
		m.mu.Unlock()
		m.deps.Metrics.SessionClosed()
		m.wg.Done()
	}()

	err := session.Run(ctx)
	_ = conn.Close("session closed")
	return err
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown stops accepting sessions, cancels every live one and waits for them
// to finish or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, ms := range m.sessions {
		ms.cancel()
	}
	n := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("shutting down sessions", zap.Int("count", n))

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
