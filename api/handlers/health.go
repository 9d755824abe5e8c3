package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger   *zap.Logger
	timeout  time.Duration
	sessions func() int

	mu     sync.RWMutex
	checks []HealthCheck
}

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status         string                 `json:"status"` // "healthy", "unhealthy"
	Timestamp      time.Time              `json:"timestamp"`
	ActiveSessions *int                   `json:"active_sessions,omitempty"`
	Checks         map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status  string `json:"status"` // "pass", "fail"
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// VersionInfo /version 返回的构建信息
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}

// NewHealthHandler 创建健康检查处理器. sessions 可为 nil.
func NewHealthHandler(sessions func() int, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:   logger.With(zap.String("component", "health")),
		timeout:  5 * time.Second,
		sessions: sessions,
	}
}

// RegisterCheck 注册就绪检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 处理 /health 与 /healthz（存活探针，不访问依赖）
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
	}
	if h.sessions != nil {
		n := h.sessions()
		status.ActiveSessions = &n
	}
	WriteJSON(w, http.StatusOK, status)
}

// HandleReady 处理 /ready（就绪探针）. 所有检查并发执行，任一失败返回 503.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, check := range checks {
		wg.Add(1)
		go func(check HealthCheck) {
			defer wg.Done()
			start := time.Now()
			err := check.Check(ctx)
			latency := time.Since(start)

			result := CheckResult{Status: "pass", Latency: latency.String()}
			if err != nil {
				result.Status = "fail"
				result.Message = err.Error()
				h.logger.Warn("readiness check failed",
					zap.String("check", check.Name()),
					zap.Duration("latency", latency),
					zap.Error(err),
				)
			}

			mu.Lock()
			status.Checks[check.Name()] = result
			if err != nil {
				status.Status = "unhealthy"
			}
			mu.Unlock()
		}(check)
	}
	wg.Wait()

	if status.Status != "healthy" {
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// HandleVersion 返回 /version 处理函数
func (h *HealthHandler) HandleVersion(info VersionInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, r, info)
	}
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// FuncCheck 用函数实现 HealthCheck，例如 Redis 的 Ping.
type FuncCheck struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFuncCheck 创建函数检查
func NewFuncCheck(name string, fn func(ctx context.Context) error) *FuncCheck {
	return &FuncCheck{name: name, fn: fn}
}

func (c *FuncCheck) Name() string { return c.name }

func (c *FuncCheck) Check(ctx context.Context) error { return c.fn(ctx) }

// ReachabilityCheck 检查 HTTP 服务是否可达. 任何 HTTP 响应（包括 4xx）都算可达，
// 只有传输错误与 5xx 视为失败.
type ReachabilityCheck struct {
	name   string
	url    string
	client *http.Client
}

// NewReachabilityCheck 创建可达性检查. client 为 nil 时使用 2s 超时的默认客户端.
func NewReachabilityCheck(name, url string, client *http.Client) *ReachabilityCheck {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}
	return &ReachabilityCheck{name: name, url: url, client: client}
}

func (c *ReachabilityCheck) Name() string { return c.name }

func (c *ReachabilityCheck) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s unreachable: %w", c.name, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return errors.New(resp.Status)
	}
	return nil
}
