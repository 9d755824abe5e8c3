package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/voicegate/api/handlers"
	"github.com/BaSui01/voicegate/config"
	"github.com/BaSui01/voicegate/internal/metrics"
	"github.com/BaSui01/voicegate/pipeline"
	"github.com/alicebob/miniredis/v2"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// fakeInterpreter 回显用户消息. HEAD 请求用于就绪检查.
func fakeInterpreter(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		var body struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"role":"assistant","type":"message","start":true}`+"\n")
		fmt.Fprintf(w, `data: {"role":"assistant","type":"message","content":"Echo %s."}`+"\n", body.Message)
		fmt.Fprint(w, `data: {"role":"assistant","type":"message","end":true}`+"\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

// fakeTTS 模拟 OpenAI 语音合成接口，音频内容为 "audio:" + 输入文本.
func fakeTTS(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input string `json:"input"`
		}
		if r.URL.Path != "/v1/audio/speech" || json.NewDecoder(r.Body).Decode(&body) != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("audio:" + body.Input))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.HTTPPort = 0
	cfg.Server.MetricsPort = 0
	cfg.Server.WSPingInterval = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Interpreter.URL = fakeInterpreter(t).URL
	cfg.Speech.Providers.OpenAITTS.BaseURL = fakeTTS(t).URL
	return cfg
}

func startServer(t *testing.T, cfg *config.Config, loader *config.Loader, level zap.AtomicLevel) *Server {
	t.Helper()
	collector := metrics.NewCollector(nextTestNamespace(), zap.NewNop())
	srv := NewServer(cfg, loader, level, collector, nil, zaptest.NewLogger(t))
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func httpURL(srv *Server, path string) string {
	return "http://" + srv.httpManager.Addr() + path
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestServer_HealthEndpoints(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()

	srv := startServer(t, cfg, nil, zap.NewAtomicLevel())
	require.NotNil(t, srv.audioCache)

	var health handlers.HealthStatus
	assert.Equal(t, http.StatusOK, getJSON(t, httpURL(srv, "/health"), &health))
	assert.Equal(t, "healthy", health.Status)
	require.NotNil(t, health.ActiveSessions)
	assert.Equal(t, 0, *health.ActiveSessions)

	var ready handlers.HealthStatus
	assert.Equal(t, http.StatusOK, getJSON(t, httpURL(srv, "/ready"), &ready))
	assert.Equal(t, "pass", ready.Checks["interpreter"].Status)
	assert.Equal(t, "pass", ready.Checks["redis"].Status)

	var version handlers.Response
	assert.Equal(t, http.StatusOK, getJSON(t, httpURL(srv, "/version"), &version))
	assert.True(t, version.Success)
}

func TestServer_ReadyFailsWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()
	cfg.Redis.MaxRetries = -1

	srv := startServer(t, cfg, nil, zap.NewAtomicLevel())
	mr.Close()

	var ready handlers.HealthStatus
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, httpURL(srv, "/ready"), &ready))
	assert.Equal(t, "fail", ready.Checks["redis"].Status)
}

func TestServer_RedisUnavailableDegrades(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "127.0.0.1:1"

	srv := startServer(t, cfg, nil, zap.NewAtomicLevel())
	assert.Nil(t, srv.audioCache)
	assert.Equal(t, http.StatusOK, getJSON(t, httpURL(srv, "/ready"), nil))
}

func TestServer_SecurityAndRequestIDHeaders(t *testing.T) {
	srv := startServer(t, testConfig(t), nil, zap.NewAtomicLevel())

	resp, err := http.Get(httpURL(srv, "/health"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestServer_WebSocketTurn(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()

	srv := startServer(t, cfg, nil, zap.NewAtomicLevel())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws://"+srv.httpManager.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer c.CloseNow()

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"type":"text","text":"hi"}`)))

	read := func() pipeline.Outbound {
		_, data, err := c.Read(ctx)
		require.NoError(t, err)
		var out pipeline.Outbound
		require.NoError(t, json.Unmarshal(data, &out))
		return out
	}

	chat := read()
	assert.Equal(t, pipeline.OutboundChat, chat.Type)
	assert.Equal(t, "Echo hi.", chat.Text)

	audio := read()
	assert.Equal(t, pipeline.OutboundAudio, audio.Type)
	assert.Equal(t, []byte("audio:Echo hi."), audio.Audio)

	assert.Equal(t, 1, srv.sessions.Count())
	// 合成结果写入了 Redis 缓存
	assert.Eventually(t, func() bool { return len(mr.Keys()) > 0 }, time.Second, 10*time.Millisecond)
}

func TestServer_ShutdownClosesSessions(t *testing.T) {
	cfg := testConfig(t)
	collector := metrics.NewCollector(nextTestNamespace(), zap.NewNop())
	srv := NewServer(cfg, nil, zap.NewAtomicLevel(), collector, nil, zaptest.NewLogger(t))
	require.NoError(t, srv.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws://"+srv.httpManager.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer c.CloseNow()
	require.Eventually(t, func() bool { return srv.sessions.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Shutdown(ctx))
	assert.Equal(t, 0, srv.sessions.Count())

	_, _, err = c.Read(ctx)
	assert.Error(t, err)
	assert.False(t, srv.httpManager.IsRunning())
}

func TestServer_MetricsEndpoint(t *testing.T) {
	srv := startServer(t, testConfig(t), nil, zap.NewAtomicLevel())

	// 先产生一次请求，确保 HTTP 指标有样本
	_ = getJSON(t, httpURL(srv, "/health"), nil)

	resp, err := http.Get("http://" + srv.metricsManager.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "http_requests_total")
}

func TestServer_HotReloadLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voicegate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0o644))

	loader := config.NewLoader().WithConfigPath(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	base := testConfig(t)
	cfg.Server = base.Server
	cfg.Interpreter = base.Interpreter
	cfg.Speech = base.Speech

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	startServer(t, cfg, loader, level)
	// 等监听器记录初始修改时间
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	assert.Eventually(t, func() bool { return level.Level() == zapcore.DebugLevel }, 5*time.Second, 20*time.Millisecond)
}

func TestServer_UnknownProviderFailsStart(t *testing.T) {
	cfg := testConfig(t)
	cfg.Speech.TTSProvider = "polly"

	srv := NewServer(cfg, nil, zap.NewAtomicLevel(), nil, nil, zap.NewNop())
	err := srv.Start()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "polly"))
}
