package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/BaSui01/voicegate/api/handlers"
	"github.com/BaSui01/voicegate/config"
	"github.com/BaSui01/voicegate/internal/cache"
	"github.com/BaSui01/voicegate/internal/metrics"
	"github.com/BaSui01/voicegate/internal/server"
	"github.com/BaSui01/voicegate/internal/telemetry"
	"github.com/BaSui01/voicegate/interpreter"
	"github.com/BaSui01/voicegate/pipeline"
	"github.com/BaSui01/voicegate/speech"
	"github.com/BaSui01/voicegate/summary"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 VoiceGate 的主服务器，持有会话管理器和两个监听端口.
type Server struct {
	cfg       *config.Config
	loader    *config.Loader
	level     zap.AtomicLevel
	logger    *zap.Logger
	collector *metrics.Collector
	telemetry *telemetry.Providers

	audioCache    *cache.Manager
	sessions      *pipeline.Manager
	healthHandler *handlers.HealthHandler
	reloader      *config.Reloader

	httpManager    *server.Manager
	metricsManager *server.Manager

	// 限流清理与配置监听的生命周期
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer 创建服务器. loader 用于热重载，level 是日志器的可调级别.
func NewServer(cfg *config.Config, loader *config.Loader, level zap.AtomicLevel, collector *metrics.Collector, otelProviders *telemetry.Providers, logger *zap.Logger) *Server {
	return &Server{
		cfg:       cfg,
		loader:    loader,
		level:     level,
		logger:    logger,
		collector: collector,
		telemetry: otelProviders,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化组件并启动 HTTP 与 Metrics 端口（非阻塞）
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	// 1. 会话依赖与管理器
	if err := s.initSessions(); err != nil {
		cancel()
		return fmt.Errorf("failed to init sessions: %w", err)
	}

	// 2. 健康检查
	s.initHealth()

	// 3. HTTP 服务器
	if err := s.startHTTPServer(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 4. Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		cancel()
		_ = s.httpManager.Shutdown(context.Background())
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 5. 配置热重载
	s.startConfigWatch(ctx)

	s.logger.Info("All servers started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.String("metrics_addr", s.metricsManager.Addr()),
		zap.String("mode", string(s.cfg.Session.Mode)),
		zap.Bool("hot_reload_enabled", s.loader != nil && s.loader.Path() != ""),
	)
	return nil
}

// Run 启动服务器并阻塞到 ctx 结束或任一端口异常退出，随后优雅关闭.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received")
	case serveErr = <-s.httpManager.Errors():
	case serveErr = <-s.metricsManager.Errors():
	}

	shutdownErr := s.Shutdown(context.Background())
	return errors.Join(serveErr, shutdownErr)
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initSessions 构建会话依赖. Redis 与摘要都是可选的，不可用时降级运行.
func (s *Server) initSessions() error {
	cfg := s.cfg

	if cfg.Redis.Enabled {
		audioCache, err := cache.NewManager(cfg.Redis.Config, s.logger)
		if err != nil {
			s.logger.Warn("Redis not available, audio cache disabled", zap.Error(err))
		} else {
			s.audioCache = audioCache
		}
	}

	client := interpreter.NewClient(interpreter.ClientConfig{
		URL:           cfg.Interpreter.URL,
		HeaderTimeout: cfg.Interpreter.Timeout,
		MaxFrameBytes: cfg.Interpreter.MaxFrameBytes,
	}, nil, s.logger)

	tts, err := speech.NewTTSProvider(cfg.Speech.TTSProvider, cfg.Speech.Providers)
	if err != nil {
		return err
	}
	stt, err := speech.NewSTTProvider(cfg.Speech.STTProvider, cfg.Speech.Providers)
	if err != nil {
		return err
	}

	synthOpts := []speech.SynthesizerOption{speech.WithSynthesisMetrics(s.collector)}
	if s.audioCache != nil {
		synthOpts = append(synthOpts, speech.WithAudioStore(s.audioCache))
	}
	synthesizer := speech.NewSynthesizer(tts, speech.SynthesizerConfig{
		Voice:         cfg.Speech.Voice,
		MaxConcurrent: cfg.Speech.MaxConcurrentSynthesis,
		Timeout:       cfg.Speech.SynthesisTimeout,
		CacheTTL:      cfg.Redis.DefaultTTL,
	}, s.logger, synthOpts...)

	deps := pipeline.Deps{
		Upstream:    pipeline.InterpreterUpstream{Client: client},
		Synthesizer: synthesizer,
		Transcriber: speech.NewTranscriber(stt, cfg.Speech.Language, cfg.Speech.TranscriptionTimeout, s.logger),
		Metrics:     s.collector,
		Logger:      s.logger,
	}
	if cfg.Summary.Enabled {
		deps.Summarizer = summary.New(cfg.Summary, s.logger)
	}

	s.sessions = pipeline.NewManager(cfg.Session, deps)

	s.logger.Info("Session pipeline initialized",
		zap.String("interpreter", cfg.Interpreter.URL),
		zap.String("tts_provider", tts.Name()),
		zap.String("stt_provider", stt.Name()),
		zap.Bool("audio_cache", s.audioCache != nil),
		zap.Bool("summary", cfg.Summary.Enabled),
	)
	return nil
}

// initHealth 注册就绪检查
func (s *Server) initHealth() {
	s.healthHandler = handlers.NewHealthHandler(s.sessions.Count, s.logger)
	s.healthHandler.RegisterCheck(handlers.NewReachabilityCheck("interpreter", s.cfg.Interpreter.URL, nil))
	if s.audioCache != nil {
		s.healthHandler.RegisterCheck(handlers.NewFuncCheck("redis", s.audioCache.Ping))
	}
}

// startConfigWatch 在后台监听配置文件
func (s *Server) startConfigWatch(ctx context.Context) {
	if s.loader == nil || s.loader.Path() == "" {
		return
	}
	s.reloader = config.NewReloader(s.loader, s.cfg, s.level, s.logger)
	s.reloader.OnReload(func(_, next *config.Config) {
		s.logger.Info("Configuration reloaded", zap.String("log_level", next.Log.Level))
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.reloader.Watch(ctx); err != nil {
			s.logger.Error("Config watcher stopped", zap.Error(err))
		}
	}()
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 构建路由与中间件链
func (s *Server) routes(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(handlers.VersionInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}))

	// 客户端会话
	mux.Handle("/ws", handlers.NewWSHandler(s.sessions, handlers.WSConfig{
		ReadLimit:      s.cfg.Server.WSReadLimit,
		AllowedOrigins: s.cfg.Server.CORSAllowedOrigins,
		PingInterval:   s.cfg.Server.WSPingInterval,
	}, s.logger))

	return Chain(mux,
		RequestID(),
		Recovery(s.logger),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)
}

// startHTTPServer 启动 HTTP 服务器. 会话在 http.Server 关闭前排空，
// 被劫持的 websocket 连接不受 http.Server.Shutdown 管理.
func (s *Server) startHTTPServer(ctx context.Context) error {
	serverConfig := server.Config{
		Addr:            s.cfg.HTTPAddr(),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     s.cfg.Server.IdleTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager("http", s.routes(ctx), serverConfig, s.logger)
	s.httpManager.OnShutdown(s.sessions.Shutdown)

	return s.httpManager.Start()
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager("metrics", mux, serverConfig, s.logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Shutdown 优雅关闭：先排空会话和 HTTP，再关闭 Metrics、缓存与遥测
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Starting graceful shutdown...")

	var errs []error

	// 0. 停止限流清理与配置监听
	if s.cancel != nil {
		s.cancel()
	}

	// 1. HTTP 服务器（关闭钩子会先排空会话）
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
	}

	// 2. Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}

	// 3. 音频缓存
	if s.audioCache != nil {
		if err := s.audioCache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audio cache: %w", err))
		}
	}

	// 4. 遥测
	if err := s.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	// 5. 等待后台 goroutine
	s.wg.Wait()

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("Graceful shutdown finished with errors", zap.Error(err))
	} else {
		s.logger.Info("Graceful shutdown completed")
	}
	return err
}
