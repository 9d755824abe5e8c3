package speech

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BaSui01/voicegate/internal/cache"
	"github.com/BaSui01/voicegate/internal/metrics"
	"github.com/BaSui01/voicegate/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// AudioStore 是合成结果的持久缓存，*cache.Manager 实现了该接口.
type AudioStore interface {
	GetAudio(ctx context.Context, key string) ([]byte, error)
	SetAudio(ctx context.Context, key string, audio []byte, ttl time.Duration) error
}

// SynthesizerConfig 合成器配置.
type SynthesizerConfig struct {
	Voice VoiceConfig
	// MaxConcurrent 全进程并发合成上限，<=0 表示不限制.
	MaxConcurrent int64
	// Timeout 单个片段的合成超时.
	Timeout time.Duration
	// CacheTTL 缓存过期时间，0 使用缓存默认值.
	CacheTTL time.Duration
}

// Synthesizer turns one sentence fragment into audio. It is shared by all sessions:
// identical concurrent requests are collapsed, results are cached by content, and
// the total number of in-flight provider calls can be capped. Ordering within a
// session is the caller's responsibility.
type Synthesizer struct {
	provider TTSProvider
	cfg      SynthesizerConfig
	store    AudioStore
	sem      *semaphore.Weighted
	group    singleflight.Group
	metrics  *metrics.Collector
	tracer   trace.Tracer
	logger   *zap.Logger
}

// SynthesizerOption 可选配置.
type SynthesizerOption func(*Synthesizer)

// WithAudioStore 启用音频缓存.
func WithAudioStore(store AudioStore) SynthesizerOption {
	return func(s *Synthesizer) { s.store = store }
}

// WithSynthesisMetrics 记录合成指标.
func WithSynthesisMetrics(m *metrics.Collector) SynthesizerOption {
	return func(s *Synthesizer) { s.metrics = m }
}

// NewSynthesizer 创建合成器.
func NewSynthesizer(provider TTSProvider, cfg SynthesizerConfig, logger *zap.Logger, opts ...SynthesizerOption) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	s := &Synthesizer{
		provider: provider,
		cfg:      cfg,
		tracer:   otel.Tracer("github.com/BaSui01/voicegate/speech"),
		logger:   logger.With(zap.String("component", "synthesizer"), zap.String("provider", provider.Name())),
	}
	if cfg.MaxConcurrent > 0 {
		s.sem = semaphore.NewWeighted(cfg.MaxConcurrent)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize returns the audio for text. Any failure is reported as SYNTHESIS_FAILED;
// a cancelled ctx is returned as the context error.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, types.NewError(types.ErrSynthesisFailed, "empty text")
	}

	ctx, span := s.tracer.Start(ctx, "speech.synthesize",
		trace.WithAttributes(
			attribute.String("tts.provider", s.provider.Name()),
			attribute.Int("tts.chars", len(text)),
		))
	defer span.End()

	key := s.cfg.Voice.CacheKey(s.provider.Name(), text)
	if audio, ok := s.lookup(ctx, key); ok {
		span.SetAttributes(attribute.Bool("tts.cached", true))
		s.metrics.RecordAudioCache(true)
		return audio, nil
	}
	if s.store != nil {
		s.metrics.RecordAudioCache(false)
	}

	// singleflight 的结果被多个会话共享，必须用独立于单个调用方的 context
	ch := s.group.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout)
		defer cancel()
		return s.call(callCtx, key, text)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, "synthesis failed")
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func (s *Synthesizer) lookup(ctx context.Context, key string) ([]byte, bool) {
	if s.store == nil {
		return nil, false
	}
	audio, err := s.store.GetAudio(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("audio cache lookup failed", zap.Error(err))
		}
		return nil, false
	}
	return audio, true
}

func (s *Synthesizer) call(ctx context.Context, key, text string) ([]byte, error) {
	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return nil, types.NewError(types.ErrSynthesisFailed, "synthesis slot unavailable").WithCause(err)
		}
		defer s.sem.Release(1)
	}

	start := time.Now()
	resp, err := s.provider.Synthesize(ctx, s.cfg.Voice.Request(text))
	s.metrics.RecordSynthesis(s.provider.Name(), time.Since(start), err)
	if err != nil {
		if !types.IsCode(err, types.ErrSynthesisFailed) {
			err = types.NewError(types.ErrSynthesisFailed, "tts provider error").
				WithCause(err).WithProvider(s.provider.Name())
		}
		return nil, err
	}

	if s.store != nil {
		if err := s.store.SetAudio(ctx, key, resp.Audio, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("audio cache store failed", zap.Error(err))
		}
	}
	return resp.Audio, nil
}

// ProviderName returns the underlying TTS provider name.
func (s *Synthesizer) ProviderName() string { return s.provider.Name() }
