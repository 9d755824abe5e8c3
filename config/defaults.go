// =============================================================================
// 📦 VoiceGate 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/voicegate/internal/cache"
	"github.com/BaSui01/voicegate/interpreter"
	"github.com/BaSui01/voicegate/pipeline"
	"github.com/BaSui01/voicegate/speech"
	"github.com/BaSui01/voicegate/summary"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:      DefaultServerConfig(),
		Interpreter: DefaultInterpreterConfig(),
		Speech:      DefaultSpeechConfig(),
		Session:     pipeline.DefaultConfig(),
		Summary:     summary.DefaultConfig(),
		Redis:       DefaultRedisConfig(),
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8000,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
		WSReadLimit:     8 << 20, // 8 MB，容纳 base64 音频
		WSPingInterval:  30 * time.Second,
	}
}

// DefaultInterpreterConfig 返回默认 interpreter 配置
func DefaultInterpreterConfig() InterpreterConfig {
	def := interpreter.DefaultClientConfig()
	return InterpreterConfig{
		URL:           def.URL,
		Timeout:       def.HeaderTimeout,
		MaxFrameBytes: def.MaxFrameBytes,
	}
}

// DefaultSpeechConfig 返回默认语音配置
func DefaultSpeechConfig() SpeechConfig {
	return SpeechConfig{
		TTSProvider: speech.ProviderOpenAI,
		STTProvider: speech.ProviderOpenAI,
		Voice: speech.VoiceConfig{
			Voice:  "alloy",
			Model:  "tts-1",
			Speed:  1.0,
			Format: "mp3",
		},
		Providers:              speech.DefaultProviderConfigs(),
		MaxConcurrentSynthesis: 16,
		SynthesisTimeout:       30 * time.Second,
		TranscriptionTimeout:   60 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置（缓存默认关闭）
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{Config: cache.DefaultConfig()}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "voicegate",
		SampleRate:   0.1,
	}
}
