// =============================================================================
// 📦 VoiceGate 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("voicegate.yaml").
//	    WithEnvPrefix("VOICEGATE").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/voicegate/internal/cache"
	"github.com/BaSui01/voicegate/pipeline"
	"github.com/BaSui01/voicegate/speech"
	"github.com/BaSui01/voicegate/summary"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 VoiceGate 的完整配置结构
type Config struct {
	// Server HTTP 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Interpreter 上游 interpreter 配置
	Interpreter InterpreterConfig `yaml:"interpreter" env:"INTERPRETER"`

	// Speech TTS/STT 配置
	Speech SpeechConfig `yaml:"speech" env:"SPEECH"`

	// Session 会话行为配置
	Session pipeline.Config `yaml:"session" env:"SESSION"`

	// Summary 整轮摘要配置
	Summary summary.Config `yaml:"summary" env:"SUMMARY"`

	// Redis 音频缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时（不作用于 websocket 连接）
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 空闲超时
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// CORS 允许的来源，空表示不设置 CORS 头
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 每个 IP 的请求速率
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 每个 IP 的突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 单个 websocket 入站消息的最大字节数
	WSReadLimit int64 `yaml:"ws_read_limit" env:"WS_READ_LIMIT"`
	// websocket 心跳间隔，0 表示关闭
	WSPingInterval time.Duration `yaml:"ws_ping_interval" env:"WS_PING_INTERVAL"`
}

// InterpreterConfig 上游 interpreter 配置
type InterpreterConfig struct {
	// 流式端点 URL
	URL string `yaml:"url" env:"URL"`
	// 等待响应头的超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 单帧最大字节数
	MaxFrameBytes int `yaml:"max_frame_bytes" env:"MAX_FRAME_BYTES"`
}

// SpeechConfig 语音配置
type SpeechConfig struct {
	// TTS 服务商: openai, elevenlabs
	TTSProvider string `yaml:"tts_provider" env:"TTS_PROVIDER"`
	// STT 服务商: openai, deepgram
	STTProvider string `yaml:"stt_provider" env:"STT_PROVIDER"`
	// 固定的声音配置
	Voice speech.VoiceConfig `yaml:"voice" env:"VOICE"`
	// 各服务商配置
	Providers speech.ProviderConfigs `yaml:"providers" env:"PROVIDERS"`
	// 全进程并发合成上限
	MaxConcurrentSynthesis int64 `yaml:"max_concurrent_synthesis" env:"MAX_CONCURRENT_SYNTHESIS"`
	// 单片段合成超时
	SynthesisTimeout time.Duration `yaml:"synthesis_timeout" env:"SYNTHESIS_TIMEOUT"`
	// 单条语音识别超时
	TranscriptionTimeout time.Duration `yaml:"transcription_timeout" env:"TRANSCRIPTION_TIMEOUT"`
	// 识别语言提示（ISO-639-1），空表示自动检测
	Language string `yaml:"language" env:"LANGUAGE"`
}

// RedisConfig Redis 音频缓存配置
type RedisConfig struct {
	// 是否启用缓存
	Enabled bool `yaml:"enabled" env:"ENABLED"`

	cache.Config `yaml:",inline"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "VOICEGATE",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Path 返回配置文件路径
func (l *Loader) Path() string { return l.configPath }

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置. 文件不存在时保留默认值.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段. 匿名嵌入的结构体沿用父级前缀.
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if fieldType.Anonymous && field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, prefix); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置，返回所有问题的聚合错误
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		add("server.http_port %d out of range", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		add("server.metrics_port %d out of range", c.Server.MetricsPort)
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		add("server.metrics_port must differ from server.http_port")
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		add("server rate limit must not be negative")
	}

	if u, err := url.Parse(c.Interpreter.URL); err != nil || u.Scheme == "" || u.Host == "" {
		add("interpreter.url %q is not an absolute URL", c.Interpreter.URL)
	}

	switch c.Speech.TTSProvider {
	case speech.ProviderOpenAI, speech.ProviderElevenLabs:
	default:
		add("speech.tts_provider %q is not supported", c.Speech.TTSProvider)
	}
	switch c.Speech.STTProvider {
	case speech.ProviderOpenAI, speech.ProviderDeepgram:
	default:
		add("speech.stt_provider %q is not supported", c.Speech.STTProvider)
	}
	if c.Speech.Voice.Speed < 0 {
		add("speech.voice.speed must not be negative")
	}

	switch c.Session.Mode {
	case pipeline.ModeStream:
	case pipeline.ModeSummary:
		if !c.Summary.Enabled {
			add("session.mode summary requires summary.enabled")
		}
	default:
		add("session.mode %q must be stream or summary", c.Session.Mode)
	}
	if strings.TrimSpace(c.Session.AffirmativeToken) == "" {
		add("session.affirmative_token must not be empty")
	}
	if c.Session.LateReplyWindow < 0 {
		add("session.late_reply_window must not be negative")
	}
	if c.Session.OutboundBuffer <= 0 {
		add("session.outbound_buffer must be positive")
	}
	if c.Session.MaxQueuedTurns < 0 {
		add("session.max_queued_turns must not be negative")
	}

	if c.Summary.Enabled && c.Summary.MaxInputTokens <= 0 {
		add("summary.max_input_tokens must be positive")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		add("redis.addr is required when redis is enabled")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		add("log.format %q must be json or console", c.Log.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.OTLPEndpoint == "" {
			add("telemetry.otlp_endpoint is required when telemetry is enabled")
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			add("telemetry.sample_rate must be between 0 and 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %w", errors.Join(errs...))
	}
	return nil
}

// HTTPAddr 返回 HTTP 监听地址
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.Server.HTTPPort)
}
