package speech

import "time"

// OpenAITTSConfig 配置了OpenAI TTS供应商.
type OpenAITTSConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key" env:"API_KEY"`
	BaseURL string        `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty" env:"MODEL"` // tts-1, tts-1-hd
	Voice   string        `json:"voice,omitempty" yaml:"voice,omitempty" env:"VOICE"` // alloy, echo, fable, onyx, nova, shimmer
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" env:"TIMEOUT"`
}

// OpenAISTTConfig 配置了OpenAI Whisper STT供应商.
type OpenAISTTConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key" env:"API_KEY"`
	BaseURL string        `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty" env:"MODEL"` // whisper-1
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" env:"TIMEOUT"`
}

// ElevenLabsConfig 配置了11Labs TTS供应商.
type ElevenLabsConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key" env:"API_KEY"`
	BaseURL string        `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty" env:"MODEL"` // eleven_multilingual_v2
	VoiceID string        `json:"voice_id,omitempty" yaml:"voice_id,omitempty" env:"VOICE_ID"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" env:"TIMEOUT"`
}

// DeepgramConfig 配置了 Deepgram STT 供应商.
type DeepgramConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key" env:"API_KEY"`
	BaseURL string        `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty" env:"MODEL"` // nova-2
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" env:"TIMEOUT"`
}

// DefaultOpenAITTSConfig 返回默认 OpenAI TTS 配置 。
func DefaultOpenAITTSConfig() OpenAITTSConfig {
	return OpenAITTSConfig{
		BaseURL: "https://api.openai.com",
		Model:   "tts-1",
		Voice:   "alloy",
		Timeout: 60 * time.Second,
	}
}

// DefaultOpenAISTTConfig 返回默认 OpenAI STT 配置 。
func DefaultOpenAISTTConfig() OpenAISTTConfig {
	return OpenAISTTConfig{
		BaseURL: "https://api.openai.com",
		Model:   "whisper-1",
		Timeout: 120 * time.Second,
	}
}

// DefaultElevenLabsConfig 返回默认的 11Labs 配置 。
func DefaultElevenLabsConfig() ElevenLabsConfig {
	return ElevenLabsConfig{
		BaseURL: "https://api.elevenlabs.io",
		Model:   "eleven_multilingual_v2",
		VoiceID: "21m00Tcm4TlvDq8ikWAM", // Rachel
		Timeout: 60 * time.Second,
	}
}

// DefaultDeepgramConfig 返回默认 Deepgram 配置 。
func DefaultDeepgramConfig() DeepgramConfig {
	return DeepgramConfig{
		BaseURL: "https://api.deepgram.com",
		Model:   "nova-2",
		Timeout: 120 * time.Second,
	}
}
