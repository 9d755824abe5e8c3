// 软件包 speech 提供统一的TTS和STT供应商接口.
package speech

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// ============================================================
// 文字对语言( TTS)
// ============================================================

// TTSRequest 代表了文本对语音请求.
type TTSRequest struct {
	Text           string  `json:"text"`
	Model          string  `json:"model,omitempty"`
	Voice          string  `json:"voice,omitempty"`
	Speed          float64 `json:"speed,omitempty"`           // 0.25-4.0
	ResponseFormat string  `json:"response_format,omitempty"` // mp3, opus, aac, flac, wav, pcm
	Language       string  `json:"language,omitempty"`
}

// TTSResponse 代表来自TTS请求的回应.
type TTSResponse struct {
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Audio     []byte    `json:"-"`
	Format    string    `json:"format"`
	CharCount int       `json:"char_count,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TTSProvider 定义了 TTS 提供者接口.
// 实现必须是无会话状态的：同一实例被所有会话共享.
type TTSProvider interface {
	// Synthesize 将文本转换为语音.
	Synthesize(ctx context.Context, req *TTSRequest) (*TTSResponse, error)

	// Name 返回提供者名称 。
	Name() string
}

// VoiceConfig 是网关级固定的声音配置.
type VoiceConfig struct {
	Voice    string  `yaml:"voice" json:"voice" env:"VOICE"`
	Model    string  `yaml:"model" json:"model" env:"MODEL"`
	Speed    float64 `yaml:"speed" json:"speed" env:"SPEED"`
	Language string  `yaml:"language" json:"language" env:"LANGUAGE"`
	Format   string  `yaml:"format" json:"format" env:"FORMAT"`
}

// Request builds the provider request for one text fragment.
func (v VoiceConfig) Request(text string) *TTSRequest {
	return &TTSRequest{
		Text:           text,
		Model:          v.Model,
		Voice:          v.Voice,
		Speed:          v.Speed,
		ResponseFormat: v.Format,
		Language:       v.Language,
	}
}

// CacheKey returns a content address for text rendered by provider with this voice.
func (v VoiceConfig) CacheKey(provider, text string) string {
	h := sha256.New()
	for _, part := range []string{
		provider, v.Voice, v.Model,
		strconv.FormatFloat(v.Speed, 'f', -1, 64),
		v.Language, v.Format, strings.TrimSpace(text),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ============================================================
// 语音对文本( STT)
// ============================================================

// STTRequest 代表语音对文本请求.
type STTRequest struct {
	Audio    []byte `json:"-"`
	MimeType string `json:"mime_type,omitempty"`
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"` // ISO-639-1 code
	Prompt   string `json:"prompt,omitempty"`   // Context hint
}

// STTResponse 代表来自STT请求的答复.
type STTResponse struct {
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	Text       string        `json:"text"`
	Language   string        `json:"language,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// STTProvider 定义了STT提供者接口.
type STTProvider interface {
	// Transcribe 将语音转换为文本 。
	Transcribe(ctx context.Context, req *STTRequest) (*STTResponse, error)

	// Name 返回提供者名称 。
	Name() string
}
