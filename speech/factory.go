package speech

import "fmt"

// Provider names accepted by NewTTSProvider / NewSTTProvider.
const (
	ProviderOpenAI     = "openai"
	ProviderElevenLabs = "elevenlabs"
	ProviderDeepgram   = "deepgram"
)

// ProviderConfigs 所有服务商的配置集合.
type ProviderConfigs struct {
	OpenAITTS  OpenAITTSConfig  `yaml:"openai_tts" json:"openai_tts" env:"OPENAI_TTS"`
	OpenAISTT  OpenAISTTConfig  `yaml:"openai_stt" json:"openai_stt" env:"OPENAI_STT"`
	ElevenLabs ElevenLabsConfig `yaml:"elevenlabs" json:"elevenlabs" env:"ELEVENLABS"`
	Deepgram   DeepgramConfig   `yaml:"deepgram" json:"deepgram" env:"DEEPGRAM"`
}

// DefaultProviderConfigs 返回所有服务商的默认配置.
func DefaultProviderConfigs() ProviderConfigs {
	return ProviderConfigs{
		OpenAITTS:  DefaultOpenAITTSConfig(),
		OpenAISTT:  DefaultOpenAISTTConfig(),
		ElevenLabs: DefaultElevenLabsConfig(),
		Deepgram:   DefaultDeepgramConfig(),
	}
}

// NewTTSProvider 按名称构造 TTS 服务商.
func NewTTSProvider(name string, cfgs ProviderConfigs) (TTSProvider, error) {
	switch name {
	case ProviderOpenAI, "":
		return NewOpenAITTSProvider(cfgs.OpenAITTS), nil
	case ProviderElevenLabs:
		return NewElevenLabsProvider(cfgs.ElevenLabs), nil
	default:
		return nil, fmt.Errorf("unknown tts provider %q", name)
	}
}

// NewSTTProvider 按名称构造 STT 服务商.
func NewSTTProvider(name string, cfgs ProviderConfigs) (STTProvider, error) {
	switch name {
	case ProviderOpenAI, "":
		return NewOpenAISTTProvider(cfgs.OpenAISTT), nil
	case ProviderDeepgram:
		return NewDeepgramProvider(cfgs.Deepgram), nil
	default:
		return nil, fmt.Errorf("unknown stt provider %q", name)
	}
}
