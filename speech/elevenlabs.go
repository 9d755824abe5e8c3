package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BaSui01/voicegate/internal/tlsutil"
	"github.com/BaSui01/voicegate/types"
)

// ElevenLabsProvider 使用11Labs API执行TTS.
type ElevenLabsProvider struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

// NewElevenLabsProvider 创建了新的 11Labs TTS 供应商.
func NewElevenLabsProvider(cfg ElevenLabsConfig) *ElevenLabsProvider {
	def := DefaultElevenLabsConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = def.VoiceID
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}

	return &ElevenLabsProvider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
	}
}

func (p *ElevenLabsProvider) Name() string { return "elevenlabs" }

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

type elevenLabsTTSRequest struct {
	Text          string                   `json:"text"`
	ModelID       string                   `json:"model_id"`
	LanguageCode  string                   `json:"language_code,omitempty"`
	VoiceSettings *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
}

// Synthesize 使用 11Labs 将文本转换为语音.
func (p *ElevenLabsProvider) Synthesize(ctx context.Context, req *TTSRequest) (*TTSResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	voiceID := req.Voice
	if voiceID == "" {
		voiceID = p.cfg.VoiceID
	}

	body := elevenLabsTTSRequest{
		Text:         req.Text,
		ModelID:      model,
		LanguageCode: req.Language,
	}
	if req.Speed > 0 {
		// 11Labs 语速范围 0.7-1.2
		speed := req.Speed
		if speed < 0.7 {
			speed = 0.7
		}
		if speed > 1.2 {
			speed = 1.2
		}
		body.VoiceSettings = &elevenLabsVoiceSettings{Stability: 0.5, SimilarityBoost: 0.75, Speed: speed}
	}

	// 添加输出格式查询参数
	format := req.ResponseFormat
	if format == "" {
		format = "mp3_44100_128"
	}
	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s",
		strings.TrimRight(p.cfg.BaseURL, "/"), url.PathEscape(voiceID), url.QueryEscape(format))

	payload, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrSynthesisFailed, "failed to create request").WithCause(err)
	}
	httpReq.Header.Set("xi-api-key", p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrSynthesisFailed, "elevenlabs request failed").
			WithCause(err).WithProvider(p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, statusError(types.ErrSynthesisFailed, p.Name(), resp)
	}

	audio, err := readAudio(p.Name(), resp.Body)
	if err != nil {
		return nil, err
	}

	return &TTSResponse{
		Provider:  p.Name(),
		Model:     model,
		Audio:     audio,
		Format:    format,
		CharCount: len(req.Text),
		CreatedAt: time.Now(),
	}, nil
}
