package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/voicegate/internal/tlsutil"
	"github.com/BaSui01/voicegate/types"
)

// OpenAITTSProvider implements TTS using OpenAI's /v1/audio/speech API.
type OpenAITTSProvider struct {
	cfg    OpenAITTSConfig
	client *http.Client
}

// NewOpenAITTSProvider creates a new OpenAI TTS provider.
func NewOpenAITTSProvider(cfg OpenAITTSConfig) *OpenAITTSProvider {
	def := DefaultOpenAITTSConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Voice == "" {
		cfg.Voice = def.Voice
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}

	return &OpenAITTSProvider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
	}
}

func (p *OpenAITTSProvider) Name() string { return "openai-tts" }

type openAITTSRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

// Synthesize converts text to speech and buffers the whole audio payload.
func (p *OpenAITTSProvider) Synthesize(ctx context.Context, req *TTSRequest) (*TTSResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	voice := req.Voice
	if voice == "" {
		voice = p.cfg.Voice
	}
	format := req.ResponseFormat
	if format == "" {
		format = "wav"
	}

	body := openAITTSRequest{
		Model:          model,
		Input:          req.Text,
		Voice:          voice,
		ResponseFormat: format,
	}
	if req.Speed > 0 {
		body.Speed = req.Speed
	}

	payload, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/v1/audio/speech",
		bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrSynthesisFailed, "failed to create request").WithCause(err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrSynthesisFailed, "openai tts request failed").
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
