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

// DeepgramProvider 使用Deepgram API执行STT.
type DeepgramProvider struct {
	cfg    DeepgramConfig
	client *http.Client
}

// NewDeepgramProvider 创建新的 Deepgram STT 提供者.
func NewDeepgramProvider(cfg DeepgramConfig) *DeepgramProvider {
	def := DefaultDeepgramConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}

	return &DeepgramProvider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
	}
}

func (p *DeepgramProvider) Name() string { return "deepgram" }

type deepgramResponse struct {
	Metadata struct {
		RequestID string  `json:"request_id"`
		Duration  float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language,omitempty"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe 将语音转换为使用Deepgram的文本。
func (p *DeepgramProvider) Transcribe(ctx context.Context, req *STTRequest) (*STTResponse, error) {
	if len(req.Audio) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "audio input is required")
	}

	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	// 构建查询参数
	params := url.Values{}
	params.Set("model", model)
	params.Set("smart_format", "true")
	params.Set("punctuate", "true")
	if req.Language != "" {
		params.Set("language", req.Language)
	}

	endpoint := fmt.Sprintf("%s/v1/listen?%s", strings.TrimRight(p.cfg.BaseURL, "/"), params.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(req.Audio))
	if err != nil {
		return nil, types.NewError(types.ErrTranscriptionFailed, "failed to create request").WithCause(err)
	}
	mime := req.MimeType
	if mime == "" {
		mime = "audio/wav"
	}
	httpReq.Header.Set("Content-Type", mime)
	httpReq.Header.Set("Authorization", "Token "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrTranscriptionFailed, "deepgram request failed").
			WithCause(err).WithProvider(p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, statusError(types.ErrTranscriptionFailed, p.Name(), resp)
	}

	var dResp deepgramResponse
	if err := json.NewDecoder(resp.Body).Decode(&dResp); err != nil {
		return nil, types.NewError(types.ErrTranscriptionFailed, "failed to decode deepgram response").
			WithCause(err).WithProvider(p.Name())
	}

	result := &STTResponse{
		Provider:  p.Name(),
		Model:     model,
		Duration:  time.Duration(dResp.Metadata.Duration * float64(time.Second)),
		CreatedAt: time.Now(),
	}

	// 从第一个频道提取记录
	if len(dResp.Results.Channels) > 0 {
		ch := dResp.Results.Channels[0]
		result.Language = ch.DetectedLanguage
		if len(ch.Alternatives) > 0 {
			result.Text = ch.Alternatives[0].Transcript
			result.Confidence = ch.Alternatives[0].Confidence
		}
	}

	return result, nil
}
