package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/voicegate/internal/tlsutil"
	"github.com/BaSui01/voicegate/types"
)

// OpenAISTTProvider 使用OpenAI Whisper API执行STT.
type OpenAISTTProvider struct {
	cfg    OpenAISTTConfig
	client *http.Client
}

// NewOpenAISTTProvider 创建新的 OpenAI STT 提供者.
func NewOpenAISTTProvider(cfg OpenAISTTConfig) *OpenAISTTProvider {
	def := DefaultOpenAISTTConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}

	return &OpenAISTTProvider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
	}
}

func (p *OpenAISTTProvider) Name() string { return "openai-stt" }

type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// fileNameFor 根据 MIME 类型推断上传文件名，Whisper 依赖扩展名识别格式
func fileNameFor(mime string) string {
	switch {
	case strings.Contains(mime, "wav"):
		return "audio.wav"
	case strings.Contains(mime, "webm"):
		return "audio.webm"
	case strings.Contains(mime, "ogg"):
		return "audio.ogg"
	case strings.Contains(mime, "mp4"), strings.Contains(mime, "m4a"):
		return "audio.m4a"
	default:
		return "audio.mp3"
	}
}

// Transcribe 将语音转换为文本 。
func (p *OpenAISTTProvider) Transcribe(ctx context.Context, req *STTRequest) (*STTResponse, error) {
	if len(req.Audio) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "audio input is required")
	}

	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	// 构建多部分形式
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", fileNameFor(req.MimeType))
	if err != nil {
		return nil, types.NewError(types.ErrTranscriptionFailed, "failed to create form file").WithCause(err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, types.NewError(types.ErrTranscriptionFailed, "failed to copy audio").WithCause(err)
	}

	_ = writer.WriteField("model", model)
	_ = writer.WriteField("response_format", "verbose_json")
	if req.Language != "" {
		_ = writer.WriteField("language", req.Language)
	}
	if req.Prompt != "" {
		_ = writer.WriteField("prompt", req.Prompt)
	}
	writer.Close()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/v1/audio/transcriptions",
		&buf)
	if err != nil {
		return nil, types.NewError(types.ErrTranscriptionFailed, "failed to create request").WithCause(err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrTranscriptionFailed, "whisper request failed").
			WithCause(err).WithProvider(p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, statusError(types.ErrTranscriptionFailed, p.Name(), resp)
	}

	var wResp whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&wResp); err != nil {
		return nil, types.NewError(types.ErrTranscriptionFailed, "failed to decode whisper response").
			WithCause(err).WithProvider(p.Name())
	}

	return &STTResponse{
		Provider:  p.Name(),
		Model:     model,
		Text:      wResp.Text,
		Language:  wResp.Language,
		Duration:  time.Duration(wResp.Duration * float64(time.Second)),
		CreatedAt: time.Now(),
	}, nil
}
