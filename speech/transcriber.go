package speech

import (
	"context"
	"strings"
	"time"

	"github.com/BaSui01/voicegate/types"
	"go.uber.org/zap"
)

// Transcriber 把客户端上传的音频转写为文本.
type Transcriber struct {
	provider STTProvider
	language string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewTranscriber 创建转写器. language 为空时由服务商自动检测.
func NewTranscriber(provider STTProvider, language string, timeout time.Duration, logger *zap.Logger) *Transcriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Transcriber{
		provider: provider,
		language: language,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "transcriber"), zap.String("provider", provider.Name())),
	}
}

// Transcribe returns the trimmed transcript. Failures carry TRANSCRIPTION_FAILED.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	resp, err := t.provider.Transcribe(ctx, &STTRequest{
		Audio:    audio,
		MimeType: mimeType,
		Language: t.language,
	})
	if err != nil {
		if ctx.Err() != nil && !types.IsCode(err, types.ErrTranscriptionFailed) {
			return "", ctx.Err()
		}
		if !types.IsCode(err, types.ErrTranscriptionFailed) && !types.IsCode(err, types.ErrInvalidRequest) {
			err = types.NewError(types.ErrTranscriptionFailed, "stt provider error").
				WithCause(err).WithProvider(t.provider.Name())
		}
		return "", err
	}

	text := strings.TrimSpace(resp.Text)
	t.logger.Debug("audio transcribed", zap.Int("bytes", len(audio)), zap.Int("chars", len(text)))
	return text, nil
}

// ProviderName returns the underlying STT provider name.
func (t *Transcriber) ProviderName() string { return t.provider.Name() }
