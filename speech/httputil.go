package speech

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BaSui01/voicegate/types"
)

// maxAudioBytes 单次合成音频上限
const maxAudioBytes = 32 << 20

// statusError 将服务商的 HTTP 错误映射为结构化错误. 429 与 5xx 标记为可重试，
// 但网关本身不做自动重试.
func statusError(code types.ErrorCode, provider string, resp *http.Response) *types.Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return types.NewError(code, fmt.Sprintf("%s error: status=%d body=%s",
		provider, resp.StatusCode, strings.TrimSpace(string(body)))).
		WithHTTPStatus(resp.StatusCode).
		WithRetryable(retryable).
		WithProvider(provider)
}

func readAudio(provider string, body io.Reader) ([]byte, error) {
	audio, err := io.ReadAll(io.LimitReader(body, maxAudioBytes+1))
	if err != nil {
		return nil, types.NewError(types.ErrSynthesisFailed, "read audio").WithCause(err).WithProvider(provider)
	}
	if len(audio) > maxAudioBytes {
		return nil, types.NewError(types.ErrSynthesisFailed,
			fmt.Sprintf("audio exceeds %d bytes", maxAudioBytes)).WithProvider(provider)
	}
	if len(audio) == 0 {
		return nil, types.NewError(types.ErrSynthesisFailed, "empty audio").WithProvider(provider)
	}
	return audio, nil
}
