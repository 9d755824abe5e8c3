package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/voicegate/internal/tlsutil"
	"github.com/BaSui01/voicegate/types"
	"go.uber.org/zap"
)

// DefaultPrompt 摘要提示词，{text} 会被替换为本轮输出.
const DefaultPrompt = `The following is the output from a code execution AI. Your job is to concisely summarize the actions, code, and outcomes generated during the coding AI's session for the user. Your response should be no more than 3-4 sentences. Act as if you are the coding assistant speaking to the user directly about the results of the execution, but with less verbosity. Do not open with phrases like "Here is a concise summary". Speak to the user in direct first person and only include the summary itself. The user should be able to understand the summary without any additional context: "{text}"
CONCISE SUMMARY:`

// Config 摘要服务配置.
type Config struct {
	Enabled         bool          `yaml:"enabled" json:"enabled" env:"ENABLED"`
	BaseURL         string        `yaml:"base_url" json:"base_url" env:"BASE_URL"`
	APIKey          string        `yaml:"api_key" json:"api_key" env:"API_KEY"`
	Model           string        `yaml:"model" json:"model" env:"MODEL"`
	MaxInputTokens  int           `yaml:"max_input_tokens" json:"max_input_tokens" env:"MAX_INPUT_TOKENS"`
	MaxOutputTokens int           `yaml:"max_output_tokens" json:"max_output_tokens" env:"MAX_OUTPUT_TOKENS"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	Prompt          string        `yaml:"prompt" json:"prompt" env:"PROMPT"`
}

// DefaultConfig 返回默认配置.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "https://api.openai.com",
		Model:           "gpt-4o-mini",
		MaxInputTokens:  6000,
		MaxOutputTokens: 256,
		Timeout:         60 * time.Second,
		Prompt:          DefaultPrompt,
	}
}

// Summarizer 调用 OpenAI 兼容接口生成整轮摘要.
type Summarizer struct {
	cfg       Config
	client    *http.Client
	tokenizer Tokenizer
	logger    *zap.Logger
}

// Option 可选配置.
type Option func(*Summarizer)

// WithTokenizer 替换默认的 tiktoken 分词器.
func WithTokenizer(t Tokenizer) Option {
	return func(s *Summarizer) { s.tokenizer = t }
}

// WithHTTPClient 替换默认 HTTP 客户端.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Summarizer) { s.client = c }
}

// New 创建摘要器.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxInputTokens <= 0 {
		cfg.MaxInputTokens = def.MaxInputTokens
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = def.MaxOutputTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Prompt == "" {
		cfg.Prompt = def.Prompt
	}

	s := &Summarizer{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "summarizer")),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = tlsutil.SecureHTTPClient(cfg.Timeout)
	}
	if s.tokenizer == nil {
		s.tokenizer = NewTiktokenTokenizer(cfg.Model, logger)
	}
	return s
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Prompt renders the summary prompt for transcript, keeping only the most
// recent part when it exceeds the input token budget.
func (s *Summarizer) Prompt(transcript string) string {
	text := strings.TrimSpace(transcript)
	if n := s.tokenizer.CountTokens(text); n > s.cfg.MaxInputTokens {
		text = s.tokenizer.TruncateTail(text, s.cfg.MaxInputTokens)
		s.logger.Debug("transcript truncated", zap.Int("tokens", n), zap.Int("budget", s.cfg.MaxInputTokens))
	}
	return strings.ReplaceAll(s.cfg.Prompt, "{text}", text)
}

// Summarize returns a short spoken summary. Failures carry SUMMARY_FAILED.
func (s *Summarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	body := chatRequest{
		Model:       s.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: s.Prompt(transcript)}},
		Temperature: 0,
		MaxTokens:   s.cfg.MaxOutputTokens,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", types.NewError(types.ErrSummaryFailed, "encode request").WithCause(err)
	}

	endpoint := strings.TrimRight(s.cfg.BaseURL, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", types.NewError(types.ErrSummaryFailed, "build request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", types.NewError(types.ErrSummaryFailed, "summary request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", types.NewError(types.ErrSummaryFailed,
			fmt.Sprintf("summary endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", types.NewError(types.ErrSummaryFailed, "decode response").WithCause(err)
	}
	if len(out.Choices) == 0 {
		return "", types.NewError(types.ErrSummaryFailed, "no choices in response")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
