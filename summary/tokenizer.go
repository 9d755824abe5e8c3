package summary

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Tokenizer 计数并截断文本.
type Tokenizer interface {
	CountTokens(text string) int
	// TruncateTail keeps the last maxTokens tokens of text.
	TruncateTail(text string, maxTokens int) string
}

// =============================================================================
// tiktoken
// =============================================================================

// TiktokenTokenizer uses a tiktoken encoding. The encoding is loaded lazily on
// first use; if it cannot be loaded the estimator takes over.
type TiktokenTokenizer struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
	fallback *EstimatorTokenizer
	logger   *zap.Logger
}

// modelEncodings 模型名前缀到 tiktoken 编码.
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4.1":       "o200k_base",
	"o1":            "o200k_base",
	"o3":            "o200k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// NewTiktokenTokenizer 为给定模型创建分词器，未知模型使用 cl100k_base.
func NewTiktokenTokenizer(model string, logger *zap.Logger) *TiktokenTokenizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	encoding, matched := "cl100k_base", ""
	for prefix, enc := range modelEncodings {
		// 最长前缀优先
		if strings.HasPrefix(model, prefix) && len(prefix) > len(matched) {
			encoding, matched = enc, prefix
		}
	}
	return &TiktokenTokenizer{
		encoding: encoding,
		fallback: NewEstimatorTokenizer(),
		logger:   logger.With(zap.String("component", "tokenizer")),
	}
}

// init lazily 初始化 tiktoken 编码(可能在第一次使用时下载数据).
func (t *TiktokenTokenizer) init() {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.logger.Warn("tiktoken unavailable, using estimator",
				zap.String("encoding", t.encoding), zap.Error(err))
			return
		}
		t.enc = enc
	})
}

func (t *TiktokenTokenizer) CountTokens(text string) int {
	t.init()
	if t.enc == nil {
		return t.fallback.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

func (t *TiktokenTokenizer) TruncateTail(text string, maxTokens int) string {
	t.init()
	if t.enc == nil {
		return t.fallback.TruncateTail(text, maxTokens)
	}
	tokens := t.enc.Encode(text, nil, nil)
	if maxTokens <= 0 || len(tokens) <= maxTokens {
		return text
	}
	return t.enc.Decode(tokens[len(tokens)-maxTokens:])
}

// =============================================================================
// 估算器
// =============================================================================

// EstimatorTokenizer 基于字符数估算，CJK 约 1.5 字符/token，其余约 4 字符/token.
type EstimatorTokenizer struct{}

// NewEstimatorTokenizer 创建估算分词器.
func NewEstimatorTokenizer() *EstimatorTokenizer { return &EstimatorTokenizer{} }

func (e *EstimatorTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	var cjk, other int
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	n := int(float64(cjk)/1.5 + float64(other)/4.0)
	if n == 0 {
		n = 1
	}
	return n
}

func (e *EstimatorTokenizer) TruncateTail(text string, maxTokens int) string {
	if maxTokens <= 0 || e.CountTokens(text) <= maxTokens {
		return text
	}
	// 从尾部向前累积直到预算用尽
	var budget float64 = float64(maxTokens)
	i := len(text)
	for i > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:i])
		cost := 0.25
		if isCJK(r) {
			cost = 1 / 1.5
		}
		if budget < cost {
			break
		}
		budget -= cost
		i -= size
	}
	return text[i:]
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x3040 && r <= 0x30FF) ||
		(r >= 0xAC00 && r <= 0xD7AF)
}
