package speech

import "strings"

// Fragment 是一个可以独立朗读的句子片段.
type Fragment struct {
	Text        string
	UtteranceID string
	// Seq 在同一语句内从 0 递增，与原文位置顺序一致.
	Seq int
}

// SentenceChunker accumulates assistant text for one utterance and extracts
// complete sentences as soon as their terminator is confirmed.
//
// A sentence is a maximal run of text ending in one or more terminators ('.',
// '!', '?'). A run of terminators at the very end of the buffer is held back until
// a non-terminator arrives or Flush is called, so the output does not depend on
// how the text was split into Add calls.
//
// Within one utterance a fragment whose trimmed text was already emitted is
// suppressed. Empty and whitespace-only fragments are dropped.
//
// A SentenceChunker is not safe for concurrent use.
type SentenceChunker struct {
	utteranceID string
	buf         strings.Builder
	seen        map[string]struct{}
	seq         int
}

// NewSentenceChunker creates a chunker for the given utterance.
func NewSentenceChunker(utteranceID string) *SentenceChunker {
	return &SentenceChunker{
		utteranceID: utteranceID,
		seen:        make(map[string]struct{}),
	}
}

// Add appends text and returns the sentences it completed, in text order.
func (c *SentenceChunker) Add(text string) []Fragment {
	if text == "" {
		return nil
	}
	c.buf.WriteString(text)

	content := c.buf.String()
	var out []Fragment
	lastEnd := 0
	for i := 0; i < len(content); i++ {
		if !isSentenceEnd(content, i) {
			continue
		}
		if f, ok := c.emit(content[lastEnd : i+1]); ok {
			out = append(out, f)
		}
		lastEnd = i + 1
	}

	// 保留尾部
	if lastEnd > 0 {
		rest := content[lastEnd:]
		c.buf.Reset()
		c.buf.WriteString(rest)
	}
	return out
}

// Flush emits whatever is pending as a final fragment, regardless of punctuation.
func (c *SentenceChunker) Flush() []Fragment {
	rest := c.buf.String()
	c.buf.Reset()
	if f, ok := c.emit(rest); ok {
		return []Fragment{f}
	}
	return nil
}

// Pending returns the held-back text without clearing it.
func (c *SentenceChunker) Pending() string {
	return c.buf.String()
}

// Reset clears all state and starts a new utterance.
func (c *SentenceChunker) Reset(utteranceID string) {
	c.utteranceID = utteranceID
	c.buf.Reset()
	c.seen = make(map[string]struct{})
	c.seq = 0
}

func (c *SentenceChunker) emit(raw string) (Fragment, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Fragment{}, false
	}
	if _, dup := c.seen[text]; dup {
		return Fragment{}, false
	}
	c.seen[text] = struct{}{}
	f := Fragment{Text: text, UtteranceID: c.utteranceID, Seq: c.seq}
	c.seq++
	return f, true
}

// SplitSentences splits a completed text into fragments in one call.
func SplitSentences(utteranceID, text string) []Fragment {
	c := NewSentenceChunker(utteranceID)
	out := c.Add(text)
	return append(out, c.Flush()...)
}

func isTerminator(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

// isSentenceEnd reports whether position i closes a terminator run. The last
// byte of the buffer is never confirmed.
func isSentenceEnd(s string, i int) bool {
	return isTerminator(s[i]) && i+1 < len(s) && !isTerminator(s[i+1])
}
