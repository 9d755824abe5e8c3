package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"
)

// ConfirmationOutcome 确认结果.
type ConfirmationOutcome string

const (
	ConfirmationApproved  ConfirmationOutcome = "approved"
	ConfirmationDeclined  ConfirmationOutcome = "declined"
	ConfirmationTimeout   ConfirmationOutcome = "timeout"
	ConfirmationCancelled ConfirmationOutcome = "cancelled"
)

// Confirmer holds at most one pending execution confirmation for a session.
// The turn goroutine waits in Await; the read loop delivers the reply via Resolve.
type Confirmer struct {
	token      string
	timeout    time.Duration
	lateWindow time.Duration

	mu        sync.Mutex
	pending   chan string
	expiredAt time.Time
}

// NewConfirmer 创建确认器. token 为肯定回复（大小写不敏感），timeout<=0 表示不超时.
func NewConfirmer(token string, timeout time.Duration) *Confirmer {
	if token == "" {
		token = "y"
	}
	return &Confirmer{token: token, timeout: timeout}
}

// WithLateReplyWindow sets how long after a timeout an affirmative reply is
// still recognised as a stale answer and dropped by LateReply.
func (c *Confirmer) WithLateReplyWindow(d time.Duration) *Confirmer {
	c.lateWindow = d
	return c
}

// Begin enters the awaiting state. It must be called before the prompt is sent
// so a fast reply cannot be mistaken for a new turn.
func (c *Confirmer) Begin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = make(chan string, 1)
	c.expiredAt = time.Time{}
}

// Awaiting reports whether a confirmation is pending.
func (c *Confirmer) Awaiting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// Resolve delivers a reply. It returns false when nothing is pending.
func (c *Confirmer) Resolve(reply string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return false
	}
	c.pending <- reply
	c.pending = nil
	return true
}

// Await blocks until the pending confirmation is answered, times out, or ctx
// ends. Begin must have been called first.
func (c *Confirmer) Await(ctx context.Context) ConfirmationOutcome {
	c.mu.Lock()
	ch := c.pending
	c.mu.Unlock()
	if ch == nil {
		return ConfirmationCancelled
	}
	defer c.clear(ch)

	var timeout <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case reply := <-ch:
		if c.IsAffirmative(reply) {
			return ConfirmationApproved
		}
		return ConfirmationDeclined
	case <-timeout:
		c.mu.Lock()
		c.expiredAt = time.Now()
		c.mu.Unlock()
		return ConfirmationTimeout
	case <-ctx.Done():
		return ConfirmationCancelled
	}
}

// IsAffirmative reports whether reply equals the affirmative token, ignoring
// case and surrounding whitespace.
func (c *Confirmer) IsAffirmative(reply string) bool {
	return strings.EqualFold(strings.TrimSpace(reply), c.token)
}

// LateReply reports whether reply is an affirmative answer to a confirmation
// that already timed out within the late-reply window. A match is consumed so
// only the first stale answer is swallowed.
func (c *Confirmer) LateReply(reply string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expiredAt.IsZero() || c.lateWindow <= 0 {
		return false
	}
	if time.Since(c.expiredAt) > c.lateWindow {
		c.expiredAt = time.Time{}
		return false
	}
	if !c.IsAffirmative(reply) {
		return false
	}
	c.expiredAt = time.Time{}
	return true
}

func (c *Confirmer) clear(ch chan string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == ch {
		c.pending = nil
	}
}
