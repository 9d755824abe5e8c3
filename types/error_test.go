package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamUnavailable, "interpreter unreachable").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("interpreter")

	if GetErrorCode(err) != ErrUpstreamUnavailable {
		t.Fatalf("expected code %s, got %s", ErrUpstreamUnavailable, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrSynthesisFailed, "tts failed")
	wrapped := fmt.Errorf("fragment 2: %w", inner)

	assert.Equal(t, ErrSynthesisFailed, GetErrorCode(wrapped))
	assert.True(t, IsCode(wrapped, ErrSynthesisFailed))
	assert.False(t, IsCode(wrapped, ErrMalformedFrame))
	assert.False(t, IsCode(nil, ErrSynthesisFailed))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestError_MessageFormat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "[MALFORMED_FRAME] bad json", NewError(ErrMalformedFrame, "bad json").Error())
	assert.Equal(t, "[MALFORMED_FRAME] bad json: eof",
		NewError(ErrMalformedFrame, "bad json").WithCause(errors.New("eof")).Error())
}
