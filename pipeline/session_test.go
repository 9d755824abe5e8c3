package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/voicegate/interpreter"
	"github.com/BaSui01/voicegate/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// =============================================================================
// 测试替身
// =============================================================================

type fakeConn struct {
	in     chan []byte
	out    chan Outbound
	once   sync.Once
	closed atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), out: make(chan Outbound, 256)}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-c.in:
		if !ok {
			return nil, types.NewError(types.ErrConnectionLost, "client gone")
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	var msg Outbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	c.out <- msg
	return nil
}

func (c *fakeConn) Close(string) error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) sendJSON(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	c.in <- data
}

func (c *fakeConn) sendText(text string) {
	c.in <- []byte(`{"type":"text","text":` + mustQuote(text) + `}`)
}

func (c *fakeConn) disconnect() {
	c.once.Do(func() { close(c.in) })
}

func (c *fakeConn) next(t *testing.T) Outbound {
	t.Helper()
	select {
	case m := <-c.out:
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return Outbound{}
	}
}

func (c *fakeConn) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case m := <-c.out:
		t.Fatalf("unexpected outbound message: %+v", m)
	case <-time.After(wait):
	}
}

func mustQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

type item struct {
	ev  interpreter.Event
	err error
}

type scriptedStream struct {
	ctx    context.Context
	items  chan item
	nexts  atomic.Int32
	closed atomic.Bool
}

// newStream returns a stream yielding items; when finite it ends with io.EOF,
// otherwise it blocks after the last item until ctx is cancelled.
func newStream(ctx context.Context, finite bool, items ...item) *scriptedStream {
	s := &scriptedStream{ctx: ctx, items: make(chan item, len(items)+1)}
	for _, it := range items {
		s.items <- it
	}
	if finite {
		close(s.items)
	}
	return s
}

func (s *scriptedStream) Next() (interpreter.Event, error) {
	s.nexts.Add(1)
	select {
	case it, ok := <-s.items:
		if !ok {
			return interpreter.Event{}, io.EOF
		}
		return it.ev, it.err
	case <-s.ctx.Done():
		return interpreter.Event{}, s.ctx.Err()
	}
}

func (s *scriptedStream) Close() error {
	s.closed.Store(true)
	return nil
}

type upstreamFunc func(ctx context.Context, message string) (EventStream, error)

func (f upstreamFunc) Open(ctx context.Context, message string) (EventStream, error) {
	return f(ctx, message)
}

type synthFunc func(ctx context.Context, text string) ([]byte, error)

func (f synthFunc) Synthesize(ctx context.Context, text string) ([]byte, error) { return f(ctx, text) }

type transcribeFunc func(ctx context.Context, audio []byte, mime string) (string, error)

func (f transcribeFunc) Transcribe(ctx context.Context, audio []byte, mime string) (string, error) {
	return f(ctx, audio, mime)
}

type summarizeFunc func(ctx context.Context, transcript string) (string, error)

func (f summarizeFunc) Summarize(ctx context.Context, transcript string) (string, error) {
	return f(ctx, transcript)
}

func echoSynth() synthFunc {
	return func(_ context.Context, text string) ([]byte, error) {
		return []byte("wav:" + text), nil
	}
}

func utterance(text string) []item {
	return []item{
		{ev: msgEvent("", true, false)},
		{ev: msgEvent(text, false, false)},
		{ev: msgEvent("", false, true)},
	}
}

func code(text string) []item {
	return []item{
		{ev: codeEvent("", true, false)},
		{ev: codeEvent(text, false, false)},
		{ev: codeEvent("", false, true)},
	}
}

func executionConfirmation() item {
	return item{ev: interpreter.Event{
		Variant: interpreter.VariantComputerConfirmation,
		Role:    interpreter.RoleComputer,
		Kind:    interpreter.KindConfirmation,
		Format:  interpreter.FormatExecution,
		Payload: json.RawMessage(`{"format":"python","content":"print(1)"}`),
	}}
}

func concat(parts ...[]item) []item {
	var out []item
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.InboundRate = 0
	cfg.ConfirmationTimeout = 3 * time.Second
	return cfg
}

func startSession(t *testing.T, cfg Config, deps Deps) *fakeConn {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = zaptest.NewLogger(t)
	}
	conn := newFakeConn()
	s := NewSession(conn, cfg, deps)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return conn
}

// split 把出站消息分为非音频与音频两路
func split(msgs []Outbound) (other []Outbound, audio []Outbound) {
	for _, m := range msgs {
		if m.Type == OutboundAudio {
			audio = append(audio, m)
		} else {
			other = append(other, m)
		}
	}
	return other, audio
}

func collect(t *testing.T, conn *fakeConn, n int) []Outbound {
	t.Helper()
	out := make([]Outbound, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, conn.next(t))
	}
	return out
}

// =============================================================================
// 测试
// =============================================================================

func TestSession_TextTurnFansOut(t *testing.T) {
	var got atomic.Value
	upstream := upstreamFunc(func(ctx context.Context, message string) (EventStream, error) {
		got.Store(message)
		return newStream(ctx, true, concat(
			utterance("Done. Should I continue? Yes!"),
			code("print('hi')"),
			[]item{{ev: interpreter.Event{
				Variant: interpreter.VariantComputerConsole,
				Role:    interpreter.RoleComputer,
				Kind:    interpreter.KindConsole,
				Format:  "output",
				Content: "hi\n",
			}}},
		)...), nil
	})

	conn := startSession(t, testConfig(), Deps{Upstream: upstream, Synthesizer: echoSynth()})
	conn.sendText("say hi")

	msgs := collect(t, conn, 6)
	other, audio := split(msgs)

	assert.Equal(t, "say hi", got.Load())
	require.Len(t, other, 3)
	assert.Equal(t, ChatMessage("Done. Should I continue? Yes!"), other[0])
	assert.Equal(t, CodeOutputMessage("print('hi')"), other[1])
	assert.Equal(t, CodeOutputMessage("hi\n"), other[2])

	require.Len(t, audio, 3)
	assert.Equal(t, "Done.", audio[0].Text)
	assert.Equal(t, "Should I continue?", audio[1].Text)
	assert.Equal(t, "Yes!", audio[2].Text)
	assert.Equal(t, []byte("wav:Done."), audio[0].Audio)

	// 文本先于其音频
	assert.Equal(t, OutboundChat, msgs[0].Type)
}

func TestSession_AudioDeliveredInFragmentOrder(t *testing.T) {
	synth := synthFunc(func(ctx context.Context, text string) ([]byte, error) {
		if text == "First one." {
			time.Sleep(80 * time.Millisecond)
		}
		return []byte(text), nil
	})
	upstream := upstreamFunc(func(ctx context.Context, _ string) (EventStream, error) {
		return newStream(ctx, true, concat(utterance("First one. Second."), utterance("Third."))...), nil
	})

	conn := startSession(t, testConfig(), Deps{Upstream: upstream, Synthesizer: synth})
	conn.sendText("go")

	_, audio := split(collect(t, conn, 5))
	require.Len(t, audio, 3)
	assert.Equal(t, "First one.", audio[0].Text)
	assert.Equal(t, "Second.", audio[1].Text)
	assert.Equal(t, "Third.", audio[2].Text)
}

func TestSession_SynthesisFailureIsolation(t *testing.T) {
	synth := synthFunc(func(_ context.Context, text string) ([]byte, error) {
		if text == "Two." {
			return nil, types.NewError(types.ErrSynthesisFailed, "voice backend down")
		}
		return []byte(text), nil
	})
	upstream := upstreamFunc(func(ctx context.Context, _ string) (EventStream, error) {
		return newStream(ctx, true, utterance("One. Two. Three.")...), nil
	})

	conn := startSession(t, testConfig(), Deps{Upstream: upstream, Synthesizer: synth})
	conn.sendText("count")

	msgs := collect(t, conn, 3)
	other, audio := split(msgs)
	require.Len(t, other, 1)
	assert.Equal(t, "One. Two. Three.", other[0].Text)
	require.Len(t, audio, 2)
	assert.Equal(t, "One.", audio[0].Text)
	assert.Equal(t, "Three.", audio[1].Text)
	conn.expectNone(t, 100*time.Millisecond)
}

func TestSession_SynthesisSerialWithinSession(t *testing.T) {
	var inFlight, peak atomic.Int32
	synth := synthFunc(func(_ context.Context, text string) ([]byte, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return []byte(text), nil
	})
	upstream := upstreamFunc(func(ctx context.Context, _ string) (EventStream, error) {
		return newStream(ctx, true, utterance("One. Two. Three.")...), nil
	})

	conn := startSession(t, testConfig(), Deps{Upstream: upstream, Synthesizer: synth})
	conn.sendText("count")

	_, audio := split(collect(t, conn, 4))
	require.Len(t, audio, 3)
	assert.Equal(t, int32(1), peak.Load())
}

func TestSession_SynthesisIndependentAcrossSessions(t *testing.T) {
	release := make(chan struct{})
	blocked := make(chan struct{})
	var once sync.Once
	synth := synthFunc(func(ctx context.Context, text string) ([]byte, error) {
		if text == "Slow." {
			once.Do(func() { close(blocked) })
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return []byte(text), nil
	})
	reply := func(text string) upstreamFunc {
		return func(ctx context.Context, _ string) (EventStream, error) {
			return newStream(ctx, true, utterance(text)...), nil
		}
	}

	slow := startSession(t, testConfig(), Deps{Upstream: reply("Slow."), Synthesizer: synth})
	fast := startSession(t, testConfig(), Deps{Upstream: reply("Fast."), Synthesizer: synth})
	t.Cleanup(func() { close(release) })

	slow.sendText("go")
	assert.Equal(t, ChatMessage("Slow."), slow.next(t))
	select {
	case <-blocked:
	case <-time.After(3 * time.Second):
		t.Fatal("slow synthesis never started")
	}

	fast.sendText("go")
	assert.Equal(t, ChatMessage("Fast."), fast.next(t))
	audio := fast.next(t)
	assert.Equal(t, OutboundAudio, audio.Type)
	assert.Equal(t, "Fast.", audio.Text)

	// 慢会话仍在等待合成
	slow.expectNone(t, 50*time.Millisecond)
}

func TestSession_ConfirmationBlocksUntilReply(t *testing.T) {
	for _, tc := range []struct {
		name      string
		reply     []byte
		wantCode  bool
		wantClose bool
	}{
		{name: "decline", reply: []byte("n"), wantCode: false},
		{name: "approve plain", reply: []byte("Y"), wantCode: true},
		{name: "approve json", reply: []byte(`{"type":"text","text":"y"}`), wantCode: true},
		{name: "other text declines", reply: []byte("yes please"), wantCode: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			streams := make(chan *scriptedStream, 2)
			calls := 0
			upstream := upstreamFunc(func(ctx context.Context, _ string) (EventStream, error) {
				calls++
				var s *scriptedStream
				if calls == 1 {
					s = newStream(ctx, true, concat([]item{executionConfirmation()}, code("print(1)"))...)
				} else {
					s = newStream(ctx, true, utterance("Next turn.")...)
				}
				streams <- s
				return s, nil
			})

			conn := startSession(t, testConfig(), Deps{Upstream: upstream})
			conn.sendText("run it")

			prompt := conn.next(t)
			assert.Equal(t, InputRequiredMessage("Run this python?\nprint(1)"), prompt)

			stream := <-streams
			// 等待期间不再拉取上游事件
			time.Sleep(60 * time.Millisecond)
			assert.Equal(t, int32(1), stream.nexts.Load())

			conn.in <- tc.reply

			if tc.wantCode {
				assert.Equal(t, CodeOutputMessage("print(1)"), conn.next(t))
			} else {
				conn.sendText("again")
				assert.Equal(t, ChatMessage("Next turn."), conn.next(t))
				assert.True(t, stream.closed.Load())
			}
		})
	}
}

func TestSession_ConfirmationTimeoutDeclines(t *testing.T) {
	upstream := upstreamFunc(func(ctx context.Context, _ string) (EventStream, error) {
		return newStream(ctx, true, concat([]item{executionConfirmation()}, code("rm -rf /tmp/x"))...), nil
	})
	cfg := testConfig()
	cfg.ConfirmationTimeout = 50 * time.Millisecond

	conn := startSession(t, cfg, Deps{Upstream: upstream})
	conn.sendText("clean up")

	assert.Equal(t, OutboundInputRequired, conn.next(t).Type)
	assert.Equal(t, ChatMessage(noticeConfirmExpiry), conn.next(t))
	conn.expectNone(t, 100*time.Millisecond)
}

func TestSession_LateConfirmationReplyDropped(t *testing.T) {
	var mu sync.Mutex
	var messages []string
	upstream := upstreamFunc(func(ctx context.Context, message string) (EventStream, error) {
		mu.Lock()
		messages = append(messages, message)
		mu.Unlock()
		return newStream(ctx, true, concat([]item{executionConfirmation()}, code("rm -rf /tmp/x"))...), nil
	})
	cfg := testConfig()
	cfg.ConfirmationTimeout = 50 * time.Millisecond
	cfg.LateReplyWindow = 5 * time.Second

	conn := startSession(t, cfg, Deps{Upstream: upstream})
	conn.sendText("clean up")

	assert.Equal(t, OutboundInputRequired, conn.next(t).Type)
	assert.Equal(t, ChatMessage(noticeConfirmExpiry), conn.next(t))

	// 超时后才到的肯定回复不会变成新的轮次
	conn.sendJSON(t, map[string]string{"type": "text", "text": "y"})
	conn.expectNone(t, 100*time.Millisecond)

	conn.sendText("status")
	assert.Equal(t, OutboundInputRequired, conn.next(t).Type)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"clean up", "status"}, messages)
}

func TestSession_UpstreamUnavailable(t *testing.T) {
	calls := 0
	upstream := upstreamFunc(func(ctx context.Context, _ string) (EventStream, error) {
		calls++
		if calls == 1 {
			return nil, types.NewError(types.ErrUpstreamUnavailable, "connection refused")
		}
		return newStream(ctx, true, utterance("Back online.")...), nil
	})

	conn := startSession(t, testConfig(), Deps{Upstream: upstream})
	conn.sendText("first")
	assert.Equal(t, ChatMessage(noticeUpstream), conn.next(t))

	// 会话仍可用
	conn.sendText("second")
	assert.Equal(t, ChatMessage("Back online."), conn.next(t))
}

func TestSession_MidStreamFailureAbandonsTurn(t *testing.T) {
	upstream := upstreamFunc(func(ctx context.Context, _ string) (EventStream, error) {
		return newStream(ctx, true,
			item{ev: msgEvent("", true, false)},
			item{ev: msgEvent("partial thought", false, false)},
			item{ev: codeEvent("x = 1", true, false)},
			item{err: types.NewError(types.ErrUpstreamUnavailable, "stream broken").WithCause(io.ErrUnexpectedEOF)},
			item{ev: msgEvent("", false, true)},
		), nil
	})

	conn := startSession(t, testConfig(), Deps{Upstream: upstream, Synthesizer: echoSynth()})
	conn.sendText("go")

	assert.Equal(t, ChatMessage(noticeUpstream), conn.next(t))
	conn.expectNone(t, 100*time.Millisecond)
}

func TestSession_PartialEndRecovery(t *testing.T) {
	upstream := upstreamFunc(func(ctx context.Context, _ string) (EventStream, error) {
		return newStream(ctx, true,
			item{ev: msgEvent("", true, false)},
			item{ev: msgEvent("Cut off ", false, false)},
			item{ev: msgEvent("mid sentence", false, false)},
		), nil
	})

	conn := startSession(t, testConfig(), Deps{Upstream: upstream, Synthesizer: echoSynth()})
	conn.sendText("go")

	assert.Equal(t, ChatMessage("Cut off mid sentence"), conn.next(t))
	audio := conn.next(t)
	assert.Equal(t, OutboundAudio, audio.Type)
	assert.Equal(t, "Cut off mid sentence", audio.Text)
}

func TestSession_MalformedFrameSkipped(t *testing.T) {
	upstream := upstreamFunc(func(ctx context.Context, _ string) (EventStream, error) {
		return newStream(ctx, true, concat(
			[]item{{err: types.NewError(types.ErrMalformedFrame, "invalid frame payload")}},
			utterance("Still here."),
		)...), nil
	})

	conn := startSession(t, testConfig(), Deps{Upstream: upstream})
	conn.sendText("go")
	assert.Equal(t, ChatMessage("Still here."), conn.next(t))
}

func TestSession_DisconnectAbortsUpstream(t *testing.T) {
	opened := make(chan context.Context, 1)
	upstream := upstreamFunc(func(ctx context.Context, _ string) (EventStream, error) {
		opened <- ctx
		return newStream(ctx, false, item{ev: msgEvent("never flushed", true, false)}), nil
	})

	conn := newFakeConn()
	s := NewSession(conn, testConfig(), Deps{Upstream: upstream, Logger: zaptest.NewLogger(t)})
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	conn.sendText("long task")
	upstreamCtx := <-opened

	conn.disconnect()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("session did not end after disconnect")
	}
	assert.Error(t, upstreamCtx.Err(), "upstream request must be aborted")
	assert.Empty(t, conn.out, "nothing is flushed after disconnect")
}

func TestSession_ResetCancelsTurn(t *testing.T) {
	opened := make(chan context.Context, 2)
	calls := 0
	upstream := upstreamFunc(func(ctx context.Context, _ string) (EventStream, error) {
		calls++
		opened <- ctx
		if calls == 1 {
			return newStream(ctx, false, item{ev: msgEvent("half", true, false)}), nil
		}
		return newStream(ctx, true, utterance("Fresh start.")...), nil
	})

	conn := startSession(t, testConfig(), Deps{Upstream: upstream})
	conn.sendText("slow")
	first := <-opened

	conn.sendJSON(t, map[string]string{"type": "reset"})
	assert.Equal(t, ResetConfirmedMessage(), conn.next(t))

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("reset did not cancel the running turn")
	}

	conn.sendText("again")
	<-opened
	// 旧轮次的半截语句不会出现
	assert.Equal(t, ChatMessage("Fresh start."), conn.next(t))
}

func TestSession_BusyWhenQueueFull(t *testing.T) {
	opened := make(chan struct{}, 4)
	upstream := upstreamFunc(func(ctx context.Context, _ string) (EventStream, error) {
		opened <- struct{}{}
		return newStream(ctx, false), nil
	})
	cfg := testConfig()
	cfg.MaxQueuedTurns = 1

	conn := startSession(t, cfg, Deps{Upstream: upstream})
	conn.sendText("one")
	<-opened

	conn.sendText("two")
	conn.sendText("three")
	assert.Equal(t, ChatMessage(noticeBusy), conn.next(t))
}

func TestSession_RateLimited(t *testing.T) {
	upstream := upstreamFunc(func(ctx context.Context, _ string) (EventStream, error) {
		return newStream(ctx, false), nil
	})
	cfg := testConfig()
	cfg.InboundRate = 0.001
	cfg.InboundBurst = 1

	conn := startSession(t, cfg, Deps{Upstream: upstream})
	conn.sendText("one")
	conn.sendText("two")
	assert.Equal(t, ChatMessage(noticeRateLimited), conn.next(t))
}

func TestSession_MalformedInboundIgnored(t *testing.T) {
	upstream := upstreamFunc(func(ctx context.Context, msg string) (EventStream, error) {
		return newStream(ctx, true, utterance("Echo "+msg+".")...), nil
	})

	conn := startSession(t, testConfig(), Deps{Upstream: upstream})
	conn.in <- []byte("definitely not json")
	conn.sendJSON(t, map[string]string{"type": "video"})
	conn.sendText("ping")
	assert.Equal(t, ChatMessage("Echo ping."), conn.next(t))
}

func TestSession_AudioInput(t *testing.T) {
	t.Run("transcript becomes the message", func(t *testing.T) {
		var got atomic.Value
		upstream := upstreamFunc(func(ctx context.Context, msg string) (EventStream, error) {
			got.Store(msg)
			return newStream(ctx, true, utterance("Opening.")...), nil
		})
		stt := transcribeFunc(func(_ context.Context, audio []byte, mime string) (string, error) {
			assert.Equal(t, []byte("RIFF"), audio)
			assert.Equal(t, "audio/wav", mime)
			return "open chrome", nil
		})

		conn := startSession(t, testConfig(), Deps{Upstream: upstream, Transcriber: stt})
		conn.sendJSON(t, Inbound{Type: InboundAudio, Audio: []byte("RIFF"), MimeType: "audio/wav"})

		assert.Equal(t, ChatMessage("Opening."), conn.next(t))
		assert.Equal(t, "open chrome", got.Load())
	})

	t.Run("empty transcript ends silently", func(t *testing.T) {
		var calls atomic.Int32
		upstream := upstreamFunc(func(ctx context.Context, _ string) (EventStream, error) {
			calls.Add(1)
			return newStream(ctx, true), nil
		})
		stt := transcribeFunc(func(context.Context, []byte, string) (string, error) { return "", nil })

		conn := startSession(t, testConfig(), Deps{Upstream: upstream, Transcriber: stt})
		conn.sendJSON(t, Inbound{Type: InboundAudio, Audio: []byte("x")})
		conn.expectNone(t, 100*time.Millisecond)
		assert.Zero(t, calls.Load())
	})

	t.Run("transcription error notice", func(t *testing.T) {
		stt := transcribeFunc(func(context.Context, []byte, string) (string, error) {
			return "", types.NewError(types.ErrTranscriptionFailed, "bad audio")
		})
		conn := startSession(t, testConfig(), Deps{Upstream: upstreamFunc(nil), Transcriber: stt})
		conn.sendJSON(t, Inbound{Type: InboundAudio, Audio: []byte("x")})
		assert.Equal(t, ChatMessage(noticeTranscription), conn.next(t))
	})

	t.Run("no transcriber", func(t *testing.T) {
		conn := startSession(t, testConfig(), Deps{Upstream: upstreamFunc(nil)})
		conn.sendJSON(t, Inbound{Type: InboundAudio, Audio: []byte("x")})
		assert.Equal(t, ChatMessage(noticeNoVoiceInput), conn.next(t))
	})
}

func TestSession_SummaryMode(t *testing.T) {
	upstream := upstreamFunc(func(ctx context.Context, _ string) (EventStream, error) {
		return newStream(ctx, true, concat(utterance("Listing files."), code("ls"))...), nil
	})
	var transcript atomic.Value
	summarizer := summarizeFunc(func(_ context.Context, text string) (string, error) {
		transcript.Store(text)
		return "I listed your files.", nil
	})
	cfg := testConfig()
	cfg.Mode = ModeSummary

	conn := startSession(t, cfg, Deps{Upstream: upstream, Synthesizer: echoSynth(), Summarizer: summarizer})
	conn.sendText("ls")

	msgs := collect(t, conn, 4)
	assert.Equal(t, ChatMessage("Listing files."), msgs[0])
	assert.Equal(t, CodeOutputMessage("ls"), msgs[1])
	assert.Equal(t, ChatMessage("I listed your files."), msgs[2])
	assert.Equal(t, AudioMessage("I listed your files.", []byte("wav:I listed your files.")), msgs[3])
	conn.expectNone(t, 100*time.Millisecond)

	text, _ := transcript.Load().(string)
	assert.True(t, strings.Contains(text, "assistant: Listing files."))
	assert.True(t, strings.Contains(text, "code: ls"))
}

func TestSession_SummaryFailureSkipped(t *testing.T) {
	upstream := upstreamFunc(func(ctx context.Context, _ string) (EventStream, error) {
		return newStream(ctx, true, utterance("Done.")...), nil
	})
	summarizer := summarizeFunc(func(context.Context, string) (string, error) {
		return "", errors.New("model offline")
	})
	cfg := testConfig()
	cfg.Mode = ModeSummary

	conn := startSession(t, cfg, Deps{Upstream: upstream, Synthesizer: echoSynth(), Summarizer: summarizer})
	conn.sendText("x")
	assert.Equal(t, ChatMessage("Done."), conn.next(t))
	conn.expectNone(t, 100*time.Millisecond)
}
