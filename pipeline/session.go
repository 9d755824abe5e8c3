package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/voicegate/internal/metrics"
	"github.com/BaSui01/voicegate/interpreter"
	"github.com/BaSui01/voicegate/speech"
	"github.com/BaSui01/voicegate/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// =============================================================================
// ⚙️ 配置与协作者
// =============================================================================

// Mode 语音输出模式.
type Mode string

const (
	// ModeStream 每句合成，低延迟.
	ModeStream Mode = "stream"
	// ModeSummary 轮次结束后只朗读摘要.
	ModeSummary Mode = "summary"
)

// Config 会话配置.
type Config struct {
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout" json:"confirmation_timeout" env:"CONFIRMATION_TIMEOUT"`
	AffirmativeToken    string        `yaml:"affirmative_token" json:"affirmative_token" env:"AFFIRMATIVE_TOKEN"`
	OutboundBuffer      int           `yaml:"outbound_buffer" json:"outbound_buffer" env:"OUTBOUND_BUFFER"`
	FragmentBuffer      int           `yaml:"fragment_buffer" json:"fragment_buffer" env:"FRAGMENT_BUFFER"`
	InboundRate         float64       `yaml:"inbound_rate" json:"inbound_rate" env:"INBOUND_RATE"`
	InboundBurst        int           `yaml:"inbound_burst" json:"inbound_burst" env:"INBOUND_BURST"`
	MaxQueuedTurns      int           `yaml:"max_queued_turns" json:"max_queued_turns" env:"MAX_QUEUED_TURNS"`
	WriteTimeout        time.Duration `yaml:"write_timeout" json:"write_timeout" env:"WRITE_TIMEOUT"`
	Mode                Mode          `yaml:"mode" json:"mode" env:"MODE"`

	// LateReplyWindow 确认超时后仍视为迟到回复而丢弃的时长，0 表示不丢弃
	LateReplyWindow time.Duration `yaml:"late_reply_window" json:"late_reply_window" env:"LATE_REPLY_WINDOW"`
}

// DefaultConfig 返回默认会话配置.
func DefaultConfig() Config {
	return Config{
		ConfirmationTimeout: 2 * time.Minute,
		LateReplyWindow:     30 * time.Second,
		AffirmativeToken:    "y",
		OutboundBuffer:      64,
		FragmentBuffer:      32,
		InboundRate:         5,
		InboundBurst:        10,
		MaxQueuedTurns:      4,
		WriteTimeout:        10 * time.Second,
		Mode:                ModeStream,
	}
}

// EventStream 一次上游调用的事件流. Next 在流结束时返回 io.EOF.
type EventStream interface {
	Next() (interpreter.Event, error)
	Close() error
}

// Upstream 上游 agent.
type Upstream interface {
	Open(ctx context.Context, message string) (EventStream, error)
}

// Synthesizer 文本到音频.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Transcriber 音频到文本.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// Summarizer 把整轮输出压缩为一段可朗读的摘要.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// InterpreterUpstream adapts *interpreter.Client to Upstream.
type InterpreterUpstream struct {
	Client *interpreter.Client
}

// Open implements Upstream.
func (u InterpreterUpstream) Open(ctx context.Context, message string) (EventStream, error) {
	stream, err := u.Client.Open(ctx, message)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// Deps 会话依赖. 所有协作者都是无会话状态的，可被多个会话共享.
type Deps struct {
	Upstream Upstream
	// Synthesizer 为 nil 时不输出音频.
	Synthesizer Synthesizer
	// Transcriber 为 nil 时拒绝语音输入.
	Transcriber Transcriber
	// Summarizer 仅在 ModeSummary 下使用.
	Summarizer Summarizer
	Metrics    *metrics.Collector
	Logger     *zap.Logger
}

// 客户端通知文案
const (
	noticeBusy          = "I'm still working on your previous requests. Please wait a moment."
	noticeRateLimited   = "You're sending messages too quickly. Please slow down."
	noticeUpstream      = "Sorry, I couldn't reach the interpreter. Please try again."
	noticeTranscription = "Sorry, I couldn't understand the audio. Please try again."
	noticeNoVoiceInput  = "Voice input is not available right now."
	noticeConfirmExpiry = "No confirmation received, so I didn't run the code. Ask again if you still want it run."
)

// turnOutcome 轮次结果，用作指标标签.
type turnOutcome string

const (
	outcomeCompleted          turnOutcome = "completed"
	outcomeDeclined           turnOutcome = "declined"
	outcomeCancelled          turnOutcome = "cancelled"
	outcomeUpstreamError      turnOutcome = "upstream_error"
	outcomeTranscriptionError turnOutcome = "transcription_error"
	outcomeEmpty              turnOutcome = "empty"
)

type turnRequest struct {
	text     string
	audio    []byte
	mimeType string
	gen      uint64
}

type fragmentJob struct {
	ctx      context.Context
	fragment speech.Fragment
}

// =============================================================================
// 🔌 Session
// =============================================================================

// Session runs one client connection. Four goroutines share it: the read loop
// (inbound frames, replies, reset), the turn loop (one turn at a time), the
// synthesis worker (one fragment at a time, in order) and the dispatcher.
type Session struct {
	id         string
	cfg        Config
	deps       Deps
	conn       Conn
	dispatcher *Dispatcher
	confirmer  *Confirmer
	limiter    *rate.Limiter
	turns      chan turnRequest
	fragments  chan fragmentJob
	tracer     trace.Tracer
	logger     *zap.Logger

	// 仅由 turn loop 访问
	assembler *Assembler
	chunker   *speech.SentenceChunker

	mu          sync.Mutex
	generation  uint64
	turnCancel  context.CancelFunc
	baseCtx     context.Context
	audioCtx    context.Context
	audioCancel context.CancelFunc
}

// NewSession 创建会话. 调用 Run 开始处理.
func NewSession(conn Conn, cfg Config, deps Deps) *Session {
	def := DefaultConfig()
	if cfg.MaxQueuedTurns <= 0 {
		cfg.MaxQueuedTurns = def.MaxQueuedTurns
	}
	if cfg.FragmentBuffer <= 0 {
		cfg.FragmentBuffer = def.FragmentBuffer
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeStream
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	id := uuid.NewString()
	logger = logger.With(zap.String("component", "session"), zap.String("session_id", id))

	limit := rate.Inf
	if cfg.InboundRate > 0 {
		limit = rate.Limit(cfg.InboundRate)
	}
	burst := cfg.InboundBurst
	if burst <= 0 {
		burst = 1
	}

	return &Session{
		id:         id,
		cfg:        cfg,
		deps:       deps,
		conn:       conn,
		dispatcher: NewDispatcher(conn, cfg.OutboundBuffer, cfg.WriteTimeout, deps.Metrics, logger),
		confirmer:  NewConfirmer(cfg.AffirmativeToken, cfg.ConfirmationTimeout).WithLateReplyWindow(cfg.LateReplyWindow),
		limiter:    rate.NewLimiter(limit, burst),
		turns:      make(chan turnRequest, cfg.MaxQueuedTurns),
		fragments:  make(chan fragmentJob, cfg.FragmentBuffer),
		tracer:     otel.Tracer("github.com/BaSui01/voicegate/pipeline"),
		logger:     logger,
		assembler:  NewAssembler(),
		chunker:    speech.NewSentenceChunker(""),
	}
}

// ID 返回会话 ID.
func (s *Session) ID() string { return s.id }

// Run processes the connection until the client disconnects, a write fails or
// ctx is cancelled. A client disconnect is not an error.
func (s *Session) Run(ctx context.Context) error {
	ctx = types.WithSessionID(ctx, s.id)
	g, gctx := errgroup.WithContext(ctx)

	s.mu.Lock()
	s.baseCtx = gctx
	s.audioCtx, s.audioCancel = context.WithCancel(gctx)
	s.mu.Unlock()

	s.logger.Info("session started")

	g.Go(func() error { return s.dispatcher.Run(gctx) })
	g.Go(func() error { return s.synthLoop(gctx) })
	g.Go(func() error { return s.turnLoop(gctx) })
	g.Go(func() error { return s.readLoop(gctx) })

	err := g.Wait()

	s.mu.Lock()
	s.audioCancel()
	s.mu.Unlock()

	if err == nil || errors.Is(err, context.Canceled) || types.IsCode(err, types.ErrConnectionLost) {
		s.logger.Info("session closed")
		return nil
	}
	s.logger.Warn("session ended with error", zap.Error(err))
	return err
}

// =============================================================================
// 📥 读循环
// =============================================================================

func (s *Session) readLoop(ctx context.Context) error {
	for {
		data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		s.handleFrame(ctx, data)
	}
}

func (s *Session) handleFrame(ctx context.Context, data []byte) {
	if s.confirmer.Awaiting() {
		if in, err := parseInbound(data); err == nil && in.Type == InboundReset {
			s.reset(ctx)
			return
		}
		s.confirmer.Resolve(confirmationReply(data))
		return
	}
	if s.confirmer.LateReply(confirmationReply(data)) {
		s.logger.Info("dropping confirmation reply received after timeout")
		return
	}

	if !s.limiter.Allow() {
		s.logger.Warn("inbound message rate limited")
		_ = s.dispatcher.Send(ctx, ChatMessage(noticeRateLimited))
		return
	}

	in, err := parseInbound(data)
	if err != nil {
		s.logger.Warn("ignoring malformed inbound message", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}

	switch in.Type {
	case InboundText:
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return
		}
		s.enqueue(ctx, turnRequest{text: text})
	case InboundAudio:
		if len(in.Audio) == 0 {
			s.logger.Warn("ignoring empty audio message")
			return
		}
		s.enqueue(ctx, turnRequest{audio: in.Audio, mimeType: in.MimeType})
	case InboundReset:
		s.reset(ctx)
	default:
		s.logger.Warn("ignoring unknown inbound message", zap.String("type", in.Type))
	}
}

func (s *Session) enqueue(ctx context.Context, req turnRequest) {
	s.mu.Lock()
	req.gen = s.generation
	s.mu.Unlock()

	select {
	case s.turns <- req:
	default:
		s.logger.Warn("turn queue full", zap.Int("max_queued_turns", s.cfg.MaxQueuedTurns))
		_ = s.dispatcher.Send(ctx, ChatMessage(noticeBusy))
	}
}

// reset cancels the running turn, drops queued turns and pending audio, and
// acknowledges to the client. The connection stays open.
func (s *Session) reset(ctx context.Context) {
	s.mu.Lock()
	s.generation++
	cancel := s.turnCancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.abortAudio()

	for drained := false; !drained; {
		select {
		case <-s.turns:
		default:
			drained = true
		}
	}

	s.logger.Info("session reset")
	_ = s.dispatcher.Send(ctx, ResetConfirmedMessage())
}

// abortAudio drops every fragment queued so far and cancels the synthesis in flight.
func (s *Session) abortAudio() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audioCancel == nil {
		return
	}
	s.audioCancel()
	s.audioCtx, s.audioCancel = context.WithCancel(s.baseCtx)
}

func (s *Session) currentAudioCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioCtx
}

// =============================================================================
// 🔄 轮次
// =============================================================================

func (s *Session) turnLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-s.turns:
			s.runTurn(ctx, req)
		}
	}
}

func (s *Session) runTurn(ctx context.Context, req turnRequest) {
	s.mu.Lock()
	if req.gen != s.generation {
		// 已被 reset 作废
		s.mu.Unlock()
		return
	}
	turnCtx, cancel := context.WithCancel(ctx)
	s.turnCancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.turnCancel = nil
		s.mu.Unlock()
		cancel()
	}()

	turnID := uuid.NewString()
	turnCtx = types.WithTurnID(turnCtx, turnID)
	turnCtx, span := s.tracer.Start(turnCtx, "session.turn",
		trace.WithAttributes(
			attribute.String("session.id", s.id),
			attribute.String("turn.id", turnID),
			attribute.Bool("turn.audio_input", req.audio != nil),
		))
	defer span.End()

	logger := s.logger.With(zap.String("turn_id", turnID))
	start := time.Now()

	outcome := s.executeTurn(turnCtx, logger, req)

	// 被取消的轮次不留下半截状态
	if outcome != outcomeCompleted {
		s.assembler.Reset()
	}
	span.SetAttributes(attribute.String("turn.outcome", string(outcome)))
	if outcome == outcomeUpstreamError || outcome == outcomeTranscriptionError {
		span.SetStatus(codes.Error, string(outcome))
	}
	s.deps.Metrics.RecordTurn(string(outcome), time.Since(start))
	logger.Info("turn finished", zap.String("outcome", string(outcome)), zap.Duration("duration", time.Since(start)))
}

func (s *Session) executeTurn(ctx context.Context, logger *zap.Logger, req turnRequest) turnOutcome {
	message := req.text
	if req.audio != nil {
		text, outcome, ok := s.transcribe(ctx, logger, req)
		if !ok {
			return outcome
		}
		message = text
	}

	stream, err := s.deps.Upstream.Open(ctx, message)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeCancelled
		}
		return s.upstreamFailed(ctx, logger, err)
	}
	defer stream.Close()

	s.assembler.Reset()
	var transcript strings.Builder

	for {
		ev, err := stream.Next()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				for _, u := range s.assembler.Finish() {
					if outcome, ok := s.deliver(ctx, logger, u, &transcript); !ok {
						return outcome
					}
				}
				if s.cfg.Mode == ModeSummary {
					s.summarize(ctx, logger, transcript.String())
				}
				return outcomeCompleted
			case types.IsCode(err, types.ErrMalformedFrame):
				s.deps.Metrics.RecordUpstreamFrame(false)
				logger.Warn("skipping malformed upstream frame", zap.Error(err))
				continue
			case ctx.Err() != nil:
				return outcomeCancelled
			default:
				return s.upstreamFailed(ctx, logger, err)
			}
		}
		s.deps.Metrics.RecordUpstreamFrame(true)

		units, violation := s.assembler.Feed(ev)
		if violation != nil {
			s.deps.Metrics.RecordProtocolViolation(violation.Reason)
			logger.Warn("recovered upstream protocol violation",
				zap.String("kind", string(violation.Kind)),
				zap.String("reason", violation.Reason))
		}
		for _, u := range units {
			if outcome, ok := s.deliver(ctx, logger, u, &transcript); !ok {
				return outcome
			}
		}
	}
}

func (s *Session) transcribe(ctx context.Context, logger *zap.Logger, req turnRequest) (string, turnOutcome, bool) {
	if s.deps.Transcriber == nil {
		_ = s.dispatcher.Send(ctx, ChatMessage(noticeNoVoiceInput))
		return "", outcomeTranscriptionError, false
	}

	start := time.Now()
	text, err := s.deps.Transcriber.Transcribe(ctx, req.audio, req.mimeType)
	provider := "stt"
	if named, ok := s.deps.Transcriber.(interface{ ProviderName() string }); ok {
		provider = named.ProviderName()
	}
	s.deps.Metrics.RecordTranscription(provider, time.Since(start), err)

	if err != nil {
		if ctx.Err() != nil {
			return "", outcomeCancelled, false
		}
		logger.Warn("transcription failed", zap.Error(err))
		_ = s.dispatcher.Send(ctx, ChatMessage(noticeTranscription))
		return "", outcomeTranscriptionError, false
	}
	if text == "" {
		return "", outcomeEmpty, false
	}
	logger.Debug("audio transcribed", zap.Int("chars", len(text)))
	return text, "", true
}

// upstreamFailed abandons the turn: pending audio is dropped and one notice is sent.
func (s *Session) upstreamFailed(ctx context.Context, logger *zap.Logger, err error) turnOutcome {
	logger.Error("interpreter request failed", zap.Error(err))
	s.abortAudio()
	_ = s.dispatcher.Send(ctx, ChatMessage(noticeUpstream))
	return outcomeUpstreamError
}

// deliver routes one completed unit. ok is false when the turn must end.
func (s *Session) deliver(ctx context.Context, logger *zap.Logger, unit Unit, transcript *strings.Builder) (turnOutcome, bool) {
	var err error
	switch u := unit.(type) {
	case *Utterance:
		appendTranscript(transcript, "assistant", u.Text)
		if err = s.dispatcher.Send(ctx, ChatMessage(u.Text)); err == nil && s.cfg.Mode != ModeSummary {
			err = s.speak(ctx, u.ID, u.Text)
		}
	case *CodeBlock:
		appendTranscript(transcript, "code", u.Text)
		err = s.dispatcher.Send(ctx, CodeOutputMessage(u.Text))
	case *ConsoleEvent:
		if u.RequiresConfirmation {
			return s.awaitConfirmation(ctx, logger, u)
		}
		appendTranscript(transcript, "output", u.Payload)
		err = s.dispatcher.Send(ctx, CodeOutputMessage(u.Payload))
	}
	if err != nil {
		return outcomeCancelled, false
	}
	return "", true
}

// awaitConfirmation suspends the turn: no upstream frame is read until the
// client answers, the confirmation times out, or the session ends.
func (s *Session) awaitConfirmation(ctx context.Context, logger *zap.Logger, ce *ConsoleEvent) (turnOutcome, bool) {
	s.confirmer.Begin()
	if err := s.dispatcher.Send(ctx, InputRequiredMessage(ce.Prompt)); err != nil {
		s.confirmer.Resolve("")
		return outcomeCancelled, false
	}

	outcome := s.confirmer.Await(ctx)
	s.deps.Metrics.RecordConfirmation(string(outcome))
	logger.Info("confirmation answered", zap.String("outcome", string(outcome)))

	switch outcome {
	case ConfirmationApproved:
		return "", true
	case ConfirmationTimeout:
		_ = s.dispatcher.Send(ctx, ChatMessage(noticeConfirmExpiry))
		return outcomeDeclined, false
	case ConfirmationDeclined:
		return outcomeDeclined, false
	default:
		return outcomeCancelled, false
	}
}

// speak splits a completed utterance and queues its fragments for synthesis.
func (s *Session) speak(ctx context.Context, utteranceID, text string) error {
	if s.deps.Synthesizer == nil {
		return nil
	}
	s.chunker.Reset(utteranceID)
	fragments := append(s.chunker.Add(text), s.chunker.Flush()...)

	audioCtx := s.currentAudioCtx()
	for _, f := range fragments {
		select {
		case s.fragments <- fragmentJob{ctx: audioCtx, fragment: f}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Session) summarize(ctx context.Context, logger *zap.Logger, transcript string) {
	if s.deps.Summarizer == nil || strings.TrimSpace(transcript) == "" {
		return
	}
	summary, err := s.deps.Summarizer.Summarize(ctx, transcript)
	if err != nil {
		logger.Warn("turn summary failed", zap.Error(err))
		return
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return
	}
	if err := s.dispatcher.Send(ctx, ChatMessage(summary)); err != nil {
		return
	}
	_ = s.speak(ctx, uuid.NewString(), summary)
}

func appendTranscript(b *strings.Builder, label, text string) {
	if text == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(text)
}

// =============================================================================
// 🔊 合成 worker
// =============================================================================

// synthLoop synthesizes queued fragments strictly one at a time, so audio
// leaves the session in fragment order regardless of per-call latency.
func (s *Session) synthLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-s.fragments:
			s.synthesizeOne(job)
		}
	}
}

func (s *Session) synthesizeOne(job fragmentJob) {
	if job.ctx.Err() != nil {
		return
	}
	audio, err := s.deps.Synthesizer.Synthesize(job.ctx, job.fragment.Text)
	if err != nil {
		if job.ctx.Err() != nil {
			return
		}
		s.logger.Warn("fragment synthesis failed, skipping audio",
			zap.String("utterance_id", job.fragment.UtteranceID),
			zap.Int("seq", job.fragment.Seq),
			zap.String("code", string(types.GetErrorCode(err))),
			zap.Error(err))
		return
	}
	_ = s.dispatcher.Send(job.ctx, AudioMessage(job.fragment.Text, audio))
}
