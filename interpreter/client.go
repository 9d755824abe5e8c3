package interpreter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/voicegate/internal/tlsutil"
	"github.com/BaSui01/voicegate/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/BaSui01/voicegate/interpreter"

// ClientConfig 上游 interpreter 客户端配置.
type ClientConfig struct {
	URL           string
	HeaderTimeout time.Duration
	MaxFrameBytes int
}

// DefaultClientConfig returns the defaults for a local interpreter.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		URL:           "http://localhost:10001/interpreter",
		HeaderTimeout: 30 * time.Second,
		MaxFrameBytes: 1 << 20,
	}
}

// Client opens event streams against the interpreter endpoint.
type Client struct {
	cfg     ClientConfig
	client  *http.Client
	decoder Decoder
	tracer  trace.Tracer
	logger  *zap.Logger
}

// NewClient 创建 interpreter 客户端. httpClient 为 nil 时使用加固的流式客户端.
func NewClient(cfg ClientConfig, httpClient *http.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultClientConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.HeaderTimeout <= 0 {
		cfg.HeaderTimeout = def.HeaderTimeout
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = def.MaxFrameBytes
	}
	if httpClient == nil {
		httpClient = tlsutil.StreamingHTTPClient(cfg.HeaderTimeout)
	}
	return &Client{
		cfg:    cfg,
		client: httpClient,
		tracer: otel.Tracer(tracerName),
		logger: logger.With(zap.String("component", "interpreter_client")),
	}
}

type requestBody struct {
	Message string `json:"message"`
}

// Open posts the user message and returns a pull-based event stream.
// The request is bound to ctx: cancelling it aborts the upstream connection.
// Transport failures and non-2xx responses yield UPSTREAM_UNAVAILABLE.
func (c *Client) Open(ctx context.Context, message string) (*Stream, error) {
	body, err := json.Marshal(requestBody{Message: message})
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "encode interpreter request").WithCause(err)
	}

	ctx, span := c.tracer.Start(ctx, "interpreter.stream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("interpreter.url", c.cfg.URL)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		span.End()
		return nil, types.NewError(types.ErrInvalidRequest, "build interpreter request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		span.End()
		return nil, types.NewError(types.ErrUpstreamUnavailable, "interpreter unreachable").
			WithCause(err).WithHTTPStatus(http.StatusBadGateway).WithProvider("interpreter")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		span.SetStatus(codes.Error, resp.Status)
		span.End()
		return nil, types.NewError(types.ErrUpstreamUnavailable,
			fmt.Sprintf("interpreter returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))).
			WithHTTPStatus(resp.StatusCode).WithProvider("interpreter")
	}

	return &Stream{
		ctx:      ctx,
		body:     resp.Body,
		reader:   bufio.NewReader(resp.Body),
		decoder:  c.decoder,
		maxFrame: c.cfg.MaxFrameBytes,
		span:     span,
		logger:   c.logger,
	}, nil
}

// Stream 是一次 interpreter 调用的事件流，非并发安全，由单个 goroutine 拉取.
type Stream struct {
	ctx      context.Context
	body     io.ReadCloser
	reader   *bufio.Reader
	decoder  Decoder
	maxFrame int
	span     trace.Span
	logger   *zap.Logger

	frames int
	done   bool
}

// Next blocks until the next event is available.
//
// It returns io.EOF at end of stream, a MALFORMED_FRAME error for one undecodable
// frame (the stream remains usable), and UPSTREAM_UNAVAILABLE when the connection
// breaks mid-stream. When ctx is cancelled the context error is returned.
func (s *Stream) Next() (Event, error) {
	for {
		if s.done {
			return Event{}, io.EOF
		}
		line, err := s.readLine()
		if len(line) > 0 {
			ev, derr := s.decoder.Decode(line)
			switch {
			case derr == nil:
				s.frames++
				return ev, nil
			case errors.Is(derr, ErrSkipFrame):
			case errors.Is(derr, ErrStreamDone):
				s.done = true
				return Event{}, io.EOF
			default:
				return Event{}, derr
			}
		}
		if err != nil {
			return Event{}, s.readError(err)
		}
	}
}

func (s *Stream) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := s.reader.ReadLine()
		buf = append(buf, chunk...)
		if len(buf) > s.maxFrame {
			// 丢弃超长帧剩余部分
			for isPrefix && err == nil {
				_, isPrefix, err = s.reader.ReadLine()
			}
			if err != nil {
				return nil, err
			}
			return nil, types.NewError(types.ErrMalformedFrame,
				fmt.Sprintf("frame exceeds %d bytes", s.maxFrame))
		}
		if !isPrefix || err != nil {
			return buf, err
		}
	}
}

func (s *Stream) readError(err error) error {
	if types.IsCode(err, types.ErrMalformedFrame) {
		return err
	}
	s.done = true
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	s.span.RecordError(err)
	return types.NewError(types.ErrUpstreamUnavailable, "interpreter stream broken").
		WithCause(err).WithProvider("interpreter")
}

// Frames returns the number of events decoded so far.
func (s *Stream) Frames() int { return s.frames }

// Close releases the upstream connection. Safe to call more than once.
func (s *Stream) Close() error {
	if s.span != nil {
		s.span.SetAttributes(attribute.Int("interpreter.frames", s.frames))
		s.span.End()
		s.span = nil
	}
	s.done = true
	return s.body.Close()
}
