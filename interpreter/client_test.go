package interpreter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/voicegate/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newStreamServer(t *testing.T, handler func(w http.ResponseWriter, msg string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Message string `json:"message"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "text/event-stream")
		handler(w, body.Message)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func drain(t *testing.T, s *Stream) ([]Event, []error) {
	t.Helper()
	var events []Event
	var errs []error
	for {
		ev, err := s.Next()
		if err == io.EOF {
			return events, errs
		}
		if err != nil {
			errs = append(errs, err)
			if !types.IsCode(err, types.ErrMalformedFrame) {
				return events, errs
			}
			continue
		}
		events = append(events, ev)
	}
}

func TestClient_OpenAndStream(t *testing.T) {
	got := make(chan string, 1)
	srv := newStreamServer(t, func(w http.ResponseWriter, msg string) {
		got <- msg
		fmt.Fprint(w, ": keep-alive\n")
		fmt.Fprint(w, `data: {"role":"assistant","type":"message","start":true}`+"\n")
		fmt.Fprint(w, `data: {"role":"assistant","type":"message","content":"Hi."}`+"\n")
		fmt.Fprint(w, "data: {broken\n")
		fmt.Fprint(w, `data: {"role":"assistant","type":"message","end":true}`+"\n")
	})

	c := NewClient(ClientConfig{URL: srv.URL}, srv.Client(), zaptest.NewLogger(t))
	s, err := c.Open(context.Background(), "open chrome")
	require.NoError(t, err)
	defer s.Close()

	events, errs := drain(t, s)
	assert.Equal(t, "open chrome", <-got)
	require.Len(t, events, 3)
	assert.True(t, events[0].Start)
	assert.Equal(t, "Hi.", events[1].Content)
	assert.True(t, events[2].End)
	require.Len(t, errs, 1)
	assert.True(t, types.IsCode(errs[0], types.ErrMalformedFrame))
	assert.Equal(t, 3, s.Frames())
}

func TestClient_DoneMarkerEndsStream(t *testing.T) {
	srv := newStreamServer(t, func(w http.ResponseWriter, _ string) {
		fmt.Fprint(w, `data: {"role":"computer","type":"console","content":"x"}`+"\n")
		fmt.Fprint(w, "data: [DONE]\n")
		fmt.Fprint(w, `data: {"role":"computer","type":"console","content":"after"}`+"\n")
	})
	c := NewClient(ClientConfig{URL: srv.URL}, srv.Client(), nil)
	s, err := c.Open(context.Background(), "x")
	require.NoError(t, err)
	defer s.Close()

	events, errs := drain(t, s)
	assert.Empty(t, errs)
	require.Len(t, events, 1)
	assert.Equal(t, "x", events[0].Content)
}

func TestClient_LastLineWithoutNewline(t *testing.T) {
	srv := newStreamServer(t, func(w http.ResponseWriter, _ string) {
		fmt.Fprint(w, `data: {"role":"assistant","type":"message","content":"tail"}`)
	})
	c := NewClient(ClientConfig{URL: srv.URL}, srv.Client(), nil)
	s, err := c.Open(context.Background(), "x")
	require.NoError(t, err)
	defer s.Close()

	events, errs := drain(t, s)
	assert.Empty(t, errs)
	require.Len(t, events, 1)
	assert.Equal(t, "tail", events[0].Content)
}

func TestClient_OversizedFrame(t *testing.T) {
	srv := newStreamServer(t, func(w http.ResponseWriter, _ string) {
		fmt.Fprint(w, "data: "+strings.Repeat("x", 64)+"\n")
		fmt.Fprint(w, `data: {"role":"assistant","type":"message","content":"ok"}`+"\n")
	})
	c := NewClient(ClientConfig{URL: srv.URL, MaxFrameBytes: 32}, srv.Client(), nil)
	s, err := c.Open(context.Background(), "x")
	require.NoError(t, err)
	defer s.Close()

	events, errs := drain(t, s)
	require.Len(t, errs, 1)
	assert.True(t, types.IsCode(errs[0], types.ErrMalformedFrame))
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].Content)
}

func TestClient_UpstreamUnavailable(t *testing.T) {
	t.Run("non 2xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Message is required", http.StatusBadRequest)
		}))
		defer srv.Close()

		c := NewClient(ClientConfig{URL: srv.URL}, srv.Client(), nil)
		_, err := c.Open(context.Background(), "")
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.ErrUpstreamUnavailable))
		var te *types.Error
		require.ErrorAs(t, err, &te)
		assert.Equal(t, http.StatusBadRequest, te.HTTPStatus)
		assert.Contains(t, te.Message, "Message is required")
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		c := NewClient(ClientConfig{URL: url}, nil, nil)
		_, err := c.Open(context.Background(), "hello")
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.ErrUpstreamUnavailable))
	})
}

func TestClient_CancelAbortsStream(t *testing.T) {
	released := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `data: {"role":"assistant","type":"message","start":true}`+"\n")
		w.(http.Flusher).Flush()
		// 阻塞直到客户端断开
		<-r.Context().Done()
		close(released)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(ClientConfig{URL: srv.URL}, srv.Client(), nil)
	s, err := c.Open(ctx, "x")
	require.NoError(t, err)
	defer s.Close()

	ev, err := s.Next()
	require.NoError(t, err)
	assert.True(t, ev.Start)

	cancel()
	_, err = s.Next()
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream request was not aborted")
	}
}
