package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/voicegate/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestManager_ServeAndShutdown(t *testing.T) {
	ns := nextTestNamespace()
	upstream := upstreamFunc(func(ctx context.Context, _ string) (EventStream, error) {
		return newStream(ctx, false), nil
	})
	m := NewManager(testConfig(), Deps{
		Upstream: upstream,
		Metrics:  metrics.NewCollector(ns, nil),
		Logger:   zaptest.NewLogger(t),
	})

	conns := []*fakeConn{newFakeConn(), newFakeConn()}
	done := make(chan error, len(conns))
	for _, c := range conns {
		c := c
		go func() { done <- m.Serve(context.Background(), c) }()
	}
	require.Eventually(t, func() bool { return m.Count() == 2 }, time.Second, 5*time.Millisecond)

	// 一个会话处于运行中的轮次
	conns[0].sendText("busy")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	for range conns {
		assert.NoError(t, <-done)
	}
	assert.Equal(t, 0, m.Count())
	for _, c := range conns {
		assert.True(t, c.closed.Load())
	}
	assert.Equal(t, float64(2), counterValueNoLabel(t, ns+"_sessions_total"))

	late := newFakeConn()
	assert.ErrorIs(t, m.Serve(context.Background(), late), ErrManagerClosed)
	assert.True(t, late.closed.Load())
}

func TestManager_SessionEndsOnDisconnect(t *testing.T) {
	m := NewManager(testConfig(), Deps{Upstream: upstreamFunc(nil), Logger: zaptest.NewLogger(t)})

	c := newFakeConn()
	done := make(chan error, 1)
	go func() { done <- m.Serve(context.Background(), c) }()
	require.Eventually(t, func() bool { return m.Count() == 1 }, time.Second, 5*time.Millisecond)

	c.disconnect()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not return")
	}
	assert.Equal(t, 0, m.Count())
}
