package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BaSui01/voicegate/internal/metrics"
	"github.com/BaSui01/voicegate/types"
	"go.uber.org/zap"
)

// Dispatcher is the only writer of a session's client connection. Messages are
// written in the order Send accepted them, so any producer that needs an
// ordering guarantee only has to call Send in that order.
type Dispatcher struct {
	conn         Conn
	queue        chan Outbound
	writeTimeout time.Duration
	metrics      *metrics.Collector
	logger       *zap.Logger
}

// NewDispatcher 创建出站分发器. buffer 为出站队列容量.
func NewDispatcher(conn Conn, buffer int, writeTimeout time.Duration, collector *metrics.Collector, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 64
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Dispatcher{
		conn:         conn,
		queue:        make(chan Outbound, buffer),
		writeTimeout: writeTimeout,
		metrics:      collector,
		logger:       logger.With(zap.String("component", "dispatcher")),
	}
}

// Send enqueues msg for delivery. It blocks while the queue is full and
// returns ctx.Err() if ctx ends first; a message whose ctx is already done is
// never enqueued.
func (d *Dispatcher) Send(ctx context.Context, msg Outbound) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case d.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run writes queued messages until ctx is done or a write fails. Messages still
// queued when ctx ends are dropped.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-d.queue:
			if err := d.write(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func (d *Dispatcher) write(ctx context.Context, msg Outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return types.NewError(types.ErrInternalError, "encode outbound message").WithCause(err)
	}

	wctx, cancel := context.WithTimeout(ctx, d.writeTimeout)
	defer cancel()
	if err := d.conn.Write(wctx, data); err != nil {
		d.logger.Debug("outbound write failed", zap.String("type", msg.Type), zap.Error(err))
		if types.IsCode(err, types.ErrConnectionLost) {
			return err
		}
		return types.NewError(types.ErrConnectionLost, "write to client failed").WithCause(err)
	}
	d.metrics.RecordOutbound(msg.Type)
	return nil
}
