package broker

import (
	"context"
	"time"

	"github.com/cuemby/crucible/pkg/log"
	"github.com/cuemby/crucible/pkg/types"
)

// ExecuteRequest is one message on the queue: the same payload shape
// POST /execute accepts (spec.md §7).
type ExecuteRequest struct {
	PackageName string
	Version     string
	Stage       string
	Arguments   []types.Argument
}

// Listener delivers ExecuteRequests from a named queue to handle,
// until ctx is cancelled or the connection is lost for good. A real
// broker client reconnects internally on a dropped connection (spec.md
// §7's fixed 100s wait) and only returns once ctx is done or the
// queue is permanently unreachable.
type Listener interface {
	Listen(ctx context.Context, queue string, handle func(ExecuteRequest)) error
}

// reconnectWait is the fixed backoff between connection attempts a
// real broker client retries with.
const reconnectWait = 100 * time.Second

// ChannelListener is the in-process Listener: Publish enqueues work a
// concurrently running Listen drains. It never disconnects, so it
// never exercises reconnectWait itself — that constant documents the
// contract a real client must honor at this same seam.
type ChannelListener struct {
	ch chan ExecuteRequest
}

// NewChannelListener builds a ChannelListener with a bounded backlog.
func NewChannelListener(backlog int) *ChannelListener {
	if backlog <= 0 {
		backlog = 64
	}
	return &ChannelListener{ch: make(chan ExecuteRequest, backlog)}
}

// Publish enqueues req for the next Listen call to deliver. It blocks
// if the backlog is full, providing the only admission control this
// ingress path has (spec.md §5's backpressure note).
func (l *ChannelListener) Publish(req ExecuteRequest) {
	l.ch <- req
}

func (l *ChannelListener) Listen(ctx context.Context, queue string, handle func(ExecuteRequest)) error {
	log.WithComponent("broker").Info().Str("queue", queue).Msg("listening")
	for {
		select {
		case req := <-l.ch:
			handle(req)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
