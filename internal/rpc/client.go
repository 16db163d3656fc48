package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/nodectl/internal/broadcast"
	"github.com/danmuck/nodectl/internal/observability"
)

// Call is one in-flight request. Done closes once the call is settled and
// every earlier call of the same client has been released.
type Call struct {
	Request  Message
	Response *Message
	Err      error

	id      uint64
	client  *Client
	started time.Time
	timer   *time.Timer
	settled bool
	done    chan struct{}
}

func (c *Call) Done() <-chan struct{} {
	return c.done
}

func (c *Call) finish(resp *Message, err error) {
	if c.timer != nil {
		c.timer.Stop()
	}
	outcome := "ok"
	switch {
	case errors.Is(err, ErrRequestTimeout):
		outcome = "timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "abandoned"
	case err != nil:
		outcome = "cancelled"
	case resp != nil && resp.Error != nil:
		outcome = "error"
	}
	observability.RecordRPCRequest(outcome, time.Since(c.started))
	c.client.settle(c, resp, err)
}

// Client is one registered consumer of the mux.
type Client struct {
	id  string
	mux *Mux
	sub *broadcast.Subscription[Message]

	mu     sync.Mutex
	queue  []*Call
	closed bool
}

func (c *Client) ID() string { return c.id }

// Notifications delivers id-less frames from the node. The channel closes
// when the client or the mux closes.
func (c *Client) Notifications() <-chan Message {
	return c.sub.C()
}

// Go issues req. A zero deadline uses the mux's RequestTimeout.
func (c *Client) Go(req Message, deadline time.Time) (*Call, error) {
	return c.mux.send(c, req, deadline)
}

// Request issues req and waits for its response. The call's deadline is
// taken from ctx when it has one. A response carrying a JSON-RPC error is
// returned as the message, not as an error.
func (c *Client) Request(ctx context.Context, req Message) (*Message, error) {
	deadline, _ := ctx.Deadline()
	call, err := c.Go(req, deadline)
	if err != nil {
		return nil, err
	}
	select {
	case <-call.Done():
		return call.Response, call.Err
	case <-ctx.Done():
		if taken := c.mux.take(call.id); taken != nil {
			taken.finish(nil, ctx.Err())
		}
		return nil, ctx.Err()
	}
}

// RequestBatch sends each request as an independent call and gathers the
// responses in input order. Failed calls become error responses.
func (c *Client) RequestBatch(ctx context.Context, reqs []Message) ([]Message, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidRequest)
	}
	deadline, _ := ctx.Deadline()
	calls := make([]*Call, len(reqs))
	out := make([]Message, len(reqs))
	for i, req := range reqs {
		call, err := c.Go(req, deadline)
		if err != nil {
			out[i] = ErrorResponse(req.ID, CodeInvalidRequest, err)
			continue
		}
		calls[i] = call
	}
	for i, call := range calls {
		if call == nil {
			continue
		}
		select {
		case <-call.Done():
		case <-ctx.Done():
			if taken := c.mux.take(call.id); taken != nil {
				taken.finish(nil, ctx.Err())
			}
			<-call.Done()
		}
		switch {
		case call.Err != nil:
			out[i] = ErrorResponse(call.Request.ID, ErrorCode(call.Err), call.Err)
		case call.Response != nil:
			out[i] = *call.Response
		}
	}
	return out, nil
}

// ErrorCode maps a call failure onto a JSON-RPC error code.
func ErrorCode(err error) int {
	switch {
	case errors.Is(err, ErrRequestTimeout):
		return CodeTimeout
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return CodeCancelled
	default:
		return CodeInternal
	}
}

// Close unregisters the client and cancels its pending calls.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.mux.unregister(c)
}

func (c *Client) enqueue(call *Call) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: client %s closed", ErrCancelled, c.id)
	}
	c.queue = append(c.queue, call)
	return nil
}

// settle records the outcome of call and releases every settled call at the
// head of the queue, preserving issue order.
func (c *Client) settle(call *Call, resp *Message, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call.Response = resp
	call.Err = err
	call.settled = true
	for len(c.queue) > 0 && c.queue[0].settled {
		head := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		close(head.done)
	}
}
