// Package communicator correlates DBGp commands with their responses.
//
// Synchronous commands are serialized through a single slot: a second
// synchronous command is not written before the first one is resolved.
// Asynchronous commands bypass the slot and are matched by transaction id
// only.
package communicator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-pantheon/fabrica-dbgp/codec"
	"github.com/go-pantheon/fabrica-dbgp/internal/metrics"
	"github.com/go-pantheon/fabrica-dbgp/internal/util"
	"github.com/go-pantheon/fabrica-dbgp/protocol"
	"github.com/go-pantheon/fabrica-util/errors"
	"golang.org/x/sync/semaphore"
)

const DefaultTimeout = 5 * time.Second

type Option func(c *Communicator)

// WithTimeout sets how long a command waits for its response. Zero waits
// until the context ends.
func WithTimeout(d time.Duration) Option {
	return func(c *Communicator) {
		c.timeout.Store(int64(d))
	}
}

// WithAsync makes every command bypass the synchronous slot.
func WithAsync(async bool) Option {
	return func(c *Communicator) {
		c.async.Store(async)
	}
}

func WithWriteFilter(m middleware.Middleware) Option {
	return func(c *Communicator) {
		if c.writeFilter == nil {
			c.writeFilter = m
			return
		}

		c.writeFilter = middleware.Chain(c.writeFilter, m)
	}
}

// WithFailureHandler is called once, with the failure, when writing to the
// connection fails.
func WithFailureHandler(f func(err error)) Option {
	return func(c *Communicator) {
		c.onFailure = f
	}
}

// WithWriteDeadline bounds every write on d by the command timeout and the
// caller's context. Without it a write blocks until the codec returns.
func WithWriteDeadline(d util.WriteDeadline) Option {
	return func(c *Communicator) {
		c.deadline = d
	}
}

// WithObserver receives every command line after it has been written.
func WithObserver(f func(cmd *protocol.Command)) Option {
	return func(c *Communicator) {
		c.observer = f
	}
}

type Communicator struct {
	codec    codec.Codec
	deadline util.WriteDeadline
	writeMu  sync.Mutex

	slot    *semaphore.Weighted
	pending *pendingMap
	nextID  atomic.Int64

	timeout atomic.Int64
	async   atomic.Bool

	writeFilter middleware.Middleware
	onFailure   func(err error)
	observer    func(cmd *protocol.Command)
	failOnce    sync.Once

	closeOnce sync.Once
	closed    chan struct{}
	causeMu   sync.Mutex
	cause     error
}

func New(c codec.Codec, opts ...Option) *Communicator {
	comm := &Communicator{
		codec:   c,
		slot:    semaphore.NewWeighted(1),
		pending: newPendingMap(),
		closed:  make(chan struct{}),
	}
	comm.timeout.Store(int64(DefaultTimeout))

	for _, o := range opts {
		o(comm)
	}

	return comm
}

// NextTransactionID returns a strictly increasing id, never reused.
func (c *Communicator) NextTransactionID() int {
	return int(c.nextID.Add(1))
}

func (c *Communicator) Timeout() time.Duration {
	return time.Duration(c.timeout.Load())
}

func (c *Communicator) SetTimeout(d time.Duration) {
	c.timeout.Store(int64(d))
}

func (c *Communicator) Async() bool {
	return c.async.Load()
}

func (c *Communicator) SetAsync(async bool) {
	c.async.Store(async)
}

// Pending is the number of commands awaiting a response.
func (c *Communicator) Pending() int {
	return c.pending.len()
}

// Send writes cmd without waiting for a response.
func (c *Communicator) Send(ctx context.Context, cmd *protocol.Command) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	err := c.write(ctx, c.stamp(cmd))
	metrics.ObserveCommand(cmd.Name, resultOf(err), time.Now())

	return err
}

// Communicate writes cmd and waits for the response carrying its
// transaction id. A response that embeds an engine error is returned as a
// *protocol.ProtocolError.
func (c *Communicator) Communicate(ctx context.Context, cmd *protocol.Command) (*protocol.Response, error) {
	start := time.Now()

	resp, err := c.communicate(ctx, cmd)
	metrics.ObserveCommand(cmd.Name, resultOf(err), start)

	return resp, err
}

func (c *Communicator) communicate(ctx context.Context, cmd *protocol.Command) (*protocol.Response, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	if !cmd.Async && !c.Async() {
		if err := c.slot.Acquire(ctx, 1); err != nil {
			return nil, errors.Wrapf(protocol.ErrCancelled, "command=%s waiting for sync slot: %v", cmd.Name, err)
		}

		defer c.slot.Release(1)
	}

	cmd = c.stamp(cmd)

	p, err := c.pending.add(cmd.TransactionID, cmd.Name)
	if err != nil {
		if errors.Is(err, protocol.ErrTerminated) {
			return nil, c.terminatedErr()
		}

		return nil, err
	}

	if err := c.write(ctx, cmd); err != nil {
		c.pending.take(p.id)
		return nil, err
	}

	return c.await(ctx, p)
}

func (c *Communicator) await(ctx context.Context, p *pendingRequest) (*protocol.Response, error) {
	var expired <-chan time.Time

	if d := c.Timeout(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()

		expired = timer.C
	}

	select {
	case resp := <-p.ch:
		return unwrap(resp)
	case <-expired:
		if resp, ok := c.abandon(p); ok {
			return unwrap(resp)
		}

		return nil, errors.Wrapf(protocol.ErrTimeout, "command=%s txid=%d timeout=%s", p.command, p.id, c.Timeout())
	case <-ctx.Done():
		if resp, ok := c.abandon(p); ok {
			return unwrap(resp)
		}

		return nil, errors.Wrapf(protocol.ErrCancelled, "command=%s txid=%d: %v", p.command, p.id, ctx.Err())
	case <-c.closed:
		return nil, c.terminatedErr()
	}
}

// abandon releases the transaction id. If Deliver took it first the
// response is on its way and is returned instead.
func (c *Communicator) abandon(p *pendingRequest) (*protocol.Response, bool) {
	if c.pending.take(p.id) != nil {
		return nil, false
	}

	select {
	case resp := <-p.ch:
		return resp, true
	case <-c.closed:
		select {
		case resp := <-p.ch:
			return resp, true
		default:
			return nil, false
		}
	}
}

func unwrap(resp *protocol.Response) (*protocol.Response, error) {
	if err := resp.Err(); err != nil {
		return nil, err
	}

	return resp, nil
}

// Deliver resolves the command waiting for resp. Responses with an unknown
// or already resolved transaction id are discarded.
func (c *Communicator) Deliver(resp *protocol.Response) bool {
	p := c.pending.take(resp.TransactionID)
	if p == nil {
		metrics.PacketsDiscarded.Inc()
		log.Debugf("[communicator] discard response command=%s txid=%d", resp.Command, resp.TransactionID)

		return false
	}

	p.ch <- resp

	return true
}

// Close fails every pending and future command with protocol.ErrTerminated
// joined with cause.
func (c *Communicator) Close(cause error) {
	c.closeOnce.Do(func() {
		c.causeMu.Lock()
		c.cause = cause
		c.causeMu.Unlock()

		if n := c.pending.close(); n > 0 {
			log.Debugf("[communicator] released %d pending commands", n)
		}

		close(c.closed)
	})
}

func (c *Communicator) Closed() <-chan struct{} {
	return c.closed
}

func (c *Communicator) checkOpen() error {
	select {
	case <-c.closed:
		return c.terminatedErr()
	default:
		return nil
	}
}

func (c *Communicator) terminatedErr() error {
	c.causeMu.Lock()
	defer c.causeMu.Unlock()

	if c.cause == nil {
		return protocol.ErrTerminated
	}

	return errors.Join(protocol.ErrTerminated, c.cause)
}

// stamp returns a copy of cmd carrying a fresh transaction id. The caller's
// command is left as is, so retrying it never reuses an id.
func (c *Communicator) stamp(cmd *protocol.Command) *protocol.Command {
	wire := *cmd
	wire.TransactionID = c.NextTransactionID()

	return &wire
}

func (c *Communicator) write(ctx context.Context, cmd *protocol.Command) error {
	next := func(ctx context.Context, req any) (any, error) {
		cmd := req.(*protocol.Command)

		c.writeMu.Lock()
		defer c.writeMu.Unlock()

		if c.deadline != nil {
			release := util.BoundWrite(ctx, c.deadline, c.Timeout(), fmt.Sprintf("command=%s txid=%d", cmd.Name, cmd.TransactionID))
			defer release()
		}

		if err := c.codec.Encode(cmd.Bytes()); err != nil {
			return nil, writeError(ctx, cmd, err)
		}

		return nil, nil
	}

	if c.writeFilter != nil {
		next = c.writeFilter(next)
	}

	if _, err := next(ctx, cmd); err != nil {
		if errors.Is(err, protocol.ErrTransport) {
			c.fail(err)
		}

		return err
	}

	if c.observer != nil {
		c.observer(cmd)
	}

	return nil
}

// writeError classifies a failed write. The frame may have been cut short,
// so every failure also counts as a transport failure.
func writeError(ctx context.Context, cmd *protocol.Command, err error) error {
	err = errors.Wrapf(err, "write %s txid=%d failed", cmd.Name, cmd.TransactionID)

	switch {
	case ctx.Err() != nil:
		return errors.Join(protocol.ErrCancelled, errors.Join(protocol.ErrTransport, err))
	case errors.Is(err, os.ErrDeadlineExceeded):
		if dl, ok := ctx.Deadline(); ok && !time.Now().Before(dl) {
			return errors.Join(protocol.ErrCancelled, errors.Join(protocol.ErrTransport, err))
		}

		return errors.Join(protocol.ErrTimeout, errors.Join(protocol.ErrTransport, err))
	default:
		return errors.Join(protocol.ErrTransport, err)
	}
}

func (c *Communicator) fail(err error) {
	c.failOnce.Do(func() {
		if c.onFailure != nil {
			c.onFailure(err)
		}
	})
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, protocol.ErrTimeout):
		return metrics.ResultTimeout
	case errors.Is(err, protocol.ErrCancelled):
		return metrics.ResultCancelled
	case errors.Is(err, protocol.ErrTerminated):
		return metrics.ResultClosed
	case errors.Is(err, protocol.ErrTransport):
		return metrics.ResultTransport
	default:
		return metrics.ResultError
	}
}
