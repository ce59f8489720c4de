// Package worker runs one blocking loop on a dedicated goroutine and turns
// its completion into a termination event.
package worker

import (
	"context"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-pantheon/fabrica-dbgp/internal/lifecycle"
	"github.com/go-pantheon/fabrica-util/errors"
	"github.com/go-pantheon/fabrica-util/xsync"
)

var (
	ErrAlreadyStarted = errors.New("worker already started")
	ErrNotStartable   = errors.New("worker terminated before start")
)

// Unit is the work a Worker drives.
type Unit interface {
	Name() string
	// Run performs the blocking loop. It returns when the loop ends normally
	// or when the operation it is blocked on fails.
	Run(ctx context.Context) error
	// Interrupt unblocks Run, typically by closing what it reads from.
	Interrupt() error
}

var _ lifecycle.Terminable = (*Worker)(nil)

type Worker struct {
	*lifecycle.Terminator

	unit    Unit
	started atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

func New(unit Unit) *Worker {
	w := &Worker{
		unit: unit,
	}
	w.Terminator = lifecycle.NewTerminator(w)

	return w
}

func (w *Worker) Name() string {
	return w.unit.Name()
}

func (w *Worker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.Wrapf(ErrAlreadyStarted, "name=%s", w.Name())
	}

	w.mu.Lock()

	if w.Terminating() {
		w.mu.Unlock()
		return errors.Wrapf(ErrNotStartable, "name=%s", w.Name())
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	go func() {
		defer cancel()

		err := xsync.Run(func() error {
			return w.unit.Run(ctx)
		})

		w.Finish(w.classify(err))
	}()

	return nil
}

// RequestTermination cancels the loop context and interrupts the unit. A
// worker that was never started terminates at once.
func (w *Worker) RequestTermination() {
	if !w.Begin() {
		return
	}

	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()

	if cancel == nil {
		w.Finish(nil)
		return
	}

	cancel()

	if err := w.unit.Interrupt(); err != nil && !IsClosedError(err) {
		log.Errorf("[worker] %s interrupt failed. %+v", w.Name(), err)
	}
}

func (w *Worker) classify(err error) error {
	if err == nil {
		log.Debugf("[worker] %s finished", w.Name())
		return nil
	}

	if w.Terminating() && IsClosedError(err) {
		log.Debugf("[worker] %s stopped on request: %v", w.Name(), err)
		return nil
	}

	log.Errorf("[worker] %s failed. %+v", w.Name(), err)

	return err
}

// IsClosedError reports whether err is the usual outcome of closing the
// transport a loop was blocked on.
func IsClosedError(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, xsync.ErrStopByTrigger)
}
