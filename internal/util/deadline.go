package util

import (
	"context"
	"io"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

type ReadDeadline interface {
	SetReadDeadline(t time.Time) error
}

// InterruptReadOnDone unblocks a read pending on d once ctx is done. The
// returned stop reports false if the interruption has already fired.
func InterruptReadOnDone(ctx context.Context, d ReadDeadline, tag string) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		log.Debugf("[util.InterruptReadOnDone] %s interrupt read", tag)

		if err := d.SetReadDeadline(time.Now()); err != nil {
			log.Errorf("[util.InterruptReadOnDone] %s set read deadline failed. %+v", tag, err)
		}
	})
}

type WriteDeadline interface {
	SetWriteDeadline(t time.Time) error
}

// BoundWrite limits a write pending on d to timeout, when positive, and to
// the lifetime of ctx. The returned release clears the deadline once the
// write has returned; it waits for an interruption already in progress.
func BoundWrite(ctx context.Context, d WriteDeadline, timeout time.Duration, tag string) (release func()) {
	deadline, ok := ctx.Deadline()
	if timeout > 0 && (!ok || time.Now().Add(timeout).Before(deadline)) {
		deadline, ok = time.Now().Add(timeout), true
	}

	if ok {
		if err := d.SetWriteDeadline(deadline); err != nil {
			log.Errorf("[util.BoundWrite] %s set write deadline failed. %+v", tag, err)
		}
	}

	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)

		log.Debugf("[util.BoundWrite] %s interrupt write", tag)

		if err := d.SetWriteDeadline(time.Now()); err != nil {
			log.Errorf("[util.BoundWrite] %s set write deadline failed. %+v", tag, err)
		}
	})

	return func() {
		if !stop() {
			<-fired
		}

		if err := d.SetWriteDeadline(time.Time{}); err != nil {
			log.Debugf("[util.BoundWrite] %s clear write deadline failed. %+v", tag, err)
		}
	}
}

// CloseOnDone closes closer once ctx is done unless stop is called first.
func CloseOnDone(ctx context.Context, closer io.Closer, tag string) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		log.Debugf("[util.CloseOnDone] %s start to close", tag)

		if err := closer.Close(); err != nil {
			log.Errorf("[util.CloseOnDone] %s close failed. %+v", tag, err)
		}
	})
}
