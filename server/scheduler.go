package server

import (
	"context"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-pantheon/fabrica-util/xsync"
	"golang.org/x/sync/semaphore"
)

// Scheduler runs work handed off by the accept loop. Submit must not block.
type Scheduler interface {
	Submit(name string, task func())
}

// GoScheduler runs every task on its own goroutine.
type GoScheduler struct{}

func (GoScheduler) Submit(name string, task func()) {
	xsync.Go(name, func() error {
		task()
		return nil
	})
}

// LimitScheduler runs at most n tasks at a time. Extra tasks wait on their
// own goroutine, so Submit still returns at once.
type LimitScheduler struct {
	sem *semaphore.Weighted
}

func NewLimitScheduler(n int64) *LimitScheduler {
	if n <= 0 {
		n = 1
	}

	return &LimitScheduler{sem: semaphore.NewWeighted(n)}
}

func (s *LimitScheduler) Submit(name string, task func()) {
	xsync.Go(name, func() error {
		if err := s.sem.Acquire(context.Background(), 1); err != nil {
			log.Errorf("[server.LimitScheduler] %s acquire failed. %+v", name, err)
			return err
		}

		defer s.sem.Release(1)

		task()

		return nil
	})
}
