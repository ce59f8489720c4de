package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-pantheon/fabrica-dbgp/internal/worker"
	"github.com/go-pantheon/fabrica-dbgp/protocol"
	"github.com/go-pantheon/fabrica-util/xsync"
)

type HandlerID uint64

// queue hands packets from the reader to handlers on its own goroutine.
// push never blocks: a full queue drops the packet.
type queue[T protocol.Packet] struct {
	name string
	ch   chan T

	closeOnce sync.Once
	closed    chan struct{}

	mu       sync.RWMutex
	nextID   HandlerID
	handlers map[HandlerID]func(T)

	dropped atomic.Int64
}

func newQueue[T protocol.Packet](name string, size int) *queue[T] {
	if size <= 0 {
		size = 1
	}

	return &queue[T]{
		name:     name,
		ch:       make(chan T, size),
		closed:   make(chan struct{}),
		handlers: make(map[HandlerID]func(T), 2),
	}
}

func (q *queue[T]) Name() string {
	return q.name
}

func (q *queue[T]) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.closed:
			return nil
		case p := <-q.ch:
			q.deliver(p)
		}
	}
}

func (q *queue[T]) Interrupt() error {
	q.closeOnce.Do(func() {
		close(q.closed)
	})

	return nil
}

func (q *queue[T]) push(p T) bool {
	select {
	case <-q.closed:
		return false
	default:
	}

	select {
	case q.ch <- p:
		return true
	default:
		q.dropped.Add(1)
		log.Warnf("[%s] queue full, drop %s packet", q.name, p.Kind())

		return false
	}
}

func (q *queue[T]) deliver(p T) {
	q.mu.RLock()
	handlers := make([]func(T), 0, len(q.handlers))
	for _, h := range q.handlers {
		handlers = append(handlers, h)
	}
	q.mu.RUnlock()

	for _, h := range handlers {
		if err := xsync.Run(func() error {
			h(p)
			return nil
		}); err != nil {
			log.Errorf("[%s] handler failed. %+v", q.name, err)
		}
	}
}

func (q *queue[T]) addHandler(h func(T)) HandlerID {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextID++
	q.handlers[q.nextID] = h

	return q.nextID
}

func (q *queue[T]) removeHandler(id HandlerID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.handlers, id)
}

// NotificationManager delivers the engine's notify packets to the
// registered handlers, in arrival order.
type NotificationManager struct {
	*worker.Worker

	q *queue[*protocol.Notify]
}

func newNotificationManager(size int) *NotificationManager {
	q := newQueue[*protocol.Notify]("notification-manager", size)

	return &NotificationManager{
		Worker: worker.New(q),
		q:      q,
	}
}

func (m *NotificationManager) AddHandler(h func(n *protocol.Notify)) HandlerID {
	return m.q.addHandler(h)
}

func (m *NotificationManager) RemoveHandler(id HandlerID) {
	m.q.removeHandler(id)
}

// Dropped is the number of notifications lost to a full queue.
func (m *NotificationManager) Dropped() int64 {
	return m.q.dropped.Load()
}

// StreamManager delivers copies of the debugged program's stdout and stderr.
type StreamManager struct {
	*worker.Worker

	q *queue[*protocol.Stream]
}

func newStreamManager(size int) *StreamManager {
	q := newQueue[*protocol.Stream]("stream-manager", size)

	return &StreamManager{
		Worker: worker.New(q),
		q:      q,
	}
}

func (m *StreamManager) AddHandler(h func(s *protocol.Stream)) HandlerID {
	return m.q.addHandler(h)
}

func (m *StreamManager) RemoveHandler(id HandlerID) {
	m.q.removeHandler(id)
}

func (m *StreamManager) Dropped() int64 {
	return m.q.dropped.Load()
}
