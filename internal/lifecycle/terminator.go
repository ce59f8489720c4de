// Package lifecycle implements the termination protocol shared by every
// long-lived component: an idempotent shutdown request, a blocking wait and
// one-shot listener notification.
package lifecycle

import (
	"context"
	"sync"

	"github.com/go-pantheon/fabrica-util/errors"
	"golang.org/x/sync/errgroup"
)

type State int32

const (
	Active State = iota
	Terminating
	Terminated
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Terminating:
		return "terminating"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Terminable is a component that can be asked to stop and waited on.
type Terminable interface {
	RequestTermination()
	WaitTerminated(ctx context.Context) error
	AddTerminationListener(l Listener) ListenerID
	RemoveTerminationListener(id ListenerID)
}

// Event is delivered once to every listener when a component terminates.
type Event struct {
	Source Terminable
	Cause  error
}

type Listener func(e Event)

type ListenerID uint64

// Terminator holds the termination state of one component. Components embed
// it and implement RequestTermination on top of Begin and Finish.
type Terminator struct {
	mu        sync.Mutex
	source    Terminable
	state     State
	cause     error
	done      chan struct{}
	nextID    ListenerID
	listeners map[ListenerID]Listener
}

func NewTerminator(source Terminable) *Terminator {
	return &Terminator{
		source:    source,
		done:      make(chan struct{}),
		listeners: make(map[ListenerID]Listener, 2),
	}
}

// Begin moves Active to Terminating. Only the first caller gets true.
func (t *Terminator) Begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Active {
		return false
	}

	t.state = Terminating

	return true
}

// Finish moves the component to Terminated and notifies the listeners that
// are registered at that instant. Calls after the first are ignored.
func (t *Terminator) Finish(cause error) bool {
	t.mu.Lock()

	if t.state == Terminated {
		t.mu.Unlock()
		return false
	}

	t.state = Terminated
	t.cause = cause

	listeners := make([]Listener, 0, len(t.listeners))
	for _, l := range t.listeners {
		listeners = append(listeners, l)
	}

	t.listeners = nil
	close(t.done)
	t.mu.Unlock()

	e := Event{Source: t.source, Cause: cause}
	for _, l := range listeners {
		l(e)
	}

	return true
}

func (t *Terminator) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

func (t *Terminator) Terminating() bool {
	return t.State() != Active
}

// Cause is the failure that terminated the component, nil for a clean stop.
func (t *Terminator) Cause() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.cause
}

func (t *Terminator) Done() <-chan struct{} {
	return t.done
}

func (t *Terminator) WaitTerminated(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	default:
	}

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait terminated interrupted")
	}
}

// AddTerminationListener registers l. A listener added after termination is
// called immediately with the recorded cause.
func (t *Terminator) AddTerminationListener(l Listener) ListenerID {
	t.mu.Lock()

	t.nextID++
	id := t.nextID

	if t.state != Terminated {
		t.listeners[id] = l
		t.mu.Unlock()

		return id
	}

	cause := t.cause
	t.mu.Unlock()

	l(Event{Source: t.source, Cause: cause})

	return id
}

func (t *Terminator) RemoveTerminationListener(id ListenerID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.listeners, id)
}

// Cascade requests termination of every part except trigger and waits for
// all of them. A nil part is skipped.
func Cascade(ctx context.Context, trigger Terminable, parts ...Terminable) error {
	eg, ctx := errgroup.WithContext(ctx)

	for _, p := range parts {
		if p == nil || p == trigger {
			continue
		}

		p.RequestTermination()
	}

	for _, p := range parts {
		if p == nil {
			continue
		}

		eg.Go(func() error {
			return p.WaitTerminated(ctx)
		})
	}

	return eg.Wait()
}
