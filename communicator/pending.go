package communicator

import (
	"sync"

	"github.com/go-pantheon/fabrica-dbgp/protocol"
	"github.com/go-pantheon/fabrica-util/errors"
)

var ErrDuplicateTransaction = errors.New("transaction id already pending")

type pendingRequest struct {
	id      int
	command string
	// ch is buffered so delivery never blocks the reader.
	ch chan *protocol.Response
}

// pendingMap holds exactly one expectation per transaction id.
type pendingMap struct {
	mu       sync.Mutex
	closed   bool
	requests map[int]*pendingRequest
}

func newPendingMap() *pendingMap {
	return &pendingMap{
		requests: make(map[int]*pendingRequest, 8),
	}
}

func (m *pendingMap) add(id int, command string) (*pendingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, protocol.ErrTerminated
	}

	if _, ok := m.requests[id]; ok {
		return nil, errors.Wrapf(ErrDuplicateTransaction, "txid=%d command=%s", id, command)
	}

	p := &pendingRequest{
		id:      id,
		command: command,
		ch:      make(chan *protocol.Response, 1),
	}
	m.requests[id] = p

	return p, nil
}

// take removes and returns the expectation for id, nil when there is none.
func (m *pendingMap) take(id int) *pendingRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.requests[id]
	if !ok {
		return nil
	}

	delete(m.requests, id)

	return p
}

// close rejects further expectations and forgets the outstanding ones. Their
// waiters observe the communicator's closed channel.
func (m *pendingMap) close() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.requests)
	m.closed = true
	m.requests = make(map[int]*pendingRequest)

	return n
}

func (m *pendingMap) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.requests)
}
