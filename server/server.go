// Package server accepts engine connections and turns each one into a
// session handed to the registered SessionHandler.
package server

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	kt "github.com/go-kratos/kratos/v2/transport"
	"github.com/go-pantheon/fabrica-dbgp/conf"
	"github.com/go-pantheon/fabrica-dbgp/internal/lifecycle"
	"github.com/go-pantheon/fabrica-dbgp/internal/metrics"
	"github.com/go-pantheon/fabrica-dbgp/internal/util"
	"github.com/go-pantheon/fabrica-dbgp/internal/worker"
	"github.com/go-pantheon/fabrica-dbgp/protocol"
	"github.com/go-pantheon/fabrica-dbgp/session"
	"github.com/go-pantheon/fabrica-dbgp/transport"
	"github.com/go-pantheon/fabrica-dbgp/transport/kcp"
	"github.com/go-pantheon/fabrica-util/errors"
	"golang.org/x/sync/errgroup"
)

var (
	ErrAlreadyStarted = errors.New("server already started")
	ErrNotListening   = errors.New("server is not listening")
	ErrNoPort         = errors.New("no available port in range")
)

// State is the listener state. Closed is reached from any state.
type State int32

const (
	StateNotStarted State = iota
	StateStarted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarted:
		return "started"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionHandler receives every session that completed its handshake. It
// runs on the scheduler, never on the accept loop.
type SessionHandler func(ctx context.Context, s *session.Session)

var (
	_ kt.Server            = (*Server)(nil)
	_ kt.Endpointer        = (*Server)(nil)
	_ lifecycle.Terminable = (*Server)(nil)
)

type Server struct {
	*Options

	term      *lifecycle.Terminator
	transport transport.Transport
	sessions  *SessionManager
	nextID    atomic.Uint64

	mu       sync.Mutex
	state    State
	started  chan struct{}
	listener net.Listener
	acceptor *worker.Worker
	handler  SessionHandler
}

func New(opts ...Option) (*Server, error) {
	options := NewOptions(opts...)

	if err := conf.Validate(options.conf); err != nil {
		return nil, err
	}

	tr := options.transport
	if tr == nil {
		var err error

		if tr, err = newTransport(options.conf); err != nil {
			return nil, err
		}
	}

	s := &Server{
		Options:   options,
		transport: tr,
		sessions:  NewSessionManager(options.conf.Server.BucketSize),
		started:   make(chan struct{}),
		handler:   options.handler,
	}
	s.term = lifecycle.NewTerminator(s)

	return s, nil
}

func newTransport(c conf.Config) (transport.Transport, error) {
	switch c.Server.Transport {
	case conf.TransportKCP:
		return kcp.New(c.KCP)
	default:
		return transport.NewTCP(c.TCP), nil
	}
}

// SetSessionHandler registers h for sessions accepted from now on. A nil
// handler makes the server close new connections without a handshake.
func (s *Server) SetSessionHandler(h SessionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handler = h
}

func (s *Server) sessionHandler() SessionHandler {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.handler
}

// Start binds the listener and runs the accept loop. A bind failure closes
// the server.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateNotStarted {
		return errors.Wrapf(ErrAlreadyStarted, "state=%s", s.state)
	}

	if s.term.Terminating() {
		s.closeLocked()
		return errors.Wrap(ErrNotListening, "terminated before start")
	}

	lis, err := s.listen(ctx)
	if err != nil {
		s.closeLocked()
		s.term.Begin()
		s.term.Finish(err)

		return err
	}

	s.listener = lis
	s.acceptor = worker.New(&acceptor{s: s, lis: lis})
	s.acceptor.AddTerminationListener(func(e lifecycle.Event) {
		s.onAcceptorTerminated(e.Cause)
	})

	if err := s.acceptor.Start(ctx); err != nil {
		return errors.Join(err, lis.Close())
	}

	s.state = StateStarted
	close(s.started)

	log.Infof("[dbgp.Server] listening on %s://%s", s.transport.Scheme(), lis.Addr())

	return nil
}

func (s *Server) listen(ctx context.Context) (net.Listener, error) {
	c := s.conf.Server

	port := c.Port
	if port == 0 {
		p, err := FindAvailablePortOn(c.Bind, c.PortFrom, c.PortTo)
		if err != nil {
			return nil, err
		}

		if p == NoPort {
			return nil, errors.Wrapf(ErrNoPort, "range=%d-%d", c.PortFrom, c.PortTo)
		}

		port = p
	}

	return s.transport.Listen(ctx, net.JoinHostPort(c.Bind, strconv.Itoa(port)))
}

// closeLocked moves to Closed and releases WaitStarted callers.
func (s *Server) closeLocked() {
	if s.state == StateNotStarted {
		close(s.started)
	}

	s.state = StateClosed
}

// WaitStarted blocks until the server leaves NotStarted and reports whether
// it is listening. A zero timeout uses the configured start timeout.
func (s *Server) WaitStarted(ctx context.Context, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = s.conf.Server.StartTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.started:
		return s.State() == StateStarted, nil
	case <-timer.C:
		return false, errors.Wrapf(protocol.ErrTimeout, "server not started after %s", timeout)
	case <-ctx.Done():
		return false, errors.Wrapf(protocol.ErrCancelled, "wait started: %v", ctx.Err())
	}
}

func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// RequestTermination closes the listening socket. Sessions already handed
// off keep running; Stop terminates them too.
func (s *Server) RequestTermination() {
	if !s.term.Begin() {
		return
	}

	s.mu.Lock()
	acceptor := s.acceptor

	if acceptor == nil {
		s.closeLocked()
		s.mu.Unlock()
		s.term.Finish(nil)

		return
	}

	s.mu.Unlock()

	acceptor.RequestTermination()
}

func (s *Server) onAcceptorTerminated(cause error) {
	s.mu.Lock()
	s.closeLocked()
	s.mu.Unlock()

	s.term.Begin()

	if s.term.Finish(cause) {
		log.Infof("[dbgp.Server] listener closed")
	}
}

func (s *Server) WaitTerminated(ctx context.Context) error {
	return s.term.WaitTerminated(ctx)
}

func (s *Server) AddTerminationListener(l lifecycle.Listener) lifecycle.ListenerID {
	return s.term.AddTerminationListener(l)
}

func (s *Server) RemoveTerminationListener(id lifecycle.ListenerID) {
	s.term.RemoveTerminationListener(id)
}

// Stop closes the listener and terminates every live session, giving up
// after the configured stop timeout.
func (s *Server) Stop(ctx context.Context) (err error) {
	ctx, cancel := s.stopContext(ctx)
	defer cancel()

	s.RequestTermination()

	if waitErr := s.term.WaitTerminated(ctx); waitErr != nil {
		err = errors.Join(err, waitErr)
	}

	eg, ectx := errgroup.WithContext(ctx)

	s.sessions.Walk(func(sess *session.Session) bool {
		eg.Go(func() error {
			return sess.Close(ectx)
		})

		return true
	})

	if waitErr := eg.Wait(); waitErr != nil {
		err = errors.Join(err, waitErr)
	}

	log.Infof("[dbgp.Server] stopped.")

	return err
}

func (s *Server) stopContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := s.conf.Server.StopTimeout; d > 0 {
		return context.WithTimeout(ctx, d)
	}

	return context.WithCancel(ctx)
}

// Endpoint implements transport.Endpointer.
func (s *Server) Endpoint() (*url.URL, error) {
	s.mu.Lock()
	lis := s.listener
	s.mu.Unlock()

	if lis == nil {
		return nil, ErrNotListening
	}

	addr, err := util.Extract(lis.Addr().String(), lis)
	if err != nil {
		return nil, err
	}

	return &url.URL{Scheme: s.transport.Scheme(), Host: addr}, nil
}

// Port is the bound port, 0 before Start.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return 0
	}

	_, port, err := net.SplitHostPort(s.listener.Addr().String())
	if err != nil {
		return 0
	}

	p, _ := strconv.Atoi(port)

	return p
}

func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

type acceptor struct {
	s   *Server
	lis net.Listener
}

func (a *acceptor) Name() string {
	return "dbgp-acceptor"
}

func (a *acceptor) Run(ctx context.Context) error {
	for {
		conn, err := a.lis.Accept()
		if err != nil {
			return errors.Wrapf(err, "accept failed")
		}

		a.s.handoff(ctx, conn)
	}
}

func (a *acceptor) Interrupt() error {
	return a.lis.Close()
}

func (s *Server) handoff(ctx context.Context, conn net.Conn) {
	metrics.ConnectionsAccepted.Inc()

	handler := s.sessionHandler()
	if handler == nil {
		metrics.ConnectionsDropped.WithLabelValues("no_handler").Inc()
		log.Warnf("[dbgp.Server] no session handler, drop connection from %s", conn.RemoteAddr())

		if err := conn.Close(); err != nil {
			log.Errorf("[dbgp.Server] close connection failed. %+v", err)
		}

		return
	}

	id := s.nextID.Add(1)

	s.scheduler.Submit(fmt.Sprintf("dbgp.Server.serve-%d", id), func() {
		s.serve(ctx, id, conn, handler)
	})
}

func (s *Server) serve(ctx context.Context, id uint64, conn net.Conn, handler SessionHandler) {
	sess, err := session.New(ctx, id, conn, s.SessionOptions()...)
	if err != nil {
		metrics.ConnectionsDropped.WithLabelValues("handshake").Inc()
		log.Warnf("[dbgp.Server] session %d from %s rejected. %+v", id, conn.RemoteAddr(), err)

		return
	}

	if old := s.sessions.Put(sess); old != nil {
		old.RequestTermination()
	}

	sess.AddTerminationListener(func(lifecycle.Event) {
		s.sessions.Del(sess)

		if err := s.afterDisconnect(EmptyInspectorFunc)(context.Background(), sess); err != nil {
			log.Errorf("[dbgp.Server] session %d after disconnect failed. %+v", sess.ID(), err)
		}
	})

	if s.term.Terminating() {
		sess.RequestTermination()
		return
	}

	if err := s.afterConnect(EmptyInspectorFunc)(ctx, sess); err != nil {
		log.Errorf("[dbgp.Server] session %d after connect failed. %+v", sess.ID(), err)
		sess.RequestTermination()

		return
	}

	handler(ctx, sess)
}
