// Package session owns one engine connection: the init handshake, the single
// reader that demultiplexes inbound packets, the command façades and the
// termination of everything it owns.
package session

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-pantheon/fabrica-dbgp/codec"
	"github.com/go-pantheon/fabrica-dbgp/communicator"
	"github.com/go-pantheon/fabrica-dbgp/internal/lifecycle"
	"github.com/go-pantheon/fabrica-dbgp/internal/metrics"
	"github.com/go-pantheon/fabrica-dbgp/internal/util"
	"github.com/go-pantheon/fabrica-dbgp/internal/worker"
	"github.com/go-pantheon/fabrica-dbgp/protocol"
	"github.com/go-pantheon/fabrica-util/errors"
)

const defaultStopTimeout = 3 * time.Second

// Info is the metadata the engine announced in its init packet.
type Info struct {
	ApplicationID   string `json:"appid"`
	IDEKey          string `json:"idekey,omitempty"`
	SessionID       string `json:"session,omitempty"`
	ThreadID        string `json:"thread,omitempty"`
	ParentID        string `json:"parent,omitempty"`
	Language        string `json:"language"`
	ProtocolVersion string `json:"protocol_version"`
	FileURI         string `json:"fileuri"`
	EngineName      string `json:"engine_name,omitempty"`
	EngineVersion   string `json:"engine_version,omitempty"`
}

func newInfo(p *protocol.Init) Info {
	return Info{
		ApplicationID:   p.ApplicationID,
		IDEKey:          p.IDEKey,
		SessionID:       p.SessionID,
		ThreadID:        p.ThreadID,
		ParentID:        p.ParentID,
		Language:        p.Language,
		ProtocolVersion: p.ProtocolVersion,
		FileURI:         p.FileURI,
		EngineName:      p.Engine.Name,
		EngineVersion:   p.Engine.Version,
	}
}

type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "out"
	}

	return "in"
}

// PacketListener observes raw traffic: inbound XML bodies and outbound
// command lines.
type PacketListener func(dir Direction, body []byte)

var _ lifecycle.Terminable = (*Session)(nil)

type Session struct {
	*lifecycle.Terminator

	id        uint64
	conn      net.Conn
	codec     codec.Codec
	info      Info
	createdAt time.Time

	comm          *communicator.Communicator
	reader        *worker.Worker
	notifications *NotificationManager
	streams       *StreamManager

	readFilter  middleware.Middleware
	stopTimeout time.Duration

	listenersMu    sync.RWMutex
	nextListenerID uint64
	listeners      map[uint64]PacketListener
}

// New reads the engine's init packet from conn and starts the session. The
// handshake is bounded by the configured timeout and by ctx; on failure conn
// is closed and the error matches protocol.ErrHandshake.
func New(ctx context.Context, id uint64, conn net.Conn, opts ...Option) (*Session, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	cd := o.newCodec(conn)

	greeting, err := handshake(ctx, id, conn, cd, o.conf.HandshakeTimeout)
	if err != nil {
		if closeErr := conn.Close(); closeErr != nil && !worker.IsClosedError(closeErr) {
			err = errors.Join(err, closeErr)
		}

		return nil, err
	}

	s := &Session{
		id:          id,
		conn:        conn,
		codec:       cd,
		info:        newInfo(greeting),
		createdAt:   time.Now(),
		readFilter:  o.readFilter,
		stopTimeout: o.conf.StopTimeout,
		listeners:   make(map[uint64]PacketListener),
	}
	s.Terminator = lifecycle.NewTerminator(s)

	if s.stopTimeout <= 0 {
		s.stopTimeout = defaultStopTimeout
	}

	commOpts := []communicator.Option{
		communicator.WithTimeout(o.conf.CommandTimeout),
		communicator.WithAsync(o.conf.Async),
		communicator.WithWriteDeadline(conn),
		communicator.WithFailureHandler(func(err error) {
			s.terminate(nil, err)
		}),
		communicator.WithObserver(func(cmd *protocol.Command) {
			s.firePacket(Outbound, cmd.Bytes())
		}),
	}
	if o.writeFilter != nil {
		commOpts = append(commOpts, communicator.WithWriteFilter(o.writeFilter))
	}

	s.comm = communicator.New(cd, commOpts...)
	s.notifications = newNotificationManager(o.conf.NotifyQueueSize)
	s.streams = newStreamManager(o.conf.StreamQueueSize)
	s.reader = worker.New(&reader{s: s})

	for _, part := range s.parts() {
		part.AddTerminationListener(func(e lifecycle.Event) {
			s.terminate(e.Source, e.Cause)
		})
	}

	metrics.SessionsActive.Inc()

	// sub-components outlive the handshake context
	runCtx := context.WithoutCancel(ctx)

	for _, w := range []*worker.Worker{s.notifications.Worker, s.streams.Worker, s.reader} {
		if err := w.Start(runCtx); err != nil {
			s.terminate(nil, err)
			return nil, err
		}
	}

	log.Infof("[session] %d established. remote=%s appid=%s language=%s", id, s.RemoteAddr(), s.info.ApplicationID, s.info.Language)

	return s, nil
}

func handshake(ctx context.Context, id uint64, conn net.Conn, cd codec.Codec, timeout time.Duration) (*protocol.Init, error) {
	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	stop := util.InterruptReadOnDone(ctx, conn, fmt.Sprintf("session=%d handshake", id))

	body, free, err := cd.Decode()
	if !stop() {
		if err == nil {
			free()
		}

		return nil, errors.Wrapf(protocol.ErrHandshake, "no init packet from %s: %v", conn.RemoteAddr(), ctx.Err())
	}

	if err != nil {
		return nil, errors.Wrapf(protocol.ErrHandshake, "read init packet from %s failed: %v", conn.RemoteAddr(), err)
	}

	defer free()

	pkt, err := protocol.Parse(body)
	if err != nil {
		return nil, errors.Wrapf(protocol.ErrHandshake, "parse init packet failed: %v", err)
	}

	greeting, ok := pkt.(*protocol.Init)
	if !ok {
		return nil, errors.Wrapf(protocol.ErrHandshake, "expected init packet, got %s", pkt.Kind())
	}

	return greeting, nil
}

func (s *Session) parts() []lifecycle.Terminable {
	return []lifecycle.Terminable{s.reader, s.notifications.Worker, s.streams.Worker}
}

// RequestTermination stops the session. It does not block; use
// WaitTerminated or Close to wait for the session to end.
func (s *Session) RequestTermination() {
	s.terminate(nil, nil)
}

// Close requests termination and waits for it.
func (s *Session) Close(ctx context.Context) error {
	s.RequestTermination()
	return s.WaitTerminated(ctx)
}

func (s *Session) terminate(trigger lifecycle.Terminable, cause error) {
	if !s.Begin() {
		return
	}

	go s.cascade(trigger, cause)
}

func (s *Session) cascade(trigger lifecycle.Terminable, cause error) {
	commCause := cause
	if trigger == s.reader {
		if commCause == nil {
			commCause = io.EOF
		}

		commCause = errors.Join(protocol.ErrTransport, commCause)
	}

	s.comm.Close(commCause)

	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	if err := lifecycle.Cascade(ctx, trigger, s.parts()...); err != nil {
		log.Errorf("[session] %d wait sub-components failed. %+v", s.id, err)
	}

	if err := s.conn.Close(); err != nil && !worker.IsClosedError(err) {
		log.Errorf("[session] %d close connection failed. %+v", s.id, err)
	}

	metrics.SessionsActive.Dec()

	if cause != nil {
		log.Infof("[session] %d terminated. %v", s.id, cause)
	} else {
		log.Infof("[session] %d terminated", s.id)
	}

	s.Finish(cause)
}

// reader is the only goroutine that reads the connection after the
// handshake.
type reader struct {
	s *Session
}

func (r *reader) Name() string {
	return fmt.Sprintf("session-%d-reader", r.s.id)
}

func (r *reader) Run(ctx context.Context) error {
	for {
		body, free, err := r.s.codec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Debugf("[session] %d engine closed the connection", r.s.id)
				return nil
			}

			return err
		}

		r.s.dispatch(ctx, body)
		free()
	}
}

func (r *reader) Interrupt() error {
	return r.s.conn.Close()
}

func (s *Session) dispatch(ctx context.Context, body []byte) {
	pkt, err := protocol.Parse(body)
	if err != nil {
		log.Warnf("[session] %d drop malformed packet. %+v", s.id, err)
		return
	}

	metrics.PacketsReceived.WithLabelValues(string(pkt.Kind())).Inc()

	next := func(ctx context.Context, req any) (any, error) {
		s.route(req.(protocol.Packet))
		return nil, nil
	}

	if s.readFilter != nil {
		next = s.readFilter(next)
	}

	ctx = transport.NewServerContext(ctx, newTransport(s, pkt))

	if _, err := next(ctx, pkt); err != nil {
		log.Errorf("[session] %d dispatch %s packet failed. %+v", s.id, pkt.Kind(), err)
	}
}

func (s *Session) route(pkt protocol.Packet) {
	s.firePacket(Inbound, pkt.Body())

	switch p := pkt.(type) {
	case *protocol.Response:
		s.comm.Deliver(p)
	case *protocol.Notify:
		s.notifications.q.push(p)
	case *protocol.Stream:
		s.streams.q.push(p)
	default:
		log.Warnf("[session] %d unexpected %s packet", s.id, pkt.Kind())
	}
}

// AddPacketListener registers l for all traffic of the session.
func (s *Session) AddPacketListener(l PacketListener) uint64 {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	s.nextListenerID++
	s.listeners[s.nextListenerID] = l

	return s.nextListenerID
}

func (s *Session) RemovePacketListener(id uint64) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	delete(s.listeners, id)
}

func (s *Session) firePacket(dir Direction, body []byte) {
	s.listenersMu.RLock()
	listeners := make([]PacketListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		l(dir, body)
	}
}

func (s *Session) ID() uint64 {
	return s.id
}

func (s *Session) Info() Info {
	return s.info
}

func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

func (s *Session) RemoteAddr() string {
	if s.conn == nil || s.conn.RemoteAddr() == nil {
		return ""
	}

	return s.conn.RemoteAddr().String()
}

func (s *Session) Communicator() *communicator.Communicator {
	return s.comm
}

func (s *Session) Notifications() *NotificationManager {
	return s.notifications
}

func (s *Session) Streams() *StreamManager {
	return s.streams
}

func (s *Session) Core() Core {
	return Core{comm: s.comm}
}

func (s *Session) Extended() Extended {
	return Extended{comm: s.comm}
}

func (s *Session) Spawnpoints() Spawnpoints {
	return Spawnpoints{comm: s.comm}
}
