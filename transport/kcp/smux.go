package kcp

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-pantheon/fabrica-dbgp/conf"
	"github.com/go-pantheon/fabrica-util/errors"
	"github.com/go-pantheon/fabrica-util/xsync"
	kcpgo "github.com/xtaci/kcp-go/v5"
	"github.com/xtaci/smux"
)

// smuxListener accepts streams from every KCP session. Each stream is one
// engine connection.
type smuxListener struct {
	kl   *kcpgo.Listener
	conf conf.KCP

	streams chan net.Conn
	failed  chan error

	closeOnce sync.Once
	closed    chan struct{}

	nextID   atomic.Int64
	sessions sync.Map
}

func newSmuxListener(kl *kcpgo.Listener, c conf.KCP) *smuxListener {
	l := &smuxListener{
		kl:      kl,
		conf:    c,
		streams: make(chan net.Conn, 64),
		failed:  make(chan error, 1),
		closed:  make(chan struct{}),
	}

	xsync.Go("kcp.smuxListener.acceptSessions", l.acceptSessions)

	return l
}

func (l *smuxListener) acceptSessions() error {
	for {
		conn, err := l.kl.AcceptKCP()
		if err != nil {
			l.failed <- errors.Wrapf(err, "accept kcp failed")
			return nil
		}

		configure(conn, l.conf)

		sess, err := smux.Server(conn, smuxConfig(l.conf))
		if err != nil {
			log.Errorf("[kcp.smuxListener] create smux session for %s failed. %+v", conn.RemoteAddr(), err)
			_ = conn.Close()

			continue
		}

		id := l.nextID.Add(1)
		l.sessions.Store(id, sess)

		xsync.Go(fmt.Sprintf("kcp.smuxListener.acceptStreams-%d", id), func() error {
			defer l.sessions.Delete(id)
			return l.acceptStreams(sess)
		})
	}
}

func (l *smuxListener) acceptStreams(sess *smux.Session) error {
	defer sess.Close()

	for {
		stream, err := sess.AcceptStream()
		if err != nil {
			log.Debugf("[kcp.smuxListener] smux session %s ended: %v", sess.RemoteAddr(), err)
			return nil
		}

		select {
		case l.streams <- stream:
		case <-l.closed:
			return stream.Close()
		}
	}
}

func (l *smuxListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.streams:
		return c, nil
	case err := <-l.failed:
		return nil, err
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *smuxListener) Close() (err error) {
	l.closeOnce.Do(func() {
		close(l.closed)

		err = l.kl.Close()

		l.sessions.Range(func(_, v any) bool {
			if closeErr := v.(*smux.Session).Close(); closeErr != nil {
				err = errors.Join(err, errors.Wrapf(closeErr, "close smux session failed"))
			}

			return true
		})
	})

	return err
}

func (l *smuxListener) Addr() net.Addr {
	return l.kl.Addr()
}
