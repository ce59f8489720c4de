// Package transport opens the sockets engines connect to.
package transport

import (
	"context"
	"net"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-pantheon/fabrica-dbgp/conf"
	"github.com/go-pantheon/fabrica-util/errors"
)

// Transport binds a listener for a host:port address. Accepted connections
// carry an engine's byte stream.
type Transport interface {
	// Scheme names the transport in endpoints, e.g. "tcp".
	Scheme() string
	Listen(ctx context.Context, addr string) (net.Listener, error)
}

var _ Transport = (*TCP)(nil)

type TCP struct {
	conf conf.TCP
}

func NewTCP(c conf.TCP) *TCP {
	return &TCP{conf: c}
}

func (t *TCP) Scheme() string {
	return conf.TransportTCP
}

func (t *TCP) Listen(ctx context.Context, addr string) (net.Listener, error) {
	var lc net.ListenConfig

	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen failed. addr=%s", addr)
	}

	return &tcpListener{
		TCPListener: l.(*net.TCPListener),
		conf:        t.conf,
	}, nil
}

type tcpListener struct {
	*net.TCPListener

	conf conf.TCP
}

func (l *tcpListener) Accept() (net.Conn, error) {
	conn, err := l.AcceptTCP()
	if err != nil {
		return nil, err
	}

	if err := l.configure(conn); err != nil {
		log.Warnf("[transport.TCP] configure connection from %s failed. %+v", conn.RemoteAddr(), err)
	}

	return conn, nil
}

func (l *tcpListener) configure(conn *net.TCPConn) error {
	if err := conn.SetKeepAlive(l.conf.KeepAlive); err != nil {
		return errors.Wrapf(err, "SetKeepAlive failed v=%v", l.conf.KeepAlive)
	}

	if l.conf.ReadBufSize > 0 {
		if err := conn.SetReadBuffer(l.conf.ReadBufSize); err != nil {
			return errors.Wrapf(err, "SetReadBuffer failed v=%d", l.conf.ReadBufSize)
		}
	}

	if l.conf.WriteBufSize > 0 {
		if err := conn.SetWriteBuffer(l.conf.WriteBufSize); err != nil {
			return errors.Wrapf(err, "SetWriteBuffer failed v=%d", l.conf.WriteBufSize)
		}
	}

	return nil
}
