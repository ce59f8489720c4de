// Package kcp carries engine connections over KCP, optionally multiplexing
// several engines on one KCP session with smux streams.
package kcp

import (
	"context"
	"net"

	"github.com/go-pantheon/fabrica-dbgp/conf"
	"github.com/go-pantheon/fabrica-dbgp/transport"
	"github.com/go-pantheon/fabrica-util/errors"
	kcpgo "github.com/xtaci/kcp-go/v5"
	"github.com/xtaci/smux"
)

var _ transport.Transport = (*Transport)(nil)

type Transport struct {
	conf conf.KCP
}

func New(c conf.KCP) (*Transport, error) {
	if err := Validate(c); err != nil {
		return nil, err
	}

	return &Transport{conf: c}, nil
}

func (t *Transport) Scheme() string {
	return conf.TransportKCP
}

func (t *Transport) Listen(ctx context.Context, addr string) (net.Listener, error) {
	l, err := kcpgo.ListenWithOptions(addr, nil, t.conf.DataShards, t.conf.ParityShards)
	if err != nil {
		return nil, errors.Wrapf(err, "kcp listen failed. bind=%s", addr)
	}

	if err := t.tune(l); err != nil {
		return nil, errors.Join(err, l.Close())
	}

	if t.conf.Smux {
		return newSmuxListener(l, t.conf), nil
	}

	return &listener{Listener: l, conf: t.conf}, nil
}

func (t *Transport) tune(l *kcpgo.Listener) error {
	if err := l.SetReadBuffer(t.conf.ReadBufSize); err != nil {
		return errors.Wrapf(err, "set read buffer failed")
	}

	if err := l.SetWriteBuffer(t.conf.WriteBufSize); err != nil {
		return errors.Wrapf(err, "set write buffer failed")
	}

	if err := l.SetDSCP(t.conf.DSCP); err != nil {
		return errors.Wrapf(err, "set dscp failed")
	}

	return nil
}

// listener hands out one KCP session per engine.
type listener struct {
	*kcpgo.Listener

	conf conf.KCP
}

func (l *listener) Accept() (net.Conn, error) {
	conn, err := l.AcceptKCP()
	if err != nil {
		return nil, err
	}

	configure(conn, l.conf)

	return conn, nil
}

func configure(conn *kcpgo.UDPSession, c conf.KCP) {
	conn.SetNoDelay(c.NoDelay[0], c.NoDelay[1], c.NoDelay[2], c.NoDelay[3])
	conn.SetWindowSize(c.WindowSize[0], c.WindowSize[1])
	conn.SetMtu(c.MTU)
	conn.SetACKNoDelay(c.ACKNoDelay)
	conn.SetWriteDelay(c.WriteDelay)
}

func smuxConfig(c conf.KCP) *smux.Config {
	sc := smux.DefaultConfig()
	sc.Version = 2
	sc.KeepAliveInterval = c.KeepAliveInterval
	sc.KeepAliveTimeout = c.KeepAliveTimeout
	sc.MaxFrameSize = c.MaxFrameSize
	sc.MaxReceiveBuffer = c.MaxReceiveBuffer

	return sc
}

func Validate(c conf.KCP) error {
	if c.MTU < 576 || c.MTU > 1500 {
		return errors.Errorf("invalid MTU: %d, must be between 576 and 1500", c.MTU)
	}

	if c.DataShards < 0 || c.DataShards > 255 {
		return errors.Errorf("invalid DataShards: %d, must be between 0 and 255", c.DataShards)
	}

	if c.ParityShards < 0 || c.ParityShards > 255 {
		return errors.Errorf("invalid ParityShards: %d, must be between 0 and 255", c.ParityShards)
	}

	if c.WindowSize[0] <= 0 || c.WindowSize[1] <= 0 {
		return errors.Errorf("invalid WindowSize: %v, both send and receive windows must be positive", c.WindowSize)
	}

	if !c.Smux {
		return nil
	}

	if c.KeepAliveInterval <= 0 {
		return errors.Errorf("invalid KeepAliveInterval: %v, must be positive", c.KeepAliveInterval)
	}

	if c.KeepAliveTimeout <= c.KeepAliveInterval {
		return errors.Errorf("KeepAliveTimeout (%v) must be greater than KeepAliveInterval (%v)",
			c.KeepAliveTimeout, c.KeepAliveInterval)
	}

	if err := smux.VerifyConfig(smuxConfig(c)); err != nil {
		return errors.Wrap(err, "invalid smux config")
	}

	return nil
}
