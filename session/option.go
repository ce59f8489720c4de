package session

import (
	"net"

	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-pantheon/fabrica-dbgp/codec"
	"github.com/go-pantheon/fabrica-dbgp/conf"
	"github.com/go-pantheon/fabrica-dbgp/frame"
)

type Option func(o *options)

type options struct {
	conf        conf.Session
	newCodec    codec.NewCodecFunc
	readFilter  middleware.Middleware
	writeFilter middleware.Middleware
}

func defaultOptions() *options {
	c := conf.Default()

	return &options{
		conf: c.Session,
		newCodec: func(conn net.Conn) codec.Codec {
			return newFrameCodec(conn, c.Codec)
		},
		readFilter: recovery.Recovery(),
	}
}

func WithConf(c conf.Session) Option {
	return func(o *options) {
		o.conf = c
	}
}

func WithCodec(f codec.NewCodecFunc) Option {
	return func(o *options) {
		o.newCodec = f
	}
}

// WithCodecConf builds the default frame codec from c: the max engine packet
// size and the bufio sizes on both directions.
func WithCodecConf(c conf.Codec) Option {
	return func(o *options) {
		o.newCodec = func(conn net.Conn) codec.Codec {
			return newFrameCodec(conn, c)
		}
	}
}

func newFrameCodec(conn net.Conn, c conf.Codec) *frame.Codec {
	return frame.New(conn, c.MaxPackSize,
		frame.WithReadBufSize(c.ReadBufSize),
		frame.WithWriteBufSize(c.WriteBufSize),
	)
}

// WithReadFilter wraps the dispatch of every inbound packet. Recovery is
// installed by default.
func WithReadFilter(m ...middleware.Middleware) Option {
	return func(o *options) {
		o.readFilter = middleware.Chain(m...)
	}
}

func WithWriteFilter(m ...middleware.Middleware) Option {
	return func(o *options) {
		o.writeFilter = middleware.Chain(m...)
	}
}
