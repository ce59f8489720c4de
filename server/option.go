package server

import (
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-pantheon/fabrica-dbgp/conf"
	"github.com/go-pantheon/fabrica-dbgp/session"
	"github.com/go-pantheon/fabrica-dbgp/transport"
)

type Option func(o *Options)

func WithConf(conf conf.Config) Option {
	return func(o *Options) {
		o.conf = conf
	}
}

func WithBind(host string) Option {
	return func(o *Options) {
		o.conf.Server.Bind = host
	}
}

// WithPort fixes the listening port. Port 0 scans the configured range.
func WithPort(port int) Option {
	return func(o *Options) {
		o.conf.Server.Port = port
	}
}

func WithPortRange(from, to int) Option {
	return func(o *Options) {
		o.conf.Server.Port = 0
		o.conf.Server.PortFrom = from
		o.conf.Server.PortTo = to
	}
}

// WithTransport overrides the transport selected by the configuration.
func WithTransport(t transport.Transport) Option {
	return func(o *Options) {
		o.transport = t
	}
}

func WithScheduler(s Scheduler) Option {
	return func(o *Options) {
		o.scheduler = s
	}
}

func WithSessionHandler(h SessionHandler) Option {
	return func(o *Options) {
		o.handler = h
	}
}

func WithSessionOptions(opts ...session.Option) Option {
	return func(o *Options) {
		o.sessionOpts = append(o.sessionOpts, opts...)
	}
}

func WithReadFilter(m middleware.Middleware) Option {
	return func(o *Options) {
		if o.readFilter == nil {
			o.readFilter = m
			return
		}

		o.readFilter = middleware.Chain(o.readFilter, m)
	}
}

func WithWriteFilter(m middleware.Middleware) Option {
	return func(o *Options) {
		if o.writeFilter == nil {
			o.writeFilter = m
			return
		}

		o.writeFilter = middleware.Chain(o.writeFilter, m)
	}
}

func WithAfterConnect(f Inspector) Option {
	return func(o *Options) {
		o.afterConnect = Wrap(o.afterConnect, f)
	}
}

func WithAfterDisconnect(f Inspector) Option {
	return func(o *Options) {
		o.afterDisconnect = Wrap(o.afterDisconnect, f)
	}
}

type Options struct {
	conf            conf.Config
	transport       transport.Transport
	scheduler       Scheduler
	handler         SessionHandler
	sessionOpts     []session.Option
	afterConnect    Inspector
	afterDisconnect Inspector
	readFilter      middleware.Middleware
	writeFilter     middleware.Middleware
}

func NewOptions(opts ...Option) *Options {
	ret := &Options{
		conf:      conf.Default(),
		scheduler: GoScheduler{},
		readFilter: middleware.Chain(
			recovery.Recovery(),
		),
		writeFilter: middleware.Chain(
			recovery.Recovery(),
		),
		afterConnect:    emptyInspector,
		afterDisconnect: emptyInspector,
	}

	for _, o := range opts {
		o(ret)
	}

	return ret
}

func (o *Options) Conf() conf.Config {
	return o.conf
}

func (o *Options) AfterConnect() Inspector {
	return o.afterConnect
}

func (o *Options) AfterDisconnect() Inspector {
	return o.afterDisconnect
}

// SessionOptions are the options every accepted session is built with.
func (o *Options) SessionOptions() []session.Option {
	opts := []session.Option{
		session.WithConf(o.conf.Session),
		session.WithCodecConf(o.conf.Codec),
		session.WithReadFilter(o.readFilter),
	}

	if o.writeFilter != nil {
		opts = append(opts, session.WithWriteFilter(o.writeFilter))
	}

	return append(opts, o.sessionOpts...)
}
