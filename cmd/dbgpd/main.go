// Command dbgpd listens for debugger engines and keeps their sessions
// observable over the admin HTTP surface.
package main

import (
	"fmt"
	"os"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-pantheon/fabrica-dbgp/conf"
	"github.com/go-pantheon/fabrica-dbgp/http/admin"
	"github.com/go-pantheon/fabrica-dbgp/server"
	"github.com/go-pantheon/fabrica-dbgp/session"
	"github.com/spf13/pflag"
)

const name = "dbgpd"

type flags struct {
	conf      string
	bind      string
	port      int
	portFrom  int
	portTo    int
	transport string
	admin     string
	autoRun   bool
}

func parseFlags(args []string) (*flags, *pflag.FlagSet, error) {
	f := &flags{}

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(&f.conf, "conf", "c", "", "path of the config file")
	fs.StringVar(&f.bind, "bind", "", "address the engine listener binds to")
	fs.IntVarP(&f.port, "port", "p", 0, "engine listener port, 0 scans --port-from..--port-to")
	fs.IntVar(&f.portFrom, "port-from", 0, "first port of the scan range")
	fs.IntVar(&f.portTo, "port-to", 0, "last port of the scan range")
	fs.StringVar(&f.transport, "transport", "", "engine transport: tcp or kcp")
	fs.StringVar(&f.admin, "admin", "", "admin HTTP address")
	fs.BoolVar(&f.autoRun, "auto-run", false, "issue run on every new session")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	return f, fs, nil
}

// config loads the file when given and lets explicitly set flags win.
func (f *flags) config(fs *pflag.FlagSet) (conf.Config, error) {
	c := conf.Default()

	if f.conf != "" {
		var err error

		if c, err = conf.Load(f.conf); err != nil {
			return c, err
		}
	}

	if fs.Changed("bind") {
		c.Server.Bind = f.bind
	}

	if fs.Changed("port") {
		c.Server.Port = f.port
	}

	if fs.Changed("port-from") {
		c.Server.PortFrom = f.portFrom
	}

	if fs.Changed("port-to") {
		c.Server.PortTo = f.portTo
	}

	if fs.Changed("transport") {
		c.Server.Transport = f.transport
	}

	if fs.Changed("admin") {
		c.Admin.Addr = f.admin
	}

	return c, conf.Validate(c)
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %+v\n", name, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	f, fs, err := parseFlags(args)
	if err != nil {
		return err
	}

	c, err := f.config(fs)
	if err != nil {
		return err
	}

	logger := log.With(log.NewStdLogger(os.Stdout),
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service", name,
	)
	log.SetLogger(logger)

	hub := admin.NewHub()
	defer hub.Close()

	svr, err := server.New(
		server.WithConf(c),
		server.WithSessionHandler(newSessionHandler(hub, f.autoRun)),
		server.WithReadFilter(session.TraceFilter()),
	)
	if err != nil {
		return err
	}

	adm := admin.NewServer(c.Admin.Addr, svr.Sessions(), hub)

	app := kratos.New(
		kratos.Name(name),
		kratos.Logger(logger),
		kratos.Server(svr, adm),
	)

	return app.Run()
}
