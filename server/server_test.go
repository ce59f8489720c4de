package server

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-pantheon/fabrica-dbgp/conf"
	"github.com/go-pantheon/fabrica-dbgp/frame"
	"github.com/go-pantheon/fabrica-dbgp/internal/lifecycle"
	"github.com/go-pantheon/fabrica-dbgp/protocol"
	"github.com/go-pantheon/fabrica-dbgp/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInit = `<init appid="42" idekey="dev" language="PHP" protocol_version="1.0" fileuri="file:///srv/index.php"><engine version="3.3.0">Xdebug</engine></init>`

func startServer(t *testing.T, from int, opts ...Option) *Server {
	t.Helper()

	opts = append(opts, WithBind("127.0.0.1"), WithPortRange(from, from+999))

	s, err := New(opts...)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		_ = s.Stop(ctx)
	})

	return s
}

func dialEngine(t *testing.T, s *Server) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(s.Port()))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
	})

	return conn
}

func TestServerHandsOffSessions(t *testing.T) {
	t.Parallel()

	sessions := make(chan *session.Session, 1)

	s := startServer(t, 41000, WithSessionHandler(func(ctx context.Context, sess *session.Session) {
		sessions <- sess
	}))

	ok, err := s.WaitStarted(context.Background(), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StateStarted, s.State())

	endpoint, err := s.Endpoint()
	require.NoError(t, err)
	assert.Equal(t, "tcp", endpoint.Scheme)
	assert.Equal(t, "127.0.0.1:"+strconv.Itoa(s.Port()), endpoint.Host)

	conn := dialEngine(t, s)
	require.NoError(t, frame.NewEngine(conn).Encode([]byte(testInit)))

	var sess *session.Session

	select {
	case sess = <-sessions:
	case <-time.After(3 * time.Second):
		require.FailNow(t, "no session handed off")
	}

	assert.Equal(t, "42", sess.Info().ApplicationID)
	assert.Equal(t, 1, s.Sessions().Len())
	assert.Same(t, sess, s.Sessions().Session(sess.ID()))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, lifecycle.Terminated, sess.State())
	assert.Eventually(t, func() bool {
		return s.Sessions().Len() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestServerWithoutHandlerClosesConnections(t *testing.T) {
	t.Parallel()

	s := startServer(t, 42000)

	conn := dialEngine(t, s)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	_, err := conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 0, s.Sessions().Len())
}

func TestServerRejectsFailedHandshake(t *testing.T) {
	t.Parallel()

	var handled atomic.Int32

	c := NewOptions().Conf()
	c.Session.HandshakeTimeout = 50 * time.Millisecond

	s := startServer(t, 43000, WithConf(c), WithSessionHandler(func(context.Context, *session.Session) {
		handled.Add(1)
	}))

	conn := dialEngine(t, s)
	require.NoError(t, frame.NewEngine(conn).Encode([]byte(`<response command="status" transaction_id="1"/>`)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	_, err := io.ReadAll(conn)
	assert.NoError(t, err)
	assert.Equal(t, int32(0), handled.Load())
}

func TestServerAfterConnectInspector(t *testing.T) {
	t.Parallel()

	var inspected atomic.Int32

	sessions := make(chan *session.Session, 1)

	s := startServer(t, 44000,
		WithSessionHandler(func(ctx context.Context, sess *session.Session) {
			sessions <- sess
		}),
		WithAfterConnect(func(next InspectorFunc) InspectorFunc {
			return func(ctx context.Context, sess *session.Session) error {
				inspected.Add(1)
				return next(ctx, sess)
			}
		}),
	)

	conn := dialEngine(t, s)
	require.NoError(t, frame.NewEngine(conn).Encode([]byte(testInit)))

	select {
	case <-sessions:
	case <-time.After(3 * time.Second):
		require.FailNow(t, "no session handed off")
	}

	assert.Equal(t, int32(1), inspected.Load())
}

func TestServerBindFailureCloses(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	defer l.Close()

	port := l.Addr().(*net.TCPAddr).Port

	s, err := New(WithBind("127.0.0.1"), WithPort(port))
	require.NoError(t, err)

	require.Error(t, s.Start(context.Background()))

	ok, err := s.WaitStarted(context.Background(), time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, StateClosed, s.State())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, s.WaitTerminated(ctx))
}

func TestWaitStartedTimeout(t *testing.T) {
	t.Parallel()

	s, err := New()
	require.NoError(t, err)

	ok, err := s.WaitStarted(context.Background(), 20*time.Millisecond)
	require.ErrorIs(t, err, protocol.ErrTimeout)
	assert.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.WaitStarted(ctx, time.Second)
	require.ErrorIs(t, err, protocol.ErrCancelled)
}

func TestRequestTerminationClosesListener(t *testing.T) {
	t.Parallel()

	s := startServer(t, 45000)
	addr := "127.0.0.1:" + strconv.Itoa(s.Port())

	var notified atomic.Int32

	s.AddTerminationListener(func(lifecycle.Event) {
		notified.Add(1)
	})

	for i := 0; i < 8; i++ {
		go s.RequestTermination()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, s.WaitTerminated(ctx))
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, int32(1), notified.Load())

	_, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)
}

func TestRequestTerminationBeforeStart(t *testing.T) {
	t.Parallel()

	s, err := New()
	require.NoError(t, err)

	s.RequestTermination()

	ok, err := s.WaitStarted(context.Background(), time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, StateClosed, s.State())
	assert.Error(t, s.Start(context.Background()))
}

func TestStopContextBoundedByStopTimeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		timeout time.Duration
		bounded bool
	}{
		{"configured", 200 * time.Millisecond, true},
		{"disabled", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := conf.Default()
			c.Server.StopTimeout = tt.timeout

			s, err := New(WithConf(c))
			require.NoError(t, err)

			ctx, cancel := s.stopContext(context.Background())
			defer cancel()

			deadline, ok := ctx.Deadline()
			require.Equal(t, tt.bounded, ok)

			if tt.bounded {
				assert.WithinDuration(t, time.Now().Add(tt.timeout), deadline, tt.timeout)
			}
		})
	}
}

func TestStopHonoursStopTimeout(t *testing.T) {
	t.Parallel()

	c := conf.Default()
	c.Server.StopTimeout = 100 * time.Millisecond

	s := startServer(t, 46000, WithConf(c))

	start := time.Now()
	require.NoError(t, s.Stop(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateClosed, s.State())
}
