package admin

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-pantheon/fabrica-dbgp/frame"
	"github.com/go-pantheon/fabrica-dbgp/protocol"
	"github.com/go-pantheon/fabrica-dbgp/session"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInit = `<init appid="42" idekey="dev" language="PHP" protocol_version="1.0" fileuri="file:///srv/index.php"><engine version="3.3.0">Xdebug</engine></init>`

type staticSessions []*session.Session

func (s staticSessions) List() []*session.Session {
	return s
}

// newPipeSession returns a handshaken session and the engine side codec.
func newPipeSession(t *testing.T, id uint64) (*session.Session, *frame.EngineCodec) {
	t.Helper()

	ide, eng := net.Pipe()
	engine := frame.NewEngine(eng)

	go func() {
		if err := engine.Encode([]byte(testInit)); err != nil {
			return
		}

		for {
			_, free, err := engine.Decode()
			if err != nil {
				return
			}

			free()
		}
	}()

	s, err := session.New(context.Background(), id, ide)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_ = s.Close(ctx)
		_ = eng.Close()
	})

	return s, engine
}

func newTestServer(t *testing.T, sessions SessionSource) (*Server, *httptest.Server) {
	t.Helper()

	s := NewServer("127.0.0.1:0", sessions, nil)
	ts := httptest.NewServer(s.Server)

	t.Cleanup(func() {
		s.Hub().Close()
		ts.Close()
	})

	return s, ts
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, nil)

	code, _ := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, nil)

	code, body := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "dbgp_connections_accepted_total")
}

func TestSessions(t *testing.T) {
	t.Parallel()

	sess, _ := newPipeSession(t, 7)
	_, ts := newTestServer(t, staticSessions{sess})

	code, body := get(t, ts.URL+"/sessions")
	require.Equal(t, http.StatusOK, code)

	var views []sessionView
	require.NoError(t, json.Unmarshal([]byte(body), &views))
	require.Len(t, views, 1)

	assert.Equal(t, uint64(7), views[0].ID)
	assert.Equal(t, "active", views[0].State)
	assert.Equal(t, "42", views[0].Info.ApplicationID)
	assert.Equal(t, "PHP", views[0].Info.Language)
}

func TestSessionsEmpty(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, staticSessions{})

	code, body := get(t, ts.URL+"/sessions")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "[]", strings.TrimSpace(body))
}

func TestSessionsRejectsPost(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, staticSessions{})

	resp, err := http.Post(ts.URL+"/sessions", "application/json", nil)
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func dialMonitor(t *testing.T, s *Server, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/monitor", nil)
	require.NoError(t, err)

	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	t.Cleanup(func() {
		_ = conn.Close()
	})

	require.Eventually(t, func() bool {
		return s.Hub().Len() == 1
	}, time.Second, 10*time.Millisecond)

	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var m Message
	require.NoError(t, json.Unmarshal(data, &m))

	return m
}

func TestMonitorPublishesTraffic(t *testing.T) {
	t.Parallel()

	sess, engine := newPipeSession(t, 3)
	s, ts := newTestServer(t, staticSessions{sess})
	s.Hub().Track(sess)

	conn := dialMonitor(t, s, ts)

	require.NoError(t, engine.Encode([]byte(`<notify name="breakpoint_resolved"/>`)))

	m := readMessage(t, conn)
	assert.Equal(t, uint64(3), m.Session)
	assert.Equal(t, "in", m.Direction)
	assert.Contains(t, m.Body, "breakpoint_resolved")

	require.NoError(t, sess.Communicator().Send(context.Background(), protocol.NewCommand("status")))

	m = readMessage(t, conn)
	assert.Equal(t, "out", m.Direction)
	assert.True(t, strings.HasPrefix(m.Body, "status -i "))
}

func TestHubCloseDisconnectsSubscribers(t *testing.T) {
	t.Parallel()

	s, ts := newTestServer(t, nil)
	conn := dialMonitor(t, s, ts)

	s.Hub().Close()
	assert.Equal(t, 0, s.Hub().Len())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
