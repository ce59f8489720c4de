package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-pantheon/fabrica-dbgp/frame"
	"github.com/go-pantheon/fabrica-dbgp/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeSession(t *testing.T, id uint64) *session.Session {
	t.Helper()

	ide, eng := net.Pipe()

	go func() {
		_ = frame.NewEngine(eng).Encode([]byte(testInit))
	}()

	s, err := session.New(context.Background(), id, ide)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_ = s.Close(ctx)
		_ = eng.Close()
	})

	return s
}

func TestNewSessionManager(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		bucketSize int
		wantSize   int
	}{
		{"normal size", 16, 16},
		{"small size", 1, 1},
		{"zero size", 0, 1},
		{"rounded up", 17, 32},
		{"large size", 1024, 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := NewSessionManager(tt.bucketSize)
			assert.Len(t, m.buckets, tt.wantSize)
		})
	}
}

func TestSessionManagerBasicOperations(t *testing.T) {
	t.Parallel()

	m := NewSessionManager(16)

	s1 := newPipeSession(t, 1)
	s2 := newPipeSession(t, 2)

	assert.Nil(t, m.Put(s1))
	assert.Nil(t, m.Put(s2))
	assert.Nil(t, m.Put(s1))
	assert.Equal(t, 2, m.Len())

	assert.Same(t, s1, m.Session(1))
	assert.Same(t, s2, m.Session(2))

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, uint64(1), list[0].ID())
	assert.Equal(t, uint64(2), list[1].ID())

	m.Del(s1)
	m.Del(s1)
	assert.Nil(t, m.Session(1))
	assert.Equal(t, 1, m.Len())
}

func TestSessionManagerPutReplaces(t *testing.T) {
	t.Parallel()

	m := NewSessionManager(4)

	prev := newPipeSession(t, 5)
	next := newPipeSession(t, 5)

	assert.Nil(t, m.Put(prev))
	assert.Same(t, prev, m.Put(next))
	assert.Same(t, next, m.Session(5))
	assert.Equal(t, 1, m.Len())

	m.Del(prev)
	assert.Same(t, next, m.Session(5))
	assert.Equal(t, 1, m.Len())

	m.Del(next)
	assert.Nil(t, m.Session(5))
	assert.Equal(t, 0, m.Len())
}

func TestSessionManagerWalkStops(t *testing.T) {
	t.Parallel()

	m := NewSessionManager(4)

	for i := uint64(1); i <= 4; i++ {
		m.Put(newPipeSession(t, i))
	}

	visited := 0

	m.Walk(func(*session.Session) bool {
		visited++
		return visited < 2
	})

	assert.Equal(t, 2, visited)
}

func TestSessionManagerConcurrent(t *testing.T) {
	t.Parallel()

	m := NewSessionManager(8)

	sessions := make([]*session.Session, 8)
	for i := range sessions {
		sessions[i] = newPipeSession(t, uint64(i+1))
	}

	var wg sync.WaitGroup

	for _, s := range sessions {
		wg.Add(1)

		go func() {
			defer wg.Done()

			m.Put(s)
			_ = m.Session(s.ID())
		}()
	}

	wg.Wait()
	assert.Equal(t, len(sessions), m.Len())
}
