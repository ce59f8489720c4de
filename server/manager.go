package server

import (
	"math/bits"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/go-pantheon/fabrica-dbgp/session"
)

// SessionManager indexes live sessions by id over power-of-two shards.
type SessionManager struct {
	buckets    []*sync.Map
	size       *atomic.Int64
	shardCount uint64
}

func NewSessionManager(bucketSize int) *SessionManager {
	if bucketSize <= 0 {
		bucketSize = 1
	}

	bucketSize = 1 << bits.Len(uint(bucketSize-1))

	m := &SessionManager{
		buckets:    make([]*sync.Map, uint64(bucketSize)),
		size:       &atomic.Int64{},
		shardCount: uint64(bucketSize),
	}

	for i := range m.shardCount {
		m.buckets[i] = &sync.Map{}
	}

	return m
}

func (m *SessionManager) Session(id uint64) *session.Session {
	if s, ok := m.getBucket(id).Load(id); ok {
		return s.(*session.Session)
	}

	return nil
}

// Put registers s under its id, replacing any session already there, and
// returns the replaced one.
func (m *SessionManager) Put(s *session.Session) (old *session.Session) {
	prev, loaded := m.getBucket(s.ID()).Swap(s.ID(), s)
	if !loaded {
		m.size.Add(1)
		return nil
	}

	if old = prev.(*session.Session); old == s {
		return nil
	}

	return old
}

// Del removes s only while it is still the session registered under its id.
func (m *SessionManager) Del(s *session.Session) {
	if m.getBucket(s.ID()).CompareAndDelete(s.ID(), s) {
		m.size.Add(-1)
	}
}

func (m *SessionManager) Len() int {
	return int(m.size.Load())
}

func (m *SessionManager) Walk(f func(s *session.Session) bool) {
	continued := true

	for _, b := range m.buckets {
		b.Range(func(key, value any) bool {
			v, ok := value.(*session.Session)
			if !ok {
				return true
			}

			continued = f(v)

			return continued
		})

		if !continued {
			break
		}
	}
}

// List returns the live sessions ordered by id.
func (m *SessionManager) List() []*session.Session {
	list := make([]*session.Session, 0, m.Len())

	m.Walk(func(s *session.Session) bool {
		list = append(list, s)
		return true
	})

	sort.Slice(list, func(i, j int) bool {
		return list[i].ID() < list[j].ID()
	})

	return list
}

func (m *SessionManager) getBucket(id uint64) *sync.Map {
	return m.buckets[getBucketKey(id, m.shardCount)]
}

func getBucketKey(id uint64, shardCount uint64) uint64 {
	return wyhash(id) & (shardCount - 1)
}

// wyhash generates a 64-bit hash for the given 64-bit key using wyhash algorithm.
func wyhash(key uint64) uint64 {
	x := key
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33

	return x
}
