// Package bufpool is a slab allocator for frame bodies.
package bufpool

import (
	"slices"
	"sort"
	"sync"

	"github.com/go-pantheon/fabrica-util/errors"
)

type Pool interface {
	Alloc(int) []byte
	Free([]byte)
}

var _ Pool = (*SyncPool)(nil)

var (
	ErrThresholdsRequired  = errors.New("thresholds must not be empty")
	ErrThresholdsNotSorted = errors.New("thresholds must be sorted in ascending order")
)

var (
	defaultOnce sync.Once
	defaultPool *SyncPool
)

// Default returns the process wide pool sized for XML packets: most
// responses fit in a few hundred bytes, property dumps and source listings
// run to tens of kilobytes.
func Default() *SyncPool {
	defaultOnce.Do(func() {
		p, err := New([]int{512, 2048, 8192, 32768, 131072})
		if err != nil {
			panic("failed to initialize frame buffer pool: " + err.Error())
		}

		defaultPool = p
	})

	return defaultPool
}

// SyncPool keeps one sync.Pool per size class. Class i serves sizes up to
// thresholds[i]; sizes above the last threshold are allocated directly.
type SyncPool struct {
	pools      []sync.Pool
	thresholds []int
}

func New(thresholds []int) (*SyncPool, error) {
	if len(thresholds) == 0 {
		return nil, ErrThresholdsRequired
	}

	for i := 1; i < len(thresholds); i++ {
		if thresholds[i] <= thresholds[i-1] {
			return nil, ErrThresholdsNotSorted
		}
	}

	pools := make([]sync.Pool, len(thresholds))

	for i := range pools {
		size := thresholds[i]
		pools[i].New = func() any {
			buf := make([]byte, size)
			return &buf
		}
	}

	return &SyncPool{
		pools:      pools,
		thresholds: slices.Clone(thresholds),
	}, nil
}

func (pool *SyncPool) class(size int) int {
	return sort.SearchInts(pool.thresholds, size)
}

// Alloc returns a slice of len size.
func (pool *SyncPool) Alloc(size int) []byte {
	if size <= 0 {
		return make([]byte, 0)
	}

	i := pool.class(size)
	if i >= len(pool.pools) {
		return make([]byte, size)
	}

	mem := pool.pools[i].Get().(*[]byte)

	return (*mem)[:size]
}

// Free returns mem to its class. Slices not obtained from Alloc with an
// exact class capacity are dropped.
func (pool *SyncPool) Free(mem []byte) {
	c := cap(mem)

	i := pool.class(c)
	if i >= len(pool.thresholds) || pool.thresholds[i] != c {
		return
	}

	mem = mem[:c]
	pool.pools[i].Put(&mem)
}

func (pool *SyncPool) Thresholds() []int {
	return slices.Clone(pool.thresholds)
}
