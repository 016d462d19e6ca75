package buffer

import (
	"sync"
)

// Allocator hands out byte slices against a fixed byte budget.
// Alloc returns nil instead of growing past the budget; callers reclaim and retry.
type Allocator struct {
	mu       sync.Mutex
	pool     *BytePool
	capacity int64
	used     int64
}

// NewAllocator creates an allocator that never has more than capacity bytes outstanding
func NewAllocator(capacity int64) *Allocator {
	return &Allocator{
		pool:     NewBytePool(),
		capacity: capacity,
	}
}

// Alloc returns a zeroed slice of size bytes, or nil when the budget is exhausted
func (a *Allocator) Alloc(size int) []byte {
	if size <= 0 {
		return nil
	}

	a.mu.Lock()
	if a.used+int64(size) > a.capacity {
		a.mu.Unlock()
		return nil
	}
	a.used += int64(size)
	a.mu.Unlock()

	return a.pool.Get(size)
}

// Free returns buf to the allocator. The slice must not be used afterwards.
func (a *Allocator) Free(buf []byte) {
	if buf == nil {
		return
	}

	a.mu.Lock()
	a.used -= int64(len(buf))
	if a.used < 0 {
		a.used = 0
	}
	a.mu.Unlock()

	a.pool.Put(buf)
}

// Capacity returns the byte budget
func (a *Allocator) Capacity() int64 {
	return a.capacity
}

// Used returns the number of bytes currently outstanding
func (a *Allocator) Used() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}
