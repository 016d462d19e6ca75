package buffer

import (
	"sync"
)

// SlotPool is a fixed-size pool of T objects.
// Get returns nil once every slot is handed out; it never grows.
type SlotPool[T any] struct {
	mu    sync.Mutex
	free  []*T
	size  int
	inUse int
}

// NewSlotPool preallocates size objects
func NewSlotPool[T any](size int) *SlotPool[T] {
	p := &SlotPool[T]{
		free: make([]*T, 0, size),
		size: size,
	}
	for i := 0; i < size; i++ {
		p.free = append(p.free, new(T))
	}
	return p
}

// Get takes a zeroed object out of the pool, or nil when exhausted
func (p *SlotPool[T]) Get() *T {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.free)
	if n == 0 {
		return nil
	}
	obj := p.free[n-1]
	p.free = p.free[:n-1]
	p.inUse++
	return obj
}

// Put zeroes obj and returns it to the pool
func (p *SlotPool[T]) Put(obj *T) {
	if obj == nil {
		return
	}

	var zero T
	*obj = zero

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) < p.size {
		p.free = append(p.free, obj)
		p.inUse--
	}
}

// Size returns the total number of slots
func (p *SlotPool[T]) Size() int {
	return p.size
}

// InUse returns the number of slots currently handed out
func (p *SlotPool[T]) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}
