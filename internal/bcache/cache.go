package bcache

import (
	"container/list"
	"log/slog"
	"sync"

	"github.com/objectfs/fatvfs/internal/buffer"
	"github.com/objectfs/fatvfs/pkg/errors"
	"github.com/objectfs/fatvfs/pkg/types"
)

// Policy selects the eviction victim.
type Policy string

const (
	// PolicyLRU evicts the head least recently returned by GetBlock.
	PolicyLRU Policy = "lru"
	// PolicyFIFO evicts the head inserted first; hits do not reorder.
	PolicyFIFO Policy = "fifo"
)

// BufferHead is one cached block. Data is owned by the head and is valid
// until the head is evicted or invalidated.
type BufferHead struct {
	Device types.BlockDevice
	Block  uint64
	Size   int
	Data   []byte
	Dirty  bool
	// New is set when the head was just allocated and Data is not yet populated.
	New bool

	element *list.Element
}

type blockKey struct {
	dev   types.BlockDevice
	block uint64
}

// Config bounds the cache.
type Config struct {
	// MaxMemory is the byte budget for block data.
	MaxMemory int64
	// MaxBuffers is the number of buffer heads. Zero derives it from MaxMemory
	// assuming 512-byte blocks.
	MaxBuffers int
	Policy     Policy
}

// Option configures optional collaborators of a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for eviction and write-back events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics reports hits, misses and evictions to collector.
func WithMetrics(collector types.MetricsCollector) Option {
	return func(c *Cache) {
		c.metrics = collector
	}
}

// Cache is a fixed-capacity block buffer cache keyed by (device, block).
//
// Device values are used as map keys and must be comparable; every device
// type in this module is a pointer.
type Cache struct {
	mu     sync.Mutex
	index  map[blockKey]*list.Element
	order  *list.List // front is the most recent
	heads  *buffer.SlotPool[BufferHead]
	data   *buffer.Allocator
	policy Policy

	logger  *slog.Logger
	metrics types.MetricsCollector

	stats types.CacheStats
}

// New creates a cache holding at most cfg.MaxMemory bytes in at most cfg.MaxBuffers heads.
func New(cfg Config, opts ...Option) (*Cache, error) {
	if cfg.MaxMemory <= 0 {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "cache max_memory must be positive").
			WithComponent("bcache")
	}
	if cfg.MaxBuffers <= 0 {
		cfg.MaxBuffers = int(cfg.MaxMemory / 512)
		if cfg.MaxBuffers == 0 {
			cfg.MaxBuffers = 1
		}
	}
	switch cfg.Policy {
	case "":
		cfg.Policy = PolicyLRU
	case PolicyLRU, PolicyFIFO:
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "unknown eviction policy %q", cfg.Policy).
			WithComponent("bcache")
	}

	c := &Cache{
		index:  make(map[blockKey]*list.Element),
		order:  list.New(),
		heads:  buffer.NewSlotPool[BufferHead](cfg.MaxBuffers),
		data:   buffer.NewAllocator(cfg.MaxMemory),
		policy: cfg.Policy,
		logger: slog.Default().With("component", "bcache"),
		stats: types.CacheStats{
			Capacity: cfg.MaxMemory,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetBlock returns the buffer for (dev, block), allocating it on a miss.
//
// A hit returns the same *BufferHead as the previous call for the key. A miss
// returns a head with New set and undefined Data, which the caller fills.
// When memory or heads run out, victims are evicted, written back first if
// dirty, until size bytes were reclaimed.
func (c *Cache) GetBlock(dev types.BlockDevice, block uint64, size int) (*BufferHead, error) {
	if dev == nil || size <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidArgument, "invalid block request: size %d", size).
			WithComponent("bcache").WithOperation("get_block")
	}
	if int64(size) > c.data.Capacity() {
		return nil, errors.Newf(errors.ErrCodeRequestTooLarge,
			"block size %d exceeds cache capacity %d", size, c.data.Capacity()).
			WithComponent("bcache").WithOperation("get_block")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := blockKey{dev: dev, block: block}
	if el, ok := c.index[k]; ok {
		bh := el.Value.(*BufferHead)
		if bh.Size != size {
			return nil, errors.Newf(errors.ErrCodeInvalidArgument,
				"block %d cached with size %d, requested %d", block, bh.Size, size).
				WithComponent("bcache").WithOperation("get_block")
		}
		if c.policy == PolicyLRU {
			c.order.MoveToFront(el)
		}
		c.stats.Hits++
		if c.metrics != nil {
			c.metrics.RecordCacheHit(dev.ID(), int64(size))
		}
		return bh, nil
	}

	c.stats.Misses++
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(dev.ID(), int64(size))
	}

	for {
		bh := c.heads.Get()
		data := c.data.Alloc(size)
		if bh != nil && data != nil {
			bh.Device = dev
			bh.Block = block
			bh.Size = size
			bh.Data = data
			bh.New = true
			bh.element = c.order.PushFront(bh)
			c.index[k] = bh.element
			return bh, nil
		}

		c.heads.Put(bh)
		c.data.Free(data)

		if err := c.reclaimLocked(int64(size)); err != nil {
			return nil, err
		}
	}
}

// reclaimLocked evicts victims until at least size bytes were released.
// Every pass evicts at least one head or fails, so the retry loop in GetBlock is bounded.
func (c *Cache) reclaimLocked(size int64) error {
	if c.order.Len() == 0 {
		return errors.NewError(errors.ErrCodeResourceExhausted, "cache is empty and allocation failed").
			WithComponent("bcache").WithOperation("reclaim")
	}

	var freed int64
	for freed < size && c.order.Len() > 0 {
		victim := c.order.Back().Value.(*BufferHead)
		if victim.Dirty {
			if err := c.FlushBlock(victim); err != nil {
				c.logger.Warn("write-back failed, keeping buffer",
					"device", victim.Device.ID(), "block", victim.Block, "error", err)
				if c.metrics != nil {
					c.metrics.RecordError("bcache.writeback", err)
				}
				return err
			}
			c.stats.WriteBacks++
		}

		freed += int64(victim.Size)
		c.logger.Debug("evicted buffer",
			"device", victim.Device.ID(), "block", victim.Block, "dirty", victim.Dirty)
		if c.metrics != nil {
			c.metrics.RecordEviction(victim.Device.ID(), victim.Dirty)
		}
		c.stats.Evictions++
		c.removeLocked(victim)
	}
	return nil
}

func (c *Cache) removeLocked(bh *BufferHead) {
	delete(c.index, blockKey{dev: bh.Device, block: bh.Block})
	c.order.Remove(bh.element)
	c.data.Free(bh.Data)
	c.heads.Put(bh)
}

// FlushBlock writes bh to its device. It does not clear Dirty.
func (c *Cache) FlushBlock(bh *BufferHead) error {
	if err := bh.Device.Write(bh.Data, bh.Size, bh.Block); err != nil {
		return errors.Wrap(errors.ErrCodeIOWrite, "flush block", err).
			WithComponent("bcache").
			WithOperation("flush_block").
			WithDetail("block", bh.Block).
			WithContext("device", bh.Device.ID())
	}
	return nil
}

// MarkDirty flags bh for write-back.
func (c *Cache) MarkDirty(bh *BufferHead) {
	c.mu.Lock()
	bh.Dirty = true
	c.mu.Unlock()
}

// Sync writes back and cleans every dirty head of dev, or of all devices when dev is nil.
// All heads are attempted; the first error is returned.
func (c *Cache) Sync(dev types.BlockDevice) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for el := c.order.Back(); el != nil; el = el.Prev() {
		bh := el.Value.(*BufferHead)
		if !bh.Dirty || (dev != nil && bh.Device != dev) {
			continue
		}
		if err := c.FlushBlock(bh); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		bh.Dirty = false
		c.stats.WriteBacks++
	}
	return firstErr
}

// Drop removes bh without writing it back, e.g. after a failed fill.
func (c *Cache) Drop(bh *BufferHead) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[blockKey{dev: bh.Device, block: bh.Block}]; ok && el == bh.element {
		c.removeLocked(bh)
	}
}

// Invalidate drops every head of dev without writing it back.
func (c *Cache) Invalidate(dev types.BlockDevice) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var next *list.Element
	for el := c.order.Front(); el != nil; el = next {
		next = el.Next()
		if bh := el.Value.(*BufferHead); bh.Device == dev {
			c.removeLocked(bh)
		}
	}
}

// Dirty returns the number of dirty heads of dev, or of all devices when dev is nil.
func (c *Cache) Dirty(dev types.BlockDevice) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for el := c.order.Front(); el != nil; el = el.Next() {
		if bh := el.Value.(*BufferHead); bh.Dirty && (dev == nil || bh.Device == dev) {
			n++
		}
	}
	return n
}

// Len returns the number of cached heads.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity returns the byte budget for block data.
func (c *Cache) Capacity() int64 {
	return c.data.Capacity()
}

// Stats returns cache statistics
func (c *Cache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Buffers = c.order.Len()
	stats.Size = c.data.Used()
	stats.ComputeRates()
	return stats
}
