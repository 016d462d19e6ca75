/*
Package bcache implements the block buffer cache.

Blocks are cached per (device, block number) with at most one BufferHead per key.
Memory is bounded twice: a fixed number of heads and a byte budget for block data.
When either runs out, GetBlock evicts victims in policy order (strict LRU by
default, FIFO optionally), writing dirty victims back to their device before
their memory is reused.

	cache, err := bcache.New(bcache.Config{MaxMemory: 1 << 20, MaxBuffers: 2048})
	bh, err := cache.GetBlock(dev, 42, 512)
	if bh.New {
		err = dev.Read(bh.Data, bh.Size, bh.Block)
		bh.New = false
	}
	copy(bh.Data[16:], payload)
	cache.MarkDirty(bh)
	err = cache.Sync(dev)

A request larger than the byte budget fails with ErrRequestTooLarge rather than
evicting forever. A failed write-back leaves the victim cached and dirty and
returns the device error.
*/
package bcache
