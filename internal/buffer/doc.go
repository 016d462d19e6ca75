// Package buffer provides the bounded memory primitives beneath the block buffer cache:
// a fixed-size object pool for buffer heads and a byte allocator with a hard budget.
package buffer
