package types

import (
	"context"
	"io"
	"time"
)

// BlockDevice is a raw block-addressable storage device.
//
// Read and Write transfer exactly blockSize bytes at byte offset block*blockSize.
// The io.ReaderAt/io.WriterAt/io.Seeker methods expose the same bytes for
// partition-table tooling.
type BlockDevice interface {
	Read(buf []byte, blockSize int, block uint64) error
	Write(buf []byte, blockSize int, block uint64) error
	BlockSize() int
	Size() int64
	ID() string

	io.ReaderAt
	io.WriterAt
	io.Seeker
}

// Backend defines the interface for remote disk-image storage
type Backend interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, data []byte) error
	HeadObject(ctx context.Context, key string) (*ObjectInfo, error)
}

// MetricsCollector defines the metrics collection interface
type MetricsCollector interface {
	RecordOperation(operation string, duration time.Duration, size int64, success bool)
	RecordCacheHit(device string, size int64)
	RecordCacheMiss(device string, size int64)
	RecordEviction(device string, dirty bool)
	RecordError(operation string, err error)
	GetMetrics() map[string]interface{}
}
