/*
Package types provides the core interfaces and data structures shared across fatvfs.

	┌─────────────────────────────────────────────┐
	│        FUSE frontends (internal/fuse)       │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│   VFS (internal/vfs) + FAT (internal/fat)   │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│ FAT primitives (internal/dosfs)             │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│ Block buffer cache (internal/bcache)        │
	└─────────────────────────────────────────────┘
	                      │
	┌──────────────────────┐ ┌────────────────────┐
	│ BlockDevice          │ │ Backend (S3)       │
	│ (internal/blockdev)  │ │ (storage/s3)       │
	└──────────────────────┘ └────────────────────┘

BlockDevice:
Raw block-addressed storage. Implementations must tolerate reads and writes of any
block inside Size(); they are not required to be safe for concurrent use.

Backend:
Whole-object storage for disk images. An image is fetched once at startup and written
back on shutdown.

MetricsCollector:
Operation, cache and error reporting for Prometheus integration.
*/
package types
