/*
Package adapter assembles a FAT volume from configuration and serves it.

The Adapter owns every layer between a device path and the kernel:

	┌─────────────────────────────────────────────┐
	│            Kernel VFS / FUSE                │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│  internal/fuse    go-fuse or cgofuse nodes  │
	├─────────────────────────────────────────────┤
	│  internal/vfs     superblock, dentries      │
	├─────────────────────────────────────────────┤
	│  internal/fat     FAT driver + primitives   │ ← internal/dosfs
	├─────────────────────────────────────────────┤
	│  internal/bcache  block buffer cache        │
	└─────────────────────────────────────────────┘
	        │                            │
	┌───────┴──────────┐      ┌──────────┴────────┐
	│ blockdev.File    │      │ s3.ImageStore     │
	│ local image      │      │ whole-image object│
	└──────────────────┘      └───────────────────┘

# Device paths

	/var/lib/disk.img          local image, created and formatted if missing
	file:///var/lib/disk.img   same as above
	s3://bucket/images/a.img   object downloaded into memory on Open and
	                           uploaded again on every Sync

# Lifecycle

	a, err := adapter.New(cfg)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {  // Open + metrics + FUSE mount
		return err
	}
	a.Wait()
	return a.Stop(context.Background())

Tools that only need the VFS call Open instead of Start and work through
SuperBlock directly.
*/
package adapter
