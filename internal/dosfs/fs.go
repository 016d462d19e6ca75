package dosfs

import (
	"log/slog"
	"time"

	"github.com/objectfs/fatvfs/internal/bcache"
	"github.com/objectfs/fatvfs/internal/fat"
	"github.com/objectfs/fatvfs/pkg/errors"
	"github.com/objectfs/fatvfs/pkg/types"
)

var _ fat.Primitives = (*FS)(nil)

// Option configures an FS.
type Option func(*FS)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *FS) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock sets the time source for directory entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *FS) {
		if now != nil {
			d.now = now
		}
	}
}

// FS implements fat.Primitives. All sector I/O goes through one block
// buffer cache, which may be shared by several mounted devices.
type FS struct {
	cache  *bcache.Cache
	logger *slog.Logger
	now    func() time.Time
}

// New creates the primitive layer on top of cache.
func New(cache *bcache.Cache, opts ...Option) *FS {
	d := &FS{
		cache:  cache,
		logger: slog.Default().With("component", "dosfs"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// block returns the cached sector, filling it from the device on a miss.
func (d *FS) block(dev types.BlockDevice, sector uint32, size int) (*bcache.BufferHead, error) {
	bh, err := d.cache.GetBlock(dev, uint64(sector), size)
	if err != nil {
		return nil, err
	}
	if bh.New {
		if err := dev.Read(bh.Data, size, uint64(sector)); err != nil {
			d.cache.Drop(bh)
			return nil, errors.Wrap(errors.ErrCodeIORead, "read sector", err).
				WithComponent("dosfs").WithDetail("sector", sector).WithContext("device", dev.ID())
		}
		bh.New = false
	}
	return bh, nil
}

// ReadSector implements fat.Primitives
func (d *FS) ReadSector(fs *fat.FsInfo, buf []byte, sector uint32) error {
	size := int(fs.Vol.SectorSize)
	if len(buf) < size {
		return errors.Newf(errors.ErrCodeInvalidArgument, "buffer of %d bytes for %d byte sectors", len(buf), size).
			WithComponent("dosfs").WithOperation("read_sector")
	}
	bh, err := d.block(fs.Device, sector, size)
	if err != nil {
		return err
	}
	copy(buf[:size], bh.Data)
	return nil
}

// WriteSector stores buf as the new contents of sector. The device is
// written on eviction or Sync.
func (d *FS) WriteSector(fs *fat.FsInfo, buf []byte, sector uint32) error {
	size := int(fs.Vol.SectorSize)
	if len(buf) < size {
		return errors.Newf(errors.ErrCodeInvalidArgument, "buffer of %d bytes for %d byte sectors", len(buf), size).
			WithComponent("dosfs").WithOperation("write_sector")
	}
	bh, err := d.cache.GetBlock(fs.Device, uint64(sector), size)
	if err != nil {
		return err
	}
	copy(bh.Data, buf[:size])
	bh.New = false
	d.cache.MarkDirty(bh)
	return nil
}

// zeroCluster clears every sector of cluster c.
func (d *FS) zeroCluster(fs *fat.FsInfo, c uint32) error {
	zero := make([]byte, fs.Vol.SectorSize)
	first := fs.Vol.ClusterSector(c)
	for i := uint32(0); i < fs.Vol.SecPerClus; i++ {
		if err := d.WriteSector(fs, zero, first+i); err != nil {
			return err
		}
	}
	return nil
}

type syncer interface {
	Sync() error
}

// Sync implements fat.Primitives
func (d *FS) Sync(fs *fat.FsInfo) error {
	if err := d.cache.Sync(fs.Device); err != nil {
		return err
	}
	if s, ok := fs.Device.(syncer); ok {
		if err := s.Sync(); err != nil {
			return errors.Wrap(errors.ErrCodeIOWrite, "sync device", err).
				WithComponent("dosfs").WithContext("device", fs.Device.ID())
		}
	}
	return nil
}
