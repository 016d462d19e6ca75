package adapter

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/objectfs/fatvfs/internal/bcache"
	"github.com/objectfs/fatvfs/internal/blockdev"
	"github.com/objectfs/fatvfs/internal/config"
	"github.com/objectfs/fatvfs/internal/dosfs"
	"github.com/objectfs/fatvfs/internal/fat"
	"github.com/objectfs/fatvfs/internal/fuse"
	"github.com/objectfs/fatvfs/internal/metrics"
	"github.com/objectfs/fatvfs/internal/storage/s3"
	"github.com/objectfs/fatvfs/internal/vfs"
	"github.com/objectfs/fatvfs/pkg/errors"
	"github.com/objectfs/fatvfs/pkg/retry"
	"github.com/objectfs/fatvfs/pkg/types"
)

// Device kinds accepted in config.Device.Path.
const (
	KindFile = "file"
	KindS3   = "s3"
)

// Adapter wires a configured device through the block cache, the FAT
// primitives and the VFS, and optionally serves the result over FUSE.
type Adapter struct {
	config  *config.Configuration
	logger  *slog.Logger
	metrics *metrics.Collector

	cache    *bcache.Cache
	registry *vfs.Registry

	backend types.Backend

	mu      sync.Mutex
	device  types.BlockDevice
	image   *s3.ImageStore
	sb      *vfs.SuperBlock
	mount   fuse.PlatformFileSystem
	created bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the adapter's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithBackend supplies the object store used for s3:// devices instead of
// connecting to AWS.
func WithBackend(backend types.Backend) Option {
	return func(a *Adapter) {
		a.backend = backend
	}
}

// New validates cfg and builds the cache, metrics and driver registry.
// No device is opened until Open.
func New(cfg *config.Configuration, opts ...Option) (*Adapter, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigValidation, "invalid configuration", err).
			WithComponent("adapter")
	}

	a := &Adapter{
		config: cfg,
		logger: slog.Default().With("component", "adapter"),
	}
	for _, opt := range opts {
		opt(a)
	}

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Monitoring.Metrics.Enabled,
		Port:      cfg.Global.MetricsPort,
		Path:      "/metrics",
		Labels:    cfg.Monitoring.Metrics.CustomLabels,
		Namespace: "fatvfs",
	})
	if err != nil {
		return nil, err
	}
	a.metrics = collector

	memory, err := cfg.CacheMemoryBytes()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "cache max_memory", err).
			WithComponent("adapter")
	}
	a.cache, err = bcache.New(bcache.Config{
		MaxMemory:  memory,
		MaxBuffers: cfg.Cache.MaxBuffers,
		Policy:     bcache.Policy(cfg.Cache.EvictionPolicy),
	}, bcache.WithLogger(a.logger.With("component", "bcache")), bcache.WithMetrics(collector))
	if err != nil {
		return nil, err
	}

	prims := dosfs.New(a.cache, dosfs.WithLogger(a.logger.With("component", "dosfs")))
	a.registry = vfs.NewRegistry()
	driver := fat.New(prims,
		fat.WithLogger(a.logger.With("component", "fat")),
		fat.WithMetrics(collector),
	)
	if err := driver.Register(a.registry); err != nil {
		return nil, err
	}
	return a, nil
}

// ParseDevicePath classifies a device path. Plain paths and file:// URIs
// name local images; s3://bucket/key names an object.
func ParseDevicePath(path string) (kind, location string, err error) {
	switch {
	case path == "":
		return "", "", errors.NewError(errors.ErrCodeInvalidConfig, "device path is empty").
			WithComponent("adapter")
	case strings.HasPrefix(path, s3.URIScheme):
		if _, _, err := s3.ParseURI(path); err != nil {
			return "", "", err
		}
		return KindS3, path, nil
	case strings.HasPrefix(path, "file://"):
		location = strings.TrimPrefix(path, "file://")
		if location == "" {
			return "", "", errors.Newf(errors.ErrCodeInvalidConfig, "%q names no file", path).
				WithComponent("adapter")
		}
		return KindFile, location, nil
	case strings.Contains(path, "://"):
		return "", "", errors.Newf(errors.ErrCodeInvalidConfig, "unsupported device scheme in %q (use a path, file:// or s3://)", path).
			WithComponent("adapter")
	default:
		return KindFile, path, nil
	}
}

// Open opens the configured device and mounts its FAT volume in the VFS.
// A device that did not exist is created at Filesystem.ImageSize and
// formatted first.
func (a *Adapter) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sb != nil {
		return errors.NewError(errors.ErrCodeAlreadyMounted, "device already open").
			WithComponent("adapter")
	}
	if err := a.openDeviceLocked(ctx); err != nil {
		return err
	}
	if a.created {
		if err := a.formatLocked(); err != nil {
			a.closeDeviceLocked()
			return err
		}
	}

	sb, err := vfs.Mount(a.registry, a.config.Filesystem.Driver, a.device)
	if err != nil {
		a.closeDeviceLocked()
		return err
	}
	a.sb = sb

	vol := sb.Data.(*fat.FsInfo).Vol
	a.logger.Info("volume mounted",
		"device", a.config.Device.Path,
		"fat_type", vol.FATType,
		"clusters", vol.NumClusters,
		"cluster_bytes", vol.ClusterBytes(),
		"created", a.created)
	return nil
}

func (a *Adapter) openDeviceLocked(ctx context.Context) error {
	kind, location, err := ParseDevicePath(a.config.Device.Path)
	if err != nil {
		return err
	}
	size, err := a.config.ImageSizeBytes()
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, "filesystem image_size", err).
			WithComponent("adapter")
	}
	blockSize := a.config.Device.BlockSize

	if kind == KindS3 {
		bucket, key, _ := s3.ParseURI(location)
		backend := a.backend
		if backend == nil {
			s3cfg := s3.NewDefaultConfig()
			s3cfg.Region = a.config.Storage.S3.Region
			s3cfg.Endpoint = a.config.Storage.S3.Endpoint
			s3cfg.ForcePathStyle = a.config.Storage.S3.UsePathStyle
			s3cfg.EnableCargoShip = a.config.Storage.S3.UseCargoship
			s3cfg.StorageClass = a.config.Storage.S3.StorageClass
			s3cfg.Concurrency = a.config.Storage.S3.Concurrency
			s3cfg.MaxRetries = a.config.Retry.MaxAttempts
			s3cfg.AccessKeyID = a.config.Storage.S3.AccessKeyID
			s3cfg.SecretAccessKey = a.config.Storage.S3.SecretAccessKey
			if backend, err = s3.NewBackend(ctx, bucket, s3cfg); err != nil {
				return err
			}
		}

		a.image = s3.NewImageStore(backend, key, a.retryConfig())
		dev, created, err := a.image.Load(ctx, size, blockSize)
		if err != nil {
			return err
		}
		if a.config.Device.ReadOnly {
			dev.SetReadOnly(true)
		}
		a.device, a.created = dev, created
		return nil
	}

	opts := blockdev.Options{
		BlockSize: blockSize,
		ReadOnly:  a.config.Device.ReadOnly,
		Retry:     *a.retryConfig(),
		Logger:    a.logger.With("component", "blockdev"),
	}
	if !FileExists(location) && !a.config.Device.ReadOnly {
		a.logger.Info("creating image", "path", location, "size", size)
		dev, err := blockdev.Create(location, size, opts)
		if err != nil {
			return err
		}
		a.device, a.created = dev, true
		return nil
	}
	dev, err := blockdev.Open(location, opts)
	if err != nil {
		return err
	}
	a.device = dev
	return nil
}

func (a *Adapter) retryConfig() *retry.Config {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = a.config.Retry.MaxAttempts
	rc.InitialDelay = a.config.Retry.BaseDelay
	rc.MaxDelay = a.config.Retry.MaxDelay
	return &rc
}

// Format writes an empty volume to the device, opening or creating it
// first if needed, and mounts the result.
func (a *Adapter) Format(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.device == nil {
		if err := a.openDeviceLocked(ctx); err != nil {
			return err
		}
	}
	if a.mount != nil && a.mount.IsMounted() {
		return errors.NewError(errors.ErrCodeInvalidState, "cannot format while mounted over FUSE").
			WithComponent("adapter")
	}
	if err := a.formatLocked(); err != nil {
		return err
	}
	sb, err := vfs.Mount(a.registry, a.config.Filesystem.Driver, a.device)
	if err != nil {
		a.closeDeviceLocked()
		return err
	}
	a.sb = sb
	return nil
}

func (a *Adapter) formatLocked() error {
	opts := strconv.Itoa(a.config.Filesystem.FATType)
	if err := vfs.Format(a.registry, a.config.Filesystem.Driver, a.device, opts); err != nil {
		return err
	}
	a.logger.Info("volume formatted", "device", a.device.ID(), "fat_type", opts)
	return nil
}

// SuperBlock returns the mounted superblock, nil before Open.
func (a *Adapter) SuperBlock() *vfs.SuperBlock {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sb
}

// Created reports whether Open had to create and format the device.
func (a *Adapter) Created() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.created
}

// Metrics returns the metrics collector.
func (a *Adapter) Metrics() *metrics.Collector {
	return a.metrics
}

// CacheStats returns a snapshot of the block cache and publishes it.
func (a *Adapter) CacheStats() types.CacheStats {
	stats := a.cache.Stats()
	a.metrics.UpdateCacheStats(stats)
	return stats
}

// Start opens the device, starts the metrics endpoint and mounts the volume
// at Mount.MountPoint.
func (a *Adapter) Start(ctx context.Context) error {
	if a.SuperBlock() == nil {
		if err := a.Open(ctx); err != nil {
			return err
		}
	}
	if err := a.metrics.Start(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.config.Mount.Backend != fuse.BackendName {
		a.logger.Warn("requested FUSE backend is not compiled in", "requested", a.config.Mount.Backend, "using", fuse.BackendName)
	}
	fcfg := fuse.DefaultConfig()
	fcfg.MountPoint = a.config.Mount.MountPoint
	fcfg.ReadOnly = a.config.Device.ReadOnly
	fcfg.AllowOther = a.config.Mount.AllowOther
	fcfg.Debug = a.config.Mount.Debug

	mount := fuse.CreatePlatformMountManager(a.sb, a.metrics, fcfg)
	if err := mount.Mount(ctx); err != nil {
		return err
	}
	a.mount = mount
	a.logger.Info("serving volume", "mount_point", fcfg.MountPoint, "backend", fuse.BackendName)
	return nil
}

// Wait blocks until the FUSE mount goes away.
func (a *Adapter) Wait() {
	a.mu.Lock()
	mount := a.mount
	a.mu.Unlock()
	if mount != nil {
		mount.Wait()
	}
}

// Sync writes dirty blocks back to the device and, for s3:// devices,
// uploads the image.
func (a *Adapter) Sync(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.syncLocked(ctx)
}

func (a *Adapter) syncLocked(ctx context.Context) error {
	if a.sb == nil {
		return nil
	}
	if err := a.sb.Sync(); err != nil {
		return err
	}
	a.metrics.UpdateCacheStats(a.cache.Stats())
	if a.image != nil && !a.config.Device.ReadOnly {
		if mem, ok := a.device.(*blockdev.MemDevice); ok {
			return a.image.Save(ctx, mem)
		}
	}
	return nil
}

// Stop unmounts, syncs and releases the device. It is safe to call after a
// failed or partial Start. When the sync fails the device stays open with
// its unwritten blocks, and Stop may be called again.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var firstErr error
	if a.mount != nil && a.mount.IsMounted() {
		if err := a.mount.Unmount(); err != nil {
			a.logger.Error("unmount failed", "error", err)
			firstErr = err
		}
	}
	a.mount = nil

	if err := a.syncLocked(ctx); err != nil {
		// keep the device and its dirty blocks so a later Stop or Sync can retry
		if a.device != nil {
			a.logger.Error("sync failed, keeping device open", "device", a.config.Device.Path,
				"dirty_blocks", a.cache.Dirty(a.device), "error", err)
		}
		if firstErr == nil {
			firstErr = err
		}
	} else {
		a.closeDeviceLocked()
	}

	if err := a.metrics.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	a.logger.Info("adapter stopped")
	return firstErr
}

func (a *Adapter) closeDeviceLocked() {
	if a.device != nil {
		a.cache.Invalidate(a.device)
		if f, ok := a.device.(*blockdev.FileDevice); ok {
			if err := f.Close(); err != nil {
				a.logger.Warn("closing device failed", "error", err)
			}
		}
	}
	a.device = nil
	a.sb = nil
	a.image = nil
}

// FileExists reports whether a local device path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
