package fuse

import (
	"context"
	stderrors "errors"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/objectfs/fatvfs/internal/vfs"
	"github.com/objectfs/fatvfs/pkg/errors"
	"github.com/objectfs/fatvfs/pkg/types"
)

// PlatformFileSystem is a mount driven by one of the FUSE bindings.
type PlatformFileSystem interface {
	Mount(ctx context.Context) error
	Unmount() error
	IsMounted() bool
	Wait()
	GetStats() *FilesystemStats
}

// Config represents FUSE mount configuration
type Config struct {
	MountPoint string `yaml:"mount_point"`
	ReadOnly   bool   `yaml:"read_only"`
	AllowOther bool   `yaml:"allow_other"`
	Debug      bool   `yaml:"debug"`
	FSName     string `yaml:"fsname"`

	// Ownership and permissions reported for every node; FAT has none.
	UID      uint32 `yaml:"uid"`
	GID      uint32 `yaml:"gid"`
	FileMode uint32 `yaml:"file_mode"`
	DirMode  uint32 `yaml:"dir_mode"`

	AttrTimeout  time.Duration `yaml:"attr_timeout"`
	EntryTimeout time.Duration `yaml:"entry_timeout"`

	// SyncOnRelease flushes the block cache when a written file is closed.
	SyncOnRelease bool `yaml:"sync_on_release"`
}

// DefaultConfig returns the configuration used when nil is passed.
func DefaultConfig() *Config {
	return &Config{
		FSName:        "fatvfs",
		UID:           safeIntToUint32(os.Getuid()),
		GID:           safeIntToUint32(os.Getgid()),
		FileMode:      0644,
		DirMode:       0755,
		AttrTimeout:   time.Second,
		EntryTimeout:  time.Second,
		SyncOnRelease: true,
	}
}

// FilesystemStats represents filesystem operation statistics
type FilesystemStats struct {
	Lookups      int64 `json:"lookups"`
	Opens        int64 `json:"opens"`
	Reads        int64 `json:"reads"`
	Writes       int64 `json:"writes"`
	Creates      int64 `json:"creates"`
	Deletes      int64 `json:"deletes"`
	BytesRead    int64 `json:"bytes_read"`
	BytesWritten int64 `json:"bytes_written"`
	Errors       int64 `json:"errors"`

	AvgReadTime  time.Duration `json:"avg_read_time"`
	AvgWriteTime time.Duration `json:"avg_write_time"`
}

// core is the binding-independent half of a mount: the superblock, its
// configuration and the counters.
type core struct {
	sb      *vfs.SuperBlock
	config  *Config
	metrics types.MetricsCollector
	started time.Time

	mu    sync.Mutex
	stats FilesystemStats
}

func newCore(sb *vfs.SuperBlock, metrics types.MetricsCollector, config *Config) *core {
	if config == nil {
		config = DefaultConfig()
	}
	return &core{sb: sb, config: config, metrics: metrics, started: time.Now()}
}

// observe counts op and forwards it to the metrics collector.
func (c *core) observe(op string, start time.Time, size int64, err error) {
	duration := time.Since(start)

	c.mu.Lock()
	switch op {
	case "lookup":
		c.stats.Lookups++
	case "open":
		c.stats.Opens++
	case "read":
		c.stats.Reads++
		c.stats.BytesRead += size
		c.stats.AvgReadTime = rolling(c.stats.AvgReadTime, duration, c.stats.Reads)
	case "write":
		c.stats.Writes++
		c.stats.BytesWritten += size
		c.stats.AvgWriteTime = rolling(c.stats.AvgWriteTime, duration, c.stats.Writes)
	case "create", "mkdir":
		c.stats.Creates++
	case "unlink", "rmdir":
		c.stats.Deletes++
	}
	if err != nil && !errors.IsNotFound(err) {
		c.stats.Errors++
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordOperation("fuse_"+op, duration, size, err == nil)
		if err != nil && !errors.IsNotFound(err) {
			c.metrics.RecordError("fuse_"+op, err)
		}
	}
}

func (c *core) snapshot() *FilesystemStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	return &s
}

func rolling(avg, sample time.Duration, n int64) time.Duration {
	if n == 1 {
		return sample
	}
	return time.Duration((int64(avg)*9 + int64(sample)) / 10)
}

// mode returns the st_mode for inode.
func (c *core) mode(inode *vfs.Inode) uint32 {
	if inode.IsDir() {
		return syscall.S_IFDIR | c.config.DirMode&vfs.ModePermMask
	}
	return syscall.S_IFREG | c.config.FileMode&vfs.ModePermMask
}

// child finds name in dir, refusing "." and ".." which the kernel resolves.
func (c *core) child(dir *vfs.Dentry, name string) (*vfs.Dentry, error) {
	if name == "." || name == ".." {
		return nil, errors.ErrInvalidArgument
	}
	return c.sb.Lookup(dir, name)
}

// stableIno returns the driver's identity for inode, or 0 to let the
// binding pick one.
func stableIno(inode *vfs.Inode) uint64 {
	if s, ok := inode.Data.(interface{ StableID() uint64 }); ok {
		return s.StableID()
	}
	return 0
}

const accMode = syscall.O_RDONLY | syscall.O_WRONLY | syscall.O_RDWR

// openFlags keeps the access mode and O_TRUNC of a FUSE open request.
// Offsets arrive with every read and write, so O_APPEND is dropped.
func openFlags(flags uint32) int {
	return int(flags) & (accMode | syscall.O_TRUNC)
}

func isWrite(flags int) bool {
	return flags&accMode != syscall.O_RDONLY
}

// shrinks reports whether opening d with flags would have to discard data.
// Files only grow through writes, so such opens are refused.
func shrinks(d *vfs.Dentry, flags int) bool {
	return flags&syscall.O_TRUNC != 0 && d.Inode.Length > 0
}

// toErrno maps a filesystem error to the errno reported to the kernel.
func toErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	if errno, ok := err.(syscall.Errno); ok {
		return errno
	}
	if stderrors.Is(err, context.Canceled) {
		return syscall.EINTR
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeFileNotFound, errors.ErrCodeEndOfDirectory, errors.ErrCodeObjectNotFound:
		return syscall.ENOENT
	case errors.ErrCodeFileExists:
		return syscall.EEXIST
	case errors.ErrCodeNotEmpty:
		return syscall.ENOTEMPTY
	case errors.ErrCodeNotDirectory:
		return syscall.ENOTDIR
	case errors.ErrCodeDiskFull, errors.ErrCodeDirectoryFull:
		return syscall.ENOSPC
	case errors.ErrCodeReadOnly:
		return syscall.EROFS
	case errors.ErrCodeInvalidArgument:
		return syscall.EINVAL
	case errors.ErrCodeRequestTooLarge:
		return syscall.EFBIG
	case errors.ErrCodeNotImplemented:
		return syscall.ENOTSUP
	case errors.ErrCodeOutOfMemory, errors.ErrCodePoolExhausted, errors.ErrCodeResourceExhausted:
		return syscall.ENOMEM
	case errors.ErrCodeOperationCanceled:
		return syscall.EINTR
	default:
		return syscall.EIO
	}
}

// safeInt64ToUint64 safely converts int64 to uint64, preventing negative values
func safeInt64ToUint64(i int64) uint64 {
	if i < 0 {
		return 0
	}
	return uint64(i)
}

// safeIntToUint32 safely converts int to uint32, preventing overflow
func safeIntToUint32(i int) uint32 {
	if i < 0 {
		return 0
	}
	if int64(i) > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(i)
}
