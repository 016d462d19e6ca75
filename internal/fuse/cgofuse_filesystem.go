//go:build cgofuse
// +build cgofuse

package fuse

import (
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/objectfs/fatvfs/internal/vfs"
	"github.com/objectfs/fatvfs/pkg/errors"
	"github.com/objectfs/fatvfs/pkg/types"
	"github.com/objectfs/fatvfs/pkg/utils"
)

// CgoFuseFS serves a mounted superblock through cgofuse, which also runs
// on macOS and Windows.
type CgoFuseFS struct {
	fuse.FileSystemBase
	*core

	mu         sync.Mutex
	handles    map[uint64]*cgoHandle
	nextHandle uint64
}

type cgoHandle struct {
	file     *vfs.File
	writable bool
	dirty    bool
}

// NewCgoFuseFS creates a new cgofuse-based filesystem
func NewCgoFuseFS(sb *vfs.SuperBlock, metrics types.MetricsCollector, config *Config) *CgoFuseFS {
	return &CgoFuseFS{
		core:       newCore(sb, metrics, config),
		handles:    make(map[uint64]*cgoHandle),
		nextHandle: 1,
	}
}

// GetStats returns filesystem statistics
func (c *CgoFuseFS) GetStats() *FilesystemStats {
	return c.snapshot()
}

func (c *CgoFuseFS) resolve(path string) (*vfs.Dentry, error) {
	start := time.Now()
	d, err := c.sb.Resolve(path)
	c.observe("lookup", start, 0, err)
	return d, err
}

func (c *CgoFuseFS) parent(path string) (*vfs.Dentry, string, error) {
	dir, name, err := utils.SplitParent(path)
	if err != nil {
		return nil, "", errors.Wrap(errors.ErrCodeInvalidArgument, "split path", err)
	}
	d, err := c.resolve(dir)
	return d, name, err
}

func (c *CgoFuseFS) fillStat(inode *vfs.Inode, stat *fuse.Stat_t) {
	stat.Ino = stableIno(inode)
	stat.Mode = c.mode(inode)
	stat.Size = inode.Length
	stat.Blksize = int64(c.sb.Device.BlockSize())
	stat.Blocks = (inode.Length + 511) / 512
	stat.Nlink = 1
	if inode.IsDir() {
		stat.Nlink = 2
	}
	stat.Uid = c.config.UID
	stat.Gid = c.config.GID

	t := fuse.NewTimespec(c.started)
	stat.Mtim, stat.Atim, stat.Ctim, stat.Birthtim = t, t, t, t
}

// Getattr gets file attributes
func (c *CgoFuseFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	d, err := c.resolve(path)
	if err != nil {
		return cgoErrno(err)
	}
	c.fillStat(d.Inode, stat)
	return 0
}

// Truncate only accepts the current length.
func (c *CgoFuseFS) Truncate(path string, size int64, fh uint64) int {
	d, err := c.resolve(path)
	if err != nil {
		return cgoErrno(err)
	}
	if size != d.Inode.Length {
		return -fuse.ENOSYS
	}
	return 0
}

// Readdir reads directory contents
func (c *CgoFuseFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	d, err := c.resolve(path)
	if err != nil {
		return cgoErrno(err)
	}

	start := time.Now()
	children, err := c.sb.ReadDir(d)
	c.observe("readdir", start, 0, err)
	if err != nil {
		return cgoErrno(err)
	}

	fill(".", nil, 0)
	fill("..", nil, 0)
	for _, child := range children {
		stat := &fuse.Stat_t{}
		c.fillStat(child.Inode, stat)
		if !fill(child.Name, stat, 0) {
			break
		}
	}
	return 0
}

// Mkdir creates a new directory
func (c *CgoFuseFS) Mkdir(path string, mode uint32) int {
	if c.config.ReadOnly {
		return -fuse.EROFS
	}
	dir, name, err := c.parent(path)
	if err != nil {
		return cgoErrno(err)
	}
	start := time.Now()
	_, err = c.sb.Create(dir, name, vfs.ModeDir|mode&vfs.ModePermMask)
	c.observe("mkdir", start, 0, err)
	return cgoErrno(err)
}

// Create creates and opens a regular file
func (c *CgoFuseFS) Create(path string, flags int, mode uint32) (int, uint64) {
	if c.config.ReadOnly {
		return -fuse.EROFS, ^uint64(0)
	}
	dir, name, err := c.parent(path)
	if err != nil {
		return cgoErrno(err), ^uint64(0)
	}
	start := time.Now()
	d, err := c.sb.Create(dir, name, vfs.ModeRegular|mode&vfs.ModePermMask)
	c.observe("create", start, 0, err)
	if err != nil {
		return cgoErrno(err), ^uint64(0)
	}
	return c.open(d, flags)
}

// Open opens a file
func (c *CgoFuseFS) Open(path string, flags int) (int, uint64) {
	d, err := c.resolve(path)
	if err != nil {
		return cgoErrno(err), ^uint64(0)
	}
	return c.open(d, flags)
}

func (c *CgoFuseFS) open(d *vfs.Dentry, flags int) (int, uint64) {
	mode := openFlags(uint32(flags))
	if c.config.ReadOnly && (isWrite(mode) || mode&os.O_TRUNC != 0) {
		return -fuse.EROFS, ^uint64(0)
	}
	if shrinks(d, mode) {
		return -fuse.ENOSYS, ^uint64(0)
	}

	start := time.Now()
	file, err := c.sb.Open(d, mode)
	c.observe("open", start, 0, err)
	if err != nil {
		return cgoErrno(err), ^uint64(0)
	}

	c.mu.Lock()
	fh := c.nextHandle
	c.nextHandle++
	c.handles[fh] = &cgoHandle{file: file, writable: isWrite(mode)}
	c.mu.Unlock()
	return 0, fh
}

func (c *CgoFuseFS) handle(fh uint64) *cgoHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles[fh]
}

// Read reads from a file
func (c *CgoFuseFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	h := c.handle(fh)
	if h == nil {
		return -fuse.EBADF
	}
	start := time.Now()
	n, err := h.file.ReadAt(buff, ofst)
	if err == io.EOF {
		err = nil
	}
	c.observe("read", start, int64(n), err)
	if err != nil {
		return cgoErrno(err)
	}
	return n
}

// Write writes to a file
func (c *CgoFuseFS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	h := c.handle(fh)
	if h == nil || !h.writable {
		return -fuse.EBADF
	}
	start := time.Now()
	n, err := h.file.WriteAt(buff, ofst)
	c.observe("write", start, int64(n), err)
	if n > 0 {
		h.dirty = true
	}
	if err != nil && n == 0 {
		return cgoErrno(err)
	}
	return n
}

// Flush writes the block cache back when the handle wrote anything.
func (c *CgoFuseFS) Flush(path string, fh uint64) int {
	h := c.handle(fh)
	if h == nil || !h.dirty || !c.config.SyncOnRelease {
		return 0
	}
	return c.sync(h)
}

// Fsync writes every dirty block of the mount back to the device.
func (c *CgoFuseFS) Fsync(path string, datasync bool, fh uint64) int {
	h := c.handle(fh)
	if h == nil {
		return -fuse.EBADF
	}
	return c.sync(h)
}

func (c *CgoFuseFS) sync(h *cgoHandle) int {
	start := time.Now()
	err := c.sb.Sync()
	c.observe("sync", start, 0, err)
	if err != nil {
		return cgoErrno(err)
	}
	h.dirty = false
	return 0
}

// Release closes a file
func (c *CgoFuseFS) Release(path string, fh uint64) int {
	ret := c.Flush(path, fh)

	c.mu.Lock()
	h := c.handles[fh]
	delete(c.handles, fh)
	c.mu.Unlock()

	if h != nil {
		if err := h.file.Close(); err != nil && ret == 0 {
			ret = cgoErrno(err)
		}
	}
	return ret
}

// Unlink removes a regular file
func (c *CgoFuseFS) Unlink(path string) int {
	return c.remove(path, false)
}

// Rmdir removes an empty directory
func (c *CgoFuseFS) Rmdir(path string) int {
	return c.remove(path, true)
}

func (c *CgoFuseFS) remove(path string, dir bool) int {
	if c.config.ReadOnly {
		return -fuse.EROFS
	}
	op := "unlink"
	if dir {
		op = "rmdir"
	}

	d, err := c.resolve(path)
	if err != nil {
		return cgoErrno(err)
	}
	switch {
	case d == c.sb.Root:
		return -fuse.EBUSY
	case dir && !d.Inode.IsDir():
		return -fuse.ENOTDIR
	case !dir && d.Inode.IsDir():
		return -fuse.EISDIR
	}

	start := time.Now()
	err = c.sb.Unlink(d)
	c.observe(op, start, 0, err)
	return cgoErrno(err)
}

// cgoErrno converts err to the negated errno cgofuse expects.
func cgoErrno(err error) int {
	switch toErrno(err) {
	case 0:
		return 0
	case syscall.ENOENT:
		return -fuse.ENOENT
	case syscall.EEXIST:
		return -fuse.EEXIST
	case syscall.ENOTEMPTY:
		return -fuse.ENOTEMPTY
	case syscall.ENOTDIR:
		return -fuse.ENOTDIR
	case syscall.ENOSPC:
		return -fuse.ENOSPC
	case syscall.EROFS:
		return -fuse.EROFS
	case syscall.EINVAL:
		return -fuse.EINVAL
	case syscall.EFBIG:
		return -fuse.EFBIG
	case syscall.ENOTSUP:
		return -fuse.ENOSYS
	case syscall.ENOMEM:
		return -fuse.ENOMEM
	case syscall.EINTR:
		return -fuse.EINTR
	default:
		return -fuse.EIO
	}
}
