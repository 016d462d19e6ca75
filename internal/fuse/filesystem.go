//go:build !cgofuse
// +build !cgofuse

package fuse

import (
	"context"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/objectfs/fatvfs/internal/vfs"
	"github.com/objectfs/fatvfs/pkg/errors"
	"github.com/objectfs/fatvfs/pkg/types"
)

// FileSystem serves a mounted superblock through go-fuse.
type FileSystem struct {
	*core
}

// NewFileSystem creates a new FUSE filesystem instance
func NewFileSystem(sb *vfs.SuperBlock, metrics types.MetricsCollector, config *Config) *FileSystem {
	return &FileSystem{core: newCore(sb, metrics, config)}
}

// Root returns the root inode
func (fsys *FileSystem) Root() fs.InodeEmbedder {
	return &DirectoryNode{fs: fsys, dentry: fsys.sb.Root}
}

// GetStats returns current filesystem statistics
func (fsys *FileSystem) GetStats() *FilesystemStats {
	return fsys.snapshot()
}

func (fsys *FileSystem) fillAttr(inode *vfs.Inode, out *fuse.Attr) {
	out.Ino = stableIno(inode)
	out.Mode = fsys.mode(inode)
	out.Size = safeInt64ToUint64(inode.Length)
	out.Blocks = (out.Size + 511) / 512
	out.Blksize = uint32(fsys.sb.Device.BlockSize())
	out.Nlink = 1
	if inode.IsDir() {
		out.Nlink = 2
	}
	out.Uid = fsys.config.UID
	out.Gid = fsys.config.GID

	t := safeInt64ToUint64(fsys.started.Unix())
	out.Mtime, out.Atime, out.Ctime = t, t, t
}

// newNode wraps d in the go-fuse node for its type.
func (fsys *FileSystem) newNode(ctx context.Context, parent *fs.Inode, d *vfs.Dentry, out *fuse.EntryOut) *fs.Inode {
	fsys.fillAttr(d.Inode, &out.Attr)
	out.SetEntryTimeout(fsys.config.EntryTimeout)
	out.SetAttrTimeout(fsys.config.AttrTimeout)

	stable := fs.StableAttr{Mode: fuse.S_IFREG, Ino: stableIno(d.Inode)}
	var node fs.InodeEmbedder = &FileNode{fs: fsys, dentry: d}
	if d.Inode.IsDir() {
		stable.Mode = fuse.S_IFDIR
		node = &DirectoryNode{fs: fsys, dentry: d}
	}
	return parent.NewInode(ctx, node, stable)
}

// DirectoryNode represents a directory in the filesystem
type DirectoryNode struct {
	fs.Inode
	fs     *FileSystem
	dentry *vfs.Dentry
}

var (
	_ fs.NodeLookuper  = (*DirectoryNode)(nil)
	_ fs.NodeReaddirer = (*DirectoryNode)(nil)
	_ fs.NodeMkdirer   = (*DirectoryNode)(nil)
	_ fs.NodeCreater   = (*DirectoryNode)(nil)
	_ fs.NodeUnlinker  = (*DirectoryNode)(nil)
	_ fs.NodeRmdirer   = (*DirectoryNode)(nil)
	_ fs.NodeGetattrer = (*DirectoryNode)(nil)
)

// Lookup looks up a child node by name
func (n *DirectoryNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (inode *fs.Inode, errno syscall.Errno) {
	start := time.Now()
	child, err := n.fs.child(n.dentry, name)
	n.fs.observe("lookup", start, 0, err)
	if err != nil {
		return nil, toErrno(err)
	}
	return n.fs.newNode(ctx, n.EmbeddedInode(), child, out), 0
}

// Readdir reads directory contents
func (n *DirectoryNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	start := time.Now()
	children, err := n.fs.sb.ReadDir(n.dentry)
	n.fs.observe("readdir", start, 0, err)
	if err != nil {
		return nil, toErrno(err)
	}

	entries := make([]fuse.DirEntry, 0, len(children))
	for _, c := range children {
		entries = append(entries, fuse.DirEntry{
			Name: c.Name,
			Mode: n.fs.mode(c.Inode),
			Ino:  stableIno(c.Inode),
		})
	}
	return fs.NewListDirStream(entries), 0
}

// Getattr gets directory attributes
func (n *DirectoryNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.fs.fillAttr(n.dentry.Inode, &out.Attr)
	out.SetTimeout(n.fs.config.AttrTimeout)
	return 0
}

// Mkdir creates a new directory
func (n *DirectoryNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.fs.config.ReadOnly {
		return nil, syscall.EROFS
	}
	start := time.Now()
	d, err := n.fs.sb.Create(n.dentry, name, vfs.ModeDir|mode&vfs.ModePermMask)
	n.fs.observe("mkdir", start, 0, err)
	if err != nil {
		return nil, toErrno(err)
	}
	return n.fs.newNode(ctx, n.EmbeddedInode(), d, out), 0
}

// Create creates a new file and opens it
func (n *DirectoryNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (node *fs.Inode, fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	if n.fs.config.ReadOnly {
		return nil, nil, 0, syscall.EROFS
	}
	start := time.Now()
	d, err := n.fs.sb.Create(n.dentry, name, vfs.ModeRegular|mode&vfs.ModePermMask)
	n.fs.observe("create", start, 0, err)
	if err != nil {
		return nil, nil, 0, toErrno(err)
	}

	node = n.fs.newNode(ctx, n.EmbeddedInode(), d, out)
	handle, errno := n.fs.open(d, flags)
	if errno != 0 {
		return nil, nil, 0, errno
	}
	return node, handle, 0, 0
}

// Unlink removes a regular file
func (n *DirectoryNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return n.remove(name, false)
}

// Rmdir removes an empty directory
func (n *DirectoryNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.remove(name, true)
}

func (n *DirectoryNode) remove(name string, dir bool) syscall.Errno {
	if n.fs.config.ReadOnly {
		return syscall.EROFS
	}
	op := "unlink"
	if dir {
		op = "rmdir"
	}

	start := time.Now()
	child, err := n.fs.child(n.dentry, name)
	if err == nil {
		switch {
		case dir && !child.Inode.IsDir():
			err = errors.ErrNotDirectory
		case !dir && child.Inode.IsDir():
			n.fs.observe(op, start, 0, nil)
			return syscall.EISDIR
		default:
			err = n.fs.sb.Unlink(child)
		}
	}
	n.fs.observe(op, start, 0, err)
	return toErrno(err)
}

// FileNode represents a file in the filesystem
type FileNode struct {
	fs.Inode
	fs     *FileSystem
	dentry *vfs.Dentry
}

var (
	_ fs.NodeOpener    = (*FileNode)(nil)
	_ fs.NodeGetattrer = (*FileNode)(nil)
	_ fs.NodeSetattrer = (*FileNode)(nil)
)

// Open opens a file
func (f *FileNode) Open(ctx context.Context, flags uint32) (fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	handle, errno := f.fs.open(f.dentry, flags)
	if errno != 0 {
		return nil, 0, errno
	}
	return handle, 0, 0
}

// Getattr gets file attributes
func (f *FileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	f.fs.fillAttr(f.dentry.Inode, &out.Attr)
	out.SetTimeout(f.fs.config.AttrTimeout)
	return 0
}

// Setattr accepts mode, owner and time changes without storing them. Size
// changes are refused because files only grow through writes.
func (f *FileNode) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok && int64(size) != f.dentry.Inode.Length {
		return syscall.ENOTSUP
	}
	return f.Getattr(ctx, fh, out)
}

func (fsys *FileSystem) open(d *vfs.Dentry, flags uint32) (*FileHandle, syscall.Errno) {
	mode := openFlags(flags)
	if fsys.config.ReadOnly && (isWrite(mode) || mode&os.O_TRUNC != 0) {
		return nil, syscall.EROFS
	}
	if shrinks(d, mode) {
		return nil, syscall.ENOTSUP
	}

	start := time.Now()
	file, err := fsys.sb.Open(d, mode)
	fsys.observe("open", start, 0, err)
	if err != nil {
		return nil, toErrno(err)
	}
	return &FileHandle{fs: fsys, file: file, writable: isWrite(mode)}, 0
}

// FileHandle represents an open file handle
type FileHandle struct {
	fs       *FileSystem
	file     *vfs.File
	writable bool
	dirty    bool
}

var (
	_ fs.FileReader   = (*FileHandle)(nil)
	_ fs.FileWriter   = (*FileHandle)(nil)
	_ fs.FileFlusher  = (*FileHandle)(nil)
	_ fs.FileFsyncer  = (*FileHandle)(nil)
	_ fs.FileReleaser = (*FileHandle)(nil)
)

// Read reads data from the file
func (fh *FileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	start := time.Now()
	n, err := fh.file.ReadAt(dest, off)
	if err == io.EOF {
		err = nil
	}
	fh.fs.observe("read", start, int64(n), err)
	if err != nil {
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

// Write writes data to the file
func (fh *FileHandle) Write(ctx context.Context, data []byte, off int64) (written uint32, errno syscall.Errno) {
	if !fh.writable {
		return 0, syscall.EBADF
	}
	start := time.Now()
	n, err := fh.file.WriteAt(data, off)
	fh.fs.observe("write", start, int64(n), err)
	if n > 0 {
		fh.dirty = true
	}
	if err != nil && n == 0 {
		return 0, toErrno(err)
	}
	return safeIntToUint32(n), 0
}

// Flush runs on every close(2) of a descriptor.
func (fh *FileHandle) Flush(ctx context.Context) syscall.Errno {
	if !fh.dirty || !fh.fs.config.SyncOnRelease {
		return 0
	}
	return fh.sync()
}

// Fsync writes every dirty block of the mount back to the device.
func (fh *FileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return fh.sync()
}

func (fh *FileHandle) sync() syscall.Errno {
	start := time.Now()
	err := fh.fs.sb.Sync()
	fh.fs.observe("sync", start, 0, err)
	if err != nil {
		return toErrno(err)
	}
	fh.dirty = false
	return 0
}

// Release releases the file handle
func (fh *FileHandle) Release(ctx context.Context) syscall.Errno {
	if errno := fh.Flush(ctx); errno != 0 {
		_ = fh.file.Close()
		return errno
	}
	return toErrno(fh.file.Close())
}
