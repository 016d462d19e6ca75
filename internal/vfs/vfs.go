package vfs

import (
	stderr "errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/objectfs/fatvfs/pkg/errors"
	"github.com/objectfs/fatvfs/pkg/types"
	"github.com/objectfs/fatvfs/pkg/utils"
)

// Mount builds a superblock for dev using the driver registered as name.
func Mount(reg *Registry, name string, dev types.BlockDevice) (*SuperBlock, error) {
	drv, err := reg.Lookup(name)
	if err != nil {
		return nil, err
	}

	sb := &SuperBlock{Device: dev, Driver: drv}
	root := sb.AllocInode()
	root.Flags = ModeDir
	sb.Root = &Dentry{Name: "/", Inode: root, Sb: sb}
	root.Dentry = sb.Root

	if err := drv.FillSuperblock(sb, dev); err != nil {
		return nil, errors.Wrap(errors.ErrCodeMountFailed, "fill superblock", err).
			WithComponent("vfs").WithOperation("mount").WithContext("driver", name)
	}
	if drv.MountEnd != nil {
		if err := drv.MountEnd(sb); err != nil {
			return nil, errors.Wrap(errors.ErrCodeMountFailed, "complete mount", err).
				WithComponent("vfs").WithOperation("mount").WithContext("driver", name)
		}
	}

	slog.Default().Debug("mounted filesystem", "component", "vfs", "driver", name, "device", dev.ID())
	return sb, nil
}

// Format writes an empty filesystem of the named driver to dev.
func Format(reg *Registry, name string, dev types.BlockDevice, opts string) error {
	drv, err := reg.Lookup(name)
	if err != nil {
		return err
	}
	if drv.Format == nil {
		return errors.Newf(errors.ErrCodeNotImplemented, "driver %q cannot format", name).
			WithComponent("vfs").WithOperation("format")
	}
	return drv.Format(dev, opts)
}

// Sync writes back everything the driver buffers.
func (sb *SuperBlock) Sync() error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.Driver == nil || sb.Driver.Sync == nil {
		return nil
	}
	return sb.Driver.Sync(sb)
}

// Lookup resolves name inside dir.
func (sb *SuperBlock) Lookup(dir *Dentry, name string) (*Dentry, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.lookupLocked(dir, name)
}

func (sb *SuperBlock) lookupLocked(dir *Dentry, name string) (*Dentry, error) {
	if !dir.Inode.IsDir() {
		return nil, errors.ErrNotDirectory
	}
	inode, err := sb.IOps.Lookup(name, dir)
	if err != nil {
		return nil, err
	}
	child := &Dentry{Name: name, Inode: inode, Parent: dir, Sb: sb}
	inode.Dentry = child
	return child, nil
}

// Resolve walks a slash-separated path from the root.
func (sb *SuperBlock) Resolve(path string) (*Dentry, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	d := sb.Root
	for _, part := range utils.SplitPath(path) {
		child, err := sb.lookupLocked(d, part)
		if err != nil {
			return nil, err
		}
		d = child
	}
	return d, nil
}

// ReadDir lists dir. The "." and ".." entries are omitted.
func (sb *SuperBlock) ReadDir(dir *Dentry) ([]*Dentry, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if !dir.Inode.IsDir() {
		return nil, errors.ErrNotDirectory
	}

	var out []*Dentry
	ctx := &DirContext{}
	for {
		inode := sb.AllocInode()
		err := sb.IOps.Iterate(inode, dir.Inode, ctx)
		if stderr.Is(err, errors.ErrEndOfDirectory) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}

		name, err := sb.nameLocked(inode)
		if err != nil {
			return nil, err
		}
		if name == "" || name == "." || name == ".." {
			continue
		}
		child := &Dentry{Name: name, Inode: inode, Parent: dir, Sb: sb}
		inode.Dentry = child
		out = append(out, child)
	}
}

// Name returns the presentable name of inode's own entry.
func (sb *SuperBlock) Name(inode *Inode) (string, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.nameLocked(inode)
}

func (sb *SuperBlock) nameLocked(inode *Inode) (string, error) {
	buf := make([]byte, 256)
	if err := sb.IOps.Pathname(inode, buf, PathName); err != nil {
		return "", err
	}
	if f, ok := sb.IOps.(NameFormatter); ok {
		return f.FormatName(buf), nil
	}
	if i := strings.IndexByte(string(buf), 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf), nil
}

// Create makes a new entry called name in dir.
// mode carries the type bits (ModeDir or ModeRegular) and permissions.
func (sb *SuperBlock) Create(dir *Dentry, name string, mode uint32) (*Dentry, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if !dir.Inode.IsDir() {
		return nil, errors.ErrNotDirectory
	}
	if _, err := sb.lookupLocked(dir, name); err == nil {
		return nil, errors.Newf(errors.ErrCodeFileExists, "%q already exists", name).
			WithComponent("vfs").WithOperation("create")
	} else if !errors.IsNotFound(err) {
		return nil, err
	}

	if mode&ModeTypeMask == 0 {
		mode |= ModeRegular
	}
	inode := sb.AllocInode()
	inode.Flags = mode
	child := &Dentry{Name: name, Inode: inode, Parent: dir, Sb: sb}
	inode.Dentry = child

	if err := sb.IOps.Create(inode, dir.Inode, mode); err != nil {
		return nil, err
	}
	return child, nil
}

// Unlink removes d from its directory.
func (sb *SuperBlock) Unlink(d *Dentry) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if d == sb.Root || d.Parent == nil {
		return errors.NewError(errors.ErrCodeInvalidArgument, "cannot remove the root directory").
			WithComponent("vfs").WithOperation("unlink")
	}
	return sb.IOps.Remove(d.Inode)
}

// Open returns a file description for d. flags are os.O_* bits.
func (sb *SuperBlock) Open(d *Dentry, flags int) (*File, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if d.Inode.IsDir() && flags&(os.O_WRONLY|os.O_RDWR) != 0 {
		return nil, errors.NewError(errors.ErrCodeInvalidArgument, "cannot open a directory for writing").
			WithComponent("vfs").WithOperation("open")
	}

	f := &File{Inode: d.Inode, Flags: flags}
	if flags&os.O_TRUNC != 0 {
		if err := sb.IOps.Truncate(d.Inode, 0); err != nil {
			return nil, err
		}
	}
	if flags&os.O_APPEND != 0 {
		f.Pos = d.Inode.Length
	}
	return f, nil
}

// Read reads from the current position and advances it.
// It returns io.EOF once the position reaches the end of the file.
func (f *File) Read(buf []byte) (int, error) {
	sb := f.Inode.Sb
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return f.readLocked(buf)
}

func (f *File) readLocked(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if f.Pos >= f.Inode.Length {
		return 0, io.EOF
	}
	n, err := f.Inode.Sb.FOps.Read(f, buf)
	f.Pos += int64(n)
	if err == nil && n == 0 {
		err = io.EOF
	}
	return n, err
}

// ReadAt reads at off without disturbing callers that track their own offsets.
func (f *File) ReadAt(buf []byte, off int64) (int, error) {
	sb := f.Inode.Sb
	sb.mu.Lock()
	defer sb.mu.Unlock()

	f.Pos = off
	return f.readLocked(buf)
}

// Write writes at the current position and advances it.
func (f *File) Write(buf []byte) (int, error) {
	sb := f.Inode.Sb
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return f.writeLocked(buf)
}

func (f *File) writeLocked(buf []byte) (int, error) {
	n, err := f.Inode.Sb.FOps.Write(f, buf)
	f.Pos += int64(n)
	if err == nil && n < len(buf) {
		err = io.ErrShortWrite
	}
	return n, err
}

// WriteAt writes at off.
func (f *File) WriteAt(buf []byte, off int64) (int, error) {
	sb := f.Inode.Sb
	sb.mu.Lock()
	defer sb.mu.Unlock()

	f.Pos = off
	return f.writeLocked(buf)
}

// Seek implements io.Seeker.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	sb := f.Inode.Sb
	sb.mu.Lock()
	defer sb.mu.Unlock()

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.Pos + offset
	case io.SeekEnd:
		abs = f.Inode.Length + offset
	default:
		return 0, errors.ErrInvalidArgument
	}
	if abs < 0 {
		return 0, errors.ErrInvalidArgument
	}
	f.Pos = abs
	return abs, nil
}

// Close releases the file description.
func (f *File) Close() error {
	sb := f.Inode.Sb
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.FOps.Close(f)
}
