package vfs

import (
	"sync"

	"github.com/objectfs/fatvfs/pkg/types"
)

// Inode flag bits. The type bits follow the POSIX st_mode layout.
const (
	ModeTypeMask uint32 = 0o170000
	ModeDir      uint32 = 0o040000
	ModeRegular  uint32 = 0o100000
	ModeIRWXU    uint32 = 0o700
	ModePermMask uint32 = 0o777
)

// PathMode selects what Pathname reports.
type PathMode int

const (
	// PathName reports the entry's own on-disk name.
	PathName PathMode = iota
	// PathFull reports the full path from the filesystem root.
	PathFull
)

// Inode is the VFS identity of a file or directory. Data holds driver state.
type Inode struct {
	Sb     *SuperBlock
	Ino    uint64
	Flags  uint32
	Length int64
	Data   any
	Dentry *Dentry
}

// IsDir reports whether the inode is a directory.
func (i *Inode) IsDir() bool {
	return i.Flags&ModeTypeMask == ModeDir
}

// Dentry binds a name to an inode.
type Dentry struct {
	Name   string
	Inode  *Inode
	Parent *Dentry
	Sb     *SuperBlock
}

// File is an open file description.
type File struct {
	Inode *Inode
	Pos   int64
	Flags int
}

// DirContext carries a driver's resumption token between Iterate calls.
// A nil Token starts enumeration.
type DirContext struct {
	Token any
}

// InodeOperations is the per-filesystem inode operation table.
type InodeOperations interface {
	Create(newInode, parent *Inode, mode uint32) error
	Lookup(name string, parent *Dentry) (*Inode, error)
	Remove(inode *Inode) error
	Iterate(out, parent *Inode, ctx *DirContext) error
	Pathname(inode *Inode, buf []byte, mode PathMode) error
	Truncate(inode *Inode, length int64) error
}

// FileOperations is the per-filesystem open-file operation table.
type FileOperations interface {
	Close(file *File) error
	Read(file *File, buf []byte) (int, error)
	Write(file *File, buf []byte) (int, error)
}

// NameFormatter is implemented by inode operations whose Pathname output
// is an on-disk encoding rather than a presentable name.
type NameFormatter interface {
	FormatName(raw []byte) string
}

// SuperBlock is one mounted filesystem.
type SuperBlock struct {
	Device types.BlockDevice
	Root   *Dentry
	Data   any
	IOps   InodeOperations
	FOps   FileOperations
	Driver *Driver

	// mu serialises every operation on this mount, including the
	// driver's shared decode buffers.
	mu      sync.Mutex
	nextIno uint64
}

// AllocInode returns a fresh inode bound to sb.
func (sb *SuperBlock) AllocInode() *Inode {
	sb.nextIno++
	return &Inode{Sb: sb, Ino: sb.nextIno}
}
