package fat

import (
	"sync"

	"github.com/objectfs/fatvfs/pkg/types"
)

// MaxSectorSize bounds the scratch buffer.
const MaxSectorSize = 4096

// FsInfo is the per-mount state. It is read-only once the mount completes.
type FsInfo struct {
	Device types.BlockDevice
	Vol    VolInfo
}

// FileInfo is the per-inode state of a regular file, and the own-entry part
// of a directory's state.
type FileInfo struct {
	Fs  *FsInfo
	Vol *VolInfo

	// DirSector and DirOffset locate this node's own directory record.
	DirSector uint32
	DirOffset int

	Cluster      uint32
	FirstCluster uint32
	FileLen      uint32
	// Pointer is the byte offset the next read or write starts at.
	Pointer uint32
	Mode    int
}

// Info implements Node
func (f *FileInfo) Info() *FileInfo { return f }

// IsDir implements Node
func (f *FileInfo) IsDir() bool { return false }

// StableID identifies the node by the location of its directory record,
// which stays put for the life of the entry. It is never 1.
func (f *FileInfo) StableID() uint64 {
	return uint64(f.DirSector)<<8 | uint64(f.DirOffset)
}

// Cursor is the position of a directory walk. Sector is the absolute sector
// currently held in the scratch buffer and Entry is the index of the next
// record to decode within it. Cluster 0 denotes the fixed FAT12/16 root region.
type Cursor struct {
	Cluster uint32
	Sector  uint32
	Entry   int
}

// Directory walk flags.
const (
	// DirFlagBlankEntry makes GetNext report free slots instead of ending
	// the walk at the first one, and report StatusAllocNew at the end of the
	// cluster chain.
	DirFlagBlankEntry uint8 = 0x01
)

// DirInfo is the per-inode state of a directory.
type DirInfo struct {
	File    FileInfo
	Cursor  Cursor
	Scratch *Scratch
	Flags   uint8

	// root marks the mount root, whose own record does not describe it.
	root bool
}

// Info implements Node
func (d *DirInfo) Info() *FileInfo { return &d.File }

// IsDir implements Node
func (d *DirInfo) IsDir() bool { return true }

// StableID is 1 for the root and the record location otherwise.
func (d *DirInfo) StableID() uint64 {
	if d.root {
		return 1
	}
	return d.File.StableID()
}

// IsRoot reports whether d is the mount root.
func (d *DirInfo) IsRoot() bool { return d.root }

// Node is the driver state hung off a vfs.Inode: *FileInfo for regular
// files, *DirInfo for directories.
type Node interface {
	Info() *FileInfo
	IsDir() bool
}

// Scratch is the sector buffer shared by every node of an adapter. Holders
// take a Lease for the length of one operation; leases do not nest.
type Scratch struct {
	mu  sync.Mutex
	buf []byte
}

// NewScratch allocates a scratch buffer of size bytes.
func NewScratch(size int) *Scratch {
	if size <= 0 || size > MaxSectorSize {
		size = MaxSectorSize
	}
	return &Scratch{buf: make([]byte, size)}
}

// Acquire blocks until the buffer is free and returns a lease on it.
func (s *Scratch) Acquire() *Lease {
	s.mu.Lock()
	return &Lease{s: s}
}

// Lease is exclusive use of a Scratch.
type Lease struct {
	s        *Scratch
	released bool
}

// Bytes returns the buffer. It must not be retained after Release.
func (l *Lease) Bytes() []byte {
	return l.s.buf
}

// Release gives the buffer back. Releasing twice is a no-op.
func (l *Lease) Release() {
	if l.released {
		return
	}
	l.released = true
	l.s.mu.Unlock()
}

// IterToken is the resumption point of a directory enumeration. The zero
// value starts from the first entry.
type IterToken struct {
	cursor  Cursor
	index   int
	started bool
}

// IsStart reports whether t begins a new enumeration.
func (t IterToken) IsStart() bool { return !t.started }

// Index is the number of directory slots consumed so far.
func (t IterToken) Index() int { return t.index }
