package fat

import (
	"github.com/objectfs/fatvfs/pkg/types"
)

// Status is the outcome of a directory step.
type Status int

const (
	// StatusOK means an entry was decoded and the cursor advanced past it.
	StatusOK Status = iota
	// StatusEOF means the directory has no further entries.
	StatusEOF
	// StatusAllocNew means the cluster chain ended while free slots were
	// being searched for; the directory needs another cluster.
	StatusAllocNew
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusEOF:
		return "eof"
	case StatusAllocNew:
		return "alloc_new"
	default:
		return "unknown"
	}
}

// Partition is the location of a FAT volume on a device, in sectors.
type Partition struct {
	Start  uint32
	Size   uint32
	Type   byte
	Active bool
}

// Primitives is the low-level FAT layer the adapter is built on. Every call
// that decodes sectors is handed the caller's scratch buffer.
type Primitives interface {
	// ReadSector loads an absolute sector into buf.
	ReadSector(fs *FsInfo, buf []byte, sector uint32) error

	// GetNext decodes the entry at di.Cursor from scratch, which must hold
	// di.Cursor.Sector, and advances the cursor, loading further sectors
	// into scratch as needed. Deleted, long-name and volume label slots are
	// reported with a NUL first name byte.
	GetNext(fs *FsInfo, di *DirInfo, scratch []byte, de *DirEntry) (Status, error)

	// ReadFile reads from fi.Pointer into buf and advances the pointer.
	ReadFile(fi *FileInfo, scratch, buf []byte) (int, error)
	// WriteFile writes buf at fi.Pointer, extending the cluster chain as
	// needed, and stores the new file length in *length.
	WriteFile(fi *FileInfo, scratch, buf []byte, length *int64) (int, error)

	// CreateFile adds an entry called name to parent and fills fi.
	CreateFile(fi *FileInfo, parent *DirInfo, scratch []byte, name string, isDir bool) error
	UnlinkFile(fi *FileInfo, scratch []byte) error
	// UnlinkDirectory removes an empty directory.
	UnlinkDirectory(fi *FileInfo, scratch []byte) error

	// OpenDir positions di at the start of the directory at path.
	OpenDir(fs *FsInfo, path string, di *DirInfo, scratch []byte) error

	PartitionStart(dev types.BlockDevice, index int) (Partition, error)
	VolumeInfo(dev types.BlockDevice, start uint32) (VolInfo, error)
	Format(dev types.BlockDevice, fatType int) error

	// Sync writes back every buffered sector of the volume.
	Sync(fs *FsInfo) error
}
