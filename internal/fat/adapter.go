package fat

import (
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/objectfs/fatvfs/internal/vfs"
	"github.com/objectfs/fatvfs/pkg/errors"
	"github.com/objectfs/fatvfs/pkg/types"
)

// DriverName is the name the adapter registers under.
const DriverName = "vfat"

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

// WithMetrics reports operation latency and failures to collector.
func WithMetrics(collector types.MetricsCollector) Option {
	return func(a *Adapter) {
		a.metrics = collector
	}
}

// WithScratch shares an existing scratch buffer.
func WithScratch(s *Scratch) Option {
	return func(a *Adapter) {
		if s != nil {
			a.scratch = s
		}
	}
}

// Adapter presents FAT volumes to the VFS. It implements
// vfs.InodeOperations, vfs.FileOperations and vfs.NameFormatter.
type Adapter struct {
	prims   Primitives
	scratch *Scratch
	logger  *slog.Logger
	metrics types.MetricsCollector
}

// New creates an adapter on top of prims.
func New(prims Primitives, opts ...Option) *Adapter {
	a := &Adapter{
		prims:   prims,
		scratch: NewScratch(MaxSectorSize),
		logger:  slog.Default().With("component", "fat"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Driver returns the registration record for the VFS driver registry.
func (a *Adapter) Driver() *vfs.Driver {
	return &vfs.Driver{
		Name:           DriverName,
		FillSuperblock: a.FillSuperblock,
		MountEnd:       a.MountEnd,
		Format:         a.Format,
		Sync:           a.Sync,
	}
}

// Register publishes the adapter's driver to reg.
func (a *Adapter) Register(reg *vfs.Registry) error {
	return reg.Register(a.Driver())
}

func (a *Adapter) observe(op string, start time.Time, size int64, err error) {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordOperation("fat."+op, time.Since(start), size, err == nil)
	if err != nil && !errors.IsNotFound(err) {
		a.metrics.RecordError("fat."+op, err)
	}
}

func dirOf(inode *vfs.Inode) (*DirInfo, error) {
	if inode == nil || !inode.IsDir() {
		return nil, errors.ErrNotDirectory
	}
	di, ok := inode.Data.(*DirInfo)
	if !ok || di == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidState, "directory inode has no directory state").
			WithComponent("fat")
	}
	return di, nil
}

func fileOf(inode *vfs.Inode) (*FileInfo, error) {
	fi, ok := inode.Data.(*FileInfo)
	if !ok || fi == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidState, "inode has no file state").
			WithComponent("fat")
	}
	return fi, nil
}

// startCluster reads di's own record to find where the directory's data
// starts. The mount root has no record of its own and starts at cluster 0.
func (a *Adapter) startCluster(di *DirInfo, scratch []byte) (uint32, error) {
	if di.root {
		return 0, nil
	}
	fi := &di.File
	if err := a.prims.ReadSector(fi.Fs, scratch, fi.DirSector); err != nil {
		return 0, err
	}
	off := fi.DirOffset * DirEntrySize
	if off < 0 || off+DirEntrySize > len(scratch) {
		return 0, errors.Newf(errors.ErrCodeInvalidState, "entry offset %d outside sector", fi.DirOffset).
			WithComponent("fat")
	}
	de := DecodeDirEntry(scratch[off:])
	return de.StartCluster(), nil
}

// dirCursor returns the walk position of the first record of the directory
// starting at cluster. Cluster 0 is the root directory.
func dirCursor(vol *VolInfo, cluster uint32) Cursor {
	if cluster == 0 {
		if vol.FATType == FAT32 && vol.RootCluster >= 2 {
			return Cursor{Cluster: vol.RootCluster, Sector: vol.RootDir}
		}
		return Cursor{Sector: vol.RootDir}
	}
	return Cursor{Cluster: cluster, Sector: vol.ClusterSector(cluster)}
}

// Lookup implements vfs.InodeOperations
func (a *Adapter) Lookup(name string, parent *vfs.Dentry) (inode *vfs.Inode, err error) {
	start := time.Now()
	defer func() { a.observe("lookup", start, 0, err) }()

	di, err := dirOf(parent.Inode)
	if err != nil {
		return nil, err
	}
	if name != "." && name != ".." && !ValidName(name) {
		return nil, errors.Newf(errors.ErrCodeFileNotFound, "%q not found", name).
			WithComponent("fat").WithOperation("lookup")
	}
	target := CanonicalName(name)

	lease := di.Scratch.Acquire()
	defer lease.Release()
	scratch := lease.Bytes()

	saved := di.Cursor
	defer func() { di.Cursor = saved }()

	fs := di.File.Fs
	cluster, err := a.startCluster(di, scratch)
	if err != nil {
		return nil, err
	}
	di.Cursor = dirCursor(&fs.Vol, cluster)
	if err := a.prims.ReadSector(fs, scratch, di.Cursor.Sector); err != nil {
		return nil, err
	}

	for {
		var de DirEntry
		status, err := a.prims.GetNext(fs, di, scratch, &de)
		if err != nil {
			return nil, err
		}
		if status != StatusOK {
			return nil, errors.Newf(errors.ErrCodeFileNotFound, "%q not found", name).
				WithComponent("fat").WithOperation("lookup")
		}
		if de.Unused() || de.Name != target {
			continue
		}

		inode = parent.Sb.AllocInode()
		a.fillInode(inode, &de, di)
		return inode, nil
	}
}

// fillInode binds the record just consumed by di's cursor to inode.
func (a *Adapter) fillInode(inode *vfs.Inode, de *DirEntry, di *DirInfo) {
	fs := di.File.Fs
	fi := FileInfo{
		Fs:           fs,
		Vol:          &fs.Vol,
		DirSector:    di.Cursor.Sector,
		DirOffset:    di.Cursor.Entry - 1,
		Cluster:      de.StartCluster(),
		FirstCluster: de.StartCluster(),
		FileLen:      de.FileSize(),
	}

	if de.IsDir() {
		d := &DirInfo{File: fi, Scratch: di.Scratch}
		d.Cursor = dirCursor(&fs.Vol, fi.FirstCluster)
		inode.Data = d
		inode.Flags = vfs.ModeDir | vfs.ModeIRWXU
		inode.Length = 0
		return
	}

	f := new(FileInfo)
	*f = fi
	inode.Data = f
	inode.Flags = vfs.ModeRegular | vfs.ModeIRWXU
	inode.Length = int64(fi.FileLen)
}

// Create implements vfs.InodeOperations. It does not look for an existing
// entry with the same name; the VFS does that before calling.
func (a *Adapter) Create(newInode, parent *vfs.Inode, mode uint32) (err error) {
	start := time.Now()
	defer func() { a.observe("create", start, 0, err) }()

	di, err := dirOf(parent)
	if err != nil {
		return err
	}
	if newInode.Dentry == nil || newInode.Dentry.Name == "" {
		return errors.NewError(errors.ErrCodeInvalidArgument, "new inode has no name").
			WithComponent("fat").WithOperation("create")
	}
	isDir := mode&vfs.ModeTypeMask == vfs.ModeDir

	lease := di.Scratch.Acquire()
	defer lease.Release()
	scratch := lease.Bytes()

	fs := di.File.Fs
	fi := &FileInfo{Fs: fs, Vol: &fs.Vol}
	cluster, err := a.startCluster(di, scratch)
	if err != nil {
		return err
	}
	saved := di.Cursor
	di.Cursor = dirCursor(&fs.Vol, cluster)
	if err := a.prims.ReadSector(fs, scratch, di.Cursor.Sector); err != nil {
		di.Cursor = saved
		return err
	}
	err = a.prims.CreateFile(fi, di, scratch, newInode.Dentry.Name, isDir)
	di.Cursor = saved
	if err != nil {
		return err
	}

	if isDir {
		d := &DirInfo{File: *fi, Scratch: di.Scratch}
		d.Cursor = dirCursor(&fs.Vol, fi.FirstCluster)
		newInode.Data = d
		newInode.Flags = vfs.ModeDir | vfs.ModeIRWXU
		newInode.Length = 0
	} else {
		newInode.Data = fi
		newInode.Flags = vfs.ModeRegular | vfs.ModeIRWXU
		newInode.Length = int64(fi.FileLen)
	}
	a.logger.Debug("created entry", "name", newInode.Dentry.Name, "dir", isDir,
		"sector", fi.DirSector, "offset", fi.DirOffset)
	return nil
}

// Iterate implements vfs.InodeOperations. ctx.Token holds an IterToken;
// a nil or zero token starts from the first entry.
func (a *Adapter) Iterate(out, parent *vfs.Inode, ctx *vfs.DirContext) (err error) {
	start := time.Now()
	defer func() {
		if errors.CodeOf(err) == errors.ErrCodeEndOfDirectory {
			a.observe("iterate", start, 0, nil)
			return
		}
		a.observe("iterate", start, 0, err)
	}()

	di, err := dirOf(parent)
	if err != nil {
		return err
	}
	tok, _ := ctx.Token.(IterToken)

	lease := di.Scratch.Acquire()
	defer lease.Release()
	scratch := lease.Bytes()

	fs := di.File.Fs
	if tok.IsStart() {
		cluster, err := a.startCluster(di, scratch)
		if err != nil {
			return err
		}
		di.Cursor = dirCursor(&fs.Vol, cluster)
	} else {
		di.Cursor = tok.cursor
	}
	if err := a.prims.ReadSector(fs, scratch, di.Cursor.Sector); err != nil {
		return err
	}

	for {
		var de DirEntry
		status, err := a.prims.GetNext(fs, di, scratch, &de)
		if err != nil {
			return err
		}
		switch status {
		case StatusEOF:
			tok.cursor = di.Cursor
			tok.started = true
			ctx.Token = tok
			return errors.ErrEndOfDirectory
		case StatusAllocNew:
			return errors.ErrDirectoryFull
		}

		tok.index++
		if de.Unused() {
			continue
		}
		a.fillInode(out, &de, di)
		tok.cursor = di.Cursor
		tok.started = true
		ctx.Token = tok
		return nil
	}
}

// Remove implements vfs.InodeOperations. The node state is released only
// when the on-disk removal succeeds.
func (a *Adapter) Remove(inode *vfs.Inode) (err error) {
	start := time.Now()
	defer func() { a.observe("remove", start, 0, err) }()

	node, ok := inode.Data.(Node)
	if !ok || node == nil {
		return errors.NewError(errors.ErrCodeInvalidState, "inode has no node state").
			WithComponent("fat").WithOperation("remove")
	}
	if di, ok := node.(*DirInfo); ok && di.root {
		return errors.NewError(errors.ErrCodeInvalidArgument, "cannot remove the root directory").
			WithComponent("fat").WithOperation("remove")
	}

	lease := a.scratch.Acquire()
	defer lease.Release()

	if node.IsDir() {
		err = a.prims.UnlinkDirectory(node.Info(), lease.Bytes())
	} else {
		err = a.prims.UnlinkFile(node.Info(), lease.Bytes())
	}
	if err != nil {
		return err
	}
	inode.Data = nil
	return nil
}

// Pathname implements vfs.InodeOperations. Only vfs.PathName is supported;
// buf receives the raw 11-byte name.
func (a *Adapter) Pathname(inode *vfs.Inode, buf []byte, mode vfs.PathMode) error {
	if mode != vfs.PathName {
		return errors.ErrNotImplemented
	}
	node, ok := inode.Data.(Node)
	if !ok || node == nil {
		return errors.NewError(errors.ErrCodeInvalidState, "inode has no node state").
			WithComponent("fat").WithOperation("pathname")
	}
	if len(buf) < 11 {
		return errors.NewError(errors.ErrCodeInvalidArgument, "name buffer shorter than 11 bytes").
			WithComponent("fat").WithOperation("pathname")
	}

	lease := a.scratch.Acquire()
	defer lease.Release()
	scratch := lease.Bytes()

	fi := node.Info()
	if err := a.prims.ReadSector(fi.Fs, scratch, fi.DirSector); err != nil {
		return err
	}
	off := fi.DirOffset * DirEntrySize
	copy(buf, scratch[off:off+11])
	return nil
}

// FormatName implements vfs.NameFormatter
func (a *Adapter) FormatName(raw []byte) string {
	return DisplayName(raw)
}

// Truncate implements vfs.InodeOperations. Lengths change through Write.
func (a *Adapter) Truncate(inode *vfs.Inode, length int64) error {
	return nil
}

// Close implements vfs.FileOperations
func (a *Adapter) Close(file *vfs.File) error {
	return nil
}

// Read implements vfs.FileOperations. The request is clamped to the bytes
// left between file.Pos and the end of the file.
func (a *Adapter) Read(file *vfs.File, buf []byte) (n int, err error) {
	start := time.Now()
	defer func() { a.observe("read", start, int64(n), err) }()

	fi, err := fileOf(file.Inode)
	if err != nil {
		return 0, err
	}
	if file.Pos >= int64(fi.FileLen) {
		return 0, nil
	}
	if left := int64(fi.FileLen) - file.Pos; int64(len(buf)) > left {
		buf = buf[:left]
	}

	lease := a.scratch.Acquire()
	defer lease.Release()

	fi.Pointer = uint32(file.Pos)
	return a.prims.ReadFile(fi, lease.Bytes(), buf)
}

// Write implements vfs.FileOperations. The file is switched to read/write
// mode unconditionally.
func (a *Adapter) Write(file *vfs.File, buf []byte) (n int, err error) {
	start := time.Now()
	defer func() { a.observe("write", start, int64(n), err) }()

	fi, err := fileOf(file.Inode)
	if err != nil {
		return 0, err
	}
	if file.Pos < 0 || file.Pos+int64(len(buf)) > math.MaxUint32 {
		return 0, errors.Newf(errors.ErrCodeRequestTooLarge, "write of %d bytes at %d exceeds the 4 GiB file limit", len(buf), file.Pos).
			WithComponent("fat").WithOperation("write")
	}
	fi.Mode = os.O_RDWR

	lease := a.scratch.Acquire()
	defer lease.Release()

	fi.Pointer = uint32(file.Pos)
	return a.prims.WriteFile(fi, lease.Bytes(), buf, &file.Inode.Length)
}

// FillSuperblock locates the FAT volume on dev and installs the adapter on sb.
func (a *Adapter) FillSuperblock(sb *vfs.SuperBlock, dev types.BlockDevice) error {
	sb.IOps = a
	sb.FOps = a

	part, err := a.prims.PartitionStart(dev, 0)
	if err != nil {
		return errors.Wrap(errors.ErrCodeNoPartition, "locate partition", err).
			WithComponent("fat").WithOperation("fill_superblock").WithContext("device", dev.ID())
	}
	vol, err := a.prims.VolumeInfo(dev, part.Start)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidVolume, "read volume info", err).
			WithComponent("fat").WithOperation("fill_superblock").WithContext("device", dev.ID())
	}
	if int(vol.SectorSize) > len(a.scratch.buf) {
		return errors.Newf(errors.ErrCodeInvalidVolume, "sector size %d exceeds scratch buffer", vol.SectorSize).
			WithComponent("fat").WithOperation("fill_superblock")
	}

	sb.Data = &FsInfo{Device: dev, Vol: vol}
	a.logger.Info("volume found", "device", dev.ID(), "fat", vol.FATType,
		"start", vol.StartSector, "label", vol.Label)
	return nil
}

// MountEnd attaches root directory state to sb's root inode.
func (a *Adapter) MountEnd(sb *vfs.SuperBlock) error {
	fs, ok := sb.Data.(*FsInfo)
	if !ok {
		return errors.NewError(errors.ErrCodeInvalidState, "superblock has no volume state").
			WithComponent("fat").WithOperation("mount_end")
	}

	di := &DirInfo{Scratch: a.scratch, root: true}
	lease := a.scratch.Acquire()
	err := a.prims.OpenDir(fs, "", di, lease.Bytes())
	lease.Release()
	if err != nil {
		return err
	}

	di.File = FileInfo{
		Fs:           fs,
		Vol:          &fs.Vol,
		DirSector:    fs.Vol.RootDir,
		DirOffset:    0,
		FirstCluster: 0,
	}
	root := sb.Root.Inode
	root.Data = di
	root.Flags = vfs.ModeDir | vfs.ModeIRWXU
	return nil
}

// Format writes an empty FAT volume to dev. opts names the FAT width ("12"
// or "16"); an empty string selects FAT12.
func (a *Adapter) Format(dev types.BlockDevice, opts string) error {
	fatType := FAT12
	if s := strings.TrimSpace(opts); s != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(s), "fat"))
		if err != nil || (n != FAT12 && n != FAT16) {
			return errors.Newf(errors.ErrCodeInvalidArgument, "unsupported FAT type %q", opts).
				WithComponent("fat").WithOperation("format")
		}
		fatType = n
	}
	return a.prims.Format(dev, fatType)
}

// Sync writes back buffered sectors of sb's volume.
func (a *Adapter) Sync(sb *vfs.SuperBlock) error {
	fs, ok := sb.Data.(*FsInfo)
	if !ok {
		return nil
	}
	return a.prims.Sync(fs)
}
