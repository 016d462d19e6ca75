package dosfs

import (
	"time"

	"github.com/objectfs/fatvfs/internal/fat"
	"github.com/objectfs/fatvfs/pkg/errors"
	"github.com/objectfs/fatvfs/pkg/utils"
)

// GetNext implements fat.Primitives
func (d *FS) GetNext(fs *fat.FsInfo, di *fat.DirInfo, scratch []byte, de *fat.DirEntry) (fat.Status, error) {
	vol := &fs.Vol
	cur := di.Cursor
	blank := di.Flags&fat.DirFlagBlankEntry != 0

	if cur.Entry >= vol.EntriesPerSector() {
		next := cur
		next.Entry = 0
		switch {
		case cur.Cluster == 0:
			next.Sector++
			if next.Sector >= vol.RootDir+vol.RootSectors() {
				return fat.StatusEOF, nil
			}
		case cur.Sector+1 < vol.ClusterSector(cur.Cluster)+vol.SecPerClus:
			next.Sector++
		default:
			c, ok, err := d.nextCluster(fs, cur.Cluster)
			if err != nil {
				return fat.StatusEOF, err
			}
			if !ok {
				if blank {
					return fat.StatusAllocNew, nil
				}
				return fat.StatusEOF, nil
			}
			next.Cluster = c
			next.Sector = vol.ClusterSector(c)
		}

		if err := d.ReadSector(fs, scratch, next.Sector); err != nil {
			return fat.StatusEOF, err
		}
		di.Cursor = next
		cur = next
	}

	*de = fat.DecodeDirEntry(scratch[cur.Entry*fat.DirEntrySize:])
	if de.Name[0] == fat.NameFree {
		if !blank {
			return fat.StatusEOF, nil
		}
		di.Cursor.Entry++
		return fat.StatusOK, nil
	}

	switch {
	case de.Name[0] == fat.NameDeleted:
		de.Name[0] = fat.NameFree
	case de.Attr&fat.AttrLongName == fat.AttrLongName:
		de.Name[0] = fat.NameFree
	case de.IsVolumeLabel():
		de.Name[0] = fat.NameFree
	}
	di.Cursor.Entry++
	return fat.StatusOK, nil
}

// rootCursor positions a walk at the first root directory record.
func rootCursor(vol *fat.VolInfo) fat.Cursor {
	if vol.FATType == fat.FAT32 {
		return fat.Cursor{Cluster: vol.RootCluster, Sector: vol.ClusterSector(vol.RootCluster)}
	}
	return fat.Cursor{Sector: vol.RootDir}
}

func clusterCursor(vol *fat.VolInfo, cluster uint32) fat.Cursor {
	if cluster == 0 {
		return rootCursor(vol)
	}
	return fat.Cursor{Cluster: cluster, Sector: vol.ClusterSector(cluster)}
}

// OpenDir implements fat.Primitives. path is slash separated from the root;
// "" and "/" open the root itself.
func (d *FS) OpenDir(fs *fat.FsInfo, path string, di *fat.DirInfo, scratch []byte) error {
	vol := &fs.Vol
	di.Cursor = rootCursor(vol)
	if err := d.ReadSector(fs, scratch, di.Cursor.Sector); err != nil {
		return err
	}

	for _, part := range utils.SplitPath(path) {
		target := fat.CanonicalName(part)
		for {
			var de fat.DirEntry
			status, err := d.GetNext(fs, di, scratch, &de)
			if err != nil {
				return err
			}
			if status != fat.StatusOK {
				return errors.Newf(errors.ErrCodeFileNotFound, "directory %q not found", part).
					WithComponent("dosfs").WithOperation("open_dir")
			}
			if de.Unused() || de.Name != target {
				continue
			}
			if !de.IsDir() {
				return errors.ErrNotDirectory
			}

			di.File.DirSector = di.Cursor.Sector
			di.File.DirOffset = di.Cursor.Entry - 1
			di.File.FirstCluster = de.StartCluster()
			di.File.Cluster = de.StartCluster()
			di.Cursor = clusterCursor(vol, de.StartCluster())
			if err := d.ReadSector(fs, scratch, di.Cursor.Sector); err != nil {
				return err
			}
			break
		}
	}
	return nil
}

// dosTime encodes t as FAT date and time fields.
func dosTime(t time.Time) (date, clock [2]byte) {
	year := t.Year() - 1980
	if year < 0 {
		year = 0
	}
	dv := uint16(year)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	tv := uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	date = [2]byte{byte(dv), byte(dv >> 8)}
	clock = [2]byte{byte(tv), byte(tv >> 8)}
	return date, clock
}

func (d *FS) stamp(de *fat.DirEntry, created bool) {
	date, clock := dosTime(d.now())
	de.WrtDate, de.WrtTime = date, clock
	de.LstAccDate = date
	if created {
		de.CrtDate, de.CrtTime = date, clock
	}
}

// CreateFile implements fat.Primitives. parent.Cursor must point at the
// directory's first record with that sector loaded in scratch.
func (d *FS) CreateFile(fi *fat.FileInfo, parent *fat.DirInfo, scratch []byte, name string, isDir bool) error {
	if !fat.ValidName(name) {
		return errors.Newf(errors.ErrCodeInvalidArgument, "%q is not a valid 8.3 name", name).
			WithComponent("dosfs").WithOperation("create")
	}
	fs := parent.File.Fs
	vol := &fs.Vol

	flags := parent.Flags
	parent.Flags |= fat.DirFlagBlankEntry
	defer func() { parent.Flags = flags }()

	var sector uint32
	var slot int
	for {
		var de fat.DirEntry
		status, err := d.GetNext(fs, parent, scratch, &de)
		if err != nil {
			return err
		}
		if status == fat.StatusOK {
			// GetNext also blanks labels and long-name slots; only reuse real free slots
			raw := scratch[(parent.Cursor.Entry-1)*fat.DirEntrySize]
			if raw != fat.NameFree && raw != fat.NameDeleted {
				continue
			}
			sector, slot = parent.Cursor.Sector, parent.Cursor.Entry-1
			break
		}
		if status == fat.StatusEOF || parent.Cursor.Cluster == 0 {
			return errors.ErrDirectoryFull
		}

		// grow the directory by one cluster
		c, err := d.allocCluster(fs)
		if err != nil {
			return err
		}
		if err := d.SetFAT(fs, parent.Cursor.Cluster, c); err != nil {
			return err
		}
		if err := d.zeroCluster(fs, c); err != nil {
			return err
		}
		sector, slot = vol.ClusterSector(c), 0
		break
	}

	entry := fat.DirEntry{Name: fat.CanonicalName(name), Attr: fat.AttrArchive}
	d.stamp(&entry, true)

	if isDir {
		c, err := d.allocCluster(fs)
		if err != nil {
			return err
		}
		if err := d.zeroCluster(fs, c); err != nil {
			return err
		}
		var parentCluster uint32
		if !parent.IsRoot() {
			parentCluster = parent.File.FirstCluster
		}
		if err := d.initDirectory(fs, scratch, c, parentCluster, &entry); err != nil {
			return err
		}
		entry.Attr = fat.AttrDirectory
		entry.SetStartCluster(c)
	}

	if err := d.ReadSector(fs, scratch, sector); err != nil {
		return err
	}
	entry.Encode(scratch[slot*fat.DirEntrySize:])
	if err := d.WriteSector(fs, scratch, sector); err != nil {
		return err
	}

	*fi = fat.FileInfo{
		Fs:           fs,
		Vol:          vol,
		DirSector:    sector,
		DirOffset:    slot,
		Cluster:      entry.StartCluster(),
		FirstCluster: entry.StartCluster(),
	}
	d.logger.Debug("created entry", "device", fs.Device.ID(), "name", name, "dir", isDir,
		"sector", sector, "slot", slot)
	return nil
}

// initDirectory writes the "." and ".." records into the first sector of
// cluster c. tmpl supplies the timestamps.
func (d *FS) initDirectory(fs *fat.FsInfo, scratch []byte, c, parentCluster uint32, tmpl *fat.DirEntry) error {
	sector := fs.Vol.ClusterSector(c)
	clear(scratch[:fs.Vol.SectorSize])

	dot := *tmpl
	dot.Name = fat.CanonicalName(".")
	dot.Attr = fat.AttrDirectory
	dot.SetStartCluster(c)
	dot.Encode(scratch[0:])

	dotdot := dot
	dotdot.Name = fat.CanonicalName("..")
	dotdot.SetStartCluster(parentCluster)
	dotdot.Encode(scratch[fat.DirEntrySize:])

	return d.WriteSector(fs, scratch, sector)
}

// UnlinkFile implements fat.Primitives
func (d *FS) UnlinkFile(fi *fat.FileInfo, scratch []byte) error {
	fs := fi.Fs
	if err := d.ReadSector(fs, scratch, fi.DirSector); err != nil {
		return err
	}
	off := fi.DirOffset * fat.DirEntrySize
	scratch[off] = fat.NameDeleted
	if err := d.WriteSector(fs, scratch, fi.DirSector); err != nil {
		return err
	}
	return d.freeChain(fs, fi.FirstCluster)
}

// UnlinkDirectory implements fat.Primitives
func (d *FS) UnlinkDirectory(fi *fat.FileInfo, scratch []byte) error {
	if fi.FirstCluster < 2 {
		return errors.NewError(errors.ErrCodeInvalidArgument, "refusing to remove the root directory").
			WithComponent("dosfs").WithOperation("unlink_dir")
	}

	fs := fi.Fs
	walk := &fat.DirInfo{File: *fi}
	walk.Cursor = clusterCursor(&fs.Vol, fi.FirstCluster)
	if err := d.ReadSector(fs, scratch, walk.Cursor.Sector); err != nil {
		return err
	}
	for {
		var de fat.DirEntry
		status, err := d.GetNext(fs, walk, scratch, &de)
		if err != nil {
			return err
		}
		if status != fat.StatusOK {
			break
		}
		if de.Unused() || de.Name[0] == '.' {
			continue
		}
		return errors.ErrNotEmpty
	}

	return d.UnlinkFile(fi, scratch)
}
