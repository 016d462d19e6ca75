package dosfs

import (
	"github.com/objectfs/fatvfs/internal/fat"
	"github.com/objectfs/fatvfs/pkg/errors"
)

// clusterAt returns the index-th cluster of the chain starting at first.
func (d *FS) clusterAt(fs *fat.FsInfo, first, index uint32) (uint32, error) {
	c := first
	for i := uint32(0); i < index; i++ {
		next, ok, err := d.nextCluster(fs, c)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, errors.Newf(errors.ErrCodeInvalidVolume, "cluster chain from %d ends before index %d", first, index).
				WithComponent("dosfs")
		}
		c = next
	}
	return c, nil
}

// ReadFile implements fat.Primitives
func (d *FS) ReadFile(fi *fat.FileInfo, scratch, buf []byte) (int, error) {
	if fi.Pointer >= fi.FileLen || len(buf) == 0 {
		return 0, nil
	}
	if left := fi.FileLen - fi.Pointer; uint32(len(buf)) > left {
		buf = buf[:left]
	}
	if fi.FirstCluster < 2 {
		return 0, errors.Newf(errors.ErrCodeInvalidVolume, "file of %d bytes has no clusters", fi.FileLen).
			WithComponent("dosfs").WithOperation("read_file")
	}

	fs := fi.Fs
	vol := &fs.Vol
	cb := vol.ClusterBytes()
	cluster, err := d.clusterAt(fs, fi.FirstCluster, fi.Pointer/cb)
	if err != nil {
		return 0, err
	}

	n := 0
	for n < len(buf) {
		off := fi.Pointer % cb
		if off == 0 && n > 0 {
			next, ok, err := d.nextCluster(fs, cluster)
			if err != nil {
				return n, err
			}
			if !ok {
				return n, errors.NewError(errors.ErrCodeInvalidVolume, "cluster chain shorter than file").
					WithComponent("dosfs").WithOperation("read_file")
			}
			cluster = next
		}

		sector := vol.ClusterSector(cluster) + off/vol.SectorSize
		if err := d.ReadSector(fs, scratch, sector); err != nil {
			return n, err
		}
		k := copy(buf[n:], scratch[off%vol.SectorSize:vol.SectorSize])
		n += k
		fi.Pointer += uint32(k)
	}
	fi.Cluster = cluster
	return n, nil
}

// ensureChain makes the chain of fi at least clusters long. New clusters
// are zeroed so that gaps read back as zeros.
func (d *FS) ensureChain(fi *fat.FileInfo, clusters uint32) error {
	fs := fi.Fs
	if clusters == 0 {
		return nil
	}
	if fi.FirstCluster < 2 {
		c, err := d.allocCluster(fs)
		if err != nil {
			return err
		}
		if err := d.zeroCluster(fs, c); err != nil {
			return err
		}
		fi.FirstCluster = c
		fi.Cluster = c
	}

	c := fi.FirstCluster
	for have := uint32(1); have < clusters; have++ {
		next, ok, err := d.nextCluster(fs, c)
		if err != nil {
			return err
		}
		if !ok {
			if next, err = d.allocCluster(fs); err != nil {
				return err
			}
			if err := d.zeroCluster(fs, next); err != nil {
				return err
			}
			if err := d.SetFAT(fs, c, next); err != nil {
				return err
			}
		}
		c = next
	}
	return nil
}

// WriteFile implements fat.Primitives
func (d *FS) WriteFile(fi *fat.FileInfo, scratch, buf []byte, length *int64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	fs := fi.Fs
	vol := &fs.Vol
	cb := vol.ClusterBytes()

	end := uint64(fi.Pointer) + uint64(len(buf))
	if end > 0xffffffff {
		return 0, errors.NewError(errors.ErrCodeRequestTooLarge, "write past the 4 GiB file size limit").
			WithComponent("dosfs").WithOperation("write_file")
	}
	if err := d.ensureChain(fi, uint32((end+uint64(cb)-1)/uint64(cb))); err != nil {
		// keep whatever was allocated reachable from the directory record
		return 0, d.finishWrite(fi, scratch, length, err)
	}

	cluster, err := d.clusterAt(fs, fi.FirstCluster, fi.Pointer/cb)
	if err != nil {
		return 0, err
	}

	n := 0
	for n < len(buf) {
		off := fi.Pointer % cb
		if off == 0 && n > 0 {
			next, ok, err := d.nextCluster(fs, cluster)
			if err != nil || !ok {
				if err == nil {
					err = errors.NewError(errors.ErrCodeInvalidState, "cluster chain shorter than allocated").
						WithComponent("dosfs")
				}
				return n, d.finishWrite(fi, scratch, length, err)
			}
			cluster = next
		}

		sector := vol.ClusterSector(cluster) + off/vol.SectorSize
		within := off % vol.SectorSize
		chunk := int(vol.SectorSize - within)
		if chunk > len(buf)-n {
			chunk = len(buf) - n
		}
		if chunk < int(vol.SectorSize) {
			if err := d.ReadSector(fs, scratch, sector); err != nil {
				return n, d.finishWrite(fi, scratch, length, err)
			}
		}
		copy(scratch[within:], buf[n:n+chunk])
		if err := d.WriteSector(fs, scratch, sector); err != nil {
			return n, d.finishWrite(fi, scratch, length, err)
		}
		n += chunk
		fi.Pointer += uint32(chunk)
		if fi.Pointer > fi.FileLen {
			fi.FileLen = fi.Pointer
		}
	}
	fi.Cluster = cluster
	return n, d.finishWrite(fi, scratch, length, nil)
}

// finishWrite records the new size and first cluster in the file's own
// directory record. cause, if set, is returned in preference.
func (d *FS) finishWrite(fi *fat.FileInfo, scratch []byte, length *int64, cause error) error {
	if length != nil {
		*length = int64(fi.FileLen)
	}

	fs := fi.Fs
	err := d.ReadSector(fs, scratch, fi.DirSector)
	if err == nil {
		off := fi.DirOffset * fat.DirEntrySize
		de := fat.DecodeDirEntry(scratch[off:])
		de.SetStartCluster(fi.FirstCluster)
		de.SetFileSize(fi.FileLen)
		d.stamp(&de, false)
		de.Encode(scratch[off:])
		err = d.WriteSector(fs, scratch, fi.DirSector)
	}

	if cause != nil {
		return cause
	}
	return err
}
