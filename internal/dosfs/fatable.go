package dosfs

import (
	"github.com/objectfs/fatvfs/internal/fat"
	"github.com/objectfs/fatvfs/pkg/errors"
)

// endOfChain is the value written to terminate a cluster chain.
func endOfChain(vol *fat.VolInfo) uint32 {
	switch vol.FATType {
	case fat.FAT12:
		return 0xfff
	case fat.FAT16:
		return 0xffff
	default:
		return 0x0fffffff
	}
}

// isEndOfChain reports a terminal (or bad-cluster) table value.
func isEndOfChain(vol *fat.VolInfo, v uint32) bool {
	switch vol.FATType {
	case fat.FAT12:
		return v >= 0xff7
	case fat.FAT16:
		return v >= 0xfff7
	default:
		return v >= 0x0ffffff7
	}
}

// entryOffset is the byte offset of cluster's entry within one FAT copy.
func entryOffset(vol *fat.VolInfo, cluster uint32) uint32 {
	switch vol.FATType {
	case fat.FAT12:
		return cluster + cluster/2
	case fat.FAT16:
		return cluster * 2
	default:
		return cluster * 4
	}
}

func entryWidth(vol *fat.VolInfo) uint32 {
	if vol.FATType == fat.FAT32 {
		return 4
	}
	return 2
}

// fatBytes reads n bytes at byte offset off of FAT copy 0. FAT12 entries
// may straddle a sector boundary.
func (d *FS) fatBytes(fs *fat.FsInfo, off, n uint32) ([4]byte, error) {
	var out [4]byte
	ss := fs.Vol.SectorSize
	for i := uint32(0); i < n; i++ {
		pos := off + i
		bh, err := d.block(fs.Device, fs.Vol.FAT1+pos/ss, int(ss))
		if err != nil {
			return out, err
		}
		out[i] = bh.Data[pos%ss]
	}
	return out, nil
}

// putFATBytes applies set to n bytes at offset off in every FAT copy.
func (d *FS) putFATBytes(fs *fat.FsInfo, off, n uint32, set func(i uint32, old byte) byte) error {
	vol := &fs.Vol
	ss := vol.SectorSize
	for copyIdx := uint32(0); copyIdx < vol.NumFATs; copyIdx++ {
		base := vol.FAT1 + copyIdx*vol.SecPerFAT
		for i := uint32(0); i < n; i++ {
			pos := off + i
			bh, err := d.block(fs.Device, base+pos/ss, int(ss))
			if err != nil {
				return err
			}
			bh.Data[pos%ss] = set(i, bh.Data[pos%ss])
			d.cache.MarkDirty(bh)
		}
	}
	return nil
}

// GetFAT returns the table entry for cluster.
func (d *FS) GetFAT(fs *fat.FsInfo, cluster uint32) (uint32, error) {
	vol := &fs.Vol
	if cluster < 2 || cluster >= vol.NumClusters+2 {
		return 0, errors.Newf(errors.ErrCodeInvalidVolume, "cluster %d out of range", cluster).
			WithComponent("dosfs").WithOperation("get_fat")
	}

	b, err := d.fatBytes(fs, entryOffset(vol, cluster), entryWidth(vol))
	if err != nil {
		return 0, err
	}
	v := fat.SplitUint32(b[0], b[1], b[2], b[3])
	switch vol.FATType {
	case fat.FAT12:
		if cluster&1 == 1 {
			v >>= 4
		}
		return v & 0xfff, nil
	case fat.FAT16:
		return v & 0xffff, nil
	default:
		return v & 0x0fffffff, nil
	}
}

// SetFAT stores value as cluster's table entry in every FAT copy.
func (d *FS) SetFAT(fs *fat.FsInfo, cluster, value uint32) error {
	vol := &fs.Vol
	if cluster < 2 || cluster >= vol.NumClusters+2 {
		return errors.Newf(errors.ErrCodeInvalidVolume, "cluster %d out of range", cluster).
			WithComponent("dosfs").WithOperation("set_fat")
	}

	off := entryOffset(vol, cluster)
	switch vol.FATType {
	case fat.FAT12:
		odd := cluster&1 == 1
		return d.putFATBytes(fs, off, 2, func(i uint32, old byte) byte {
			switch {
			case !odd && i == 0:
				return byte(value)
			case !odd:
				return old&0xf0 | byte(value>>8)&0x0f
			case i == 0:
				return old&0x0f | byte(value<<4)
			default:
				return byte(value >> 4)
			}
		})
	case fat.FAT16:
		return d.putFATBytes(fs, off, 2, func(i uint32, _ byte) byte {
			return byte(value >> (8 * i))
		})
	default:
		return d.putFATBytes(fs, off, 4, func(i uint32, old byte) byte {
			if i == 3 {
				return old&0xf0 | byte(value>>24)&0x0f
			}
			return byte(value >> (8 * i))
		})
	}
}

// allocCluster claims the first free cluster and marks it as a chain end.
func (d *FS) allocCluster(fs *fat.FsInfo) (uint32, error) {
	vol := &fs.Vol
	for c := uint32(2); c < vol.NumClusters+2; c++ {
		v, err := d.GetFAT(fs, c)
		if err != nil {
			return 0, err
		}
		if v != 0 {
			continue
		}
		if err := d.SetFAT(fs, c, endOfChain(vol)); err != nil {
			return 0, err
		}
		d.logger.Debug("allocated cluster", "device", fs.Device.ID(), "cluster", c)
		return c, nil
	}
	return 0, errors.ErrDiskFull
}

// nextCluster follows the chain. ok is false at the end of the chain.
func (d *FS) nextCluster(fs *fat.FsInfo, cluster uint32) (next uint32, ok bool, err error) {
	v, err := d.GetFAT(fs, cluster)
	if err != nil {
		return 0, false, err
	}
	if isEndOfChain(&fs.Vol, v) {
		return 0, false, nil
	}
	if v < 2 {
		return 0, false, errors.Newf(errors.ErrCodeInvalidVolume, "cluster %d links to free cluster %d", cluster, v).
			WithComponent("dosfs")
	}
	return v, true, nil
}

// freeChain releases every cluster of the chain starting at first.
func (d *FS) freeChain(fs *fat.FsInfo, first uint32) error {
	c := first
	for c >= 2 {
		next, ok, err := d.nextCluster(fs, c)
		if err != nil {
			return err
		}
		if err := d.SetFAT(fs, c, 0); err != nil {
			return err
		}
		if !ok {
			break
		}
		c = next
	}
	return nil
}
