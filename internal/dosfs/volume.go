package dosfs

import (
	"encoding/binary"
	"strings"

	"github.com/diskfs/go-diskfs/partition/mbr"

	"github.com/objectfs/fatvfs/internal/fat"
	"github.com/objectfs/fatvfs/pkg/errors"
	"github.com/objectfs/fatvfs/pkg/types"
)

const (
	bootSectorSize = 512
	// partitionStart is where Format places the single partition.
	partitionStart = 1
	defaultLabel   = "FATVFS"
)

// fatPartitionTypes are the MBR types a FAT volume may live in.
var fatPartitionTypes = map[mbr.Type]bool{
	mbr.Fat12:     true,
	mbr.Fat16:     true,
	mbr.Fat16b:    true,
	mbr.Fat32CHS:  true,
	mbr.Fat32LBA:  true,
	mbr.Fat16bLBA: true,
}

func readBootSector(dev types.BlockDevice, lba uint32) ([]byte, error) {
	buf := make([]byte, bootSectorSize)
	if _, err := dev.ReadAt(buf, int64(lba)*bootSectorSize); err != nil {
		return nil, errors.Wrap(errors.ErrCodeIORead, "read boot sector", err).
			WithComponent("dosfs").WithContext("device", dev.ID())
	}
	return buf, nil
}

// looksLikeBPB reports whether b starts with a plausible FAT boot sector.
func looksLikeBPB(b []byte) bool {
	if b[510] != 0x55 || b[511] != 0xaa {
		return false
	}
	if b[0] != 0xeb && b[0] != 0xe9 {
		return false
	}
	switch binary.LittleEndian.Uint16(b[11:13]) {
	case 512, 1024, 2048, 4096:
	default:
		return false
	}
	spc := b[13]
	if spc == 0 || spc&(spc-1) != 0 {
		return false
	}
	return binary.LittleEndian.Uint16(b[14:16]) > 0 && b[16] > 0
}

// PartitionStart implements fat.Primitives. A device whose first sector is
// itself a FAT boot sector has one partition starting at 0; otherwise the
// MBR partition table is consulted.
func (d *FS) PartitionStart(dev types.BlockDevice, index int) (fat.Partition, error) {
	b, err := readBootSector(dev, 0)
	if err != nil {
		return fat.Partition{}, err
	}
	if looksLikeBPB(b) {
		if index != 0 {
			return fat.Partition{}, errors.ErrNoPartition
		}
		return fat.Partition{Start: 0, Size: uint32(dev.Size() / bootSectorSize)}, nil
	}

	table, err := mbr.Read(dev, bootSectorSize, bootSectorSize)
	if err != nil {
		return fat.Partition{}, errors.Wrap(errors.ErrCodeNoPartition, "read partition table", err).
			WithComponent("dosfs").WithContext("device", dev.ID())
	}
	if index < 0 || index >= len(table.Partitions) {
		return fat.Partition{}, errors.ErrNoPartition
	}
	p := table.Partitions[index]
	if !fatPartitionTypes[p.Type] || p.Size == 0 {
		return fat.Partition{}, errors.Newf(errors.ErrCodeNoPartition, "partition %d has type 0x%02x", index, byte(p.Type)).
			WithComponent("dosfs").WithContext("device", dev.ID())
	}
	return fat.Partition{Start: p.Start, Size: p.Size, Type: byte(p.Type), Active: p.Bootable}, nil
}

// VolumeInfo implements fat.Primitives. start is in 512-byte sectors.
func (d *FS) VolumeInfo(dev types.BlockDevice, start uint32) (fat.VolInfo, error) {
	b, err := readBootSector(dev, start)
	if err != nil {
		return fat.VolInfo{}, err
	}
	if !looksLikeBPB(b) {
		return fat.VolInfo{}, errors.NewError(errors.ErrCodeInvalidVolume, "no FAT boot sector").
			WithComponent("dosfs").WithContext("device", dev.ID()).WithDetail("start", start)
	}

	le16 := func(off int) uint32 { return uint32(binary.LittleEndian.Uint16(b[off : off+2])) }
	le32 := func(off int) uint32 { return binary.LittleEndian.Uint32(b[off : off+4]) }

	bps := le16(11)
	if start*bootSectorSize%bps != 0 {
		return fat.VolInfo{}, errors.Newf(errors.ErrCodeInvalidVolume, "partition start %d not aligned to %d byte sectors", start, bps).
			WithComponent("dosfs")
	}
	v := fat.VolInfo{
		StartSector:  start * bootSectorSize / bps,
		SectorSize:   bps,
		SecPerClus:   uint32(b[13]),
		ReservedSecs: le16(14),
		NumFATs:      uint32(b[16]),
		RootEntries:  le16(17),
		NumSecs:      le16(19),
		SecPerFAT:    le16(22),
	}
	if v.NumSecs == 0 {
		v.NumSecs = le32(32)
	}
	if v.SecPerFAT == 0 {
		v.SecPerFAT = le32(36)
	}

	meta := v.ReservedSecs + v.NumFATs*v.SecPerFAT + v.RootSectors()
	if v.SecPerFAT == 0 || v.NumSecs <= meta {
		return fat.VolInfo{}, errors.NewError(errors.ErrCodeInvalidVolume, "inconsistent boot sector geometry").
			WithComponent("dosfs").WithContext("device", dev.ID())
	}
	v.NumClusters = (v.NumSecs - meta) / v.SecPerClus
	switch {
	case v.NumClusters < 4085:
		v.FATType = fat.FAT12
	case v.NumClusters < 65525:
		v.FATType = fat.FAT16
	default:
		v.FATType = fat.FAT32
	}

	v.FAT1 = v.StartSector + v.ReservedSecs
	labelOff := 43
	if v.FATType == fat.FAT32 {
		v.RootCluster = le32(44)
		v.DataStart = v.FAT1 + v.NumFATs*v.SecPerFAT
		v.RootDir = v.ClusterSector(v.RootCluster)
		labelOff = 71
	} else {
		v.RootDir = v.FAT1 + v.NumFATs*v.SecPerFAT
		v.DataStart = v.RootDir + v.RootSectors()
	}
	v.Label = strings.TrimRight(string(b[labelOff:labelOff+11]), " \x00")

	d.logger.Debug("decoded volume", "device", dev.ID(), "fat", v.FATType,
		"clusters", v.NumClusters, "sectors_per_cluster", v.SecPerClus)
	return v, nil
}

// layout is the geometry Format chooses for a partition.
type layout struct {
	fatType     int
	sectors     uint32
	secPerClus  uint32
	rootEntries uint32
	secPerFAT   uint32
	clusters    uint32
}

const (
	reservedSectors = 1
	numFATs         = 2
)

// planLayout picks the smallest cluster size whose cluster count fits fatType.
func planLayout(fatType int, sectors uint32) (layout, error) {
	l := layout{fatType: fatType, sectors: sectors, rootEntries: 512}
	bits, minClusters, maxClusters := uint32(16), uint32(4085), uint32(65524)
	if fatType == fat.FAT12 {
		l.rootEntries = 224
		bits, minClusters, maxClusters = 12, 1, 4084
	}
	rootSecs := (l.rootEntries*fat.DirEntrySize + bootSectorSize - 1) / bootSectorSize

	for spc := uint32(1); spc <= 128; spc *= 2 {
		if sectors <= reservedSectors+rootSecs+numFATs {
			break
		}
		avail := sectors - reservedSectors - rootSecs
		fatSecs := uint32(1)
		var clusters uint32
		for {
			if avail <= numFATs*fatSecs {
				clusters = 0
				break
			}
			clusters = (avail - numFATs*fatSecs) / spc
			need := ((clusters+2)*bits/8 + 1 + bootSectorSize - 1) / bootSectorSize
			if need <= fatSecs {
				break
			}
			fatSecs = need
		}
		if clusters >= minClusters && clusters <= maxClusters {
			l.secPerClus, l.secPerFAT, l.clusters = spc, fatSecs, clusters
			return l, nil
		}
		if clusters < minClusters {
			break
		}
	}
	return layout{}, errors.Newf(errors.ErrCodeInvalidArgument, "%d sectors cannot hold a FAT%d volume", sectors, fatType).
		WithComponent("dosfs").WithOperation("format")
}

// Format implements fat.Primitives. It writes an MBR with one FAT
// partition, the boot sector, empty FATs and a root directory holding the
// volume label.
func (d *FS) Format(dev types.BlockDevice, fatType int) error {
	if fatType != fat.FAT12 && fatType != fat.FAT16 {
		return errors.Newf(errors.ErrCodeInvalidArgument, "cannot format FAT%d", fatType).
			WithComponent("dosfs").WithOperation("format")
	}
	total := uint32(dev.Size() / bootSectorSize)
	if total <= partitionStart {
		return errors.NewError(errors.ErrCodeInvalidArgument, "device too small").
			WithComponent("dosfs").WithOperation("format")
	}
	l, err := planLayout(fatType, total-partitionStart)
	if err != nil {
		return err
	}

	// cached sectors of the old volume are stale from here on
	d.cache.Invalidate(dev)

	zero := make([]byte, bootSectorSize)
	if _, err := dev.WriteAt(zero, 0); err != nil {
		return errors.Wrap(errors.ErrCodeIOWrite, "clear MBR", err).WithComponent("dosfs")
	}
	partType := mbr.Fat12
	if fatType == fat.FAT16 {
		partType = mbr.Fat16bLBA
	}
	table := &mbr.Table{
		LogicalSectorSize:  bootSectorSize,
		PhysicalSectorSize: bootSectorSize,
		Partitions: []*mbr.Partition{{
			Bootable: true,
			Type:     partType,
			Start:    partitionStart,
			Size:     l.sectors,
		}},
	}
	if err := table.Write(dev, dev.Size()); err != nil {
		return errors.Wrap(errors.ErrCodeIOWrite, "write partition table", err).
			WithComponent("dosfs").WithContext("device", dev.ID())
	}

	if err := dev.Write(encodeBootSector(l, d.now().Unix()), bootSectorSize, partitionStart); err != nil {
		return errors.Wrap(errors.ErrCodeIOWrite, "write boot sector", err).WithComponent("dosfs")
	}

	rootSecs := (l.rootEntries*fat.DirEntrySize + bootSectorSize - 1) / bootSectorSize
	fatStart := uint32(partitionStart + reservedSectors)
	metaEnd := fatStart + numFATs*l.secPerFAT + rootSecs
	for s := fatStart; s < metaEnd; s++ {
		if err := dev.Write(zero, bootSectorSize, uint64(s)); err != nil {
			return errors.Wrap(errors.ErrCodeIOWrite, "clear metadata", err).WithComponent("dosfs")
		}
	}

	// reserved entries 0 and 1: media byte and end-of-chain
	head := make([]byte, bootSectorSize)
	if fatType == fat.FAT12 {
		copy(head, []byte{0xf8, 0xff, 0xff})
	} else {
		copy(head, []byte{0xf8, 0xff, 0xff, 0xff})
	}
	for i := uint32(0); i < numFATs; i++ {
		if err := dev.Write(head, bootSectorSize, uint64(fatStart+i*l.secPerFAT)); err != nil {
			return errors.Wrap(errors.ErrCodeIOWrite, "write FAT", err).WithComponent("dosfs")
		}
	}

	root := make([]byte, bootSectorSize)
	label := fat.DirEntry{Attr: fat.AttrVolumeID}
	copy(label.Name[:], fmtLabel(defaultLabel))
	d.stamp(&label, true)
	label.Encode(root)
	if err := dev.Write(root, bootSectorSize, uint64(fatStart+numFATs*l.secPerFAT)); err != nil {
		return errors.Wrap(errors.ErrCodeIOWrite, "write root directory", err).WithComponent("dosfs")
	}

	d.logger.Info("formatted volume", "device", dev.ID(), "fat", fatType,
		"clusters", l.clusters, "sectors_per_cluster", l.secPerClus)
	return nil
}

func fmtLabel(s string) []byte {
	out := []byte("           ")
	copy(out, strings.ToUpper(s))
	return out
}

func encodeBootSector(l layout, serial int64) []byte {
	b := make([]byte, bootSectorSize)
	copy(b[0:3], []byte{0xeb, 0x3c, 0x90})
	copy(b[3:11], "FATVFS  ")
	binary.LittleEndian.PutUint16(b[11:13], bootSectorSize)
	b[13] = byte(l.secPerClus)
	binary.LittleEndian.PutUint16(b[14:16], reservedSectors)
	b[16] = numFATs
	binary.LittleEndian.PutUint16(b[17:19], uint16(l.rootEntries))
	if l.sectors < 0x10000 {
		binary.LittleEndian.PutUint16(b[19:21], uint16(l.sectors))
	} else {
		binary.LittleEndian.PutUint32(b[32:36], l.sectors)
	}
	b[21] = 0xf8
	binary.LittleEndian.PutUint16(b[22:24], uint16(l.secPerFAT))
	binary.LittleEndian.PutUint16(b[24:26], 63)
	binary.LittleEndian.PutUint16(b[26:28], 255)
	binary.LittleEndian.PutUint32(b[28:32], partitionStart)
	b[36] = 0x80
	b[38] = 0x29
	binary.LittleEndian.PutUint32(b[39:43], uint32(serial))
	copy(b[43:54], fmtLabel(defaultLabel))
	if l.fatType == fat.FAT12 {
		copy(b[54:62], "FAT12   ")
	} else {
		copy(b[54:62], "FAT16   ")
	}
	b[510], b[511] = 0x55, 0xaa
	return b
}
