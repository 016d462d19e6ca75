package fat

import (
	"strings"
)

// DirEntrySize is the size of one on-disk directory record.
const DirEntrySize = 32

// Directory entry attribute bits.
const (
	AttrReadOnly  byte = 0x01
	AttrHidden    byte = 0x02
	AttrSystem    byte = 0x04
	AttrVolumeID  byte = 0x08
	AttrDirectory byte = 0x10
	AttrArchive   byte = 0x20
	AttrLongName  byte = 0x0f
)

// First name byte markers.
const (
	NameFree    byte = 0x00
	NameDeleted byte = 0xe5
	// NameKanji stands in for a real leading 0xe5 in the name.
	NameKanji byte = 0x05
)

// FAT variants.
const (
	FAT12 = 12
	FAT16 = 16
	FAT32 = 32
)

// VolInfo is the decoded geometry of one FAT volume. Sector numbers are
// absolute on the device.
type VolInfo struct {
	Label        string
	FATType      int
	StartSector  uint32
	SectorSize   uint32
	SecPerClus   uint32
	ReservedSecs uint32
	NumFATs      uint32
	SecPerFAT    uint32
	RootEntries  uint32
	NumSecs      uint32

	// FAT1 is the first sector of the first FAT.
	FAT1 uint32
	// RootDir is the first sector of the root directory.
	RootDir uint32
	// RootCluster is the root directory cluster on FAT32, zero otherwise.
	RootCluster uint32
	DataStart   uint32
	NumClusters uint32
}

// ClusterSector returns the first sector of cluster c. Clusters are numbered from 2.
func (v *VolInfo) ClusterSector(c uint32) uint32 {
	return v.DataStart + (c-2)*v.SecPerClus
}

// EntriesPerSector is the number of directory records in one sector.
func (v *VolInfo) EntriesPerSector() int {
	return int(v.SectorSize) / DirEntrySize
}

// RootSectors is the size of the fixed FAT12/16 root region.
func (v *VolInfo) RootSectors() uint32 {
	if v.SectorSize == 0 {
		return 0
	}
	return (v.RootEntries*DirEntrySize + v.SectorSize - 1) / v.SectorSize
}

// ClusterBytes is the size of one cluster.
func (v *VolInfo) ClusterBytes() uint32 {
	return v.SecPerClus * v.SectorSize
}

// DirEntry is one on-disk directory record. Multi-byte numbers are kept as
// the individual bytes the format stores.
type DirEntry struct {
	Name         [11]byte
	Attr         byte
	Reserved     byte
	CrtTimeTenth byte
	CrtTime      [2]byte
	CrtDate      [2]byte
	LstAccDate   [2]byte
	StartClusHL  byte
	StartClusHH  byte
	WrtTime      [2]byte
	WrtDate      [2]byte
	StartClusLL  byte
	StartClusLH  byte
	FileSize0    byte
	FileSize1    byte
	FileSize2    byte
	FileSize3    byte
}

// SplitUint32 assembles a 32-bit value stored low byte first across four fields.
func SplitUint32(b0, b1, b2, b3 byte) uint32 {
	return uint32(b0) | uint32(b1)<<8 | uint32(b2)<<16 | uint32(b3)<<24
}

// StartCluster returns the first cluster of the entry's data.
func (d *DirEntry) StartCluster() uint32 {
	return SplitUint32(d.StartClusLL, d.StartClusLH, d.StartClusHL, d.StartClusHH)
}

// SetStartCluster stores c across the four cluster bytes.
func (d *DirEntry) SetStartCluster(c uint32) {
	d.StartClusLL = byte(c)
	d.StartClusLH = byte(c >> 8)
	d.StartClusHL = byte(c >> 16)
	d.StartClusHH = byte(c >> 24)
}

// FileSize returns the file length in bytes.
func (d *DirEntry) FileSize() uint32 {
	return SplitUint32(d.FileSize0, d.FileSize1, d.FileSize2, d.FileSize3)
}

// SetFileSize stores n across the four size bytes.
func (d *DirEntry) SetFileSize(n uint32) {
	d.FileSize0 = byte(n)
	d.FileSize1 = byte(n >> 8)
	d.FileSize2 = byte(n >> 16)
	d.FileSize3 = byte(n >> 24)
}

// IsDir reports the directory attribute.
func (d *DirEntry) IsDir() bool {
	return d.Attr&AttrDirectory != 0
}

// IsVolumeLabel reports a volume label record (not a long-name fragment).
func (d *DirEntry) IsVolumeLabel() bool {
	return d.Attr&AttrLongName != AttrLongName && d.Attr&AttrVolumeID != 0
}

// Unused reports a slot that holds no live entry.
func (d *DirEntry) Unused() bool {
	return d.Name[0] == NameFree
}

// DecodeDirEntry reads the record at the start of b.
func DecodeDirEntry(b []byte) DirEntry {
	var d DirEntry
	_ = b[DirEntrySize-1]
	copy(d.Name[:], b[0:11])
	d.Attr = b[11]
	d.Reserved = b[12]
	d.CrtTimeTenth = b[13]
	copy(d.CrtTime[:], b[14:16])
	copy(d.CrtDate[:], b[16:18])
	copy(d.LstAccDate[:], b[18:20])
	d.StartClusHL = b[20]
	d.StartClusHH = b[21]
	copy(d.WrtTime[:], b[22:24])
	copy(d.WrtDate[:], b[24:26])
	d.StartClusLL = b[26]
	d.StartClusLH = b[27]
	d.FileSize0 = b[28]
	d.FileSize1 = b[29]
	d.FileSize2 = b[30]
	d.FileSize3 = b[31]
	return d
}

// Encode writes the record into the first DirEntrySize bytes of b.
func (d *DirEntry) Encode(b []byte) {
	_ = b[DirEntrySize-1]
	copy(b[0:11], d.Name[:])
	b[11] = d.Attr
	b[12] = d.Reserved
	b[13] = d.CrtTimeTenth
	copy(b[14:16], d.CrtTime[:])
	copy(b[16:18], d.CrtDate[:])
	copy(b[18:20], d.LstAccDate[:])
	b[20] = d.StartClusHL
	b[21] = d.StartClusHH
	copy(b[22:24], d.WrtTime[:])
	copy(b[24:26], d.WrtDate[:])
	b[26] = d.StartClusLL
	b[27] = d.StartClusLH
	b[28] = d.FileSize0
	b[29] = d.FileSize1
	b[30] = d.FileSize2
	b[31] = d.FileSize3
}

// ValidName reports whether name fits the 8.3 form without truncation.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, "/\\:*?\"<>|") {
		return false
	}
	base, ext := name, ""
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		base, ext = name[:i], name[i+1:]
	}
	return len(base) <= 8 && len(ext) <= 3 && !strings.Contains(base, ".")
}

// CanonicalName converts a name such as "readme.txt" into the space padded
// 11-byte form stored on disk ("README  TXT"). Over-long parts are cut.
func CanonicalName(name string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	if name == "." || name == ".." {
		copy(out[:], name)
		return out
	}

	base, ext := name, ""
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		base, ext = name[:i], name[i+1:]
	}
	base = upperASCII(base)
	ext = upperASCII(ext)
	if len(base) > 8 {
		base = base[:8]
	}
	if len(ext) > 3 {
		ext = ext[:3]
	}
	copy(out[0:8], base)
	copy(out[8:11], ext)
	if out[0] == NameDeleted {
		out[0] = NameKanji
	}
	return out
}

// upperASCII upper-cases a-z only; other bytes are OEM code page characters.
func upperASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}

// DisplayName turns an 11-byte on-disk name into "NAME.EXT". raw may be
// longer than 11 bytes; the rest is ignored.
func DisplayName(raw []byte) string {
	if len(raw) > 11 {
		raw = raw[:11]
	}
	var n [11]byte
	copy(n[:], raw)
	if n[0] == NameKanji {
		n[0] = NameDeleted
	}

	base := strings.TrimRight(string(n[0:8]), " \x00")
	ext := strings.TrimRight(string(n[8:11]), " \x00")
	if ext == "" {
		return base
	}
	return base + "." + ext
}
