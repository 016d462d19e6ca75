package fat

import (
	"github.com/objectfs/fatvfs/pkg/errors"
	"github.com/objectfs/fatvfs/pkg/types"
)

const testSectorSize = 512

// testVol is a FAT12 floppy layout: root region at 19..32, data from 33.
var testVol = VolInfo{
	Label:        "TESTVOL",
	FATType:      FAT12,
	SectorSize:   testSectorSize,
	SecPerClus:   1,
	ReservedSecs: 1,
	NumFATs:      2,
	SecPerFAT:    9,
	RootEntries:  224,
	NumSecs:      2880,
	FAT1:         1,
	RootDir:      19,
	DataStart:    33,
	NumClusters:  2847,
}

// fakePrims keeps sectors in memory and walks directories sector by sector.
// Directories never span more than the sectors present in the map.
type fakePrims struct {
	sectors map[uint32][]byte
	readErr map[uint32]error
	reads   []uint32

	unlinkErr error
	unlinked  []*FileInfo

	created []string
	format  int

	readLens []int
	written  []byte
}

func newFakePrims() *fakePrims {
	return &fakePrims{
		sectors: make(map[uint32][]byte),
		readErr: make(map[uint32]error),
	}
}

func (f *fakePrims) putEntry(sector uint32, slot int, name string, attr byte, cluster, size uint32) {
	buf, ok := f.sectors[sector]
	if !ok {
		buf = make([]byte, testSectorSize)
		f.sectors[sector] = buf
	}
	de := DirEntry{Name: CanonicalName(name), Attr: attr}
	de.SetStartCluster(cluster)
	de.SetFileSize(size)
	de.Encode(buf[slot*DirEntrySize:])
}

func (f *fakePrims) markDeleted(sector uint32, slot int) {
	f.sectors[sector][slot*DirEntrySize] = NameDeleted
}

func (f *fakePrims) ReadSector(fs *FsInfo, buf []byte, sector uint32) error {
	f.reads = append(f.reads, sector)
	if err := f.readErr[sector]; err != nil {
		return err
	}
	data, ok := f.sectors[sector]
	if !ok {
		clear(buf[:testSectorSize])
		return nil
	}
	copy(buf, data)
	return nil
}

func (f *fakePrims) GetNext(fs *FsInfo, di *DirInfo, scratch []byte, de *DirEntry) (Status, error) {
	if di.Cursor.Entry >= testSectorSize/DirEntrySize {
		next := di.Cursor.Sector + 1
		if _, ok := f.sectors[next]; !ok {
			return StatusEOF, nil
		}
		di.Cursor.Sector = next
		di.Cursor.Entry = 0
		if err := f.ReadSector(fs, scratch, next); err != nil {
			return StatusEOF, err
		}
	}

	*de = DecodeDirEntry(scratch[di.Cursor.Entry*DirEntrySize:])
	if de.Name[0] == NameFree {
		return StatusEOF, nil
	}
	if de.Name[0] == NameDeleted {
		de.Name[0] = NameFree
	}
	di.Cursor.Entry++
	return StatusOK, nil
}

func (f *fakePrims) ReadFile(fi *FileInfo, scratch, buf []byte) (int, error) {
	f.readLens = append(f.readLens, len(buf))
	for i := range buf {
		buf[i] = byte(int(fi.Pointer) + i)
	}
	fi.Pointer += uint32(len(buf))
	return len(buf), nil
}

func (f *fakePrims) WriteFile(fi *FileInfo, scratch, buf []byte, length *int64) (int, error) {
	f.written = append(f.written, buf...)
	end := fi.Pointer + uint32(len(buf))
	fi.Pointer = end
	if end > fi.FileLen {
		fi.FileLen = end
	}
	*length = int64(fi.FileLen)
	return len(buf), nil
}

func (f *fakePrims) CreateFile(fi *FileInfo, parent *DirInfo, scratch []byte, name string, isDir bool) error {
	f.created = append(f.created, name)
	var attr byte = AttrArchive
	var cluster uint32
	if isDir {
		attr = AttrDirectory
		cluster = 40
	}
	slot := 0
	if sec, ok := f.sectors[parent.Cursor.Sector]; ok {
		for slot < testSectorSize/DirEntrySize && sec[slot*DirEntrySize] != NameFree {
			slot++
		}
	}
	f.putEntry(parent.Cursor.Sector, slot, name, attr, cluster, 0)
	fi.DirSector = parent.Cursor.Sector
	fi.DirOffset = slot
	fi.FirstCluster = cluster
	fi.Cluster = cluster
	return nil
}

func (f *fakePrims) UnlinkFile(fi *FileInfo, scratch []byte) error {
	if f.unlinkErr != nil {
		return f.unlinkErr
	}
	f.unlinked = append(f.unlinked, fi)
	return nil
}

func (f *fakePrims) UnlinkDirectory(fi *FileInfo, scratch []byte) error {
	return f.UnlinkFile(fi, scratch)
}

func (f *fakePrims) OpenDir(fs *FsInfo, path string, di *DirInfo, scratch []byte) error {
	di.Cursor = Cursor{Sector: fs.Vol.RootDir}
	return nil
}

func (f *fakePrims) PartitionStart(dev types.BlockDevice, index int) (Partition, error) {
	if dev.Size() == 0 {
		return Partition{}, errors.ErrNoPartition
	}
	return Partition{Start: 0, Size: uint32(dev.Size() / testSectorSize)}, nil
}

func (f *fakePrims) VolumeInfo(dev types.BlockDevice, start uint32) (VolInfo, error) {
	return testVol, nil
}

func (f *fakePrims) Format(dev types.BlockDevice, fatType int) error {
	f.format = fatType
	return nil
}

func (f *fakePrims) Sync(fs *FsInfo) error { return nil }
