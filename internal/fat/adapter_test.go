package fat

import (
	stderr "errors"
	"io"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/fatvfs/internal/blockdev"
	"github.com/objectfs/fatvfs/internal/vfs"
	"github.com/objectfs/fatvfs/pkg/errors"
)

// newFixture lays out:
//
//	root (sector 19): [deleted OLD.TXT, A.TXT (10 bytes), B.TXT, SUB/ (cluster 5)]
//	SUB  (sector 36): [., .., C.TXT (3 bytes)]
func newFixture() *fakePrims {
	f := newFakePrims()
	f.putEntry(19, 0, "OLD.TXT", AttrArchive, 9, 100)
	f.markDeleted(19, 0)
	f.putEntry(19, 1, "A.TXT", AttrArchive, 3, 10)
	f.putEntry(19, 2, "B.TXT", AttrArchive, 4, 0)
	f.putEntry(19, 3, "SUB", AttrDirectory, 5, 0)

	f.putEntry(36, 0, ".", AttrDirectory, 5, 0)
	f.putEntry(36, 1, "..", AttrDirectory, 0, 0)
	f.putEntry(36, 2, "C.TXT", AttrArchive, 6, 3)
	return f
}

func mountFake(t *testing.T, f *fakePrims, opts ...Option) (*Adapter, *vfs.SuperBlock, *vfs.Registry) {
	t.Helper()
	a := New(f, opts...)
	reg := vfs.NewRegistry()
	require.NoError(t, a.Register(reg))

	dev := blockdev.NewMemDevice("fake", int64(testVol.NumSecs)*testSectorSize, testSectorSize)
	sb, err := vfs.Mount(reg, DriverName, dev)
	require.NoError(t, err)
	return a, sb, reg
}

func TestMountEnd_Root(t *testing.T) {
	_, sb, _ := mountFake(t, newFixture())

	root := sb.Root.Inode
	assert.True(t, root.IsDir())
	di, ok := root.Data.(*DirInfo)
	require.True(t, ok)
	assert.True(t, di.IsRoot())
	assert.Equal(t, testVol.RootDir, di.File.DirSector)
	assert.Equal(t, 0, di.File.DirOffset)
	assert.Equal(t, uint32(0), di.File.FirstCluster)
	assert.NotNil(t, di.Scratch)
}

func TestMount_NoPartition(t *testing.T) {
	a := New(newFixture())
	reg := vfs.NewRegistry()
	require.NoError(t, a.Register(reg))

	_, err := vfs.Mount(reg, DriverName, blockdev.NewMemDevice("empty", 0, testSectorSize))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeMountFailed, errors.CodeOf(err))
	assert.ErrorIs(t, err, errors.ErrNoPartition)
}

func TestIterate_SkipsDeletedSlots(t *testing.T) {
	f := newFakePrims()
	f.putEntry(19, 0, "GONE.TXT", AttrArchive, 2, 1)
	f.markDeleted(19, 0)
	f.putEntry(19, 1, "A.TXT", AttrArchive, 3, 1)
	f.putEntry(19, 2, "B.TXT", AttrArchive, 4, 1)
	a, sb, _ := mountFake(t, f)

	ctx := &vfs.DirContext{}
	type step struct {
		name  string
		index int
	}
	var got []step
	for i := 0; i < 10; i++ {
		out := sb.AllocInode()
		err := a.Iterate(out, sb.Root.Inode, ctx)
		if stderr.Is(err, errors.ErrEndOfDirectory) {
			break
		}
		require.NoError(t, err)

		raw := make([]byte, 11)
		require.NoError(t, a.Pathname(out, raw, vfs.PathName))
		tok, ok := ctx.Token.(IterToken)
		require.True(t, ok)
		got = append(got, step{DisplayName(raw), tok.Index()})
	}

	assert.Equal(t, []step{{"A.TXT", 2}, {"B.TXT", 3}}, got)

	// the enumeration stays finished
	err := a.Iterate(sb.AllocInode(), sb.Root.Inode, ctx)
	assert.ErrorIs(t, err, errors.ErrEndOfDirectory)
}

func TestIterate_FillsInode(t *testing.T) {
	a, sb, _ := mountFake(t, newFixture())

	out := sb.AllocInode()
	require.NoError(t, a.Iterate(out, sb.Root.Inode, &vfs.DirContext{}))

	fi, ok := out.Data.(*FileInfo)
	require.True(t, ok)
	assert.Equal(t, uint32(19), fi.DirSector)
	assert.Equal(t, 1, fi.DirOffset)
	assert.Equal(t, uint32(3), fi.FirstCluster)
	assert.Equal(t, uint32(10), fi.FileLen)
	assert.Equal(t, int64(10), out.Length)
	assert.Equal(t, vfs.ModeRegular|vfs.ModeIRWXU, out.Flags)
}

func TestIterate_NotADirectory(t *testing.T) {
	a, sb, _ := mountFake(t, newFixture())
	d, err := sb.Resolve("/A.TXT")
	require.NoError(t, err)

	err = a.Iterate(sb.AllocInode(), d.Inode, &vfs.DirContext{})
	assert.ErrorIs(t, err, errors.ErrNotDirectory)
}

func TestReadDir(t *testing.T) {
	_, sb, _ := mountFake(t, newFixture())

	entries, err := sb.ReadDir(sb.Root)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"A.TXT", "B.TXT", "SUB"}, names)

	sub, err := sb.Resolve("/SUB")
	require.NoError(t, err)
	entries, err = sb.ReadDir(sub)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "C.TXT", entries[0].Name)
}

func TestLookup(t *testing.T) {
	tests := []struct {
		path    string
		sector  uint32
		offset  int
		isDir   bool
		wantErr error
	}{
		{path: "/A.TXT", sector: 19, offset: 1},
		{path: "/a.txt", sector: 19, offset: 1},
		{path: "/SUB", sector: 19, offset: 3, isDir: true},
		{path: "/SUB/C.TXT", sector: 36, offset: 2},
		{path: "/OLD.TXT", wantErr: errors.ErrNotFound},
		{path: "/A.TXT/X", wantErr: errors.ErrNotDirectory},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, sb, _ := mountFake(t, newFixture())

			d, err := sb.Resolve(tt.path)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			node, ok := d.Inode.Data.(Node)
			require.True(t, ok)
			assert.Equal(t, tt.isDir, node.IsDir())
			assert.Equal(t, tt.isDir, d.Inode.IsDir())
			assert.Equal(t, tt.sector, node.Info().DirSector)
			assert.Equal(t, tt.offset, node.Info().DirOffset)
		})
	}
}

func TestLookup_RootUsesRootDirSector(t *testing.T) {
	f := newFixture()
	_, sb, _ := mountFake(t, f)

	f.reads = nil
	_, err := sb.Lookup(sb.Root, "B.TXT")
	require.NoError(t, err)
	require.NotEmpty(t, f.reads)
	assert.Equal(t, testVol.RootDir, f.reads[0])
}

func TestLookup_SubdirectorySector(t *testing.T) {
	f := newFixture()
	_, sb, _ := mountFake(t, f)

	sub, err := sb.Lookup(sb.Root, "SUB")
	require.NoError(t, err)

	f.reads = nil
	_, err = sb.Lookup(sub, "C.TXT")
	require.NoError(t, err)
	// own record first, then the first sector of cluster 5
	assert.Equal(t, []uint32{19, testVol.ClusterSector(5)}, f.reads[:2])
}

func TestLookup_DotDotReachesRoot(t *testing.T) {
	f := newFixture()
	_, sb, _ := mountFake(t, f)

	sub, err := sb.Lookup(sb.Root, "SUB")
	require.NoError(t, err)
	up, err := sb.Lookup(sub, "..")
	require.NoError(t, err)
	require.True(t, up.Inode.IsDir())
	assert.Equal(t, testVol.RootDir, up.Inode.Data.(*DirInfo).Cursor.Sector)

	f.reads = nil
	b, err := sb.Lookup(up, "B.TXT")
	require.NoError(t, err)
	assert.Equal(t, []uint32{36, testVol.RootDir}, f.reads[:2])
	assert.Equal(t, 2, b.Inode.Data.(*FileInfo).DirOffset)
}

func TestLookup_FailureRestoresCursor(t *testing.T) {
	f := newFixture()
	_, sb, _ := mountFake(t, f)
	di := sb.Root.Inode.Data.(*DirInfo)

	di.Cursor = Cursor{Cluster: 0, Sector: 20, Entry: 7}
	before := di.Cursor

	_, err := sb.Lookup(sb.Root, "NOPE.TXT")
	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.Equal(t, before, di.Cursor)

	f.readErr[19] = errors.NewError(errors.ErrCodeIORead, "bad sector")
	_, err = sb.Lookup(sb.Root, "A.TXT")
	assert.Equal(t, errors.ErrCodeIORead, errors.CodeOf(err))
	assert.Equal(t, before, di.Cursor)
}

func TestLookup_OverlongNameDoesNotMatchTruncation(t *testing.T) {
	f := newFixture()
	f.putEntry(19, 4, "ABCDEFGH.TXT", AttrArchive, 7, 5)
	_, sb, _ := mountFake(t, f)

	for _, name := range []string{"abcdefghij_other.txtx", "ABCDEFGHZZ.TXT", "ABCDEFGH.TXTX"} {
		_, err := sb.Resolve("/" + name)
		assert.ErrorIs(t, err, errors.ErrNotFound, name)
	}

	d, err := sb.Resolve("/abcdefgh.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), d.Inode.Length)
}

func TestLookup_SuccessRestoresCursor(t *testing.T) {
	_, sb, _ := mountFake(t, newFixture())
	di := sb.Root.Inode.Data.(*DirInfo)
	before := di.Cursor

	_, err := sb.Lookup(sb.Root, "B.TXT")
	require.NoError(t, err)
	assert.Equal(t, before, di.Cursor)
}

func TestRemove_ReleasesStateOnlyOnSuccess(t *testing.T) {
	f := newFixture()
	_, sb, _ := mountFake(t, f)

	d, err := sb.Resolve("/A.TXT")
	require.NoError(t, err)
	state := d.Inode.Data

	f.unlinkErr = errors.NewError(errors.ErrCodeIOWrite, "write failed")
	require.Error(t, sb.Unlink(d))
	assert.Same(t, state.(*FileInfo), d.Inode.Data.(*FileInfo))

	f.unlinkErr = nil
	require.NoError(t, sb.Unlink(d))
	assert.Nil(t, d.Inode.Data)
	require.Len(t, f.unlinked, 1)
	assert.Same(t, state.(*FileInfo), f.unlinked[0])
}

func TestRemove_Directory(t *testing.T) {
	f := newFixture()
	_, sb, _ := mountFake(t, f)

	d, err := sb.Resolve("/SUB")
	require.NoError(t, err)
	require.NoError(t, sb.Unlink(d))
	require.Len(t, f.unlinked, 1)
	assert.Equal(t, uint32(5), f.unlinked[0].FirstCluster)
}

func TestRemove_Root(t *testing.T) {
	a, sb, _ := mountFake(t, newFixture())
	assert.Error(t, a.Remove(sb.Root.Inode))
	assert.NotNil(t, sb.Root.Inode.Data)
}

func TestPathname(t *testing.T) {
	a, sb, _ := mountFake(t, newFixture())
	d, err := sb.Resolve("/SUB/C.TXT")
	require.NoError(t, err)

	raw := make([]byte, 16)
	require.NoError(t, a.Pathname(d.Inode, raw, vfs.PathName))
	assert.Equal(t, "C       TXT", string(raw[:11]))

	assert.ErrorIs(t, a.Pathname(d.Inode, raw, vfs.PathFull), errors.ErrNotImplemented)

	name, err := sb.Name(d.Inode)
	require.NoError(t, err)
	assert.Equal(t, "C.TXT", name)
}

func TestCreate(t *testing.T) {
	f := newFixture()
	_, sb, _ := mountFake(t, f)

	d, err := sb.Create(sb.Root, "NEW.TXT", vfs.ModeRegular|0o644)
	require.NoError(t, err)
	assert.Equal(t, []string{"NEW.TXT"}, f.created)
	fi, ok := d.Inode.Data.(*FileInfo)
	require.True(t, ok)
	assert.Equal(t, uint32(19), fi.DirSector)
	assert.Equal(t, 4, fi.DirOffset)
	assert.False(t, d.Inode.IsDir())

	found, err := sb.Lookup(sb.Root, "new.txt")
	require.NoError(t, err)
	assert.Equal(t, 4, found.Inode.Data.(*FileInfo).DirOffset)
}

func TestCreate_Directory(t *testing.T) {
	f := newFixture()
	_, sb, _ := mountFake(t, f)

	d, err := sb.Create(sb.Root, "NEWDIR", vfs.ModeDir)
	require.NoError(t, err)
	assert.True(t, d.Inode.IsDir())

	di, ok := d.Inode.Data.(*DirInfo)
	require.True(t, ok)
	assert.False(t, di.IsRoot())
	assert.Equal(t, uint32(40), di.File.FirstCluster)
	assert.Equal(t, testVol.ClusterSector(40), di.Cursor.Sector)
	assert.Same(t, sb.Root.Inode.Data.(*DirInfo).Scratch, di.Scratch)
}

func TestCreate_Duplicate(t *testing.T) {
	f := newFixture()
	_, sb, _ := mountFake(t, f)

	_, err := sb.Create(sb.Root, "a.txt", vfs.ModeRegular)
	assert.ErrorIs(t, err, errors.ErrExists)
	assert.Empty(t, f.created)
}

func TestRead_ClampsToFileLength(t *testing.T) {
	f := newFixture()
	_, sb, _ := mountFake(t, f)

	d, err := sb.Resolve("/A.TXT")
	require.NoError(t, err)
	file, err := sb.Open(d, os.O_RDONLY)
	require.NoError(t, err)

	buf := make([]byte, 100)
	n, err := file.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, int64(10), file.Pos)

	n, err = file.Read(buf)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)

	n, err = file.ReadAt(buf[:8], 6)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{6, 7, 8, 9}, buf[:4])
	assert.Equal(t, []int{10, 4}, f.readLens)
	require.NoError(t, file.Close())
}

func TestWrite_UpdatesLength(t *testing.T) {
	f := newFixture()
	_, sb, _ := mountFake(t, f)

	d, err := sb.Create(sb.Root, "LOG.TXT", vfs.ModeRegular)
	require.NoError(t, err)
	file, err := sb.Open(d, os.O_WRONLY)
	require.NoError(t, err)

	n, err := file.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	n, err = file.Write([]byte(" world"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	assert.Equal(t, int64(11), d.Inode.Length)
	assert.Equal(t, "hello world", string(f.written))
	fi := d.Inode.Data.(*FileInfo)
	assert.Equal(t, os.O_RDWR, fi.Mode)
	assert.Equal(t, uint32(11), fi.FileLen)
}

func TestWrite_RejectsOffsetsPastFourGiB(t *testing.T) {
	f := newFixture()
	_, sb, _ := mountFake(t, f)

	d, err := sb.Create(sb.Root, "BIG.TXT", vfs.ModeRegular)
	require.NoError(t, err)
	file, err := sb.Open(d, os.O_RDWR)
	require.NoError(t, err)
	_, err = file.Write([]byte("hello world"))
	require.NoError(t, err)

	for _, off := range []int64{1 << 32, math.MaxUint32 - 2} {
		n, err := file.WriteAt([]byte("XXXXX"), off)
		assert.Equal(t, 0, n)
		assert.ErrorIs(t, err, errors.ErrRequestTooLarge)
	}
	assert.Equal(t, "hello world", string(f.written))
	assert.Equal(t, int64(11), d.Inode.Length)

	n, err := file.ReadAt(make([]byte, 5), 1<<32)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.Empty(t, f.readLens)
}

func TestTruncateIsNoop(t *testing.T) {
	a, sb, _ := mountFake(t, newFixture())
	d, err := sb.Resolve("/A.TXT")
	require.NoError(t, err)
	require.NoError(t, a.Truncate(d.Inode, 0))
	assert.Equal(t, int64(10), d.Inode.Length)
}

func TestFormatOptions(t *testing.T) {
	tests := []struct {
		opts    string
		want    int
		wantErr bool
	}{
		{opts: "", want: FAT12},
		{opts: "12", want: FAT12},
		{opts: "16", want: FAT16},
		{opts: "FAT16", want: FAT16},
		{opts: "32", wantErr: true},
		{opts: "big", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.opts, func(t *testing.T) {
			f := newFakePrims()
			a := New(f)
			reg := vfs.NewRegistry()
			require.NoError(t, a.Register(reg))

			err := vfs.Format(reg, DriverName, blockdev.NewMemDevice("f", 1<<20, testSectorSize), tt.opts)
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.format)
		})
	}
}

func TestScratchLease(t *testing.T) {
	s := NewScratch(testSectorSize)
	l := s.Acquire()
	assert.Len(t, l.Bytes(), testSectorSize)

	acquired := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l2 := s.Acquire()
		close(acquired)
		l2.Release()
	}()

	select {
	case <-acquired:
		t.Fatal("second lease granted while the first is held")
	case <-time.After(20 * time.Millisecond):
	}

	l.Release()
	l.Release()
	wg.Wait()
}

func TestWithScratch_Shared(t *testing.T) {
	s := NewScratch(testSectorSize)
	a := New(newFixture(), WithScratch(s))
	b := New(newFixture(), WithScratch(s))
	assert.Same(t, a.scratch, b.scratch)
	assert.NotSame(t, s, New(newFixture()).scratch)
}

type opRecorder struct {
	mu     sync.Mutex
	ops    map[string][]bool
	errors []string
}

func (r *opRecorder) RecordOperation(op string, _ time.Duration, _ int64, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ops == nil {
		r.ops = make(map[string][]bool)
	}
	r.ops[op] = append(r.ops[op], success)
}
func (r *opRecorder) RecordCacheHit(string, int64)   {}
func (r *opRecorder) RecordCacheMiss(string, int64)  {}
func (r *opRecorder) RecordEviction(string, bool)    {}
func (r *opRecorder) RecordError(op string, _ error) { r.errors = append(r.errors, op) }
func (r *opRecorder) GetMetrics() map[string]interface{} {
	return nil
}

func TestAdapterMetrics(t *testing.T) {
	rec := &opRecorder{}
	_, sb, _ := mountFake(t, newFixture(), WithMetrics(rec))

	_, err := sb.Lookup(sb.Root, "A.TXT")
	require.NoError(t, err)
	_, err = sb.Lookup(sb.Root, "MISSING")
	require.Error(t, err)
	_, err = sb.ReadDir(sb.Root)
	require.NoError(t, err)

	assert.Equal(t, []bool{true, false}, rec.ops["fat.lookup"])
	for _, ok := range rec.ops["fat.iterate"] {
		assert.True(t, ok)
	}
	assert.Empty(t, rec.errors)
}
