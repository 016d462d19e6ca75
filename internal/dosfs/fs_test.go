package dosfs

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/fatvfs/internal/bcache"
	"github.com/objectfs/fatvfs/internal/blockdev"
	"github.com/objectfs/fatvfs/internal/fat"
	"github.com/objectfs/fatvfs/internal/vfs"
	"github.com/objectfs/fatvfs/pkg/errors"
	"github.com/objectfs/fatvfs/pkg/types"
)

// mountVFS wires a fresh cache, primitive layer and adapter to dev.
func mountVFS(t *testing.T, dev types.BlockDevice) (*vfs.SuperBlock, *FS) {
	t.Helper()
	d := newFS(t)
	reg := vfs.NewRegistry()
	require.NoError(t, fat.New(d).Register(reg))
	sb, err := vfs.Mount(reg, fat.DriverName, dev)
	require.NoError(t, err)
	return sb, d
}

func formatVFS(t *testing.T, dev types.BlockDevice, opts string) {
	t.Helper()
	reg := vfs.NewRegistry()
	require.NoError(t, fat.New(newFS(t)).Register(reg))
	require.NoError(t, vfs.Format(reg, fat.DriverName, dev, opts))
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

func writeFile(t *testing.T, sb *vfs.SuperBlock, dir *vfs.Dentry, name string, data []byte) *vfs.Dentry {
	t.Helper()
	d, err := sb.Create(dir, name, vfs.ModeRegular)
	require.NoError(t, err)
	f, err := sb.Open(d, os.O_RDWR)
	require.NoError(t, err)
	n, err := f.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, f.Close())
	return d
}

func readFile(t *testing.T, sb *vfs.SuperBlock, path string) []byte {
	t.Helper()
	d, err := sb.Resolve(path)
	require.NoError(t, err)
	f, err := sb.Open(d, os.O_RDONLY)
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return data
}

func dirNames(t *testing.T, sb *vfs.SuperBlock, dir *vfs.Dentry) []string {
	t.Helper()
	entries, err := sb.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

func TestRoundTrip(t *testing.T) {
	for _, opts := range []string{"12", "fat16"} {
		t.Run(opts, func(t *testing.T) {
			dev := blockdev.NewMemDevice("disk", testDiskSize, 512)
			formatVFS(t, dev, opts)
			sb, d := mountVFS(t, dev)

			big := pattern(3*int(sb.Data.(*fat.FsInfo).Vol.ClusterBytes()) + 123)
			hello := writeFile(t, sb, sb.Root, "HELLO.TXT", big)
			assert.Equal(t, int64(len(big)), hello.Inode.Length)
			assert.Equal(t, big, readFile(t, sb, "/hello.txt"))

			docs, err := sb.Create(sb.Root, "DOCS", vfs.ModeDir)
			require.NoError(t, err)
			assert.True(t, docs.Inode.IsDir())
			note := writeFile(t, sb, docs, "NOTE.TXT", []byte("abc"))

			assert.Equal(t, []string{"DOCS", "HELLO.TXT"}, dirNames(t, sb, sb.Root))
			assert.Equal(t, []string{"NOTE.TXT"}, dirNames(t, sb, docs))
			assert.Equal(t, []byte("abc"), readFile(t, sb, "/DOCS/NOTE.TXT"))

			_, err = sb.Create(sb.Root, "hello.txt", vfs.ModeRegular)
			assert.ErrorIs(t, err, errors.ErrExists)

			assert.ErrorIs(t, sb.Unlink(docs), errors.ErrNotEmpty)
			require.NoError(t, sb.Unlink(note))
			require.NoError(t, sb.Unlink(docs))
			assert.Equal(t, []string{"HELLO.TXT"}, dirNames(t, sb, sb.Root))

			require.NoError(t, sb.Sync())

			again, _ := mountVFS(t, dev)
			assert.Equal(t, big, readFile(t, again, "/HELLO.TXT"))
			_, err = again.Resolve("/DOCS")
			assert.True(t, errors.IsNotFound(err))

			// unlinking frees the whole chain
			first := hello.Inode.Data.(*fat.FileInfo).FirstCluster
			fsi := sb.Data.(*fat.FsInfo)
			require.NoError(t, sb.Unlink(hello))
			v, err := d.GetFAT(fsi, first)
			require.NoError(t, err)
			assert.Equal(t, uint32(0), v)
		})
	}
}

func TestWrite_OverwriteAndExtend(t *testing.T) {
	dev := blockdev.NewMemDevice("disk", testDiskSize, 512)
	formatVFS(t, dev, "16")
	sb, _ := mountVFS(t, dev)

	d := writeFile(t, sb, sb.Root, "DATA.BIN", []byte("hello world"))
	f, err := sb.Open(d, os.O_RDWR)
	require.NoError(t, err)

	_, err = f.WriteAt([]byte("WORLD"), 6)
	require.NoError(t, err)
	assert.Equal(t, int64(11), d.Inode.Length)

	// a write past the end leaves a zero-filled gap
	_, err = f.WriteAt([]byte("!"), 1500)
	require.NoError(t, err)
	assert.Equal(t, int64(1501), d.Inode.Length)
	require.NoError(t, f.Close())

	got := readFile(t, sb, "/DATA.BIN")
	require.Len(t, got, 1501)
	assert.Equal(t, []byte("hello WORLD"), got[:11])
	assert.Equal(t, make([]byte, 1500-11), got[11:1500])
	assert.Equal(t, byte('!'), got[1500])
}

func TestWrite_Append(t *testing.T) {
	dev := blockdev.NewMemDevice("disk", testDiskSize, 512)
	formatVFS(t, dev, "")
	sb, _ := mountVFS(t, dev)

	d := writeFile(t, sb, sb.Root, "LOG.TXT", []byte("one\n"))
	f, err := sb.Open(d, os.O_WRONLY|os.O_APPEND)
	require.NoError(t, err)
	_, err = f.Write([]byte("two\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Equal(t, "one\ntwo\n", string(readFile(t, sb, "/LOG.TXT")))
}

func TestWrite_DiskFull(t *testing.T) {
	dev := blockdev.NewMemDevice("disk", testDiskSize, 512)
	formatVFS(t, dev, "16")
	sb, _ := mountVFS(t, dev)
	vol := &sb.Data.(*fat.FsInfo).Vol
	vol.NumClusters = 4

	d, err := sb.Create(sb.Root, "HUGE.BIN", vfs.ModeRegular)
	require.NoError(t, err)
	f, err := sb.Open(d, os.O_RDWR)
	require.NoError(t, err)

	_, err = f.Write(make([]byte, 5*int(vol.ClusterBytes())))
	assert.ErrorIs(t, err, errors.ErrDiskFull)
}

func TestRead_SeekAndPartial(t *testing.T) {
	dev := blockdev.NewMemDevice("disk", testDiskSize, 512)
	formatVFS(t, dev, "16")
	sb, _ := mountVFS(t, dev)

	data := pattern(2000)
	d := writeFile(t, sb, sb.Root, "P.BIN", data)
	f, err := sb.Open(d, os.O_RDONLY)
	require.NoError(t, err)

	buf := make([]byte, 700)
	n, err := f.ReadAt(buf, 1000)
	require.NoError(t, err)
	assert.Equal(t, 700, n)
	assert.True(t, bytes.Equal(data[1000:1700], buf))

	n, err = f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 300, n)
	assert.Equal(t, data[1700:], buf[:300])

	_, err = f.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSync_FileDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	dev, err := blockdev.Create(path, 4<<20, blockdev.Options{})
	require.NoError(t, err)

	formatVFS(t, dev, "12")
	sb, _ := mountVFS(t, dev)
	writeFile(t, sb, sb.Root, "KEEP.TXT", []byte("persisted"))
	require.NoError(t, sb.Sync())
	require.NoError(t, dev.Close())

	reopened, err := blockdev.Open(path, blockdev.Options{})
	require.NoError(t, err)
	defer reopened.Close()

	again, _ := mountVFS(t, reopened)
	assert.Equal(t, "persisted", string(readFile(t, again, "/KEEP.TXT")))
}

func TestMount_SharedCache(t *testing.T) {
	cache, err := bcache.New(bcache.Config{MaxMemory: 64 << 10})
	require.NoError(t, err)
	d := New(cache, WithClock(testClock))
	reg := vfs.NewRegistry()
	require.NoError(t, fat.New(d).Register(reg))

	a := blockdev.NewMemDevice("a", testDiskSize, 512)
	b := blockdev.NewMemDevice("b", testDiskSize, 512)
	require.NoError(t, vfs.Format(reg, fat.DriverName, a, "12"))
	require.NoError(t, vfs.Format(reg, fat.DriverName, b, "16"))

	sa, err := vfs.Mount(reg, fat.DriverName, a)
	require.NoError(t, err)
	sbB, err := vfs.Mount(reg, fat.DriverName, b)
	require.NoError(t, err)

	writeFile(t, sa, sa.Root, "ONLY.A", []byte("a"))
	writeFile(t, sbB, sbB.Root, "ONLY.B", []byte("b"))

	assert.Equal(t, []string{"ONLY.A"}, dirNames(t, sa, sa.Root))
	assert.Equal(t, []string{"ONLY.B"}, dirNames(t, sbB, sbB.Root))
	assert.Equal(t, fat.FAT12, sa.Data.(*fat.FsInfo).Vol.FATType)
	assert.Equal(t, fat.FAT16, sbB.Data.(*fat.FsInfo).Vol.FATType)
}

func TestMount_Unformatted(t *testing.T) {
	_, err := vfs.Mount(func() *vfs.Registry {
		reg := vfs.NewRegistry()
		require.NoError(t, fat.New(newFS(t)).Register(reg))
		return reg
	}(), fat.DriverName, blockdev.NewMemDevice("blank", testDiskSize, 512))

	assert.Equal(t, errors.ErrCodeMountFailed, errors.CodeOf(err))
	assert.ErrorIs(t, err, errors.ErrNoPartition)
}
