package adapter

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/fatvfs/internal/config"
	"github.com/objectfs/fatvfs/internal/vfs"
	"github.com/objectfs/fatvfs/pkg/errors"
	"github.com/objectfs/fatvfs/pkg/types"
)

// memBackend is an in-memory types.Backend.
type memBackend struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	putErr  error
}

func newMemBackend() *memBackend {
	return &memBackend{objects: make(map[string][]byte)}
}

func (b *memBackend) GetObject(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, errors.NewError(errors.ErrCodeObjectNotFound, "no such key")
	}
	return append([]byte(nil), data...), nil
}

func (b *memBackend) PutObject(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.putErr != nil {
		return b.putErr
	}
	b.objects[key] = append([]byte(nil), data...)
	b.puts++
	return nil
}

func (b *memBackend) HeadObject(_ context.Context, key string) (*types.ObjectInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, errors.NewError(errors.ErrCodeObjectNotFound, "no such key")
	}
	return &types.ObjectInfo{Key: key, Size: int64(len(data)), LastModified: time.Now()}, nil
}

func testConfig(path string) *config.Configuration {
	cfg := config.NewDefault()
	cfg.Device.Path = path
	cfg.Filesystem.ImageSize = "4MB"
	cfg.Cache.MaxMemory = "256KB"
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	return cfg
}

func writeFile(t *testing.T, sb *vfs.SuperBlock, name, content string) {
	t.Helper()
	d, err := sb.Create(sb.Root, name, vfs.ModeRegular)
	require.NoError(t, err)
	f, err := sb.Open(d, os.O_RDWR)
	require.NoError(t, err)
	_, err = f.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func readFile(t *testing.T, sb *vfs.SuperBlock, name string) string {
	t.Helper()
	d, err := sb.Lookup(sb.Root, name)
	require.NoError(t, err)
	f, err := sb.Open(d, os.O_RDONLY)
	require.NoError(t, err)
	defer f.Close()
	buf := make([]byte, d.Inode.Length)
	n, err := f.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		require.NoError(t, err)
	}
	return string(buf[:n])
}

func TestParseDevicePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     string
		kind     string
		location string
		wantErr  bool
	}{
		{"plain path", "/var/lib/disk.img", KindFile, "/var/lib/disk.img", false},
		{"relative path", "disk.img", KindFile, "disk.img", false},
		{"file uri", "file:///tmp/a.img", KindFile, "/tmp/a.img", false},
		{"s3 uri", "s3://bucket/images/a.img", KindS3, "s3://bucket/images/a.img", false},
		{"empty", "", "", "", true},
		{"empty file uri", "file://", "", "", true},
		{"s3 without key", "s3://bucket", "", "", true},
		{"unknown scheme", "gs://bucket/a.img", "", "", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			kind, location, err := ParseDevicePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.location, location)
		})
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig("disk.img")
	cfg.Cache.EvictionPolicy = "random"

	_, err := New(cfg)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigValidation, errors.CodeOf(err))
}

func TestAdapter_LocalImageLifecycle(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "disk.img")

	a, err := New(testConfig(path))
	require.NoError(t, err)
	require.NoError(t, a.Open(ctx))
	assert.True(t, a.Created())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4<<20), info.Size())

	sb := a.SuperBlock()
	require.NotNil(t, sb)
	writeFile(t, sb, "HELLO.TXT", "hello from fat")
	require.NoError(t, a.Stop(ctx))
	assert.Nil(t, a.SuperBlock())

	again, err := New(testConfig(path))
	require.NoError(t, err)
	require.NoError(t, again.Open(ctx))
	defer again.Stop(ctx)
	assert.False(t, again.Created())
	assert.Equal(t, "hello from fat", readFile(t, again.SuperBlock(), "HELLO.TXT"))
}

func TestAdapter_OpenTwice(t *testing.T) {
	ctx := context.Background()
	a, err := New(testConfig(filepath.Join(t.TempDir(), "disk.img")))
	require.NoError(t, err)
	require.NoError(t, a.Open(ctx))
	defer a.Stop(ctx)

	err = a.Open(ctx)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAlreadyMounted, errors.CodeOf(err))
}

func TestAdapter_ReadOnlyMissingImage(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "missing.img"))
	cfg.Device.ReadOnly = true

	a, err := New(cfg)
	require.NoError(t, err)
	assert.Error(t, a.Open(context.Background()))
	assert.Nil(t, a.SuperBlock())
}

func TestAdapter_FormatWipesVolume(t *testing.T) {
	ctx := context.Background()
	a, err := New(testConfig(filepath.Join(t.TempDir(), "disk.img")))
	require.NoError(t, err)

	require.NoError(t, a.Open(ctx))
	defer a.Stop(ctx)
	writeFile(t, a.SuperBlock(), "GONE.TXT", "x")

	require.NoError(t, a.Format(ctx))
	_, err = a.SuperBlock().Lookup(a.SuperBlock().Root, "GONE.TXT")
	assert.True(t, errors.IsNotFound(err))
}

func TestAdapter_FormatExistingImage(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "blank.img")
	require.NoError(t, os.WriteFile(path, make([]byte, 4<<20), 0o644))

	a, err := New(testConfig(path))
	require.NoError(t, err)
	// an unformatted image has no partition to mount
	require.Error(t, a.Open(ctx))

	cfg := testConfig(path)
	cfg.Filesystem.FATType = 16
	b, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, b.Format(ctx))
	defer b.Stop(ctx)
	assert.False(t, b.Created())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4<<20), info.Size())
	writeFile(t, b.SuperBlock(), "NEW.TXT", "fresh")
	assert.Equal(t, "fresh", readFile(t, b.SuperBlock(), "NEW.TXT"))
}

func TestAdapter_S3Image(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	cfg := testConfig("s3://floppies/images/disk.img")

	a, err := New(cfg, WithBackend(backend))
	require.NoError(t, err)
	require.NoError(t, a.Open(ctx))
	assert.True(t, a.Created())

	writeFile(t, a.SuperBlock(), "README.TXT", "stored in a bucket")
	require.NoError(t, a.Sync(ctx))
	assert.Equal(t, 1, backend.puts)
	require.Len(t, backend.objects["images/disk.img"], 4<<20)
	require.NoError(t, a.Stop(ctx))

	again, err := New(cfg, WithBackend(backend))
	require.NoError(t, err)
	require.NoError(t, again.Open(ctx))
	defer again.Stop(ctx)
	assert.False(t, again.Created())
	assert.Equal(t, "stored in a bucket", readFile(t, again.SuperBlock(), "README.TXT"))
}

func TestAdapter_StopKeepsDeviceWhenSyncFails(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	cfg := testConfig("s3://floppies/disk.img")

	a, err := New(cfg, WithBackend(backend))
	require.NoError(t, err)
	require.NoError(t, a.Open(ctx))
	writeFile(t, a.SuperBlock(), "KEEP.TXT", "not lost")

	backend.mu.Lock()
	backend.putErr = errors.NewError(errors.ErrCodeStorageWrite, "bucket offline")
	backend.mu.Unlock()
	require.Error(t, a.Stop(ctx))
	require.NotNil(t, a.SuperBlock())
	assert.Empty(t, backend.objects)

	backend.mu.Lock()
	backend.putErr = nil
	backend.mu.Unlock()
	require.NoError(t, a.Stop(ctx))
	assert.Nil(t, a.SuperBlock())

	again, err := New(cfg, WithBackend(backend))
	require.NoError(t, err)
	require.NoError(t, again.Open(ctx))
	defer again.Stop(ctx)
	assert.Equal(t, "not lost", readFile(t, again.SuperBlock(), "KEEP.TXT"))
}

func TestAdapter_S3ReadOnlySkipsUpload(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	cfg := testConfig("s3://floppies/disk.img")

	seed, err := New(cfg, WithBackend(backend))
	require.NoError(t, err)
	require.NoError(t, seed.Open(ctx))
	require.NoError(t, seed.Stop(ctx))
	require.Equal(t, 1, backend.puts)

	cfg.Device.ReadOnly = true
	a, err := New(cfg, WithBackend(backend))
	require.NoError(t, err)
	require.NoError(t, a.Open(ctx))
	require.NoError(t, a.Stop(ctx))
	assert.Equal(t, 1, backend.puts)
}

func TestAdapter_CacheStats(t *testing.T) {
	ctx := context.Background()
	a, err := New(testConfig(filepath.Join(t.TempDir(), "disk.img")))
	require.NoError(t, err)
	require.NoError(t, a.Open(ctx))
	defer a.Stop(ctx)

	writeFile(t, a.SuperBlock(), "A.TXT", "abc")
	stats := a.CacheStats()
	assert.Greater(t, stats.Misses+stats.Hits, uint64(0))
	assert.Greater(t, stats.Capacity, int64(0))
}

func TestAdapter_StopWithoutOpen(t *testing.T) {
	a, err := New(testConfig(filepath.Join(t.TempDir(), "disk.img")))
	require.NoError(t, err)
	assert.NoError(t, a.Stop(context.Background()))
}
