package blockdev

import (
	stderr "errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/objectfs/fatvfs/pkg/errors"
	"github.com/objectfs/fatvfs/pkg/retry"
)

// DefaultBlockSize is the sector size assumed when none is given.
const DefaultBlockSize = 512

// Options configures a FileDevice.
type Options struct {
	BlockSize int
	ReadOnly  bool
	Retry     retry.Config
	Logger    *slog.Logger
}

// FileDevice is a block device backed by an image file or a raw device node.
// Transient read and write failures are retried with backoff.
type FileDevice struct {
	f         *os.File
	id        string
	size      int64
	blockSize int
	readOnly  bool
	retryer   *retry.Retryer
	logger    *slog.Logger
}

// Open opens an existing image file.
func Open(path string, opts Options) (*FileDevice, error) {
	flag := os.O_RDWR
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeMountFailed, "open device", err).
			WithComponent("blockdev").WithContext("path", path)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(errors.ErrCodeMountFailed, "stat device", err).
			WithComponent("blockdev").WithContext("path", path)
	}

	return newFileDevice(f, path, info.Size(), opts), nil
}

// Create creates (or truncates) an image file of size bytes.
func Create(path string, size int64, opts Options) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeIOWrite, "create image", err).
			WithComponent("blockdev").WithContext("path", path)
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(errors.ErrCodeIOWrite, "size image", err).
			WithComponent("blockdev").WithContext("path", path)
	}

	opts.ReadOnly = false
	return newFileDevice(f, path, size, opts), nil
}

func newFileDevice(f *os.File, path string, size int64, opts Options) *FileDevice {
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "blockdev", "device", path)

	retryer := retry.New(opts.Retry).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		logger.Warn("retrying device I/O", "attempt", attempt, "delay", delay, "error", err)
	})

	return &FileDevice{
		f:         f,
		id:        path,
		size:      size,
		blockSize: opts.BlockSize,
		readOnly:  opts.ReadOnly,
		retryer:   retryer,
		logger:    logger,
	}
}

// Read implements types.BlockDevice
func (d *FileDevice) Read(buf []byte, blockSize int, block uint64) error {
	off, err := checkSpan(d.id, d.size, buf, blockSize, block, "read")
	if err != nil {
		return err
	}

	return d.retryer.Do(func() error {
		if _, err := d.f.ReadAt(buf[:blockSize], off); err != nil {
			return errors.Wrap(errors.ErrCodeIORead, fmt.Sprintf("read block %d", block), err).
				WithComponent("blockdev").WithContext("device", d.id)
		}
		return nil
	})
}

// Write implements types.BlockDevice
func (d *FileDevice) Write(buf []byte, blockSize int, block uint64) error {
	if d.readOnly {
		return errors.ErrReadOnly
	}
	off, err := checkSpan(d.id, d.size, buf, blockSize, block, "write")
	if err != nil {
		return err
	}

	return d.retryer.Do(func() error {
		if _, err := d.f.WriteAt(buf[:blockSize], off); err != nil {
			return errors.Wrap(errors.ErrCodeIOWrite, fmt.Sprintf("write block %d", block), err).
				WithComponent("blockdev").WithContext("device", d.id)
		}
		return nil
	})
}

// ReadAt implements io.ReaderAt
func (d *FileDevice) ReadAt(p []byte, off int64) (int, error) {
	return d.f.ReadAt(p, off)
}

// WriteAt implements io.WriterAt
func (d *FileDevice) WriteAt(p []byte, off int64) (int, error) {
	if d.readOnly {
		return 0, errors.ErrReadOnly
	}
	return d.f.WriteAt(p, off)
}

// Seek implements io.Seeker
func (d *FileDevice) Seek(offset int64, whence int) (int64, error) {
	return d.f.Seek(offset, whence)
}

// BlockSize implements types.BlockDevice
func (d *FileDevice) BlockSize() int { return d.blockSize }

// Size implements types.BlockDevice
func (d *FileDevice) Size() int64 { return d.size }

// ID implements types.BlockDevice
func (d *FileDevice) ID() string { return d.id }

// Sync flushes the file to stable storage.
func (d *FileDevice) Sync() error {
	if d.readOnly {
		return nil
	}
	return d.f.Sync()
}

// Close syncs and closes the underlying file.
func (d *FileDevice) Close() error {
	syncErr := d.Sync()
	closeErr := d.f.Close()
	if syncErr != nil && !stderr.Is(syncErr, os.ErrClosed) {
		return syncErr
	}
	return closeErr
}

func checkSpan(id string, size int64, buf []byte, blockSize int, block uint64, op string) (int64, error) {
	if blockSize <= 0 || len(buf) < blockSize {
		return 0, errors.Newf(errors.ErrCodeInvalidArgument,
			"%s: buffer of %d bytes for block size %d", op, len(buf), blockSize).
			WithComponent("blockdev").WithContext("device", id)
	}
	off := int64(block) * int64(blockSize)
	if block > uint64(size) || off+int64(blockSize) > size {
		return 0, errors.Newf(errors.ErrCodeInvalidArgument,
			"%s: block %d beyond device end", op, block).
			WithComponent("blockdev").WithContext("device", id).
			WithDetail("size", size)
	}
	return off, nil
}
