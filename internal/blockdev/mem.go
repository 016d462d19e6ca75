package blockdev

import (
	"io"
	"sync"

	"github.com/objectfs/fatvfs/pkg/errors"
)

// MemDevice is a block device backed by a byte slice.
type MemDevice struct {
	mu        sync.RWMutex
	id        string
	data      []byte
	blockSize int
	readOnly  bool
	offset    int64
}

// NewMemDevice creates a zero-filled device of size bytes.
func NewMemDevice(id string, size int64, blockSize int) *MemDevice {
	return NewMemDeviceFromBytes(id, make([]byte, size), blockSize)
}

// NewMemDeviceFromBytes wraps data as a device. The device takes ownership of data.
func NewMemDeviceFromBytes(id string, data []byte, blockSize int) *MemDevice {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &MemDevice{
		id:        id,
		data:      data,
		blockSize: blockSize,
	}
}

// SetReadOnly makes every subsequent write fail with ErrReadOnly.
func (d *MemDevice) SetReadOnly(readOnly bool) {
	d.mu.Lock()
	d.readOnly = readOnly
	d.mu.Unlock()
}

// Read implements types.BlockDevice
func (d *MemDevice) Read(buf []byte, blockSize int, block uint64) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	off, err := d.span(buf, blockSize, block, "read")
	if err != nil {
		return err
	}
	copy(buf[:blockSize], d.data[off:off+int64(blockSize)])
	return nil
}

// Write implements types.BlockDevice
func (d *MemDevice) Write(buf []byte, blockSize int, block uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.readOnly {
		return errors.ErrReadOnly
	}
	off, err := d.span(buf, blockSize, block, "write")
	if err != nil {
		return err
	}
	copy(d.data[off:off+int64(blockSize)], buf[:blockSize])
	return nil
}

func (d *MemDevice) span(buf []byte, blockSize int, block uint64, op string) (int64, error) {
	return checkSpan(d.id, int64(len(d.data)), buf, blockSize, block, op)
}

// ReadAt implements io.ReaderAt
func (d *MemDevice) ReadAt(p []byte, off int64) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if off < 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidArgument, "negative offset %d", off)
	}
	if off >= int64(len(d.data)) {
		return 0, io.EOF
	}
	n := copy(p, d.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt. Writes never grow the device.
func (d *MemDevice) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.readOnly {
		return 0, errors.ErrReadOnly
	}
	if off < 0 || off+int64(len(p)) > int64(len(d.data)) {
		return 0, errors.Newf(errors.ErrCodeInvalidArgument,
			"write of %d bytes at %d beyond device size %d", len(p), off, len(d.data))
	}
	return copy(d.data[off:], p), nil
}

// Seek implements io.Seeker
func (d *MemDevice) Seek(offset int64, whence int) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = d.offset + offset
	case io.SeekEnd:
		abs = int64(len(d.data)) + offset
	default:
		return 0, errors.Newf(errors.ErrCodeInvalidArgument, "invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidArgument, "negative position %d", abs)
	}
	d.offset = abs
	return abs, nil
}

// BlockSize implements types.BlockDevice
func (d *MemDevice) BlockSize() int { return d.blockSize }

// Size implements types.BlockDevice
func (d *MemDevice) Size() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return int64(len(d.data))
}

// ID implements types.BlockDevice
func (d *MemDevice) ID() string { return d.id }

// Bytes returns a copy of the device contents.
func (d *MemDevice) Bytes() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]byte, len(d.data))
	copy(out, d.data)
	return out
}
