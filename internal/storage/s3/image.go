package s3

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/objectfs/fatvfs/internal/blockdev"
	"github.com/objectfs/fatvfs/pkg/errors"
	"github.com/objectfs/fatvfs/pkg/retry"
	"github.com/objectfs/fatvfs/pkg/types"
)

// URIScheme prefixes device paths that name an S3 object.
const URIScheme = "s3://"

// ParseURI splits s3://bucket/key into its parts.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, URIScheme)
	if !ok {
		return "", "", errors.Newf(errors.ErrCodeInvalidArgument, "%q is not an s3:// URI", uri).
			WithComponent("s3")
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", errors.Newf(errors.ErrCodeInvalidArgument, "%q must name a bucket and an object key", uri).
			WithComponent("s3")
	}
	return bucket, key, nil
}

// ImageStore keeps a disk image as a single object. The image is loaded
// into memory whole and written back whole on Save.
type ImageStore struct {
	backend types.Backend
	key     string
	retryer *retry.Retryer
	logger  *slog.Logger
}

// NewImageStore returns a store for key on backend. A nil retry config
// uses retry.DefaultConfig.
func NewImageStore(backend types.Backend, key string, cfg *retry.Config) *ImageStore {
	rc := retry.DefaultConfig()
	if cfg != nil {
		rc = *cfg
	}
	s := &ImageStore{
		backend: backend,
		key:     key,
		logger:  slog.Default().With("component", "image-store", "key", key),
	}
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.Warn("retrying image transfer", "attempt", attempt, "delay", delay, "error", err)
	}
	s.retryer = retry.New(rc)
	return s
}

// Key returns the object key.
func (s *ImageStore) Key() string {
	return s.key
}

// Load downloads the image into a memory device. When the object does not
// exist a zero-filled device of size bytes is returned and created is true.
// A downloaded image whose length is not a multiple of blockSize is padded.
func (s *ImageStore) Load(ctx context.Context, size int64, blockSize int) (dev *blockdev.MemDevice, created bool, err error) {
	if blockSize <= 0 {
		blockSize = blockdev.DefaultBlockSize
	}

	var data []byte
	err = s.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		var err error
		data, err = s.backend.GetObject(ctx, s.key)
		return err
	})
	switch {
	case errors.CodeOf(err) == errors.ErrCodeObjectNotFound:
		if size <= 0 || size%int64(blockSize) != 0 {
			return nil, false, errors.Newf(errors.ErrCodeInvalidArgument,
				"new image size %d is not a positive multiple of %d", size, blockSize).
				WithComponent("image-store")
		}
		s.logger.Info("image not found, starting blank", "size", size)
		return blockdev.NewMemDevice(s.key, size, blockSize), true, nil
	case err != nil:
		return nil, false, err
	}

	if rem := len(data) % blockSize; rem != 0 {
		data = append(data, make([]byte, blockSize-rem)...)
	}
	s.logger.Debug("image loaded", "bytes", len(data))
	return blockdev.NewMemDeviceFromBytes(s.key, data, blockSize), false, nil
}

// Save uploads the device contents.
func (s *ImageStore) Save(ctx context.Context, dev *blockdev.MemDevice) error {
	data := dev.Bytes()
	err := s.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		return s.backend.PutObject(ctx, s.key, data)
	})
	if err != nil {
		return err
	}
	s.logger.Info("image saved", "bytes", len(data))
	return nil
}

// Stat returns the stored object's metadata.
func (s *ImageStore) Stat(ctx context.Context) (*types.ObjectInfo, error) {
	return s.backend.HeadObject(ctx, s.key)
}
