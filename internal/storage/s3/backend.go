package s3

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	"github.com/objectfs/fatvfs/pkg/errors"
	"github.com/objectfs/fatvfs/pkg/types"
)

var _ types.Backend = (*Backend)(nil)

// Backend stores whole disk images as objects in one bucket.
type Backend struct {
	bucket string
	config *Config
	client ObjectAPI
	logger *slog.Logger

	// upload is the accelerated path tried before PutObject; nil disables it.
	upload func(ctx context.Context, key string, data []byte) error

	mu      sync.Mutex
	metrics BackendMetrics
}

// BackendMetrics tracks S3 backend request metrics
type BackendMetrics struct {
	Requests        int64         `json:"requests"`
	Errors          int64         `json:"errors"`
	BytesUploaded   int64         `json:"bytes_uploaded"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	FallbackUploads int64         `json:"fallback_uploads"`
	AverageLatency  time.Duration `json:"average_latency"`
	LastError       string        `json:"last_error"`
	LastErrorTime   time.Time     `json:"last_error_time"`
}

// NewBackend connects to bucket using the default AWS credential chain.
func NewBackend(ctx context.Context, bucket string, cfg *Config) (*Backend, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	b, err := NewBackendWithClient(bucket, client, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.EnableCargoShip {
		transporter := newTransporter(client, bucket, cfg)
		b.upload = func(ctx context.Context, key string, data []byte) error {
			result, err := transporter.Upload(ctx, cargoships3.Archive{
				Key:          key,
				Reader:       bytes.NewReader(data),
				Size:         int64(len(data)),
				StorageClass: cargoStorageClass(cfg.StorageClass),
				Metadata: map[string]string{
					"fatvfs-image": "true",
				},
			})
			if err != nil {
				return err
			}
			b.logger.Debug("cargoship upload completed",
				"key", key,
				"size", len(data),
				"throughput", result.Throughput,
				"duration", result.Duration)
			return nil
		}
	}
	return b, nil
}

// NewBackendWithClient builds a backend over an existing client. Uploads go
// straight through PutObject.
func NewBackendWithClient(bucket string, client ObjectAPI, cfg *Config) (*Backend, error) {
	if bucket == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "bucket name cannot be empty").
			WithComponent("s3")
	}
	if client == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidArgument, "nil S3 client").
			WithComponent("s3")
	}
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Backend{
		bucket: bucket,
		config: cfg,
		client: client,
		logger: slog.Default().With("component", "s3", "bucket", bucket),
	}, nil
}

// Bucket returns the bucket name.
func (b *Backend) Bucket() string {
	return b.bucket
}

// GetObject implements types.Backend
func (b *Backend) GetObject(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		b.record(start, err)
		return nil, b.translateError(err, "get_object", key, errors.ErrCodeStorageRead)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		b.record(start, err)
		return nil, b.translateError(err, "get_object", key, errors.ErrCodeStorageRead)
	}
	b.record(start, nil)

	b.mu.Lock()
	b.metrics.BytesDownloaded += int64(len(data))
	b.mu.Unlock()
	return data, nil
}

// PutObject implements types.Backend
func (b *Backend) PutObject(ctx context.Context, key string, data []byte) error {
	start := time.Now()

	if b.upload != nil {
		err := b.upload(ctx, key, data)
		if err == nil {
			b.record(start, nil)
			b.mu.Lock()
			b.metrics.BytesUploaded += int64(len(data))
			b.mu.Unlock()
			return nil
		}
		b.logger.Warn("accelerated upload failed, falling back to PutObject", "key", key, "error", err)
		b.mu.Lock()
		b.metrics.FallbackUploads++
		b.mu.Unlock()
	}

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
		StorageClass:  sdkStorageClass(b.config.StorageClass),
	})
	b.record(start, err)
	if err != nil {
		return b.translateError(err, "put_object", key, errors.ErrCodeStorageWrite)
	}

	b.mu.Lock()
	b.metrics.BytesUploaded += int64(len(data))
	b.mu.Unlock()
	return nil
}

// HeadObject implements types.Backend
func (b *Backend) HeadObject(ctx context.Context, key string) (*types.ObjectInfo, error) {
	start := time.Now()
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	b.record(start, err)
	if err != nil {
		return nil, b.translateError(err, "head_object", key, errors.ErrCodeStorageRead)
	}

	info := &types.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
		ETag:         aws.ToString(out.ETag),
		Metadata:     make(map[string]string, len(out.Metadata)),
	}
	for k, v := range out.Metadata {
		info.Metadata[k] = v
	}
	return info, nil
}

// GetMetrics returns a copy of the request counters.
func (b *Backend) GetMetrics() BackendMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}

func (b *Backend) record(start time.Time, err error) {
	duration := time.Since(start)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.Requests++
	if err != nil {
		b.metrics.Errors++
		b.metrics.LastError = err.Error()
		b.metrics.LastErrorTime = time.Now()
	}

	// rolling average
	if b.metrics.Requests == 1 {
		b.metrics.AverageLatency = duration
	} else {
		b.metrics.AverageLatency = time.Duration(
			(int64(b.metrics.AverageLatency)*9 + int64(duration)) / 10,
		)
	}
}

func (b *Backend) translateError(err error, operation, key string, code errors.ErrorCode) error {
	switch {
	case isErrorType[*s3types.NoSuchKey](err), isErrorType[*s3types.NotFound](err):
		code = errors.ErrCodeObjectNotFound
	case isErrorType[*s3types.NoSuchBucket](err):
		return errors.Wrap(errors.ErrCodeInvalidConfig, "bucket not found", err).
			WithComponent("s3").WithOperation(operation).
			WithContext("bucket", b.bucket)
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		code = errors.ErrCodeOperationCanceled
	}
	return errors.Wrap(code, operation+" failed", err).
		WithComponent("s3").WithOperation(operation).
		WithContext("bucket", b.bucket).
		WithContext("key", key)
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return stderrors.As(err, &target)
}
