/*
Package s3 keeps FAT disk images in Amazon S3 (or any S3-compatible
endpoint) so a volume can be mounted without a local image file.

# Architecture Overview

	┌──────────────────────────────┐
	│ ImageStore                   │  Load / Save whole images, retried
	└──────────────────────────────┘
	               │ types.Backend
	┌──────────────────────────────┐
	│ Backend                      │  GetObject / PutObject / HeadObject
	│   CargoShip transporter ─────┼─ accelerated uploads, PutObject fallback
	└──────────────────────────────┘
	               │
	┌──────────────────────────────┐
	│ aws-sdk-go-v2 S3 client      │
	└──────────────────────────────┘

An image is addressed as s3://bucket/key. Load pulls the object into a
blockdev.MemDevice; a missing object yields a blank device that the caller
formats. Save pushes the device contents back in a single upload after the
block cache has been flushed.

# Usage

	backend, err := s3.NewBackend(ctx, "images", s3.NewDefaultConfig())
	if err != nil {
		return err
	}
	store := s3.NewImageStore(backend, "floppy.img", nil)
	dev, created, err := store.Load(ctx, 8<<20, 512)
	...
	err = store.Save(ctx, dev)

# Errors

Missing objects are reported with errors.ErrCodeObjectNotFound. Other
failures carry ErrCodeStorageRead or ErrCodeStorageWrite, both of which the
ImageStore retries with exponential backoff.
*/
package s3
