/*
Package config provides configuration management for fatvfs.

Sources are applied in increasing priority:

	┌─────────────────────────────────────────────┐
	│        Command-line flags                   │ ← Highest Priority
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Environment Variables (FATVFS_*)     │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Configuration File (YAML)            │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Default Values (NewDefault)          │ ← Lowest Priority
	└─────────────────────────────────────────────┘

# Sections

global: log level, log file, log format ("text" or "json"), metrics port.

device: the backing image (local path, file:// or s3://bucket/key), block size and
read-only flag.

cache: the block buffer cache byte budget (max_memory, e.g. "1MB"), the number of
buffer heads (max_buffers) and the eviction policy ("lru" or "fifo").

filesystem: driver name, FAT width used by format (12 or 16) and the size of newly
created images.

mount: FUSE mount point and frontend ("go-fuse" or "cgofuse").

storage.s3: region, endpoint, path-style addressing and whether uploads go through
the cargoship transporter.

retry: attempts and backoff for transient device and storage errors.

# Example

	global:
	  log_level: INFO
	device:
	  path: /var/lib/fatvfs/disk.img
	cache:
	  max_memory: 4MB
	  max_buffers: 4096
	  eviction_policy: lru
	mount:
	  mount_point: /mnt/fat

Usage:

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile(path); err != nil {
		return err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
*/
package config
