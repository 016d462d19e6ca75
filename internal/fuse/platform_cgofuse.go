//go:build cgofuse
// +build cgofuse

package fuse

import (
	"github.com/objectfs/fatvfs/internal/vfs"
	"github.com/objectfs/fatvfs/pkg/types"
)

// CreatePlatformMountManager returns the cgofuse mount for sb.
func CreatePlatformMountManager(sb *vfs.SuperBlock, metrics types.MetricsCollector, config *Config) PlatformFileSystem {
	return NewCgoFuseMountManager(NewCgoFuseFS(sb, metrics, config))
}
