//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/objectfs/fatvfs/pkg/errors"
)

// BackendName identifies the FUSE binding compiled into this build.
const BackendName = "cgofuse"

// CgoFuseMountManager manages cgofuse-based mounts
type CgoFuseMountManager struct {
	filesystem *CgoFuseFS
	logger     *slog.Logger

	mu      sync.Mutex
	host    *fuse.FileSystemHost
	mounted bool
	done    chan struct{}
}

// NewCgoFuseMountManager creates a new cgofuse mount manager
func NewCgoFuseMountManager(filesystem *CgoFuseFS) *CgoFuseMountManager {
	return &CgoFuseMountManager{
		filesystem: filesystem,
		logger:     slog.Default().With("component", "fuse", "mount_point", filesystem.config.MountPoint),
	}
}

// Mount starts serving the filesystem. cgofuse blocks inside Mount, so the
// host runs on its own goroutine until Unmount.
func (m *CgoFuseMountManager) Mount(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := m.filesystem.config
	if m.mounted {
		return errors.NewError(errors.ErrCodeAlreadyMounted, "filesystem already mounted").
			WithComponent("fuse")
	}
	if cfg.MountPoint == "" {
		return errors.NewError(errors.ErrCodeInvalidArgument, "mount point cannot be empty").
			WithComponent("fuse")
	}

	options := []string{"-o", "fsname=" + cfg.FSName}
	if cfg.ReadOnly {
		options = append(options, "-o", "ro")
	}
	if cfg.AllowOther {
		options = append(options, "-o", "allow_other")
	}
	if cfg.Debug {
		options = append(options, "-d")
	}
	switch runtime.GOOS {
	case "darwin":
		options = append(options, "-o", "volname=FATVFS")
	case "windows":
		options = append(options, "-o", "FileSystemName=FAT")
	default:
		options = append(options, "-o", "subtype=vfat")
	}

	m.host = fuse.NewFileSystemHost(m.filesystem)
	m.done = make(chan struct{})
	host, done := m.host, m.done
	go func() {
		defer close(done)
		if !host.Mount(cfg.MountPoint, options) {
			m.logger.Error("cgofuse mount failed")
		}
		m.mu.Lock()
		m.mounted = false
		m.mu.Unlock()
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = m.Unmount()
		case <-done:
		}
	}()

	m.mounted = true
	m.logger.Info("filesystem mounted")
	return nil
}

// Unmount unmounts the filesystem
func (m *CgoFuseMountManager) Unmount() error {
	m.mu.Lock()
	host := m.host
	mounted := m.mounted
	m.mu.Unlock()

	if !mounted || host == nil {
		return errors.NewError(errors.ErrCodeInvalidState, "filesystem not mounted").
			WithComponent("fuse")
	}
	if !host.Unmount() {
		return errors.NewError(errors.ErrCodeMountFailed, "unmount failed").
			WithComponent("fuse")
	}

	m.mu.Lock()
	m.mounted = false
	m.mu.Unlock()
	m.logger.Info("filesystem unmounted")
	return nil
}

// IsMounted returns whether the filesystem is mounted
func (m *CgoFuseMountManager) IsMounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

// Wait blocks until the host returns from Mount.
func (m *CgoFuseMountManager) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

// GetStats returns filesystem statistics
func (m *CgoFuseMountManager) GetStats() *FilesystemStats {
	return m.filesystem.GetStats()
}
