//go:build !cgofuse
// +build !cgofuse

package fuse

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/objectfs/fatvfs/internal/vfs"
	"github.com/objectfs/fatvfs/pkg/errors"
	"github.com/objectfs/fatvfs/pkg/types"
)

// BackendName identifies the FUSE binding compiled into this build.
const BackendName = "go-fuse"

// MountManager manages FUSE mount operations
type MountManager struct {
	filesystem *FileSystem
	config     *Config
	logger     *slog.Logger

	mu      sync.Mutex
	server  *fuse.Server
	mounted bool
}

// NewMountManager creates a new mount manager
func NewMountManager(filesystem *FileSystem) *MountManager {
	return &MountManager{
		filesystem: filesystem,
		config:     filesystem.config,
		logger:     slog.Default().With("component", "fuse", "mount_point", filesystem.config.MountPoint),
	}
}

// CreatePlatformMountManager returns the go-fuse mount for sb.
func CreatePlatformMountManager(sb *vfs.SuperBlock, metrics types.MetricsCollector, config *Config) PlatformFileSystem {
	return NewMountManager(NewFileSystem(sb, metrics, config))
}

// Mount mounts the filesystem at the configured mount point and serves it
// in the background.
func (m *MountManager) Mount(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mounted {
		return errors.NewError(errors.ErrCodeAlreadyMounted, "filesystem is already mounted").
			WithComponent("fuse").WithContext("mount_point", m.config.MountPoint)
	}
	if err := m.validateMountPoint(); err != nil {
		return err
	}

	server, err := fs.Mount(m.config.MountPoint, m.filesystem.Root(), m.buildFUSEOptions())
	if err != nil {
		return errors.Wrap(errors.ErrCodeMountFailed, "mount filesystem", err).
			WithComponent("fuse").WithContext("mount_point", m.config.MountPoint)
	}
	m.server = server
	m.mounted = true
	m.logger.Info("filesystem mounted")

	go func() {
		server.Wait()
		m.mu.Lock()
		m.mounted = false
		m.mu.Unlock()
		m.logger.Info("FUSE server stopped")
	}()
	go func() {
		<-ctx.Done()
		if m.IsMounted() {
			_ = m.Unmount()
		}
	}()
	return nil
}

// Unmount unmounts the filesystem
func (m *MountManager) Unmount() error {
	m.mu.Lock()
	server := m.server
	mounted := m.mounted
	m.mu.Unlock()

	if !mounted || server == nil {
		return errors.NewError(errors.ErrCodeInvalidState, "filesystem is not mounted").
			WithComponent("fuse")
	}

	m.logger.Info("unmounting filesystem")
	if err := server.Unmount(); err != nil {
		m.logger.Warn("unmount failed, trying lazy unmount", "error", err)
		if forceErr := m.forceUnmount(); forceErr != nil {
			return errors.Wrap(errors.ErrCodeMountFailed, "unmount", err).
				WithComponent("fuse").WithDetail("force_error", forceErr.Error())
		}
	}

	m.mu.Lock()
	m.mounted = false
	m.server = nil
	m.mu.Unlock()
	return nil
}

// IsMounted checks if the filesystem is currently mounted
func (m *MountManager) IsMounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

// GetMountPoint returns the current mount point
func (m *MountManager) GetMountPoint() string {
	return m.config.MountPoint
}

// Wait blocks until the filesystem is unmounted
func (m *MountManager) Wait() {
	m.mu.Lock()
	server := m.server
	m.mu.Unlock()
	if server != nil {
		server.Wait()
	}
}

// GetStats returns filesystem statistics
func (m *MountManager) GetStats() *FilesystemStats {
	return m.filesystem.GetStats()
}

func (m *MountManager) validateMountPoint() error {
	mp := m.config.MountPoint
	invalid := func(format string, args ...interface{}) error {
		return errors.Newf(errors.ErrCodeInvalidArgument, format, args...).
			WithComponent("fuse").WithContext("mount_point", mp)
	}

	if mp == "" {
		return invalid("mount point cannot be empty")
	}
	info, err := os.Stat(mp)
	if err != nil {
		if os.IsNotExist(err) {
			return invalid("mount point does not exist: %s", mp)
		}
		return errors.Wrap(errors.ErrCodeInvalidArgument, "cannot access mount point", err).
			WithComponent("fuse")
	}
	if !info.IsDir() {
		return invalid("mount point is not a directory: %s", mp)
	}

	entries, err := os.ReadDir(mp)
	if err == nil && len(entries) > 0 {
		m.logger.Warn("mount point is not empty", "entries", len(entries))
	}
	if isAlreadyMounted(mp) {
		return errors.Newf(errors.ErrCodeAlreadyMounted, "mount point %s is already mounted", mp).
			WithComponent("fuse")
	}
	return nil
}

func (m *MountManager) buildFUSEOptions() *fs.Options {
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:       m.config.FSName,
			FsName:     m.config.FSName,
			Debug:      m.config.Debug,
			AllowOther: m.config.AllowOther,
		},
		AttrTimeout:  &m.config.AttrTimeout,
		EntryTimeout: &m.config.EntryTimeout,
		UID:          m.config.UID,
		GID:          m.config.GID,
	}
	if m.config.ReadOnly {
		opts.Options = append(opts.Options, "ro")
	}
	opts.Options = append(opts.Options, "subtype=vfat")
	return opts
}

// isAlreadyMounted looks for mp in /proc/mounts.
func isAlreadyMounted(mp string) bool {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return false
	}
	mp = filepath.Clean(mp)
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 1 && fields[1] == mp {
			return true
		}
	}
	return false
}

func (m *MountManager) forceUnmount() error {
	// MNT_DETACH
	return syscall.Unmount(m.config.MountPoint, 2)
}
