package vfs

import (
	"sort"
	"sync"

	"github.com/objectfs/fatvfs/pkg/errors"
	"github.com/objectfs/fatvfs/pkg/types"
)

// Driver is a filesystem driver registration record.
type Driver struct {
	Name string

	// FillSuperblock reads the volume on dev and installs the driver's
	// operation tables on sb.
	FillSuperblock func(sb *SuperBlock, dev types.BlockDevice) error
	// MountEnd runs once after FillSuperblock to attach root state.
	MountEnd func(sb *SuperBlock) error
	// Format writes an empty filesystem to dev. opts is driver specific.
	Format func(dev types.BlockDevice, opts string) error
	// Sync writes back buffered metadata and data. Optional.
	Sync func(sb *SuperBlock) error
}

// Registry maps driver names to drivers.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]*Driver
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]*Driver)}
}

// Register publishes d under d.Name.
func (r *Registry) Register(d *Driver) error {
	if d == nil || d.Name == "" || d.FillSuperblock == nil {
		return errors.NewError(errors.ErrCodeInvalidArgument, "incomplete driver record").
			WithComponent("vfs").WithOperation("register")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.drivers[d.Name]; exists {
		return errors.Newf(errors.ErrCodeInvalidArgument, "driver %q already registered", d.Name).
			WithComponent("vfs").WithOperation("register")
	}
	r.drivers[d.Name] = d
	return nil
}

// Lookup finds a driver by name.
func (r *Registry) Lookup(name string) (*Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[name]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeFileNotFound, "no filesystem driver %q", name).
			WithComponent("vfs").WithOperation("lookup_driver")
	}
	return d, nil
}

// Names lists registered drivers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
