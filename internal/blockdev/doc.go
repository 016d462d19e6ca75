// Package blockdev provides block devices backed by image files and by memory.
package blockdev

import "github.com/objectfs/fatvfs/pkg/types"

var (
	_ types.BlockDevice = (*FileDevice)(nil)
	_ types.BlockDevice = (*MemDevice)(nil)
)
