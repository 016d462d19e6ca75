// Package fat adapts FAT volumes to the VFS inode model.
//
// The Adapter implements the VFS inode and file operation tables on top of a
// Primitives implementation that does the sector-level work (see package
// dosfs). Node state hangs off vfs.Inode.Data as *FileInfo for regular files
// and *DirInfo for directories. Children are decoded from directory sectors
// on demand and never cached as a tree.
//
// Directory enumeration is resumable: Iterate stores an IterToken in the
// vfs.DirContext and continues from it on the next call.
//
//	reg := vfs.NewRegistry()
//	_ = fat.New(dosfs.New(cache)).Register(reg)
//	sb, err := vfs.Mount(reg, fat.DriverName, dev)
//
// Every operation that decodes sectors holds a lease on one shared Scratch
// buffer for its whole duration.
package fat
