/*
Package fuse exposes a mounted FAT superblock to the host kernel.

Two bindings are provided behind build constraints:

	default build      github.com/hanwen/go-fuse/v2   (Linux, macOS with macFUSE)
	-tags cgofuse      github.com/winfsp/cgofuse      (Linux, macOS, Windows via WinFsp)

Both translate kernel requests into vfs.SuperBlock calls. The superblock
serialises every operation on the mount, so the bindings keep no locks of
their own around filesystem state.

# Operations

	Lookup / Getattr      vfs Lookup, attributes from the inode
	Readdir               vfs ReadDir ("." and ".." are synthesised)
	Create / Mkdir        vfs Create with ModeRegular or ModeDir
	Unlink / Rmdir        vfs Unlink, EISDIR / ENOTDIR on type mismatch
	Open / Read / Write   vfs Open, File.ReadAt and File.WriteAt
	Flush / Fsync         SuperBlock.Sync writes the block cache back

FAT keeps no owner or permission bits, so every node reports the UID, GID
and modes from Config. Size changes through setattr, and opens with O_TRUNC
on a non-empty file, are refused with ENOTSUP; files only grow through
writes.

# Inode numbers

Nodes are numbered from the location of their directory record, which the
FAT driver exposes through a StableID method. The root is always 1.

# Errors

Filesystem errors map onto errno values by code: not-found codes to ENOENT,
FILE_EXISTS to EEXIST, NOT_EMPTY to ENOTEMPTY, DISK_FULL and DIRECTORY_FULL
to ENOSPC, and anything unclassified to EIO.

# Usage

	mount := fuse.CreatePlatformMountManager(sb, collector, &fuse.Config{
		MountPoint: "/mnt/floppy",
		FileMode:   0644,
		DirMode:    0755,
	})
	if err := mount.Mount(ctx); err != nil {
		return err
	}
	mount.Wait()
*/
package fuse
