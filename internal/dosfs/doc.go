/*
Package dosfs implements the FAT on-disk primitives used by internal/fat.

Every sector read or written goes through a bcache.Cache, so directory
walks, FAT table updates and file data share one bounded buffer pool:

	cache, _ := bcache.New(bcache.Config{MaxMemory: 1 << 20})
	prims := dosfs.New(cache)
	adapter := fat.New(prims)

Volumes are found either at sector 0 (a "superfloppy" without a partition
table) or through the MBR partition table. Format writes an MBR with one
FAT12 or FAT16 partition starting at sector 1.

Only short 8.3 names are supported; long-name records are skipped when
reading and never written.
*/
package dosfs
