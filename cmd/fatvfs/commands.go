package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/objectfs/fatvfs/internal/adapter"
	"github.com/objectfs/fatvfs/internal/config"
	"github.com/objectfs/fatvfs/internal/fat"
	"github.com/objectfs/fatvfs/internal/vfs"
	"github.com/objectfs/fatvfs/pkg/errors"
	"github.com/objectfs/fatvfs/pkg/utils"
)

type command struct {
	name string
	help string
	// readOnly commands never write the device, so s3:// images are not
	// uploaded again when they finish.
	readOnly bool
	run      func(cfg *config.Configuration, args []string, out io.Writer) error
}

var commands []command

func init() {
	commands = []command{
		{name: "format", help: "Write an empty FAT volume to the device", run: formatCmd},
		{name: "ls", help: "List a directory", readOnly: true, run: lsCmd},
		{name: "cat", help: "Print a file", readOnly: true, run: catCmd},
		{name: "get", help: "Copy a file out of the volume", readOnly: true, run: getCmd},
		{name: "put", help: "Copy a local file into the volume", run: putCmd},
		{name: "mkdir", help: "Create a directory", run: mkdirCmd},
		{name: "rm", help: "Remove a file or an empty directory", run: rmCmd},
		{name: "stat", help: "Show volume geometry and cache statistics", readOnly: true, run: statCmd},
		{name: "mount", help: "Serve the volume over FUSE", run: mountCmd},
	}
	for i := range commands {
		if commands[i].readOnly {
			commands[i].run = readOnly(commands[i].run)
		}
	}
}

func lookupCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func readOnly(run func(*config.Configuration, []string, io.Writer) error) func(*config.Configuration, []string, io.Writer) error {
	return func(cfg *config.Configuration, args []string, out io.Writer) error {
		cfg.Device.ReadOnly = true
		return run(cfg, args, out)
	}
}

func newFlagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "USAGE: fatvfs %s %s\n\nOptions:\n", name, usage)
		fs.PrintDefaults()
	}
	return fs
}

// withVolume opens the configured device, runs fn against the mounted
// superblock and then syncs and closes everything.
func withVolume(ctx context.Context, cfg *config.Configuration, fn func(sb *vfs.SuperBlock) error) (err error) {
	a, err := adapter.New(cfg)
	if err != nil {
		return err
	}
	if err := a.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if stopErr := a.Stop(ctx); err == nil {
			err = stopErr
		}
	}()
	return fn(a.SuperBlock())
}

func formatCmd(cfg *config.Configuration, args []string, out io.Writer) error {
	fs := newFlagSet("format", "[options]")
	fatType := fs.Int("fat", cfg.Filesystem.FATType, "FAT type, 12 or 16")
	size := fs.String("size", cfg.Filesystem.ImageSize, "Size of a newly created image")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg.Filesystem.FATType = *fatType
	cfg.Filesystem.ImageSize = *size

	ctx := context.Background()
	a, err := adapter.New(cfg)
	if err != nil {
		return err
	}
	if err := a.Format(ctx); err != nil {
		return err
	}
	vol := a.SuperBlock().Data.(*fat.FsInfo).Vol
	if err := a.Stop(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "formatted %s as FAT%d: %d clusters of %s\n",
		cfg.Device.Path, vol.FATType, vol.NumClusters, utils.FormatBytes(int64(vol.ClusterBytes())))
	return nil
}

func lsCmd(cfg *config.Configuration, args []string, out io.Writer) error {
	fs := newFlagSet("ls", "[path]")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := "/"
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}

	return withVolume(context.Background(), cfg, func(sb *vfs.SuperBlock) error {
		return list(sb, path, out)
	})
}

func list(sb *vfs.SuperBlock, path string, out io.Writer) error {
	dir, err := sb.Resolve(path)
	if err != nil {
		return err
	}
	entries, err := sb.ReadDir(dir)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	for _, e := range entries {
		kind := "-"
		if e.Inode.IsDir() {
			kind = "d"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", kind, e.Inode.Length, e.Name)
	}
	return w.Flush()
}

func catCmd(cfg *config.Configuration, args []string, out io.Writer) error {
	fs := newFlagSet("cat", "path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.NewError(errors.ErrCodeInvalidArgument, "cat takes one path")
	}
	return withVolume(context.Background(), cfg, func(sb *vfs.SuperBlock) error {
		return copyOut(sb, fs.Arg(0), out)
	})
}

func getCmd(cfg *config.Configuration, args []string, out io.Writer) error {
	fs := newFlagSet("get", "path local-file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return errors.NewError(errors.ErrCodeInvalidArgument, "get takes a volume path and a local file")
	}
	dst, err := os.Create(fs.Arg(1))
	if err != nil {
		return err
	}
	err = withVolume(context.Background(), cfg, func(sb *vfs.SuperBlock) error {
		return copyOut(sb, fs.Arg(0), dst)
	})
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	return err
}

func copyOut(sb *vfs.SuperBlock, path string, out io.Writer) error {
	d, err := sb.Resolve(path)
	if err != nil {
		return err
	}
	f, err := sb.Open(d, os.O_RDONLY)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, 32<<10)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF || (err == nil && n == 0) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func putCmd(cfg *config.Configuration, args []string, out io.Writer) error {
	fs := newFlagSet("put", "local-file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return errors.NewError(errors.ErrCodeInvalidArgument, "put takes a local file and a volume path")
	}
	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	return withVolume(context.Background(), cfg, func(sb *vfs.SuperBlock) error {
		if err := store(sb, fs.Arg(1), data); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s to %s\n", utils.FormatBytes(int64(len(data))), fs.Arg(1))
		return nil
	})
}

// store replaces path with data. FAT files cannot shrink in place, so an
// existing file is removed first.
func store(sb *vfs.SuperBlock, path string, data []byte) error {
	parent, name, err := utils.SplitParent(path)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidArgument, "bad path", err)
	}
	dir, err := sb.Resolve(parent)
	if err != nil {
		return err
	}
	if old, err := sb.Lookup(dir, name); err == nil {
		if old.Inode.IsDir() {
			return errors.Newf(errors.ErrCodeFileExists, "%s is a directory", path)
		}
		if err := sb.Unlink(old); err != nil {
			return err
		}
	} else if !errors.IsNotFound(err) {
		return err
	}

	d, err := sb.Create(dir, name, vfs.ModeRegular)
	if err != nil {
		return err
	}
	f, err := sb.Open(d, os.O_WRONLY)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func mkdirCmd(cfg *config.Configuration, args []string, out io.Writer) error {
	fs := newFlagSet("mkdir", "path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.NewError(errors.ErrCodeInvalidArgument, "mkdir takes one path")
	}
	return withVolume(context.Background(), cfg, func(sb *vfs.SuperBlock) error {
		parent, name, err := utils.SplitParent(fs.Arg(0))
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidArgument, "bad path", err)
		}
		dir, err := sb.Resolve(parent)
		if err != nil {
			return err
		}
		_, err = sb.Create(dir, name, vfs.ModeDir)
		return err
	})
}

func rmCmd(cfg *config.Configuration, args []string, out io.Writer) error {
	fs := newFlagSet("rm", "path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.NewError(errors.ErrCodeInvalidArgument, "rm takes one path")
	}
	return withVolume(context.Background(), cfg, func(sb *vfs.SuperBlock) error {
		d, err := sb.Resolve(fs.Arg(0))
		if err != nil {
			return err
		}
		return sb.Unlink(d)
	})
}

func statCmd(cfg *config.Configuration, args []string, out io.Writer) error {
	fs := newFlagSet("stat", "")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	a, err := adapter.New(cfg)
	if err != nil {
		return err
	}
	if err := a.Open(ctx); err != nil {
		return err
	}
	defer a.Stop(ctx)

	vol := a.SuperBlock().Data.(*fat.FsInfo).Vol
	stats := a.CacheStats()

	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "device\t%s\n", cfg.Device.Path)
	fmt.Fprintf(w, "label\t%s\n", vol.Label)
	fmt.Fprintf(w, "type\tFAT%d\n", vol.FATType)
	fmt.Fprintf(w, "start sector\t%d\n", vol.StartSector)
	fmt.Fprintf(w, "sector size\t%d\n", vol.SectorSize)
	fmt.Fprintf(w, "cluster size\t%s\n", utils.FormatBytes(int64(vol.ClusterBytes())))
	fmt.Fprintf(w, "clusters\t%d\n", vol.NumClusters)
	fmt.Fprintf(w, "fats\t%d x %d sectors\n", vol.NumFATs, vol.SecPerFAT)
	fmt.Fprintf(w, "root entries\t%d\n", vol.RootEntries)
	fmt.Fprintf(w, "cache buffers\t%d (%s of %s)\n", stats.Buffers,
		utils.FormatBytes(stats.Size), utils.FormatBytes(stats.Capacity))
	fmt.Fprintf(w, "cache hits/misses\t%d/%d\n", stats.Hits, stats.Misses)
	return w.Flush()
}

func mountCmd(cfg *config.Configuration, args []string, out io.Writer) error {
	fs := newFlagSet("mount", "[options] mount-point")
	allowOther := fs.Bool("allow-other", cfg.Mount.AllowOther, "Allow other users to access the mount")
	debug := fs.Bool("debug", cfg.Mount.Debug, "Log every FUSE request")
	metrics := fs.Bool("metrics", cfg.Monitoring.Metrics.Enabled, "Serve Prometheus metrics")
	port := fs.Int("metrics-port", cfg.Global.MetricsPort, "Port for the metrics endpoint")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		cfg.Mount.MountPoint = fs.Arg(0)
	}
	if cfg.Mount.MountPoint == "" {
		fs.Usage()
		return errors.NewError(errors.ErrCodeInvalidArgument, "mount point required")
	}
	cfg.Mount.AllowOther = *allowOther
	cfg.Mount.Debug = *debug
	cfg.Monitoring.Metrics.Enabled = *metrics
	cfg.Global.MetricsPort = *port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := adapter.New(cfg)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background())
		return err
	}
	fmt.Fprintf(out, "serving %s at %s (pid %d)\n", cfg.Device.Path, cfg.Mount.MountPoint, os.Getpid())

	a.Wait()
	return a.Stop(context.Background())
}
