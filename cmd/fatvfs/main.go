package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/objectfs/fatvfs/internal/config"
	"github.com/objectfs/fatvfs/pkg/utils"
)

// Version is set at build time.
var Version = "dev"

func usage() {
	name := filepath.Base(os.Args[0])
	fmt.Printf("USAGE: %s [options] COMMAND [args]\n\n", name)
	fmt.Printf("Commands:\n")
	for _, c := range commands {
		fmt.Printf("  %-10s %s\n", c.name, c.help)
	}
	fmt.Printf("  %-10s %s\n", "version", "Print version information")
	fmt.Printf("  %-10s %s\n", "help", "Print this message")
	fmt.Printf("\n")
	fmt.Printf("Run '%s COMMAND -help' for more information on the command\n", name)
	fmt.Printf("\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
}

// loadConfig layers defaults, an optional YAML file, FATVFS_* environment
// variables and finally command line overrides.
func loadConfig(path, device, level string, readOnly bool) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if device != "" {
		cfg.Device.Path = device
	}
	if level != "" {
		cfg.Global.LogLevel = level
	}
	if readOnly {
		cfg.Device.ReadOnly = true
	}
	return cfg, nil
}

func main() {
	flag.Usage = usage
	flagConfig := flag.String("config", "", "Path to a YAML configuration file")
	flagDevice := flag.String("device", "", "Image path, file:// or s3://bucket/key URI")
	flagReadOnly := flag.Bool("ro", false, "Open the device read-only")
	flagQuiet := flag.Bool("q", false, "Quiet execution")
	flagVerbose := flag.Bool("v", false, "Verbose execution")
	flag.Parse()

	if *flagQuiet && *flagVerbose {
		fmt.Printf("Can't set quiet and verbose flag at the same time\n")
		os.Exit(1)
	}
	level := ""
	if *flagQuiet {
		level = "ERROR"
	}
	if *flagVerbose {
		level = "DEBUG"
	}

	args := flag.Args()
	if len(args) < 1 {
		fmt.Printf("Please specify a command.\n\n")
		flag.Usage()
		os.Exit(1)
	}

	switch args[0] {
	case "version":
		fmt.Printf("%s version %s\n", filepath.Base(os.Args[0]), Version)
		return
	case "help":
		flag.Usage()
		return
	}

	cmd, ok := lookupCommand(args[0])
	if !ok {
		fmt.Printf("%q is not valid command.\n\n", args[0])
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := loadConfig(*flagConfig, *flagDevice, level, *flagReadOnly)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logFile, err := utils.SetupLogging(cfg.Global.LogLevel, cfg.Global.LogFormat, cfg.Global.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	err = cmd.run(cfg, args[1:], os.Stdout)
	closeQuietly(logFile)
	if err != nil {
		slog.Error("command failed", "command", cmd.name, "error", err)
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd.name, err)
		os.Exit(1)
	}
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
