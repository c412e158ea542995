package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/danmuck/calypsold/internal/config"
)

type options struct {
	configPath string
	cfg        config.Config
}

const usageLine = "usage: loaderd [-config path] <QEMU_PID> <MONSOCK> [GDB_PORT] [LOADER_SOCK]"

// parseArgs resolves the daemon configuration: defaults, then the optional
// config file, then positional arguments.
func parseArgs(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("loaderd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "optional TOML config file")
	fs.Usage = func() {
		fmt.Fprintln(stderr, usageLine)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts := options{configPath: strings.TrimSpace(*configPath), cfg: config.Default()}
	if opts.configPath != "" {
		cfg, err := config.Load(opts.configPath)
		if err != nil {
			return options{}, err
		}
		opts.cfg = cfg
	}

	pos := fs.Args()
	if len(pos) > 4 {
		return options{}, fmt.Errorf("too many arguments\n%s", usageLine)
	}
	if opts.configPath == "" && len(pos) < 2 {
		return options{}, fmt.Errorf("missing QEMU_PID or MONSOCK\n%s", usageLine)
	}
	if len(pos) > 0 {
		pid, err := strconv.Atoi(pos[0])
		if err != nil {
			return options{}, fmt.Errorf("invalid QEMU_PID %q", pos[0])
		}
		opts.cfg.PID = pid
	}
	if len(pos) > 1 {
		opts.cfg.MonitorSocket = pos[1]
	}
	if len(pos) > 2 {
		port, err := strconv.Atoi(pos[2])
		if err != nil {
			return options{}, fmt.Errorf("invalid GDB_PORT %q", pos[2])
		}
		opts.cfg.GDBPort = port
	}
	if len(pos) > 3 {
		opts.cfg.LoaderSocket = pos[3]
	}

	if err := opts.cfg.Validate(); err != nil {
		return options{}, err
	}
	return opts, nil
}
