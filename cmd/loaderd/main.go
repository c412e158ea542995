package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/danmuck/calypsold/internal/config"
	"github.com/danmuck/calypsold/internal/guestmem"
	"github.com/danmuck/calypsold/internal/loader"
	"github.com/danmuck/calypsold/internal/logging"
	"github.com/danmuck/calypsold/internal/monitor"
	"github.com/danmuck/calypsold/internal/observability"
	"github.com/danmuck/calypsold/internal/trigger"
	"github.com/rs/zerolog/log"
)

func main() {
	logging.ConfigureRuntime()
	os.Exit(exitCode(os.Args[1:], os.Stderr, run))
}

// exitCode resolves args and runs the daemon: 0 for -h, 1 for bad arguments
// or any startup or runtime failure.
func exitCode(args []string, stderr io.Writer, runFn func(options) error) int {
	opts, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "loaderd: %v\n", err)
		return 1
	}
	if err := runFn(opts); err != nil {
		fmt.Fprintf(stderr, "loaderd: %v\n", err)
		return 1
	}
	return 0
}

func run(opts options) error {
	cfg := opts.cfg
	if opts.configPath != "" {
		logging.SetLevel(cfg.LogLevel)
	}

	mem, err := guestmem.OpenProcMem(cfg.PID)
	if err != nil {
		return err
	}
	defer mem.Close()

	client, err := monitor.NewClient(cfg.MonitorConfig())
	if err != nil {
		return err
	}
	bridge := guestmem.NewBridge(client, mem)

	dispatcher, err := trigger.NewDispatcher(cfg.TriggerConfig())
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	observability.LaunchStats(ctx, cfg.StatsAddr)
	if opts.configPath != "" {
		go func() {
			if err := config.Watch(ctx, opts.configPath, config.ApplyLogLevel); err != nil {
				log.Warn().Err(err).Msg("loaderd config watch disabled")
			}
		}()
	}

	log.Info().
		Int("pid", cfg.PID).
		Str("monitor", cfg.MonitorSocket).
		Str("trigger", string(cfg.Trigger)).
		Str("gdb", cfg.TriggerConfig().Target()).
		Str("socket", cfg.LoaderSocket).
		Msg("loaderd starting")

	return loader.NewService(cfg.ServiceConfig(), bridge, dispatcher).Run()
}
