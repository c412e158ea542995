package trigger

import (
	"context"
	"fmt"

	"github.com/danmuck/calypsold/internal/tools"
	"github.com/rs/zerolog/log"
)

// GDBExec drives a gdb binary in batch mode. The gdb process is left running
// after Jump returns; "continue" only exits when the target stops.
type GDBExec struct {
	Binary string
	Target string
	Runner tools.CommandRunner
}

func (g *GDBExec) Args(addr uint32) []string {
	return []string{
		"-batch",
		"-ex", "target remote " + g.Target,
		"-ex", fmt.Sprintf("set $pc = %#x", addr),
		"-ex", "continue",
	}
}

func (g *GDBExec) Jump(_ context.Context, addr uint32) error {
	done, err := g.Runner.Start(g.Binary, g.Args(addr)...)
	if err != nil {
		return fmt.Errorf("trigger: start %s: %w", g.Binary, err)
	}
	go func() {
		err := <-done
		log.Debug().
			Str("binary", g.Binary).
			Str("addr", fmt.Sprintf("%#x", addr)).
			Int32("exit", tools.ExitCode(err)).
			Msg("trigger.GDBExec exited")
	}()
	return nil
}
