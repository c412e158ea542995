package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/danmuck/calypsold/internal/logging"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watch reloads path whenever it is written or replaced and passes the
// result to fn. Reload failures are logged and the previous settings stay in
// effect. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, fn func(Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()

	target := filepath.Clean(path)
	// editors often replace the file, so watch the directory
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config watch %s: %w", target, err)
	}
	log.Debug().Str("path", target).Msg("config.Watch started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(target)
			if err != nil {
				log.Warn().Err(err).Str("path", target).Msg("config.Watch reload failed")
				continue
			}
			log.Info().Str("path", target).Msg("config.Watch reloaded")
			fn(cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("config.Watch error")
		}
	}
}

// ApplyLogLevel is the reload hook used by loaderd; log_level is the only
// setting that takes effect without a restart.
func ApplyLogLevel(cfg Config) {
	if !logging.SetLevel(cfg.LogLevel) {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("config.Watch ignoring invalid log_level")
		return
	}
	log.Info().Str("log_level", cfg.LogLevel).Msg("config.Watch log level applied")
}
