package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadDebounce collapses the burst of events one editor save produces
const reloadDebounce = 200 * time.Millisecond

// Watch reloads the config file at path whenever it changes and passes the
// new config, environment overrides applied, to onChange. It blocks until ctx
// is done. The parent directory is watched so editors that replace the file
// by rename are picked up.
func Watch(ctx context.Context, path string, logger *zap.Logger, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create config watcher")
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve %s", path)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return errors.Wrapf(err, "failed to watch %s", filepath.Dir(abs))
	}

	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(reloadDebounce)
			reload = timer.C

		case <-reload:
			reload = nil
			cfg, err := LoadConfig(abs)
			if err == nil {
				err = cfg.ApplyEnv(lookupEnv)
			}
			if err != nil {
				logger.Warn("Ignoring invalid config change", zap.String("path", abs), zap.Error(err))
				continue
			}
			logger.Info("Config reloaded", zap.String("path", abs))
			onChange(cfg)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}
