package config

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadOps = fsnotify.Create | fsnotify.Write | fsnotify.Rename

// Watch monitors the config file at path and calls onChange with the newly
// loaded Config each time it changes. It runs until ctx is cancelled.
//
// The parent directory is watched rather than the file, so editors and
// deployment tools that save by renaming a temp file over path are seen.
// A reload that fails to load or validate is logged and skipped; the previous
// config stays in effect.
func Watch(ctx context.Context, path string, logger *zap.Logger, onChange func(*Config)) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	target := filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	logger.Info("watching config for changes", zap.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&reloadOps == 0 {
				continue
			}

			cfg, err := Load(path)
			if errors.Is(err, fs.ErrNotExist) {
				// Moved away; the replacement arrives as its own create.
				logger.Debug("config file moved away", zap.String("path", path))
				continue
			}
			if err != nil {
				logger.Error("config reload failed; keeping previous config",
					zap.String("path", path),
					zap.Error(err),
				)
				continue
			}

			logger.Info("config reloaded", zap.String("path", path), zap.Stringer("op", event.Op))
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config watcher error", zap.Error(err))
		}
	}
}
