package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Lebouse/telegram-reminder/pkg/logx"
)

// Watch re-parses the config file whenever it changes and hands valid
// results to onChange. Invalid files are logged and ignored, keeping the
// previous config in effect. Events are debounced because editors tend
// to emit several writes per save.
//
// The parent directory is watched, not the file itself, so atomic
// rename-based saves keep working.
func Watch(ctx context.Context, path string, log logx.Logger, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return err
	}

	go func() {
		defer w.Close()

		const debounce = 300 * time.Millisecond
		var (
			pending bool
			timer   = time.NewTimer(time.Hour)
		)
		if !timer.Stop() {
			<-timer.C
		}
		defer timer.Stop()

		base := filepath.Base(path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if pending {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
				}
				pending = true
				timer.Reset(debounce)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", logx.Err(err))
			case <-timer.C:
				pending = false
				cfg, err := Load(path)
				if err != nil {
					log.Warn("config reload rejected; keeping previous", logx.Err(err))
					continue
				}
				log.Info("config reloaded", logx.String("path", path))
				onChange(cfg)
			}
		}
	}()

	return nil
}
