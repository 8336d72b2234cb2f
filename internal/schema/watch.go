// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package schema

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// # Hot Reload

// Watch rebuilds the registry whenever descriptor files change, debounced so
// editors that write in bursts trigger one reload. A failed reload keeps the
// previous snapshot live and logs the failure.
//
// Watch blocks until ctx is cancelled; run it on its own goroutine.
func (r *Registry) Watch(ctx context.Context, dir string, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	for _, sub := range []string{collectionsSubdir, proceduresSubdir} {
		// The procedures directory is optional; watching a missing path is
		// simply skipped.
		if err := watcher.Add(filepath.Join(dir, sub)); err != nil {
			r.log.Warn("schema watch skipped",
				slog.String("path", filepath.Join(dir, sub)),
				slog.Any("error", err),
			)
		}
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			// Restart the debounce window on every relevant event.
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("schema watch error", slog.Any("error", err))

		case <-timerC:
			timerC = nil
			timer = nil
			if err := r.Load(dir); err != nil {
				r.log.Error("schema hot reload failed; previous snapshot stays active",
					slog.Any("error", err),
				)
				continue
			}
			r.log.Info("schema hot reload complete")
		}
	}
}
