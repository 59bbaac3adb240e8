package source

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/glowlink-io/glowlink/pkg/log"
)

// debounceDelay collapses the burst of events a single build tool write
// produces into one reload.
const debounceDelay = 200 * time.Millisecond

// Watch invokes fn with a freshly loaded image whenever the file at path is
// rewritten. The parent directory is watched so editors and build tools that
// replace the file by rename are still seen. Watch blocks until ctx is
// cancelled.
func Watch(ctx context.Context, path string, fn func(*Image)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	var debounce *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("Image watcher error", "err", err)

		case <-fire:
			img, err := NewFileSource().Load(ctx, abs)
			if err != nil {
				log.Warn("Skipping unreadable image", "path", abs, "err", err)
				continue
			}
			log.Info("Image changed", "path", abs, "bytes", len(img.Data))
			fn(img)
		}
	}
}
