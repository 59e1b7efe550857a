package main

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/saworbit/callflight/pkg/ring"
)

// startFollower watches the trace file while the recorded command runs
// and logs event throughput. The watcher only marks activity; the
// header is polled at most once per second so a hot writer does not
// translate into a hot follower.
func startFollower(ctx context.Context, tracePath string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// The trace file usually does not exist yet; watch its directory
	// and filter for the file itself.
	if err := watcher.Add(filepath.Dir(tracePath)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		var (
			dirty      bool
			lastCursor uint64
			lastReport = time.Now()
		)

		for {
			select {
			case <-ctx.Done():
				return

			case evt := <-watcher.Events:
				if evt.Name != tracePath {
					continue
				}
				if evt.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					dirty = true
				}

			case err := <-watcher.Errors:
				if err != nil {
					log.Printf("[follow] watcher error: %v", err)
				}

			case now := <-ticker.C:
				if !dirty {
					continue
				}
				dirty = false

				capacity, cursor, err := ring.Peek(tracePath)
				if err != nil {
					continue
				}

				elapsed := now.Sub(lastReport).Seconds()
				rate := float64(cursor-lastCursor) / elapsed
				log.Printf("[follow] %d events (%.0f/s, capacity %d)", cursor, rate, capacity)

				lastCursor = cursor
				lastReport = now
			}
		}
	}()

	return nil
}
