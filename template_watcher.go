package main

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TemplateWatcher monitors the templates directory so the detector's
// decoded-image cache tracks edits made from outside the service
type TemplateWatcher struct {
	detector *Detector
	dir      string
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	mu       sync.Mutex
}

// NewTemplateWatcher creates a watcher over the templates directory
func NewTemplateWatcher(detector *Detector, dir string) *TemplateWatcher {
	return &TemplateWatcher{
		detector: detector,
		dir:      dir,
		stopCh:   make(chan struct{}),
	}
}

// Start begins watching the templates directory
func (w *TemplateWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		w.watcher = nil
		return err
	}

	LogInfo("template_watcher").Str("path", w.dir).Msg("Started watching templates directory")

	go w.watch()
	return nil
}

// Stop stops watching the templates directory
func (w *TemplateWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		close(w.stopCh)
		w.watcher.Close()
		w.watcher = nil
		LogInfo("template_watcher").Msg("Stopped watching templates directory")
	}
}

// watch is the main watch loop
func (w *TemplateWatcher) watch() {
	// Debounce: editors and adb pushes produce write bursts
	debounceDelay := 300 * time.Millisecond
	timers := make(map[string]*time.Timer)

	for {
		select {
		case <-w.stopCh:
			for _, t := range timers {
				t.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if !strings.HasSuffix(strings.ToLower(event.Name), ".png") {
				continue
			}
			filename := filepath.Base(event.Name)

			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			if t, exists := timers[filename]; exists {
				t.Stop()
			}
			timers[filename] = time.AfterFunc(debounceDelay, func() {
				w.detector.Invalidate(filename)
				LogDebug("template_watcher").Str("file", filename).Msg("Invalidated cached template")
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			LogError("template_watcher").Err(err).Msg("Watcher error")
		}
	}
}
