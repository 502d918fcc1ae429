package settings

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const reloadDebounce = 250 * time.Millisecond

// Watcher reloads the Manager when the settings file is edited outside the
// daemon. Our own atomic writes also trigger it; Reload ignores unchanged
// content.
type Watcher struct {
	manager *Manager
	path    string
	log     zerolog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	// Debounce: coalesce the Create+Write+Rename burst of a single save.
	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// NewWatcher creates a watcher for the file at path.
func NewWatcher(m *Manager, path string, log zerolog.Logger) *Watcher {
	return &Watcher{
		manager: m,
		path:    filepath.Clean(path),
		log:     log.With().Str("component", "settings-watcher").Logger(),
		done:    make(chan struct{}),
	}
}

// Start begins watching the settings file's directory. The directory must
// exist.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return err
	}
	w.watcher = fw

	w.wg.Add(1)
	go w.loop()
	w.log.Info().Str("path", w.path).Msg("watching settings file")
	return nil
}

// Stop ends the watch and waits for the event loop to exit.
func (w *Watcher) Stop() {
	if w.watcher == nil {
		return
	}
	close(w.done)
	w.watcher.Close()
	w.wg.Wait()

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceMu.Unlock()
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				w.schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("settings watcher error")
		}
	}
}

func (w *Watcher) schedule() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	changed, err := w.manager.Reload()
	if err != nil {
		w.log.Warn().Err(err).Msg("ignoring invalid settings edit")
		return
	}
	if changed {
		w.log.Debug().Msg("settings file change applied")
	}
}
