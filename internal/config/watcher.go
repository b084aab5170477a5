package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/logging"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reports changes to a single config file. The parent directory is
// watched so editors that replace the file on save are still seen.
type Watcher struct {
	watcher  *fsnotify.Watcher
	logger   *logging.Logger
	path     string
	debounce time.Duration
}

func NewWatcher(path string, logger *logging.Logger) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := fw.Add(filepath.Dir(absPath)); err != nil {
		fw.Close()

		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	if logger == nil {
		logger = logging.Discard()
	}

	return &Watcher{
		watcher:  fw,
		logger:   logger.WithComponent("config-watcher"),
		path:     absPath,
		debounce: DefaultDebounce,
	}, nil
}

// SetDebounce changes the settle delay. Call before Run.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run calls onChange once per burst of writes to the config file or its .env
// sibling until ctx is done.
func (w *Watcher) Run(ctx context.Context, onChange func()) error {
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)

	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	envPath := filepath.Join(filepath.Dir(w.path), ".env")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}

			name := filepath.Clean(event.Name)
			if name != w.path && name != envPath {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			w.logger.Debug("Config file event", "file", name, "op", event.Op.String())

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}

			fire = timer.C

		case <-fire:
			fire = nil

			w.logger.Info("Config file changed", "path", w.path)
			onChange()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}

			w.logger.Error("Config watcher error", "error", err)
		}
	}
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}
