package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-ackflow/internal/pool"
	"github.com/arloliu/go-ackflow/logger"
	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce is the quiet period after the last file event before
// the file is reloaded.
const DefaultWatchDebounce = 100 * time.Millisecond

// Watcher reloads a configuration file when it changes.
//
// The parent directory is watched rather than the file, so editors that
// replace the file on save are followed.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   logger.Logger

	reloads  atomic.Uint64
	failures atomic.Uint64
}

// WatchOption is a functional option for NewWatcher.
type WatchOption interface {
	apply(*Watcher) error
}

type watchOptFunc func(*Watcher) error

func (f watchOptFunc) apply(w *Watcher) error { return f(w) }

// WithDebounce sets the quiet period before a reload, in [0, 10s].
func WithDebounce(d time.Duration) WatchOption {
	return watchOptFunc(func(w *Watcher) error {
		if d < 0 || d > 10*time.Second {
			return fmt.Errorf("config: debounce %v out of range [0, 10s]", d)
		}
		w.debounce = d

		return nil
	})
}

// WithWatchLogger sets the logger of the watcher.
func WithWatchLogger(l logger.Logger) WatchOption {
	return watchOptFunc(func(w *Watcher) error {
		if l == nil {
			return errors.New("config: logger must not be nil")
		}
		w.logger = l

		return nil
	})
}

// NewWatcher creates a Watcher for the configuration file at path.
func NewWatcher(path string, opts ...WatchOption) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("config: watch path is empty")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", path, err)
	}

	w := &Watcher{
		path:     abs,
		debounce: DefaultWatchDebounce,
		logger:   logger.GetLogger(),
	}
	for _, opt := range opts {
		if err := opt.apply(w); err != nil {
			return nil, err
		}
	}

	return w, nil
}

// Path returns the absolute path of the watched file.
func (w *Watcher) Path() string { return w.path }

// Reloads returns the number of successful reloads.
func (w *Watcher) Reloads() uint64 { return w.reloads.Load() }

// Failures returns the number of reloads rejected by Load.
func (w *Watcher) Failures() uint64 { return w.failures.Load() }

// Run watches the file until ctx is done and calls onChange with every
// configuration that loads and validates. A rejected file is logged and
// the previous configuration stays in force.
func (w *Watcher) Run(ctx context.Context, onChange func(*Config)) error {
	if onChange == nil {
		return errors.New("config: onChange must not be nil")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create file watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(w.path), err)
	}

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			pool.PutTimer(timer)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if timer == nil {
				timer = pool.GetTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			w.reload(onChange)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("config: watcher error: %w", err)
		}
	}
}

func (w *Watcher) reload(onChange func(*Config)) {
	cfg, err := Load(w.path)
	if err != nil {
		w.failures.Add(1)
		w.logger.Warn("configuration reload rejected", "path", w.path, "error", err)

		return
	}

	w.reloads.Add(1)
	w.logger.Info("configuration reloaded", "path", w.path)
	onChange(cfg)
}
