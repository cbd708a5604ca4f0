package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is the polling period of a [Watcher].
const DefaultWatchInterval = 5 * time.Second

// Watcher polls the config file and any extra files registered with
// [WithFile].
//
// A changed config file is parsed, overlaid with the environment and
// validated; onChange sees the previous and new config only when [Diff]
// reports a difference, so comment and formatting edits are silent. An
// invalid file is logged and the previous config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	getenv   func(string) string
	extras   []*watchedFile

	mu      sync.Mutex
	current *Config
	config  watchedFile

	done     chan struct{}
	stopOnce sync.Once
}

// watchedFile remembers the last seen version of one file.
type watchedFile struct {
	path     string
	onChange func()
	size     int64
	mtime    time.Time
	sum      [sha256.Size]byte
}

// read returns the file content when it differs from the remembered
// version. The size and mtime are compared first so unchanged files are not
// read.
func (f *watchedFile) read() (data []byte, changed bool, err error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return nil, false, err
	}
	if info.Size() == f.size && info.ModTime().Equal(f.mtime) {
		return nil, false, nil
	}
	data, err = os.ReadFile(f.path)
	if err != nil {
		return nil, false, err
	}
	f.size, f.mtime = info.Size(), info.ModTime()
	sum := sha256.Sum256(data)
	if sum == f.sum {
		return nil, false, nil
	}
	f.sum = sum
	return data, true, nil
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling period. Non-positive values keep the
// default.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithGetenv replaces os.Getenv for the environment overlay.
func WithGetenv(fn func(string) string) WatcherOption {
	return func(w *Watcher) { w.getenv = fn }
}

// WithFile also watches path, typically the lexicon YAML, and calls
// onChange whenever its content changes. An empty path is ignored.
func WithFile(path string, onChange func()) WatcherOption {
	return func(w *Watcher) {
		if path != "" && onChange != nil {
			w.extras = append(w.extras, &watchedFile{path: path, onChange: onChange})
		}
	}
}

// NewWatcher loads path and starts polling. It fails when the initial load
// fails.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		getenv:   os.Getenv,
		config:   watchedFile{path: path},
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	data, _, err := w.config.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := parse(bytes.NewReader(data), w.getenv)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	for _, f := range w.extras {
		// Prime the fingerprint; a missing extra file shows up later.
		_, _, _ = f.read()
	}

	go w.loop()
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.Check()
		}
	}
}

// Check polls every watched file once and fires the callbacks of those that
// changed. The loop calls it on every tick.
func (w *Watcher) Check() {
	w.checkConfig()
	for _, f := range w.extras {
		w.mu.Lock()
		_, changed, err := f.read()
		w.mu.Unlock()
		switch {
		case err != nil:
			slog.Warn("config watcher: cannot read watched file", "path", f.path, "err", err)
		case changed:
			slog.Info("config watcher: watched file changed", "path", f.path)
			f.onChange()
		}
	}
}

func (w *Watcher) checkConfig() {
	w.mu.Lock()
	data, changed, err := w.config.read()
	w.mu.Unlock()
	if err != nil {
		slog.Warn("config watcher: cannot read config", "path", w.path, "err", err)
		return
	}
	if !changed {
		return
	}

	cfg, err := parse(bytes.NewReader(data), w.getenv)
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	d := Diff(old, cfg)
	if d.Empty() {
		slog.Debug("config watcher: file changed without effect", "path", w.path)
		return
	}
	slog.Info("config watcher: configuration reloaded", "path", w.path,
		"rag_changed", d.RAGChanged, "restart_required", d.RestartRequired)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}
