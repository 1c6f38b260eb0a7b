// Package filewatch keeps a table's data in sync with a JSON or YAML file.
package filewatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 100 * time.Millisecond

// ErrUnsupportedFormat is returned for files that are neither JSON nor YAML.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Setter receives decoded rows. *table.Table satisfies it.
type Setter[T any] interface {
	SetData(ctx context.Context, data []T) error
}

// Options configures a Watcher.
type Options struct {
	Debounce time.Duration
	Logger   logrus.FieldLogger
}

// Watcher reloads a rows file whenever it changes.
type Watcher[T any] struct {
	path     string
	target   Setter[T]
	debounce time.Duration
	log      logrus.FieldLogger

	loads     atomic.Uint64
	ready     chan struct{}
	readyOnce sync.Once
	mu        sync.Mutex
	timer  *time.Timer
	closed bool
}

// New returns a watcher for path. Nothing is read until Load or Run.
func New[T any](path string, target Setter[T], opts Options) (*Watcher[T], error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, err := formatOf(abs); err != nil {
		return nil, err
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Watcher[T]{
		path:     abs,
		target:   target,
		debounce: opts.Debounce,
		log:      opts.Logger.WithField("file", abs),
		ready:    make(chan struct{}),
	}, nil
}

// Path returns the absolute path being watched.
func (w *Watcher[T]) Path() string { return w.path }

// Watching is closed once Run has started watching for changes.
func (w *Watcher[T]) Watching() <-chan struct{} { return w.ready }

// Loads returns how many times the file was applied to the target.
func (w *Watcher[T]) Loads() uint64 { return w.loads.Load() }

// Load reads, decodes and applies the file once.
func (w *Watcher[T]) Load(ctx context.Context) error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("failed to read rows: %w", err)
	}
	rows, err := Decode[T](w.path, data)
	if err != nil {
		return err
	}
	if err := w.target.SetData(ctx, rows); err != nil {
		return fmt.Errorf("failed to apply rows: %w", err)
	}
	w.loads.Add(1)
	w.log.WithField("rows", len(rows)).Debug("rows file loaded")
	return nil
}

// Run loads the file, then reloads it on every change until ctx is done.
// The parent directory is watched so that atomic renames are seen. Reload
// errors are logged and the previous data is kept.
func (w *Watcher[T]) Run(ctx context.Context) error {
	if err := w.Load(ctx); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	defer w.stop()
	w.readyOnce.Do(func() { close(w.ready) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.schedule(ctx)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("file watcher error")
		}
	}
}

func (w *Watcher[T]) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		if err := w.Load(ctx); err != nil {
			w.log.WithError(err).Warn("failed to reload rows file")
		}
	})
}

func (w *Watcher[T]) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
}

type format int

const (
	formatJSON format = iota
	formatYAML
)

func formatOf(path string) (format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
}

// Decode parses rows by file extension. The document is either a list of
// rows or an object with a "data" list.
func Decode[T any](path string, data []byte) ([]T, error) {
	f, err := formatOf(path)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Data []T `json:"data" yaml:"data"`
	}
	var rows []T
	trimmed := bytes.TrimSpace(data)

	switch f {
	case formatJSON:
		if len(trimmed) > 0 && trimmed[0] == '[' {
			err = json.Unmarshal(trimmed, &rows)
		} else {
			err = json.Unmarshal(trimmed, &doc)
			rows = doc.Data
		}
	case formatYAML:
		if len(trimmed) > 0 && trimmed[0] == '-' {
			err = yaml.Unmarshal(trimmed, &rows)
		} else {
			err = yaml.Unmarshal(trimmed, &doc)
			rows = doc.Data
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	if rows == nil {
		rows = []T{}
	}
	return rows, nil
}
