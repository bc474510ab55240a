// Package watcher keeps the store in sync with a documents directory.
// File system events are debounced and coalesced before they reach the
// ingestion pipeline, so editors that write in bursts trigger one
// re-ingest rather than many.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/chunkstack/chunkstack/internal/doctype"
)

// Op is a coalesced file operation.
type Op int

const (
	OpUpsert Op = iota // created or modified: (re-)ingest
	OpRemove           // deleted or renamed away: drop the source
)

func (op Op) String() string {
	switch op {
	case OpUpsert:
		return "UPSERT"
	case OpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// Event is one debounced change to a supported document.
type Event struct {
	Path string
	Op   Op
	At   time.Time
}

// Options tunes the watcher. Zero values select the defaults.
type Options struct {
	// DebounceWindow is how long to wait for a path to settle before
	// emitting its coalesced event.
	DebounceWindow time.Duration

	// BufferSize is the capacity of the batch output channel.
	BufferSize int
}

func (o Options) withDefaults() Options {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 500 * time.Millisecond
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 64
	}
	return o
}

// Watcher watches one directory tree for document changes.
type Watcher struct {
	opts Options
	log  *slog.Logger

	fsw      *fsnotify.Watcher
	debounce *debouncer

	stopOnce sync.Once
	done     chan struct{}
}

// New creates a watcher. Call Start to begin delivering batches.
func New(opts Options, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		opts:     opts,
		log:      logger,
		fsw:      fsw,
		debounce: newDebouncer(opts.DebounceWindow, opts.BufferSize),
		done:     make(chan struct{}),
	}, nil
}

// Start watches root and all its subdirectories until ctx is cancelled
// or Stop is called. It returns after the watch loop has been set up;
// events arrive on Batches.
func (w *Watcher) Start(ctx context.Context, root string) error {
	if err := w.addRecursive(root); err != nil {
		return err
	}

	go w.loop(ctx)
	return nil
}

// Batches returns the channel of debounced event batches. The channel
// is closed when the watcher stops.
func (w *Watcher) Batches() <-chan []Event {
	return w.debounce.output
}

// Stop shuts the watcher down. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.fsw.Close()
		w.debounce.stop()
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	// New subdirectories must be added to the watch set; fsnotify does
	// not recurse on its own.
	if ev.Op.Has(fsnotify.Create) {
		if err := w.addRecursive(ev.Name); err == nil {
			// ev.Name was a directory; its files arrive as their own
			// create events.
		}
	}

	if !Supported(ev.Name) {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Create), ev.Op.Has(fsnotify.Write):
		w.debounce.add(Event{Path: ev.Name, Op: OpUpsert, At: time.Now()})
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.debounce.add(Event{Path: ev.Name, Op: OpRemove, At: time.Now()})
	}
}

// addRecursive registers path and every directory under it. Non-fatal
// for files: fsnotify watches directories, files are covered by their
// parent.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// Supported reports whether path has a document extension the readers
// can extract.
func Supported(path string) bool {
	_, ok := doctype.FormatForExtension(filepath.Ext(path))
	return ok
}
