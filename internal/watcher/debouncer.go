package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// debouncer coalesces rapid events per path so a burst of writes to
// one file emits a single upsert. A remove following an upsert wins,
// and an upsert following a remove wins: the last observed state of
// the file decides.
type debouncer struct {
	window time.Duration
	output chan []Event

	mu      sync.Mutex
	pending map[string]Event
	timer   *time.Timer
	stopped bool
}

func newDebouncer(window time.Duration, buffer int) *debouncer {
	return &debouncer{
		window:  window,
		output:  make(chan []Event, buffer),
		pending: make(map[string]Event),
	}
}

func (d *debouncer) add(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	d.pending[ev.Path] = ev

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]Event, 0, len(d.pending))
	for _, ev := range d.pending {
		batch = append(batch, ev)
	}
	d.pending = make(map[string]Event)

	select {
	case d.output <- batch:
	default:
		slog.Warn("watch batch dropped, consumer too slow", "size", len(batch))
	}
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
