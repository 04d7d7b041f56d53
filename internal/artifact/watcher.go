package artifact

import (
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceInterval coalesces the bursts of events produced by atomic writes.
const debounceInterval = 50 * time.Millisecond

// Event announces that an artifact was written.
type Event struct {
	Kind Kind
	Turn int
	Path string
	At   time.Time
}

// Watcher reports artifact writes in one task directory. It only works for
// stores backed by the OS filesystem.
type Watcher struct {
	watcher *fsnotify.Watcher
	dir     string
	events  chan Event
	errs    chan error

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
}

// NewWatcher creates the task's artifact directory if needed and watches it.
func NewWatcher(store *Store, taskID string) (*Watcher, error) {
	if err := store.EnsureDirs(taskID); err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := store.TaskDir(taskID)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return &Watcher{
		watcher: fw,
		dir:     dir,
		events:  make(chan Event, 64),
		errs:    make(chan error, 8),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Events delivers artifact writes. Closed after Stop.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors delivers watcher errors. Closed after Stop.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Start begins delivering events.
func (w *Watcher) Start() {
	w.startOnce.Do(func() { go w.loop() })
}

// Stop ends the watch and closes both channels. Safe to call more than once.
func (w *Watcher) Stop() {
	w.startOnce.Do(func() {
		close(w.events)
		close(w.errs)
		close(w.done)
	})
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
	<-w.done
}

func (w *Watcher) loop() {
	defer close(w.done)
	defer close(w.events)
	defer close(w.errs)

	timer := time.NewTimer(0)
	<-timer.C
	pending := make(map[string]time.Time)

	for {
		select {
		case <-w.stopCh:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if _, _, known := KindForFile(filepath.Base(ev.Name)); !known {
				continue
			}
			pending[ev.Name] = time.Now()
			timer.Reset(debounceInterval)

		case <-timer.C:
			names := make([]string, 0, len(pending))
			for name := range pending {
				names = append(names, name)
			}
			sort.Slice(names, func(i, j int) bool { return pending[names[i]].Before(pending[names[j]]) })
			for _, name := range names {
				kind, turn, _ := KindForFile(filepath.Base(name))
				select {
				case w.events <- Event{Kind: kind, Turn: turn, Path: name, At: pending[name]}:
				case <-w.stopCh:
					return
				}
			}
			pending = make(map[string]time.Time)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}
