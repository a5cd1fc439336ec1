package bifrost

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// watchQuiet coalesces bursts of filesystem events (a single SQLite commit
// touches the db, -wal and -shm files) into one change notification.
const watchQuiet = 500 * time.Millisecond

// FileNotifier implements Notifier for file-backed stores: it watches the
// store file for writes from other processes. Foreground regain has no
// portable filesystem source, so hosts bridge their own UI signal by
// calling Foreground.
type FileNotifier struct {
	watcher *fsnotify.Watcher
	base    string
	log     zerolog.Logger
	stop    chan struct{}

	mu           sync.Mutex
	onChange     []func()
	onForeground []func()
}

// NewFileNotifier watches the credential store file at path, typically the
// same path handed to store.NewSQLite. The containing directory is watched
// because SQLite's journaling creates and replaces sibling files.
func NewFileNotifier(path string, logger *zerolog.Logger) (*FileNotifier, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("bifrost: failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("bifrost: failed to watch %s: %w", path, err)
	}

	log := zerolog.Nop()
	if logger != nil {
		log = *logger
	}

	n := &FileNotifier{
		watcher: watcher,
		base:    filepath.Base(path),
		log:     log,
		stop:    make(chan struct{}),
	}
	go n.loop()
	return n, nil
}

// OnExternalChange registers a callback fired after the store file
// changes on disk.
func (n *FileNotifier) OnExternalChange(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onChange = append(n.onChange, fn)
}

// OnForeground registers a callback fired by Foreground.
func (n *FileNotifier) OnForeground(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onForeground = append(n.onForeground, fn)
}

// Foreground signals that the application regained the foreground. Hosts
// call this from whatever windowing or lifecycle hook they own.
func (n *FileNotifier) Foreground() {
	n.mu.Lock()
	callbacks := append([]func(){}, n.onForeground...)
	n.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// Close stops the watcher goroutine.
func (n *FileNotifier) Close() error {
	close(n.stop)
	return n.watcher.Close()
}

func (n *FileNotifier) loop() {
	timer := time.NewTimer(watchQuiet)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case <-n.stop:
			timer.Stop()
			return

		case ev, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			// SQLite sidecar files share the database's name prefix.
			if !strings.HasPrefix(filepath.Base(ev.Name), n.base) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if armed && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(watchQuiet)
			armed = true

		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			n.log.Warn().Err(err).Msg("credential store watcher error")

		case <-timer.C:
			armed = false
			n.fireChange()
		}
	}
}

func (n *FileNotifier) fireChange() {
	n.mu.Lock()
	callbacks := append([]func(){}, n.onChange...)
	n.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}
