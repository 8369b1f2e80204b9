package watch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/radovskyb/watcher"
)

// Op is the kind of change an Event reports.
type Op uint8

const (
	Create Op = iota + 1
	Write
	Remove
)

func (o Op) String() string {
	switch o {
	case Create:
		return "create"
	case Write:
		return "write"
	case Remove:
		return "remove"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Event is a file-system change. Path is slash separated and relative to the
// watched root.
type Event struct {
	Path string
	Op   Op
}

// Source produces file-system events until it is closed.
type Source interface {
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// PollSource detects changes by rescanning directories at a fixed interval.
// It works on file systems that do not deliver native notifications, such as
// network shares and VM mounts.
type PollSource struct {
	root    string
	watcher *watcher.Watcher

	events chan Event
	errors chan error
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewPollSource watches dirs (relative to root) recursively and starts
// polling. Directories that do not exist yet are skipped.
func NewPollSource(root string, dirs []string, interval time.Duration) (*PollSource, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", interval)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}

	w := watcher.New()
	w.FilterOps(watcher.Create, watcher.Write, watcher.Remove, watcher.Rename, watcher.Move)
	for _, dir := range dirs {
		start := filepath.Join(abs, filepath.FromSlash(dir))
		if _, err := os.Stat(start); os.IsNotExist(err) {
			continue
		}
		if err := w.AddRecursive(start); err != nil {
			return nil, fmt.Errorf("watching %s: %w", start, err)
		}
	}

	s := &PollSource{
		root:    abs,
		watcher: w,
		events:  make(chan Event, 64),
		errors:  make(chan error, 1),
		done:    make(chan struct{}),
	}

	// Start only fails for an interval below a nanosecond or a second start
	go func() { _ = w.Start(interval) }()
	w.Wait()

	s.wg.Go(s.loop)
	return s, nil
}

func (s *PollSource) Events() <-chan Event { return s.events }
func (s *PollSource) Errors() <-chan error { return s.errors }

func (s *PollSource) Close() error {
	s.once.Do(func() {
		close(s.done)
		// loop keeps draining the watcher until it reports Closed
		s.watcher.Close()
		s.wg.Wait()
		close(s.events)
		close(s.errors)
	})
	return nil
}

func (s *PollSource) loop() {
	for {
		select {
		case <-s.watcher.Closed:
			return
		case err := <-s.watcher.Error:
			select {
			case s.errors <- err:
			default:
			}
		case ev := <-s.watcher.Event:
			s.handle(ev)
		}
	}
}

func (s *PollSource) handle(ev watcher.Event) {
	if ev.IsDir() {
		return
	}
	switch ev.Op {
	case watcher.Create:
		s.emit(ev.Path, Create)
	case watcher.Write:
		s.emit(ev.Path, Write)
	case watcher.Remove:
		s.emit(ev.Path, Remove)
	case watcher.Rename, watcher.Move:
		s.emit(ev.OldPath, Remove)
		s.emit(ev.Path, Create)
	}
}

func (s *PollSource) emit(path string, op Op) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return
	}
	select {
	case s.events <- Event{Path: filepath.ToSlash(rel), Op: op}:
	case <-s.done:
	}
}

// NotifySource relays native file-system notifications. Directories created
// after startup are added as they appear.
type NotifySource struct {
	root    string
	watcher *fsnotify.Watcher

	events chan Event
	errors chan error
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewNotifySource watches dirs (relative to root) recursively.
func NewNotifySource(root string, dirs []string) (*NotifySource, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	s := &NotifySource{
		root:    root,
		watcher: w,
		events:  make(chan Event, 64),
		errors:  make(chan error, 1),
		done:    make(chan struct{}),
	}

	for _, dir := range dirs {
		if err := s.addTree(filepath.Join(root, filepath.FromSlash(dir))); err != nil {
			w.Close()
			return nil, err
		}
	}

	s.wg.Go(s.loop)
	return s, nil
}

func (s *NotifySource) Events() <-chan Event { return s.events }
func (s *NotifySource) Errors() <-chan error { return s.errors }

func (s *NotifySource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.watcher.Close()
		s.wg.Wait()
		close(s.events)
		close(s.errors)
	})
	return err
}

func (s *NotifySource) addTree(dir string) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return s.watcher.Add(path)
	})
	if err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	return nil
}

func (s *NotifySource) loop() {
	for {
		select {
		case <-s.done:
			return
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			select {
			case s.errors <- err:
			default:
			}
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handle(ev)
		}
	}
}

func (s *NotifySource) handle(ev fsnotify.Event) {
	var op Op
	switch {
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := s.addTree(ev.Name); err != nil {
				select {
				case s.errors <- err:
				default:
				}
			}
			return
		}
		op = Create
	case ev.Has(fsnotify.Write):
		op = Write
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		op = Remove
	default:
		return
	}

	rel, err := filepath.Rel(s.root, ev.Name)
	if err != nil {
		return
	}
	select {
	case s.events <- Event{Path: filepath.ToSlash(rel), Op: op}:
	case <-s.done:
	}
}
