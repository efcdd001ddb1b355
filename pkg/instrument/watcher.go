package instrument

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher monitors a directory tree for .lua changes and
// re-instruments changed files through a callback.
type FileWatcher struct {
	watcher       *fsnotify.Watcher
	logger        Logger
	onChange      func(path string)
	debounceTimer *time.Timer
	debounceDur   time.Duration
	pendingFiles  map[string]bool
	mu            sync.Mutex
	done          chan struct{}
	closed        bool
}

// NewFileWatcher creates a watcher rooted at root. onChange fires once
// per changed file after the debounce window.
func NewFileWatcher(root string, logger Logger, onChange func(path string)) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	fw := &FileWatcher{
		watcher:      watcher,
		logger:       logger,
		onChange:     onChange,
		debounceDur:  500 * time.Millisecond,
		pendingFiles: make(map[string]bool),
		done:         make(chan struct{}),
	}

	if err := fw.watchRecursive(root); err != nil {
		watcher.Close()
		return nil, err
	}

	go fw.watchLoop()

	logger.Infof("File watcher started (root: %s, debounce: %s)", root, fw.debounceDur)
	return fw, nil
}

// watchRecursive adds every non-ignored directory under root
func (fw *FileWatcher) watchRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if fw.shouldIgnore(path) {
			fw.logger.Debugf("Ignoring directory: %s", path)
			return filepath.SkipDir
		}
		if err := fw.watcher.Add(path); err != nil {
			fw.logger.Warnf("Failed to watch %s: %v", path, err)
		}
		return nil
	})
}

func (fw *FileWatcher) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	switch base {
	case "node_modules", "vendor", ".git", "dist", "build":
		return true
	}
	return strings.HasPrefix(base, ".") && base != "."
}

func (fw *FileWatcher) watchLoop() {
	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".lua") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			fw.enqueue(event.Name)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warnf("Watcher error: %v", err)
		}
	}
}

// enqueue adds a file to the pending set and (re)arms the debounce timer
func (fw *FileWatcher) enqueue(path string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	fw.pendingFiles[path] = true
	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}
	fw.debounceTimer = time.AfterFunc(fw.debounceDur, fw.flush)
}

func (fw *FileWatcher) flush() {
	fw.mu.Lock()
	pending := fw.pendingFiles
	fw.pendingFiles = make(map[string]bool)
	closed := fw.closed
	fw.mu.Unlock()

	if closed {
		return
	}
	for path := range pending {
		fw.logger.Debugf("Changed: %s", path)
		fw.onChange(path)
	}
}

// Close stops the watcher
func (fw *FileWatcher) Close() error {
	fw.mu.Lock()
	if fw.closed {
		fw.mu.Unlock()
		return nil
	}
	fw.closed = true
	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}
	fw.mu.Unlock()

	close(fw.done)
	return fw.watcher.Close()
}
