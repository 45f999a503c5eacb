package browser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/marksync/marksync/internal/bookmarks"
	"github.com/marksync/marksync/internal/diff"
)

// FileStore implements Browser over a single JSON export file holding
// the whole tree. The file's directory is watched with fsnotify (the
// file itself disappears briefly during editor rename-replace saves),
// and every external write surfaces as an Event.
//
// Writes the store performs itself are remembered by content hash and
// the matching watcher events are swallowed, so applying a pull's
// change set does not echo back as a fresh local mutation.
type FileStore struct {
	path   string
	logger *log.Logger

	watcher *fsnotify.Watcher
	events  chan Event
	done    chan struct{}
	wg      sync.WaitGroup

	mu        sync.Mutex
	running   bool
	selfWrite string // hash of the last content we wrote ourselves
}

// NewFileStore creates a store for the given file path. Call Start to
// begin emitting events; GetTree and the write methods work without it.
func NewFileStore(path string, logger *log.Logger) (*FileStore, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[browser] ", log.LstdFlags)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &FileStore{
		path:    path,
		logger:  logger,
		watcher: watcher,
		events:  make(chan Event, 100),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the export file for external edits.
func (fs *FileStore) Start() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.running {
		return fmt.Errorf("file store already running")
	}

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create bookmarks directory: %w", err)
	}
	if err := fs.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	fs.running = true
	fs.wg.Add(1)
	go fs.processEvents()
	return nil
}

// Stop stops watching and closes the event stream.
func (fs *FileStore) Stop() error {
	fs.mu.Lock()
	if !fs.running {
		fs.mu.Unlock()
		return nil
	}
	fs.running = false
	fs.mu.Unlock()

	close(fs.done)
	if err := fs.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	fs.wg.Wait()
	close(fs.events)
	return nil
}

// Events implements Browser.
func (fs *FileStore) Events() <-chan Event {
	return fs.events
}

func (fs *FileStore) processEvents() {
	defer fs.wg.Done()

	for {
		select {
		case <-fs.done:
			return

		case event, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(fs.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if fs.isSelfWrite() {
				continue
			}
			select {
			case fs.events <- Event{Op: OpChange}:
			case <-fs.done:
				return
			default:
				// Debounce coalesces anyway; dropping under burst is fine.
			}

		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			fs.logger.Printf("Watcher error: %v", err)
		}
	}
}

// isSelfWrite checks whether the file currently matches the last
// content this store wrote itself.
func (fs *FileStore) isSelfWrite() bool {
	fs.mu.Lock()
	last := fs.selfWrite
	fs.mu.Unlock()
	if last == "" {
		return false
	}
	data, err := os.ReadFile(fs.path)
	if err != nil {
		return false
	}
	return hashContent(data) == last
}

// GetTree implements Browser. A missing file is an empty tree, not an
// error: a fresh profile starts from nothing.
func (fs *FileStore) GetTree(ctx context.Context) (*bookmarks.Entry, error) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return bookmarks.NewRoot(), nil
		}
		return nil, fmt.Errorf("failed to read bookmarks file: %w", err)
	}
	var root bookmarks.Entry
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse bookmarks file %s: %w", fs.path, err)
	}
	if !root.IsFolder() {
		return nil, fmt.Errorf("bookmarks file %s: top-level entry must be a folder", fs.path)
	}
	return &root, nil
}

// ApplyChanges implements Browser.
func (fs *FileStore) ApplyChanges(ctx context.Context, cs diff.ChangeSet) error {
	tree, err := fs.GetTree(ctx)
	if err != nil {
		return err
	}
	diff.Apply(tree, cs)
	return fs.write(tree)
}

// ReplaceAll implements Browser.
func (fs *FileStore) ReplaceAll(ctx context.Context, tree *bookmarks.Entry) error {
	return fs.write(tree.Clone())
}

// write persists the tree atomically via temp file rename, assigning
// stable IDs to entries that lack one.
func (fs *FileStore) write(tree *bookmarks.Entry) error {
	assignIDs(tree)
	data, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal bookmarks: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(fs.path), 0755); err != nil {
		return fmt.Errorf("failed to create bookmarks directory: %w", err)
	}

	fs.mu.Lock()
	fs.selfWrite = hashContent(data)
	fs.mu.Unlock()

	tmpPath := fs.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, fs.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// assignIDs gives every entry without a host ID a deterministic one
// derived from its identity key.
func assignIDs(tree *bookmarks.Entry) {
	for key, loc := range bookmarks.Index(tree) {
		if loc.Entry.ID == "" {
			sum := sha256.Sum256([]byte(key))
			loc.Entry.ID = "mk-" + hex.EncodeToString(sum[:6])
		}
	}
}

func hashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
