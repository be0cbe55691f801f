package session

import (
	"log"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/codescope-dev/codescope/internal/scanner"
)

// maxWatchDirs caps how many directories one repo watcher registers.
const maxWatchDirs = 256

// RepoState is the shared per-repository cache: the latest manifest, when
// it was scanned, and a staleness flag flipped by the filesystem watcher.
// Indexing mutates it under mu; retrieval reads without coordination and
// tolerates slightly stale data.
type RepoState struct {
	RepoPath string

	mu       sync.Mutex
	manifest scanner.Manifest
	lastScan time.Time

	stale   atomic.Bool
	watcher *fsnotify.Watcher
}

func newRepoState(repoPath string) *RepoState {
	return &RepoState{RepoPath: repoPath}
}

// Manifest returns the cached manifest and whether the watcher has seen
// changes since it was built. A nil manifest means the repo was never
// indexed this session.
func (r *RepoState) Manifest() (scanner.Manifest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.manifest, r.stale.Load()
}

// SetManifest installs a fresh manifest and rearms the watcher.
func (r *RepoState) SetManifest(m scanner.Manifest) {
	r.mu.Lock()
	r.manifest = m
	r.lastScan = time.Now()
	r.mu.Unlock()
	r.stale.Store(false)
	r.watch(m)
}

// LastScan reports when the manifest was last rebuilt.
func (r *RepoState) LastScan() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastScan
}

// watch points the fsnotify watcher at the directories holding manifest
// files. Any event marks the manifest stale; the next retrieval that may
// chunk tops it up.
func (r *RepoState) watch(m scanner.Manifest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.watcher == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			log.Printf("[%s] file watcher unavailable: %v", filepath.Base(r.RepoPath), err)
			return
		}
		r.watcher = w
		go r.watchLoop(w)
	}

	dirs := map[string]bool{r.RepoPath: true}
	for p := range m {
		if len(dirs) >= maxWatchDirs {
			break
		}
		dirs[filepath.Join(r.RepoPath, filepath.Dir(filepath.FromSlash(p)))] = true
	}
	for d := range dirs {
		// Re-adding an already watched dir is a no-op.
		if err := r.watcher.Add(d); err != nil {
			log.Printf("[%s] failed to watch %s: %v", filepath.Base(r.RepoPath), d, err)
		}
	}
}

func (r *RepoState) watchLoop(w *fsnotify.Watcher) {
	for {
		select {
		case _, ok := <-w.Events:
			if !ok {
				return
			}
			r.stale.Store(true)
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher.
func (r *RepoState) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher != nil {
		_ = r.watcher.Close()
		r.watcher = nil
	}
}
