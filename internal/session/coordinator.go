// Package session hosts the process-wide state of the daemon: the store
// handle, per-repo shared caches, the heartbeat task, and streaming index
// jobs.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/maypok86/otter"

	"github.com/codescope-dev/codescope/internal/apperror"
	"github.com/codescope-dev/codescope/internal/config"
	"github.com/codescope-dev/codescope/internal/embedder"
	"github.com/codescope-dev/codescope/internal/scanner"
	"github.com/codescope-dev/codescope/internal/store"
)

// shutdownGrace bounds how long Shutdown waits for running jobs.
const shutdownGrace = 30 * time.Second

// Coordinator owns process-wide mutable state. One instance lives for the
// daemon's lifetime; handlers receive it by reference.
type Coordinator struct {
	cfg   *config.Config
	embed embedder.Client

	mu            sync.RWMutex
	st            *store.Store
	monitor       *store.Monitor
	monitorCancel context.CancelFunc
	recreated     bool

	repos     otter.Cache[string, *RepoState]
	repoLocks sync.Map // repoPath -> *sync.Mutex, serializes state creation

	jobsMu sync.Mutex
	jobs   map[string]*Job

	shutdownOnce sync.Once
	done         chan struct{}
}

// NewCoordinator creates a coordinator. The store opens lazily on first
// use so the daemon starts even when the data dir is briefly unavailable.
func NewCoordinator(cfg *config.Config, embed embedder.Client) (*Coordinator, error) {
	repos, err := otter.MustBuilder[string, *RepoState](256).
		DeletionListener(func(_ string, state *RepoState, _ otter.DeletionCause) {
			state.Close()
		}).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build repo cache: %w", err)
	}
	return &Coordinator{
		cfg:   cfg,
		embed: embed,
		repos: repos,
		jobs:  make(map[string]*Job),
		done:  make(chan struct{}),
	}, nil
}

// Store returns the live store handle, opening it on first use and
// starting the heartbeat. Red heartbeat past grace surfaces
// ErrStoreUnavailable.
func (c *Coordinator) Store(ctx context.Context) (*store.Store, error) {
	c.mu.RLock()
	st, monitor := c.st, c.monitor
	c.mu.RUnlock()

	if st != nil {
		if err := monitor.Err(); err != nil {
			return nil, err
		}
		return st, nil
	}
	return c.openStore(ctx)
}

// StoreRecreated reports whether the last open dropped and recreated the
// schema, meaning URL contents need a refill from upstream.
func (c *Coordinator) StoreRecreated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recreated
}

func (c *Coordinator) openStore(ctx context.Context) (*store.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st != nil {
		return c.st, nil
	}
	select {
	case <-c.done:
		return nil, apperror.ErrStoreUnavailable
	default:
	}

	st, recreated, err := store.Open(c.cfg.Store.DataDir, c.cfg.Store.SchemaVersion, c.cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if recreated {
		log.Printf("store: schema recreated, url contents need refill")
	}

	monitor := store.NewMonitor(st, c.cfg.Store.HeartbeatInterval, c.cfg.Store.HeartbeatGrace)
	hbCtx, cancel := context.WithCancel(context.Background())
	go monitor.Run(hbCtx)

	c.st = st
	c.monitor = monitor
	c.monitorCancel = cancel
	c.recreated = recreated
	return st, ctx.Err()
}

// RepoState returns the shared state for a repo path, creating it once.
func (c *Coordinator) RepoState(repoPath string) *RepoState {
	if state, ok := c.repos.Get(repoPath); ok {
		return state
	}
	lockAny, _ := c.repoLocks.LoadOrStore(repoPath, &sync.Mutex{})
	lock := lockAny.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	if state, ok := c.repos.Get(repoPath); ok {
		return state
	}
	state := newRepoState(repoPath)
	c.repos.Set(repoPath, state)
	return state
}

// EnsureManifest returns the repo's manifest for retrieval. A missing or
// stale manifest is rebuilt when performChunking permits; a missing
// manifest without that permission is ErrRepoNotIndexed. Stale reads are
// served as-is when chunking is not permitted.
func (c *Coordinator) EnsureManifest(ctx context.Context, repoPath string, performChunking bool) (scanner.Manifest, error) {
	state := c.RepoState(repoPath)
	manifest, stale := state.Manifest()

	if manifest != nil && !stale {
		return manifest, nil
	}
	if !performChunking {
		if manifest == nil {
			return nil, fmt.Errorf("%s: %w", repoPath, apperror.ErrRepoNotIndexed)
		}
		return manifest, nil
	}

	job, err := c.StartIndexJob(ctx, IndexRequest{RepoPath: repoPath})
	if err != nil {
		// A concurrent job is already topping up; serve what we have.
		if manifest != nil && errors.Is(err, apperror.ErrAlreadyIndexing) {
			return manifest, nil
		}
		return nil, err
	}
	if err := job.Wait(ctx); err != nil {
		return nil, err
	}

	manifest, _ = state.Manifest()
	if manifest == nil {
		return nil, fmt.Errorf("%s: %w", repoPath, apperror.ErrRepoNotIndexed)
	}
	return manifest, nil
}

// Shutdown tears the process down: cancel the heartbeat, wait for jobs
// within the grace window, close the store, and drop repo watchers.
// Idempotent.
func (c *Coordinator) Shutdown() {
	c.shutdownOnce.Do(func() {
		close(c.done)

		c.jobsMu.Lock()
		jobs := make([]*Job, 0, len(c.jobs))
		for _, j := range c.jobs {
			j.Cancel()
			jobs = append(jobs, j)
		}
		c.jobsMu.Unlock()

		deadline := time.After(shutdownGrace)
		for _, j := range jobs {
			select {
			case <-j.Done():
			case <-deadline:
				log.Printf("shutdown: job on %s did not finish within grace", j.RepoPath)
			}
		}

		c.mu.Lock()
		if c.monitorCancel != nil {
			c.monitorCancel()
			c.monitorCancel = nil
		}
		if c.st != nil {
			if err := c.st.Close(); err != nil {
				log.Printf("shutdown: store close failed: %v", err)
			}
			c.st = nil
		}
		c.mu.Unlock()

		c.repos.Close()
	})
}

// Healthy reports store liveness for /ping. A store never opened counts
// as healthy; it opens on first use.
func (c *Coordinator) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.monitor == nil || c.monitor.Healthy()
}
