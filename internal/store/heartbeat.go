package store

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/codescope-dev/codescope/internal/apperror"
)

// Monitor probes store liveness on a fixed interval and rebuilds clients
// on failure. Operations consult Err before touching the store; red
// longer than the grace window surfaces ErrStoreUnavailable.
type Monitor struct {
	store    *Store
	interval time.Duration
	grace    time.Duration

	mu       sync.Mutex
	redSince time.Time
}

// NewMonitor creates a heartbeat monitor. Run must be called to start it.
func NewMonitor(s *Store, interval, grace time.Duration) *Monitor {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if grace <= 0 {
		grace = 3 * interval
	}
	return &Monitor{store: s, interval: interval, grace: grace}
}

// Run probes until ctx is cancelled. It never panics its host goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("store heartbeat: probe panicked: %v", r)
		}
	}()

	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	if err := m.store.Ping(probeCtx); err != nil {
		m.mu.Lock()
		if m.redSince.IsZero() {
			m.redSince = time.Now()
		}
		m.mu.Unlock()

		log.Printf("store heartbeat: probe failed: %v", err)
		if err := m.store.Reconnect(); err != nil {
			log.Printf("store heartbeat: reconnect failed: %v", err)
		}
		return
	}

	m.mu.Lock()
	m.redSince = time.Time{}
	m.mu.Unlock()
}

// Healthy reports whether the last probe succeeded or the red window is
// still within grace.
func (m *Monitor) Healthy() bool {
	return m.Err() == nil
}

// Err returns ErrStoreUnavailable when the heartbeat has been red longer
// than the grace window.
func (m *Monitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redSince.IsZero() {
		return nil
	}
	if time.Since(m.redSince) > m.grace {
		return apperror.ErrStoreUnavailable
	}
	return nil
}
