package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Monitor probes platform reachability and reports restoration edges.
type Monitor struct {
	probe     func(ctx context.Context) error
	interval  time.Duration
	onRestore func()
	log       *slog.Logger

	checkMu sync.Mutex

	mu           sync.Mutex
	known        bool
	online       bool
	restorations int
	lastProbe    time.Time
}

// NewMonitor creates a Monitor. onRestore is called once for every
// transition to reachable, including the first successful probe.
func NewMonitor(probe func(ctx context.Context) error, interval time.Duration, onRestore func(), log *slog.Logger) *Monitor {
	return &Monitor{probe: probe, interval: interval, onRestore: onRestore, log: log}
}

// Run probes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.Check(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check probes once and reports whether this probe restored connectivity.
func (m *Monitor) Check(ctx context.Context) bool {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	err := m.probe(ctx)
	if ctx.Err() != nil {
		return false
	}

	m.mu.Lock()
	m.lastProbe = time.Now()
	restored := err == nil && !m.online
	wasOnline := m.online
	m.known = true
	m.online = err == nil
	if restored {
		m.restorations++
	}
	m.mu.Unlock()

	switch {
	case restored:
		m.log.Info("platform reachable")
		m.onRestore()
	case err != nil && wasOnline:
		m.log.Warn("platform unreachable", "error", err)
	}
	return restored
}

// MarkOffline records a failure seen outside a probe so the next
// successful probe counts as a restoration.
func (m *Monitor) MarkOffline(cause error) {
	m.mu.Lock()
	wasOnline := m.online
	m.known = true
	m.online = false
	m.mu.Unlock()
	if wasOnline {
		m.log.Warn("platform unreachable", "error", cause)
	}
}

// State reports the last observed reachability. known is false until the
// first probe or failure.
func (m *Monitor) State() (online, known bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online, m.known
}

// Restorations returns how many restoration edges have been observed.
func (m *Monitor) Restorations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restorations
}
