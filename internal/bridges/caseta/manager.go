package caseta

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ManagerOptions holds configuration for creating a Manager.
type ManagerOptions struct {
	// Hubs holds per-host session settings keyed by host.
	// Hosts not listed here get protocol defaults.
	Hubs map[string]SessionConfig

	// NewSession creates sessions for every bridge. Defaults to TCP sessions.
	NewSession SessionFactory

	// ReconnectInterval and MaxReconnectInterval tune every bridge's
	// reconnect backoff. Zero means the bridge defaults.
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration

	// Logger is optional structured logger, shared by all bridges.
	Logger Logger
}

// Manager hands out exactly one Bridge per hub host.
//
// Thread Safety: All methods are safe for concurrent use.
type Manager struct {
	opts ManagerOptions

	mu      sync.Mutex
	bridges map[string]*Bridge
}

// NewManager creates an empty manager. Bridges are created on first Get.
func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		opts:    opts,
		bridges: make(map[string]*Bridge),
	}
}

// Get returns the bridge for host, creating it on first use.
// Every caller asking for the same host receives the same *Bridge.
func (m *Manager) Get(host string) *Bridge {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.bridges[host]; ok {
		return b
	}

	cfg, ok := m.opts.Hubs[host]
	if !ok {
		cfg = SessionConfig{}
	}
	cfg.Host = host

	b := NewBridge(BridgeOptions{
		Session:              cfg,
		NewSession:           m.opts.NewSession,
		ReconnectInterval:    m.opts.ReconnectInterval,
		MaxReconnectInterval: m.opts.MaxReconnectInterval,
		Logger:               m.opts.Logger,
	})
	m.bridges[host] = b
	return b
}

// Hosts returns the hosts that currently have a bridge, sorted.
func (m *Manager) Hosts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	hosts := make([]string, 0, len(m.bridges))
	for h := range m.bridges {
		hosts = append(hosts, h)
	}
	slices.Sort(hosts)
	return hosts
}

// Stats returns statistics for every bridge, ordered by host.
func (m *Manager) Stats() []BridgeStats {
	m.mu.Lock()
	bridges := make([]*Bridge, 0, len(m.bridges))
	for _, b := range m.bridges {
		bridges = append(bridges, b)
	}
	m.mu.Unlock()

	stats := make([]BridgeStats, 0, len(bridges))
	for _, b := range bridges {
		stats = append(stats, b.Stats())
	}
	slices.SortFunc(stats, func(a, b BridgeStats) int { return strings.Compare(a.Host, b.Host) })
	return stats
}

// Open opens the bridges for hosts concurrently, creating them as needed.
// The first failure cancels attempts still in progress and is returned;
// bridges that already opened stay open.
func (m *Manager) Open(ctx context.Context, hosts ...string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, host := range hosts {
		b := m.Get(host)
		g.Go(func() error {
			if err := b.Open(gctx); err != nil {
				return fmt.Errorf("hub %s: %w", host, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close stops every bridge and forgets them. A later Get creates a new bridge.
func (m *Manager) Close() {
	m.mu.Lock()
	bridges := m.bridges
	m.bridges = make(map[string]*Bridge)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, b := range bridges {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Stop()
		}()
	}
	wg.Wait()
}
