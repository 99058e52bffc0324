package caseta

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
)

func TestManagerGetSameHost(t *testing.T) {
	m := NewManager(ManagerOptions{})
	defer m.Close()

	a := m.Get("192.168.1.20")
	b := m.Get("192.168.1.20")
	if a != b {
		t.Error("Get() returned different bridges for the same host")
	}

	c := m.Get("192.168.1.21")
	if a == c {
		t.Error("Get() returned the same bridge for different hosts")
	}

	if got := m.Hosts(); !slices.Equal(got, []string{"192.168.1.20", "192.168.1.21"}) {
		t.Errorf("Hosts() = %v", got)
	}
}

func TestManagerGetConcurrent(t *testing.T) {
	m := NewManager(ManagerOptions{})
	defer m.Close()

	const workers = 32
	results := make([]*Bridge, workers)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = m.Get("hub.local")
		}()
	}
	wg.Wait()

	for i, b := range results {
		if b != results[0] {
			t.Fatalf("worker %d got a different bridge", i)
		}
	}
	if len(m.Hosts()) != 1 {
		t.Errorf("Hosts() = %v, want one host", m.Hosts())
	}
}

func TestManagerAppliesHubSettings(t *testing.T) {
	m := NewManager(ManagerOptions{
		Hubs: map[string]SessionConfig{
			"hub-a": {Port: 2323, Username: "admin", Password: "secret"},
		},
	})
	defer m.Close()

	a := m.Get("hub-a")
	if a.opts.Session.Port != 2323 || a.opts.Session.Username != "admin" {
		t.Errorf("hub-a session = %+v, want configured settings", a.opts.Session)
	}
	if a.Host() != "hub-a" {
		t.Errorf("Host() = %q, want hub-a", a.Host())
	}

	b := m.Get("hub-b")
	if b.opts.Session.Port != DefaultPort || b.opts.Session.Username != DefaultUsername {
		t.Errorf("hub-b session = %+v, want defaults", b.opts.Session)
	}
}

func TestManagerOpen(t *testing.T) {
	hub := NewMockHub(t)
	defer hub.Close()

	cfg := hub.SessionConfig(t)
	m := NewManager(ManagerOptions{Hubs: map[string]SessionConfig{
		cfg.Host:   cfg,
		"idle-hub": {Port: 1},
	}})
	defer m.Close()

	if err := m.Open(context.Background(), cfg.Host); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if !m.Get(cfg.Host).IsConnected() {
		t.Error("bridge not connected after Open")
	}
	if hub.Logins() != 1 {
		t.Errorf("Logins() = %d, want 1", hub.Logins())
	}

	// Configured hubs that were not asked for get no bridge.
	if got := m.Hosts(); !slices.Equal(got, []string{cfg.Host}) {
		t.Errorf("Hosts() = %v, want only %s", got, cfg.Host)
	}
}

func TestManagerOpenFailure(t *testing.T) {
	fc := newFakeConnector()
	fc.openErr = ErrConnectionFailed

	m := NewManager(ManagerOptions{
		Hubs:       map[string]SessionConfig{"hub-a": {}},
		NewSession: func(SessionConfig) Connector { return fc },
	})
	defer m.Close()

	if err := m.Open(context.Background(), "hub-a"); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Open() = %v, want ErrConnectionFailed", err)
	}
}

func TestManagerOpenNoHosts(t *testing.T) {
	m := NewManager(ManagerOptions{Hubs: map[string]SessionConfig{"hub-a": {}}})
	defer m.Close()

	if err := m.Open(context.Background()); err != nil {
		t.Errorf("Open() with no hosts = %v, want nil", err)
	}
	if len(m.Hosts()) != 0 {
		t.Errorf("Hosts() = %v, want empty", m.Hosts())
	}
}

func TestManagerClose(t *testing.T) {
	m := NewManager(ManagerOptions{})

	old := m.Get("hub")
	m.Close()

	if old.State() != BridgeStopped {
		t.Errorf("State() after Close = %v, want stopped", old.State())
	}
	if len(m.Hosts()) != 0 {
		t.Errorf("Hosts() after Close = %v, want empty", m.Hosts())
	}
	if m.Get("hub") == old {
		t.Error("Get() after Close returned the stopped bridge")
	}
}

func TestManagerStats(t *testing.T) {
	m := NewManager(ManagerOptions{})
	defer m.Close()

	m.Get("hub-b")
	m.Get("hub-a").SubscribeFunc(func(context.Context, Frame) error { return nil })

	stats := m.Stats()
	if len(stats) != 2 || stats[0].Host != "hub-a" || stats[1].Host != "hub-b" {
		t.Fatalf("Stats() = %+v", stats)
	}
	if stats[0].Subscriptions != 1 || stats[0].State != "idle" {
		t.Errorf("hub-a stats = %+v", stats[0])
	}
}
