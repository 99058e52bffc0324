//nolint:goconst // Test files use repeated literals for clarity
package caseta

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "caseta.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
bridge:
  id: "test-caseta-bridge"
  health_interval: 15

hubs:
  - host: "192.168.1.20"
    password: "hunter2"
    connect_timeout: 3

lights:
  - id: "light-kitchen"
    name: "Kitchen"
    integration: 2
  - id: "light-porch"
    name: "Porch"
    integration: 5
    hub: "192.168.1.20"

picos:
  - id: "pico-hall"
    name: "Hall"
    integration: 7
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Bridge.ID != "test-caseta-bridge" {
		t.Errorf("Bridge.ID = %q, want test-caseta-bridge", cfg.Bridge.ID)
	}
	if cfg.GetHealthInterval() != 15*time.Second {
		t.Errorf("GetHealthInterval() = %v, want 15s", cfg.GetHealthInterval())
	}
	// Defaults survive a partial file
	if cfg.Bridge.ReconnectInterval != 5 || !cfg.Bridge.RefreshOnConnect {
		t.Errorf("Bridge defaults lost: %+v", cfg.Bridge)
	}

	sc := cfg.Hubs[0].SessionConfig()
	if sc.Port != DefaultPort || sc.Username != DefaultUsername || sc.Password != "hunter2" {
		t.Errorf("SessionConfig() = %+v", sc)
	}
	if sc.ConnectTimeout != 3*time.Second {
		t.Errorf("ConnectTimeout = %v, want 3s", sc.ConnectTimeout)
	}

	set, err := cfg.BuildDeviceSet()
	if err != nil {
		t.Fatalf("BuildDeviceSet() error: %v", err)
	}
	if set.Len() != 3 {
		t.Errorf("device count = %d, want 3", set.Len())
	}
	if _, host, ok := set.Light("light-kitchen"); !ok || host != "192.168.1.20" {
		t.Errorf("light-kitchen host = %q, %v", host, ok)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadConfig() should fail for a missing file")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
bridge:
  id: "from-file"
`)
	t.Setenv("CASETA_BRIDGE_ID", "from-env")
	t.Setenv("CASETA_BRIDGE_HUB_HOST", "10.0.0.9")
	t.Setenv("CASETA_BRIDGE_HUB_PORT", "2323")
	t.Setenv("CASETA_BRIDGE_HUB_PASSWORD", "env-secret")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Bridge.ID != "from-env" {
		t.Errorf("Bridge.ID = %q, want from-env", cfg.Bridge.ID)
	}
	if len(cfg.Hubs) != 1 {
		t.Fatalf("Hubs = %d, want 1", len(cfg.Hubs))
	}
	if cfg.Hubs[0].Host != "10.0.0.9" || cfg.Hubs[0].Port != 2323 || cfg.Hubs[0].Password != "env-secret" {
		t.Errorf("Hubs[0] = %+v", cfg.Hubs[0])
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Hubs = []HubConfig{{Host: "hub-a"}}
		cfg.Lights = []LightConfig{{ID: "l1", Integration: 2}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no hubs", func(c *Config) { c.Hubs = nil }, "at least one hub"},
		{"empty bridge id", func(c *Config) { c.Bridge.ID = "" }, "bridge.id"},
		{"zero health interval", func(c *Config) { c.Bridge.HealthInterval = 0 }, "health_interval"},
		{"backoff cap below base", func(c *Config) { c.Bridge.MaxReconnectInterval = 1; c.Bridge.ReconnectInterval = 5 }, "max_reconnect_interval"},
		{"hub without host", func(c *Config) { c.Hubs[0].Host = "" }, "hubs[0].host"},
		{"duplicate hub", func(c *Config) { c.Hubs = append(c.Hubs, HubConfig{Host: "hub-a"}) }, "duplicate"},
		{"bad port", func(c *Config) { c.Hubs[0].Port = 70000 }, "out of range"},
		{"light without id", func(c *Config) { c.Lights[0].ID = "" }, "lights[0].id"},
		{"light bad integration", func(c *Config) { c.Lights[0].Integration = 0 }, "integration"},
		{"unknown hub", func(c *Config) { c.Lights[0].Hub = "hub-z" }, "not configured"},
		{"ambiguous hub", func(c *Config) { c.Hubs = append(c.Hubs, HubConfig{Host: "hub-b"}) }, "hub must be set"},
		{"duplicate device id", func(c *Config) { c.Picos = []PicoConfig{{ID: "l1", Integration: 9}} }, "duplicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestHubConfigRedactsPassword(t *testing.T) {
	h := HubConfig{Host: "hub", Username: "lutron", Password: "hunter2"}

	if strings.Contains(h.String(), "hunter2") {
		t.Errorf("String() leaks password: %s", h.String())
	}

	data, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("json.Marshal() error: %v", err)
	}
	if strings.Contains(string(data), "hunter2") || !strings.Contains(string(data), "[REDACTED]") {
		t.Errorf("MarshalJSON() = %s", data)
	}
}

func TestConfigManagerOptions(t *testing.T) {
	cfg := defaultConfig()
	cfg.Hubs = []HubConfig{{Host: "hub-a", Port: 2323}, {Host: "hub-b"}}

	opts := cfg.ManagerOptions(nil)
	if len(opts.Hubs) != 2 {
		t.Fatalf("Hubs = %d, want 2", len(opts.Hubs))
	}
	if opts.Hubs["hub-a"].Port != 2323 || opts.Hubs["hub-b"].Port != DefaultPort {
		t.Errorf("Hubs = %+v", opts.Hubs)
	}
	if opts.ReconnectInterval != 5*time.Second || opts.MaxReconnectInterval != 2*time.Minute {
		t.Errorf("reconnect = %v/%v", opts.ReconnectInterval, opts.MaxReconnectInterval)
	}
}
