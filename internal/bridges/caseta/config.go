package caseta

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the Caseta bridge.
// Loaded from YAML with environment variable overrides.
type Config struct {
	Bridge BridgeConfig  `yaml:"bridge"`
	Hubs   []HubConfig   `yaml:"hubs"`
	Lights []LightConfig `yaml:"lights"`
	Picos  []PicoConfig  `yaml:"picos"`
}

// BridgeConfig contains bridge identity and operational settings.
type BridgeConfig struct {
	// ID uniquely identifies this bridge instance in health reporting.
	ID string `yaml:"id"`

	// HealthInterval is how often to publish health status (seconds).
	// Default: 30 seconds.
	HealthInterval int `yaml:"health_interval"`

	// ReconnectInterval is the initial delay before re-opening a lost hub
	// session (seconds). Default: 5 seconds.
	ReconnectInterval int `yaml:"reconnect_interval"`

	// MaxReconnectInterval caps the reconnect backoff (seconds).
	// Default: 120 seconds.
	MaxReconnectInterval int `yaml:"max_reconnect_interval"`

	// RefreshOnConnect queries a hub's lights each time it connects or reconnects.
	// Default: true.
	RefreshOnConnect bool `yaml:"refresh_on_connect"`
}

// HubConfig describes one Smart Bridge Pro.
type HubConfig struct {
	// Host is the hub's hostname or IP address.
	Host string `yaml:"host"`

	// Port is the telnet integration port. Default: 23.
	Port int `yaml:"port"`

	// Username is the integration login. Default: "lutron".
	Username string `yaml:"username"`

	// Password is the integration password. Default: "integration".
	// WARNING: Never log this value. Use String() method for safe logging.
	Password string `yaml:"password"`

	// ConnectTimeout bounds dial plus login (seconds). Default: 10.
	ConnectTimeout int `yaml:"connect_timeout"`

	// WriteTimeout bounds each command write (seconds). Default: 5.
	WriteTimeout int `yaml:"write_timeout"`
}

// String returns a string representation with password masked.
func (h HubConfig) String() string {
	password := ""
	if h.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("HubConfig{Host:%q, Port:%d, Username:%q, Password:%s}",
		h.Host, h.Port, h.Username, password)
}

// MarshalJSON implements json.Marshaler to redact password in JSON output.
func (h HubConfig) MarshalJSON() ([]byte, error) {
	type redacted HubConfig
	safe := redacted(h)
	if safe.Password != "" {
		safe.Password = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// SessionConfig converts hub settings to session settings.
func (h HubConfig) SessionConfig() SessionConfig {
	return SessionConfig{
		Host:           h.Host,
		Port:           h.Port,
		Username:       h.Username,
		Password:       h.Password,
		ConnectTimeout: time.Duration(h.ConnectTimeout) * time.Second,
		WriteTimeout:   time.Duration(h.WriteTimeout) * time.Second,
	}.withDefaults()
}

// LightConfig maps a Gray Logic light to a hub OUTPUT integration ID.
type LightConfig struct {
	// ID is the Gray Logic device identifier.
	ID string `yaml:"id"`

	// Name is the display name.
	Name string `yaml:"name"`

	// Integration is the hub's integration ID for the output.
	Integration int `yaml:"integration"`

	// Hub is the host of the hub the light is paired with.
	// May be omitted when exactly one hub is configured.
	Hub string `yaml:"hub"`
}

// PicoConfig maps a Gray Logic remote to a hub DEVICE integration ID.
type PicoConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Integration int    `yaml:"integration"`
	Hub         string `yaml:"hub"`
}

// LoadConfig reads configuration from a YAML file.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CASETA_BRIDGE_SECTION_KEY
// For example: CASETA_BRIDGE_ID, CASETA_BRIDGE_HUB_HOST
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:                   "caseta-bridge-01",
			HealthInterval:       30,
			ReconnectInterval:    5,
			MaxReconnectInterval: 120,
			RefreshOnConnect:     true,
		},
		Hubs:   []HubConfig{},
		Lights: []LightConfig{},
		Picos:  []PicoConfig{},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// The CASETA_BRIDGE_HUB_* variables apply to the first hub, creating it if
// none is configured.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CASETA_BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}

	hubVars := []string{
		"CASETA_BRIDGE_HUB_HOST",
		"CASETA_BRIDGE_HUB_PORT",
		"CASETA_BRIDGE_HUB_USERNAME",
		"CASETA_BRIDGE_HUB_PASSWORD",
	}
	set := false
	for _, k := range hubVars {
		if os.Getenv(k) != "" {
			set = true
		}
	}
	if !set {
		return
	}
	if len(cfg.Hubs) == 0 {
		cfg.Hubs = append(cfg.Hubs, HubConfig{})
	}

	hub := &cfg.Hubs[0]
	if v := os.Getenv("CASETA_BRIDGE_HUB_HOST"); v != "" {
		hub.Host = v
	}
	if v := os.Getenv("CASETA_BRIDGE_HUB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			hub.Port = port
		}
	}
	if v := os.Getenv("CASETA_BRIDGE_HUB_USERNAME"); v != "" {
		hub.Username = v
	}
	if v := os.Getenv("CASETA_BRIDGE_HUB_PASSWORD"); v != "" {
		hub.Password = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.validateBridge()...)
	errs = append(errs, c.validateHubs()...)
	errs = append(errs, c.validateDevices()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateBridge validates bridge settings.
func (c *Config) validateBridge() []string {
	var errs []string
	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1 second")
	}
	if c.Bridge.ReconnectInterval < 1 {
		errs = append(errs, "bridge.reconnect_interval must be at least 1 second")
	}
	if c.Bridge.MaxReconnectInterval < c.Bridge.ReconnectInterval {
		errs = append(errs, "bridge.max_reconnect_interval must not be less than reconnect_interval")
	}
	return errs
}

// validateHubs validates hub connection settings.
func (c *Config) validateHubs() []string {
	var errs []string
	if len(c.Hubs) == 0 {
		errs = append(errs, "at least one hub is required")
	}

	hosts := make(map[string]bool)
	for i, h := range c.Hubs {
		if h.Host == "" {
			errs = append(errs, fmt.Sprintf("hubs[%d].host is required", i))
			continue
		}
		if hosts[h.Host] {
			errs = append(errs, fmt.Sprintf("hubs[%d].host %q is duplicate", i, h.Host))
		}
		hosts[h.Host] = true

		if h.Port < 0 || h.Port > 65535 {
			errs = append(errs, fmt.Sprintf("hubs[%d].port %d is out of range", i, h.Port))
		}
		if h.ConnectTimeout < 0 || h.WriteTimeout < 0 {
			errs = append(errs, fmt.Sprintf("hubs[%d] timeouts must not be negative", i))
		}
	}
	return errs
}

// validateDevices validates light and Pico mappings.
func (c *Config) validateDevices() []string {
	var errs []string
	ids := make(map[string]bool)

	check := func(section string, i int, id string, integration int, hub string) {
		if id == "" {
			errs = append(errs, fmt.Sprintf("%s[%d].id is required", section, i))
		} else if ids[id] {
			errs = append(errs, fmt.Sprintf("%s[%d].id %q is duplicate", section, i, id))
		}
		ids[id] = true

		if integration < 1 {
			errs = append(errs, fmt.Sprintf("%s[%d].integration must be positive", section, i))
		}
		if _, err := c.HubHost(hub); err != nil {
			errs = append(errs, fmt.Sprintf("%s[%d].hub: %v", section, i, err))
		}
	}

	for i, l := range c.Lights {
		check("lights", i, l.ID, l.Integration, l.Hub)
	}
	for i, p := range c.Picos {
		check("picos", i, p.ID, p.Integration, p.Hub)
	}
	return errs
}

// HubHost resolves a device's hub reference to a configured host.
// An empty reference resolves to the only hub when exactly one is configured.
func (c *Config) HubHost(ref string) (string, error) {
	if ref == "" {
		if len(c.Hubs) == 1 {
			return c.Hubs[0].Host, nil
		}
		return "", fmt.Errorf("hub must be set when %d hubs are configured", len(c.Hubs))
	}
	for _, h := range c.Hubs {
		if h.Host == ref {
			return ref, nil
		}
	}
	return "", fmt.Errorf("hub %q is not configured", ref)
}

// ManagerOptions builds connection manager options from the hub settings.
func (c *Config) ManagerOptions(logger Logger) ManagerOptions {
	hubs := make(map[string]SessionConfig, len(c.Hubs))
	for _, h := range c.Hubs {
		hubs[h.Host] = h.SessionConfig()
	}
	return ManagerOptions{
		Hubs:                 hubs,
		ReconnectInterval:    time.Duration(c.Bridge.ReconnectInterval) * time.Second,
		MaxReconnectInterval: time.Duration(c.Bridge.MaxReconnectInterval) * time.Second,
		Logger:               logger,
	}
}

// BuildDeviceSet creates the device index described by the configuration.
func (c *Config) BuildDeviceSet() (*DeviceSet, error) {
	set := NewDeviceSet()
	for _, l := range c.Lights {
		host, err := c.HubHost(l.Hub)
		if err != nil {
			return nil, fmt.Errorf("light %s: %w", l.ID, err)
		}
		if err := set.AddLight(host, NewLight(l.ID, l.Name, l.Integration)); err != nil {
			return nil, err
		}
	}
	for _, p := range c.Picos {
		host, err := c.HubHost(p.Hub)
		if err != nil {
			return nil, fmt.Errorf("pico %s: %w", p.ID, err)
		}
		if err := set.AddPico(host, NewPicoRemote(p.ID, p.Name, p.Integration)); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// GetHealthInterval returns the health reporting interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}
