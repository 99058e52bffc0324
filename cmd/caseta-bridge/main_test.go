package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-caseta/internal/bridges/caseta"
)

// writeFile writes content under dir and returns the path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// writeServiceConfig writes a service config pointing at casetaPath and
// sets GRAYLOGIC_CONFIG for the duration of the test.
func writeServiceConfig(t *testing.T, dir, casetaPath string, mqttPort int) {
	t.Helper()
	content := `
site:
  id: test-site
database:
  path: "` + filepath.Join(dir, "history.db") + `"
  history_enabled: true
mqtt:
  broker:
    host: "127.0.0.1"
    port: ` + strconv.Itoa(mqttPort) + `
    client_id: "caseta-main-test"
  reconnect:
    initial_delay: 1
    max_delay: 5
logging:
  level: error
  format: text
  output: stderr
caseta:
  config_file: "` + casetaPath + `"
`
	t.Setenv("GRAYLOGIC_CONFIG", writeFile(t, dir, "config.yaml", content))
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Fatalf("run() error = %v, want loading config error", err)
	}
}

func TestRun_MissingCasetaConfig(t *testing.T) {
	dir := t.TempDir()
	writeServiceConfig(t, dir, filepath.Join(dir, "missing.yaml"), 1883)

	err := run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "loading Caseta config") {
		t.Fatalf("run() error = %v, want Caseta config error", err)
	}
}

func TestRun_UnknownHubReference(t *testing.T) {
	dir := t.TempDir()
	casetaPath := writeFile(t, dir, "caseta.yaml", `
hubs:
  - host: 192.168.1.50
lights:
  - id: kitchen
    integration: 2
    hub: 192.168.1.99
`)
	writeServiceConfig(t, dir, casetaPath, 1883)

	err := run(context.Background())
	if err == nil {
		t.Fatal("run() should fail when a light names an unconfigured hub")
	}
}

func TestRun_BrokerUnavailable(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the MQTT connect timeout")
	}

	dir := t.TempDir()
	casetaPath := writeFile(t, dir, "caseta.yaml", `
hubs:
  - host: 127.0.0.1
    port: 19998
lights:
  - id: kitchen
    integration: 2
`)
	writeServiceConfig(t, dir, casetaPath, 19999)

	err := run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "connecting to MQTT") {
		t.Fatalf("run() error = %v, want MQTT connection error", err)
	}

	// History was opened and migrated before MQTT failed.
	if _, statErr := os.Stat(filepath.Join(dir, "history.db")); statErr != nil {
		t.Errorf("history database not created: %v", statErr)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")
	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}

	t.Setenv("GRAYLOGIC_CONFIG", "/custom/path/config.yaml")
	if path := getConfigPath(); path != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q, want override", path)
	}
}

func TestHealthWill(t *testing.T) {
	will, err := healthWill("caseta-01")
	if err != nil {
		t.Fatalf("healthWill() error = %v", err)
	}
	if will.Topic != caseta.HealthTopic() || will.QoS != 1 || !will.Retained {
		t.Errorf("will = %+v", will)
	}

	var msg caseta.HealthMessage
	if err := json.Unmarshal(will.Payload, &msg); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if msg.Bridge != "caseta-01" || msg.Status != caseta.HealthOffline {
		t.Errorf("will payload = %+v", msg)
	}
}
