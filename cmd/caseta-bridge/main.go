// Caseta Bridge - Lutron Caseta hubs on the Gray Logic MQTT bus
//
// This is the main entry point for the Caseta bridge. It logs in to one or
// more Caseta Smart Bridge Pro hubs over the telnet integration protocol,
// publishes light levels and Pico button events to MQTT, and executes
// commands received from Gray Logic Core.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-caseta/migrations"

	"github.com/nerrad567/gray-logic-caseta/internal/bridges/caseta"
	"github.com/nerrad567/gray-logic-caseta/internal/history"
	"github.com/nerrad567/gray-logic-caseta/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-caseta/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-caseta/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-caseta/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-caseta/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// historyPruneInterval is how often expired state history is removed.
	historyPruneInterval = time.Hour
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Caseta bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	casetaCfg, err := caseta.LoadConfig(cfg.Caseta.ConfigFile)
	if err != nil {
		return fmt.Errorf("loading Caseta config: %w", err)
	}
	devices, err := casetaCfg.BuildDeviceSet()
	if err != nil {
		return fmt.Errorf("building device set: %w", err)
	}
	log.Info("Caseta config loaded",
		"path", cfg.Caseta.ConfigFile,
		"hubs", len(casetaCfg.Hubs),
		"devices", devices.Len(),
	)

	// State history (optional)
	var db *database.DB
	var store caseta.HistoryStore
	if cfg.Database.HistoryEnabled {
		var applied int
		db, applied, err = openDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database ready", "path", db.Path(), "migrations_applied", applied)

		sqliteStore := history.NewSQLiteStore(db)
		store = sqliteStore

		pruner := history.NewPruner(sqliteStore, cfg.GetHistoryRetention(), historyPruneInterval)
		pruner.SetLogger(log.With("component", "history"))
		pruner.Start(ctx)
		defer pruner.Stop()
	} else {
		log.Info("state history disabled")
	}

	// Telemetry (optional)
	var influxClient *influxdb.Client
	var telemetry caseta.TelemetryWriter
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT with the bridge's offline health message as the will
	will, err := healthWill(casetaCfg.Bridge.ID)
	if err != nil {
		return err
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, will)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.With("component", "mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	casetaLog := log.With("component", "caseta")
	manager := caseta.NewManager(casetaCfg.ManagerOptions(casetaLog))
	defer func() {
		log.Info("closing hub connections")
		manager.Close()
	}()

	translator, err := caseta.NewTranslator(caseta.TranslatorOptions{
		Config:    casetaCfg,
		MQTT:      &mqttAdapter{client: mqttClient},
		Manager:   manager,
		Devices:   devices,
		History:   store,
		Telemetry: telemetry,
		Version:   version,
		Logger:    casetaLog,
	})
	if err != nil {
		return fmt.Errorf("creating translator: %w", err)
	}

	// The retained will may have replaced our health message while we were away.
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		if pubErr := translator.Health().PublishNow(); pubErr != nil {
			log.Warn("failed to republish health", "error", pubErr)
		}
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	if err := translator.Start(ctx); err != nil {
		return fmt.Errorf("starting translator: %w", err)
	}
	defer translator.Stop()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	// Deferred calls run in reverse order:
	// translator, hubs, MQTT, InfluxDB, history pruner, database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openDatabase opens the history database and applies pending migrations,
// returning how many were applied.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, int, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("opening database: %w", err)
	}

	applied, err := db.Migrate(ctx)
	if err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, 0, fmt.Errorf("running migrations: %w", err)
	}
	return db, applied, nil
}

// healthWill builds the retained offline message the broker publishes on
// the health topic if the bridge drops off without a clean disconnect.
func healthWill(bridgeID string) (mqtt.Will, error) {
	payload, err := json.Marshal(caseta.NewLWTMessage(bridgeID))
	if err != nil {
		return mqtt.Will{}, fmt.Errorf("building LWT: %w", err)
	}
	return mqtt.Will{
		Topic:    caseta.HealthTopic(),
		Payload:  payload,
		QoS:      1,
		Retained: true,
	}, nil
}

// healthCheck verifies the infrastructure connections are healthy.
// Hub connectivity is reported by the health topic, not checked here.
//
// Parameters:
//   - db: History database (nil if history is disabled)
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client (nil if disabled)
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// mqttAdapter adapts the infrastructure MQTT client to caseta.MQTTClient.
// The infrastructure client's handlers return an error; the translator's
// handlers do not.
type mqttAdapter struct {
	client *mqtt.Client
}

// Publish implements caseta.MQTTClient.
func (a *mqttAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements caseta.MQTTClient.
func (a *mqttAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// Unsubscribe implements caseta.MQTTClient.
func (a *mqttAdapter) Unsubscribe(topic string) error {
	return a.client.Unsubscribe(topic)
}

// IsConnected implements caseta.MQTTClient.
func (a *mqttAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
