// Package influxdb provides InfluxDB connectivity for the Caseta bridge.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, telemetry writing, and health monitoring.
//
// # Purpose
//
// The bridge records two time series:
//   - caseta_light: dimmer levels, tagged by device_id and hub
//   - caseta_button: Pico press/release events, tagged by device_id, hub, and button
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteLightLevel("kitchen", "192.168.1.50", 75)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Writes are non-blocking and batch errors are delivered via SetOnError.
// Connection and health check errors are returned directly.
package influxdb
