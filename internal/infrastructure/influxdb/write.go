package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	measurementLightLevel  = "caseta_light"
	measurementButtonEvent = "caseta_button"
)

// WriteLightLevel records a dimmer level reported by a hub.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Configured device ID (e.g., "kitchen")
//   - host: Hub host the report came from
//   - level: Output level 0-100
func (c *Client) WriteLightLevel(deviceID, host string, level float64) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(lightLevelPoint(deviceID, host, level, time.Now()))
}

// WriteButtonEvent records a Pico button press or release.
//
// Parameters:
//   - deviceID: Configured Pico ID
//   - host: Hub host the report came from
//   - button: Button name ("on", "up", "favorite", "down", "off")
//   - pressed: true for a press, false for a release
func (c *Client) WriteButtonEvent(deviceID, host, button string, pressed bool) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(buttonEventPoint(deviceID, host, button, pressed, time.Now()))
}

func lightLevelPoint(deviceID, host string, level float64, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementLightLevel,
		map[string]string{
			"device_id": deviceID,
			"hub":       host,
		},
		map[string]interface{}{
			"level": level,
			"on":    level > 0,
		},
		ts,
	)
}

func buttonEventPoint(deviceID, host, button string, pressed bool, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementButtonEvent,
		map[string]string{
			"device_id": deviceID,
			"hub":       host,
			"button":    button,
		},
		map[string]interface{}{
			"pressed": pressed,
		},
		ts,
	)
}
