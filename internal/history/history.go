package history

import (
	"context"
	"errors"
	"time"
)

// DefaultSource is recorded when a caller passes an empty source.
const DefaultSource = "caseta"

// ErrDeviceIDRequired is returned when a call is made without a device ID.
var ErrDeviceIDRequired = errors.New("history: device id is required")

// Entry is a single recorded state change.
type Entry struct {
	ID        int64          `json:"id"`
	DeviceID  string         `json:"device_id"`
	State     map[string]any `json:"state"`
	Source    string         `json:"source"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store records and retrieves device state history.
//
// Implementations must be safe for concurrent use and store UTC timestamps.
type Store interface {
	// RecordStateChange stores a state snapshot for a device.
	RecordStateChange(ctx context.Context, deviceID string, state map[string]any, source string) error

	// GetHistory returns the newest entries for a device, newest first.
	GetHistory(ctx context.Context, deviceID string, limit int) ([]Entry, error)

	// PruneHistory deletes entries older than olderThan and returns the count removed.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}
