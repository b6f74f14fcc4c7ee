// Package worker runs the monitor's background jobs: probe sweeps,
// notification drains and housekeeping.
package worker

import (
	"time"
)

// Job types accepted from the scheduler.
const (
	JobProbeSweep        = "probe_sweep"
	JobNotificationDrain = "notification_drain"
	JobHousekeeping      = "housekeeping"
)

// Retention defaults.
const (
	DefaultHistoryRetention      = 30 * 24 * time.Hour
	DefaultNotificationRetention = 7 * 24 * time.Hour
)

// previousLookback is how many history records are searched for the last
// known status of a provider.
const previousLookback = 20

// JobMessage is a scheduler trigger message.
type JobMessage struct {
	JobType string `json:"job_type"`

	// Identity keys the drain rate limit. Defaults to the transport name.
	Identity string `json:"identity,omitempty"`
}

// HousekeepingConfig bounds how long records are kept.
type HousekeepingConfig struct {
	// HistoryRetention is the age after which status history is pruned.
	// Default: 30 days
	HistoryRetention time.Duration

	// NotificationRetention is the age after which sent and failed
	// notifications are pruned.
	// Default: 7 days
	NotificationRetention time.Duration
}

// DefaultHousekeepingConfig returns the default retention windows.
func DefaultHousekeepingConfig() HousekeepingConfig {
	return HousekeepingConfig{
		HistoryRetention:      DefaultHistoryRetention,
		NotificationRetention: DefaultNotificationRetention,
	}
}

func (c HousekeepingConfig) withDefaults() HousekeepingConfig {
	def := DefaultHousekeepingConfig()
	if c.HistoryRetention <= 0 {
		c.HistoryRetention = def.HistoryRetention
	}
	if c.NotificationRetention <= 0 {
		c.NotificationRetention = def.NotificationRetention
	}
	return c
}
