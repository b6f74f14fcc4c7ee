// Package status defines the canonical provider status, the normalizer that
// maps provider payloads onto it, and the append-only status history.
package status

import (
	"strings"
	"time"
)

// Status is the canonical health of a provider.
type Status string

// Canonical statuses.
const (
	Operational Status = "operational"
	Degraded    Status = "degraded"
	Down        Status = "down"
	Unknown     Status = "unknown"
)

// IsKnown reports whether s is operational, degraded or down.
func (s Status) IsKnown() bool {
	switch s {
	case Operational, Degraded, Down:
		return true
	}
	return false
}

// Rank orders known statuses by severity: operational 0, degraded 1, down 2.
// Unknown ranks -1.
func (s Status) Rank() int {
	switch s {
	case Operational:
		return 0
	case Degraded:
		return 1
	case Down:
		return 2
	}
	return -1
}

// ParseStatus maps any status vocabulary onto the canonical enum.
// Provider-side names are folded as follows:
//
//	operational                                   -> operational
//	degraded, degraded_performance, partial_outage -> degraded
//	maintenance, under_maintenance                 -> degraded
//	down, major_outage                             -> down
//	anything else                                  -> unknown
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "operational":
		return Operational
	case "degraded", "degraded_performance", "partial_outage", "maintenance", "under_maintenance":
		return Degraded
	case "down", "major_outage":
		return Down
	default:
		return Unknown
	}
}

// Result is one probe outcome. Results are never mutated after creation.
type Result struct {
	ProviderID     string    `json:"providerId"`
	ProviderName   string    `json:"providerName"`
	Status         Status    `json:"status"`
	ResponseTimeMs int64     `json:"responseTime"`
	CheckedAt      time.Time `json:"checkedAt"`
	Error          string    `json:"error,omitempty"`
}
