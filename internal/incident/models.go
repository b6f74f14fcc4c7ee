// Package incident tracks provider outages as incidents with an append-only
// update history, opened and resolved from status transitions.
package incident

import (
	"errors"
	"time"

	"github.com/aistatus/aistatus/internal/status"
)

// Errors returned by the incident package.
var (
	ErrIncidentNotFound = errors.New("incident not found")
	ErrAlreadyResolved  = errors.New("incident already resolved")
	ErrInvalidState     = errors.New("invalid incident state")
)

// State is the lifecycle state of an incident.
type State string

// Incident states.
const (
	StateInvestigating State = "investigating"
	StateIdentified    State = "identified"
	StateMonitoring    State = "monitoring"
	StateResolved      State = "resolved"
)

// IsValid reports whether s is a known state.
func (s State) IsValid() bool {
	switch s {
	case StateInvestigating, StateIdentified, StateMonitoring, StateResolved:
		return true
	}
	return false
}

// Severity grades an incident.
type Severity string

// Severities, lowest first.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from low (0) to critical (3).
func (s Severity) Rank() int {
	switch s {
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

// SystemAuthor authors every automated update.
const SystemAuthor = "system"

// Update is an append-only entry in an incident's history.
type Update struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Status    State     `json:"status"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
}

// Incident is a tracked period of degraded or down service for one provider.
type Incident struct {
	ID              string     `json:"id"`
	ProviderID      string     `json:"providerId"`
	ProviderName    string     `json:"providerName"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Status          State      `json:"status"`
	Severity        Severity   `json:"severity"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	DurationMinutes *int       `json:"durationMinutes,omitempty"`
	Updates         []Update   `json:"updates"`

	// LastStatus is the provider status the most recent update was written for.
	LastStatus status.Status `json:"lastStatus,omitempty"`

	// Open mirrors Status != resolved so open incidents can be queried by field.
	Open bool `json:"open"`
}

// IsOpen reports whether the incident is not resolved.
func (i *Incident) IsOpen() bool {
	return i.Status != StateResolved
}

// Action is what a transition did to a provider's incident.
type Action string

// Transition actions.
const (
	ActionNone     Action = "none"
	ActionCreated  Action = "created"
	ActionUpdated  Action = "updated"
	ActionResolved Action = "resolved"
)

// Outcome is the result of handling one status transition.
type Outcome struct {
	Action   Action
	Incident *Incident
	Update   *Update
}

// Transition is a provider status change, handed to the Notifier after the
// incident write.
type Transition struct {
	ProviderID   string
	ProviderName string
	Previous     status.Status
	Current      status.Status
	Outcome      Outcome
	At           time.Time
}

// ListOptions filters incident listings.
type ListOptions struct {
	ProviderID string
	OnlyOpen   bool
	Limit      int
}

// IsQualifying reports whether previous -> current opens (or escalates) an
// incident: operational to degraded or down, or degraded to down.
func IsQualifying(previous, current status.Status) bool {
	switch previous {
	case status.Operational:
		return current == status.Down || current == status.Degraded
	case status.Degraded:
		return current == status.Down
	}
	return false
}

// SeverityFor grades a transition.
func SeverityFor(previous, current status.Status) Severity {
	switch {
	case previous == status.Operational && current == status.Down:
		return SeverityCritical
	case previous == status.Degraded && current == status.Down:
		return SeverityHigh
	case previous == status.Operational && current == status.Degraded:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
