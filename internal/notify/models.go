// Package notify queues and delivers subscriber notifications.
//
// Notifications are rendered when they are enqueued and stored as pending
// documents. Drain delivers a bounded batch per call with bounded
// concurrency and records the outcome of every item after all sends have
// settled. A notification is retried on later drains until it has failed
// MaxAttempts times; sent and failed notifications are never rewritten.
package notify

import (
	"errors"
	"time"

	"github.com/aistatus/aistatus/internal/incident"
	"github.com/aistatus/aistatus/internal/status"
)

// Queue defaults.
const (
	DefaultMaxAttempts = 3
	DefaultBatchSize   = 50
	DefaultSendTimeout = 10 * time.Second
)

// Dispatcher errors.
var (
	ErrDrainInProgress = errors.New("drain already in progress")
	ErrNoSender        = errors.New("no sender for channel")
	ErrMissingAddress  = errors.New("missing recipient address")
	ErrEmptyContent    = errors.New("empty notification content")
)

// Channel is a delivery channel.
type Channel string

// Delivery channels.
const (
	ChannelEmail   Channel = "email"
	ChannelWebhook Channel = "webhook"
	ChannelLog     Channel = "log"
)

// Status is the delivery state of a notification.
type Status string

// Notification states.
const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Notification is one queued message to one recipient on one channel.
type Notification struct {
	ID          string        `json:"id"`
	To          string        `json:"to"`
	Channel     Channel       `json:"channel"`
	Subject     string        `json:"subject"`
	HTML        string        `json:"html"`
	Template    string        `json:"template,omitempty"`
	Data        *TemplateData `json:"data,omitempty"`
	ProviderID  string        `json:"providerId,omitempty"`
	Status      Status        `json:"status"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"maxAttempts"`
	LastError   string        `json:"lastError,omitempty"`
	SentAt      *time.Time    `json:"sentAt,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// IsTerminal reports whether the notification will never be sent again.
func (n *Notification) IsTerminal() bool {
	return n.Status == StatusSent || n.Status == StatusFailed
}

// Message is what a Sender delivers.
type Message struct {
	NotificationID string
	To             string
	Channel        Channel
	Subject        string
	HTML           string
	Data           *TemplateData
}

// Event is a provider status change to notify subscribers about.
type Event struct {
	ProviderID   string
	ProviderName string
	Previous     status.Status
	Current      status.Status
	Action       incident.Action
	Incident     *incident.Incident
	At           time.Time
}

// Notifiable reports whether subscribers hear about the event: any incident
// action, or a change between two known statuses.
func (e Event) Notifiable() bool {
	if e.Action != "" && e.Action != incident.ActionNone {
		return true
	}
	return e.Previous.IsKnown() && e.Current.IsKnown() && e.Previous != e.Current
}

// EventFromTransition converts an incident manager transition.
func EventFromTransition(t incident.Transition) Event {
	return Event{
		ProviderID:   t.ProviderID,
		ProviderName: t.ProviderName,
		Previous:     t.Previous,
		Current:      t.Current,
		Action:       t.Outcome.Action,
		Incident:     t.Outcome.Incident,
		At:           t.At,
	}
}

// EnqueueSummary counts what an enqueue call stored.
type EnqueueSummary struct {
	Queued int `json:"queued"`
	Failed int `json:"failed"`

	// Unstored counts notifications the repository failed to write.
	Unstored int `json:"unstored,omitempty"`
}

// DrainSummary counts what one drain did.
type DrainSummary struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Retrying  int `json:"retrying"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`

	// Remaining is the number of pending notifications after the drain.
	Remaining int `json:"remaining"`

	Duration    time.Duration `json:"-"`
	AvgSendTime time.Duration `json:"-"`

	// Disabled is set when sending is switched off by feature flag.
	Disabled bool `json:"disabled,omitempty"`
}

// QueueStats counts notifications by state.
type QueueStats struct {
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}
