package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aistatus/aistatus/internal/status"
)

// NotificationPruner deletes old terminal notifications. *notify.Dispatcher satisfies it.
type NotificationPruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// SubscriptionPruner deletes expired unconfirmed subscriptions.
// *subscription.Service satisfies it.
type SubscriptionPruner interface {
	PruneUnconfirmed(ctx context.Context) (int, error)
}

// HousekeeperConfig holds configuration for creating a Housekeeper.
type HousekeeperConfig struct {
	Config        HousekeepingConfig
	History       status.HistoryRepository
	Notifications NotificationPruner
	Subscriptions SubscriptionPruner
	Logger        zerolog.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Housekeeper prunes records past their retention.
type Housekeeper struct {
	config        HousekeepingConfig
	history       status.HistoryRepository
	notifications NotificationPruner
	subscriptions SubscriptionPruner
	logger        zerolog.Logger
	now           func() time.Time
}

// NewHousekeeper creates a housekeeper.
func NewHousekeeper(cfg HousekeeperConfig) *Housekeeper {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Housekeeper{
		config:        cfg.Config.withDefaults(),
		history:       cfg.History,
		notifications: cfg.Notifications,
		subscriptions: cfg.Subscriptions,
		logger:        cfg.Logger,
		now:           now,
	}
}

// HousekeepingResult reports what one run removed.
type HousekeepingResult struct {
	HistoryPruned       int           `json:"historyPruned"`
	NotificationsPruned int           `json:"notificationsPruned"`
	SubscriptionsPruned int           `json:"subscriptionsPruned"`
	Duration            time.Duration `json:"-"`
}

// Run prunes status history, terminal notifications and expired unconfirmed
// subscriptions. Every step runs even if an earlier one fails; the errors
// are joined.
func (h *Housekeeper) Run(ctx context.Context) (*HousekeepingResult, error) {
	start := h.now()
	result := &HousekeepingResult{}
	var errs []error

	if h.history != nil {
		n, err := h.history.PruneOlderThan(ctx, start.Add(-h.config.HistoryRetention))
		if err != nil {
			errs = append(errs, fmt.Errorf("pruning status history: %w", err))
		}
		result.HistoryPruned = n
	}

	if h.notifications != nil {
		n, err := h.notifications.PruneOlderThan(ctx, start.Add(-h.config.NotificationRetention))
		if err != nil {
			errs = append(errs, fmt.Errorf("pruning notifications: %w", err))
		}
		result.NotificationsPruned = n
	}

	if h.subscriptions != nil {
		n, err := h.subscriptions.PruneUnconfirmed(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("pruning subscriptions: %w", err))
		}
		result.SubscriptionsPruned = n
	}

	result.Duration = h.now().Sub(start)

	h.logger.Info().
		Int("history_pruned", result.HistoryPruned).
		Int("notifications_pruned", result.NotificationsPruned).
		Int("subscriptions_pruned", result.SubscriptionsPruned).
		Dur("duration", result.Duration).
		Msg("housekeeping completed")

	return result, errors.Join(errs...)
}
