package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aistatus/aistatus/internal/provider"
	"github.com/aistatus/aistatus/internal/status"
)

// ProviderLookup resolves provider ids. *provider.Registry satisfies it.
type ProviderLookup interface {
	Get(id string) (provider.Provider, bool)
}

// Notifier is told about every provider status change after the incident
// write for that change has completed.
type Notifier interface {
	NotifyTransition(ctx context.Context, t Transition) error
}

// ManagerConfig holds configuration for the incident manager.
type ManagerConfig struct {
	Repository Repository
	Providers  ProviderLookup

	// Notifier is optional.
	Notifier Notifier

	Logger zerolog.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Manager applies status transitions to incidents. Transitions for the same
// provider are applied one at a time in arrival order.
type Manager struct {
	repo      Repository
	providers ProviderLookup
	notifier  Notifier
	logger    zerolog.Logger
	now       func() time.Time
	locks     *keyedMutex
}

// NewManager creates an incident manager.
func NewManager(cfg ManagerConfig) *Manager {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		repo:      cfg.Repository,
		providers: cfg.Providers,
		notifier:  cfg.Notifier,
		logger:    cfg.Logger,
		now:       now,
		locks:     newKeyedMutex(),
	}
}

// SetNotifier installs the notifier. It must be called before the manager is used.
func (m *Manager) SetNotifier(n Notifier) {
	m.notifier = n
}

// HandleTransition applies previous -> current for a provider:
//
//   - no change, or an unknown current status, does nothing;
//   - a qualifying transition opens an incident, or escalates the open one;
//   - a return to operational resolves the open incident;
//   - any other change appends an update to the open incident, if there is one.
//
// A pair whose current status the open incident already records is a replay
// and does nothing, without notifying. So is a return to operational right
// after the newest incident was resolved by one.
// An unknown provider is logged and ignored. Errors are storage failures only.
func (m *Manager) HandleTransition(ctx context.Context, providerID string, previous, current status.Status) (*Outcome, error) {
	none := &Outcome{Action: ActionNone}

	if previous == current || current == status.Unknown {
		return none, nil
	}

	prov, ok := m.providers.Get(providerID)
	if !ok {
		m.logger.Warn().Str("provider_id", providerID).Msg("transition for unknown provider ignored")
		return none, nil
	}

	unlock := m.locks.Lock(providerID)
	defer unlock()

	open, err := m.repo.OpenFor(ctx, providerID)
	if err != nil {
		return nil, err
	}

	if open != nil && open.LastStatus == current {
		m.logger.Debug().
			Str("provider_id", providerID).
			Str("incident_id", open.ID).
			Str("status", string(current)).
			Msg("transition already applied")
		return none, nil
	}

	now := m.now().UTC()
	var outcome *Outcome

	switch {
	case current == status.Operational:
		if open == nil {
			replayed, err := m.resolvedLast(ctx, providerID)
			if err != nil {
				return nil, err
			}
			if replayed {
				return none, nil
			}
			outcome = none
			break
		}
		outcome, err = m.resolve(ctx, open, previous, now)

	case IsQualifying(previous, current) && open == nil:
		outcome, err = m.create(ctx, prov, previous, current, now)

	case open != nil:
		outcome, err = m.progress(ctx, open, previous, current, now)

	default:
		outcome = none
	}
	if err != nil {
		return nil, err
	}

	m.notify(ctx, Transition{
		ProviderID:   prov.ID,
		ProviderName: prov.Name,
		Previous:     previous,
		Current:      current,
		Outcome:      *outcome,
		At:           now,
	})

	return outcome, nil
}

func (m *Manager) create(ctx context.Context, prov provider.Provider, previous, current status.Status, now time.Time) (*Outcome, error) {
	update := Update{
		ID:        uuid.NewString(),
		Timestamp: now,
		Status:    StateInvestigating,
		Message:   changeMessage(previous, current),
		Author:    SystemAuthor,
	}

	inc := &Incident{
		ID:           uuid.NewString(),
		ProviderID:   prov.ID,
		ProviderName: prov.Name,
		Title:        title(prov.Name, current),
		Description:  fmt.Sprintf("Automated monitoring detected %s status change from %s to %s.", prov.Name, previous, current),
		Status:       StateInvestigating,
		Severity:     SeverityFor(previous, current),
		StartTime:    now,
		Updates:      []Update{update},
		LastStatus:   current,
	}

	if err := m.repo.Save(ctx, inc); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("provider_id", prov.ID).
		Str("incident_id", inc.ID).
		Str("severity", string(inc.Severity)).
		Msg("incident created")

	return &Outcome{Action: ActionCreated, Incident: inc, Update: &update}, nil
}

func (m *Manager) progress(ctx context.Context, inc *Incident, previous, current status.Status, now time.Time) (*Outcome, error) {
	next := StateIdentified
	if current.Rank() < previous.Rank() {
		next = StateMonitoring
	}

	if IsQualifying(previous, current) {
		if sev := SeverityFor(previous, current); sev.Rank() > inc.Severity.Rank() {
			inc.Severity = sev
		}
	}
	if current == status.Down {
		inc.Title = title(inc.ProviderName, current)
	}

	update := Update{
		ID:        uuid.NewString(),
		Timestamp: now,
		Status:    next,
		Message:   changeMessage(previous, current),
		Author:    SystemAuthor,
	}
	inc.Status = next
	inc.Updates = append(inc.Updates, update)
	inc.LastStatus = current

	if err := m.repo.Save(ctx, inc); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("provider_id", inc.ProviderID).
		Str("incident_id", inc.ID).
		Str("state", string(next)).
		Msg("incident updated")

	return &Outcome{Action: ActionUpdated, Incident: inc, Update: &update}, nil
}

func (m *Manager) resolve(ctx context.Context, inc *Incident, previous status.Status, now time.Time) (*Outcome, error) {
	update := Update{
		ID:        uuid.NewString(),
		Timestamp: now,
		Status:    StateResolved,
		Message:   changeMessage(previous, status.Operational) + "; incident resolved",
		Author:    SystemAuthor,
	}
	markResolved(inc, now)
	inc.Updates = append(inc.Updates, update)
	inc.LastStatus = status.Operational

	if err := m.repo.Save(ctx, inc); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("provider_id", inc.ProviderID).
		Str("incident_id", inc.ID).
		Int("duration_minutes", *inc.DurationMinutes).
		Msg("incident resolved")

	return &Outcome{Action: ActionResolved, Incident: inc, Update: &update}, nil
}

// resolvedLast reports whether the provider's newest incident was closed by a
// return to operational, which makes another return to operational a replay.
func (m *Manager) resolvedLast(ctx context.Context, providerID string) (bool, error) {
	latest, err := m.repo.List(ctx, ListOptions{ProviderID: providerID, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(latest) == 1 && !latest[0].IsOpen() && latest[0].LastStatus == status.Operational, nil
}

func (m *Manager) notify(ctx context.Context, t Transition) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.NotifyTransition(ctx, t); err != nil {
		m.logger.Error().
			Err(err).
			Str("provider_id", t.ProviderID).
			Msg("failed to notify status change")
	}
}

// Get returns an incident by id.
func (m *Manager) Get(ctx context.Context, id string) (*Incident, error) {
	return m.repo.Get(ctx, id)
}

// Open returns the provider's open incident, or nil.
func (m *Manager) Open(ctx context.Context, providerID string) (*Incident, error) {
	return m.repo.OpenFor(ctx, providerID)
}

// List returns incidents newest first.
func (m *Manager) List(ctx context.Context, opts ListOptions) ([]*Incident, error) {
	return m.repo.List(ctx, opts)
}

// AddManualUpdate appends an operator update. Moving to resolved closes the
// incident the same way automatic resolution does.
func (m *Manager) AddManualUpdate(ctx context.Context, id string, state State, message, author string) (*Incident, error) {
	if !state.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, state)
	}

	inc, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(inc.ProviderID)
	defer unlock()

	// Re-read under the provider lock.
	inc, err = m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !inc.IsOpen() {
		return nil, ErrAlreadyResolved
	}

	now := m.now().UTC()
	inc.Updates = append(inc.Updates, Update{
		ID:        uuid.NewString(),
		Timestamp: now,
		Status:    state,
		Message:   message,
		Author:    author,
	})
	if state == StateResolved {
		markResolved(inc, now)
	} else {
		inc.Status = state
	}

	if err := m.repo.Save(ctx, inc); err != nil {
		return nil, err
	}
	return inc, nil
}

func markResolved(inc *Incident, now time.Time) {
	end := now
	minutes := int(end.Sub(inc.StartTime) / time.Minute)
	if minutes < 0 {
		minutes = 0
	}
	inc.Status = StateResolved
	inc.EndTime = &end
	inc.DurationMinutes = &minutes
}

func changeMessage(previous, current status.Status) string {
	return fmt.Sprintf("Status changed from %s to %s", previous, current)
}

func title(name string, current status.Status) string {
	if current == status.Down {
		return name + " outage"
	}
	return name + " degraded performance"
}
