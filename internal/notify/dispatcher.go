package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aistatus/aistatus/internal/auth"
	"github.com/aistatus/aistatus/internal/featureflags"
	"github.com/aistatus/aistatus/internal/incident"
	"github.com/aistatus/aistatus/internal/probe"
	"github.com/aistatus/aistatus/internal/provider"
	"github.com/aistatus/aistatus/internal/scaling"
	"github.com/aistatus/aistatus/internal/subscription"
)

// SubscriberSource lists the recipients of a provider's notifications.
// *subscription.Service satisfies it.
type SubscriberSource interface {
	ConfirmedFor(ctx context.Context, providerID string) ([]*subscription.Subscription, error)
}

// LinkSigner issues signed link tokens. *auth.TokenService satisfies it.
type LinkSigner interface {
	IssueLinkToken(subject, purpose string) (string, error)
}

// FlagSource evaluates feature flags. *featureflags.Service satisfies it.
type FlagSource interface {
	IsEnabled(ctx context.Context, key string) bool
}

// WorkerPool sizes drain concurrency. *scaling.Controller satisfies it.
type WorkerPool interface {
	Workers(pool string) int
}

// Limiter rejects excess calls for a key. *ratelimit.Limiter satisfies it.
type Limiter interface {
	Check(key string) error
}

// ProviderLookup resolves provider ids. *provider.Registry satisfies it.
type ProviderLookup interface {
	Get(id string) (provider.Provider, bool)
}

// DispatcherConfig holds configuration for the dispatcher.
type DispatcherConfig struct {
	Repository  Repository
	Subscribers SubscriberSource
	Senders     *SenderRegistry

	// Optional collaborators.
	Providers      ProviderLookup
	Links          LinkSigner
	Flags          FlagSource
	Pool           WorkerPool
	DrainLimiter   Limiter
	EnqueueLimiter Limiter

	// PublicBaseURL prefixes confirmation and unsubscribe links.
	PublicBaseURL string

	BatchSize   int
	SendTimeout time.Duration
	MaxAttempts int

	Logger zerolog.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Dispatcher queues notifications and delivers them in drains.
type Dispatcher struct {
	repo           Repository
	subscribers    SubscriberSource
	senders        *SenderRegistry
	providers      ProviderLookup
	links          LinkSigner
	flags          FlagSource
	pool           WorkerPool
	drainLimiter   Limiter
	enqueueLimiter Limiter
	baseURL        string
	batchSize      int
	sendTimeout    time.Duration
	maxAttempts    int
	logger         zerolog.Logger
	now            func() time.Time

	// draining admits one drain at a time per process.
	draining sync.Mutex

	// dropped counts notifiable events that enqueued nothing.
	dropped atomic.Int64
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Senders == nil {
		cfg.Senders = NewSenderRegistry()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Dispatcher{
		repo:           cfg.Repository,
		subscribers:    cfg.Subscribers,
		senders:        cfg.Senders,
		providers:      cfg.Providers,
		links:          cfg.Links,
		flags:          cfg.Flags,
		pool:           cfg.Pool,
		drainLimiter:   cfg.DrainLimiter,
		enqueueLimiter: cfg.EnqueueLimiter,
		baseURL:        strings.TrimRight(cfg.PublicBaseURL, "/"),
		batchSize:      cfg.BatchSize,
		sendTimeout:    cfg.SendTimeout,
		maxAttempts:    cfg.MaxAttempts,
		logger:         cfg.Logger,
		now:            cfg.Now,
	}
}

// NotifyTransition enqueues notifications for an incident manager transition.
func (d *Dispatcher) NotifyTransition(ctx context.Context, t incident.Transition) error {
	_, err := d.EnqueueStatusChange(ctx, EventFromTransition(t))
	return err
}

// EnqueueStatusChange stores one notification per confirmed subscriber of
// the provider and channel. Events that are not notifiable enqueue nothing.
// A failed write does not stop the others: the summary counts it as unstored
// and the returned error joins every write failure. Events rejected by the
// enqueue limiter or without a subscriber list are counted in DroppedEvents.
func (d *Dispatcher) EnqueueStatusChange(ctx context.Context, e Event) (EnqueueSummary, error) {
	var summary EnqueueSummary
	if !e.Notifiable() {
		return summary, nil
	}

	if d.enqueueLimiter != nil {
		if err := d.enqueueLimiter.Check("enqueue:" + e.ProviderID); err != nil {
			d.drop(e, err)
			return summary, err
		}
	}

	subs, err := d.subscribers.ConfirmedFor(ctx, e.ProviderID)
	if err != nil {
		d.drop(e, err)
		return summary, fmt.Errorf("listing subscribers: %w", err)
	}

	name := TemplateStatusChange
	if e.Action == incident.ActionResolved {
		name = TemplateIncidentResolved
	}

	var errs []error
	for _, sub := range subs {
		data := d.eventData(e)
		data.UnsubscribeURL = d.unsubscribeURL(sub.Email)

		targets := []target{{ChannelEmail, sub.Email}}
		if sub.WebhookURL != "" {
			targets = append(targets, target{ChannelWebhook, sub.WebhookURL})
		}

		for _, t := range targets {
			n := &Notification{
				To:         t.to,
				Channel:    t.channel,
				Template:   name,
				Data:       data,
				ProviderID: e.ProviderID,
			}
			if err := d.store(ctx, n); err != nil {
				summary.Unstored++
				errs = append(errs, fmt.Errorf("storing %s notification %s: %w", t.channel, n.ID, err))
				continue
			}
			if n.Status == StatusFailed {
				summary.Failed++
			} else {
				summary.Queued++
			}
		}
	}

	d.logger.Info().
		Str("provider_id", e.ProviderID).
		Str("previous", string(e.Previous)).
		Str("current", string(e.Current)).
		Str("action", string(e.Action)).
		Int("queued", summary.Queued).
		Int("failed", summary.Failed).
		Int("unstored", summary.Unstored).
		Msg("status change notifications enqueued")

	if len(errs) > 0 {
		return summary, errors.Join(errs...)
	}
	return summary, nil
}

// DroppedEvents returns how many notifiable events enqueued nothing because
// the enqueue limiter rejected them or subscribers could not be listed.
func (d *Dispatcher) DroppedEvents() int64 {
	return d.dropped.Load()
}

func (d *Dispatcher) drop(e Event, err error) {
	d.dropped.Add(1)
	d.logger.Warn().
		Err(err).
		Str("provider_id", e.ProviderID).
		Str("previous", string(e.Previous)).
		Str("current", string(e.Current)).
		Str("action", string(e.Action)).
		Msg("status change notification dropped")
}

// Enqueue stores a single notification. A notification with a Template and
// no HTML is rendered first. Notifications without an address or content are
// stored as failed and never sent.
func (d *Dispatcher) Enqueue(ctx context.Context, n Notification) (*Notification, error) {
	if err := d.store(ctx, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// SendConfirmation enqueues a confirmation request for an unconfirmed
// subscription.
func (d *Dispatcher) SendConfirmation(ctx context.Context, sub *subscription.Subscription) error {
	n, err := d.Enqueue(ctx, Notification{
		To:       sub.Email,
		Channel:  ChannelEmail,
		Template: TemplateConfirmation,
		Data: &TemplateData{
			ConfirmURL: d.baseURL + "/v1/subscriptions/confirm?token=" + url.QueryEscape(sub.ConfirmationToken),
		},
	})
	if err != nil {
		return err
	}
	if n.Status == StatusFailed {
		return fmt.Errorf("confirmation not queued: %s", n.LastError)
	}
	return nil
}

func (d *Dispatcher) store(ctx context.Context, n *Notification) error {
	now := d.now().UTC()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Channel == "" {
		n.Channel = ChannelEmail
	}
	if n.MaxAttempts <= 0 {
		n.MaxAttempts = d.maxAttempts
	}
	n.Status = StatusPending
	n.Attempts = 0
	n.CreatedAt = now
	n.UpdatedAt = now

	if n.HTML == "" && n.Template != "" {
		subject, html, err := Render(n.Template, n.Data)
		if err != nil {
			d.logger.Error().Err(err).Str("template", n.Template).Msg("notification render failed")
		} else {
			n.Subject, n.HTML = subject, html
		}
	}

	switch {
	case strings.TrimSpace(n.To) == "":
		n.Status = StatusFailed
		n.LastError = ErrMissingAddress.Error()
	case strings.TrimSpace(n.Subject) == "" || strings.TrimSpace(n.HTML) == "":
		n.Status = StatusFailed
		n.LastError = ErrEmptyContent.Error()
	}

	if err := d.repo.Save(ctx, n); err != nil {
		return err
	}
	if n.Status == StatusFailed {
		d.logger.Warn().
			Str("notification_id", n.ID).
			Str("reason", n.LastError).
			Msg("notification stored as failed")
	}
	return nil
}

type sendOutcome struct {
	err       error
	elapsed   time.Duration
	attempted bool
}

type target struct {
	channel Channel
	to      string
}

// Drain sends up to one batch of pending notifications. Sends run
// concurrently, bounded by the dispatch pool size, each with its own
// timeout. Outcomes are written once every send has settled. identity keys
// the drain rate limit.
func (d *Dispatcher) Drain(ctx context.Context, identity string) (DrainSummary, error) {
	start := d.now()

	if d.flags != nil && d.flags.IsEnabled(ctx, featureflags.FlagDisableSending) {
		remaining, err := d.repo.Count(ctx, StatusPending)
		if err != nil {
			return DrainSummary{}, err
		}
		d.logger.Warn().Msg("notification sending disabled by feature flag")
		return DrainSummary{Disabled: true, Remaining: remaining}, nil
	}

	if d.drainLimiter != nil {
		if err := d.drainLimiter.Check("drain:" + identity); err != nil {
			return DrainSummary{}, err
		}
	}

	if !d.draining.TryLock() {
		return DrainSummary{}, ErrDrainInProgress
	}
	defer d.draining.Unlock()

	batch, err := d.repo.Pending(ctx, d.batch(ctx))
	if err != nil {
		return DrainSummary{}, err
	}

	outcomes := make([]sendOutcome, len(batch))
	sem := make(chan struct{}, d.workers())
	var wg sync.WaitGroup

dispatch:
	for i, n := range batch {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}

		wg.Add(1)
		go func(i int, n *Notification) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = d.send(ctx, n)
		}(i, n)
	}
	wg.Wait()

	// Outcomes are recorded even if the caller has gone away.
	writeCtx := context.WithoutCancel(ctx)

	var summary DrainSummary
	var totalElapsed time.Duration
	for i, n := range batch {
		if !outcomes[i].attempted {
			summary.Skipped++
			continue
		}
		summary.Processed++
		totalElapsed += outcomes[i].elapsed

		result, err := d.settle(writeCtx, n.ID, outcomes[i])
		if err != nil {
			d.logger.Error().Err(err).Str("notification_id", n.ID).Msg("failed to record notification outcome")
			continue
		}
		switch result {
		case StatusSent:
			summary.Sent++
		case StatusFailed:
			summary.Failed++
		case StatusPending:
			summary.Retrying++
		default:
			summary.Skipped++
		}
	}

	remaining, err := d.repo.Count(writeCtx, StatusPending)
	if err != nil {
		return summary, err
	}
	summary.Remaining = remaining
	summary.Duration = d.now().Sub(start)
	if summary.Processed > 0 {
		summary.AvgSendTime = totalElapsed / time.Duration(summary.Processed)
	}

	d.logger.Info().
		Str("identity", identity).
		Int("processed", summary.Processed).
		Int("sent", summary.Sent).
		Int("retrying", summary.Retrying).
		Int("failed", summary.Failed).
		Int("remaining", summary.Remaining).
		Dur("duration", summary.Duration).
		Msg("notification drain completed")
	return summary, nil
}

func (d *Dispatcher) send(ctx context.Context, n *Notification) (out sendOutcome) {
	out.attempted = true
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out.err = fmt.Errorf("sender panic: %v", r)
		}
		out.elapsed = time.Since(start)
	}()

	sender, ok := d.senders.Get(n.Channel)
	if !ok {
		out.err = fmt.Errorf("%w: %s", ErrNoSender, n.Channel)
		return out
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	out.err = sender.Send(sendCtx, Message{
		NotificationID: n.ID,
		To:             n.To,
		Channel:        n.Channel,
		Subject:        n.Subject,
		HTML:           n.HTML,
		Data:           n.Data,
	})
	return out
}

// settle writes one send outcome. The stored document is re-read so a
// notification that became terminal in the meantime is left alone; the
// returned status is empty in that case.
func (d *Dispatcher) settle(ctx context.Context, id string, out sendOutcome) (Status, error) {
	n, err := d.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if n.IsTerminal() {
		return "", nil
	}

	now := d.now().UTC()
	n.Attempts++
	n.UpdatedAt = now

	if out.err == nil {
		n.Status = StatusSent
		n.SentAt = &now
		n.LastError = ""
	} else {
		n.LastError = probe.SanitizeError(out.err)
		if n.Attempts >= n.MaxAttempts {
			n.Status = StatusFailed
		} else {
			n.Status = StatusPending
		}
		d.logger.Warn().
			Str("notification_id", n.ID).
			Str("channel", string(n.Channel)).
			Int("attempts", n.Attempts).
			Str("error", n.LastError).
			Msg("notification send failed")
	}

	if err := d.repo.Save(ctx, n); err != nil {
		return "", err
	}
	return n.Status, nil
}

// Stats counts queued notifications by state.
func (d *Dispatcher) Stats(ctx context.Context) (QueueStats, error) {
	var stats QueueStats
	var err error
	if stats.Pending, err = d.repo.Count(ctx, StatusPending); err != nil {
		return stats, err
	}
	if stats.Sent, err = d.repo.Count(ctx, StatusSent); err != nil {
		return stats, err
	}
	if stats.Failed, err = d.repo.Count(ctx, StatusFailed); err != nil {
		return stats, err
	}
	return stats, nil
}

// Recent lists up to limit notifications in a state, newest first.
func (d *Dispatcher) Recent(ctx context.Context, status Status, limit int) ([]*Notification, error) {
	return d.repo.List(ctx, status, limit)
}

// PruneOlderThan deletes sent and failed notifications last written before cutoff.
func (d *Dispatcher) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	return d.repo.PruneTerminal(ctx, cutoff)
}

func (d *Dispatcher) workers() int {
	if d.pool == nil {
		return 1
	}
	if n := d.pool.Workers(scaling.PoolDispatch); n > 0 {
		return n
	}
	return 1
}

func (d *Dispatcher) batch(ctx context.Context) int {
	if flags, ok := d.flags.(interface{ MaxDrainBatch(context.Context) int }); ok {
		if n := flags.MaxDrainBatch(ctx); n > 0 && n < d.batchSize {
			return n
		}
	}
	return d.batchSize
}

func (d *Dispatcher) eventData(e Event) *TemplateData {
	at := e.At
	if at.IsZero() {
		at = d.now()
	}

	data := &TemplateData{
		ProviderID:     e.ProviderID,
		ProviderName:   e.ProviderName,
		PreviousStatus: string(e.Previous),
		CurrentStatus:  string(e.Current),
		OccurredAt:     at.UTC().Format(time.RFC1123),
	}
	if data.ProviderName == "" {
		data.ProviderName = e.ProviderID
	}
	if d.providers != nil {
		if p, ok := d.providers.Get(e.ProviderID); ok {
			data.StatusPageURL = p.StatusPageURL
		}
	}
	if inc := e.Incident; inc != nil {
		data.IncidentID = inc.ID
		data.IncidentTitle = inc.Title
		data.Severity = string(inc.Severity)
		if inc.DurationMinutes != nil {
			data.DurationMinutes = *inc.DurationMinutes
		}
	}
	return data
}

func (d *Dispatcher) unsubscribeURL(email string) string {
	if d.links == nil {
		return ""
	}
	token, err := d.links.IssueLinkToken(email, auth.PurposeUnsubscribe)
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to sign unsubscribe link")
		return ""
	}
	return d.baseURL + "/v1/subscriptions/unsubscribe?token=" + url.QueryEscape(token)
}

// Ensure Dispatcher satisfies the interfaces it is wired through.
var (
	_ incident.Notifier   = (*Dispatcher)(nil)
	_ subscription.Mailer = (*Dispatcher)(nil)
)
