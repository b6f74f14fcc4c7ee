package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/aistatus/aistatus/internal/notify"
	"github.com/aistatus/aistatus/internal/ratelimit"
)

// ErrUnknownJob is returned for job types the runner does not handle.
var ErrUnknownJob = errors.New("unknown job type")

// JobRunner dispatches scheduler job messages to the monitor and housekeeper.
type JobRunner struct {
	monitor     *Monitor
	housekeeper *Housekeeper
	logger      zerolog.Logger
}

// NewJobRunner creates a job runner.
func NewJobRunner(monitor *Monitor, housekeeper *Housekeeper, logger zerolog.Logger) *JobRunner {
	return &JobRunner{monitor: monitor, housekeeper: housekeeper, logger: logger}
}

// Run executes one job. Busy or rate-limited drains are not failures: the
// next trigger picks the queue up again.
func (r *JobRunner) Run(ctx context.Context, msg JobMessage) error {
	switch msg.JobType {
	case JobProbeSweep:
		result, err := r.monitor.Sweep(ctx)
		if errors.Is(err, ErrSweepInProgress) {
			r.logger.Info().Err(err).Msg("sweep skipped")
			return nil
		}
		if err != nil {
			return err
		}
		// Consider it failed only if no provider could be recorded.
		if result.Checked > 0 && len(result.Errors) >= result.Checked {
			return fmt.Errorf("probe sweep failed for all %d providers", result.Checked)
		}
		return nil

	case JobNotificationDrain:
		identity := msg.Identity
		if identity == "" {
			identity = "pubsub"
		}
		_, err := r.monitor.Drain(ctx, identity)
		if errors.Is(err, notify.ErrDrainInProgress) || errors.Is(err, ratelimit.ErrLimited) {
			r.logger.Info().Err(err).Msg("drain skipped")
			return nil
		}
		return err

	case JobHousekeeping:
		_, err := r.housekeeper.Run(ctx)
		return err

	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobType)
	}
}

// PubSubHandler handles Pub/Sub messages for the worker.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	runner           *JobRunner
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Runner           *JobRunner
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Jobs are long relative to message handling; keep few in flight.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 3
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		runner:           cfg.Runner,
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if h.Process(ctx, msg.ID, msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	if h.client == nil {
		return nil
	}
	return h.client.Close()
}

// Process runs the job encoded in data and reports whether the message
// should be acknowledged. Malformed and unknown messages are acknowledged
// so they are not redelivered.
func (h *PubSubHandler) Process(ctx context.Context, messageID string, data []byte) bool {
	startTime := time.Now()

	logger := h.logger.With().
		Str("message_id", messageID).
		Logger()

	logger.Debug().Msg("received pubsub message")

	var job JobMessage
	if err := json.Unmarshal(data, &job); err != nil {
		logger.Error().Err(err).Msg("failed to parse message")
		return true
	}

	err := h.runner.Run(ctx, job)
	switch {
	case errors.Is(err, ErrUnknownJob):
		logger.Warn().Str("job_type", job.JobType).Msg("unknown job type")
		return true
	case err != nil:
		logger.Error().Err(err).Str("job_type", job.JobType).Msg("job failed")
		return false
	}

	logger.Info().
		Str("job_type", job.JobType).
		Dur("duration", time.Since(startTime)).
		Msg("job completed successfully")
	return true
}

// NewProcessOnlyHandler returns a handler without a Pub/Sub client, for
// running jobs from push deliveries and tests.
func NewProcessOnlyHandler(runner *JobRunner, logger zerolog.Logger) *PubSubHandler {
	return &PubSubHandler{runner: runner, logger: logger}
}
