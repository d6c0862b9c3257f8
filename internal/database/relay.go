package database

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/materials-scraper/internal/events"
)

// EventPublisher delivers a change event to the stream.
type EventPublisher interface {
	Publish(ctx context.Context, e events.Event) error
}

// OutboxRepo interface for outbox operations (for testing)
type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
	CountByStatus(ctx context.Context, status string) (int, error)
}

// Relay moves change events from the outbox to the stream.
type Relay struct {
	outbox    OutboxRepo
	publisher EventPublisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int

	// one batch at a time, so Drain and the poll loop never deliver twice
	mu sync.Mutex
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

func NewRelay(db *DB, publisher EventPublisher, logger *slog.Logger, config RelayConfig) *Relay {
	return newRelay(NewOutboxRepository(db), publisher, logger, config)
}

func newRelay(outbox OutboxRepo, publisher EventPublisher, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval == 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		logger:    logger.With("component", "relay"),
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
	}
}

// Start polls the outbox until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay",
		"interval", r.interval,
		"batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	if _, err := r.processEvents(ctx); err != nil {
		r.logger.Error("failed to process events on startup", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.processEvents(ctx); err != nil {
				r.logger.Error("failed to process events", "error", err)
			}
		}
	}
}

// Drain relays batches until the outbox has nothing ready or a batch makes
// no progress. It returns the number of events delivered.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		delivered, err := r.processEvents(ctx)
		total += delivered
		if err != nil {
			return total, err
		}
		if delivered == 0 {
			return total, nil
		}
	}
}

// processEvents fetches and relays one batch. Per-event failures are
// recorded on the event and do not fail the batch.
func (r *Relay) processEvents(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending, err := r.outbox.GetPending(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending events: %w", err)
	}

	if len(pending) == 0 {
		return 0, nil
	}

	r.logger.Debug("processing events", "count", len(pending))

	delivered := 0
	for _, event := range pending {
		if err := r.processEvent(ctx, event); err != nil {
			r.logger.Error("failed to process event",
				"event_id", event.ID,
				"key", event.MaterialKey,
				"error", err)
			continue
		}
		delivered++
	}

	return delivered, nil
}

func (r *Relay) processEvent(ctx context.Context, event *OutboxEvent) error {
	err := r.publish(ctx, event)
	if err != nil {
		if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
			r.logger.Error("failed to mark event as failed",
				"event_id", event.ID,
				"error", markErr)
		}
		return err
	}

	if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
		r.logger.Error("failed to mark event as processed",
			"event_id", event.ID,
			"error", err)
		return err
	}

	r.logger.Debug("event relayed",
		"event_id", event.ID,
		"event_type", event.EventType,
		"key", event.MaterialKey)

	return nil
}

func (r *Relay) publish(ctx context.Context, event *OutboxEvent) error {
	e, err := event.Event()
	if err != nil {
		return err
	}
	return r.publisher.Publish(ctx, e)
}

// GetPendingCount returns the number of events still waiting for delivery,
// including failed ones scheduled for retry.
func (r *Relay) GetPendingCount(ctx context.Context) (int, error) {
	pending, err := r.outbox.CountByStatus(ctx, OutboxStatusPending)
	if err != nil {
		return 0, err
	}
	failed, err := r.outbox.CountByStatus(ctx, OutboxStatusFailed)
	if err != nil {
		return 0, err
	}
	return pending + failed, nil
}

// GetDeadLetterCount returns the number of events that will not be retried.
func (r *Relay) GetDeadLetterCount(ctx context.Context) (int, error) {
	return r.outbox.CountByStatus(ctx, OutboxStatusDeadLetter)
}
