package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisClient interface for Redis operations (for testing)
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// Publisher appends change events to a Redis stream.
type Publisher struct {
	redis  RedisClient
	stream string
	logger *slog.Logger
}

// Connect opens a Redis client from a redis:// URL and verifies it.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func NewPublisher(client RedisClient, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		redis:  client,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

func (p *Publisher) Stream() string { return p.stream }

// Publish appends one event to the stream.
func (p *Publisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"data":          string(data),
			"type":          string(e.Type),
			"event_id":      e.ID.String(),
			"aggregate_id":  e.Key,
			"brand":         e.Brand,
			"material_type": string(e.MaterialType),
			"timestamp":     strconv.FormatInt(e.Timestamp.UnixNano(), 10),
		},
	}

	if _, err := p.redis.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}

	p.logger.Debug("event published",
		"type", e.Type,
		"event_id", e.ID,
		"key", e.Key,
		"stream", p.stream)
	return nil
}

// PublishAll publishes every event and keeps going past failures. It
// returns the number published and the joined errors.
func (p *Publisher) PublishAll(ctx context.Context, evts []Event) (int, error) {
	var (
		published int
		errs      []error
	)
	for _, e := range evts {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := p.Publish(ctx, e); err != nil {
			p.logger.Error("failed to publish event", "key", e.Key, "type", e.Type, "error", err)
			errs = append(errs, err)
			continue
		}
		published++
	}

	p.logger.Info("change events published",
		"published", published,
		"failed", len(evts)-published,
		"stream", p.stream)
	return published, errors.Join(errs...)
}

func (p *Publisher) Close() error {
	return p.redis.Close()
}
