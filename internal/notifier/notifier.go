// Package notifier delivers settled-obligation events to the messaging side.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/segyhp/tuition-engine/internal/domain"
)

// SettledChannel is the Redis channel settled events are published on.
const SettledChannel = "tuition:obligation-settled"

// LogPublisher writes every event to the structured log.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, events []domain.ObligationSettledEvent) error {
	for _, e := range events {
		p.logger.Info("obligation settled",
			zap.String("obligation_id", e.ObligationID.String()),
			zap.String("student_id", e.StudentID.String()),
			zap.String("period", fmt.Sprintf("%s %d", e.PeriodLabel, e.PeriodYear)),
			zap.String("amount_applied", e.AmountApplied.String()),
			zap.String("status_after", e.StatusAfter),
			zap.String("source", e.Source),
		)
	}
	return nil
}

// RedisPublisher publishes each event as JSON on a pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = SettledChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, events []domain.ObligationSettledEvent) error {
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event for obligation %s: %w", e.ObligationID, err)
		}
		if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
			return fmt.Errorf("publish event for obligation %s: %w", e.ObligationID, err)
		}
	}
	return nil
}

// Publisher is satisfied by every publisher in this package.
type Publisher interface {
	Publish(ctx context.Context, events []domain.ObligationSettledEvent) error
}

// Multi fans events out to every publisher and joins their errors.
type Multi []Publisher

func NewMulti(publishers ...Publisher) Multi {
	return Multi(publishers)
}

func (m Multi) Publish(ctx context.Context, events []domain.ObligationSettledEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
