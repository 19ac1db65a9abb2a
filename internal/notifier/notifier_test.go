package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/segyhp/tuition-engine/internal/domain"
)

func sampleEvent() domain.ObligationSettledEvent {
	return domain.ObligationSettledEvent{
		ObligationID:  uuid.New(),
		StudentID:     uuid.New(),
		ClassID:       uuid.New(),
		PeriodLabel:   "July",
		PeriodYear:    2025,
		AmountApplied: decimal.NewFromInt(500000),
		StatusAfter:   domain.ObligationStatusPaid,
		Source:        domain.SettlementSourceManual,
		OccurredAt:    time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	p := NewLogPublisher(zap.New(core))

	event := sampleEvent()
	require.NoError(t, p.Publish(context.Background(), []domain.ObligationSettledEvent{event}))

	entries := logs.FilterMessage("obligation settled").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, event.ObligationID.String(), fields["obligation_id"])
	assert.Equal(t, "July 2025", fields["period"])
	assert.Equal(t, "manual", fields["source"])
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(ctx context.Context, events []domain.ObligationSettledEvent) error {
	return f.err
}

func TestMulti_JoinsErrors(t *testing.T) {
	first := errors.New("first")
	core, logs := observer.New(zapcore.InfoLevel)

	m := NewMulti(failingPublisher{err: first}, NewLogPublisher(zap.New(core)))
	err := m.Publish(context.Background(), []domain.ObligationSettledEvent{sampleEvent()})

	assert.ErrorIs(t, err, first)
	assert.Equal(t, 1, logs.Len(), "later publishers still run")
}

func TestRedisPublisher(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	channel := "test:" + uuid.NewString()
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	event := sampleEvent()
	require.NoError(t, NewRedisPublisher(client, channel).Publish(ctx, []domain.ObligationSettledEvent{event}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got domain.ObligationSettledEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, event.ObligationID, got.ObligationID)
	assert.True(t, event.AmountApplied.Equal(got.AmountApplied))
}
