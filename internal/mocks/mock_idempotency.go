package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/segyhp/tuition-engine/internal/idempotency"
)

type MockIdempotencyStore struct {
	mock.Mock
}

func (m *MockIdempotencyStore) Reserve(ctx context.Context, key string) (idempotency.Reservation, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(idempotency.Reservation), args.Error(1)
}

func (m *MockIdempotencyStore) Complete(ctx context.Context, key string, resourceID uuid.UUID) error {
	args := m.Called(ctx, key, resourceID)
	return args.Error(0)
}

func (m *MockIdempotencyStore) Release(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}
