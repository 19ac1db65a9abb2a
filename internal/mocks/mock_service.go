package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/segyhp/tuition-engine/internal/domain"
)

type MockRequestExpirer struct {
	mock.Mock
}

func (m *MockRequestExpirer) ExpiredPending(ctx context.Context, limit int) ([]*domain.PaymentRequest, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.PaymentRequest), args.Error(1)
}

func (m *MockRequestExpirer) Expire(ctx context.Context, id uuid.UUID) (*domain.PaymentRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentRequest), args.Error(1)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, events []domain.ObligationSettledEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}
