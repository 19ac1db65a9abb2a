package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/tuition-engine/internal/domain"
	"github.com/segyhp/tuition-engine/internal/repository"
)

func newObligation(fee int64) *domain.TuitionObligation {
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	return &domain.TuitionObligation{
		ID:          uuid.New(),
		StudentID:   uuid.New(),
		ClassID:     uuid.New(),
		PeriodLabel: "July",
		PeriodYear:  2025,
		FeeAmount:   decimal.NewFromInt(fee),
		Status:      domain.ObligationStatusUnpaid,
		DueDate:     now.AddDate(0, 0, 10),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	o := newObligation(500000)
	require.NoError(t, store.Obligations().Create(ctx, o))

	err := store.WithTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		locked, err := tx.Obligations().GetByIDForUpdate(ctx, o.ID)
		if err != nil {
			return err
		}
		locked.PaidAmount = decimal.NewFromInt(100000)
		locked.Recompute()
		return tx.Obligations().Update(ctx, locked)
	})
	require.NoError(t, err)

	got, err := store.Obligations().GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, got.PaidAmount.Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, domain.ObligationStatusPartial, got.Status)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	o := newObligation(500000)
	require.NoError(t, store.Obligations().Create(ctx, o))

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		locked, err := tx.Obligations().GetByIDForUpdate(ctx, o.ID)
		if err != nil {
			return err
		}
		locked.PaidAmount = decimal.NewFromInt(500000)
		if err := tx.Obligations().Update(ctx, locked); err != nil {
			return err
		}
		if err := tx.Payments().Create(ctx, &domain.PaymentRecord{ID: uuid.New(), ObligationID: o.ID, Amount: locked.PaidAmount}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.Obligations().GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, got.PaidAmount.IsZero())

	records, err := store.Payments().ListByObligation(ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestReadsReturnCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	o := newObligation(100)
	require.NoError(t, store.Obligations().Create(ctx, o))

	got, err := store.Obligations().GetByID(ctx, o.ID)
	require.NoError(t, err)
	got.PaidAmount = decimal.NewFromInt(100)

	again, err := store.Obligations().GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, again.PaidAmount.IsZero())
}

func TestFailObligationUpdate(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	o := newObligation(100)
	require.NoError(t, store.Obligations().Create(ctx, o))

	injected := errors.New("disk full")
	store.FailObligationUpdate(o.ID, injected)

	err := store.WithTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		return tx.Obligations().Update(ctx, o)
	})
	assert.ErrorIs(t, err, injected)
}

func TestWithTx_CancelledContext(t *testing.T) {
	store := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.WithTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestObligations_NotFound(t *testing.T) {
	store := NewStore()
	_, err := store.Obligations().GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestObligations_ReleaseLocks(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	requestID := uuid.New()

	a, b, c := newObligation(100), newObligation(200), newObligation(300)
	a.PendingPaymentRequestID = &requestID
	b.PendingPaymentRequestID = &requestID
	for _, o := range []*domain.TuitionObligation{a, b, c} {
		require.NoError(t, store.Obligations().Create(ctx, o))
	}

	locked, err := store.Obligations().ListByPaymentRequest(ctx, requestID)
	require.NoError(t, err)
	assert.Len(t, locked, 2)

	released, err := store.Obligations().ReleaseLocks(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, 2, released)

	locked, err = store.Obligations().ListByPaymentRequest(ctx, requestID)
	require.NoError(t, err)
	assert.Empty(t, locked)
}

func TestObligations_GetClassPeriodFee(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	_, ok, err := store.Obligations().GetClassPeriodFee(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)

	older := newObligation(400000)
	newer := newObligation(450000)
	newer.ClassID = older.ClassID
	newer.PeriodYear = 2026
	require.NoError(t, store.Obligations().Create(ctx, older))
	require.NoError(t, store.Obligations().Create(ctx, newer))

	fee, ok, err := store.Obligations().GetClassPeriodFee(ctx, older.ClassID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, fee.Equal(decimal.NewFromInt(450000)))
}

func TestPaymentRequests_DuplicateOpenTotal(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()

	first := &domain.PaymentRequest{
		ID:                 uuid.New(),
		StudentID:          uuid.New(),
		ReceivingAccountID: "main",
		TotalAmount:        decimal.NewFromInt(150123),
		Status:             domain.PaymentRequestStatusPending,
		CreatedAt:          now,
		ExpiresAt:          now.Add(15 * time.Minute),
	}
	require.NoError(t, store.PaymentRequests().Create(ctx, first))

	clash := *first
	clash.ID = uuid.New()
	assert.ErrorIs(t, store.PaymentRequests().Create(ctx, &clash), repository.ErrDuplicateTotal)

	other := *first
	other.ID = uuid.New()
	other.ReceivingAccountID = "secondary"
	assert.NoError(t, store.PaymentRequests().Create(ctx, &other))

	first.Status = domain.PaymentRequestStatusCancelled
	require.NoError(t, store.PaymentRequests().UpdateStatus(ctx, first))
	assert.NoError(t, store.PaymentRequests().Create(ctx, &clash))

	totals, err := store.PaymentRequests().ListOpenTotals(ctx, "main")
	require.NoError(t, err)
	assert.Len(t, totals, 1)
}

func TestPaymentRequests_ListExpiredPending(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	for i, expiry := range []time.Duration{-time.Minute, -2 * time.Minute, time.Minute} {
		require.NoError(t, store.PaymentRequests().Create(ctx, &domain.PaymentRequest{
			ID:                 uuid.New(),
			ReceivingAccountID: "main",
			TotalAmount:        decimal.NewFromInt(int64(1000 + i)),
			Status:             domain.PaymentRequestStatusPending,
			ExpiresAt:          now.Add(expiry),
		}))
	}

	expired, err := store.PaymentRequests().ListExpiredPending(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.True(t, expired[0].ExpiresAt.Before(expired[1].ExpiresAt))

	limited, err := store.PaymentRequests().ListExpiredPending(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestScholarships_ExistsByNameIgnoresCase(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	s := &domain.Scholarship{ID: uuid.New(), StudentID: uuid.New(), ClassID: uuid.New(), Name: "Merit", Nominal: decimal.NewFromInt(100)}
	require.NoError(t, store.Scholarships().Create(ctx, s))

	exists, err := store.Scholarships().ExistsByName(ctx, s.StudentID, s.ClassID, "MERIT")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Scholarships().ExistsByName(ctx, s.StudentID, uuid.New(), "Merit")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestScholarships_CreateRejectsDuplicateName(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	s := &domain.Scholarship{ID: uuid.New(), StudentID: uuid.New(), ClassID: uuid.New(), Name: "Merit", Nominal: decimal.NewFromInt(100)}
	require.NoError(t, store.Scholarships().Create(ctx, s))

	dup := *s
	dup.ID = uuid.New()
	dup.Name = "merit"
	assert.ErrorIs(t, store.Scholarships().Create(ctx, &dup), repository.ErrDuplicateGrant)

	other := dup
	other.ClassID = uuid.New()
	assert.NoError(t, store.Scholarships().Create(ctx, &other))
}

func TestPaymentRequests_DuplicateIdempotencyKey(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	key := "checkout-1"
	first := &domain.PaymentRequest{
		ID:                 uuid.New(),
		StudentID:          uuid.New(),
		ReceivingAccountID: "main",
		TotalAmount:        decimal.NewFromInt(1042),
		Status:             domain.PaymentRequestStatusPending,
		IdempotencyKey:     &key,
	}
	require.NoError(t, store.PaymentRequests().Create(ctx, first))

	again := *first
	again.ID = uuid.New()
	again.TotalAmount = decimal.NewFromInt(1043)
	assert.ErrorIs(t, store.PaymentRequests().Create(ctx, &again), repository.ErrDuplicateIdempotencyKey)

	again.StudentID = uuid.New()
	assert.NoError(t, store.PaymentRequests().Create(ctx, &again))
}

func TestDiscounts_DeleteClearsReferences(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	d := &domain.Discount{ID: uuid.New(), Name: "Promo", Amount: decimal.NewFromInt(50), TargetPeriods: []string{"July"}, Active: true}
	require.NoError(t, store.Discounts().Create(ctx, d))

	o := newObligation(100)
	o.DiscountID = &d.ID
	require.NoError(t, store.Obligations().Create(ctx, o))

	require.NoError(t, store.Discounts().Delete(ctx, d.ID))

	got, err := store.Obligations().GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Nil(t, got.DiscountID)
	assert.ErrorIs(t, store.Discounts().Delete(ctx, d.ID), repository.ErrNotFound)
}
