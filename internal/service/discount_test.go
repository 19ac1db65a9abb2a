package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/tuition-engine/internal/domain"
	customError "github.com/segyhp/tuition-engine/pkg/errors"
)

func (f *fixture) discount(t *testing.T, amount int64, classID *uuid.UUID, periods ...string) *domain.Discount {
	t.Helper()
	d, err := f.discounts.Create(context.Background(), &domain.CreateDiscountRequest{
		Name:          "Early bird",
		Amount:        money(amount),
		TargetPeriods: periods,
		ClassID:       classID,
	})
	require.NoError(t, err)
	return d
}

func TestDiscount_PreviewSelectsEligibleAndWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	class, otherClass := uuid.New(), uuid.New()

	eligible := f.seed(t, uuid.New(), class, "July", 2025, 500000)
	paid := f.seed(t, uuid.New(), class, "July", 2025, 500000)
	f.pay(t, paid.ID, 500000)
	otherPeriod := f.seed(t, uuid.New(), class, "August", 2025, 500000)
	otherScope := f.seed(t, uuid.New(), otherClass, "July", 2025, 500000)
	locked := f.seed(t, uuid.New(), class, "July", 2025, 500000)
	_, err := f.requests.Create(ctx, &domain.CreatePaymentRequestRequest{
		StudentID: locked.StudentID, ObligationIDs: []uuid.UUID{locked.ID},
	})
	require.NoError(t, err)

	d := f.discount(t, 100000, &class, "July")

	preview, err := f.discounts.PreviewApply(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, preview.Affected, 1)
	alloc := preview.Affected[0]
	assert.Equal(t, eligible.ID, alloc.ObligationID)
	assertAmount(t, 100000, alloc.NewDiscount)
	assertAmount(t, 400000, alloc.EffectiveFee)
	assert.Equal(t, domain.ObligationStatusUnpaid, alloc.StatusAfter)
	assertAmount(t, 100000, preview.TotalDiscountAmount)

	for _, id := range []uuid.UUID{eligible.ID, paid.ID, otherPeriod.ID, otherScope.ID, locked.ID} {
		assert.Nil(t, f.obligation(t, id).DiscountID)
	}
}

func TestDiscount_CommitIsIdempotentAndSettles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	class := uuid.New()

	open := f.seed(t, uuid.New(), class, "July", 2025, 500000)
	nearly := f.seed(t, uuid.New(), class, "July", 2025, 500000)
	f.pay(t, nearly.ID, 400000)
	otherClass := f.seed(t, uuid.New(), uuid.New(), "July", 2025, 500000)

	// school-wide
	d := f.discount(t, 100000, nil, "July")

	res, err := f.discounts.CommitApply(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.UpdatedCount)
	assertAmount(t, 300000, res.TotalApplied)
	require.Len(t, res.Events, 1)
	assert.Equal(t, nearly.ID, res.Events[0].ObligationID)
	assert.Equal(t, domain.SettlementSourceDiscount, res.Events[0].Source)

	again, err := f.discounts.CommitApply(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, again.UpdatedCount)
	assert.Empty(t, again.Events)

	for _, id := range []uuid.UUID{open.ID, nearly.ID, otherClass.ID} {
		o := f.obligation(t, id)
		assertAmount(t, 100000, o.DiscountAmount)
		require.NotNil(t, o.DiscountID)
		assert.Equal(t, d.ID, *o.DiscountID)
	}
	assert.Equal(t, domain.ObligationStatusPaid, f.obligation(t, nearly.ID).Status)
}

func TestDiscount_OtherDiscountIsNotOverwritten(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.seed(t, uuid.New(), uuid.New(), "July", 2025, 500000)

	first := f.discount(t, 50000, nil, "July")
	_, err := f.discounts.CommitApply(ctx, first.ID)
	require.NoError(t, err)

	second := f.discount(t, 80000, nil, "July")
	res, err := f.discounts.CommitApply(ctx, second.ID)
	require.NoError(t, err)
	assert.Zero(t, res.UpdatedCount)

	got := f.obligation(t, o.ID)
	assert.Equal(t, first.ID, *got.DiscountID)
	assertAmount(t, 50000, got.DiscountAmount)
}

func TestDiscount_RemoveRestoresZeroDiscount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.seed(t, uuid.New(), uuid.New(), "July", 2025, 500000)
	f.pay(t, o.ID, 400000)

	d := f.discount(t, 100000, nil, "July")
	_, err := f.discounts.CommitApply(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ObligationStatusPaid, f.obligation(t, o.ID).Status)

	res, err := f.discounts.Remove(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ReversedCount)

	got := f.obligation(t, o.ID)
	assertAmount(t, 0, got.DiscountAmount)
	assert.Nil(t, got.DiscountID)
	assert.Equal(t, domain.ObligationStatusPartial, got.Status)
	assertAmount(t, 400000, got.PaidAmount)

	_, err = f.discounts.Get(ctx, d.ID)
	assert.True(t, customError.Is(err, customError.ErrNotFound))
}

func TestDiscount_InactiveCannotBeApplied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.discount(t, 100000, nil, "July")

	inactive := false
	_, err := f.discounts.Update(ctx, d.ID, &domain.UpdateDiscountRequest{Active: &inactive})
	require.NoError(t, err)

	_, err = f.discounts.CommitApply(ctx, d.ID)
	be, ok := customError.As(err)
	require.True(t, ok)
	assert.Equal(t, customError.ErrCodeDiscountInactive, be.Code)

	_, err = f.discounts.PreviewApply(ctx, d.ID)
	assert.True(t, customError.Is(err, customError.ErrValidation))
}

func TestDiscount_UpdateLeavesAppliedObligations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.seed(t, uuid.New(), uuid.New(), "July", 2025, 500000)
	d := f.discount(t, 100000, nil, "July", "July", " ")
	assert.Equal(t, []string{"July"}, []string(d.TargetPeriods))

	_, err := f.discounts.CommitApply(ctx, d.ID)
	require.NoError(t, err)

	amount := money(150000)
	name := "Late bird"
	updated, err := f.discounts.Update(ctx, d.ID, &domain.UpdateDiscountRequest{Amount: &amount, Name: &name})
	require.NoError(t, err)
	assertAmount(t, 150000, updated.Amount)
	assert.Equal(t, "Late bird", updated.Name)

	assertAmount(t, 100000, f.obligation(t, o.ID).DiscountAmount)

	list, err := f.discounts.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDiscount_CreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.discounts.Create(ctx, &domain.CreateDiscountRequest{Name: "x", Amount: money(0), TargetPeriods: []string{"July"}})
	assert.True(t, customError.Is(err, customError.ErrValidation))

	_, err = f.discounts.Create(ctx, &domain.CreateDiscountRequest{Name: "x", Amount: money(10), TargetPeriods: []string{" "}})
	assert.True(t, customError.Is(err, customError.ErrValidation))

	_, err = f.discounts.Update(ctx, uuid.New(), &domain.UpdateDiscountRequest{})
	assert.True(t, customError.Is(err, customError.ErrNotFound))
}
