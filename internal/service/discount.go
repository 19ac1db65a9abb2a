package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/segyhp/tuition-engine/internal/domain"
	"github.com/segyhp/tuition-engine/internal/repository"
	customError "github.com/segyhp/tuition-engine/pkg/errors"
	"github.com/segyhp/tuition-engine/pkg/utils"
)

type DiscountService struct {
	store     repository.Store
	clock     utils.Clock
	publisher EventPublisher
	logger    *zap.Logger
}

func NewDiscountService(store repository.Store, clock utils.Clock, publisher EventPublisher, logger *zap.Logger) *DiscountService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &DiscountService{
		store:     store,
		clock:     clock,
		publisher: publisher,
		logger:    logger,
	}
}

func (s *DiscountService) Create(ctx context.Context, req *domain.CreateDiscountRequest) (*domain.Discount, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, customError.WrapValidation("discount name is required")
	}
	if !req.Amount.IsPositive() {
		return nil, customError.WrapInvalidAmount(req.Amount)
	}
	periods, err := normalizePeriods(req.TargetPeriods)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	d := &domain.Discount{
		ID:            uuid.New(),
		Name:          name,
		Amount:        req.Amount,
		TargetPeriods: periods,
		ClassID:       req.ClassID,
		Active:        req.Active == nil || *req.Active,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.Discounts().Create(ctx, d); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	s.logger.Info("discount created",
		zap.String("discount_id", d.ID.String()),
		zap.String("amount", d.Amount.String()),
		zap.Strings("periods", d.TargetPeriods),
		zap.Bool("school_wide", d.IsSchoolWide()),
	)

	return d, nil
}

// Update edits the definition only. Obligations that already carry the
// discount keep their amount until the discount is applied again.
func (s *DiscountService) Update(ctx context.Context, id uuid.UUID, req *domain.UpdateDiscountRequest) (*domain.Discount, error) {
	var updated *domain.Discount
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		updated = nil

		d, err := lockDiscount(ctx, tx, id)
		if err != nil {
			return err
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return customError.WrapValidation("discount name is required")
			}
			d.Name = name
		}
		if req.Amount != nil {
			if !req.Amount.IsPositive() {
				return customError.WrapInvalidAmount(*req.Amount)
			}
			d.Amount = *req.Amount
		}
		if req.TargetPeriods != nil {
			periods, err := normalizePeriods(req.TargetPeriods)
			if err != nil {
				return err
			}
			d.TargetPeriods = periods
		}
		if req.Active != nil {
			d.Active = *req.Active
		}
		d.UpdatedAt = s.clock.Now()

		if err := tx.Discounts().Update(ctx, d); err != nil {
			return err
		}
		updated = d
		return nil
	})
	if err != nil {
		return nil, dbError(err)
	}

	return updated, nil
}

func (s *DiscountService) Get(ctx context.Context, id uuid.UUID) (*domain.Discount, error) {
	d, err := s.store.Discounts().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, customError.WrapDiscountNotFound(id)
		}
		return nil, customError.WrapDatabaseError(err)
	}
	return d, nil
}

func (s *DiscountService) List(ctx context.Context) ([]*domain.Discount, error) {
	discounts, err := s.store.Discounts().List(ctx)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return discounts, nil
}

// PreviewApply computes what CommitApply would write without locking or
// writing anything.
func (s *DiscountService) PreviewApply(ctx context.Context, id uuid.UUID) (*domain.DiscountPreview, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.Active {
		return nil, customError.WrapDiscountInactive(id)
	}

	candidates, err := s.store.Obligations().ListForDiscountScope(ctx, d.ClassID, d.TargetPeriods, false)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	preview := &domain.DiscountPreview{
		Discount:            d,
		Affected:            []*domain.DiscountAllocation{},
		TotalDiscountAmount: decimal.Zero,
	}
	for _, o := range selectForDiscount(d, candidates) {
		preview.Affected = append(preview.Affected, &domain.DiscountAllocation{
			ObligationID:    o.ID,
			StudentID:       o.StudentID,
			ClassID:         o.ClassID,
			PeriodLabel:     o.PeriodLabel,
			PeriodYear:      o.PeriodYear,
			CurrentDiscount: o.DiscountAmount,
			NewDiscount:     d.Amount,
			EffectiveFee:    domain.EffectiveFee(o.FeeAmount, o.ScholarshipAmount, d.Amount),
			StatusAfter:     domain.DeriveStatus(o.FeeAmount, o.ScholarshipAmount, d.Amount, o.PaidAmount),
		})
		preview.TotalDiscountAmount = preview.TotalDiscountAmount.Add(d.Amount)
	}

	return preview, nil
}

// CommitApply writes the discount onto every selected obligation under row
// locks. Re-applying overwrites the amount, it never stacks.
func (s *DiscountService) CommitApply(ctx context.Context, id uuid.UUID) (*domain.DiscountApplyResult, error) {
	var result *domain.DiscountApplyResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		result = nil
		now := s.clock.Now()

		d, err := lockDiscount(ctx, tx, id)
		if err != nil {
			return err
		}
		if !d.Active {
			return customError.WrapDiscountInactive(id)
		}

		candidates, err := tx.Obligations().ListForDiscountScope(ctx, d.ClassID, d.TargetPeriods, true)
		if err != nil {
			return err
		}

		res := &domain.DiscountApplyResult{
			DiscountID:   d.ID,
			TotalApplied: decimal.Zero,
			Events:       []domain.ObligationSettledEvent{},
		}
		for _, o := range selectForDiscount(d, candidates) {
			wasPaid := o.IsPaid()
			discountID := d.ID
			o.DiscountAmount = d.Amount
			o.DiscountID = &discountID
			o.Recompute()
			o.UpdatedAt = now
			if err := tx.Obligations().Update(ctx, o); err != nil {
				return err
			}

			res.UpdatedCount++
			res.TotalApplied = res.TotalApplied.Add(d.Amount)
			if !wasPaid && o.IsPaid() {
				res.Events = append(res.Events, domain.NewSettledEvent(o, d.Amount, domain.SettlementSourceDiscount, nil, now))
			}
		}

		result = res
		return nil
	})
	if err != nil {
		return nil, dbError(err)
	}

	s.logger.Info("discount applied",
		zap.String("discount_id", id.String()),
		zap.Int("updated", result.UpdatedCount),
		zap.String("total", result.TotalApplied.String()),
	)
	publish(ctx, s.publisher, s.logger, result.Events)

	return result, nil
}

// Remove reverses the discount on every obligation referencing it and then
// deletes the definition. A PAID obligation may fall back to PARTIAL.
func (s *DiscountService) Remove(ctx context.Context, id uuid.UUID) (*domain.DiscountRemoveResult, error) {
	var result *domain.DiscountRemoveResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		result = nil
		now := s.clock.Now()

		if _, err := lockDiscount(ctx, tx, id); err != nil {
			return err
		}

		obligations, err := tx.Obligations().ListByDiscountForUpdate(ctx, id)
		if err != nil {
			return err
		}
		for _, o := range obligations {
			o.DiscountAmount = decimal.Zero
			o.DiscountID = nil
			o.Recompute()
			o.UpdatedAt = now
			if err := tx.Obligations().Update(ctx, o); err != nil {
				return err
			}
		}

		if err := tx.Discounts().Delete(ctx, id); err != nil {
			return err
		}

		result = &domain.DiscountRemoveResult{DiscountID: id, ReversedCount: len(obligations)}
		return nil
	})
	if err != nil {
		return nil, dbError(err)
	}

	s.logger.Info("discount removed",
		zap.String("discount_id", id.String()),
		zap.Int("reversed", result.ReversedCount),
	)

	return result, nil
}

// selectForDiscount keeps the in-scope obligations a discount may touch:
// those it already covers, plus open obligations with no discount. Anything
// soft-locked by a payment request is left alone so its allocation stays valid.
func selectForDiscount(d *domain.Discount, candidates []*domain.TuitionObligation) []*domain.TuitionObligation {
	selected := make([]*domain.TuitionObligation, 0, len(candidates))
	for _, o := range candidates {
		if !d.Targets(o) || o.PendingPaymentRequestID != nil {
			continue
		}
		if o.DiscountID != nil {
			if *o.DiscountID == d.ID {
				selected = append(selected, o)
			}
			continue
		}
		if !o.IsPaid() {
			selected = append(selected, o)
		}
	}
	return selected
}

func lockDiscount(ctx context.Context, tx repository.Repositories, id uuid.UUID) (*domain.Discount, error) {
	d, err := tx.Discounts().GetByIDForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, customError.WrapDiscountNotFound(id)
		}
		return nil, err
	}
	return d, nil
}

func normalizePeriods(periods []string) ([]string, error) {
	seen := make(map[string]struct{}, len(periods))
	out := make([]string, 0, len(periods))
	for _, p := range periods {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, customError.WrapValidation("at least one target period is required")
	}
	return out, nil
}
