package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/segyhp/tuition-engine/internal/domain"
	"github.com/segyhp/tuition-engine/internal/repository"
	customError "github.com/segyhp/tuition-engine/pkg/errors"
	"github.com/segyhp/tuition-engine/pkg/utils"
)

type ScholarshipService struct {
	store     repository.Store
	clock     utils.Clock
	publisher EventPublisher
	logger    *zap.Logger
}

func NewScholarshipService(store repository.Store, clock utils.Clock, publisher EventPublisher, logger *zap.Logger) *ScholarshipService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &ScholarshipService{
		store:     store,
		clock:     clock,
		publisher: publisher,
		logger:    logger,
	}
}

// Grant adds a scholarship to a student's class enrollment and reconciles
// every obligation of the pair to the new scholarship total. When the grant
// is the one that first makes coverage full, the pair's open obligations are
// settled in the same transaction.
func (s *ScholarshipService) Grant(ctx context.Context, req *domain.GrantScholarshipRequest) (*domain.GrantResult, error) {
	if req.StudentID == uuid.Nil || req.ClassID == uuid.Nil {
		return nil, customError.WrapValidation("student_id and class_id are required")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, customError.WrapValidation("scholarship name is required")
	}
	if !req.Nominal.IsPositive() {
		return nil, customError.WrapInvalidAmount(req.Nominal)
	}
	actor := req.Actor
	if actor == "" {
		actor = domain.SystemActor
	}

	var result *domain.GrantResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		result = nil
		now := s.clock.Now()

		if err := tx.Scholarships().LockPair(ctx, req.StudentID, req.ClassID); err != nil {
			return err
		}

		exists, err := tx.Scholarships().ExistsByName(ctx, req.StudentID, req.ClassID, name)
		if err != nil {
			return err
		}
		if exists {
			return customError.WrapDuplicateGrant(req.StudentID, req.ClassID, name)
		}

		obligations, err := tx.Obligations().ListByStudentClassForUpdate(ctx, req.StudentID, req.ClassID)
		if err != nil {
			return err
		}

		periodFee, known, err := classPeriodFee(ctx, tx, req.ClassID, req.FallbackPeriodFee)
		if err != nil {
			return err
		}

		prior, err := tx.Scholarships().ListByStudentClass(ctx, req.StudentID, req.ClassID)
		if err != nil {
			return err
		}
		priorTotal := domain.SumNominal(prior)
		newTotal := priorTotal.Add(req.Nominal)
		isFull := known && newTotal.GreaterThanOrEqual(periodFee)
		crossed := isFull && priorTotal.LessThan(periodFee)

		grant := &domain.Scholarship{
			ID:                uuid.New(),
			StudentID:         req.StudentID,
			ClassID:           req.ClassID,
			Name:              name,
			Nominal:           req.Nominal,
			IsFullScholarship: isFull,
			CreatedBy:         actor,
			CreatedAt:         now,
		}
		if err := tx.Scholarships().Create(ctx, grant); err != nil {
			if errors.Is(err, repository.ErrDuplicateGrant) {
				return customError.WrapDuplicateGrant(req.StudentID, req.ClassID, name)
			}
			return err
		}
		if err := tx.Scholarships().SetFullFlag(ctx, req.StudentID, req.ClassID, isFull); err != nil {
			return err
		}

		res := &domain.GrantResult{
			Scholarship: grant,
			TotalAmount: newTotal,
			AutoSettled: []domain.ObligationSettledEvent{},
		}
		if known {
			fee := periodFee
			res.PeriodFee = &fee
		}

		for _, o := range obligations {
			wasOpen := !o.IsPaid()
			o.ScholarshipAmount = newTotal
			o.Recompute()
			o.UpdatedAt = now

			if crossed && wasOpen {
				event, err := s.autoSettle(ctx, tx, o, grant, now)
				if err != nil {
					return err
				}
				res.AutoSettled = append(res.AutoSettled, event)
				continue
			}

			if err := tx.Obligations().Update(ctx, o); err != nil {
				return err
			}
		}

		result = res
		return nil
	})
	if err != nil {
		return nil, dbError(err)
	}

	s.logger.Info("scholarship granted",
		zap.String("scholarship_id", result.Scholarship.ID.String()),
		zap.String("student_id", req.StudentID.String()),
		zap.String("class_id", req.ClassID.String()),
		zap.String("total", result.TotalAmount.String()),
		zap.Bool("full", result.Scholarship.IsFullScholarship),
		zap.Int("auto_settled", len(result.AutoSettled)),
	)
	publish(ctx, s.publisher, s.logger, result.AutoSettled)

	return result, nil
}

// autoSettle closes an obligation the grant has just fully covered. What the
// scholarship does not already cover is paid by the system actor.
func (s *ScholarshipService) autoSettle(ctx context.Context, tx repository.Repositories, o *domain.TuitionObligation, grant *domain.Scholarship, now time.Time) (domain.ObligationSettledEvent, error) {
	remaining := o.Remaining()
	if !remaining.IsPositive() {
		if err := tx.Obligations().Update(ctx, o); err != nil {
			return domain.ObligationSettledEvent{}, err
		}
		return domain.NewSettledEvent(o, decimal.Zero, domain.SettlementSourceScholarship, nil, now), nil
	}

	if _, err := applyPaymentTx(ctx, tx, o, paymentEntry{
		amount: remaining,
		actor:  domain.SystemActor,
		note:   fmt.Sprintf("full scholarship %q", grant.Name),
		at:     now,
	}); err != nil {
		return domain.ObligationSettledEvent{}, err
	}

	return domain.NewSettledEvent(o, remaining, domain.SettlementSourceScholarship, nil, now), nil
}

// GrantBulk runs each row in its own transaction. Duplicate grants are
// skipped; any other failure is reported against its 1-based row number.
func (s *ScholarshipService) GrantBulk(ctx context.Context, rows []*domain.GrantScholarshipRequest) (*domain.BulkGrantResult, error) {
	result := &domain.BulkGrantResult{
		Failed:      []domain.BulkGrantRowError{},
		AutoSettled: []domain.ObligationSettledEvent{},
	}

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		res, err := s.Grant(ctx, row)
		switch {
		case err == nil:
			result.Granted++
			result.AutoSettled = append(result.AutoSettled, res.AutoSettled...)
		case customError.Is(err, customError.ErrDuplicateGrant):
			result.Skipped++
		default:
			result.Failed = append(result.Failed, domain.BulkGrantRowError{Row: i + 1, Error: err.Error()})
		}
	}

	s.logger.Info("bulk scholarship import finished",
		zap.Int("rows", len(rows)),
		zap.Int("granted", result.Granted),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", len(result.Failed)),
	)

	return result, nil
}

// Revoke deletes one grant and reconciles the pair's obligations to what is
// left. Payments already recorded are never reversed, so a PAID obligation
// can fall back to PARTIAL or UNPAID.
func (s *ScholarshipService) Revoke(ctx context.Context, id uuid.UUID) (*domain.RevokeResult, error) {
	var result *domain.RevokeResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		result = nil
		now := s.clock.Now()

		grant, err := tx.Scholarships().GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return customError.WrapScholarshipNotFound(id)
			}
			return err
		}
		if err := tx.Scholarships().LockPair(ctx, grant.StudentID, grant.ClassID); err != nil {
			return err
		}

		obligations, err := tx.Obligations().ListByStudentClassForUpdate(ctx, grant.StudentID, grant.ClassID)
		if err != nil {
			return err
		}

		if err := tx.Scholarships().Delete(ctx, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				// revoked by a concurrent call while we waited for the pair lock
				return customError.WrapScholarshipNotFound(id)
			}
			return err
		}

		left, err := tx.Scholarships().ListByStudentClass(ctx, grant.StudentID, grant.ClassID)
		if err != nil {
			return err
		}
		total := domain.SumNominal(left)

		periodFee, known, err := classPeriodFee(ctx, tx, grant.ClassID, nil)
		if err != nil {
			return err
		}
		isFull := known && len(left) > 0 && total.GreaterThanOrEqual(periodFee)
		if err := tx.Scholarships().SetFullFlag(ctx, grant.StudentID, grant.ClassID, isFull); err != nil {
			return err
		}

		for _, o := range obligations {
			o.ScholarshipAmount = total
			o.Recompute()
			o.UpdatedAt = now
			if err := tx.Obligations().Update(ctx, o); err != nil {
				return err
			}
		}

		result = &domain.RevokeResult{
			Scholarship:    grant,
			TotalAmount:    total,
			RecomputedRows: len(obligations),
		}
		return nil
	})
	if err != nil {
		return nil, dbError(err)
	}

	s.logger.Info("scholarship revoked",
		zap.String("scholarship_id", id.String()),
		zap.String("total", result.TotalAmount.String()),
		zap.Int("recomputed", result.RecomputedRows),
	)

	return result, nil
}

func (s *ScholarshipService) List(ctx context.Context, studentID, classID uuid.UUID) ([]*domain.Scholarship, error) {
	grants, err := s.store.Scholarships().ListByStudentClass(ctx, studentID, classID)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return grants, nil
}

// classPeriodFee resolves the per-period fee of a class: the fee of its most
// recent obligation, else the caller's fallback. known is false when neither exists.
func classPeriodFee(ctx context.Context, tx repository.Repositories, classID uuid.UUID, fallback *decimal.Decimal) (decimal.Decimal, bool, error) {
	fee, ok, err := tx.Obligations().GetClassPeriodFee(ctx, classID)
	if err != nil {
		return decimal.Zero, false, err
	}
	if ok {
		return fee, true, nil
	}
	if fallback != nil && fallback.IsPositive() {
		return *fallback, true, nil
	}
	return decimal.Zero, false, nil
}
