package service

import (
	"context"
	"errors"
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

// EventPublisher receives settled-obligation events after the transaction
// that produced them has committed.
type EventPublisher interface {
	Publish(ctx context.Context, events []domain.ObligationSettledEvent) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, []domain.ObligationSettledEvent) error { return nil }

// LedgerService owns tuition obligations and the manual payment path.
type LedgerService struct {
	store     repository.Store
	clock     utils.Clock
	publisher EventPublisher
	logger    *zap.Logger
}

func NewLedgerService(store repository.Store, clock utils.Clock, publisher EventPublisher, logger *zap.Logger) *LedgerService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &LedgerService{
		store:     store,
		clock:     clock,
		publisher: publisher,
		logger:    logger,
	}
}

// CreateObligation seeds one billing period. Obligation generation itself
// belongs to the enrollment side; this is its entry point into the ledger.
func (s *LedgerService) CreateObligation(ctx context.Context, req *domain.CreateObligationRequest) (*domain.TuitionObligation, error) {
	if req.FeeAmount.IsNegative() {
		return nil, customError.WrapInvalidAmount(req.FeeAmount)
	}
	if strings.TrimSpace(req.PeriodLabel) == "" {
		return nil, customError.WrapValidation("period_label is required")
	}

	now := s.clock.Now()
	o := &domain.TuitionObligation{
		ID:                uuid.New(),
		StudentID:         req.StudentID,
		ClassID:           req.ClassID,
		PeriodLabel:       strings.TrimSpace(req.PeriodLabel),
		PeriodYear:        req.PeriodYear,
		FeeAmount:         req.FeeAmount,
		ScholarshipAmount: decimal.Zero,
		DiscountAmount:    decimal.Zero,
		PaidAmount:        decimal.Zero,
		DueDate:           req.DueDate,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		// a new period inherits the pair's current scholarship total; the pair
		// lock keeps a concurrent grant from changing it underneath
		if err := tx.Scholarships().LockPair(ctx, o.StudentID, o.ClassID); err != nil {
			return err
		}
		grants, err := tx.Scholarships().ListByStudentClass(ctx, o.StudentID, o.ClassID)
		if err != nil {
			return err
		}
		o.ScholarshipAmount = domain.SumNominal(grants)
		o.Recompute()

		return tx.Obligations().Create(ctx, o)
	})
	if errors.Is(err, repository.ErrDuplicateObligation) {
		return nil, customError.WrapDuplicateObligation(o.StudentID, o.PeriodLabel, o.PeriodYear)
	}
	if err != nil {
		return nil, dbError(err)
	}

	s.logger.Info("obligation created",
		zap.String("obligation_id", o.ID.String()),
		zap.String("student_id", o.StudentID.String()),
		zap.String("fee", o.FeeAmount.String()),
	)

	return o, nil
}

func (s *LedgerService) GetObligation(ctx context.Context, id uuid.UUID) (*domain.TuitionObligation, error) {
	o, err := s.store.Obligations().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, customError.WrapObligationNotFound(id)
		}
		return nil, customError.WrapDatabaseError(err)
	}
	return o, nil
}

func (s *LedgerService) FindObligations(ctx context.Context, filter domain.ObligationFilter) ([]*domain.TuitionObligation, error) {
	obligations, err := s.store.Obligations().Find(ctx, filter)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return obligations, nil
}

// ListPayments returns the payment history of an obligation, oldest first.
func (s *LedgerService) ListPayments(ctx context.Context, obligationID uuid.UUID) ([]*domain.PaymentRecord, error) {
	if _, err := s.GetObligation(ctx, obligationID); err != nil {
		return nil, err
	}

	records, err := s.store.Payments().ListByObligation(ctx, obligationID)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return records, nil
}

// ApplyPayment records a counter payment against one obligation.
func (s *LedgerService) ApplyPayment(ctx context.Context, obligationID uuid.UUID, actor string, req *domain.ApplyPaymentRequest) (*domain.PaymentResult, error) {
	if !req.Amount.IsPositive() {
		return nil, customError.WrapInvalidAmount(req.Amount)
	}
	if actor == "" {
		actor = domain.SystemActor
	}

	var result *domain.PaymentResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		result = nil

		o, err := tx.Obligations().GetByIDForUpdate(ctx, obligationID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return customError.WrapObligationNotFound(obligationID)
			}
			return err
		}

		now := s.clock.Now()
		res, err := applyPaymentTx(ctx, tx, o, paymentEntry{
			amount: req.Amount,
			actor:  actor,
			note:   req.Note,
			at:     now,
		})
		if err != nil {
			return err
		}

		if res.NewStatus == domain.ObligationStatusPaid {
			res.Events = append(res.Events, domain.NewSettledEvent(o, req.Amount, domain.SettlementSourceManual, nil, now))
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, dbError(err)
	}

	s.logger.Info("payment applied",
		zap.String("obligation_id", obligationID.String()),
		zap.String("amount", req.Amount.String()),
		zap.String("actor", actor),
		zap.String("status", result.NewStatus),
	)
	publish(ctx, s.publisher, s.logger, result.Events)

	return result, nil
}

type paymentEntry struct {
	amount    decimal.Decimal
	actor     string
	note      string
	requestID *uuid.UUID
	at        time.Time
}

// applyPaymentTx is the single ledger write path: every payment, manual or
// system, goes through here inside the caller's transaction. o must already
// be locked; any pending field changes on it are written by the same update.
func applyPaymentTx(ctx context.Context, tx repository.Repositories, o *domain.TuitionObligation, entry paymentEntry) (*domain.PaymentResult, error) {
	if !entry.amount.IsPositive() {
		return nil, customError.WrapInvalidAmount(entry.amount)
	}
	if o.IsPaid() {
		return nil, customError.WrapAlreadySettled("obligation", o.ID).WithDetail("status", o.Status)
	}
	remaining := o.Remaining()
	if entry.amount.GreaterThan(remaining) {
		return nil, customError.WrapOverpayment(o.ID, entry.amount, remaining)
	}

	result := &domain.PaymentResult{
		ObligationID:   o.ID,
		PreviousStatus: o.Status,
		PreviousPaid:   o.PaidAmount,
	}

	o.PaidAmount = o.PaidAmount.Add(entry.amount)
	o.Recompute()
	o.UpdatedAt = entry.at
	if err := tx.Obligations().Update(ctx, o); err != nil {
		return nil, err
	}

	record := &domain.PaymentRecord{
		ID:               uuid.New(),
		ObligationID:     o.ID,
		PaymentRequestID: entry.requestID,
		Amount:           entry.amount,
		Actor:            entry.actor,
		Note:             entry.note,
		CreatedAt:        entry.at,
	}
	if err := tx.Payments().Create(ctx, record); err != nil {
		return nil, err
	}

	result.NewStatus = o.Status
	result.NewPaid = o.PaidAmount
	result.EffectiveFee = o.EffectiveFee()
	result.Remaining = o.Remaining()
	result.Record = record

	return result, nil
}

// publish hands events to the publisher. The ledger has already committed,
// so a delivery failure is logged and not returned.
func publish(ctx context.Context, publisher EventPublisher, logger *zap.Logger, events []domain.ObligationSettledEvent) {
	if len(events) == 0 {
		return
	}
	if err := publisher.Publish(ctx, events); err != nil {
		logger.Error("failed to publish settled events",
			zap.Int("count", len(events)),
			zap.Error(err),
		)
	}
}

// dbError passes business errors through and wraps everything else as a database failure.
func dbError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := customError.As(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return customError.WrapDatabaseError(err)
}
