package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	ObligationStatusUnpaid  = "UNPAID"
	ObligationStatusPartial = "PARTIAL"
	ObligationStatusPaid    = "PAID"
)

// TuitionObligation is one billing period for one student in one class enrollment.
type TuitionObligation struct {
	ID                      uuid.UUID       `json:"id" db:"id"`
	StudentID               uuid.UUID       `json:"student_id" db:"student_id"`
	ClassID                 uuid.UUID       `json:"class_id" db:"class_id"`
	PeriodLabel             string          `json:"period_label" db:"period_label"`
	PeriodYear              int             `json:"period_year" db:"period_year"`
	FeeAmount               decimal.Decimal `json:"fee_amount" db:"fee_amount"`
	ScholarshipAmount       decimal.Decimal `json:"scholarship_amount" db:"scholarship_amount"`
	DiscountAmount          decimal.Decimal `json:"discount_amount" db:"discount_amount"`
	DiscountID              *uuid.UUID      `json:"discount_id,omitempty" db:"discount_id"`
	PaidAmount              decimal.Decimal `json:"paid_amount" db:"paid_amount"`
	Status                  string          `json:"status" db:"status"` // UNPAID, PARTIAL, PAID
	DueDate                 time.Time       `json:"due_date" db:"due_date"`
	PendingPaymentRequestID *uuid.UUID      `json:"pending_payment_request_id,omitempty" db:"pending_payment_request_id"`
	CreatedAt               time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at" db:"updated_at"`
}

// EffectiveFee returns the amount owed after scholarship and discount reductions, never below zero.
func EffectiveFee(fee, scholarship, discount decimal.Decimal) decimal.Decimal {
	effective := fee.Sub(scholarship).Sub(discount)
	if effective.IsNegative() {
		return decimal.Zero
	}
	return effective
}

// DeriveStatus is the only place the UNPAID/PARTIAL/PAID rule lives.
func DeriveStatus(fee, scholarship, discount, paid decimal.Decimal) string {
	effective := EffectiveFee(fee, scholarship, discount)
	switch {
	case paid.GreaterThanOrEqual(effective):
		return ObligationStatusPaid
	case paid.IsPositive():
		return ObligationStatusPartial
	default:
		return ObligationStatusUnpaid
	}
}

func (o *TuitionObligation) EffectiveFee() decimal.Decimal {
	return EffectiveFee(o.FeeAmount, o.ScholarshipAmount, o.DiscountAmount)
}

// Remaining is what is still owed, never negative.
func (o *TuitionObligation) Remaining() decimal.Decimal {
	remaining := o.EffectiveFee().Sub(o.PaidAmount)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// Recompute re-derives Status from the amount fields.
func (o *TuitionObligation) Recompute() {
	o.Status = DeriveStatus(o.FeeAmount, o.ScholarshipAmount, o.DiscountAmount, o.PaidAmount)
}

func (o *TuitionObligation) IsPaid() bool {
	return o.Status == ObligationStatusPaid
}

// IsLockedBy reports whether the obligation's soft lock points at the given payment request.
func (o *TuitionObligation) IsLockedBy(requestID uuid.UUID) bool {
	return o.PendingPaymentRequestID != nil && *o.PendingPaymentRequestID == requestID
}

// ObligationFilter narrows obligation lookups. Zero values are ignored.
type ObligationFilter struct {
	StudentID   *uuid.UUID
	ClassID     *uuid.UUID
	PeriodLabel string
	PeriodYear  int
}

// DTOs for requests and responses

type CreateObligationRequest struct {
	StudentID   uuid.UUID       `json:"student_id" validate:"required"`
	ClassID     uuid.UUID       `json:"class_id" validate:"required"`
	PeriodLabel string          `json:"period_label" validate:"required"`
	PeriodYear  int             `json:"period_year" validate:"required,gt=2000"`
	FeeAmount   decimal.Decimal `json:"fee_amount" validate:"gte=0"`
	DueDate     time.Time       `json:"due_date" validate:"required"`
}

type ApplyPaymentRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
	Note   string          `json:"note" validate:"max=500"`
}

type PaymentResult struct {
	ObligationID   uuid.UUID                `json:"obligation_id"`
	PreviousStatus string                   `json:"previous_status"`
	NewStatus      string                   `json:"new_status"`
	PreviousPaid   decimal.Decimal          `json:"previous_paid"`
	NewPaid        decimal.Decimal          `json:"new_paid"`
	EffectiveFee   decimal.Decimal          `json:"effective_fee"`
	Remaining      decimal.Decimal          `json:"remaining"`
	Record         *PaymentRecord           `json:"record"`
	Events         []ObligationSettledEvent `json:"events,omitempty"`
}
