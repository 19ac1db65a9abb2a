package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	PaymentRequestStatusPending   = "PENDING"
	PaymentRequestStatusVerifying = "VERIFYING"
	PaymentRequestStatusVerified  = "VERIFIED"
	PaymentRequestStatusExpired   = "EXPIRED"
	PaymentRequestStatusCancelled = "CANCELLED"
	PaymentRequestStatusFailed    = "FAILED"
)

// PaymentRequest groups outstanding obligations into one transfer instruction.
type PaymentRequest struct {
	ID                 uuid.UUID             `json:"id" db:"id"`
	StudentID          uuid.UUID             `json:"student_id" db:"student_id"`
	ReceivingAccountID string                `json:"receiving_account_id" db:"receiving_account_id"`
	BaseAmount         decimal.Decimal       `json:"base_amount" db:"base_amount"`
	UniqueCode         int                   `json:"unique_code" db:"unique_code"`
	TotalAmount        decimal.Decimal       `json:"total_amount" db:"total_amount"`
	Status             string                `json:"status" db:"status"`
	IdempotencyKey     *string               `json:"-" db:"idempotency_key"`
	SettledAccountID   *string               `json:"settled_account_id,omitempty" db:"settled_account_id"`
	FailureReason      *string               `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt          time.Time             `json:"created_at" db:"created_at"`
	ExpiresAt          time.Time             `json:"expires_at" db:"expires_at"`
	VerifiedAt         *time.Time            `json:"verified_at,omitempty" db:"verified_at"`
	UpdatedAt          time.Time             `json:"updated_at" db:"updated_at"`
	Items              []*PaymentRequestItem `json:"items" db:"-"`
}

// PaymentRequestItem is the share of a request allocated to one obligation.
type PaymentRequestItem struct {
	PaymentRequestID uuid.UUID       `json:"payment_request_id" db:"payment_request_id"`
	ObligationID     uuid.UUID       `json:"obligation_id" db:"obligation_id"`
	AllocatedAmount  decimal.Decimal `json:"allocated_amount" db:"allocated_amount"`
}

// IsTerminalPaymentRequestStatus reports whether no further transition is possible.
func IsTerminalPaymentRequestStatus(status string) bool {
	switch status {
	case PaymentRequestStatusVerified, PaymentRequestStatusExpired,
		PaymentRequestStatusCancelled, PaymentRequestStatusFailed:
		return true
	}
	return false
}

func (r *PaymentRequest) IsTerminal() bool {
	return IsTerminalPaymentRequestStatus(r.Status)
}

// IsExpiredAt reports whether a PENDING request has run out of time.
func (r *PaymentRequest) IsExpiredAt(now time.Time) bool {
	return r.Status == PaymentRequestStatusPending && !now.Before(r.ExpiresAt)
}

// EffectiveStatus is the status an observer at now should see: a PENDING
// request past its expiry is EXPIRED whether or not the sweeper has run.
func (r *PaymentRequest) EffectiveStatus(now time.Time) string {
	if r.IsExpiredAt(now) {
		return PaymentRequestStatusExpired
	}
	return r.Status
}

func (r *PaymentRequest) ObligationIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(r.Items))
	for _, item := range r.Items {
		ids = append(ids, item.ObligationID)
	}
	return ids
}

type CreatePaymentRequestRequest struct {
	StudentID          uuid.UUID   `json:"student_id" validate:"required"`
	ObligationIDs      []uuid.UUID `json:"obligation_ids" validate:"required,min=1,max=24"`
	ReceivingAccountID string      `json:"receiving_account_id" validate:"max=64"`
	IdempotencyKey     string      `json:"-" validate:"max=128"`
}

type SettlePaymentRequestRequest struct {
	ReceivingAccountID string `json:"receiving_account_id" validate:"max=64"`
}

type FailPaymentRequestRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type CreatePaymentRequestResponse struct {
	PaymentRequest *PaymentRequest `json:"payment_request"`
	Replayed       bool            `json:"replayed"`
}

type SettleResult struct {
	PaymentRequest *PaymentRequest          `json:"payment_request"`
	Payments       []*PaymentResult         `json:"payments"`
	Events         []ObligationSettledEvent `json:"events"`
}
