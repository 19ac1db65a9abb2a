package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	SettlementSourceManual         = "manual"
	SettlementSourcePaymentRequest = "payment_request"
	SettlementSourceScholarship    = "scholarship"
	SettlementSourceDiscount       = "discount"
)

// ObligationSettledEvent is emitted for every obligation a settlement touched,
// for the messaging collaborator to pick up.
type ObligationSettledEvent struct {
	ObligationID     uuid.UUID       `json:"obligation_id"`
	StudentID        uuid.UUID       `json:"student_id"`
	ClassID          uuid.UUID       `json:"class_id"`
	PeriodLabel      string          `json:"period_label"`
	PeriodYear       int             `json:"period_year"`
	AmountApplied    decimal.Decimal `json:"amount_applied"`
	StatusAfter      string          `json:"status_after"`
	Source           string          `json:"source"`
	PaymentRequestID *uuid.UUID      `json:"payment_request_id,omitempty"`
	OccurredAt       time.Time       `json:"occurred_at"`
}

func NewSettledEvent(o *TuitionObligation, amount decimal.Decimal, source string, requestID *uuid.UUID, at time.Time) ObligationSettledEvent {
	return ObligationSettledEvent{
		ObligationID:     o.ID,
		StudentID:        o.StudentID,
		ClassID:          o.ClassID,
		PeriodLabel:      o.PeriodLabel,
		PeriodYear:       o.PeriodYear,
		AmountApplied:    amount,
		StatusAfter:      o.Status,
		Source:           source,
		PaymentRequestID: requestID,
		OccurredAt:       at,
	}
}
