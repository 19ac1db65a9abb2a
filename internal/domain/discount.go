package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Discount is a campaign definition. A nil ClassID means school-wide.
type Discount struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	TargetPeriods pq.StringArray  `json:"target_periods" db:"target_periods"`
	ClassID       *uuid.UUID      `json:"class_id,omitempty" db:"class_id"`
	Active        bool            `json:"active" db:"active"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

func (d *Discount) IsSchoolWide() bool {
	return d.ClassID == nil
}

// Targets reports whether the discount's scope and period set cover the obligation.
func (d *Discount) Targets(o *TuitionObligation) bool {
	if d.ClassID != nil && *d.ClassID != o.ClassID {
		return false
	}
	for _, p := range d.TargetPeriods {
		if p == o.PeriodLabel {
			return true
		}
	}
	return false
}

type CreateDiscountRequest struct {
	Name          string          `json:"name" validate:"required,max=200"`
	Amount        decimal.Decimal `json:"amount" validate:"gt=0"`
	TargetPeriods []string        `json:"target_periods" validate:"required,min=1,dive,required"`
	ClassID       *uuid.UUID      `json:"class_id,omitempty"`
	Active        *bool           `json:"active,omitempty"`
}

type UpdateDiscountRequest struct {
	Name          *string          `json:"name,omitempty" validate:"omitempty,max=200"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	TargetPeriods []string         `json:"target_periods,omitempty" validate:"omitempty,min=1,dive,required"`
	Active        *bool            `json:"active,omitempty"`
}

// DiscountAllocation is what one obligation would receive from a discount.
type DiscountAllocation struct {
	ObligationID    uuid.UUID       `json:"obligation_id"`
	StudentID       uuid.UUID       `json:"student_id"`
	ClassID         uuid.UUID       `json:"class_id"`
	PeriodLabel     string          `json:"period_label"`
	PeriodYear      int             `json:"period_year"`
	CurrentDiscount decimal.Decimal `json:"current_discount"`
	NewDiscount     decimal.Decimal `json:"new_discount"`
	EffectiveFee    decimal.Decimal `json:"effective_fee"`
	StatusAfter     string          `json:"status_after"`
}

type DiscountPreview struct {
	Discount            *Discount             `json:"discount"`
	Affected            []*DiscountAllocation `json:"affected"`
	TotalDiscountAmount decimal.Decimal       `json:"total_discount_amount"`
}

type DiscountApplyResult struct {
	DiscountID   uuid.UUID                `json:"discount_id"`
	UpdatedCount int                      `json:"updated_count"`
	TotalApplied decimal.Decimal          `json:"total_applied"`
	Events       []ObligationSettledEvent `json:"events,omitempty"`
}

type DiscountRemoveResult struct {
	DiscountID    uuid.UUID `json:"discount_id"`
	ReversedCount int       `json:"reversed_count"`
}
