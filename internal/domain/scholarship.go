package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Scholarship is a recurring reduction for one student in one class.
type Scholarship struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	StudentID         uuid.UUID       `json:"student_id" db:"student_id"`
	ClassID           uuid.UUID       `json:"class_id" db:"class_id"`
	Name              string          `json:"name" db:"name"`
	Nominal           decimal.Decimal `json:"nominal" db:"nominal"`
	IsFullScholarship bool            `json:"is_full_scholarship" db:"is_full_scholarship"`
	CreatedBy         string          `json:"created_by" db:"created_by"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// SumNominal totals the nominal values of a set of grants.
func SumNominal(grants []*Scholarship) decimal.Decimal {
	total := decimal.Zero
	for _, g := range grants {
		total = total.Add(g.Nominal)
	}
	return total
}

type GrantScholarshipRequest struct {
	StudentID         uuid.UUID        `json:"student_id" validate:"required"`
	ClassID           uuid.UUID        `json:"class_id" validate:"required"`
	Name              string           `json:"name" validate:"required,max=200"`
	Nominal           decimal.Decimal  `json:"nominal" validate:"gt=0"`
	FallbackPeriodFee *decimal.Decimal `json:"fallback_period_fee,omitempty"`
	Actor             string           `json:"-"`
}

type GrantResult struct {
	Scholarship *Scholarship             `json:"scholarship"`
	PeriodFee   *decimal.Decimal         `json:"period_fee,omitempty"`
	TotalAmount decimal.Decimal          `json:"total_amount"`
	AutoSettled []ObligationSettledEvent `json:"auto_settled"`
}

type BulkGrantRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type BulkGrantResult struct {
	Granted     int                      `json:"granted"`
	Skipped     int                      `json:"skipped"`
	Failed      []BulkGrantRowError      `json:"failed,omitempty"`
	AutoSettled []ObligationSettledEvent `json:"auto_settled,omitempty"`
}

type RevokeResult struct {
	Scholarship    *Scholarship    `json:"scholarship"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	RecomputedRows int             `json:"recomputed_rows"`
}
