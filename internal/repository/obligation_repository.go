package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/segyhp/tuition-engine/internal/domain"
)

const obligationColumns = `id, student_id, class_id, period_label, period_year, fee_amount, scholarship_amount,
	discount_amount, discount_id, paid_amount, status, due_date, pending_payment_request_id, created_at, updated_at`

const obligationPeriodIndex = "uniq_tuition_obligations_period"

type obligationRepository struct {
	q sqlx.ExtContext
}

func (r *obligationRepository) Create(ctx context.Context, o *domain.TuitionObligation) error {
	query := `
		INSERT INTO tuition_obligations (` + obligationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.q.ExecContext(ctx, query,
		o.ID,
		o.StudentID,
		o.ClassID,
		o.PeriodLabel,
		o.PeriodYear,
		o.FeeAmount,
		o.ScholarshipAmount,
		o.DiscountAmount,
		o.DiscountID,
		o.PaidAmount,
		o.Status,
		o.DueDate,
		o.PendingPaymentRequestID,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if isUniqueViolation(err, obligationPeriodIndex) {
		return ErrDuplicateObligation
	}

	return err
}

func (r *obligationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.TuitionObligation, error) {
	return r.get(ctx, id, false)
}

func (r *obligationRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.TuitionObligation, error) {
	return r.get(ctx, id, true)
}

func (r *obligationRepository) get(ctx context.Context, id uuid.UUID, forUpdate bool) (*domain.TuitionObligation, error) {
	query := `SELECT ` + obligationColumns + ` FROM tuition_obligations WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var o domain.TuitionObligation
	if err := sqlx.GetContext(ctx, r.q, &o, query, id); err != nil {
		return nil, notFound(err)
	}

	return &o, nil
}

func (r *obligationRepository) ListByIDsForUpdate(ctx context.Context, ids []uuid.UUID) ([]*domain.TuitionObligation, error) {
	if len(ids) == 0 {
		return []*domain.TuitionObligation{}, nil
	}

	query := `
		SELECT ` + obligationColumns + `
		FROM tuition_obligations
		WHERE id = ANY($1::uuid[])
		ORDER BY id
		FOR UPDATE
	`

	return r.selectMany(ctx, query, pq.Array(uuidStrings(ids)))
}

func (r *obligationRepository) Find(ctx context.Context, filter domain.ObligationFilter) ([]*domain.TuitionObligation, error) {
	var (
		conds []string
		args  []interface{}
	)

	if filter.StudentID != nil {
		args = append(args, *filter.StudentID)
		conds = append(conds, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.ClassID != nil {
		args = append(args, *filter.ClassID)
		conds = append(conds, fmt.Sprintf("class_id = $%d", len(args)))
	}
	if filter.PeriodLabel != "" {
		args = append(args, filter.PeriodLabel)
		conds = append(conds, fmt.Sprintf("period_label = $%d", len(args)))
	}
	if filter.PeriodYear != 0 {
		args = append(args, filter.PeriodYear)
		conds = append(conds, fmt.Sprintf("period_year = $%d", len(args)))
	}

	query := `SELECT ` + obligationColumns + ` FROM tuition_obligations`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY period_year, due_date, id`

	return r.selectMany(ctx, query, args...)
}

func (r *obligationRepository) ListByStudentClassForUpdate(ctx context.Context, studentID, classID uuid.UUID) ([]*domain.TuitionObligation, error) {
	query := `
		SELECT ` + obligationColumns + `
		FROM tuition_obligations
		WHERE student_id = $1 AND class_id = $2
		ORDER BY id
		FOR UPDATE
	`

	return r.selectMany(ctx, query, studentID, classID)
}

func (r *obligationRepository) ListByPaymentRequest(ctx context.Context, requestID uuid.UUID) ([]*domain.TuitionObligation, error) {
	query := `
		SELECT ` + obligationColumns + `
		FROM tuition_obligations
		WHERE pending_payment_request_id = $1
		ORDER BY id
	`

	return r.selectMany(ctx, query, requestID)
}

func (r *obligationRepository) ListForDiscountScope(ctx context.Context, classID *uuid.UUID, periods []string, forUpdate bool) ([]*domain.TuitionObligation, error) {
	query := `
		SELECT ` + obligationColumns + `
		FROM tuition_obligations
		WHERE period_label = ANY($1)
		  AND ($2::uuid IS NULL OR class_id = $2)
		ORDER BY id
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	return r.selectMany(ctx, query, pq.StringArray(periods), classID)
}

func (r *obligationRepository) ListByDiscountForUpdate(ctx context.Context, discountID uuid.UUID) ([]*domain.TuitionObligation, error) {
	query := `
		SELECT ` + obligationColumns + `
		FROM tuition_obligations
		WHERE discount_id = $1
		ORDER BY id
		FOR UPDATE
	`

	return r.selectMany(ctx, query, discountID)
}

func (r *obligationRepository) GetClassPeriodFee(ctx context.Context, classID uuid.UUID) (decimal.Decimal, bool, error) {
	query := `
		SELECT fee_amount
		FROM tuition_obligations
		WHERE class_id = $1
		ORDER BY period_year DESC, due_date DESC
		LIMIT 1
	`

	var fee decimal.Decimal
	if err := sqlx.GetContext(ctx, r.q, &fee, query, classID); err != nil {
		if errors.Is(notFound(err), ErrNotFound) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}

	return fee, true, nil
}

func (r *obligationRepository) Update(ctx context.Context, o *domain.TuitionObligation) error {
	query := `
		UPDATE tuition_obligations
		SET scholarship_amount = $2, discount_amount = $3, discount_id = $4, paid_amount = $5,
		    status = $6, pending_payment_request_id = $7, updated_at = $8
		WHERE id = $1
	`

	res, err := r.q.ExecContext(ctx, query,
		o.ID,
		o.ScholarshipAmount,
		o.DiscountAmount,
		o.DiscountID,
		o.PaidAmount,
		o.Status,
		o.PendingPaymentRequestID,
		o.UpdatedAt,
	)
	if err != nil {
		return err
	}

	return expectOneRow(res)
}

func (r *obligationRepository) ReleaseLocks(ctx context.Context, requestID uuid.UUID) (int, error) {
	query := `
		UPDATE tuition_obligations
		SET pending_payment_request_id = NULL
		WHERE pending_payment_request_id = $1
	`

	res, err := r.q.ExecContext(ctx, query, requestID)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	return int(n), err
}

func (r *obligationRepository) selectMany(ctx context.Context, query string, args ...interface{}) ([]*domain.TuitionObligation, error) {
	obligations := []*domain.TuitionObligation{}
	if err := sqlx.SelectContext(ctx, r.q, &obligations, query, args...); err != nil {
		return nil, err
	}
	return obligations, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func expectOneRow(res rowsAffecter) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
