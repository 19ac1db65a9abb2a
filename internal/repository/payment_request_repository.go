package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/segyhp/tuition-engine/internal/domain"
)

const paymentRequestColumns = `id, student_id, receiving_account_id, base_amount, unique_code, total_amount, status,
	idempotency_key, settled_account_id, failure_reason, created_at, expires_at, verified_at, updated_at`

const (
	openTotalIndex      = "uniq_payment_requests_open_total"
	idempotencyKeyIndex = "uniq_payment_requests_idempotency"
)

type paymentRequestRepository struct {
	q sqlx.ExtContext
}

func (r *paymentRequestRepository) Create(ctx context.Context, pr *domain.PaymentRequest) error {
	query := `
		INSERT INTO payment_requests (` + paymentRequestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.q.ExecContext(ctx, query,
		pr.ID,
		pr.StudentID,
		pr.ReceivingAccountID,
		pr.BaseAmount,
		pr.UniqueCode,
		pr.TotalAmount,
		pr.Status,
		pr.IdempotencyKey,
		pr.SettledAccountID,
		pr.FailureReason,
		pr.CreatedAt,
		pr.ExpiresAt,
		pr.VerifiedAt,
		pr.UpdatedAt,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err, openTotalIndex):
			return ErrDuplicateTotal
		case isUniqueViolation(err, idempotencyKeyIndex):
			return ErrDuplicateIdempotencyKey
		}
		return err
	}

	itemQuery := `
		INSERT INTO payment_request_items (payment_request_id, obligation_id, allocated_amount)
		VALUES ($1, $2, $3)
	`
	for _, item := range pr.Items {
		if _, err := r.q.ExecContext(ctx, itemQuery, pr.ID, item.ObligationID, item.AllocatedAmount); err != nil {
			return err
		}
	}

	return nil
}

func (r *paymentRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentRequest, error) {
	return r.get(ctx, `WHERE id = $1`, false, id)
}

func (r *paymentRequestRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.PaymentRequest, error) {
	return r.get(ctx, `WHERE id = $1`, true, id)
}

func (r *paymentRequestRepository) GetByIdempotencyKey(ctx context.Context, studentID uuid.UUID, key string) (*domain.PaymentRequest, error) {
	return r.get(ctx, `WHERE student_id = $1 AND idempotency_key = $2`, false, studentID, key)
}

func (r *paymentRequestRepository) get(ctx context.Context, where string, forUpdate bool, args ...interface{}) (*domain.PaymentRequest, error) {
	query := `SELECT ` + paymentRequestColumns + ` FROM payment_requests ` + where
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var pr domain.PaymentRequest
	if err := sqlx.GetContext(ctx, r.q, &pr, query, args...); err != nil {
		return nil, notFound(err)
	}

	items, err := r.items(ctx, pr.ID)
	if err != nil {
		return nil, err
	}
	pr.Items = items

	return &pr, nil
}

func (r *paymentRequestRepository) items(ctx context.Context, requestID uuid.UUID) ([]*domain.PaymentRequestItem, error) {
	query := `
		SELECT payment_request_id, obligation_id, allocated_amount
		FROM payment_request_items
		WHERE payment_request_id = $1
		ORDER BY obligation_id
	`

	items := []*domain.PaymentRequestItem{}
	if err := sqlx.SelectContext(ctx, r.q, &items, query, requestID); err != nil {
		return nil, err
	}

	return items, nil
}

func (r *paymentRequestRepository) LockAccount(ctx context.Context, accountID string) error {
	_, err := r.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "payment-request-account:"+accountID)
	return err
}

func (r *paymentRequestRepository) ListOpenTotals(ctx context.Context, accountID string) ([]decimal.Decimal, error) {
	query := `
		SELECT total_amount
		FROM payment_requests
		WHERE receiving_account_id = $1 AND status IN ('PENDING', 'VERIFYING')
	`

	totals := []decimal.Decimal{}
	if err := sqlx.SelectContext(ctx, r.q, &totals, query, accountID); err != nil {
		return nil, err
	}

	return totals, nil
}

func (r *paymentRequestRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*domain.PaymentRequest, error) {
	query := `
		SELECT ` + paymentRequestColumns + `
		FROM payment_requests
		WHERE status = 'PENDING' AND expires_at <= $1
		ORDER BY expires_at, id
		LIMIT $2
	`

	requests := []*domain.PaymentRequest{}
	if err := sqlx.SelectContext(ctx, r.q, &requests, query, now, limit); err != nil {
		return nil, err
	}

	return requests, nil
}

func (r *paymentRequestRepository) UpdateStatus(ctx context.Context, pr *domain.PaymentRequest) error {
	query := `
		UPDATE payment_requests
		SET status = $2, settled_account_id = $3, failure_reason = $4, verified_at = $5, updated_at = $6
		WHERE id = $1
	`

	res, err := r.q.ExecContext(ctx, query,
		pr.ID,
		pr.Status,
		pr.SettledAccountID,
		pr.FailureReason,
		pr.VerifiedAt,
		pr.UpdatedAt,
	)
	if err != nil {
		return err
	}

	return expectOneRow(res)
}
